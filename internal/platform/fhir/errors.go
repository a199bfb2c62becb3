package fhir

import (
	"errors"
	"fmt"
)

// Search error kinds. Every error returned from value parsing, chain
// resolution or context building wraps exactly one of these.
var (
	ErrUnknownParameter         = errors.New("unknown search parameter")
	ErrUnsupportedModifier      = errors.New("unsupported type/modifier combination")
	ErrInvalidChainSegment      = errors.New("invalid chained parameter")
	ErrInvalidEscaping          = errors.New("invalid escaping")
	ErrCompositeArity           = errors.New("composite component count mismatch")
	ErrMalformedValue           = errors.New("malformed search value")
	ErrInvalidInclusion         = errors.New("invalid inclusion parameter")
	ErrInvalidElement           = errors.New("invalid element name")
	ErrIncompatibleResultParams = errors.New("incompatible result parameters")
	ErrInvalidResultParameter   = errors.New("invalid result parameter")
	ErrUnknownResourceType      = errors.New("unknown resource type")
)

// Registry configuration errors.
var (
	ErrTenantNotFound       = errors.New("tenant configuration not found")
	ErrMissingDefaultTenant = errors.New("default tenant configuration missing")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrUnknownParameter, "UnknownParameter"},
	{ErrUnsupportedModifier, "UnsupportedTypeModifierCombination"},
	{ErrInvalidChainSegment, "InvalidChainSegment"},
	{ErrInvalidEscaping, "InvalidEscaping"},
	{ErrCompositeArity, "CompositeArityMismatch"},
	{ErrMalformedValue, "MalformedNumericOrDateValue"},
	{ErrInvalidInclusion, "InvalidInclusionSpecification"},
	{ErrInvalidElement, "InvalidElementName"},
	{ErrIncompatibleResultParams, "IncompatibleResultParameterCombination"},
	{ErrInvalidResultParameter, "InvalidResultParameter"},
	{ErrUnknownResourceType, "UnknownResourceType"},
}

// SearchError describes a failure to interpret one query parameter.
type SearchError struct {
	Code  string // parameter name as it appeared in the request
	Value string // offending raw value, if any
	Msg   string
	Err   error // one of the Err* kinds
}

func (e *SearchError) Error() string {
	switch {
	case e.Code != "" && e.Value != "":
		return fmt.Sprintf("%s: parameter '%s' value '%s': %s", e.Err, e.Code, e.Value, e.Msg)
	case e.Code != "":
		return fmt.Sprintf("%s: parameter '%s': %s", e.Err, e.Code, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Err, e.Msg)
	}
}

func (e *SearchError) Unwrap() error { return e.Err }

// Kind returns the stable name of the error kind, e.g. "UnknownParameter".
func (e *SearchError) Kind() string { return kindName(e.Err) }

func newSearchError(kind error, code, value, format string, args ...any) *SearchError {
	return &SearchError{Code: code, Value: value, Msg: fmt.Sprintf(format, args...), Err: kind}
}

// withCode reports err against the parameter name as the request spelled
// it, e.g. "subject:Patient.birthdate" rather than the "birthdate" segment.
func withCode(err error, code string) error {
	var se *SearchError
	if errors.As(err, &se) && se.Code != code {
		cp := *se
		cp.Code = code
		return &cp
	}
	return err
}

// IsStructural reports whether err indicates malformed input that must fail
// the request even in lenient mode.
func IsStructural(err error) bool {
	return errors.Is(err, ErrInvalidEscaping) || errors.Is(err, ErrCompositeArity)
}

func kindName(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Processing"
}

// Warning records a parameter skipped in lenient mode.
type Warning struct {
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newWarning(err error) Warning {
	w := Warning{Kind: kindName(err), Message: err.Error()}
	var se *SearchError
	if errors.As(err, &se) {
		w.Code = se.Code
	}
	return w
}
