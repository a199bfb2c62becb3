package fhir

import (
	"errors"
	"net/http"
)

// OperationOutcome severity levels per FHIR R4 spec.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4 spec.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
)

// issueTypes maps each search error kind onto its OperationOutcome code.
var issueTypes = map[error]string{
	ErrUnknownParameter:         IssueTypeNotSupported,
	ErrUnsupportedModifier:      IssueTypeNotSupported,
	ErrInvalidChainSegment:      IssueTypeInvalid,
	ErrInvalidEscaping:          IssueTypeStructure,
	ErrCompositeArity:           IssueTypeStructure,
	ErrMalformedValue:           IssueTypeValue,
	ErrInvalidInclusion:         IssueTypeInvalid,
	ErrInvalidElement:           IssueTypeValue,
	ErrIncompatibleResultParams: IssueTypeProcessing,
	ErrInvalidResultParameter:   IssueTypeValue,
	ErrUnknownResourceType:      IssueTypeNotSupported,
	ErrTenantNotFound:           IssueTypeNotFound,
}

type CodeableConcept struct {
	Text string `json:"text,omitempty"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return NewOutcomeBuilder().AddIssue(severity, code, diagnostics).Build()
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}

// OutcomeBuilder provides a fluent API for constructing OperationOutcome resources.
type OutcomeBuilder struct {
	outcome *OperationOutcome
}

// NewOutcomeBuilder creates a new OutcomeBuilder.
func NewOutcomeBuilder() *OutcomeBuilder {
	return &OutcomeBuilder{
		outcome: &OperationOutcome{
			ResourceType: "OperationOutcome",
			Issue:        []OperationOutcomeIssue{},
		},
	}
}

// AddIssue adds a single issue to the OperationOutcome.
func (b *OutcomeBuilder) AddIssue(severity, code, diagnostics string) *OutcomeBuilder {
	b.outcome.Issue = append(b.outcome.Issue, OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
	})
	return b
}

// AddSearchIssue adds an issue describing a search error or warning. The
// kind name goes in details and the parameter name in expression.
func (b *OutcomeBuilder) AddSearchIssue(severity, kind, param, diagnostics string, err error) *OutcomeBuilder {
	issue := OperationOutcomeIssue{
		Severity:    severity,
		Code:        IssueType(err),
		Details:     &CodeableConcept{Text: kind},
		Diagnostics: diagnostics,
	}
	if param != "" {
		issue.Expression = []string{param}
	}
	b.outcome.Issue = append(b.outcome.Issue, issue)
	return b
}

// Build returns the constructed OperationOutcome.
func (b *OutcomeBuilder) Build() *OperationOutcome {
	return b.outcome
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// IssueType returns the OperationOutcome issue code for err.
func IssueType(err error) string {
	for kind, code := range issueTypes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return IssueTypeProcessing
}

// OutcomeFromError renders a search error as an OperationOutcome.
func OutcomeFromError(err error) *OperationOutcome {
	var se *SearchError
	if errors.As(err, &se) {
		return NewOutcomeBuilder().AddSearchIssue(IssueSeverityError, se.Kind(), se.Code, se.Error(), se).Build()
	}
	return NewOutcomeBuilder().AddSearchIssue(IssueSeverityError, kindName(err), "", err.Error(), err).Build()
}

// OutcomeFromWarnings renders the parameters skipped by a lenient build.
// It returns nil when there are none.
func OutcomeFromWarnings(warnings []Warning) *OperationOutcome {
	if len(warnings) == 0 {
		return nil
	}
	b := NewOutcomeBuilder()
	for _, w := range warnings {
		b.AddSearchIssue(IssueSeverityWarning, w.Kind, w.Code, w.Message, errorForKind(w.Kind))
	}
	return b.Build()
}

func errorForKind(name string) error {
	for _, k := range errorKinds {
		if k.name == name {
			return k.err
		}
	}
	return nil
}

// HTTPStatus returns the status code a search error is reported with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownResourceType), errors.Is(err, ErrTenantNotFound):
		return http.StatusNotFound
	case errors.As(err, new(*SearchError)):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
