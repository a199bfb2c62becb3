package fhir

import (
	"strings"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

var knownPrefixes = map[SearchPrefix]bool{
	PrefixEq: true, PrefixNe: true, PrefixGt: true, PrefixLt: true, PrefixGe: true,
	PrefixLe: true, PrefixSa: true, PrefixEb: true, PrefixAp: true,
}

// SearchModifier represents a FHIR search modifier.
type SearchModifier string

const (
	ModifierExact      SearchModifier = "exact"
	ModifierContains   SearchModifier = "contains"
	ModifierText       SearchModifier = "text"
	ModifierNot        SearchModifier = "not"
	ModifierAbove      SearchModifier = "above"
	ModifierBelow      SearchModifier = "below"
	ModifierMissing    SearchModifier = "missing"
	ModifierIn         SearchModifier = "in"
	ModifierNotIn      SearchModifier = "not-in"
	ModifierOfType     SearchModifier = "of-type"
	ModifierIdentifier SearchModifier = "identifier"
	// ModifierType is recorded when the modifier names a resource type,
	// e.g. subject:Patient.
	ModifierType SearchModifier = "type"
)

var knownModifiers = map[SearchModifier]bool{
	ModifierExact: true, ModifierContains: true, ModifierText: true, ModifierNot: true,
	ModifierAbove: true, ModifierBelow: true, ModifierMissing: true, ModifierIn: true,
	ModifierNotIn: true, ModifierOfType: true, ModifierIdentifier: true, ModifierType: true,
}

// allowedModifiers is the type/modifier compatibility matrix.
var allowedModifiers = map[SearchParamType][]SearchModifier{
	SearchParamString:    {ModifierMissing, ModifierExact, ModifierContains},
	SearchParamToken:     {ModifierMissing, ModifierText, ModifierNot, ModifierAbove, ModifierBelow, ModifierIn, ModifierNotIn, ModifierOfType},
	SearchParamDate:      {ModifierMissing},
	SearchParamNumber:    {ModifierMissing},
	SearchParamQuantity:  {ModifierMissing},
	SearchParamReference: {ModifierMissing, ModifierType, ModifierIdentifier, ModifierAbove, ModifierBelow},
	SearchParamURI:       {ModifierMissing, ModifierAbove, ModifierBelow},
	SearchParamComposite: {ModifierMissing},
	SearchParamSpecial:   {ModifierMissing},
}

// IsModifierAllowed reports whether modifier may be applied to a parameter of type t.
func IsModifierAllowed(t SearchParamType, modifier SearchModifier) bool {
	for _, m := range allowedModifiers[t] {
		if m == modifier {
			return true
		}
	}
	return false
}

// ParseSearchModifier converts the text after ':' in a parameter name into a
// modifier. ok is false for text that is not a defined modifier.
func ParseSearchModifier(s string) (SearchModifier, bool) {
	m := SearchModifier(s)
	if m == ModifierType || !knownModifiers[m] {
		return "", false
	}
	return m, true
}

// ParamName is a parameter name split into code and modifier text.
type ParamName struct {
	Code     string
	Modifier string
}

// ParseParamModifier splits a parameter name from its modifier.
// Examples: "name:exact" -> ("name", "exact"), "code" -> ("code", "")
func ParseParamModifier(paramName string) ParamName {
	code, mod, _ := strings.Cut(paramName, ":")
	return ParamName{Code: code, Modifier: mod}
}

// supportsPrefix reports whether values of type t may carry a comparison prefix.
func supportsPrefix(t SearchParamType) bool {
	switch t {
	case SearchParamDate, SearchParamNumber, SearchParamQuantity, SearchParamSpecial:
		return true
	}
	return false
}

// extractPrefix strips a known two-letter prefix from raw. Matching is case
// sensitive and a bare prefix with nothing after it is treated as a value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> ("", "100")
func extractPrefix(raw string) (SearchPrefix, string) {
	if len(raw) > 2 {
		p := SearchPrefix(raw[:2])
		if knownPrefixes[p] {
			return p, raw[2:]
		}
	}
	return "", raw
}
