package fhir

import (
	"encoding/json"
	"strings"
)

// QueryParameter is a resolved search filter. A chained parameter is a
// singly linked list from the root segment to the terminal one; only the
// terminal node carries values. Chains are immutable once built.
type QueryParameter struct {
	Type                 SearchParamType
	Code                 string
	Modifier             SearchModifier
	ModifierResourceType string
	Values               []QueryParameterValue

	next *QueryParameter
}

// Next returns the following chain segment, or nil at the terminal node.
func (p *QueryParameter) Next() *QueryParameter { return p.next }

// IsChained reports whether p has further segments.
func (p *QueryParameter) IsChained() bool { return p.next != nil }

// Chain returns every node from p to the terminal node.
func (p *QueryParameter) Chain() []*QueryParameter {
	var out []*QueryParameter
	for n := p; n != nil; n = n.next {
		out = append(out, n)
	}
	return out
}

// Terminal returns the last node of the chain.
func (p *QueryParameter) Terminal() *QueryParameter {
	n := p
	for n.next != nil {
		n = n.next
	}
	return n
}

// Name renders the parameter as it would appear in a query string, e.g.
// "subject:Patient.name:exact".
func (p *QueryParameter) Name() string {
	var b strings.Builder
	for n := p; n != nil; n = n.next {
		if n != p {
			b.WriteByte('.')
		}
		b.WriteString(n.Code)
		switch {
		case n.Modifier == ModifierType && n.ModifierResourceType != "":
			b.WriteByte(':')
			b.WriteString(n.ModifierResourceType)
		case n.Modifier != "":
			b.WriteByte(':')
			b.WriteString(string(n.Modifier))
		}
	}
	return b.String()
}

type queryParameterJSON struct {
	Type                 SearchParamType       `json:"type"`
	Code                 string                `json:"code"`
	Modifier             SearchModifier        `json:"modifier,omitempty"`
	ModifierResourceType string                `json:"modifierResourceType,omitempty"`
	Values               []QueryParameterValue `json:"values,omitempty"`
	Next                 *QueryParameter       `json:"next,omitempty"`
}

func (p *QueryParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(queryParameterJSON{
		Type:                 p.Type,
		Code:                 p.Code,
		Modifier:             p.Modifier,
		ModifierResourceType: p.ModifierResourceType,
		Values:               p.Values,
		Next:                 p.next,
	})
}

// linkChain links nodes root-first, building from the terminal node back
// so no node is ever re-parented. Each node is copied; the slice may be
// reused by the caller.
func linkChain(nodes []QueryParameter) *QueryParameter {
	var next *QueryParameter
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		n.next = next
		next = &n
	}
	return next
}
