package fhir

import "fmt"

// parseComposite splits a term on unescaped '$' and parses each part with
// its component's type. The part count must match the definition exactly
// and every part must produce a single value.
//
// Example: "http://loinc.org|8480-6$gt5.4" against code-value-quantity gives
// a token component and a quantity component.
func (p *ValueParser) parseComposite(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	parts := SplitUnescaped(term, '$')
	if len(parts) != len(def.Components) {
		return QueryParameterValue{}, newSearchError(ErrCompositeArity, def.Code, term,
			"expected %d components, got %d", len(def.Components), len(parts))
	}

	comps := make([]*QueryParameter, 0, len(parts))
	for i, part := range parts {
		c := def.Components[i]
		if c.Type == SearchParamComposite {
			return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, "component %d is itself composite", i+1)
		}
		if part == "" {
			return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, "component %d is empty", i+1)
		}
		parse := p.parsers[c.Type]
		v, err := parse(&SearchParameterDef{Code: def.Code, Type: c.Type}, part)
		if err != nil {
			return QueryParameterValue{}, err
		}
		comps = append(comps, &QueryParameter{
			Type:   c.Type,
			Code:   c.Code,
			Values: []QueryParameterValue{v},
		})
	}
	return QueryParameterValue{Components: comps}, nil
}

// resolveComponents returns a copy of def with each composite component's
// code and type filled in from the definition it points at.
func resolveComponents(def *SearchParameterDef, byURL map[string]*SearchParameterDef) (*SearchParameterDef, error) {
	if def.Type != SearchParamComposite {
		return def, nil
	}
	out := *def
	out.Components = make([]CompositeComponentDef, len(def.Components))
	for i, c := range def.Components {
		url, _ := splitCanonical(c.Definition)
		target, ok := byURL[url]
		if !ok {
			return nil, fmt.Errorf("composite %s: component %d definition %s not found", def.URL, i+1, c.Definition)
		}
		if target.Type == SearchParamComposite {
			return nil, fmt.Errorf("composite %s: component %d refers to composite %s", def.URL, i+1, target.URL)
		}
		c.Code = target.Code
		c.Type = target.Type
		out.Components[i] = c
	}
	return &out, nil
}
