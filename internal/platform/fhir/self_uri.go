package fhir

import (
	"net/url"
	"strconv"
	"strings"
)

// BuildPageURI is BuildSelfURI for another page of the same search.
func BuildPageURI(base, resourceType string, sc *SearchContext, page int) string {
	cp := *sc
	cp.PageNumber = page
	return BuildSelfURI(base, resourceType, &cp)
}

// BuildSelfURI renders sc back into a canonical search URL under base, the
// form used for Bundle.link[self]. Parameters appear in resolution order
// followed by result parameters; values are re-escaped so the URL parses
// back into the same context. Skipped parameters do not appear.
func BuildSelfURI(base, resourceType string, sc *SearchContext) string {
	path := strings.TrimRight(base, "/")
	if sc.Compartment != nil {
		path += "/" + sc.Compartment.Compartment + "/" + url.PathEscape(sc.Compartment.ID)
	}
	if resourceType != "" {
		path += "/" + resourceType
	}

	var q queryWriter
	if sc.IsSystemSearch() && len(sc.ResourceTypes) > 0 {
		q.add(paramType, strings.Join(sc.ResourceTypes, ","))
	}
	for _, p := range sc.Parameters {
		q.add(p.Name(), renderValues(p.Terminal()))
	}
	if len(sc.Sort) > 0 {
		keys := make([]string, len(sc.Sort))
		for i, s := range sc.Sort {
			keys[i] = s.Code
			if s.Direction == SortDescending {
				keys[i] = "-" + s.Code
			}
		}
		q.add(paramSort, strings.Join(keys, ","))
	}
	for _, inc := range sc.Includes {
		q.add(inclusionName(paramInclude, inc), inc.JoinResourceType+":"+inc.SearchParameter+":"+inc.TargetResourceType)
	}
	for _, inc := range sc.RevIncludes {
		q.add(inclusionName(paramRevinclude, inc), inc.JoinResourceType+":"+inc.SearchParameter+":"+inc.TargetResourceType)
	}
	if len(sc.Elements) > 0 {
		q.add(paramElements, strings.Join(sc.Elements, ","))
	}
	if sc.Summary != "" {
		q.add(paramSummary, string(sc.Summary))
	}
	if sc.Summary != SummaryCount {
		q.add(paramCount, strconv.Itoa(sc.PageSize))
	}
	if sc.PageNumber > 1 {
		q.add(paramPage, strconv.Itoa(sc.PageNumber))
	}

	if q.Len() == 0 {
		return path
	}
	return path + "?" + q.String()
}

type queryWriter struct{ strings.Builder }

func (w *queryWriter) add(name, value string) {
	if w.Len() > 0 {
		w.WriteByte('&')
	}
	w.WriteString(url.QueryEscape(name))
	w.WriteByte('=')
	w.WriteString(url.QueryEscape(value))
}

func inclusionName(name string, inc InclusionParameter) string {
	if inc.Iterate {
		return name + ":" + includeIterate
	}
	return name
}

// renderValues joins the OR-ed values of a terminal parameter.
func renderValues(p *QueryParameter) string {
	terms := make([]string, len(p.Values))
	for i, v := range p.Values {
		terms[i] = renderValue(p.Type, v)
	}
	return strings.Join(terms, ",")
}

func renderValue(t SearchParamType, v QueryParameterValue) string {
	prefix := string(v.Prefix)
	switch t {
	case SearchParamNumber:
		return prefix + renderNumber(v.Number)
	case SearchParamDate:
		if v.Date == nil {
			return prefix
		}
		return prefix + v.Date.Raw
	case SearchParamQuantity:
		s := prefix + renderNumber(v.Number)
		if v.System == nil && v.Code == "" {
			return s
		}
		var sys string
		if v.System != nil {
			sys = *v.System
		}
		return s + "|" + EscapeSearchValue(sys) + "|" + EscapeSearchValue(v.Code)
	case SearchParamToken:
		if v.System == nil {
			return EscapeSearchValue(v.Code)
		}
		s := EscapeSearchValue(*v.System) + "|" + EscapeSearchValue(v.Code)
		if v.ValueString != "" {
			// :of-type
			s += "|" + EscapeSearchValue(v.ValueString)
		}
		return s
	case SearchParamComposite:
		parts := make([]string, len(v.Components))
		for i, c := range v.Components {
			parts[i] = renderValues(c)
		}
		return strings.Join(parts, "$")
	case SearchParamSpecial:
		return prefix + v.ValueString
	}
	return EscapeSearchValue(v.ValueString)
}

// renderNumber keeps trailing zeros, which carry the implicit range.
func renderNumber(n *NumberValue) string {
	if n == nil {
		return ""
	}
	if exp := n.Value.Exponent(); exp < 0 {
		return n.Value.StringFixed(-exp)
	}
	return n.Value.String()
}
