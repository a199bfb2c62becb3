package fhir

import (
	"strings"
)

// SortSpec represents a single sort directive.
type SortSpec struct {
	Field      string
	Descending bool
}

// ParseSort parses the _sort query parameter value.
// Format: "-date,status" means date DESC, status ASC. Keys are split on
// unescaped commas; an empty key is kept so callers can reject it.
func ParseSort(sortParam string) []SortSpec {
	if strings.TrimSpace(sortParam) == "" {
		return nil
	}

	parts := SplitUnescaped(sortParam, ',')
	specs := make([]SortSpec, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		spec := SortSpec{Field: part}
		if strings.HasPrefix(part, "-") {
			spec.Descending = true
			spec.Field = part[1:]
		}
		specs = append(specs, spec)
	}
	return specs
}

// Direction maps the "-" flag onto a SortDirection.
func (s SortSpec) Direction() SortDirection {
	if s.Descending {
		return SortDescending
	}
	return SortAscending
}

// applySort resolves each _sort key against the searched types.
func (s *buildState) applySort(v string) error {
	specs := ParseSort(v)
	if len(specs) == 0 {
		return s.fail(newSearchError(ErrInvalidResultParameter, paramSort, v, "no sort keys"))
	}
	for _, spec := range specs {
		if spec.Field == "" {
			if err := s.fail(newSearchError(ErrInvalidResultParameter, paramSort, v, "empty sort key")); err != nil {
				return err
			}
			continue
		}
		defs, err := lookupAll(s.snap, s.types, spec.Field, paramSort)
		if err != nil {
			if err := s.fail(err); err != nil {
				return err
			}
			continue
		}
		s.sc.Sort = append(s.sc.Sort, SortParameter{
			Code:      spec.Field,
			Type:      defs[0].Type,
			Direction: spec.Direction(),
		})
	}
	return nil
}
