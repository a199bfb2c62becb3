package fhir

import (
	"strings"
)

// Inclusion modifier for _include and _revinclude.
const includeIterate = "iterate"

// applyInclusion parses one _include or _revinclude value of the form
// SourceType:code[:TargetType].
func (s *buildState) applyInclusion(name string, pn ParamName, v string) error {
	reverse := pn.Code == paramRevinclude
	iterate := pn.Modifier == includeIterate
	if pn.Modifier != "" && !iterate {
		return s.fail(newSearchError(ErrInvalidInclusion, name, v, "unsupported modifier '%s'", pn.Modifier))
	}

	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return s.fail(newSearchError(ErrInvalidInclusion, name, v, "expected SourceType:searchParameter[:TargetType]"))
	}
	joinType, code, target := parts[0], parts[1], ""
	if len(parts) == 3 {
		target = parts[2]
	}
	if !s.b.model.IsResourceType(joinType) {
		return s.fail(newSearchError(ErrInvalidInclusion, name, v, "'%s' is not a resource type", joinType))
	}
	if target != "" && !s.b.model.IsResourceType(target) {
		return s.fail(newSearchError(ErrInvalidInclusion, name, v, "'%s' is not a resource type", target))
	}

	def, ok := s.snap.Lookup(joinType, code)
	if !ok {
		return s.fail(newSearchError(ErrUnknownParameter, name, v, "search parameter '%s' is not defined for resource type %s", code, joinType))
	}
	if def.Type != SearchParamReference {
		return s.fail(newSearchError(ErrInvalidInclusion, name, v, "'%s' is of type %s; only reference parameters can be included", code, def.Type))
	}

	searched := s.sc.ResourceType
	if reverse {
		if target == "" {
			target = searched
		}
		if target != searched && !iterate {
			return s.fail(newSearchError(ErrInvalidInclusion, name, v, "target type must be %s", searched))
		}
		if !def.HasTarget(target) {
			return s.fail(newSearchError(ErrInvalidInclusion, name, v, "'%s' on %s does not reference %s", code, joinType, target))
		}
		s.sc.RevIncludes = append(s.sc.RevIncludes, InclusionParameter{
			JoinResourceType:   joinType,
			SearchParameter:    code,
			TargetResourceType: target,
			Iterate:            iterate,
		})
		return nil
	}

	if joinType != searched && !iterate {
		return s.fail(newSearchError(ErrInvalidInclusion, name, v, "source type must be %s", searched))
	}
	targets := def.Target
	if target != "" {
		if !def.HasTarget(target) {
			return s.fail(newSearchError(ErrInvalidInclusion, name, v, "'%s' on %s does not reference %s", code, joinType, target))
		}
		targets = []string{target}
	}
	for _, t := range targets {
		s.sc.Includes = append(s.sc.Includes, InclusionParameter{
			JoinResourceType:   joinType,
			SearchParameter:    code,
			TargetResourceType: t,
			Iterate:            iterate,
		})
	}
	return nil
}
