package fhir

// MandatoryElements are always included regardless of _elements or _summary filters.
var MandatoryElements = []string{"resourceType", "id", "meta"}

// SummaryModel is implemented by resource models that know the elements
// flagged as summary in the FHIR definitions.
type SummaryModel interface {
	SummaryElementNames(resourceType string) []string
}

// defaultSummaryElements is used when the model has no summary definition
// for a resource type.
var defaultSummaryElements = []string{
	"identifier", "status", "code", "subject", "patient", "date", "category",
}

// SummaryElements returns the top-level elements a _summary mode keeps for
// resourceType. A nil result means no filtering; count keeps nothing.
func SummaryElements(model ResourceModel, resourceType string, mode SummaryMode) []string {
	switch mode {
	case SummaryTrue:
		var summary []string
		if sm, ok := model.(SummaryModel); ok {
			summary = sm.SummaryElementNames(resourceType)
		}
		if summary == nil {
			known := model.ElementNames(resourceType)
			for _, e := range defaultSummaryElements {
				if contains(known, e) {
					summary = append(summary, e)
				}
			}
		}
		return union(MandatoryElements, summary)
	case SummaryText:
		return union(MandatoryElements, []string{"text"})
	case SummaryData:
		var out []string
		for _, e := range union(MandatoryElements, model.ElementNames(resourceType)) {
			if e != "text" {
				out = append(out, e)
			}
		}
		return out
	case SummaryCount:
		return []string{}
	}
	return nil
}

// Projection returns the elements kept for resourceType under sc. _elements
// takes precedence over _summary. A nil result means the full resource.
func Projection(model ResourceModel, resourceType string, sc *SearchContext) []string {
	if len(sc.Elements) > 0 {
		return union(MandatoryElements, sc.Elements)
	}
	return SummaryElements(model, resourceType, sc.Summary)
}

// ApplyProjection filters a FHIR resource to the keep list and tags the
// result SUBSETTED when anything was removed. A nil keep list returns the
// resource unchanged.
func ApplyProjection(resource map[string]any, keep []string) map[string]any {
	if keep == nil {
		return resource
	}
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[k] = true
	}
	result := make(map[string]any, len(keep))
	dropped := false
	for k, v := range resource {
		if allowed[k] {
			result[k] = v
		} else {
			dropped = true
		}
	}
	if dropped {
		addSubsettedTag(result)
	}
	return result
}

// addSubsettedTag adds the SUBSETTED meta tag to indicate partial content.
// The meta map is copied so the source resource is left untouched.
func addSubsettedTag(resource map[string]any) {
	meta := make(map[string]any)
	if old, ok := resource["meta"].(map[string]any); ok {
		for k, v := range old {
			meta[k] = v
		}
	}
	tags, _ := meta["tag"].([]any)
	tags = append(append([]any(nil), tags...), map[string]any{
		"system": "http://terminology.hl7.org/CodeSystem/v3-ObservationValue",
		"code":   "SUBSETTED",
	})
	meta["tag"] = tags
	resource["meta"] = meta
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, lists := range [][]string{a, b} {
		for _, s := range lists {
			if !contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}
