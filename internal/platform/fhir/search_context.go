package fhir

import "github.com/ehr/fhirsearch/pkg/pagination"

// ResourceModel answers structural questions about FHIR resource types.
type ResourceModel interface {
	// IsResourceType reports whether name is a known resource type.
	IsResourceType(name string) bool
	// ElementNames returns the top-level element names of resourceType.
	ElementNames(resourceType string) []string
}

// SummaryMode is the value of _summary.
type SummaryMode string

const (
	SummaryTrue  SummaryMode = "true"
	SummaryText  SummaryMode = "text"
	SummaryData  SummaryMode = "data"
	SummaryCount SummaryMode = "count"
	SummaryFalse SummaryMode = "false"
)

// ParseSummaryMode validates a _summary value.
func ParseSummaryMode(s string) (SummaryMode, bool) {
	switch m := SummaryMode(s); m {
	case SummaryTrue, SummaryText, SummaryData, SummaryCount, SummaryFalse:
		return m, true
	}
	return "", false
}

// SortDirection orders a _sort key.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// SortParameter is one _sort key.
type SortParameter struct {
	Code      string          `json:"code"`
	Type      SearchParamType `json:"type"`
	Direction SortDirection   `json:"direction"`
}

// InclusionParameter is one resolved _include or _revinclude.
type InclusionParameter struct {
	JoinResourceType   string `json:"joinResourceType"`
	SearchParameter    string `json:"searchParameter"`
	TargetResourceType string `json:"targetResourceType"`
	Iterate            bool   `json:"iterate,omitempty"`
}

// CompartmentSelector restricts a search to the members of one compartment
// instance, e.g. Patient/123. A resource is a member when any of Criteria
// matches.
type CompartmentSelector struct {
	Compartment string            `json:"compartment"`
	ID          string            `json:"id"`
	Criteria    []*QueryParameter `json:"criteria,omitempty"`
}

// SearchContext is the validated, typed form of a search request. It is
// built per request and only read afterwards.
type SearchContext struct {
	ResourceType  string               `json:"resourceType,omitempty"`
	ResourceTypes []string             `json:"resourceTypes,omitempty"`
	Compartment   *CompartmentSelector `json:"compartment,omitempty"`
	Parameters    []*QueryParameter    `json:"parameters"`
	PageSize      int                  `json:"pageSize"`
	PageNumber    int                  `json:"pageNumber"`
	Sort          []SortParameter      `json:"sort,omitempty"`
	Includes      []InclusionParameter `json:"includes,omitempty"`
	RevIncludes   []InclusionParameter `json:"revIncludes,omitempty"`
	Elements      []string             `json:"elements,omitempty"`
	Summary       SummaryMode          `json:"summary,omitempty"`
	Lenient       bool                 `json:"lenient"`
	Warnings      []Warning            `json:"warnings,omitempty"`
}

// IsSystemSearch reports whether the search spans resource types.
func (c *SearchContext) IsSystemSearch() bool { return c.ResourceType == "" }

// HasInclusions reports whether any _include or _revinclude survived.
func (c *SearchContext) HasInclusions() bool {
	return len(c.Includes) > 0 || len(c.RevIncludes) > 0
}

// Parameter returns the first root parameter with the given code.
func (c *SearchContext) Parameter(code string) *QueryParameter {
	for _, p := range c.Parameters {
		if p.Code == code {
			return p
		}
	}
	return nil
}

// Page returns the paging window of the search. _summary=count asks for the
// total only.
func (c *SearchContext) Page() pagination.Params {
	return pagination.Params{
		PageSize:   c.PageSize,
		PageNumber: c.PageNumber,
		CountOnly:  c.Summary == SummaryCount,
	}
}
