package fhir

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ehr/fhirsearch/internal/platform/fhir/specs"
)

// SearchParamType defines the FHIR search parameter type. The set is closed;
// AllSearchParamTypes lists every member.
type SearchParamType int

const (
	SearchParamToken     SearchParamType = iota // Token: status, code, category (system|code)
	SearchParamDate                             // Date: supports prefixes (gt, lt, ge, le, eq, etc.)
	SearchParamString                           // String: supports :exact, :contains
	SearchParamReference                        // Reference: "ResourceType/id" or "id"
	SearchParamNumber                           // Number: supports prefixes
	SearchParamQuantity                         // Quantity: number|system|code
	SearchParamURI                              // URI: exact match
	SearchParamComposite                        // Composite: component values joined by '$'
	SearchParamSpecial                          // Special: opaque, type-specific syntax
)

// AllSearchParamTypes lists every SearchParamType.
var AllSearchParamTypes = []SearchParamType{
	SearchParamToken, SearchParamDate, SearchParamString, SearchParamReference,
	SearchParamNumber, SearchParamQuantity, SearchParamURI, SearchParamComposite,
	SearchParamSpecial,
}

var searchParamTypeNames = map[SearchParamType]string{
	SearchParamToken:     "token",
	SearchParamDate:      "date",
	SearchParamString:    "string",
	SearchParamReference: "reference",
	SearchParamNumber:    "number",
	SearchParamQuantity:  "quantity",
	SearchParamURI:       "uri",
	SearchParamComposite: "composite",
	SearchParamSpecial:   "special",
}

func (t SearchParamType) String() string {
	if s, ok := searchParamTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("SearchParamType(%d)", int(t))
}

// MarshalText encodes the type by its FHIR code.
func (t SearchParamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SearchParamType) UnmarshalText(b []byte) error {
	v, err := ParseSearchParamType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseSearchParamType converts a SearchParameter.type code to its enum value.
func ParseSearchParamType(s string) (SearchParamType, error) {
	for t, name := range searchParamTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown search parameter type %q", s)
}

// ---------------------------------------------------------------------------
// SearchParameterResource
// ---------------------------------------------------------------------------

// SearchParameterResource represents a FHIR SearchParameter resource that
// defines a search parameter and its properties for use in search operations.
type SearchParameterResource struct {
	ResourceType string                     `json:"resourceType"`
	ID           string                     `json:"id,omitempty"`
	URL          string                     `json:"url"`
	Version      string                     `json:"version,omitempty"`
	Name         string                     `json:"name"`
	Status       string                     `json:"status"` // draft, active, retired
	Description  string                     `json:"description,omitempty"`
	Code         string                     `json:"code"` // name used in search URL
	Base         []string                   `json:"base"` // resource types this applies to
	Type         string                     `json:"type"` // number, date, string, token, reference, composite, quantity, uri, special
	Expression   string                     `json:"expression,omitempty"` // FHIRPath expression
	Target       []string                   `json:"target,omitempty"`     // for reference type params
	Comparator   []string                   `json:"comparator,omitempty"`
	Modifier     []string                   `json:"modifier,omitempty"`
	Component    []SearchParameterComponent `json:"component,omitempty"`
}

// SearchParameterComponent is one part of a composite SearchParameter.
type SearchParameterComponent struct {
	Definition string `json:"definition"`
	Expression string `json:"expression"`
}

// validSearchParamStatuses enumerates the allowed SearchParameter.status values.
var validSearchParamStatuses = map[string]bool{
	"draft":   true,
	"active":  true,
	"retired": true,
}

// validateSearchParameter checks that a SearchParameterResource has the
// minimum required fields and valid enum values.
func validateSearchParameter(sp *SearchParameterResource) error {
	if sp.URL == "" {
		return fmt.Errorf("SearchParameter.url is required")
	}
	if sp.Code == "" {
		return fmt.Errorf("SearchParameter.code is required")
	}
	if sp.Status != "" && !validSearchParamStatuses[sp.Status] {
		return fmt.Errorf("SearchParameter.status must be one of: draft, active, retired; got %q", sp.Status)
	}
	if len(sp.Base) == 0 {
		return fmt.Errorf("SearchParameter.base is required (at least one resource type)")
	}
	if _, err := ParseSearchParamType(sp.Type); err != nil {
		return fmt.Errorf("SearchParameter.type: %w", err)
	}
	if sp.Type == "composite" && len(sp.Component) == 0 {
		return fmt.Errorf("SearchParameter %s: composite requires at least one component", sp.URL)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SearchParameterDef
// ---------------------------------------------------------------------------

// SearchParameterDef is the resolved, immutable form of a search parameter
// as held by a registry Snapshot.
type SearchParameterDef struct {
	URL        string                  `json:"url"`
	Version    string                  `json:"version,omitempty"`
	Code       string                  `json:"code"`
	Name       string                  `json:"name,omitempty"`
	Base       []string                `json:"base"`
	Type       SearchParamType         `json:"type"`
	Expression string                  `json:"expression,omitempty"`
	Target     []string                `json:"target,omitempty"`
	Components []CompositeComponentDef `json:"components,omitempty"`
}

// CompositeComponentDef is a composite component with its resolved value type.
type CompositeComponentDef struct {
	Definition string          `json:"definition"`
	Expression string          `json:"expression,omitempty"`
	Code       string          `json:"code"`
	Type       SearchParamType `json:"type"`
}

// HasTarget reports whether resourceType is a declared reference target.
func (d *SearchParameterDef) HasTarget(resourceType string) bool {
	for _, t := range d.Target {
		if t == resourceType {
			return true
		}
	}
	return false
}

// CanonicalURL returns url|version, or the bare url when unversioned.
func (d *SearchParameterDef) CanonicalURL() string {
	if d.Version == "" {
		return d.URL
	}
	return d.URL + "|" + d.Version
}

// newSearchParameterDef converts the wire resource. Composite component types
// are left unresolved; the snapshot fills them in.
func newSearchParameterDef(sp *SearchParameterResource) (*SearchParameterDef, error) {
	if err := validateSearchParameter(sp); err != nil {
		return nil, err
	}
	typ, _ := ParseSearchParamType(sp.Type)
	def := &SearchParameterDef{
		URL:        sp.URL,
		Version:    sp.Version,
		Code:       sp.Code,
		Name:       sp.Name,
		Base:       append([]string(nil), sp.Base...),
		Type:       typ,
		Expression: sp.Expression,
		Target:     append([]string(nil), sp.Target...),
	}
	for _, c := range sp.Component {
		def.Components = append(def.Components, CompositeComponentDef{
			Definition: c.Definition,
			Expression: c.Expression,
		})
	}
	return def, nil
}

// splitCanonical separates "url|version".
func splitCanonical(canonical string) (url, version string) {
	url, version, _ = strings.Cut(canonical, "|")
	return url, version
}

// ---------------------------------------------------------------------------
// Catalogue loading
// ---------------------------------------------------------------------------

type bundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

type bundle struct {
	ResourceType string        `json:"resourceType"`
	Entry        []bundleEntry `json:"entry"`
}

// DecodeSearchParameters reads SearchParameter resources from either a FHIR
// Bundle or a JSON array of SearchParameter resources. Entries whose
// resourceType is not SearchParameter are ignored.
func DecodeSearchParameters(data []byte) ([]SearchParameterResource, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []SearchParameterResource
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode search parameter list: %w", err)
		}
		return list, nil
	}

	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode search parameter bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("decode search parameter bundle: resourceType %q is not Bundle", b.ResourceType)
	}
	out := make([]SearchParameterResource, 0, len(b.Entry))
	for i, e := range b.Entry {
		var sp SearchParameterResource
		if err := json.Unmarshal(e.Resource, &sp); err != nil {
			return nil, fmt.Errorf("decode bundle entry %d: %w", i, err)
		}
		if sp.ResourceType != "SearchParameter" {
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}

// DefaultSearchParameters returns the built-in FHIR R4 search parameter
// catalogue shipped with the server.
func DefaultSearchParameters() ([]SearchParameterResource, error) {
	return DecodeSearchParameters(specs.SearchParameters)
}
