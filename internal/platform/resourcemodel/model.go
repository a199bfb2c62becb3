// Package resourcemodel answers structural questions about FHIR R4
// resource types from the embedded definitions.
package resourcemodel

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/fhir/specs"
)

// resourceElements lists the elements every resource inherits from Resource.
var resourceElements = []string{"id", "meta", "implicitRules", "language"}

type document struct {
	ResourceTypes []string            `json:"resourceTypes"`
	Elements      map[string][]string `json:"elements"`
	Summary       map[string][]string `json:"summary"`
}

// Model is an immutable view of resource type definitions.
type Model struct {
	types    map[string]bool
	elements map[string][]string
	summary  map[string][]string
}

var (
	_ fhir.ResourceModel = (*Model)(nil)
	_ fhir.SummaryModel  = (*Model)(nil)
)

// Load decodes a resource elements document.
func Load(data []byte) (*Model, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode resource elements: %w", err)
	}
	if len(doc.ResourceTypes) == 0 {
		return nil, fmt.Errorf("decode resource elements: no resource types")
	}
	m := &Model{
		types:    make(map[string]bool, len(doc.ResourceTypes)),
		elements: doc.Elements,
		summary:  doc.Summary,
	}
	if m.elements == nil {
		m.elements = make(map[string][]string)
	}
	for _, t := range doc.ResourceTypes {
		m.types[t] = true
	}
	m.elements[fhir.ResourceBase] = resourceElements
	return m, nil
}

var (
	defaultOnce  sync.Once
	defaultModel *Model
)

// Default returns the model for the embedded FHIR R4 definitions.
func Default() *Model {
	defaultOnce.Do(func() {
		m, err := Load(specs.ResourceElements)
		if err != nil {
			panic(fmt.Sprintf("embedded resource elements: %v", err))
		}
		defaultModel = m
	})
	return defaultModel
}

// IsResourceType reports whether name is a concrete resource type.
func (m *Model) IsResourceType(name string) bool { return m.types[name] }

// ElementNames returns the top-level elements of resourceType. "Resource"
// yields the elements shared by every resource.
func (m *Model) ElementNames(resourceType string) []string {
	return m.elements[resourceType]
}

// SummaryElementNames returns the elements flagged for _summary=true, or
// nil when the definitions carry none for resourceType.
func (m *Model) SummaryElementNames(resourceType string) []string {
	return m.summary[resourceType]
}

// ResourceTypes lists every resource type, sorted.
func (m *Model) ResourceTypes() []string {
	out := make([]string, 0, len(m.types))
	for t := range m.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
