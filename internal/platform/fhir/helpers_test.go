package fhir

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirsearch/internal/platform/fhir/specs"
)

// testModel reads the embedded resource definitions. The production model
// lives in a package that imports this one.
type testModel struct {
	types    map[string]bool
	elements map[string][]string
	summary  map[string][]string
}

func (m *testModel) IsResourceType(name string) bool                  { return m.types[name] }
func (m *testModel) ElementNames(resourceType string) []string        { return m.elements[resourceType] }
func (m *testModel) SummaryElementNames(resourceType string) []string { return m.summary[resourceType] }

var (
	modelOnce   sync.Once
	sharedModel *testModel
)

func newTestModel(t testing.TB) *testModel {
	t.Helper()
	modelOnce.Do(func() {
		var doc struct {
			ResourceTypes []string            `json:"resourceTypes"`
			Elements      map[string][]string `json:"elements"`
			Summary       map[string][]string `json:"summary"`
		}
		if err := json.Unmarshal(specs.ResourceElements, &doc); err != nil {
			panic(err)
		}
		m := &testModel{types: map[string]bool{}, elements: doc.Elements, summary: doc.Summary}
		for _, rt := range doc.ResourceTypes {
			m.types[rt] = true
		}
		m.elements[ResourceBase] = []string{"id", "meta", "implicitRules", "language"}
		sharedModel = m
	})
	return sharedModel
}

// memSource serves tenant configuration from memory on top of the embedded
// built-in catalogue.
type memSource struct {
	mu      sync.Mutex
	tenants map[string]*TenantConfig
}

func newMemSource(tenants map[string]*TenantConfig) *memSource {
	if tenants == nil {
		tenants = map[string]*TenantConfig{}
	}
	if _, ok := tenants[DefaultTenant]; !ok {
		tenants[DefaultTenant] = &TenantConfig{}
	}
	return &memSource{tenants: tenants}
}

func (s *memSource) BuiltinCatalog(ctx context.Context) ([]SearchParameterResource, error) {
	return DefaultSearchParameters()
}

func (s *memSource) TenantIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memSource) TenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cfg, nil
}

func (s *memSource) set(tenantID string, cfg *TenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == nil {
		delete(s.tenants, tenantID)
		return
	}
	s.tenants[tenantID] = cfg
}

// acmeConfig exposes only a handful of Patient and Observation parameters
// plus one extension.
func acmeConfig() *TenantConfig {
	return &TenantConfig{
		FilterRules: FilterRules{
			"Patient":     {"name", "gender"},
			"Observation": {"code", "subject"},
			"Resource":    {"_id"},
		},
		SearchParameters: []SearchParameterResource{favoriteColor()},
	}
}

func favoriteColor() SearchParameterResource {
	return SearchParameterResource{
		ResourceType: "SearchParameter",
		URL:          "http://example.org/SearchParameter/Patient-favorite-color",
		Version:      "1.0",
		Name:         "FavoriteColor",
		Status:       "active",
		Code:         "favorite-color",
		Base:         []string{"Patient"},
		Type:         "token",
		Expression:   "Patient.extension.where(url='http://example.org/favorite-color').value",
	}
}

func newTestRegistry(t testing.TB, tenants map[string]*TenantConfig, opts ...RegistryOption) (*Registry, *memSource) {
	t.Helper()
	src := newMemSource(tenants)
	reg, err := NewRegistry(context.Background(), src, opts...)
	require.NoError(t, err)
	return reg, src
}

func newTestBuilder(t testing.TB, opts ...BuilderOption) *SearchContextBuilder {
	t.Helper()
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{"acme": acmeConfig()})
	return NewSearchContextBuilder(reg, newTestModel(t), opts...)
}

// query parses a raw query string or fails the test.
func query(t testing.TB, raw string) RawParams {
	t.Helper()
	p, err := ParseQuery(raw)
	require.NoError(t, err)
	return p
}
