package fhir

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirsearch/internal/platform/telemetry"
)

func TestFilterRules_Allows(t *testing.T) {
	rules := FilterRules{
		"Patient": {"name", "gender"},
		"Device":  {},
		"*":       {"_id"},
	}
	tests := []struct {
		rules        FilterRules
		resourceType string
		code         string
		want         bool
	}{
		{rules, "Patient", "name", true},
		{rules, "Patient", "birthdate", false},
		{rules, "Patient", "_id", false},
		{rules, "Device", "_id", false},
		{rules, "Observation", "_id", true},
		{rules, "Observation", "code", false},
		{FilterRules{"Patient": {"*"}}, "Patient", "anything", true},
		{FilterRules{"Patient": {"*"}}, "Observation", "code", false},
		{nil, "Observation", "code", true},
		{FilterRules{}, "Observation", "code", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rules.Allows(tt.resourceType, tt.code), "%s.%s", tt.resourceType, tt.code)
	}
}

func TestNewRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{"acme": acmeConfig()})

	assert.Equal(t, []string{"acme", DefaultTenant}, reg.Tenants())
	assert.Equal(t, DefaultTenant, reg.DefaultTenantID())

	def, ok := reg.Lookup(DefaultTenant, "Patient", "birthdate")
	require.True(t, ok)
	assert.Equal(t, SearchParamDate, def.Type)
	assert.Equal(t, "http://hl7.org/fhir/SearchParameter/Patient-birthdate", def.URL)

	_, ok = reg.Lookup("acme", "Patient", "birthdate")
	assert.False(t, ok)
	_, ok = reg.Lookup("acme", "Patient", "favorite-color")
	assert.True(t, ok)
	_, ok = reg.Lookup("acme", "Patient", "_lastUpdated")
	assert.False(t, ok, "only _id passes the Resource rule")

	_, ok = reg.Lookup("nobody", "Patient", "birthdate")
	assert.True(t, ok, "unknown tenants fall back to the default")
	assert.Equal(t, DefaultTenant, reg.Snapshot("nobody").Tenant())
}

func TestNewRegistry_MissingDefaultTenant(t *testing.T) {
	src := newMemSource(nil)
	src.set(DefaultTenant, nil)
	_, err := NewRegistry(context.Background(), src)
	assert.ErrorIs(t, err, ErrMissingDefaultTenant)

	src.set("clinic", &TenantConfig{})
	reg, err := NewRegistry(context.Background(), src, WithDefaultTenant("clinic"))
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic"}, reg.Tenants())
}

type failingSource struct{ *memSource }

func (failingSource) BuiltinCatalog(ctx context.Context) ([]SearchParameterResource, error) {
	return nil, errors.New("catalogue unavailable")
}

func TestNewRegistry_SourceErrors(t *testing.T) {
	_, err := NewRegistry(context.Background(), failingSource{newMemSource(nil)})
	assert.ErrorContains(t, err, "catalogue unavailable")
}

func TestSnapshot_ParametersFor(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{"acme": acmeConfig()})

	params := reg.ParametersFor("acme", "Patient")
	codes := make([]string, len(params))
	for i, p := range params {
		codes[i] = p.Code
	}
	assert.Equal(t, "_id", codes[0], "Resource parameters come first")
	assert.ElementsMatch(t, []string{"_id", "name", "gender", "favorite-color"}, codes)

	snap := reg.Snapshot("acme")
	params[0] = nil
	assert.NotNil(t, snap.ParametersFor("Patient")[0], "callers get a copy")

	assert.Contains(t, snap.ResourceTypes(), ResourceBase)
	assert.Contains(t, snap.ResourceTypes(), "Patient")
	assert.Positive(t, snap.ParameterCount())
	assert.False(t, snap.BuiltAt().IsZero())

	_, ok := snap.Lookup("Basic", "_id")
	assert.True(t, ok, "types without their own parameters use the Resource set")
}

func TestSnapshot_UserDefinitionReplacesBuiltin(t *testing.T) {
	override := SearchParameterResource{
		URL:        "http://acme.org/SearchParameter/Patient-gender",
		Status:     "active",
		Code:       "gender",
		Base:       []string{"Patient"},
		Type:       "string",
		Expression: "Patient.gender",
	}
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{
		"acme": {FilterRules: FilterRules{"Patient": {"name"}}, SearchParameters: []SearchParameterResource{override}},
	})

	def, ok := reg.Lookup("acme", "Patient", "gender")
	require.True(t, ok, "tenant definitions are never filtered")
	assert.Equal(t, SearchParamString, def.Type)
	assert.Equal(t, override.URL, def.URL)

	def, ok = reg.Lookup(DefaultTenant, "Patient", "gender")
	require.True(t, ok)
	assert.Equal(t, SearchParamToken, def.Type)
}

func TestSnapshot_SkipsInvalidDefinitions(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{
		"acme": {SearchParameters: []SearchParameterResource{
			{URL: "http://acme.org/sp/no-code", Status: "active", Base: []string{"Patient"}, Type: "token"},
			{URL: "http://acme.org/sp/bad-type", Status: "active", Code: "bad-type", Base: []string{"Patient"}, Type: "color"},
			{URL: "http://acme.org/sp/bad-expr", Status: "active", Code: "bad-expr", Base: []string{"Patient"}, Type: "token", Expression: "Patient.name.where("},
			{URL: "http://acme.org/sp/dangling", Status: "active", Code: "dangling", Base: []string{"Patient"}, Type: "composite",
				Component: []SearchParameterComponent{{Definition: "http://acme.org/sp/missing", Expression: "x"}}},
			{URL: "http://acme.org/sp/ok", Status: "active", Code: "ok", Base: []string{"Patient"}, Type: "token", Expression: "Patient.active"},
		}},
	})

	for _, code := range []string{"bad-type", "bad-expr", "dangling"} {
		_, ok := reg.Lookup("acme", "Patient", code)
		assert.False(t, ok, code)
	}
	_, ok := reg.Lookup("acme", "Patient", "ok")
	assert.True(t, ok)
}

func TestSnapshot_Composite(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{
		"acme": {FilterRules: FilterRules{"Observation": {"code-value-quantity"}}},
	})

	def, ok := reg.Lookup("acme", "Observation", "code-value-quantity")
	require.True(t, ok)
	require.Len(t, def.Components, 2)
	assert.Equal(t, "code", def.Components[0].Code)
	assert.Equal(t, SearchParamToken, def.Components[0].Type)
	assert.Equal(t, "value-quantity", def.Components[1].Code)
	assert.Equal(t, SearchParamQuantity, def.Components[1].Type)

	_, ok = reg.Lookup("acme", "Observation", "code")
	assert.False(t, ok, "components resolve even when filtered out")
}

func TestRegistry_LookupByURL(t *testing.T) {
	v2 := favoriteColor()
	v2.Version = "2.0"
	v2.Type = "string"
	reg, _ := newTestRegistry(t, map[string]*TenantConfig{
		"acme": {SearchParameters: []SearchParameterResource{favoriteColor(), v2}},
	})
	url := favoriteColor().URL

	def, ok := reg.LookupByURL("acme", "Patient", url)
	require.True(t, ok)
	assert.Equal(t, "2.0", def.Version, "unversioned lookups return the latest load")
	assert.Equal(t, url+"|2.0", def.CanonicalURL())

	def, ok = reg.LookupByURL("acme", "Patient", url+"|1.0")
	require.True(t, ok, "older versions stay reachable by canonical URL")
	assert.Equal(t, "1.0", def.Version)
	assert.Equal(t, SearchParamToken, def.Type)
	def, ok = reg.LookupByURL("acme", "Patient", url+"|2.0")
	require.True(t, ok)
	assert.Equal(t, SearchParamString, def.Type)
	_, ok = reg.LookupByURL("acme", "Patient", url+"|3.0")
	assert.False(t, ok)

	def, ok = reg.Lookup("acme", "Patient", "favorite-color")
	require.True(t, ok)
	assert.Equal(t, "2.0", def.Version, "the code resolves to the latest load")
	count := 0
	for _, d := range reg.Snapshot("acme").ParametersFor("Patient") {
		if d.Code == "favorite-color" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	def, ok = reg.LookupByURL(DefaultTenant, "Patient", "http://hl7.org/fhir/SearchParameter/Patient-name")
	require.True(t, ok)
	assert.Equal(t, "name", def.Code)
	_, ok = reg.LookupByURL(DefaultTenant, "Patient", def.CanonicalURL())
	assert.True(t, ok, "built-ins are versioned")

	unversioned := &SearchParameterDef{URL: "http://acme.org/sp/x"}
	assert.Equal(t, unversioned.URL, unversioned.CanonicalURL())
}

func TestRegistry_Reload(t *testing.T) {
	m := telemetry.NewSearchMetrics(prometheus.NewRegistry())
	reg, src := newTestRegistry(t, map[string]*TenantConfig{"acme": acmeConfig()}, WithRegistryMetrics(m))
	ctx := context.Background()

	before := reg.Snapshot("acme")
	src.set("acme", &TenantConfig{FilterRules: FilterRules{"Patient": {"birthdate"}}})
	require.NoError(t, reg.Reload(ctx, "acme"))

	after := reg.Snapshot("acme")
	assert.Greater(t, after.Generation(), before.Generation())
	_, ok := after.Lookup("Patient", "birthdate")
	assert.True(t, ok)
	_, ok = before.Lookup("Patient", "birthdate")
	assert.False(t, ok, "held snapshots do not change")

	src.set("beta", &TenantConfig{FilterRules: FilterRules{"Patient": {"gender"}}})
	require.NoError(t, reg.Reload(ctx, "beta"))
	assert.Equal(t, []string{"acme", "beta", DefaultTenant}, reg.Tenants())

	src.set("acme", nil)
	require.NoError(t, reg.Reload(ctx, "acme"))
	assert.Equal(t, []string{"beta", DefaultTenant}, reg.Tenants())
	assert.Equal(t, DefaultTenant, reg.Snapshot("acme").Tenant())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReloadsTotal.WithLabelValues("acme", "ok")))
}

type brokenSource struct{ *memSource }

func (s brokenSource) TenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	if tenantID == "broken" {
		return nil, errors.New("disk on fire")
	}
	return s.memSource.TenantConfig(ctx, tenantID)
}

func TestRegistry_ReloadErrorKeepsSnapshot(t *testing.T) {
	m := telemetry.NewSearchMetrics(prometheus.NewRegistry())
	src := brokenSource{newMemSource(nil)}
	reg, err := NewRegistry(context.Background(), src, WithRegistryMetrics(m))
	require.NoError(t, err)

	err = reg.Reload(context.Background(), "broken")
	assert.ErrorContains(t, err, "disk on fire")
	assert.Equal(t, []string{DefaultTenant}, reg.Tenants())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReloadsTotal.WithLabelValues("broken", "error")))

	src.set(DefaultTenant, nil)
	err = reg.Reload(context.Background(), DefaultTenant)
	assert.ErrorIs(t, err, ErrMissingDefaultTenant)
	assert.Equal(t, DefaultTenant, reg.Snapshot(DefaultTenant).Tenant(), "the default keeps its last snapshot")
}

func TestRegistry_ConcurrentReadsDuringReload(t *testing.T) {
	reg, src := newTestRegistry(t, map[string]*TenantConfig{"acme": acmeConfig()})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if i%2 == 0 {
				src.set("acme", &TenantConfig{FilterRules: FilterRules{"Patient": {"birthdate"}}})
			} else {
				src.set("acme", acmeConfig())
			}
			_ = reg.Reload(ctx, "acme")
		}
	}()
	for i := 0; i < 200; i++ {
		snap := reg.Snapshot("acme")
		_, hasName := snap.Lookup("Patient", "name")
		_, hasBirthdate := snap.Lookup("Patient", "birthdate")
		assert.NotEqual(t, hasName, hasBirthdate, "a snapshot is one configuration or the other")
	}
	<-done
}

func TestValidateTenantConfig(t *testing.T) {
	model := newTestModel(t)

	assert.Empty(t, ValidateTenantConfig(acmeConfig(), model))

	cfg := &TenantConfig{
		FilterRules: FilterRules{"Patient": {"name"}, "Pateint": {"name"}, "*": {"*"}},
		SearchParameters: []SearchParameterResource{
			{URL: "http://acme.org/sp/a", Status: "active", Code: "a", Base: []string{"Widget"}, Type: "token"},
			{URL: "http://acme.org/sp/b", Status: "pending", Code: "b", Base: []string{"Patient"}, Type: "token"},
			{URL: "http://acme.org/sp/c", Status: "active", Code: "c", Base: []string{"Patient"}, Type: "token", Expression: "Patient.name.where("},
		},
	}
	errs := ValidateTenantConfig(cfg, model)
	require.Len(t, errs, 4)
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	assert.Contains(t, msgs[0], "Pateint")
	assert.Contains(t, msgs[1], "Widget")
	assert.Contains(t, msgs[2], "status")
	assert.Contains(t, msgs[3], "expression")
}

func TestDecodeSearchParameters(t *testing.T) {
	list, err := DecodeSearchParameters([]byte(`[{"resourceType":"SearchParameter","url":"u","code":"c","base":["Patient"],"type":"token"}]`))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].Code)

	list, err = DecodeSearchParameters([]byte(`{"resourceType":"Bundle","entry":[
		{"resource":{"resourceType":"SearchParameter","url":"u","code":"c","base":["Patient"],"type":"token"}},
		{"resource":{"resourceType":"Patient","id":"p"}}]}`))
	require.NoError(t, err)
	assert.Len(t, list, 1, "non SearchParameter entries are ignored")

	list, err = DecodeSearchParameters([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = DecodeSearchParameters([]byte(`{"resourceType":"Patient"}`))
	assert.Error(t, err)
	_, err = DecodeSearchParameters([]byte(`{not json`))
	assert.Error(t, err)

	builtins, err := DefaultSearchParameters()
	require.NoError(t, err)
	assert.NotEmpty(t, builtins)
}

func TestParseSearchParamType(t *testing.T) {
	for _, typ := range AllSearchParamTypes {
		got, err := ParseSearchParamType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseSearchParamType("color")
	assert.Error(t, err)
	assert.Equal(t, "SearchParamType(99)", SearchParamType(99).String())
}
