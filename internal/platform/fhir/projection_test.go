package fhir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patientResource() map[string]any {
	return map[string]any{
		"resourceType": "Patient",
		"id":           "p1",
		"meta":         map[string]any{"versionId": "3"},
		"text":         map[string]any{"status": "generated"},
		"name":         []any{map[string]any{"family": "Chalmers"}},
		"gender":       "male",
		"birthDate":    "1974-12-25",
		"photo":        []any{},
	}
}

func TestSummaryElements(t *testing.T) {
	model := newTestModel(t)

	summary := SummaryElements(model, "Patient", SummaryTrue)
	assert.Subset(t, summary, MandatoryElements)
	assert.Contains(t, summary, "birthDate")
	assert.NotContains(t, summary, "photo")

	assert.Equal(t, []string{"resourceType", "id", "meta", "text"}, SummaryElements(model, "Patient", SummaryText))

	data := SummaryElements(model, "Patient", SummaryData)
	assert.NotContains(t, data, "text")
	assert.Contains(t, data, "photo")

	assert.Equal(t, []string{}, SummaryElements(model, "Patient", SummaryCount))
	assert.Nil(t, SummaryElements(model, "Patient", SummaryFalse))
	assert.Nil(t, SummaryElements(model, "Patient", ""))
}

// plainModel has no summary definitions.
type plainModel struct{ m *testModel }

func (p plainModel) IsResourceType(name string) bool           { return p.m.IsResourceType(name) }
func (p plainModel) ElementNames(resourceType string) []string { return p.m.ElementNames(resourceType) }

func TestSummaryElements_Fallback(t *testing.T) {
	var model ResourceModel = plainModel{newTestModel(t)}
	_, isSummary := model.(SummaryModel)
	require.False(t, isSummary)

	summary := SummaryElements(model, "Observation", SummaryTrue)
	assert.Equal(t, []string{"resourceType", "id", "meta", "identifier", "status", "code", "subject", "category"}, summary)
}

func TestProjection(t *testing.T) {
	model := newTestModel(t)

	keep := Projection(model, "Patient", &SearchContext{Elements: []string{"name"}, Summary: SummaryText})
	assert.Equal(t, []string{"resourceType", "id", "meta", "name"}, keep, "_elements wins over _summary")

	assert.Nil(t, Projection(model, "Patient", &SearchContext{}))
}

func TestApplyProjection(t *testing.T) {
	src := patientResource()
	out := ApplyProjection(src, []string{"resourceType", "id", "meta", "name"})

	assert.Len(t, out, 4)
	assert.Equal(t, "p1", out["id"])
	assert.NotContains(t, out, "gender")

	meta := out["meta"].(map[string]any)
	assert.Equal(t, "3", meta["versionId"])
	tags := meta["tag"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "SUBSETTED", tags[0].(map[string]any)["code"])

	_, tagged := src["meta"].(map[string]any)["tag"]
	assert.False(t, tagged, "the source resource is untouched")
	assert.Contains(t, src, "gender")
}

func TestApplyProjection_NothingDropped(t *testing.T) {
	src := map[string]any{"resourceType": "Patient", "id": "p1"}
	out := ApplyProjection(src, []string{"resourceType", "id", "meta"})
	assert.Equal(t, src, out)
	assert.NotContains(t, out, "meta")

	assert.Equal(t, patientResource(), ApplyProjection(patientResource(), nil))
}

func TestExtractor(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	var defs []*SearchParameterDef
	for _, code := range []string{"gender", "birthdate", "name", "address-city"} {
		def, ok := reg.Lookup(DefaultTenant, "Patient", code)
		require.True(t, ok, code)
		defs = append(defs, def)
	}
	defs = append(defs, &SearchParameterDef{Code: "no-expression", Type: SearchParamToken})

	resource := []byte(`{"resourceType":"Patient","id":"p1","gender":"female","birthDate":"1974-12-25","name":[{"family":"Chalmers","given":["Peter"]}]}`)
	e := NewExtractor()
	values, err := e.Extract(resource, defs)
	require.NoError(t, err)

	byCode := map[string]ExtractedValue{}
	for _, v := range values {
		byCode[v.Code] = v
	}
	require.Contains(t, byCode, "gender")
	assert.Equal(t, SearchParamToken, byCode["gender"].Type)
	assert.Contains(t, strings.Join(byCode["gender"].Values, ","), "female")
	assert.Contains(t, byCode, "birthdate")
	assert.Contains(t, byCode, "name")
	assert.NotContains(t, byCode, "address-city", "nothing matched")
	assert.NotContains(t, byCode, "no-expression")

	assert.Equal(t, 4, e.CacheSize())
	_, err = e.Extract(resource, defs)
	require.NoError(t, err)
	assert.Equal(t, 4, e.CacheSize(), "expressions compile once")
}

func TestExtractor_Errors(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract([]byte("{not json"), nil)
	assert.Error(t, err)

	_, err = e.Extract([]byte(`{"resourceType":"Patient"}`), []*SearchParameterDef{{Code: "broken", Expression: "Patient.name.where("}})
	assert.ErrorContains(t, err, "broken")
}
