package fhir

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	params, err := ParseQuery("name=peter&_count=10&name=paul&code=http%3A%2F%2Floinc.org%7C1234&given=a+b&&flag")
	require.NoError(t, err)

	require.Len(t, params, 5)
	assert.Equal(t, RawParam{Name: "name", Values: []string{"peter", "paul"}}, params[0])
	assert.Equal(t, "_count", params[1].Name)
	assert.Equal(t, []string{"http://loinc.org|1234"}, params[2].Values)
	assert.Equal(t, []string{"a b"}, params[3].Values)
	assert.Equal(t, RawParam{Name: "flag", Values: []string{""}}, params[4])

	params, err = ParseQuery(`name=a%5C%2Cb`)
	require.NoError(t, err)
	assert.Equal(t, []string{`a\,b`}, params[0].Values, "search escapes survive percent-decoding")

	_, err = ParseQuery("name=%zz")
	assert.Error(t, err)
	_, err = ParseQuery("%zz=1")
	assert.Error(t, err)

	params, err = ParseQuery("")
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestRawParams(t *testing.T) {
	params := RawParams{
		{Name: "name", Values: []string{"a"}},
		{Name: "_include:iterate", Values: []string{"Patient:organization"}},
	}

	v, ok := params.Get("name")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, v)
	_, ok = params.Get("_include")
	assert.False(t, ok)

	assert.True(t, params.Has("_include"))
	assert.True(t, params.Has("name"))
	assert.False(t, params.Has("nam"))

	assert.Equal(t, "name=a&_include%3Aiterate=Patient%3Aorganization", params.Encode())

	reparsed, err := ParseQuery(params.Encode())
	require.NoError(t, err)
	assert.Equal(t, params, reparsed)
}

func TestFromValues(t *testing.T) {
	params := FromValues(url.Values{"b": {"2"}, "a": {"1", "3"}})
	assert.Equal(t, RawParams{
		{Name: "a", Values: []string{"1", "3"}},
		{Name: "b", Values: []string{"2"}},
	}, params)
}

func TestExtractSearchParams(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient/_search-context?name=peter&_count=5", nil)
	params, err := ExtractSearchParams(e.NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	require.Len(t, params, 2)

	req = httptest.NewRequest(http.MethodPost, "/fhir/Patient/_search-context?name=peter", strings.NewReader("name=paul&gender=female"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	params, err = ExtractSearchParams(e.NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	assert.Equal(t, RawParams{
		{Name: "name", Values: []string{"peter", "paul"}},
		{Name: "gender", Values: []string{"female"}},
	}, params, "form parameters follow the query")

	req = httptest.NewRequest(http.MethodPost, "/fhir/Patient/_search-context?name=peter", strings.NewReader(`{"name":"paul"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	params, err = ExtractSearchParams(e.NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	assert.Len(t, params, 1, "only form bodies are read")

	req = httptest.NewRequest(http.MethodPost, "/fhir/Patient/_search-context", strings.NewReader("name="+strings.Repeat("x", maxFormBody)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	_, err = ExtractSearchParams(e.NewContext(req, httptest.NewRecorder()))
	assert.Error(t, err)
}

func TestRawParams_MergeDoesNotAlias(t *testing.T) {
	query := RawParams{{Name: "name", Values: []string{"a"}}}
	merged := query.merge(RawParams{{Name: "name", Values: []string{"b"}}})

	assert.Equal(t, []string{"a", "b"}, merged[0].Values)
	assert.Equal(t, []string{"a"}, query[0].Values)
}

func TestParseSort(t *testing.T) {
	assert.Nil(t, ParseSort("  "))
	assert.Equal(t, []SortSpec{
		{Field: "date", Descending: true},
		{Field: "status"},
		{Field: ""},
	}, ParseSort("-date, status,"))
	assert.Equal(t, SortDescending, SortSpec{Descending: true}.Direction())
	assert.Equal(t, SortAscending, SortSpec{}.Direction())
}

func TestParseParamModifier(t *testing.T) {
	assert.Equal(t, ParamName{Code: "name", Modifier: "exact"}, ParseParamModifier("name:exact"))
	assert.Equal(t, ParamName{Code: "code"}, ParseParamModifier("code"))
	assert.Equal(t, ParamName{Code: "subject", Modifier: "Patient"}, ParseParamModifier("subject:Patient"))
}

func TestIsModifierAllowed(t *testing.T) {
	assert.True(t, IsModifierAllowed(SearchParamString, ModifierExact))
	assert.True(t, IsModifierAllowed(SearchParamReference, ModifierType))
	assert.False(t, IsModifierAllowed(SearchParamDate, ModifierExact))
	for _, typ := range AllSearchParamTypes {
		assert.True(t, IsModifierAllowed(typ, ModifierMissing), typ.String())
	}

	_, ok := ParseSearchModifier("type")
	assert.False(t, ok, "type is only reached through a resource type name")
	m, ok := ParseSearchModifier("not-in")
	assert.True(t, ok)
	assert.Equal(t, ModifierNotIn, m)
}
