package fhir

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelfURI(t *testing.T) {
	b := newTestBuilder(t)

	tests := []struct {
		name         string
		resourceType string
		query        string
		want         string
	}{
		{
			"defaults",
			"Patient", "",
			"/fhir/Patient?_count=20",
		},
		{
			"parameters in order",
			"Patient", "name:exact=Peter&birthdate=ge1970-01&_page=3",
			"/fhir/Patient?name%3Aexact=Peter&birthdate=ge1970-01&_count=20&_page=3",
		},
		{
			"chained and typed reference",
			"Observation", "subject:Patient.name=peter&subject:Patient=123",
			"/fhir/Observation?subject%3APatient.name=peter&subject%3APatient=123&_count=20",
		},
		{
			"number keeps precision",
			"RiskAssessment", "probability=gt0.50",
			"/fhir/RiskAssessment?probability=gt0.50&_count=20",
		},
		{
			"token and quantity",
			"Observation", "code=http://loinc.org|8480-6,|abc&value-quantity=le5.4|http://unitsofmeasure.org|mg",
			"/fhir/Observation?code=" + url.QueryEscape("http://loinc.org|8480-6,|abc") +
				"&value-quantity=" + url.QueryEscape("le5.4|http://unitsofmeasure.org|mg") + "&_count=20",
		},
		{
			"identifier of-type",
			"Patient", `identifier:of-type=http://x.org|MR|a\|b`,
			"/fhir/Patient?identifier%3Aof-type=" + url.QueryEscape(`http://x.org|MR|a\|b`) + "&_count=20",
		},
		{
			"escapes are restored",
			"Patient", `name=a\,b`,
			"/fhir/Patient?name=" + url.QueryEscape(`a\,b`) + "&_count=20",
		},
		{
			"result parameters",
			"Observation", "_sort=-date,code&_elements=code,subject&_summary=data&_count=5",
			"/fhir/Observation?_sort=-date%2Ccode&_elements=code%2Csubject&_summary=data&_count=5",
		},
		{
			"count only",
			"Patient", "_count=0",
			"/fhir/Patient?_summary=count",
		},
		{
			"inclusions",
			"Observation", "_include=Observation:subject:Patient&_include:iterate=Patient:organization",
			"/fhir/Observation?_include=Observation%3Asubject%3APatient&_include%3Aiterate=Patient%3Aorganization%3AOrganization&_count=20",
		},
		{
			"skipped parameters are left out",
			"Patient", "bogus=1&name=x",
			"/fhir/Patient?name=x&_count=20",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := b.Build(DefaultTenant, tt.resourceType, query(t, tt.query), true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, BuildSelfURI("/fhir/", tt.resourceType, sc))
		})
	}
}

func TestBuildSelfURI_SystemAndCompartment(t *testing.T) {
	b := newTestBuilder(t)

	sc, err := b.Build(DefaultTenant, "", query(t, "_type=Patient,Observation&_id=1"), false)
	require.NoError(t, err)
	assert.Equal(t, "http://x/fhir?_type=Patient%2CObservation&_id=1&_count=20", BuildSelfURI("http://x/fhir", "", sc))

	sc, err = b.BuildCompartment(DefaultTenant, "Observation", CompartmentSelector{Compartment: "patient", ID: "a b"}, query(t, "code=1"), false)
	require.NoError(t, err)
	assert.Equal(t, "http://x/fhir/Patient/a%20b/Observation?code=1&_count=20", BuildSelfURI("http://x/fhir", "Observation", sc))
}

func TestBuildSelfURI_RoundTrip(t *testing.T) {
	b := newTestBuilder(t)

	for _, q := range []string{
		`name=a\,b,c&gender=female&_sort=-birthdate&_count=7`,
		"code-value-quantity=http://loinc.org|8480-6$gt140&subject:Patient.name:exact=Peter",
		"_include=Observation:subject&_summary=true",
		"date=ge2023-02-03T10:00:05.123Z&value-quantity=5.40",
	} {
		rt := "Patient"
		if !strings.Contains(q, "name=a") {
			rt = "Observation"
		}
		first, err := b.Build(DefaultTenant, rt, query(t, q), false)
		require.NoError(t, err, q)

		self := BuildSelfURI("", rt, first)
		_, raw, _ := strings.Cut(self, "?")
		second, err := b.Build(DefaultTenant, rt, query(t, raw), false)
		require.NoError(t, err, self)

		assert.Equal(t, self, BuildSelfURI("", rt, second), q)
		assert.Equal(t, len(first.Parameters), len(second.Parameters))
	}
}

func TestBuildPageURI(t *testing.T) {
	b := newTestBuilder(t)

	sc, err := b.Build(DefaultTenant, "Patient", query(t, "name=x&_count=10&_page=2"), false)
	require.NoError(t, err)
	assert.Equal(t, "/fhir/Patient?name=x&_count=10", BuildPageURI("/fhir", "Patient", sc, 1))
	assert.Equal(t, "/fhir/Patient?name=x&_count=10&_page=3", BuildPageURI("/fhir", "Patient", sc, 3))
	assert.Equal(t, 2, sc.PageNumber, "the context is not modified")

	page := sc.Page()
	assert.Equal(t, 10, page.Offset())
	assert.True(t, page.HasPrevious())
	assert.False(t, page.CountOnly)

	sc, err = b.Build(DefaultTenant, "Patient", query(t, "_summary=count"), false)
	require.NoError(t, err)
	assert.True(t, sc.Page().CountOnly)
}
