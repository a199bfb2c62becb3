package fhir

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueParser_CoversEveryType(t *testing.T) {
	p := NewValueParser()
	for _, typ := range AllSearchParamTypes {
		assert.NotNil(t, p.parsers[typ], "no parser for %s", typ)
		assert.NotContains(t, typ.String(), "SearchParamType(")
	}
	assert.Len(t, p.parsers, len(AllSearchParamTypes))
}

func TestParseValues_Token(t *testing.T) {
	tests := []struct {
		raw        string
		wantSystem *string
		wantCode   string
	}{
		{"http://loinc.org|1234-5", strPtr("http://loinc.org"), "1234-5"},
		{"|abc", strPtr(""), "abc"},
		{"abc", nil, "abc"},
		{`a\|b`, nil, "a|b"},
		{`http://x\,y|c`, strPtr("http://x,y"), "c"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, err := ParseValues(SearchParamToken, tt.raw)
			require.NoError(t, err)
			require.Len(t, values, 1)
			assert.Equal(t, tt.wantSystem, values[0].System)
			assert.Equal(t, tt.wantCode, values[0].Code)
		})
	}

	_, err := ParseValues(SearchParamToken, "a|b|c")
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func strPtr(s string) *string { return &s }

func TestParseValues_SplitsOnUnescapedCommas(t *testing.T) {
	values, err := ParseValues(SearchParamString, `peter,pa\,ul,mary`)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, "peter", values[0].ValueString)
	assert.Equal(t, "pa,ul", values[1].ValueString)
	assert.Equal(t, "mary", values[2].ValueString)
}

func TestParseValues_String(t *testing.T) {
	values, err := ParseValues(SearchParamString, "Müller")
	require.NoError(t, err)
	assert.Equal(t, "Müller", values[0].ValueString)
	assert.Equal(t, "muller", values[0].Normalized)
}

func TestParseValues_InvalidEscaping(t *testing.T) {
	for _, typ := range []SearchParamType{SearchParamString, SearchParamToken, SearchParamURI, SearchParamReference, SearchParamNumber, SearchParamDate, SearchParamQuantity, SearchParamSpecial} {
		t.Run(typ.String(), func(t *testing.T) {
			_, err := ParseValues(typ, `1\x`)
			assert.ErrorIs(t, err, ErrInvalidEscaping)
			assert.True(t, IsStructural(err))

			_, err = ParseValues(typ, `1\x\\`)
			assert.ErrorIs(t, err, ErrInvalidEscaping, "three backslashes")
		})
	}
	_, err := ParseValues(SearchParamString, `trailing\`)
	assert.ErrorIs(t, err, ErrInvalidEscaping)
}

func TestParseValues_EvenBackslashes(t *testing.T) {
	tests := []struct {
		typ  SearchParamType
		raw  string
		want string
	}{
		{SearchParamString, `a\b\c`, `a\b\c`},
		{SearchParamString, `a\\b`, `a\b`},
		{SearchParamURI, `urn:x\y\z`, `urn:x\y\z`},
		{SearchParamReference, `Patient/a\b\c`, `Patient/a\b\c`},
		{SearchParamSpecial, `a\b\c`, `a\b\c`},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, err := ParseValues(tt.typ, tt.raw)
			require.NoError(t, err)
			require.Len(t, values, 1)
			assert.Equal(t, tt.want, values[0].ValueString)
		})
	}

	values, err := ParseValues(SearchParamToken, `sys\x\y|a\b\c`)
	require.NoError(t, err)
	assert.Equal(t, `sys\x\y`, *values[0].System)
	assert.Equal(t, `a\b\c`, values[0].Code)
}

func TestParseValues_Number(t *testing.T) {
	tests := []struct {
		raw          string
		prefix       SearchPrefix
		value        string
		lower, upper string
	}{
		{"100", "", "100", "99.5", "100.5"},
		{"100.00", "", "100", "99.995", "100.005"},
		{"gt5.4", PrefixGt, "5.4", "5.35", "5.45"},
		{"-3", "", "-3", "-3.5", "-2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, err := ParseValues(SearchParamNumber, tt.raw)
			require.NoError(t, err)
			n := values[0].Number
			require.NotNil(t, n)
			assert.Equal(t, tt.prefix, values[0].Prefix)
			assert.True(t, n.Value.Equal(decimal.RequireFromString(tt.value)), "value %s", n.Value)
			assert.True(t, n.Lower.Equal(decimal.RequireFromString(tt.lower)), "lower %s", n.Lower)
			assert.True(t, n.Upper.Equal(decimal.RequireFromString(tt.upper)), "upper %s", n.Upper)
		})
	}

	for _, raw := range []string{"abc", "gt", "1.2.3", ""} {
		_, err := ParseValues(SearchParamNumber, raw)
		assert.ErrorIs(t, err, ErrMalformedValue, raw)
	}
}

func TestNumberValue_Contains(t *testing.T) {
	values, err := ParseValues(SearchParamNumber, "100")
	require.NoError(t, err)
	n := values[0].Number
	assert.True(t, n.Contains(decimal.RequireFromString("99.5")))
	assert.True(t, n.Contains(decimal.RequireFromString("100.49")))
	assert.False(t, n.Contains(decimal.RequireFromString("100.5")))
}

func TestWithImplicitRange(t *testing.T) {
	p := NewValueParser(WithImplicitRange(SearchParamNumber, decimal.NewFromInt(1)))
	values, err := p.ParseValues(&SearchParameterDef{Code: "probability", Type: SearchParamNumber}, "100")
	require.NoError(t, err)
	assert.True(t, values[0].Number.Lower.Equal(decimal.NewFromInt(99)))
	assert.True(t, values[0].Number.Upper.Equal(decimal.NewFromInt(101)))

	values, err = p.ParseValues(&SearchParameterDef{Code: "value-quantity", Type: SearchParamQuantity}, "100")
	require.NoError(t, err)
	assert.True(t, values[0].Number.Upper.Equal(decimal.RequireFromString("100.5")), "quantity keeps its own factor")
}

func TestParseValues_Quantity(t *testing.T) {
	tests := []struct {
		raw    string
		prefix SearchPrefix
		system *string
		code   string
	}{
		{"5.4|http://unitsofmeasure.org|mg", "", strPtr("http://unitsofmeasure.org"), "mg"},
		{"le5.4|http://unitsofmeasure.org|mg", PrefixLe, strPtr("http://unitsofmeasure.org"), "mg"},
		{"5.4||mg", "", nil, "mg"},
		{"5.4", "", nil, ""},
		{"5.4|http://unitsofmeasure.org", "", strPtr("http://unitsofmeasure.org"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, err := ParseValues(SearchParamQuantity, tt.raw)
			require.NoError(t, err)
			v := values[0]
			assert.Equal(t, tt.prefix, v.Prefix)
			assert.True(t, v.Number.Value.Equal(decimal.RequireFromString("5.4")))
			assert.Equal(t, tt.system, v.System)
			assert.Equal(t, tt.code, v.Code)
		})
	}

	_, err := ParseValues(SearchParamQuantity, "5|a|b|c")
	assert.ErrorIs(t, err, ErrMalformedValue)
	_, err = ParseValues(SearchParamQuantity, "five|a|b")
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestParseValues_Date(t *testing.T) {
	utc := func(s string) time.Time {
		tm, err := time.Parse(time.RFC3339Nano, s)
		require.NoError(t, err)
		return tm.UTC()
	}
	tests := []struct {
		raw       string
		prefix    SearchPrefix
		precision DatePrecision
		lower     string
		upper     string
	}{
		{"2023", "", PrecisionYear, "2023-01-01T00:00:00Z", "2024-01-01T00:00:00Z"},
		{"ge2023-02", PrefixGe, PrecisionMonth, "2023-02-01T00:00:00Z", "2023-03-01T00:00:00Z"},
		{"2023-02-28", "", PrecisionDay, "2023-02-28T00:00:00Z", "2023-03-01T00:00:00Z"},
		{"2023-02-03T10:00Z", "", PrecisionMinute, "2023-02-03T10:00:00Z", "2023-02-03T10:01:00Z"},
		{"2023-02-03T10:00:05+02:00", "", PrecisionSecond, "2023-02-03T08:00:05Z", "2023-02-03T08:00:06Z"},
		{"2023-02-03T10:00:05.123Z", "", PrecisionFraction, "2023-02-03T10:00:05.123Z", "2023-02-03T10:00:05.124Z"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			values, err := ParseValues(SearchParamDate, tt.raw)
			require.NoError(t, err)
			d := values[0].Date
			require.NotNil(t, d)
			assert.Equal(t, tt.prefix, values[0].Prefix)
			assert.Equal(t, tt.precision, d.Precision)
			assert.True(t, d.Lower.Equal(utc(tt.lower)), "lower %s", d.Lower)
			assert.True(t, d.Upper.Equal(utc(tt.upper)), "upper %s", d.Upper)
			assert.True(t, d.Contains(d.Lower))
			assert.False(t, d.Contains(d.Upper))
		})
	}

	for _, raw := range []string{"2023-13", "abc", "20", "2023-02-30", "gt"} {
		_, err := ParseValues(SearchParamDate, raw)
		assert.ErrorIs(t, err, ErrMalformedValue, raw)
	}
}

func TestParseValues_PlainTypes(t *testing.T) {
	values, err := ParseValues(SearchParamReference, "Patient/123,456")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "Patient/123", values[0].ValueString)
	assert.Equal(t, "456", values[1].ValueString)

	values, err = ParseValues(SearchParamURI, `http://example.org/fhir\|x`)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/fhir|x", values[0].ValueString)
}

func TestParseValues_Special(t *testing.T) {
	values, err := ParseValues(SearchParamSpecial, `42.25|-83.69|10|km`)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, SearchPrefix(""), values[0].Prefix)
	assert.Equal(t, "42.25|-83.69|10|km", values[0].ValueString)

	values, err = ParseValues(SearchParamSpecial, `ap1\,5`)
	require.NoError(t, err)
	assert.Equal(t, PrefixAp, values[0].Prefix)
	assert.Equal(t, "1,5", values[0].ValueString)

	_, err = ParseValues(SearchParamSpecial, `1\|2\x`)
	assert.ErrorIs(t, err, ErrInvalidEscaping)
}

func TestParseOfTypeValues(t *testing.T) {
	p := NewValueParser()
	def := &SearchParameterDef{Code: "identifier", Type: SearchParamToken}

	values, err := p.ParseOfTypeValues(def, `http://terminology.hl7.org/CodeSystem/v2-0203|MR|446053,|SS|12\|3`)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "http://terminology.hl7.org/CodeSystem/v2-0203", *values[0].System)
	assert.Equal(t, "MR", values[0].Code)
	assert.Equal(t, "446053", values[0].ValueString)
	assert.Equal(t, "", *values[1].System)
	assert.Equal(t, "12|3", values[1].ValueString)

	tests := []struct {
		raw  string
		want error
	}{
		{"MR|446053", ErrMalformedValue},
		{"a|b|c|d", ErrMalformedValue},
		{"sys||446053", ErrMalformedValue},
		{"sys|MR|", ErrMalformedValue},
		{`sys|MR|4\x`, ErrInvalidEscaping},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := p.ParseOfTypeValues(def, tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func codeValueQuantity() *SearchParameterDef {
	return &SearchParameterDef{
		Code: "code-value-quantity",
		Type: SearchParamComposite,
		Components: []CompositeComponentDef{
			{Code: "code", Type: SearchParamToken},
			{Code: "value-quantity", Type: SearchParamQuantity},
		},
	}
}

func TestParseValues_Composite(t *testing.T) {
	p := NewValueParser()
	values, err := p.ParseValues(codeValueQuantity(), "http://loinc.org|8480-6$gt5.4,a\\$b$1")
	require.NoError(t, err)
	require.Len(t, values, 2)

	comps := values[0].Components
	require.Len(t, comps, 2)
	assert.Equal(t, "code", comps[0].Code)
	assert.Equal(t, SearchParamToken, comps[0].Type)
	assert.Equal(t, "8480-6", comps[0].Values[0].Code)
	assert.Equal(t, "http://loinc.org", *comps[0].Values[0].System)
	assert.Equal(t, "value-quantity", comps[1].Code)
	assert.Equal(t, PrefixGt, comps[1].Values[0].Prefix)

	assert.Equal(t, "a$b", values[1].Components[0].Values[0].Code)
}

func TestParseValues_CompositeErrors(t *testing.T) {
	p := NewValueParser()
	tests := []struct {
		raw  string
		want error
	}{
		{"a$b$c", ErrCompositeArity},
		{"a", ErrCompositeArity},
		{"$5", ErrMalformedValue},
		{"a$five", ErrMalformedValue},
		{`a\x$5`, ErrInvalidEscaping},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := p.ParseValues(codeValueQuantity(), tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		raw    string
		prefix SearchPrefix
		rest   string
	}{
		{"gt2023", PrefixGt, "2023"},
		{"sa5", PrefixSa, "5"},
		{"GT5", "", "GT5"},
		{"gt", "", "gt"},
		{"100", "", "100"},
	}
	for _, tt := range tests {
		p, rest := extractPrefix(tt.raw)
		assert.Equal(t, tt.prefix, p, tt.raw)
		assert.Equal(t, tt.rest, rest, tt.raw)
	}
}
