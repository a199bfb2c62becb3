package fhir

import (
	"github.com/shopspring/decimal"
)

// QueryParameterValue is one OR-ed term of a search parameter. Exactly one
// value shape is populated for the parameter's type; QUANTITY combines
// Number with System and Code, and a token under :of-type adds ValueString.
type QueryParameterValue struct {
	Prefix      SearchPrefix      `json:"prefix,omitempty"`
	Number      *NumberValue      `json:"number,omitempty"`
	Date        *DateValue        `json:"date,omitempty"`
	System      *string           `json:"system,omitempty"` // nil matches any system
	Code        string            `json:"code,omitempty"`
	ValueString string            `json:"valueString,omitempty"`
	Normalized  string            `json:"normalized,omitempty"`
	Components  []*QueryParameter `json:"components,omitempty"`
}

// valueParseFunc parses one comma-separated term.
type valueParseFunc func(def *SearchParameterDef, term string) (QueryParameterValue, error)

// ValueParser turns raw search values into typed values. The zero value is
// not usable; call NewValueParser.
type ValueParser struct {
	ranges  map[SearchParamType]decimal.Decimal
	parsers map[SearchParamType]valueParseFunc
}

// ValueParserOption configures a ValueParser.
type ValueParserOption func(*ValueParser)

// WithImplicitRange sets the implicit-range factor for un-prefixed NUMBER or
// QUANTITY values, as a multiple of one unit in the last significant digit.
func WithImplicitRange(t SearchParamType, factor decimal.Decimal) ValueParserOption {
	return func(p *ValueParser) {
		p.ranges[t] = factor
	}
}

// NewValueParser returns a parser with one entry per SearchParamType.
func NewValueParser(opts ...ValueParserOption) *ValueParser {
	p := &ValueParser{
		ranges: map[SearchParamType]decimal.Decimal{
			SearchParamNumber:   DefaultImplicitRangeFactor,
			SearchParamQuantity: DefaultImplicitRangeFactor,
		},
	}
	p.parsers = map[SearchParamType]valueParseFunc{
		SearchParamToken:     p.parseToken,
		SearchParamDate:      p.parseDate,
		SearchParamString:    p.parseString,
		SearchParamReference: p.parsePlain,
		SearchParamNumber:    p.parseNumber,
		SearchParamQuantity:  p.parseQuantity,
		SearchParamURI:       p.parsePlain,
		SearchParamComposite: p.parseComposite,
		SearchParamSpecial:   p.parseSpecial,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultValueParser = NewValueParser()

// ParseValues parses raw for a non-composite type using default settings.
func ParseValues(t SearchParamType, raw string) ([]QueryParameterValue, error) {
	return defaultValueParser.ParseValues(&SearchParameterDef{Type: t}, raw)
}

// ParseValues splits raw on unescaped commas and parses each term according
// to def.Type.
func (p *ValueParser) ParseValues(def *SearchParameterDef, raw string) ([]QueryParameterValue, error) {
	parse, ok := p.parsers[def.Type]
	if !ok {
		return nil, newSearchError(ErrMalformedValue, def.Code, raw, "no value parser for type %s", def.Type)
	}
	return parseTerms(def, raw, parse)
}

// ParseOfTypeValues parses the values of a token parameter under
// :of-type, each of the form type-system|type-code|value. The identifier
// type lands in System and Code and the identifier value in ValueString.
func (p *ValueParser) ParseOfTypeValues(def *SearchParameterDef, raw string) ([]QueryParameterValue, error) {
	return parseTerms(def, raw, p.parseOfType)
}

func parseTerms(def *SearchParameterDef, raw string, parse valueParseFunc) ([]QueryParameterValue, error) {
	terms := SplitUnescaped(raw, ',')
	out := make([]QueryParameterValue, 0, len(terms))
	for _, term := range terms {
		v, err := parse(def, term)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *ValueParser) unescape(def *SearchParameterDef, term, s string) (string, error) {
	out, err := UnescapeSearchValue(s)
	if err != nil {
		return "", newSearchError(ErrInvalidEscaping, def.Code, term, "odd number of unescaped backslashes")
	}
	return out, nil
}

func (p *ValueParser) parseDate(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	prefix, rest := extractPrefix(term)
	s, err := p.unescape(def, term, rest)
	if err != nil {
		return QueryParameterValue{}, err
	}
	d, err := parseDateValue(s)
	if err != nil {
		return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, "%v", err)
	}
	return QueryParameterValue{Prefix: prefix, Date: d}, nil
}

func (p *ValueParser) number(def *SearchParameterDef, term, s string) (*NumberValue, error) {
	n, err := parseNumberValue(s, p.ranges[def.Type])
	if err != nil {
		return nil, newSearchError(ErrMalformedValue, def.Code, term, "%q is not a valid decimal", s)
	}
	return n, nil
}

func (p *ValueParser) parseNumber(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	prefix, rest := extractPrefix(term)
	s, err := p.unescape(def, term, rest)
	if err != nil {
		return QueryParameterValue{}, err
	}
	n, err := p.number(def, term, s)
	if err != nil {
		return QueryParameterValue{}, err
	}
	return QueryParameterValue{Prefix: prefix, Number: n}, nil
}

// parseQuantity reads number[|system[|code]]. An empty system is left unset.
func (p *ValueParser) parseQuantity(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	prefix, rest := extractPrefix(term)
	parts := SplitUnescaped(rest, '|')
	if len(parts) > 3 {
		return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, "quantity has more than three parts")
	}
	unescaped := make([]string, len(parts))
	for i, part := range parts {
		s, err := p.unescape(def, term, part)
		if err != nil {
			return QueryParameterValue{}, err
		}
		unescaped[i] = s
	}
	n, err := p.number(def, term, unescaped[0])
	if err != nil {
		return QueryParameterValue{}, err
	}
	v := QueryParameterValue{Prefix: prefix, Number: n}
	if len(unescaped) > 1 && unescaped[1] != "" {
		sys := unescaped[1]
		v.System = &sys
	}
	if len(unescaped) > 2 {
		v.Code = unescaped[2]
	}
	return v, nil
}

// parseToken reads [system|]code. "|code" sets an explicit empty system;
// a bare code leaves the system unset.
func (p *ValueParser) parseToken(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	parts := SplitUnescaped(term, '|')
	if len(parts) > 2 {
		return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, "token has more than two parts")
	}
	var v QueryParameterValue
	code, err := p.unescape(def, term, parts[len(parts)-1])
	if err != nil {
		return QueryParameterValue{}, err
	}
	v.Code = code
	if len(parts) == 2 {
		sys, err := p.unescape(def, term, parts[0])
		if err != nil {
			return QueryParameterValue{}, err
		}
		v.System = &sys
	}
	return v, nil
}

func (p *ValueParser) parseString(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	s, err := p.unescape(def, term, term)
	if err != nil {
		return QueryParameterValue{}, err
	}
	return QueryParameterValue{ValueString: s, Normalized: NormalizeForSearch(s)}, nil
}

func (p *ValueParser) parsePlain(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	s, err := p.unescape(def, term, term)
	if err != nil {
		return QueryParameterValue{}, err
	}
	return QueryParameterValue{ValueString: s}, nil
}

func (p *ValueParser) parseOfType(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	parts := SplitUnescaped(term, '|')
	if len(parts) != 3 {
		return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, ":of-type takes type-system|type-code|value")
	}
	var unescaped [3]string
	for i, part := range parts {
		s, err := p.unescape(def, term, part)
		if err != nil {
			return QueryParameterValue{}, err
		}
		unescaped[i] = s
	}
	if unescaped[1] == "" || unescaped[2] == "" {
		return QueryParameterValue{}, newSearchError(ErrMalformedValue, def.Code, term, ":of-type needs a type code and a value")
	}
	sys := unescaped[0]
	return QueryParameterValue{System: &sys, Code: unescaped[1], ValueString: unescaped[2]}, nil
}

// parseSpecial strips a prefix and unescapes the rest for the
// parameter-specific interpreter, e.g. near=lat|long|distance|units.
func (p *ValueParser) parseSpecial(def *SearchParameterDef, term string) (QueryParameterValue, error) {
	prefix, rest := extractPrefix(term)
	s, err := p.unescape(def, term, rest)
	if err != nil {
		return QueryParameterValue{}, err
	}
	return QueryParameterValue{Prefix: prefix, ValueString: s}, nil
}
