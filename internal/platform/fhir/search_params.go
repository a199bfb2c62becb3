package fhir

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// RawParam is one query parameter name with every value it was given.
type RawParam struct {
	Name   string
	Values []string
}

// RawParams is an ordered query-parameter multimap. Order is the order in
// which each name first appeared.
type RawParams []RawParam

// ParseQuery decodes a raw query string, keeping parameter order and
// merging repeated names. Percent-decoding is applied; search escapes
// (backslashes) are left for the value parser.
func ParseQuery(rawQuery string) (RawParams, error) {
	var out RawParams
	index := make(map[string]int)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("decode parameter name %q: %w", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("decode value of %q: %w", name, err)
		}
		if i, ok := index[name]; ok {
			out[i].Values = append(out[i].Values, value)
			continue
		}
		index[name] = len(out)
		out = append(out, RawParam{Name: name, Values: []string{value}})
	}
	return out, nil
}

// FromValues converts url.Values, ordering names alphabetically since the
// map has lost request order.
func FromValues(v url.Values) RawParams {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(RawParams, 0, len(names))
	for _, k := range names {
		out = append(out, RawParam{Name: k, Values: append([]string(nil), v[k]...)})
	}
	return out
}

// ExtractSearchParams reads the request query string in order. For a
// form-encoded POST the body parameters follow the query parameters, so
// POST [type]/_search and GET [type]?... resolve the same way.
func ExtractSearchParams(c echo.Context) (RawParams, error) {
	req := c.Request()
	params, err := ParseQuery(req.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	if req.Method != http.MethodPost || req.Body == nil ||
		!strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationForm) {
		return params, nil
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxFormBody+1))
	if err != nil {
		return nil, fmt.Errorf("read search form: %w", err)
	}
	if len(body) > maxFormBody {
		return nil, fmt.Errorf("search form exceeds %d bytes", maxFormBody)
	}
	form, err := ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	return params.merge(form), nil
}

// maxFormBody caps the POST search body.
const maxFormBody = 1 << 20

func (p RawParams) merge(other RawParams) RawParams {
	out := append(RawParams(nil), p...)
	for _, o := range other {
		merged := false
		for i := range out {
			if out[i].Name == o.Name {
				out[i].Values = append(append([]string(nil), out[i].Values...), o.Values...)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, o)
		}
	}
	return out
}

// Get returns the values of name.
func (p RawParams) Get(name string) ([]string, bool) {
	for _, rp := range p {
		if rp.Name == name {
			return rp.Values, true
		}
	}
	return nil, false
}

// Has reports whether any parameter is named name or name:modifier.
func (p RawParams) Has(name string) bool {
	for _, rp := range p {
		if rp.Name == name || strings.HasPrefix(rp.Name, name+":") {
			return true
		}
	}
	return false
}

// Encode renders the parameters as a query string in order.
func (p RawParams) Encode() string {
	var b strings.Builder
	for _, rp := range p {
		for _, v := range rp.Values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(rp.Name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
