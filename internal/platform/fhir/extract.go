package fhir

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
)

// ExtractedValue is what one search parameter's expression yields for a
// resource.
type ExtractedValue struct {
	Code   string          `json:"code"`
	Type   SearchParamType `json:"type"`
	Values []string        `json:"values"`
}

// Extractor evaluates search parameter expressions against resources. It
// is what an indexer runs to produce the values a SearchContext is matched
// against. Compiled expressions are cached; Extractor is safe for
// concurrent use.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]*fhirpath.Expression
}

// NewExtractor creates an Extractor with an empty expression cache.
func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[string]*fhirpath.Expression)}
}

// Extract evaluates every definition with an expression against resource,
// given as FHIR JSON. Definitions without an expression are skipped and
// parameters that match nothing are omitted.
func (e *Extractor) Extract(resource []byte, defs []*SearchParameterDef) ([]ExtractedValue, error) {
	if !json.Valid(resource) {
		return nil, fmt.Errorf("extract: resource is not valid JSON")
	}
	var out []ExtractedValue
	for _, def := range defs {
		if def.Expression == "" {
			continue
		}
		compiled, err := e.compiled(def.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile expression of '%s': %w", def.Code, err)
		}
		result, err := compiled.Evaluate(resource)
		if err != nil {
			return nil, fmt.Errorf("evaluate expression of '%s': %w", def.Code, err)
		}
		if len(result) == 0 {
			continue
		}
		out = append(out, ExtractedValue{Code: def.Code, Type: def.Type, Values: stringify(result)})
	}
	return out, nil
}

// CacheSize returns the number of cached expressions.
func (e *Extractor) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *Extractor) compiled(expression string) (*fhirpath.Expression, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expression)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}

func stringify(c types.Collection) []string {
	out := make([]string, 0, len(c))
	for _, v := range c {
		out = append(out, fmt.Sprint(v))
	}
	return out
}
