package fhir

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirsearch/internal/platform/telemetry"
	"github.com/ehr/fhirsearch/pkg/pagination"
)

// Search result parameters shape the response rather than filter it.
const (
	paramSort       = "_sort"
	paramCount      = "_count"
	paramPage       = "_page"
	paramInclude    = "_include"
	paramRevinclude = "_revinclude"
	paramElements   = "_elements"
	paramSummary    = "_summary"
	paramType       = "_type"
)

// General parameters apply to every interaction and never reach the
// search context. tenant_id is read by the tenant middleware.
var generalParameters = map[string]bool{
	"_format":   true,
	"_pretty":   true,
	"tenant_id": true,
}

// SearchContextBuilder turns raw query parameters into a SearchContext.
// It is safe for concurrent use.
type SearchContextBuilder struct {
	registry *Registry
	model    ResourceModel
	parser   *ValueParser
	pages    pagination.Defaults
	maxDepth int
	chains   *ChainResolver
	logger   zerolog.Logger
	metrics  *telemetry.SearchMetrics
}

// BuilderOption configures a SearchContextBuilder.
type BuilderOption func(*SearchContextBuilder)

// WithValueParser replaces the default value parser.
func WithValueParser(p *ValueParser) BuilderOption {
	return func(b *SearchContextBuilder) { b.parser = p }
}

// WithPageDefaults sets the default and maximum page size.
func WithPageDefaults(d pagination.Defaults) BuilderOption {
	return func(b *SearchContextBuilder) { b.pages = d }
}

// WithMaxChainDepth limits chained parameters to n reference hops.
func WithMaxChainDepth(n int) BuilderOption {
	return func(b *SearchContextBuilder) { b.maxDepth = n }
}

// WithBuilderLogger sets the logger used for skipped parameters.
func WithBuilderLogger(l zerolog.Logger) BuilderOption {
	return func(b *SearchContextBuilder) { b.logger = l }
}

// WithBuilderMetrics records builds and warnings in m.
func WithBuilderMetrics(m *telemetry.SearchMetrics) BuilderOption {
	return func(b *SearchContextBuilder) { b.metrics = m }
}

// NewSearchContextBuilder creates a builder over registry and model.
func NewSearchContextBuilder(registry *Registry, model ResourceModel, opts ...BuilderOption) *SearchContextBuilder {
	b := &SearchContextBuilder{
		registry: registry,
		model:    model,
		parser:   defaultValueParser,
		pages:    pagination.StandardDefaults,
		maxDepth: MaxChainDepth,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.chains = NewChainResolver(registry, model, b.parser, b.maxDepth)
	return b
}

// Build interprets params for a search on resourceType, or a system-level
// search when resourceType is empty. In strict mode the first invalid
// parameter fails the build; in lenient mode it is skipped and recorded as
// a Warning. Escaping and composite arity errors fail in both modes.
func (b *SearchContextBuilder) Build(tenant, resourceType string, params RawParams, lenient bool) (*SearchContext, error) {
	start := time.Now()
	sc, err := b.build(tenant, resourceType, nil, params, lenient)
	b.metrics.ObserveBuild(start, err)
	return sc, err
}

// BuildCompartment is Build restricted to the members of one compartment
// instance, e.g. GET [base]/Patient/123/Observation.
func (b *SearchContextBuilder) BuildCompartment(tenant, resourceType string, compartment CompartmentSelector, params RawParams, lenient bool) (*SearchContext, error) {
	start := time.Now()
	sc, err := b.build(tenant, resourceType, &compartment, params, lenient)
	b.metrics.ObserveBuild(start, err)
	return sc, err
}

func (b *SearchContextBuilder) build(tenant, resourceType string, compartment *CompartmentSelector, params RawParams, lenient bool) (*SearchContext, error) {
	if resourceType != "" && !b.model.IsResourceType(resourceType) {
		return nil, newSearchError(ErrUnknownResourceType, "", resourceType, "'%s' is not a resource type", resourceType)
	}

	snap := b.registry.Snapshot(tenant)
	s := &buildState{
		b:    b,
		snap: snap,
		log:  b.logger.With().Str("tenant", snap.Tenant()).Logger(),
		sc: &SearchContext{
			ResourceType: resourceType,
			Parameters:   []*QueryParameter{},
			PageSize:     b.pages.DefaultSize,
			PageNumber:   1,
			Lenient:      lenient,
		},
	}
	if s.sc.PageSize <= 0 {
		s.sc.PageSize = pagination.DefaultPageSize
	}

	if err := s.resolveTypes(params); err != nil {
		return nil, err
	}
	if compartment != nil {
		if err := s.resolveCompartment(*compartment); err != nil {
			return nil, err
		}
	}
	if err := s.checkResultParams(params); err != nil {
		return nil, err
	}

	for _, p := range params {
		if err := s.apply(p); err != nil {
			return nil, err
		}
	}
	return s.sc, nil
}

// buildState carries one Build call.
type buildState struct {
	b    *SearchContextBuilder
	snap *Snapshot
	sc   *SearchContext
	log  zerolog.Logger

	// types are the resource types parameters resolve against.
	types          []string
	skipSort       bool
	skipInclusions bool
}

// fail returns err in strict mode. In lenient mode it records a warning
// and returns nil, except for structural errors.
func (s *buildState) fail(err error) error {
	if !s.sc.Lenient || IsStructural(err) {
		return err
	}
	w := newWarning(err)
	s.sc.Warnings = append(s.sc.Warnings, w)
	s.b.metrics.IncWarning(w.Kind)
	s.log.Debug().Str("parameter", w.Code).Str("kind", w.Kind).Msg(w.Message)
	return nil
}

// resolveTypes decides which resource types parameters resolve against.
func (s *buildState) resolveTypes(params RawParams) error {
	values, hasType := params.Get(paramType)
	if s.sc.ResourceType != "" {
		if hasType {
			s.log.Debug().Str("resourceType", s.sc.ResourceType).Msg("ignoring _type on a type-level search")
		}
		s.types = []string{s.sc.ResourceType}
		return nil
	}

	seen := make(map[string]bool)
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			if !s.b.model.IsResourceType(t) {
				if err := s.fail(newSearchError(ErrUnknownResourceType, paramType, t, "'%s' is not a resource type", t)); err != nil {
					return err
				}
				continue
			}
			seen[t] = true
			s.sc.ResourceTypes = append(s.sc.ResourceTypes, t)
		}
	}
	if len(s.sc.ResourceTypes) == 0 {
		s.types = []string{ResourceBase}
		return nil
	}
	s.types = s.sc.ResourceTypes
	return nil
}

// resolveCompartment builds the membership criteria for a compartment
// search. Criteria the tenant does not expose are left out.
func (s *buildState) resolveCompartment(sel CompartmentSelector) error {
	if s.sc.ResourceType == "" {
		return newSearchError(ErrUnknownResourceType, "", sel.Compartment, "compartment search needs a resource type")
	}
	if sel.ID == "" {
		return newSearchError(ErrMalformedValue, "", sel.Compartment, "compartment search needs an id")
	}
	codes := CompartmentCriteria(sel.Compartment, s.sc.ResourceType)
	if len(codes) == 0 {
		return newSearchError(ErrUnknownResourceType, "", s.sc.ResourceType, "%s is not a member of the %s compartment", s.sc.ResourceType, sel.Compartment)
	}

	def := GetCompartmentDefinitionByCode(sel.Compartment)
	sel.Compartment = def.Code
	sel.Criteria = nil
	for _, code := range codes {
		pd, ok := s.snap.Lookup(s.sc.ResourceType, code)
		if !ok {
			continue
		}
		var value QueryParameterValue
		if pd.Type == SearchParamReference {
			value.ValueString = sel.Compartment + "/" + sel.ID
		} else {
			value.Code = sel.ID
		}
		sel.Criteria = append(sel.Criteria, &QueryParameter{
			Type:   pd.Type,
			Code:   code,
			Values: []QueryParameterValue{value},
		})
	}
	if len(sel.Criteria) == 0 {
		return newSearchError(ErrUnknownParameter, "", s.sc.ResourceType, "no %s compartment parameter is enabled for %s", sel.Compartment, s.sc.ResourceType)
	}
	s.sc.Compartment = &sel
	return nil
}

// checkResultParams rejects result parameter combinations before any
// parameter is interpreted.
func (s *buildState) checkResultParams(params RawParams) error {
	hasInclusion := params.Has(paramInclude) || params.Has(paramRevinclude)
	if !hasInclusion {
		return nil
	}
	if s.sc.IsSystemSearch() {
		var err error
		if len(s.sc.ResourceTypes) > 0 {
			err = newSearchError(ErrIncompatibleResultParams, paramInclude, "", "_include and _revinclude cannot be combined with _type")
		} else {
			err = newSearchError(ErrInvalidInclusion, paramInclude, "", "_include and _revinclude need a resource type")
		}
		if err := s.fail(err); err != nil {
			return err
		}
		s.skipInclusions = true
	}
	if params.Has(paramSort) && !s.skipInclusions {
		err := newSearchError(ErrIncompatibleResultParams, paramSort, "", "_sort cannot be combined with _include or _revinclude")
		if err := s.fail(err); err != nil {
			return err
		}
		s.skipSort = true
	}
	return nil
}

func (s *buildState) apply(p RawParam) error {
	pn := ParseParamModifier(p.Name)
	switch {
	case generalParameters[p.Name]:
		return nil
	case p.Name == paramType:
		return nil
	case isResultParameter(pn.Code):
		if err := s.applyResult(p, pn); err != nil {
			return err
		}
		if s.sc.Summary == SummaryText && s.sc.HasInclusions() {
			s.log.Debug().Msg("_summary=text drops _include and _revinclude")
			s.sc.Includes, s.sc.RevIncludes = nil, nil
		}
		return nil
	}

	for _, v := range p.Values {
		qp, err := s.resolveParameter(p.Name, v)
		if err != nil {
			if err := s.fail(withCode(err, p.Name)); err != nil {
				return err
			}
			continue
		}
		s.sc.Parameters = append(s.sc.Parameters, qp)
	}
	return nil
}

func isResultParameter(code string) bool {
	switch code {
	case paramSort, paramCount, paramPage, paramInclude, paramRevinclude, paramElements, paramSummary:
		return true
	}
	return false
}

func (s *buildState) applyResult(p RawParam, pn ParamName) error {
	if pn.Modifier != "" && pn.Code != paramInclude && pn.Code != paramRevinclude {
		return s.fail(newSearchError(ErrInvalidResultParameter, p.Name, "", "%s takes no modifier", pn.Code))
	}
	for _, v := range p.Values {
		var err error
		switch pn.Code {
		case paramSort:
			if s.skipSort {
				return nil
			}
			err = s.applySort(v)
		case paramCount:
			err = s.applyCount(v)
		case paramPage:
			err = s.applyPage(v)
		case paramSummary:
			err = s.applySummary(v)
		case paramElements:
			err = s.applyElements(v)
		case paramInclude, paramRevinclude:
			if s.skipInclusions {
				return nil
			}
			err = s.applyInclusion(p.Name, pn, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *buildState) applyCount(v string) error {
	n, err := pagination.ParseCount(strings.TrimSpace(v), s.b.pages)
	if err != nil {
		return s.fail(newSearchError(ErrInvalidResultParameter, paramCount, v, "%v", err))
	}
	if n == 0 {
		s.sc.Summary = SummaryCount
		return nil
	}
	s.sc.PageSize = n
	return nil
}

func (s *buildState) applyPage(v string) error {
	n, err := pagination.ParsePage(strings.TrimSpace(v))
	if err != nil {
		return s.fail(newSearchError(ErrInvalidResultParameter, paramPage, v, "%v", err))
	}
	s.sc.PageNumber = n
	return nil
}

func (s *buildState) applySummary(v string) error {
	mode, ok := ParseSummaryMode(strings.TrimSpace(v))
	if !ok {
		return s.fail(newSearchError(ErrInvalidResultParameter, paramSummary, v, "expected one of true, text, data, count, false"))
	}
	s.sc.Summary = mode
	return nil
}

func (s *buildState) applyElements(v string) error {
	for _, raw := range SplitUnescaped(v, ',') {
		name, err := UnescapeSearchValue(strings.TrimSpace(raw))
		if err != nil {
			return newSearchError(ErrInvalidEscaping, paramElements, v, "odd number of unescaped backslashes")
		}
		if name == "" {
			continue
		}
		if err := s.checkElement(name); err != nil {
			if err := s.fail(err); err != nil {
				return err
			}
			continue
		}
		if !contains(s.sc.Elements, name) {
			s.sc.Elements = append(s.sc.Elements, name)
		}
	}
	return nil
}

// checkElement validates an _elements entry against every searched type.
func (s *buildState) checkElement(name string) error {
	if strings.HasPrefix(name, "_") {
		return newSearchError(ErrInvalidElement, paramElements, name, "'%s' is not a resource element", name)
	}
	for _, t := range s.types {
		if !contains(s.b.model.ElementNames(t), name) {
			return newSearchError(ErrInvalidElement, paramElements, name, "'%s' is not an element of %s", name, t)
		}
	}
	return nil
}

// resolveParameter resolves one filter parameter value.
func (s *buildState) resolveParameter(name, value string) (*QueryParameter, error) {
	if strings.Contains(name, ".") {
		return s.b.chains.resolve(s.snap, s.types, name, value)
	}

	pn := ParseParamModifier(name)
	defs, err := lookupAll(s.snap, s.types, pn.Code, name)
	if err != nil {
		return nil, err
	}
	for _, d := range defs[1:] {
		if d.Type != defs[0].Type {
			return nil, newSearchError(ErrUnknownParameter, name, "", "parameter '%s' has different types across %v", pn.Code, s.types)
		}
	}
	node, err := resolveTerminal(s.b.model, s.b.parser, defs[0], pn, value)
	if err != nil {
		return nil, err
	}
	if node.Modifier == ModifierType {
		for i, d := range defs[1:] {
			if !d.HasTarget(node.ModifierResourceType) {
				return nil, newSearchError(ErrUnsupportedModifier, name, "", "'%s' is not a target of '%s' on %s", node.ModifierResourceType, pn.Code, s.types[i+1])
			}
		}
	}
	return &node, nil
}
