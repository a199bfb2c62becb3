package fhir

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ResourceBase is the pseudo resource type carrying parameters that apply
// to every resource type (_id, _lastUpdated, ...).
const ResourceBase = "Resource"

// FilterRules maps a resource type to the built-in parameter codes a tenant
// exposes for it. A "*" key supplies the rule for unlisted types and a "*"
// code admits every code. A type mapped to an empty list admits nothing.
type FilterRules map[string][]string

// DefaultFilterRules admits every built-in parameter.
var DefaultFilterRules = FilterRules{"*": {"*"}}

// Allows reports whether the built-in parameter code on resourceType passes
// the rules.
func (r FilterRules) Allows(resourceType, code string) bool {
	if len(r) == 0 {
		r = DefaultFilterRules
	}
	codes, ok := r[resourceType]
	if !ok {
		codes, ok = r["*"]
	}
	if !ok {
		return false
	}
	for _, c := range codes {
		if c == "*" || c == code {
			return true
		}
	}
	return false
}

// TenantConfig is the raw per-tenant configuration.
type TenantConfig struct {
	FilterRules      FilterRules
	SearchParameters []SearchParameterResource
}

// typeParams holds the parameters of one resource type.
type typeParams struct {
	ordered []*SearchParameterDef
	byCode  map[string]*SearchParameterDef
	byURL   map[string][]*SearchParameterDef // versions in load order
}

func newTypeParams() *typeParams {
	return &typeParams{
		byCode: make(map[string]*SearchParameterDef),
		byURL:  make(map[string][]*SearchParameterDef),
	}
}

// add inserts def, replacing an existing definition with the same code in
// place so insertion order is kept. The replaced definition stays reachable
// by its canonical URL.
func (tp *typeParams) add(def *SearchParameterDef) {
	tp.byURL[def.URL] = append(tp.byURL[def.URL], def)
	if old, ok := tp.byCode[def.Code]; ok {
		for i, d := range tp.ordered {
			if d == old {
				tp.ordered[i] = def
				break
			}
		}
	} else {
		tp.ordered = append(tp.ordered, def)
	}
	tp.byCode[def.Code] = def
}

// Snapshot is one tenant's published, immutable view of its search
// parameters. It is safe for concurrent use.
type Snapshot struct {
	tenant     string
	generation uint64
	builtAt    time.Time
	types      map[string]*typeParams
}

// Tenant returns the tenant the snapshot was built for.
func (s *Snapshot) Tenant() string { return s.tenant }

// Generation increases with every snapshot a registry publishes.
func (s *Snapshot) Generation() uint64 { return s.generation }

// BuiltAt is when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

func (s *Snapshot) params(resourceType string) *typeParams {
	if tp, ok := s.types[resourceType]; ok {
		return tp
	}
	return s.types[ResourceBase]
}

// ParametersFor returns the parameters applicable to resourceType:
// Resource-level ones followed by type-specific ones, one per code.
func (s *Snapshot) ParametersFor(resourceType string) []*SearchParameterDef {
	tp := s.params(resourceType)
	if tp == nil {
		return nil
	}
	return append([]*SearchParameterDef(nil), tp.ordered...)
}

// Lookup finds a parameter by code.
func (s *Snapshot) Lookup(resourceType, code string) (*SearchParameterDef, bool) {
	tp := s.params(resourceType)
	if tp == nil {
		return nil, false
	}
	def, ok := tp.byCode[code]
	return def, ok
}

// LookupByURL finds a parameter by canonical URL. A "|version" suffix must
// match exactly; without one the most recently loaded version wins. Every
// loaded version stays reachable, even after a later definition took over
// its code.
func (s *Snapshot) LookupByURL(resourceType, canonical string) (*SearchParameterDef, bool) {
	tp := s.params(resourceType)
	if tp == nil {
		return nil, false
	}
	url, version := splitCanonical(canonical)
	defs := tp.byURL[url]
	if len(defs) == 0 {
		return nil, false
	}
	if version == "" {
		return defs[len(defs)-1], true
	}
	for i := len(defs) - 1; i >= 0; i-- {
		if defs[i].Version == version {
			return defs[i], true
		}
	}
	return nil, false
}

// ResourceTypes lists the resource types with type-specific parameters,
// sorted, plus "Resource".
func (s *Snapshot) ResourceTypes() []string {
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParameterCount is the number of distinct definitions in the snapshot.
func (s *Snapshot) ParameterCount() int {
	seen := make(map[*SearchParameterDef]bool)
	for _, tp := range s.types {
		for _, d := range tp.ordered {
			seen[d] = true
		}
	}
	return len(seen)
}

// snapshotInput is everything buildSnapshot needs for one tenant.
type snapshotInput struct {
	tenant     string
	generation uint64
	builtins   []*SearchParameterDef
	config     *TenantConfig
	compile    func(expression string) error
	logger     zerolog.Logger
}

// buildSnapshot merges the filtered built-in catalogue with the tenant's
// own definitions. User definitions are never filtered and replace a
// built-in with the same code.
func buildSnapshot(in snapshotInput) *Snapshot {
	log := in.logger.With().Str("tenant", in.tenant).Logger()
	rules := in.config.FilterRules

	var userDefs []*SearchParameterDef
	for i := range in.config.SearchParameters {
		sp := &in.config.SearchParameters[i]
		def, err := newSearchParameterDef(sp)
		if err != nil {
			log.Warn().Err(err).Str("url", sp.URL).Msg("skipping invalid tenant search parameter")
			continue
		}
		if def.Expression != "" && in.compile != nil {
			if err := in.compile(def.Expression); err != nil {
				log.Warn().Err(err).Str("url", def.URL).Str("expression", def.Expression).
					Msg("skipping tenant search parameter with invalid expression")
				continue
			}
		}
		userDefs = append(userDefs, def)
	}

	// Component definitions resolve against the unfiltered catalogue; a
	// composite may be exposed while its components are filtered out.
	byURL := make(map[string]*SearchParameterDef, len(in.builtins)+len(userDefs))
	for _, d := range in.builtins {
		byURL[d.URL] = d
	}
	for _, d := range userDefs {
		byURL[d.URL] = d
	}
	resolve := func(defs []*SearchParameterDef) []*SearchParameterDef {
		out := make([]*SearchParameterDef, 0, len(defs))
		for _, d := range defs {
			r, err := resolveComponents(d, byURL)
			if err != nil {
				log.Warn().Err(err).Msg("skipping composite search parameter")
				continue
			}
			out = append(out, r)
		}
		return out
	}
	builtins := resolve(in.builtins)
	userDefs = resolve(userDefs)

	types := map[string]bool{ResourceBase: true}
	for _, d := range append(append([]*SearchParameterDef(nil), builtins...), userDefs...) {
		for _, b := range d.Base {
			types[b] = true
		}
	}

	var baseBuiltins, baseUser []*SearchParameterDef
	for _, d := range builtins {
		if hasBase(d, ResourceBase) && rules.Allows(ResourceBase, d.Code) {
			baseBuiltins = append(baseBuiltins, d)
		}
	}
	for _, d := range userDefs {
		if hasBase(d, ResourceBase) {
			baseUser = append(baseUser, d)
		}
	}

	snap := &Snapshot{
		tenant:     in.tenant,
		generation: in.generation,
		builtAt:    time.Now(),
		types:      make(map[string]*typeParams, len(types)),
	}
	for t := range types {
		tp := newTypeParams()
		for _, d := range baseBuiltins {
			tp.add(d)
		}
		if t != ResourceBase {
			for _, d := range builtins {
				if hasBase(d, t) && rules.Allows(t, d.Code) {
					tp.add(d)
				}
			}
		}
		for _, d := range baseUser {
			tp.add(d)
		}
		if t != ResourceBase {
			for _, d := range userDefs {
				if hasBase(d, t) {
					tp.add(d)
				}
			}
		}
		snap.types[t] = tp
	}
	return snap
}

func hasBase(d *SearchParameterDef, resourceType string) bool {
	for _, b := range d.Base {
		if b == resourceType {
			return true
		}
	}
	return false
}
