package fhir

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofhir/fhirpath"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhirsearch/internal/platform/telemetry"
)

// DefaultTenant is the tenant used when a request names none and when a
// named tenant has no configuration of its own.
const DefaultTenant = "default"

// TenantSource supplies the raw configuration a Registry is built from.
type TenantSource interface {
	// BuiltinCatalog returns the built-in search parameters shared by all tenants.
	BuiltinCatalog(ctx context.Context) ([]SearchParameterResource, error)
	// TenantIDs lists the tenants with configuration.
	TenantIDs(ctx context.Context) ([]string, error)
	// TenantConfig returns a tenant's configuration, or ErrTenantNotFound.
	TenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error)
}

// Registry publishes one immutable Snapshot per tenant. Reads never lock;
// Reload swaps in a rebuilt snapshot atomically.
type Registry struct {
	source        TenantSource
	defaultTenant string
	logger        zerolog.Logger
	metrics       *telemetry.SearchMetrics
	compile       func(string) error

	builtins   []*SearchParameterDef
	mu         sync.Mutex // serializes Reload
	snapshots  atomic.Pointer[map[string]*Snapshot]
	generation atomic.Uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTenant overrides DefaultTenant.
func WithDefaultTenant(id string) RegistryOption {
	return func(r *Registry) { r.defaultTenant = id }
}

// WithRegistryLogger sets the logger for build and reload events.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryMetrics records reloads in m.
func WithRegistryMetrics(m *telemetry.SearchMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// compileExpression checks that a SearchParameter expression is valid FHIRPath.
func compileExpression(expr string) error {
	_, err := fhirpath.Compile(expr)
	return err
}

// NewRegistry loads the built-in catalogue and builds every tenant's
// snapshot concurrently. It fails if the default tenant has no
// configuration.
func NewRegistry(ctx context.Context, source TenantSource, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		source:        source,
		defaultTenant: DefaultTenant,
		logger:        zerolog.Nop(),
		compile:       compileExpression,
	}
	for _, opt := range opts {
		opt(r)
	}

	raw, err := source.BuiltinCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load built-in search parameters: %w", err)
	}
	for i := range raw {
		def, err := newSearchParameterDef(&raw[i])
		if err != nil {
			r.logger.Warn().Err(err).Str("url", raw[i].URL).Msg("skipping invalid built-in search parameter")
			continue
		}
		r.builtins = append(r.builtins, def)
	}

	ids, err := source.TenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	if !contains(ids, r.defaultTenant) {
		ids = append(ids, r.defaultTenant)
	}

	var (
		mu    sync.Mutex
		snaps = make(map[string]*Snapshot, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			snap, err := r.buildTenant(gctx, id)
			if errors.Is(err, ErrTenantNotFound) && id != r.defaultTenant {
				r.logger.Warn().Str("tenant", id).Msg("tenant listed without configuration; using default")
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			snaps[id] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.snapshots.Store(&snaps)
	r.logger.Info().Int("tenants", len(snaps)).Int("builtins", len(r.builtins)).Msg("search parameter registry ready")
	return r, nil
}

func (r *Registry) buildTenant(ctx context.Context, tenant string) (*Snapshot, error) {
	cfg, err := r.source.TenantConfig(ctx, tenant)
	if errors.Is(err, ErrTenantNotFound) && tenant == r.defaultTenant {
		return nil, fmt.Errorf("%w: %q", ErrMissingDefaultTenant, tenant)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %q: %w", tenant, err)
	}
	if cfg == nil {
		cfg = &TenantConfig{}
	}

	start := time.Now()
	snap := buildSnapshot(snapshotInput{
		tenant:     tenant,
		generation: r.generation.Add(1),
		builtins:   r.builtins,
		config:     cfg,
		compile:    r.compile,
		logger:     r.logger,
	})
	count := snap.ParameterCount()
	r.metrics.ObserveReload(tenant, count, nil)
	r.logger.Info().
		Str("tenant", tenant).
		Uint64("generation", snap.Generation()).
		Int("parameters", count).
		Dur("took", time.Since(start)).
		Msg("tenant snapshot built")
	return snap, nil
}

// Reload rebuilds tenant's snapshot and publishes it. Readers holding the
// previous snapshot keep a consistent view. A tenant whose configuration has
// disappeared is dropped and falls back to the default tenant.
func (r *Registry) Reload(ctx context.Context, tenant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.buildTenant(ctx, tenant)
	current := *r.snapshots.Load()
	next := make(map[string]*Snapshot, len(current)+1)
	for k, v := range current {
		next[k] = v
	}

	switch {
	case errors.Is(err, ErrTenantNotFound) && tenant != r.defaultTenant:
		delete(next, tenant)
		r.logger.Info().Str("tenant", tenant).Msg("tenant configuration removed; using default")
	case err != nil:
		r.metrics.ObserveReload(tenant, 0, err)
		return err
	default:
		next[tenant] = snap
	}
	r.snapshots.Store(&next)
	return nil
}

// Snapshot returns tenant's published snapshot, or the default tenant's
// when tenant has none.
func (r *Registry) Snapshot(tenant string) *Snapshot {
	m := *r.snapshots.Load()
	if s, ok := m[tenant]; ok {
		return s
	}
	return m[r.defaultTenant]
}

// DefaultTenantID returns the fallback tenant.
func (r *Registry) DefaultTenantID() string { return r.defaultTenant }

// Tenants lists tenants with their own snapshot.
func (r *Registry) Tenants() []string {
	m := *r.snapshots.Load()
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParametersFor returns the parameters tenant exposes for resourceType.
func (r *Registry) ParametersFor(tenant, resourceType string) []*SearchParameterDef {
	return r.Snapshot(tenant).ParametersFor(resourceType)
}

// Lookup finds a parameter by code.
func (r *Registry) Lookup(tenant, resourceType, code string) (*SearchParameterDef, bool) {
	return r.Snapshot(tenant).Lookup(resourceType, code)
}

// LookupByURL finds a parameter by canonical URL, optionally "|version".
func (r *Registry) LookupByURL(tenant, resourceType, url string) (*SearchParameterDef, bool) {
	return r.Snapshot(tenant).LookupByURL(resourceType, url)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ValidateTenantConfig reports every problem in cfg that would make the
// registry drop or ignore part of it. A nil result means the whole
// configuration is usable.
func ValidateTenantConfig(cfg *TenantConfig, model ResourceModel) []error {
	var errs []error
	knownType := func(t string) bool { return t == ResourceBase || model.IsResourceType(t) }

	for resourceType := range cfg.FilterRules {
		if resourceType != "*" && !knownType(resourceType) {
			errs = append(errs, fmt.Errorf("filter rule: %q is not a resource type", resourceType))
		}
	}
	for i := range cfg.SearchParameters {
		sp := &cfg.SearchParameters[i]
		if err := validateSearchParameter(sp); err != nil {
			errs = append(errs, fmt.Errorf("search parameter %q: %w", sp.URL, err))
			continue
		}
		for _, b := range sp.Base {
			if !knownType(b) {
				errs = append(errs, fmt.Errorf("search parameter %q: base %q is not a resource type", sp.URL, b))
			}
		}
		if sp.Expression != "" {
			if err := compileExpression(sp.Expression); err != nil {
				errs = append(errs, fmt.Errorf("search parameter %q: expression: %w", sp.URL, err))
			}
		}
	}
	return errs
}
