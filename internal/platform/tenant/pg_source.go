package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

// Schema creates the tables PGSource reads.
const Schema = `
CREATE TABLE IF NOT EXISTS search_parameter_filter (
	tenant_id     TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	code          TEXT NOT NULL,
	PRIMARY KEY (tenant_id, resource_type, code)
);
CREATE TABLE IF NOT EXISTS extension_search_parameter (
	tenant_id TEXT NOT NULL,
	url       TEXT NOT NULL,
	version   TEXT NOT NULL DEFAULT '',
	resource  JSONB NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, url, version)
);`

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGSource reads tenant configuration from Postgres. A tenant exists when
// it has filter rows or extension rows; the default tenant always exists.
type PGSource struct {
	db            queryable
	defaultTenant string
}

// NewPGSource creates a PGSource over a pool, connection or transaction.
func NewPGSource(db queryable, defaultTenant string) *PGSource {
	if defaultTenant == "" {
		defaultTenant = fhir.DefaultTenant
	}
	return &PGSource{db: db, defaultTenant: defaultTenant}
}

// EnsureSchema creates the configuration tables if they are missing.
func (s *PGSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create tenant configuration tables: %w", err)
	}
	return nil
}

// BuiltinCatalog returns the embedded FHIR R4 search parameters.
func (s *PGSource) BuiltinCatalog(ctx context.Context) ([]fhir.SearchParameterResource, error) {
	return fhir.DefaultSearchParameters()
}

// TenantIDs lists every tenant with configuration rows.
func (s *PGSource) TenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id FROM search_parameter_filter
		UNION
		SELECT tenant_id FROM extension_search_parameter
		ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TenantConfig loads one tenant's filter rules and extension parameters.
func (s *PGSource) TenantConfig(ctx context.Context, tenantID string) (*fhir.TenantConfig, error) {
	rules, err := s.filterRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	params, err := s.extensions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 && len(params) == 0 && tenantID != s.defaultTenant {
		return nil, fmt.Errorf("%w: %s", fhir.ErrTenantNotFound, tenantID)
	}
	return &fhir.TenantConfig{FilterRules: rules, SearchParameters: params}, nil
}

func (s *PGSource) filterRules(ctx context.Context, tenantID string) (fhir.FilterRules, error) {
	rows, err := s.db.Query(ctx, `
		SELECT resource_type, code FROM search_parameter_filter
		WHERE tenant_id = $1
		ORDER BY resource_type, code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load filter rules for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var rules fhir.FilterRules
	for rows.Next() {
		var resourceType, code string
		if err := rows.Scan(&resourceType, &code); err != nil {
			return nil, fmt.Errorf("scan filter rule: %w", err)
		}
		if rules == nil {
			rules = make(fhir.FilterRules)
		}
		rules[resourceType] = append(rules[resourceType], code)
	}
	return rules, rows.Err()
}

func (s *PGSource) extensions(ctx context.Context, tenantID string) ([]fhir.SearchParameterResource, error) {
	rows, err := s.db.Query(ctx, `
		SELECT resource FROM extension_search_parameter
		WHERE tenant_id = $1
		ORDER BY loaded_at, url, version`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load extension parameters for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []fhir.SearchParameterResource
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan extension parameter: %w", err)
		}
		var sp fhir.SearchParameterResource
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, fmt.Errorf("decode extension parameter for %s: %w", tenantID, err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}
