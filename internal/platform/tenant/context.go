// Package tenant resolves the tenant a request runs as and loads tenant
// search configuration from files or Postgres.
package tenant

import (
	"context"
	"regexp"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	rolesKey    contextKey = "roles"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id is usable as a tenant identifier.
func ValidID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// WithTenant returns a copy of ctx carrying the tenant id.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// FromContext retrieves the tenant id from ctx, or "" when none is set.
func FromContext(ctx context.Context) string {
	tid, _ := ctx.Value(tenantIDKey).(string)
	return tid
}

// WithRoles returns a copy of ctx carrying the caller's verified roles.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// RolesFromContext returns the roles of a verified bearer token.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}
