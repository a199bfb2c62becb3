package tenant

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// DefaultHeader carries the tenant id when no token names one.
const DefaultHeader = "X-FHIR-TENANT-ID"

// Claims is the subset of bearer-token claims the tenant resolver reads.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}

// Config controls how a request's tenant is resolved.
type Config struct {
	DefaultTenant string
	Header        string
	// SigningKey verifies HS256 bearer tokens. Without one, the
	// Authorization header is not consulted.
	SigningKey []byte
	Issuer     string
	Audience   string
}

// Middleware resolves the tenant of each request and stores it on the
// request context and as "tenant_id" on the echo context. Sources are
// tried in order: a verified bearer-token claim, the tenant header, the
// tenant_id query parameter, then the default tenant.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID, roles, err := extractTenantID(c, cfg)
			if err != nil {
				return err
			}
			if !ValidID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := WithTenant(c.Request().Context(), tenantID)
			if roles != nil {
				ctx = WithRoles(ctx, roles)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			return next(c)
		}
	}
}

// extractTenantID also returns the roles of a verified token, nil when
// there is none.
func extractTenantID(c echo.Context, cfg Config) (string, []string, error) {
	var roles []string

	// 1. Check JWT claim
	if len(cfg.SigningKey) > 0 {
		if tokenStr, ok := bearerToken(c.Request()); ok {
			claims, err := parseClaims(tokenStr, cfg)
			if err != nil {
				return "", nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			roles = append([]string{}, claims.Roles...)
			if claims.TenantID != "" {
				return claims.TenantID, roles, nil
			}
		}
	}

	// 2. Check tenant header
	if tid := c.Request().Header.Get(cfg.Header); tid != "" {
		return tid, roles, nil
	}

	// 3. Check query parameter
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid, roles, nil
	}

	return cfg.DefaultTenant, roles, nil
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func parseClaims(tokenStr string, cfg Config) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
