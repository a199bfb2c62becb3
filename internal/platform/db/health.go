package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status  string     `json:"status"`
	Tenants []string   `json:"tenants"`
	Pool    *PoolStats `json:"pool,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// HealthHandler reports the tenants with a published snapshot and, when a
// pool is configured, the database connection state.
func HealthHandler(pool *pgxpool.Pool, tenants func() []string) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := HealthStatus{Status: "healthy", Tenants: tenants()}
		if pool == nil {
			return c.JSON(http.StatusOK, status)
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := pool.Ping(ctx)
		status.Pool = GetPoolStats(pool)
		if err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		return c.JSON(http.StatusOK, status)
	}
}
