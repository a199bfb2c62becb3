package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirsearch/internal/platform/db"
	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/middleware"
	"github.com/ehr/fhirsearch/internal/platform/telemetry"
	"github.com/ehr/fhirsearch/internal/platform/tenant"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the search context API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewSearchMetrics(promReg)

	a, err := loadApp(ctx, nil, metrics)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if a.cfg.WatchTenantConfig && !a.cfg.UsesDatabase() {
		if err := startWatcher(ctx, a, logger); err != nil {
			logger.Warn().Err(err).Msg("tenant configuration hot reload disabled")
		}
	}

	e := newServer(a, metrics, promReg)

	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Strs("tenants", a.registry.Tenants()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func startWatcher(ctx context.Context, a *app, logger zerolog.Logger) error {
	if _, err := os.Stat(a.cfg.TenantConfigDir); err != nil {
		return err
	}
	w, err := tenant.NewWatcher(a.cfg.TenantConfigDir, a.registry, 0, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("tenant watcher stopped")
		}
	}()
	return nil
}

// newServer wires the middleware chain and routes.
func newServer(a *app, metrics *telemetry.SearchMetrics, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(telemetry.TracingMiddleware())
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "Prefer", middleware.RequestIDHeader, a.cfg.TenantHeader},
	}))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))

	e.GET("/healthz", db.HealthHandler(a.pool, a.registry.Tenants))
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler(gatherer)))

	tenantMW := tenant.Middleware(tenant.Config{
		DefaultTenant: a.cfg.DefaultTenant,
		Header:        a.cfg.TenantHeader,
		SigningKey:    signingKey(a.cfg.JWTSecret),
		Issuer:        a.cfg.JWTIssuer,
		Audience:      a.cfg.JWTAudience,
	})

	handler := fhir.NewSearchHandler(a.builder, a.registry, a.model, fhir.NewExtractor(), a.cfg.SearchLenient, a.logger)
	handler.RegisterRoutes(e.Group("/fhir", tenantMW))
	admin := e.Group("/admin")
	if len(signingKey(a.cfg.JWTSecret)) > 0 {
		admin.Use(tenantMW, tenant.RequireRole("tenant-admin"))
	}
	handler.RegisterAdminRoutes(admin)
	return e
}

func signingKey(secret string) []byte {
	if secret == "" {
		return nil
	}
	return []byte(secret)
}
