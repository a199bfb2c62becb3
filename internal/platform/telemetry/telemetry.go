// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the search service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// SearchMetrics tracks search-context builds and registry reloads.
// A nil *SearchMetrics is valid and records nothing.
type SearchMetrics struct {
	BuildsTotal        *prometheus.CounterVec
	BuildDuration      prometheus.Histogram
	WarningsTotal      *prometheus.CounterVec
	ReloadsTotal       *prometheus.CounterVec
	RegistryParameters *prometheus.GaugeVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewSearchMetrics registers all search metrics with reg.
func NewSearchMetrics(reg prometheus.Registerer) *SearchMetrics {
	f := promauto.With(reg)
	return &SearchMetrics{
		BuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fhirsearch_context_builds_total",
			Help: "Search context builds by outcome",
		}, []string{"outcome"}),
		BuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fhirsearch_context_build_duration_seconds",
			Help:    "Duration of search context builds",
			Buckets: defaultDurationBuckets,
		}),
		WarningsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fhirsearch_lenient_warnings_total",
			Help: "Parameters skipped in lenient mode, by error kind",
		}, []string{"kind"}),
		ReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fhirsearch_registry_reloads_total",
			Help: "Tenant registry snapshot rebuilds by tenant and outcome",
		}, []string{"tenant", "outcome"}),
		RegistryParameters: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fhirsearch_registry_parameters",
			Help: "Distinct search parameter definitions in the published snapshot",
		}, []string{"tenant"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fhirsearch_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fhirsearch_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveBuild records a finished build. Call with time.Now() taken at the
// start of the build.
func (m *SearchMetrics) ObserveBuild(start time.Time, err error) {
	if m == nil {
		return
	}
	m.BuildsTotal.WithLabelValues(outcome(err)).Inc()
	m.BuildDuration.Observe(time.Since(start).Seconds())
}

// IncWarning counts one lenient-mode skip of the given kind.
func (m *SearchMetrics) IncWarning(kind string) {
	if m == nil {
		return
	}
	m.WarningsTotal.WithLabelValues(kind).Inc()
}

// ObserveReload records a tenant snapshot rebuild and its size.
func (m *SearchMetrics) ObserveReload(tenant string, params int, err error) {
	if m == nil {
		return
	}
	m.ReloadsTotal.WithLabelValues(tenant, outcome(err)).Inc()
	if err == nil {
		m.RegistryParameters.WithLabelValues(tenant).Set(float64(params))
	}
}

// Middleware records request counts and latency per route pattern.
func (m *SearchMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
