// Package metrics provides Prometheus metrics for the event store gateway.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Provisioning outcomes
const (
	OutcomeReused  = "reused"
	OutcomeCreated = "created"
	OutcomeHealed  = "healed"
	OutcomeFailed  = "failed"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	requestsInFlight     prometheus.Gauge
	routerResponses      *prometheus.CounterVec
	provisioningTotal    *prometheus.CounterVec
	provisioningDuration prometheus.Histogram
	schemaChanges        prometheus.Counter
	lockedTenants        *prometheus.GaugeVec
	healthStatus         prometheus.Gauge
}

// NewMetrics creates and registers metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdb_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventdb_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventdb_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		routerResponses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdb_router_responses_total",
				Help: "Routed responses by page and result code",
			},
			[]string{"page", "code"},
		),
		provisioningTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdb_provisioning_total",
				Help: "Store provisioning results by outcome",
			},
			[]string{"outcome"},
		),
		provisioningDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eventdb_provisioning_duration_seconds",
				Help:    "Time to obtain a ready tenant document",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		schemaChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eventdb_schema_changes_total",
				Help: "Number of schema runs that created tables or columns",
			},
		),
		lockedTenants: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventdb_tenant_admin_locked",
				Help: "1 if the tenant's admin secret is a placeholder and admin access is refused",
			},
			[]string{"tenant"},
		),
		healthStatus: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventdb_health_status",
				Help: "Health status of the gateway (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
}

// RecordRouterResponse counts a routed response.
func (m *Metrics) RecordRouterResponse(page, code string) {
	if m == nil {
		return
	}
	m.routerResponses.WithLabelValues(page, code).Inc()
}

// RecordProvisioning records a provisioning outcome and its duration.
func (m *Metrics) RecordProvisioning(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.provisioningTotal.WithLabelValues(outcome).Inc()
	m.provisioningDuration.Observe(duration.Seconds())
}

// RecordSchemaChange counts a schema run that modified a document.
func (m *Metrics) RecordSchemaChange() {
	if m == nil {
		return
	}
	m.schemaChanges.Inc()
}

// SetTenantLocked flags a tenant whose admin access is locked.
func (m *Metrics) SetTenantLocked(tenantID string, locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.lockedTenants.WithLabelValues(tenantID).Set(1)
	} else {
		m.lockedTenants.WithLabelValues(tenantID).Set(0)
	}
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records HTTP metrics. route names the matched route template so
// label cardinality stays bounded.
func Middleware(m *Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, route(r), rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
