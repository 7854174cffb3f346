// Package health provides health check endpoints for the gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/zeventbooks/eventdb/internal/metrics"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	checks        map[string]Pinger
	metrics       *metrics.Metrics
	logger        *zap.Logger
	checkInterval time.Duration
	checkTimeout  time.Duration

	mu        sync.RWMutex
	ready     bool
	lastCheck time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHealthCheck creates a new HealthCheck instance and starts the
// background check loop. Call Stop to end it.
func NewHealthCheck(checks map[string]Pinger, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *HealthCheck {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hc := &HealthCheck{
		checks:        checks,
		metrics:       m,
		logger:        logger,
		checkInterval: interval,
		checkTimeout:  5 * time.Second,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	// Start background health check
	go hc.backgroundCheck()

	return hc
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK if every dependency answered its last ping.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if hc.IsReady() {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: hc.healthyChecks()})
		return
	}

	// Perform a fresh check if not ready
	ctx, cancel := context.WithTimeout(r.Context(), hc.checkTimeout)
	defer cancel()

	results, ok := hc.run(ctx)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: results})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: results})
}

// run pings every dependency and records the result
func (hc *HealthCheck) run(ctx context.Context) (map[string]string, bool) {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	ok := true
	for _, name := range names {
		if err := hc.checks[name].Ping(ctx); err != nil {
			ok = false
			results[name] = "unhealthy"
			hc.logger.Warn("health check failed",
				zap.String("check", name),
				zap.Error(err))
			continue
		}
		results[name] = "healthy"
	}

	// Update ready status
	hc.mu.Lock()
	hc.ready = ok
	hc.lastCheck = time.Now()
	hc.mu.Unlock()
	hc.metrics.SetHealthStatus(ok)

	return results, ok
}

// backgroundCheck performs periodic health checks.
func (hc *HealthCheck) backgroundCheck() {
	defer close(hc.done)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
			hc.run(ctx)
			cancel()
		}
	}
}

// Stop ends the background check loop.
func (hc *HealthCheck) Stop() {
	hc.stopOnce.Do(func() { close(hc.stop) })
	<-hc.done
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status (for testing).
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

func (hc *HealthCheck) healthyChecks() map[string]string {
	results := make(map[string]string, len(hc.checks))
	for name := range hc.checks {
		results[name] = "healthy"
	}
	return results
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
