package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordProvisioning(OutcomeCreated, time.Millisecond)
		m.RecordRouterResponse("status", "ok")
		m.SetTenantLocked("root", true)
		m.SetHealthStatus(true)
	})
}

func TestRecordProvisioning(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordProvisioning(OutcomeCreated, 10*time.Millisecond)
	m.RecordProvisioning(OutcomeReused, time.Millisecond)
	m.RecordProvisioning(OutcomeReused, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.provisioningTotal.WithLabelValues(OutcomeCreated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.provisioningTotal.WithLabelValues(OutcomeReused)))
}

func TestSetTenantLocked(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetTenantLocked("abc", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockedTenants.WithLabelValues("abc")))

	m.SetTenantLocked("abc", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lockedTenants.WithLabelValues("abc")))
}

func TestMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := Middleware(m, func(*http.Request) string { return "/status" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/status", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight))
}
