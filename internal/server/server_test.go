package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeventbooks/eventdb/internal/auth"
	"github.com/zeventbooks/eventdb/internal/config"
	"github.com/zeventbooks/eventdb/internal/document"
	apierrors "github.com/zeventbooks/eventdb/internal/errors"
	"github.com/zeventbooks/eventdb/internal/handler"
	"github.com/zeventbooks/eventdb/internal/health"
	"github.com/zeventbooks/eventdb/internal/metrics"
	"github.com/zeventbooks/eventdb/internal/provision"
	"github.com/zeventbooks/eventdb/internal/router"
	"github.com/zeventbooks/eventdb/internal/server"
	"github.com/zeventbooks/eventdb/internal/store"
	"github.com/zeventbooks/eventdb/internal/tenant"
	"go.uber.org/zap"
)

func testConfig(rateLimited bool) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		DefaultTenant: "root",
		Tenants: []config.TenantConfig{
			{ID: "root", Name: "Root", AdminSecret: "CHANGE_ME"},
			{ID: "abc", Name: "ABC Events", AdminSecret: "abc-key"},
		},
		RateLimiter: config.RateLimiterConfig{
			Enabled:           rateLimited,
			RequestsPerSecond: 1,
			BurstSize:         2,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	resolver, err := tenant.NewResolver(cfg.Tenants, cfg.DefaultTenant)
	require.NoError(t, err)

	bindings := store.NewMemoryBindingStore()
	prov := provision.NewProvisioner(bindings, document.NewMemoryService(), nil, time.Second, m, logger)
	guard := auth.NewGuard(nil, m, logger)

	pages := router.New(resolver, guard, prov, m, logger)
	handler.NewHandlers(prov, guard, resolver, nil, logger).Register(pages)

	srv := server.NewServer(cfg, pages, map[string]health.Pinger{"bindings": bindings}, m, logger)
	srv.SetupRoutes()
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv.GetHandler()
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, apierrors.Envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

	var env apierrors.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestServer_QueryStyleRoutes(t *testing.T) {
	h := newTestServer(t, testConfig(false))

	w, env := get(t, h, "/?page=status&tenant=abc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.OK)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, env = get(t, h, "/exec?p=manage&tenant=abc&adminKey=abc-key")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.OK)
}

func TestServer_PathStyleRoutes(t *testing.T) {
	h := newTestServer(t, testConfig(false))

	w, env := get(t, h, "/abc/events")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.OK)

	w, env = get(t, h, "/abc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.OK)

	w, env = get(t, h, "/status?tenant=abc")
	assert.Equal(t, http.StatusOK, w.Code)
	value, ok := env.Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", value["tenant"])
	assert.Equal(t, map[string]interface{}{"ok": true, "id": "abc_DB"}, value["store"])
}

func TestServer_ErrorCodes(t *testing.T) {
	h := newTestServer(t, testConfig(false))

	tests := []struct {
		name   string
		target string
		status int
		code   apierrors.ErrorCode
	}{
		{"unknown page", "/?page=nonexistent&tenant=abc", http.StatusNotFound, apierrors.ErrorCodeNotFound},
		{"unknown page in path", "/abc/nonexistent", http.StatusNotFound, apierrors.ErrorCodeNotFound},
		{"unknown tenant", "/nope/public", http.StatusNotFound, apierrors.ErrorCodeUnknownTenant},
		{"wrong key", "/abc/admin?adminKey=nope", http.StatusForbidden, apierrors.ErrorCodeAccessDenied},
		{"default secret", "/root/admin?adminKey=CHANGE_ME", http.StatusForbidden, apierrors.ErrorCodeAccessDenied},
		{"unknown route", "/a/b/c", http.StatusNotFound, apierrors.ErrorCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := get(t, h, tt.target)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, env.OK)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, testConfig(false))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/abc/admin", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_HealthEndpoints(t *testing.T) {
	h := newTestServer(t, testConfig(false))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bindings":"healthy"`)
}

func TestServer_RateLimitPerTenant(t *testing.T) {
	h := newTestServer(t, testConfig(true))

	for i := 0; i < 2; i++ {
		w, _ := get(t, h, "/abc/status")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w, env := get(t, h, "/abc/status")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apierrors.ErrorCodeRateLimited, env.Code)

	w, _ = get(t, h, "/root/status")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimitUnknownTenantsShareBucket(t *testing.T) {
	h := newTestServer(t, testConfig(true))

	// Burst is 2: made-up tenant names draw from one bucket between them.
	for _, target := range []string{"/junk1/status", "/?tenant=junk2&page=status"} {
		w, env := get(t, h, target)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.Equal(t, apierrors.ErrorCodeUnknownTenant, env.Code, target)
	}

	w, env := get(t, h, "/junk3/status")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apierrors.ErrorCodeRateLimited, env.Code)

	// Configured tenants keep their own buckets, matched case-insensitively.
	w, _ = get(t, h, "/ABC/status")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = get(t, h, "/abc/status")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = get(t, h, "/abc/status")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// No tenant parameter falls into the default tenant's bucket.
	w, _ = get(t, h, "/?page=status")
	assert.Equal(t, http.StatusOK, w.Code)
}
