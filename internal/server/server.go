// Package server provides the HTTP server implementation for the gateway.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeventbooks/eventdb/internal/config"
	"github.com/zeventbooks/eventdb/internal/converter"
	apierrors "github.com/zeventbooks/eventdb/internal/errors"
	"github.com/zeventbooks/eventdb/internal/health"
	"github.com/zeventbooks/eventdb/internal/metrics"
	"github.com/zeventbooks/eventdb/internal/middleware"
	"github.com/zeventbooks/eventdb/internal/router"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	pages        *router.Router
	healthCheck  *health.HealthCheck
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. checks are pinged by /ready.
func NewServer(
	cfg *config.Config,
	pages *router.Router,
	checks map[string]health.Pinger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	r := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)
	healthCheck := health.NewHealthCheck(checks, 5*time.Second, m, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       r,
		httpServer:   httpServer,
		pages:        pages,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.errorHandler, s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS([]string{"*"}),
		metrics.Middleware(s.metrics, routeTemplate),
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.tenantKey,
			s.errorHandler,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	if s.cfg.Server.WriteTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.Server.WriteTimeout))
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// Query-style pages: /?page=admin&tenant=abc and the legacy /exec?p=...
	s.router.HandleFunc("/", s.handlePage).Methods(http.MethodGet)
	s.router.HandleFunc("/exec", s.handlePage).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Path-style pages
	s.router.HandleFunc("/{tenant}", s.handlePage).Methods(http.MethodGet)
	s.router.HandleFunc("/{tenant}/{page}", s.handlePage).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteNotFound(w, r.Header.Get(middleware.RequestIDHeader))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteResponse(w, http.StatusMethodNotAllowed,
			apierrors.Failure(apierrors.ErrorCodeNotFound, "method not allowed"))
	})
}

// handlePage routes a request by its tenant and page parameters.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, converter.RequestParams(r))
}

// handleStatus serves the status page for the tenant in the query.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	params := converter.RequestParams(r)
	params.Set(router.ParamPage, "status")
	params.Del(router.ParamPageAlt)
	s.serve(w, r, params)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, params url.Values) {
	resp := s.pages.Handle(r.Context(), params)
	if resp.Status >= http.StatusInternalServerError {
		s.logger.Warn("page request failed",
			zap.String("tenant_id", resp.TenantID),
			zap.String("page", resp.Page),
			zap.String("state", string(resp.State)),
			zap.String("request_id", r.Header.Get(middleware.RequestIDHeader)))
	}
	s.errorHandler.WriteResponse(w, resp.Status, resp.Envelope)
}

// unknownTenantKey is the one rate limit bucket shared by every tenant name
// that is not configured.
const unknownTenantKey = "~unknown"

// tenantKey buckets rate limits by configured tenant
func (s *Server) tenantKey(r *http.Request) string {
	raw := mux.Vars(r)[converter.VarTenant]
	if raw == "" {
		raw = r.URL.Query().Get(router.ParamTenant)
	}
	if id, ok := s.pages.TenantID(raw); ok {
		return id
	}
	return unknownTenantKey
}

// routeTemplate labels metrics by route pattern instead of raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	defer s.healthCheck.Stop()
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
