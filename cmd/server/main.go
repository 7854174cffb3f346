// Package main provides the entry point for the event store gateway.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zeventbooks/eventdb/internal/auth"
	"github.com/zeventbooks/eventdb/internal/config"
	"github.com/zeventbooks/eventdb/internal/document"
	"github.com/zeventbooks/eventdb/internal/handler"
	"github.com/zeventbooks/eventdb/internal/health"
	"github.com/zeventbooks/eventdb/internal/metrics"
	"github.com/zeventbooks/eventdb/internal/provision"
	"github.com/zeventbooks/eventdb/internal/router"
	"github.com/zeventbooks/eventdb/internal/schema"
	"github.com/zeventbooks/eventdb/internal/server"
	"github.com/zeventbooks/eventdb/internal/store"
	"github.com/zeventbooks/eventdb/internal/tenant"
	"github.com/zeventbooks/eventdb/internal/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", os.Getenv("EVENTDB_CONFIG"), "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger := initLogger(config.LoggingConfig{})
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	logger := initLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting event store gateway",
		zap.String("build", version.Build),
		zap.String("contract", version.Contract),
	)
	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("binding_driver", cfg.Binding.Driver),
		zap.String("document_driver", cfg.Document.Driver),
		zap.Int("tenants", len(cfg.Tenants)),
	)

	// Initialize metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	m.SetHealthStatus(true)

	// Initialize binding store
	bindings, err := store.New(cfg.Binding, logger)
	if err != nil {
		logger.Fatal("failed to create binding store", zap.Error(err))
	}
	defer bindings.Close()

	// Initialize document service
	docs, err := newDocumentService(cfg.Document, logger)
	if err != nil {
		logger.Fatal("failed to create document service", zap.Error(err))
	}
	defer docs.Close()

	resolver, err := tenant.NewResolver(cfg.Tenants, cfg.DefaultTenant)
	if err != nil {
		logger.Fatal("failed to load tenants", zap.Error(err))
	}

	guard := auth.NewGuard(cfg.Auth.PlaceholderSecrets, m, logger)
	if locked := guard.Audit(resolver.List()); len(locked) > 0 {
		logger.Warn("admin pages locked until a real admin secret is configured",
			zap.Strings("tenants", locked))
	}

	schemaManager := schema.NewManager(schema.Required(), logger)
	prov := provision.NewProvisioner(bindings, docs, schemaManager, cfg.Provisioning.Timeout, m, logger)

	pages := router.New(resolver, guard, prov, m, logger)
	handler.NewHandlers(prov, guard, resolver, schemaManager, logger).Register(pages)

	if cfg.Provisioning.WarmOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Provisioning.Timeout*2)
		if err := prov.Warm(ctx, resolver.IDs(), cfg.Provisioning.WarmConcurrency); err != nil {
			logger.Warn("store warm-up incomplete", zap.Error(err))
		}
		cancel()
	}

	// Start metrics server if enabled
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, prometheus.DefaultGatherer, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		logger.Info("metrics server started",
			zap.Int("port", cfg.Metrics.Port),
			zap.String("path", cfg.Metrics.Path),
		)
	}

	// Initialize HTTP server
	httpServer := server.NewServer(cfg, pages, map[string]health.Pinger{"bindings": bindings}, m, logger)
	httpServer.SetupRoutes()

	// Start HTTP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("HTTP server started",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("pages", pages.Pages()),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	m.SetHealthStatus(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("event store gateway shutdown complete")
}

// newDocumentService opens the document backend selected by cfg.Driver.
func newDocumentService(cfg config.DocumentConfig, logger *zap.Logger) (document.Service, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory documents; tenant data will not survive a restart")
		return document.NewMemoryService(), nil
	}
	return document.NewSQLiteService(cfg.DataDir, logger)
}

// initLogger initializes the zap logger. LOG_LEVEL and LOG_FORMAT override
// the configured values.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = cfg.Level
	}

	var level zapcore.Level
	switch logLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = cfg.Format
	}

	var zcfg zap.Config
	if logFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
