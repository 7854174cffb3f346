package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeventbooks/eventdb/internal/config"
	"go.uber.org/zap"
)

// New creates the binding store selected by cfg.Driver
func New(cfg config.BindingConfig, logger *zap.Logger) (BindingStore, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create binding store dir: %w", err)
		}
		return NewBoltBindingStore(cfg.Path, logger)
	case config.DriverRedis:
		r := cfg.Redis
		return NewRedisBindingStore(r.Host, r.Port, r.Password, r.DB, r.KeyPrefix, logger)
	case config.DriverPostgres:
		p := cfg.Postgres
		return NewPostgresBindingStore(p.Host, p.Port, p.Database, p.User, p.Password,
			p.MaxConnections, p.MinConnections, logger)
	case config.DriverMemory:
		logger.Warn("using in-memory binding store; bindings will not survive a restart")
		return NewMemoryBindingStore(), nil
	default:
		return nil, fmt.Errorf("unknown binding driver: %s", cfg.Driver)
	}
}
