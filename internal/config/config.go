// Package config provides configuration management for the event store gateway.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	DefaultTenant string             `mapstructure:"default_tenant"`
	Tenants       []TenantConfig     `mapstructure:"tenants"`
	TenantsFile   string             `mapstructure:"tenants_file"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Binding       BindingConfig      `mapstructure:"binding"`
	Document      DocumentConfig     `mapstructure:"document"`
	Provisioning  ProvisioningConfig `mapstructure:"provisioning"`
	RateLimiter   RateLimiterConfig  `mapstructure:"rate_limiter"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TenantConfig holds the static configuration of one tenant.
type TenantConfig struct {
	ID          string          `mapstructure:"id" yaml:"id"`
	Name        string          `mapstructure:"name" yaml:"name"`
	AdminSecret string          `mapstructure:"admin_secret" yaml:"admin_secret"`
	Features    map[string]bool `mapstructure:"features" yaml:"features"`
}

// AuthConfig holds admin key guard configuration.
type AuthConfig struct {
	PlaceholderSecrets []string `mapstructure:"placeholder_secrets"`
}

// BindingConfig selects and configures the tenant binding store.
type BindingConfig struct {
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds Redis binding store configuration.
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PostgresConfig holds PostgreSQL binding store configuration.
type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// DocumentConfig selects and configures the backing document service.
type DocumentConfig struct {
	Driver  string `mapstructure:"driver"`
	DataDir string `mapstructure:"data_dir"`
}

// ProvisioningConfig holds store provisioner configuration.
type ProvisioningConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	WarmOnStart     bool          `mapstructure:"warm_on_start"`
	WarmConcurrency int           `mapstructure:"warm_concurrency"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Binding and document drivers.
const (
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
)

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/eventdb/")
	}

	// Read environment variables
	v.SetEnvPrefix("EVENTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.TenantsFile != "" {
		tenants, err := LoadTenantsFile(cfg.TenantsFile)
		if err != nil {
			return nil, err
		}
		cfg.Tenants = append(cfg.Tenants, tenants...)
	}

	if len(cfg.Tenants) == 0 {
		cfg.Tenants = []TenantConfig{DefaultRootTenant()}
	}
	cfg.normalize()

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultRootTenant is used when no tenants are configured. Its secret is a
// placeholder, so admin pages stay locked until a real secret is set.
func DefaultRootTenant() TenantConfig {
	return TenantConfig{
		ID:          "root",
		Name:        "Root",
		AdminSecret: "CHANGE_ME",
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("default_tenant", "root")
	v.SetDefault("tenants_file", "")

	v.SetDefault("auth.placeholder_secrets", []string{})

	// Binding store defaults
	v.SetDefault("binding.driver", DriverBolt)
	v.SetDefault("binding.path", "data/bindings.db")
	v.SetDefault("binding.redis.host", "localhost")
	v.SetDefault("binding.redis.port", 6379)
	v.SetDefault("binding.redis.password", "")
	v.SetDefault("binding.redis.db", 0)
	v.SetDefault("binding.redis.key_prefix", "eventdb:")
	v.SetDefault("binding.postgres.host", "localhost")
	v.SetDefault("binding.postgres.port", 5432)
	v.SetDefault("binding.postgres.database", "eventdb")
	v.SetDefault("binding.postgres.user", "eventdb")
	v.SetDefault("binding.postgres.password", "")
	v.SetDefault("binding.postgres.max_connections", 10)
	v.SetDefault("binding.postgres.min_connections", 1)

	// Document service defaults
	v.SetDefault("document.driver", DriverSQLite)
	v.SetDefault("document.data_dir", "data/documents")

	// Provisioning defaults
	v.SetDefault("provisioning.timeout", "20s")
	v.SetDefault("provisioning.warm_on_start", false)
	v.SetDefault("provisioning.warm_concurrency", 4)

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 100.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// normalize lower-cases identifiers so lookups are case-insensitive.
func (c *Config) normalize() {
	c.DefaultTenant = strings.ToLower(strings.TrimSpace(c.DefaultTenant))
	for i := range c.Tenants {
		c.Tenants[i].ID = strings.ToLower(strings.TrimSpace(c.Tenants[i].ID))
		if c.Tenants[i].Name == "" {
			c.Tenants[i].Name = c.Tenants[i].ID
		}
	}
	c.Binding.Driver = strings.ToLower(c.Binding.Driver)
	c.Document.Driver = strings.ToLower(c.Document.Driver)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Tenants) == 0 {
		return fmt.Errorf("at least one tenant is required")
	}

	seen := make(map[string]struct{}, len(c.Tenants))
	for _, t := range c.Tenants {
		if !tenantIDPattern.MatchString(t.ID) {
			return fmt.Errorf("invalid tenant id: %q", t.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate tenant id: %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	if _, ok := seen[c.DefaultTenant]; !ok {
		return fmt.Errorf("default tenant %q is not configured", c.DefaultTenant)
	}

	switch c.Binding.Driver {
	case DriverBolt:
		if strings.TrimSpace(c.Binding.Path) == "" {
			return fmt.Errorf("binding path is required for the bolt driver")
		}
	case DriverRedis, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown binding driver: %s", c.Binding.Driver)
	}

	switch c.Document.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Document.DataDir) == "" {
			return fmt.Errorf("document data dir is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown document driver: %s", c.Document.Driver)
	}

	if c.Provisioning.Timeout <= 0 {
		return fmt.Errorf("provisioning timeout must be positive")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	return nil
}
