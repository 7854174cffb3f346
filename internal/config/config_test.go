package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		DefaultTenant: "root",
		Tenants:       []TenantConfig{DefaultRootTenant()},
		Binding:       BindingConfig{Driver: DriverBolt, Path: "data/bindings.db"},
		Document:      DocumentConfig{Driver: DriverSQLite, DataDir: "data/documents"},
		Provisioning:  ProvisioningConfig{Timeout: 20 * time.Second},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         50,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "root", cfg.DefaultTenant)
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "root", cfg.Tenants[0].ID)
	assert.Equal(t, "CHANGE_ME", cfg.Tenants[0].AdminSecret)

	assert.Equal(t, DriverBolt, cfg.Binding.Driver)
	assert.Equal(t, "eventdb:", cfg.Binding.Redis.KeyPrefix)
	assert.Equal(t, DriverSQLite, cfg.Document.Driver)
	assert.Equal(t, 20*time.Second, cfg.Provisioning.Timeout)
	assert.Equal(t, 4, cfg.Provisioning.WarmConcurrency)

	assert.True(t, cfg.RateLimiter.Enabled)
	assert.Equal(t, 100.0, cfg.RateLimiter.RequestsPerSecond)
	assert.Equal(t, 50, cfg.RateLimiter.BurstSize)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("EVENTDB_SERVER_PORT", "9000")
	t.Setenv("EVENTDB_PROVISIONING_TIMEOUT", "45s")
	t.Setenv("EVENTDB_BINDING_DRIVER", "MEMORY")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Provisioning.Timeout)
	assert.Equal(t, DriverMemory, cfg.Binding.Driver)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 8181
default_tenant: ABC
tenants:
  - id: root
    admin_secret: CHANGE_ME
  - id: ABC
    name: ABC Events
    admin_secret: abc-key
    features:
      sponsors: true
document:
  driver: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "abc", cfg.DefaultTenant)
	require.Len(t, cfg.Tenants, 2)
	assert.Equal(t, "root", cfg.Tenants[0].Name)
	assert.Equal(t, "abc", cfg.Tenants[1].ID)
	assert.Equal(t, "ABC Events", cfg.Tenants[1].Name)
	assert.Equal(t, "abc-key", cfg.Tenants[1].AdminSecret)
	assert.True(t, cfg.Tenants[1].Features["sponsors"])
	assert.Equal(t, DriverMemory, cfg.Document.Driver)
}

func TestLoad_TenantsFile(t *testing.T) {
	tenants := writeFile(t, "tenants.yaml", `
tenants:
  - id: root
    admin_secret: s3cret
  - id: xyz
    name: XYZ
`)
	path := writeFile(t, "config.yaml", "tenants_file: "+tenants+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Tenants, 2)
	assert.Equal(t, "s3cret", cfg.Tenants[0].AdminSecret)
	assert.Equal(t, "xyz", cfg.Tenants[1].ID)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "server: [unterminated\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadTenantsFile_RejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "tenants.yaml", `
tenants:
  - id: abc
    secret: typo
`)

	_, err := LoadTenantsFile(path)
	assert.Error(t, err)
}

func TestLoadTenantsFile_Missing(t *testing.T) {
	_, err := LoadTenantsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"no tenants", func(c *Config) { c.Tenants = nil }, true},
		{"bad tenant id", func(c *Config) { c.Tenants = append(c.Tenants, TenantConfig{ID: "a b"}) }, true},
		{"duplicate tenant", func(c *Config) { c.Tenants = append(c.Tenants, DefaultRootTenant()) }, true},
		{"missing default", func(c *Config) { c.DefaultTenant = "abc" }, true},
		{"unknown binding driver", func(c *Config) { c.Binding.Driver = "etcd" }, true},
		{"bolt without path", func(c *Config) { c.Binding.Path = " " }, true},
		{"redis driver", func(c *Config) { c.Binding.Driver = DriverRedis }, false},
		{"unknown document driver", func(c *Config) { c.Document.Driver = "sheets" }, true},
		{"sqlite without dir", func(c *Config) { c.Document.DataDir = "" }, true},
		{"zero provisioning timeout", func(c *Config) { c.Provisioning.Timeout = 0 }, true},
		{"bad rate", func(c *Config) { c.RateLimiter.RequestsPerSecond = 0 }, true},
		{"bad burst", func(c *Config) { c.RateLimiter.BurstSize = 0 }, true},
		{"rate limiter off", func(c *Config) {
			c.RateLimiter = RateLimiterConfig{}
		}, false},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
