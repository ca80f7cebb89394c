package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
http:
  timeout_seconds: 4
  max_retries: 1
resolver:
  user_agent: test-agent
  max_head_bytes: 65536
  short_circuit: true
  blocked_hosts:
    - "*.internal"
headless:
  enabled: true
  max_parallel: 2
cache:
  backend: local
  dir: /tmp/favicons
  ttl_seconds: 3600
db:
  dsn: postgres://localhost/favicons
pubsub:
  project_id: proj
  topic_name: lookups
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, "test-agent", cfg.Resolver.UserAgent)
	require.Equal(t, 65536, cfg.Resolver.MaxHeadBytes)
	require.True(t, cfg.Resolver.ShortCircuit)
	require.Equal(t, []string{"*.internal"}, cfg.Resolver.BlockedHosts)
	require.Equal(t, CacheLocal, cfg.Cache.Backend)
	require.Equal(t, time.Hour, cfg.CacheTTL())
	require.Equal(t, 4*time.Second, cfg.RequestTimeout())
	require.Equal(t, "lookups", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	// Untouched keys keep defaults.
	require.Equal(t, "favicons", cfg.Cache.Prefix)
	require.Equal(t, "index.html", cfg.Assets.Index)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, CacheMemory, cfg.Cache.Backend)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout())
	require.Zero(t, cfg.CacheTTL())
	require.False(t, cfg.Resolver.ShortCircuit)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	require.Equal(t, []string{"localhost", "metadata.google.internal"}, cfg.Resolver.BlockedHosts)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FAVICON_SERVER_PORT", "7070")
	t.Setenv("FAVICON_RESOLVER_SHORT_CIRCUIT", "true")
	t.Setenv("FAVICON_CACHE_BACKEND", "gcs")
	t.Setenv("FAVICON_CACHE_GCS_BUCKET", "edge-cache")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.True(t, cfg.Resolver.ShortCircuit)
	require.Equal(t, CacheGCS, cfg.Cache.Backend)
	require.Equal(t, "edge-cache", cfg.Cache.GCSBucket)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "read config"))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		HTTP:   HTTPConfig{TimeoutSeconds: 10},
		Cache:  CacheConfig{Backend: CacheMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"negative retries", func(c *Config) { c.HTTP.MaxRetries = -1 }, "http.max_retries"},
		{"headless parallel", func(c *Config) { c.Headless.Enabled = true }, "headless.max_parallel"},
		{"auth key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"negative ttl", func(c *Config) { c.Cache.TTLSeconds = -1 }, "cache.ttl_seconds"},
		{"local dir", func(c *Config) { c.Cache.Backend = CacheLocal }, "cache.dir"},
		{"gcs bucket", func(c *Config) { c.Cache.Backend = CacheGCS }, "cache.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"pubsub project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
