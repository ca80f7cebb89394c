// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheLocal  = "local"
	CacheGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures outbound request timeouts and TLS retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ResolverConfig tunes favicon discovery.
type ResolverConfig struct {
	UserAgent         string   `mapstructure:"user_agent"`
	ManifestUserAgent string   `mapstructure:"manifest_user_agent"`
	MaxHeadBytes      int      `mapstructure:"max_head_bytes"`
	ShortCircuit      bool     `mapstructure:"short_circuit"`
	MaxIconBytes      int      `mapstructure:"max_icon_bytes"`
	BlockedHosts      []string `mapstructure:"blocked_hosts"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	MaxParallel         int  `mapstructure:"max_parallel"`
	NavTimeoutSec       int  `mapstructure:"nav_timeout_seconds"`
	HeadLengthThreshold int  `mapstructure:"head_length_threshold"`
}

// RateLimitConfig throttles outbound requests per host.
type RateLimitConfig struct {
	PerHostRPS float64 `mapstructure:"per_host_rps"`
	Burst      int     `mapstructure:"burst"`
	MaxHosts   int     `mapstructure:"max_hosts"`
}

// CacheConfig selects and tunes the edge cache backend.
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	MaxEntries int    `mapstructure:"max_entries"`
	Dir        string `mapstructure:"dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	Prefix     string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres lookup log.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for resolution events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AssetsConfig points at the static front-end bundle.
type AssetsConfig struct {
	Dir   string `mapstructure:"dir"`
	Index string `mapstructure:"index"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Tracing     bool   `mapstructure:"tracing"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FAVICON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("resolver.user_agent", "favicon-edge/0.1 (+https://github.com/JakeFAU/favicon-edge)")
	v.SetDefault("resolver.manifest_user_agent", "")
	v.SetDefault("resolver.max_head_bytes", 512*1024)
	v.SetDefault("resolver.short_circuit", false)
	v.SetDefault("resolver.max_icon_bytes", 1024*1024)
	v.SetDefault("resolver.blocked_hosts", []string{"localhost", "metadata.google.internal"})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 20)
	v.SetDefault("headless.head_length_threshold", 1024)
	v.SetDefault("ratelimit.per_host_rps", 5)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.max_hosts", 10000)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl_seconds", 0)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.gcs_bucket", "")
	v.SetDefault("cache.prefix", "favicons")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "favicon_lookups")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("assets.dir", "")
	v.SetDefault("assets.index", "index.html")
	v.SetDefault("telemetry.service_name", "favicond")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be >= 0")
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheLocal:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the local cache backend")
		}
	case CacheGCS:
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket is required for the gcs cache backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of memory, local, gcs; got %q", c.Cache.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout bounds each outbound call made during discovery.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime; zero means entries never expire.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
