// Package config loads the rate limiter service configuration from YAML,
// environment variables and an optional .env file.
package config

import (
	"time"
)

// Config is the root configuration of the service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limits  LimitsConfig  `yaml:"limits"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the address the server binds to.
	// Default: ":3000"
	ListenAddress string `yaml:"listen_address"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminToken guards the admin reset endpoint. Empty disables it.
	AdminToken string `yaml:"admin_token"`
}

// LimitsConfig holds the quota settings shared by every rule.
type LimitsConfig struct {
	// WindowLengthMs is the fixed window length in milliseconds.
	// Default: 900000 (15 minutes)
	WindowLengthMs *int64 `yaml:"window_length_ms"`

	// BaseMaxRequests is the per-window quota before any multiplier. Zero
	// denies every request.
	// Default: 100
	BaseMaxRequests *int64 `yaml:"base_max_requests"`

	// CredentialHeader carries the caller's API credential.
	// Default: "X-API-Key"
	CredentialHeader string `yaml:"credential_header"`

	// TrustForwardedFor takes the client address from X-Forwarded-For.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// CredentialTiers maps known credentials to quota multipliers.
	CredentialTiers map[string]float64 `yaml:"credential_tiers"`

	// AnonymousMultiplier applies to absent and unknown credentials.
	// Default: 0.5
	AnonymousMultiplier *float64 `yaml:"anonymous_multiplier"`

	// SkipPaths are exempt from every rule: never counted, never denied.
	SkipPaths []string `yaml:"skip_paths"`

	// AdaptiveCapacity is the number of in-flight requests that counts as full load.
	// Default: 64
	AdaptiveCapacity int64 `yaml:"adaptive_capacity"`
}

// Window returns the window length as a duration.
func (l LimitsConfig) Window() time.Duration {
	if l.WindowLengthMs == nil {
		return 0
	}
	return time.Duration(*l.WindowLengthMs) * time.Millisecond
}

// MaxRequests returns the base quota, or zero when unset.
func (l LimitsConfig) MaxRequests() int64 {
	if l.BaseMaxRequests == nil {
		return 0
	}
	return *l.BaseMaxRequests
}

// StoreConfig selects and configures the counter backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis" or "sqlite".
	// Default: "memory", or "redis" when REDIS_HOST is set
	Backend string `yaml:"backend"`

	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`

	// RemoteCallTimeoutMs bounds each call to a remote backend.
	// Default: 50
	RemoteCallTimeoutMs int64 `yaml:"remote_call_timeout_ms"`

	// RetentionWindows is how many windows a counter is kept, counting its own.
	// Default: 2
	RetentionWindows int64 `yaml:"retention_windows"`

	// SweepSchedule is the cron schedule of the expired counter sweep.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`

	// ProbeInterval is how often a degraded store retries the remote backend.
	// Default: 1s
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// RemoteCallTimeout returns the remote call timeout as a duration.
func (s StoreConfig) RemoteCallTimeout() time.Duration {
	return time.Duration(s.RemoteCallTimeoutMs) * time.Millisecond
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SQLiteConfig configures the SQLite database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether the metrics endpoint is mounted.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}
