package config

import (
	"time"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

const (
	DefaultListenAddress       = ":3000"
	DefaultReadTimeout         = 10 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultWindowLengthMs      = 15 * 60 * 1000
	DefaultBaseMaxRequests     = 100
	DefaultCredentialHeader    = "X-API-Key"
	DefaultAnonymousMultiplier = 0.5
	DefaultAdaptiveCapacity    = 64
	DefaultRedisHost           = "localhost"
	DefaultRedisPort           = 6379
	DefaultRedisPrefix         = "ratelimit"
	DefaultSQLitePath          = "ratelimit.db"
	DefaultRemoteCallTimeoutMs = 50
	DefaultRetentionWindows    = 2
	DefaultSweepSchedule       = "@every 1m"
	DefaultProbeInterval       = time.Second
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMetricsPath         = "/metrics"
)

// DefaultCredentialTiers returns the demo credential tiers.
func DefaultCredentialTiers() map[string]float64 {
	return map[string]float64{
		"test-key-basic":      1,
		"test-key-premium":    2,
		"test-key-enterprise": 5,
	}
}

// DefaultSkipPaths returns the paths exempt from rate limiting.
func DefaultSkipPaths() []string {
	return []string{"/api/health", "/api/docs"}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with defaults. The store backend is left
// empty so environment overrides can still pick it.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimitsDefaults(&cfg.Limits)
	applyStoreDefaults(&cfg.Store)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	if l.WindowLengthMs == nil {
		ms := int64(DefaultWindowLengthMs)
		l.WindowLengthMs = &ms
	}
	if l.BaseMaxRequests == nil {
		n := int64(DefaultBaseMaxRequests)
		l.BaseMaxRequests = &n
	}
	if l.CredentialHeader == "" {
		l.CredentialHeader = DefaultCredentialHeader
	}
	if l.CredentialTiers == nil {
		l.CredentialTiers = DefaultCredentialTiers()
	}
	if l.AnonymousMultiplier == nil {
		m := DefaultAnonymousMultiplier
		l.AnonymousMultiplier = &m
	}
	if l.SkipPaths == nil {
		l.SkipPaths = DefaultSkipPaths()
	}
	if l.AdaptiveCapacity == 0 {
		l.AdaptiveCapacity = DefaultAdaptiveCapacity
	}
}

func applyStoreDefaults(s *StoreConfig) {
	if s.Redis.Host == "" {
		s.Redis.Host = DefaultRedisHost
	}
	if s.Redis.Port == 0 {
		s.Redis.Port = DefaultRedisPort
	}
	if s.Redis.Prefix == "" {
		s.Redis.Prefix = DefaultRedisPrefix
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultSQLitePath
	}
	if s.RemoteCallTimeoutMs == 0 {
		s.RemoteCallTimeoutMs = DefaultRemoteCallTimeoutMs
	}
	if s.RetentionWindows == 0 {
		s.RetentionWindows = DefaultRetentionWindows
	}
	if s.SweepSchedule == "" {
		s.SweepSchedule = DefaultSweepSchedule
	}
	if s.ProbeInterval == 0 {
		s.ProbeInterval = DefaultProbeInterval
	}
}
