package config

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/robfig/cron/v3"
)

// ValidationError collects every invalid field of a configuration.
type ValidationError struct {
	Errors []*rate_limiter_gate.ConfigurationError
}

// Error returns a formatted string containing all validation errors.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d configuration errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap exposes the field errors to errors.As.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

type fieldErrors []*rate_limiter_gate.ConfigurationError

func (f *fieldErrors) add(field, format string, args ...any) {
	*f = append(*f, &rate_limiter_gate.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs fieldErrors

	validateServer(&cfg.Server, &errs)
	validateLimits(&cfg.Limits, &errs)
	validateStore(&cfg.Store, &errs)
	validateLogging(&cfg.Logging, &errs)

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs.add("metrics.path", "must start with /, got %q", cfg.Metrics.Path)
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(s *ServerConfig, errs *fieldErrors) {
	if s.ListenAddress == "" {
		errs.add("server.listen_address", "is required")
	}
	if s.ReadTimeout < 0 {
		errs.add("server.read_timeout", "must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs.add("server.write_timeout", "must not be negative")
	}
}

func validateLimits(l *LimitsConfig, errs *fieldErrors) {
	switch ms := l.WindowLengthMs; {
	case ms == nil:
		errs.add("limits.window_length_ms", "is required")
	case *ms < 1:
		errs.add("limits.window_length_ms", "must be at least 1, got %d", *ms)
	}
	switch n := l.BaseMaxRequests; {
	case n == nil:
		errs.add("limits.base_max_requests", "is required")
	case *n < 0:
		errs.add("limits.base_max_requests", "must not be negative, got %d", *n)
	}
	if l.CredentialHeader == "" {
		errs.add("limits.credential_header", "is required")
	}
	for cred, m := range l.CredentialTiers {
		if cred == "" {
			errs.add("limits.credential_tiers", "credential must not be empty")
		}
		if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
			errs.add("limits.credential_tiers."+cred, "multiplier must be a non-negative number, got %v", m)
		}
	}
	if m := l.AnonymousMultiplier; m != nil && (*m < 0 || math.IsNaN(*m) || math.IsInf(*m, 0)) {
		errs.add("limits.anonymous_multiplier", "must be a non-negative number, got %v", *m)
	}
	for _, p := range l.SkipPaths {
		if !strings.HasPrefix(p, "/") {
			errs.add("limits.skip_paths", "%q must start with /", p)
		}
	}
	if l.AdaptiveCapacity < 1 {
		errs.add("limits.adaptive_capacity", "must be at least 1, got %d", l.AdaptiveCapacity)
	}
}

func validateStore(s *StoreConfig, errs *fieldErrors) {
	switch s.Backend {
	case BackendMemory:
	case BackendRedis:
		if s.Redis.Host == "" {
			errs.add("store.redis.host", "is required for the redis backend")
		}
		if s.Redis.Port < 1 || s.Redis.Port > 65535 {
			errs.add("store.redis.port", "must be between 1 and 65535, got %d", s.Redis.Port)
		}
		if s.Redis.DB < 0 {
			errs.add("store.redis.db", "must not be negative, got %d", s.Redis.DB)
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			errs.add("store.sqlite.path", "is required for the sqlite backend")
		}
	default:
		errs.add("store.backend", "must be one of %s, %s or %s, got %q", BackendMemory, BackendRedis, BackendSQLite, s.Backend)
	}

	if s.RemoteCallTimeoutMs < 1 {
		errs.add("store.remote_call_timeout_ms", "must be at least 1, got %d", s.RemoteCallTimeoutMs)
	}
	if s.RetentionWindows < 1 {
		errs.add("store.retention_windows", "must be at least 1, got %d", s.RetentionWindows)
	}
	if _, err := cron.ParseStandard(s.SweepSchedule); err != nil {
		errs.add("store.sweep_schedule", "invalid cron schedule %q: %v", s.SweepSchedule, err)
	}
	if s.ProbeInterval < 0 {
		errs.add("store.probe_interval", "must not be negative")
	}
}

func validateLogging(l *LoggingConfig, errs *fieldErrors) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		errs.add("logging.level", "must be one of debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		errs.add("logging.format", "must be json or text, got %q", l.Format)
	}
}
