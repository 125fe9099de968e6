package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/aryangodara/rate_limiter_gate/config"
	"github.com/aryangodara/rate_limiter_gate/counter_stores"
	"github.com/redis/go-redis/v9"
)

// Rule names. They namespace the counters, so renaming one resets its buckets.
const (
	ruleGlobal    = "global"
	ruleMessage   = "message"
	ruleIntensive = "intensive"
	ruleUser      = "user"
	ruleIPLimited = "ip-limited"
)

const (
	msgIPLimited = "Rate limit exceeded. Please try again later."
	msgUser      = "API rate limit exceeded. Please upgrade your plan or try again later."
	msgIntensive = "Server is experiencing high load. Please try again later."
)

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// storeBundle is the configured counter store plus what the process must
// sweep and close alongside it.
type storeBundle struct {
	backend    string
	store      rate_limiter_gate.CounterStore
	fallback   *counter_stores.FallbackStore
	sweepables []counter_stores.Sweepable
	closers    []io.Closer
}

func (b *storeBundle) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger, metrics *rate_limiter_gate.Metrics) (*storeBundle, error) {
	b := &storeBundle{backend: cfg.Backend}

	switch cfg.Backend {
	case config.BackendMemory:
		mem := counter_stores.NewMemoryStore(counter_stores.WithRetentionWindows(cfg.RetentionWindows))
		b.store = mem
		b.sweepables = append(b.sweepables, mem)

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		remote := counter_stores.NewRedisStore(client,
			counter_stores.WithRedisPrefix(cfg.Redis.Prefix),
			counter_stores.WithRedisRetentionWindows(cfg.RetentionWindows),
		)
		local := counter_stores.NewMemoryStore(counter_stores.WithRetentionWindows(cfg.RetentionWindows))

		b.fallback = counter_stores.NewFallbackStore(ctx, remote, local,
			counter_stores.WithBackendName(config.BackendRedis),
			counter_stores.WithCallTimeout(cfg.RemoteCallTimeout()),
			counter_stores.WithProbeInterval(cfg.ProbeInterval),
			counter_stores.WithFallbackLogger(logger),
			counter_stores.WithFallbackMetrics(metrics),
		)
		b.store = b.fallback
		b.sweepables = append(b.sweepables, local)
		b.closers = append(b.closers, remote)

	case config.BackendSQLite:
		db, err := counter_stores.NewSQLiteStore(counter_stores.SQLiteConfig{
			Path:             cfg.SQLite.Path,
			RetentionWindows: cfg.RetentionWindows,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		b.store = db
		b.sweepables = append(b.sweepables, db)
		b.closers = append(b.closers, db)

	default:
		return nil, &rate_limiter_gate.ConfigurationError{Field: "store.backend", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}

	logger.Info("counter store ready", "backend", cfg.Backend)
	return b, nil
}

// buildRules binds every route of the service to its limiting rule.
func buildRules(limits config.LimitsConfig, sampler rate_limiter_gate.LoadSampler) (map[string]rate_limiter_gate.Rule, error) {
	window := limits.Window()
	base := limits.MaxRequests()

	static, err := rate_limiter_gate.NewStaticPolicy(base, window)
	if err != nil {
		return nil, err
	}
	adaptive, err := rate_limiter_gate.NewAdaptivePolicy(base, window, sampler)
	if err != nil {
		return nil, err
	}
	privileged, err := rate_limiter_gate.NewPrivilegedIPPolicy(base, window)
	if err != nil {
		return nil, err
	}

	var tierOpts []rate_limiter_gate.TieredOption
	if limits.AnonymousMultiplier != nil {
		tierOpts = append(tierOpts, rate_limiter_gate.WithAnonymousMultiplier(*limits.AnonymousMultiplier))
	}
	tiered, err := rate_limiter_gate.NewTieredPolicy(base, window, limits.CredentialTiers, tierOpts...)
	if err != nil {
		return nil, err
	}

	// skip-listed paths are never counted by any rule, the global one included
	skip := rate_limiter_gate.NewSkipPaths(limits.SkipPaths...).Skip

	return map[string]rate_limiter_gate.Rule{
		ruleGlobal: {
			Name:      ruleGlobal,
			Extractor: rate_limiter_gate.ByIP{},
			Policy:    static,
			Skip:      skip,
		},
		ruleMessage: {
			Name:      ruleMessage,
			Extractor: rate_limiter_gate.ByIP{},
			Policy:    static,
			Skip:      skip,
		},
		ruleIntensive: {
			Name:      ruleIntensive,
			Extractor: rate_limiter_gate.ByIP{},
			Policy:    adaptive,
			Skip:      skip,
			Message:   msgIntensive,
		},
		ruleUser: {
			Name:      ruleUser,
			Extractor: rate_limiter_gate.ByCredentialOrIP{},
			Policy:    tiered,
			Skip:      skip,
			Message:   msgUser,
		},
		ruleIPLimited: {
			Name:      ruleIPLimited,
			Extractor: rate_limiter_gate.ByIP{},
			Policy:    privileged,
			Skip:      skip,
			Message:   msgIPLimited,
		},
	}, nil
}

// gateSet holds one gate per rule.
type gateSet map[string]*rate_limiter_gate.Gate

func newGates(limiter *rate_limiter_gate.Limiter, rules map[string]rate_limiter_gate.Rule, opts ...rate_limiter_gate.GateOption) (gateSet, error) {
	gates := make(gateSet, len(rules))
	for name, rule := range rules {
		g, err := rate_limiter_gate.NewGate(limiter, rule, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gate %s: %w", name, err)
		}
		gates[name] = g
	}
	return gates, nil
}

// apply swaps in new rules. Gates without a matching rule keep theirs.
func (gs gateSet) apply(rules map[string]rate_limiter_gate.Rule) error {
	for name, rule := range rules {
		g, ok := gs[name]
		if !ok {
			continue
		}
		if err := g.SetRule(rule); err != nil {
			return fmt.Errorf("failed to update gate %s: %w", name, err)
		}
	}
	return nil
}

func contextBuilder(limits config.LimitsConfig) rate_limiter_gate.HTTPContextBuilder {
	return rate_limiter_gate.HTTPContextBuilder{
		CredentialHeader:  limits.CredentialHeader,
		TrustForwardedFor: limits.TrustForwardedFor,
	}
}
