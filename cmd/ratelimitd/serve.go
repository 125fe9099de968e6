package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/aryangodara/rate_limiter_gate/config"
	"github.com/aryangodara/rate_limiter_gate/counter_stores"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	watch bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rate limited HTTP service",
	Long: `Start the HTTP service with every route behind its rate limiting rule.

Routes:
  GET    /api/message                 fixed quota per client address
  GET    /api/intensive               quota shrinks as in-flight load rises
  GET    /api/user                    quota by API key tier, keyed by key or address
  GET    /api/ip-limited              loopback callers get twice the quota
  GET    /api/health, /api/docs       service information
  DELETE /admin/limits/{rule}/{key}   clear a caller's counters (needs admin_token)

Every route is also counted by a global per-address rule.

With --watch, edits to the config file replace the limits of running rules.
Store settings only take effect after a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveFlags.watch, "watch", false, "reload limits when the config file changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, bundle, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bundle.Close(); err != nil {
			logger.Error("failed to close counter store", "error", err)
		}
	}()

	sweeper := counter_stores.NewSweeper(cfg.Store.SweepSchedule, bundle.sweepables...)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	if serveFlags.watch {
		if cfgFile == "" {
			logger.Warn("--watch needs --config, not watching")
		} else {
			go func() {
				if err := config.NewWatcher(cfgFile, logger).Watch(ctx, func(next *config.Config) {
					if err := srv.reload(next); err != nil {
						logger.Error("failed to apply reloaded limits", "error", err)
					}
				}); err != nil {
					logger.Error("config watcher failed", "error", err)
				}
			}()
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started",
			"address", cfg.Server.ListenAddress,
			"backend", cfg.Store.Backend,
			"window", cfg.Limits.Window().String(),
			"max_requests", cfg.Limits.MaxRequests(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newServer wires config into store, limiter, rules and gates.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, *storeBundle, error) {
	var (
		metrics  *rate_limiter_gate.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.IsEnabled() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = rate_limiter_gate.NewMetrics(reg)
		gatherer = reg
	}

	bundle, err := openStore(ctx, cfg.Store, logger, metrics)
	if err != nil {
		return nil, nil, err
	}

	sampler := rate_limiter_gate.NewInFlightSampler(cfg.Limits.AdaptiveCapacity)
	rules, err := buildRules(cfg.Limits, sampler)
	if err != nil {
		bundle.Close()
		return nil, nil, err
	}

	gates, err := newGates(rate_limiter_gate.NewLimiter(bundle.store), rules,
		rate_limiter_gate.WithLogger(logger.With("component", "ratelimit.gate")),
		rate_limiter_gate.WithMetrics(metrics),
		rate_limiter_gate.WithContextBuilder(contextBuilder(cfg.Limits)),
	)
	if err != nil {
		bundle.Close()
		return nil, nil, err
	}

	return &server{
		cfg:      cfg,
		gates:    gates,
		sampler:  sampler,
		gatherer: gatherer,
		logger:   logger,
		started:  time.Now(),
	}, bundle, nil
}

// reload swaps in the limits of next. The adaptive rule keeps sampling the
// same in-flight counter.
func (s *server) reload(next *config.Config) error {
	rules, err := buildRules(next.Limits, s.sampler)
	if err != nil {
		return err
	}
	if err := s.gates.apply(rules); err != nil {
		return err
	}
	s.logger.Info("rate limits reloaded",
		"window", next.Limits.Window().String(),
		"max_requests", next.Limits.MaxRequests(),
	)
	return nil
}
