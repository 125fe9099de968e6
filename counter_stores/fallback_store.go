package counter_stores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	_ rate_limiter_gate.CounterStore = &FallbackStore{}
)

const (
	DefaultCallTimeout   = 50 * time.Millisecond
	DefaultProbeInterval = time.Second
)

// Pinger is implemented by stores that can check their own connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DegradedEvent describes a switch between remote and local-only counting.
type DegradedEvent struct {
	InstanceID string
	Backend    string
	Err        error
	At         time.Time
}

// FallbackStore counts on a remote primary store and falls back to a local
// MemoryStore when the primary fails or exceeds its call timeout. Limits then
// hold per instance instead of globally.
//
// The degraded callback fires once when the store enters degraded mode and
// not again until the primary has recovered. While degraded the primary is
// probed at most once per probe interval.
type FallbackStore struct {
	primary rate_limiter_gate.CounterStore
	local   *MemoryStore
	backend string

	timeout     time.Duration
	probe       *rate.Limiter
	degraded    atomic.Bool
	instanceID  string
	now         func() time.Time
	logger      *slog.Logger
	metrics     *rate_limiter_gate.Metrics
	onDegraded  func(DegradedEvent)
	onRecovered func(DegradedEvent)
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*FallbackStore)

// WithBackendName labels logs, metrics and events.
func WithBackendName(name string) FallbackOption {
	return func(f *FallbackStore) { f.backend = name }
}

// WithCallTimeout bounds each call to the primary store.
func WithCallTimeout(d time.Duration) FallbackOption {
	return func(f *FallbackStore) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithProbeInterval sets how often a degraded store retries the primary.
// Zero or less probes on every call.
func WithProbeInterval(d time.Duration) FallbackOption {
	return func(f *FallbackStore) {
		if d <= 0 {
			f.probe = rate.NewLimiter(rate.Inf, 1)
			return
		}
		f.probe = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithFallbackLogger sets the logger used for mode changes.
func WithFallbackLogger(l *slog.Logger) FallbackOption {
	return func(f *FallbackStore) { f.logger = l }
}

// WithFallbackMetrics records fallbacks and the degraded gauge in m.
func WithFallbackMetrics(m *rate_limiter_gate.Metrics) FallbackOption {
	return func(f *FallbackStore) { f.metrics = m }
}

// OnDegraded registers the callback fired when the store enters degraded mode.
func OnDegraded(fn func(DegradedEvent)) FallbackOption {
	return func(f *FallbackStore) { f.onDegraded = fn }
}

// OnRecovered registers the callback fired when the primary answers again.
func OnRecovered(fn func(DegradedEvent)) FallbackOption {
	return func(f *FallbackStore) { f.onRecovered = fn }
}

// NewFallbackStore wraps primary. If primary is nil, or it implements Pinger
// and the ping fails, the store starts in degraded mode.
func NewFallbackStore(ctx context.Context, primary rate_limiter_gate.CounterStore, local *MemoryStore, opts ...FallbackOption) *FallbackStore {
	if local == nil {
		local = NewMemoryStore()
	}

	f := &FallbackStore{
		primary:    primary,
		local:      local,
		backend:    "remote",
		timeout:    DefaultCallTimeout,
		probe:      rate.NewLimiter(rate.Every(DefaultProbeInterval), 1),
		instanceID: uuid.NewString(),
		now:        time.Now,
		logger:     slog.Default().With("component", "ratelimit.store"),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.metrics.SetDegraded(f.backend, false)

	switch p := primary.(type) {
	case nil:
		f.markDegraded(errors.New("no remote backend configured"))
	case Pinger:
		pingCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			f.markDegraded(fmt.Errorf("%w: %v", rate_limiter_gate.ErrStoreUnavailable, err))
		}
	}

	return f
}

// IncrementAndGet increments on the primary, or on the local store when the
// primary is unavailable or ctx is already done. It only fails if the local
// store fails.
func (f *FallbackStore) IncrementAndGet(ctx context.Context, key rate_limiter_gate.LimitKey, w rate_limiter_gate.Window) (int64, error) {
	// a caller that has already gone away says nothing about the primary
	if f.primary == nil || ctx.Err() != nil || (f.degraded.Load() && !f.probe.Allow()) {
		f.metrics.ObserveFallback(f.backend)
		return f.local.IncrementAndGet(ctx, key, w)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	count, err := f.primary.IncrementAndGet(callCtx, key, w)
	cancel()

	if err != nil {
		// only the call timeout or a backend error marks the store degraded
		if ctx.Err() == nil {
			f.markDegraded(fmt.Errorf("%w: %v", rate_limiter_gate.ErrStoreUnavailable, err))
		}
		f.metrics.ObserveFallback(f.backend)
		return f.local.IncrementAndGet(ctx, key, w)
	}

	f.markRecovered()
	return count, nil
}

// Reset clears key on both stores. A primary failure is reported after the
// local store has been cleared.
func (f *FallbackStore) Reset(ctx context.Context, key rate_limiter_gate.LimitKey) error {
	if err := f.local.Reset(ctx, key); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.primary.Reset(callCtx, key); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("reset of key %v abandoned: %w", key, ctx.Err())
		}
		f.markDegraded(fmt.Errorf("%w: %v", rate_limiter_gate.ErrStoreUnavailable, err))
		return fmt.Errorf("%w: %v", rate_limiter_gate.ErrStoreUnavailable, err)
	}
	return nil
}

// Degraded reports whether the store is counting locally.
func (f *FallbackStore) Degraded() bool {
	return f.degraded.Load()
}

// Local returns the local store, which the sweeper must keep bounded.
func (f *FallbackStore) Local() *MemoryStore {
	return f.local
}

func (f *FallbackStore) markDegraded(err error) {
	if !f.degraded.CompareAndSwap(false, true) {
		return
	}
	// the first probe waits a full interval
	f.probe.Allow()
	ev := DegradedEvent{InstanceID: f.instanceID, Backend: f.backend, Err: err, At: f.now()}

	f.metrics.SetDegraded(f.backend, true)
	f.logger.Warn("counter store degraded, limiting per instance",
		"backend", f.backend,
		"instance_id", f.instanceID,
		"error", err,
	)
	if f.onDegraded != nil {
		f.onDegraded(ev)
	}
}

func (f *FallbackStore) markRecovered() {
	if !f.degraded.CompareAndSwap(true, false) {
		return
	}
	ev := DegradedEvent{InstanceID: f.instanceID, Backend: f.backend, At: f.now()}

	f.metrics.SetDegraded(f.backend, false)
	f.logger.Info("counter store recovered",
		"backend", f.backend,
		"instance_id", f.instanceID,
	)
	if f.onRecovered != nil {
		f.onRecovered(ev)
	}
}
