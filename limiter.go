package rate_limiter_gate

import (
	"context"
	"fmt"
	"time"
)

// RequestContext is the immutable snapshot of an inbound request that the
// limiter needs. An empty Credential means no credential was supplied.
type RequestContext struct {
	SourceAddress string
	Credential    string
	RoutePath     string
}

// LimitKey identifies an independent counting bucket.
type LimitKey string

// AnonymousKey is the bucket used when a request carries neither a credential
// nor a resolvable address.
const AnonymousKey LimitKey = "anonymous"

// Clock returns the current time.
type Clock func() time.Time

// SystemClock is the wall clock.
var SystemClock Clock = time.Now

// Quota is the number of requests allowed in one window of WindowLength.
type Quota struct {
	MaxRequests  int64
	WindowLength time.Duration
}

// Window is a fixed counting interval: [Index*Length, (Index+1)*Length).
type Window struct {
	Index  int64
	Length time.Duration
}

// WindowAt returns the window of the given length containing now.
func WindowAt(now time.Time, length time.Duration) Window {
	ms := length.Milliseconds()
	return Window{Index: floorDiv(now.UnixMilli(), ms), Length: length}
}

// Start is the first instant of the window.
func (w Window) Start() time.Time {
	return time.UnixMilli(w.Index * w.Length.Milliseconds())
}

// End is the first instant after the window, which is when its counter resets.
func (w Window) End() time.Time {
	return time.UnixMilli((w.Index + 1) * w.Length.Milliseconds())
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// State represents the result of rate limiting.
type State int64

const (
	Deny State = iota
	Allow
)

// State strings for HTTP headers
var stateStrings = map[State]string{
	Allow: "Allow",
	Deny:  "Deny",
}

// String returns the header form of the state.
func (s State) String() string {
	return stateStrings[s]
}

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Count     int64
	ResetAt   time.Time
}

// State reports the decision as Allow or Deny.
func (d Decision) State() State {
	if d.Allowed {
		return Allow
	}
	return Deny
}

// CounterStore is an atomic increment-and-read primitive over (key, window)
// buckets. Implementations must never lose an increment under concurrent
// callers.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, key LimitKey, w Window) (int64, error)
	Reset(ctx context.Context, key LimitKey) error
}

// Limiter implements the fixed-window counter on top of a CounterStore.
type Limiter struct {
	store CounterStore
}

// NewLimiter creates a fixed window limiter backed by store.
func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// Decide counts one request for key in the window containing now and
// evaluates it against quota. The increment happens even when the request is
// denied, so remaining saturates at zero under a sustained flood.
//
// Fixed windows allow up to 2*MaxRequests across a window boundary.
func (l *Limiter) Decide(ctx context.Context, key LimitKey, quota Quota, now time.Time) (Decision, error) {
	if quota.WindowLength < time.Millisecond {
		return Decision{}, &ConfigurationError{Field: "windowLength", Reason: fmt.Sprintf("must be at least 1ms, got %s", quota.WindowLength)}
	}
	limit := quota.MaxRequests
	if limit < 0 {
		limit = 0
	}

	w := WindowAt(now, quota.WindowLength)
	count, err := l.store.IncrementAndGet(ctx, key, w)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment counter for key %v: %w", key, err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		Count:     count,
		ResetAt:   w.End(),
	}, nil
}

// Reset clears every bucket of key.
func (l *Limiter) Reset(ctx context.Context, key LimitKey) error {
	if err := l.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("failed to reset key %v: %w", key, err)
	}
	return nil
}
