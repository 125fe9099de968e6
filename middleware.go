package rate_limiter_gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	_ http.Handler = &httpRateLimiterHandler{}
)

const (
	rateLimitLimit     = "RateLimit-Limit"
	rateLimitRemaining = "RateLimit-Remaining"
	rateLimitReset     = "RateLimit-Reset"
	rateLimitingState  = "Rate-Limiting-State"
	retryAfter         = "Retry-After"
)

// DefaultDenyMessage is used by rules that do not set their own message.
const DefaultDenyMessage = "Too many requests, please try again later."

// Rule binds one route to its key extractor, policy and skip predicate.
type Rule struct {
	// Name namespaces the rule's buckets. Rules sharing a name share counters.
	Name      string
	Extractor KeyExtractor
	Policy    LimitPolicy
	Skip      SkipPredicate
	// Message is returned to denied callers.
	Message string
}

func (r Rule) validate() error {
	if r.Extractor == nil {
		return &ConfigurationError{Field: "rule " + r.Name, Reason: "key extractor is required"}
	}
	if r.Policy == nil {
		return &ConfigurationError{Field: "rule " + r.Name, Reason: "limit policy is required"}
	}
	return nil
}

// DenyBody is the JSON body sent with a denied request.
type DenyBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Verdict is the gate's answer for one request.
type Verdict struct {
	Skipped   bool
	Rule      string
	Key       LimitKey
	Decision  Decision
	Message   string
	CheckedAt time.Time
}

// Continue reports whether the request may proceed downstream.
func (v Verdict) Continue() bool {
	return v.Skipped || v.Decision.Allowed
}

// Body returns the over-limit response body.
func (v Verdict) Body() DenyBody {
	return DenyBody{Status: http.StatusTooManyRequests, Message: v.Message}
}

// Headers returns the informational rate limit headers. Skipped requests
// carry none.
func (v Verdict) Headers() http.Header {
	h := http.Header{}
	if v.Skipped {
		return h
	}
	d := v.Decision
	h.Set(rateLimitLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(rateLimitRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(rateLimitReset, strconv.FormatInt((d.ResetAt.UnixMilli()+999)/1000, 10))
	h.Set(rateLimitingState, d.State().String())
	if !d.Allowed {
		h.Set(retryAfter, strconv.FormatInt(ceilSeconds(d.ResetAt.Sub(v.CheckedAt)), 10))
	}
	return h
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Gate enforces one Rule: it skips exempt requests, counts the rest and
// turns the limiter's decision into a continue or deny verdict.
type Gate struct {
	limiter *Limiter
	rule    atomic.Pointer[Rule]
	now     Clock
	logger  *slog.Logger
	metrics *Metrics
	builder HTTPContextBuilder
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the gate's time source.
func WithClock(now Clock) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics records decisions in m.
func WithMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithContextBuilder sets how HTTP requests are turned into RequestContexts.
func WithContextBuilder(b HTTPContextBuilder) GateOption {
	return func(g *Gate) { g.builder = b }
}

// NewGate creates a gate enforcing rule with limiter.
func NewGate(limiter *Limiter, rule Rule, opts ...GateOption) (*Gate, error) {
	if limiter == nil {
		return nil, &ConfigurationError{Field: "limiter", Reason: "is required"}
	}
	g := &Gate{
		limiter: limiter,
		now:     SystemClock,
		logger:  slog.Default().With("component", "ratelimit.gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.SetRule(rule); err != nil {
		return nil, err
	}
	return g, nil
}

// SetRule atomically replaces the gate's rule.
func (g *Gate) SetRule(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	if rule.Message == "" {
		rule.Message = DefaultDenyMessage
	}
	g.rule.Store(&rule)
	return nil
}

// Rule returns the rule currently enforced.
func (g *Gate) Rule() Rule {
	return *g.rule.Load()
}

// Check evaluates rc. A denied request is a normal verdict, not an error.
func (g *Gate) Check(ctx context.Context, rc RequestContext) (Verdict, error) {
	rule := g.rule.Load()
	now := g.now()

	if skipped(rule, rc) {
		g.metrics.ObserveSkip(rule.Name)
		return Verdict{Skipped: true, Rule: rule.Name, CheckedAt: now}, nil
	}

	key := bucketKey(rule, rule.Extractor.Extract(rc))
	quota := rule.Policy.Quota(rc)

	start := time.Now()
	d, err := g.limiter.Decide(ctx, key, quota, now)
	if err != nil {
		return Verdict{}, err
	}
	g.metrics.ObserveDecision(rule.Name, d, time.Since(start))

	if !d.Allowed {
		g.logger.Debug("rate limit exceeded",
			"rule", rule.Name,
			"key", string(key),
			"count", d.Count,
			"limit", d.Limit,
			"reset_at", d.ResetAt,
		)
	}

	return Verdict{
		Rule:      rule.Name,
		Key:       key,
		Decision:  d,
		Message:   rule.Message,
		CheckedAt: now,
	}, nil
}

// Reset clears the buckets of key under this gate's rule.
func (g *Gate) Reset(ctx context.Context, key LimitKey) error {
	return g.limiter.Reset(ctx, bucketKey(g.rule.Load(), key))
}

func skipped(rule *Rule, rc RequestContext) bool {
	if rule.Skip != nil && rule.Skip(rc) {
		return true
	}
	if s, ok := rule.Policy.(Skipper); ok && s.Skip(rc) {
		return true
	}
	return false
}

func bucketKey(rule *Rule, key LimitKey) LimitKey {
	if rule.Name == "" {
		return key
	}
	return LimitKey(rule.Name + ":" + string(key))
}

// Handler wraps next so every request passes through the gate first.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return &httpRateLimiterHandler{handler: next, gate: g}
}

// Middleware returns the gate in the func(http.Handler) http.Handler form
// routers expect.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return g.Handler
}

type httpRateLimiterHandler struct {
	handler http.Handler
	gate    *Gate
}

// ServeHTTP performs rate limiting and forwards the request if allowed.
func (h *httpRateLimiterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v, err := h.gate.Check(r.Context(), h.gate.builder.Build(r))
	if err != nil {
		h.gate.logger.Error("failed to run rate limiting for request", "path", r.URL.Path, "error", err)
		h.writeResponse(w, http.StatusInternalServerError, DenyBody{
			Status:  http.StatusInternalServerError,
			Message: "failed to run rate limiting for request",
		})
		return
	}

	for name, values := range v.Headers() {
		w.Header()[name] = values
	}

	// Too many requests
	if !v.Continue() {
		h.writeResponse(w, http.StatusTooManyRequests, v.Body())
		return
	}

	h.handler.ServeHTTP(w, r)
}

func (h *httpRateLimiterHandler) writeResponse(w http.ResponseWriter, status int, body DenyBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.gate.logger.Error("failed to write body to HTTP request", "error", err)
	}
}
