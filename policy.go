package rate_limiter_gate

import (
	"fmt"
	"math"
	"net/netip"
	"strings"
	"time"
)

var (
	_ LimitPolicy = &StaticPolicy{}
	_ LimitPolicy = &PrivilegedIPPolicy{}
	_ LimitPolicy = &TieredPolicy{}
	_ LimitPolicy = &AdaptivePolicy{}
	_ Skipper     = &skippingPolicy{}
	_ Skipper     = SkipPaths{}
)

// DefaultAnonymousMultiplier applies to callers without a known credential.
const DefaultAnonymousMultiplier = 0.5

// LimitPolicy resolves the quota for a request. It is evaluated on every
// request; results must not be cached across requests.
type LimitPolicy interface {
	Quota(rc RequestContext) Quota
}

// Skipper is implemented by policies that exempt some requests entirely.
type Skipper interface {
	Skip(rc RequestContext) bool
}

// SkipPredicate exempts a request from counting and denial.
type SkipPredicate func(rc RequestContext) bool

func newBaseQuota(baseMax int64, window time.Duration) (Quota, error) {
	if window < time.Millisecond {
		return Quota{}, &ConfigurationError{Field: "windowLengthMs", Reason: fmt.Sprintf("must be positive, got %s", window)}
	}
	if baseMax < 0 {
		return Quota{}, &ConfigurationError{Field: "baseMaxRequests", Reason: fmt.Sprintf("must not be negative, got %d", baseMax)}
	}
	return Quota{MaxRequests: baseMax, WindowLength: window}, nil
}

// StaticPolicy always returns the base quota.
type StaticPolicy struct {
	base Quota
}

// NewStaticPolicy creates a policy with a fixed quota.
func NewStaticPolicy(baseMax int64, window time.Duration) (*StaticPolicy, error) {
	base, err := newBaseQuota(baseMax, window)
	if err != nil {
		return nil, err
	}
	return &StaticPolicy{base: base}, nil
}

func (p *StaticPolicy) Quota(RequestContext) Quota {
	return p.base
}

// PrivilegedIPPolicy doubles the quota for loopback callers.
type PrivilegedIPPolicy struct {
	base       Quota
	multiplier int64
}

// NewPrivilegedIPPolicy creates a policy granting loopback addresses twice the base quota.
func NewPrivilegedIPPolicy(baseMax int64, window time.Duration) (*PrivilegedIPPolicy, error) {
	base, err := newBaseQuota(baseMax, window)
	if err != nil {
		return nil, err
	}
	return &PrivilegedIPPolicy{base: base, multiplier: 2}, nil
}

func (p *PrivilegedIPPolicy) Quota(rc RequestContext) Quota {
	if isLoopback(rc.SourceAddress) {
		return Quota{MaxRequests: p.base.MaxRequests * p.multiplier, WindowLength: p.base.WindowLength}
	}
	return p.base
}

func isLoopback(address string) bool {
	addr, ok := parseAddr(address)
	return ok && addr.IsLoopback()
}

// TieredPolicy scales the base quota by a per-credential multiplier.
type TieredPolicy struct {
	base      Quota
	tiers     map[string]float64
	anonymous float64
}

// TieredOption configures a TieredPolicy.
type TieredOption func(*TieredPolicy)

// WithAnonymousMultiplier overrides the multiplier used for absent or unknown credentials.
func WithAnonymousMultiplier(m float64) TieredOption {
	return func(p *TieredPolicy) { p.anonymous = m }
}

// NewTieredPolicy creates a policy whose quota depends on the supplied credential.
func NewTieredPolicy(baseMax int64, window time.Duration, tiers map[string]float64, opts ...TieredOption) (*TieredPolicy, error) {
	base, err := newBaseQuota(baseMax, window)
	if err != nil {
		return nil, err
	}

	p := &TieredPolicy{
		base:      base,
		tiers:     make(map[string]float64, len(tiers)),
		anonymous: DefaultAnonymousMultiplier,
	}
	for _, opt := range opts {
		opt(p)
	}

	for credential, m := range tiers {
		if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, &ConfigurationError{Field: "credentialTiers", Reason: fmt.Sprintf("multiplier for %q must be a non-negative number", credential)}
		}
		p.tiers[credential] = m
	}
	if p.anonymous < 0 || math.IsNaN(p.anonymous) || math.IsInf(p.anonymous, 0) {
		return nil, &ConfigurationError{Field: "anonymousMultiplier", Reason: "must be a non-negative number"}
	}

	return p, nil
}

func (p *TieredPolicy) Quota(rc RequestContext) Quota {
	m, ok := p.tiers[strings.TrimSpace(rc.Credential)]
	if !ok {
		m = p.anonymous
	}

	limit := int64(math.Floor(float64(p.base.MaxRequests) * m))
	if limit < 1 {
		limit = 1
	}
	return Quota{MaxRequests: limit, WindowLength: p.base.WindowLength}
}

// AdaptivePolicy lowers the quota as system load rises.
type AdaptivePolicy struct {
	base    Quota
	sampler LoadSampler
}

// NewAdaptivePolicy creates a policy that samples load once per request.
func NewAdaptivePolicy(baseMax int64, window time.Duration, sampler LoadSampler) (*AdaptivePolicy, error) {
	base, err := newBaseQuota(baseMax, window)
	if err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, &ConfigurationError{Field: "loadSampler", Reason: "is required for adaptive limiting"}
	}
	return &AdaptivePolicy{base: base, sampler: sampler}, nil
}

func (p *AdaptivePolicy) Quota(RequestContext) Quota {
	load := clampLoad(p.sampler.Sample())
	limit := p.base.MaxRequests

	switch {
	case load > 0.8:
		limit = limit / 2
	case load > 0.5:
		limit = limit * 4 / 5
	}
	return Quota{MaxRequests: limit, WindowLength: p.base.WindowLength}
}

// SkipPaths exempts an exact set of route paths.
type SkipPaths map[string]struct{}

// NewSkipPaths builds a SkipPaths set.
func NewSkipPaths(paths ...string) SkipPaths {
	s := make(SkipPaths, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			s[p] = struct{}{}
		}
	}
	return s
}

func (s SkipPaths) Skip(rc RequestContext) bool {
	_, ok := s[rc.RoutePath]
	return ok
}

type skippingPolicy struct {
	LimitPolicy
	skip SkipPredicate
}

func (p *skippingPolicy) Skip(rc RequestContext) bool {
	return p.skip(rc)
}

// WithSkip attaches a skip predicate to policy.
func WithSkip(policy LimitPolicy, skip SkipPredicate) LimitPolicy {
	if skip == nil {
		return policy
	}
	return &skippingPolicy{LimitPolicy: policy, skip: skip}
}

func parseAddr(address string) (netip.Addr, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(address); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(address, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
