// Package ratelimit enforces fixed-window request limits per requester,
// route and method, with purchased per-requester overrides.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iotdash/iotdash/internal/policy"
)

// ErrMalformedCounter is returned when the counter store reports a hit
// count below one or a negative TTL.
var ErrMalformedCounter = errors.New("malformed counter result")

// DefaultLimit applies when neither an override nor the rule sets one.
const DefaultLimit int64 = 1000

// Counter atomically counts hits in a fixed window that starts at the
// first hit.
type Counter interface {
	IncrementCounter(ctx context.Context, requester, route, method string) (hits int64, ttl time.Duration, err error)
}

// Result is the outcome of one rate check.
type Result struct {
	Limit     int64
	Remaining int64
	// Reset is the time left until the window closes.
	Reset   time.Duration
	Allowed bool
}

// ResetSeconds is Reset rounded up to whole seconds.
func (r *Result) ResetSeconds() int64 {
	secs := int64(r.Reset / time.Second)
	if r.Reset%time.Second != 0 {
		secs++
	}
	return secs
}

// Limiter decides whether a requester may make one more request.
type Limiter struct {
	counter      Counter
	overrides    *OverrideLookup
	defaultLimit int64
}

// NewLimiter creates a limiter. overrides may be nil. A non-positive
// defaultLimit uses DefaultLimit.
func NewLimiter(counter Counter, overrides *OverrideLookup, defaultLimit int64) *Limiter {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Limiter{counter: counter, overrides: overrides, defaultLimit: defaultLimit}
}

// Check counts one hit for requester against rule and reports whether it
// is within the effective limit. The effective limit is the purchased
// override if any, else the rule's limit, else the default.
func (l *Limiter) Check(ctx context.Context, requester string, rule policy.Rule) (*Result, error) {
	route := rule.RouteKey()
	method := rule.Method

	hits, ttl, err := l.counter.IncrementCounter(ctx, requester, route, method)
	if err != nil {
		return nil, fmt.Errorf("increment counter: %w", err)
	}
	if hits < 1 || ttl < 0 {
		return nil, fmt.Errorf("%w: hits=%d ttl=%v", ErrMalformedCounter, hits, ttl)
	}

	limit, err := l.EffectiveLimit(ctx, requester, rule)
	if err != nil {
		return nil, err
	}

	remaining := limit - hits
	return &Result{
		Limit:     limit,
		Remaining: remaining,
		Reset:     ttl,
		Allowed:   remaining >= 0,
	}, nil
}

// EffectiveLimit resolves the limit for requester on rule without
// counting a hit.
func (l *Limiter) EffectiveLimit(ctx context.Context, requester string, rule policy.Rule) (int64, error) {
	if l.overrides != nil {
		limit, ok, err := l.overrides.GetOrLoad(ctx, requester, rule.RouteKey(), rule.Method)
		if err != nil {
			return 0, fmt.Errorf("load purchased limit: %w", err)
		}
		if ok {
			return limit, nil
		}
	}
	if rule.Limit > 0 {
		return rule.Limit, nil
	}
	return l.defaultLimit, nil
}

// DefaultLimit returns the limit used when a rule has none.
func (l *Limiter) DefaultLimit() int64 {
	return l.defaultLimit
}
