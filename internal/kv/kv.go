// Package kv holds the counter and override-cache stores used by the rate
// limiter. RedisStore is shared by all replicas; MemoryStore is for single
// process deployments and tests.
package kv

import (
	"errors"
	"time"
)

// ErrMalformedResult is returned when the backing store answers an
// increment with something other than a count and a TTL.
var ErrMalformedResult = errors.New("malformed counter result")

const (
	counterPrefix  = "ratelimit:"
	overridePrefix = "purchased-limit:"
)

// Options configures either store.
type Options struct {
	// Window is the fixed counter window. Defaults to one hour.
	Window time.Duration
	// OverrideTTL is how long a cached purchased limit is trusted.
	// Defaults to ten minutes.
	OverrideTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = time.Hour
	}
	if o.OverrideTTL <= 0 {
		o.OverrideTTL = 10 * time.Minute
	}
	return o
}

// CounterKey is the key of the hit counter for one requester, method and
// route.
func CounterKey(requester, route, method string) string {
	return counterPrefix + requester + ":" + method + ":" + route
}

// OverrideKey is the key of the cached purchased limit for one requester,
// method and route.
func OverrideKey(requester, route, method string) string {
	return overridePrefix + requester + ":" + method + ":" + route
}
