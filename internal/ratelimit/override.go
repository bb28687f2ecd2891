package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// noOverride is cached to remember that a requester has not purchased a
// limit for a route, so the database is not asked again until the cache
// entry expires.
const noOverride int64 = -1

// overrideLoadTimeout bounds a shared source query, which runs detached
// from the caller that started it.
const overrideLoadTimeout = 5 * time.Second

// OverrideCache is the fast copy of purchased limits, normally kept next
// to the counters.
type OverrideCache interface {
	GetPurchasedLimitForRoute(ctx context.Context, requester, route, method string) (int64, bool, error)
	SetPurchasedLimitForRoute(ctx context.Context, requester, route, method string, limit int64) error
}

// OverrideSource is the authoritative store of purchased limits.
type OverrideSource interface {
	GetLimitForRoute(ctx context.Context, requester, route, method string) (int64, bool, error)
}

// OverrideLookup reads purchased limits through the cache, falling back to
// the source on a miss and writing the answer back.
type OverrideLookup struct {
	cache  OverrideCache
	source OverrideSource
	logger *slog.Logger
	group  singleflight.Group
}

// NewOverrideLookup creates a read-through lookup. source may be nil, in
// which case only cached values are seen.
func NewOverrideLookup(cache OverrideCache, source OverrideSource, logger *slog.Logger) *OverrideLookup {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverrideLookup{cache: cache, source: source, logger: logger}
}

// GetOrLoad returns the purchased limit for requester on route, if any.
// Cache errors are logged and treated as a miss; source errors are
// returned. Concurrent loads of the same key share one source query.
func (o *OverrideLookup) GetOrLoad(ctx context.Context, requester, route, method string) (int64, bool, error) {
	limit, cached, err := o.cache.GetPurchasedLimitForRoute(ctx, requester, route, method)
	if err != nil {
		o.logger.Warn("override cache read failed", "requester", requester, "route", route, "method", method, "error", err)
	} else if cached {
		if limit < 0 {
			return 0, false, nil
		}
		return limit, true, nil
	}

	if o.source == nil {
		return 0, false, nil
	}

	key := requester + "\x00" + method + "\x00" + route
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), overrideLoadTimeout)
		defer cancel()

		limit, ok, err := o.source.GetLimitForRoute(loadCtx, requester, route, method)
		if err != nil {
			return nil, err
		}
		if !ok {
			limit = noOverride
		}
		o.Set(loadCtx, requester, route, method, limit)
		return limit, nil
	})
	if err != nil {
		return 0, false, err
	}
	limit = v.(int64)
	if limit < 0 {
		return 0, false, nil
	}
	return limit, true, nil
}

// Set writes limit to the cache. A negative limit records that there is no
// override. Failures are logged only; the cache will be refilled from the
// source on a later miss.
func (o *OverrideLookup) Set(ctx context.Context, requester, route, method string, limit int64) {
	if err := o.cache.SetPurchasedLimitForRoute(ctx, requester, route, method, limit); err != nil {
		o.logger.Warn("override cache write failed", "requester", requester, "route", route, "method", method, "error", err)
	}
}

// Forget records in the cache that requester has no override for route.
func (o *OverrideLookup) Forget(ctx context.Context, requester, route, method string) {
	o.Set(ctx, requester, route, method, noOverride)
}
