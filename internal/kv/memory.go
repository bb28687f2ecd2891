package kv

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how many increments pass between expiry sweeps.
const sweepEvery = 1024

type counterEntry struct {
	hits    int64
	expires time.Time
}

type overrideEntry struct {
	limit   int64
	expires time.Time
}

// MemoryStore is an in-process counter store. Counts are not shared
// between processes.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	counters  map[string]*counterEntry
	overrides map[string]overrideEntry
	ops       int
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:      opts.withDefaults(),
		now:       time.Now,
		counters:  make(map[string]*counterEntry),
		overrides: make(map[string]overrideEntry),
	}
}

// IncrementCounter adds one hit and returns the new count and the time
// left in the window. The window starts at the first hit.
func (m *MemoryStore) IncrementCounter(_ context.Context, requester, route, method string) (int64, time.Duration, error) {
	key := CounterKey(requester, route, method)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops++
	if m.ops%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	e, ok := m.counters[key]
	if !ok || !now.Before(e.expires) {
		e = &counterEntry{expires: now.Add(m.opts.Window)}
		m.counters[key] = e
	}
	e.hits++
	return e.hits, e.expires.Sub(now), nil
}

// GetPurchasedLimitForRoute returns the cached override, if any.
func (m *MemoryStore) GetPurchasedLimitForRoute(_ context.Context, requester, route, method string) (int64, bool, error) {
	key := OverrideKey(requester, route, method)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.overrides[key]
	if !ok {
		return 0, false, nil
	}
	if !now.Before(e.expires) {
		delete(m.overrides, key)
		return 0, false, nil
	}
	return e.limit, true, nil
}

// SetPurchasedLimitForRoute caches an override for the configured TTL.
func (m *MemoryStore) SetPurchasedLimitForRoute(_ context.Context, requester, route, method string, limit int64) error {
	key := OverrideKey(requester, route, method)
	m.mu.Lock()
	m.overrides[key] = overrideEntry{limit: limit, expires: m.now().Add(m.opts.OverrideTTL)}
	m.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range m.counters {
		if !now.Before(e.expires) {
			delete(m.counters, k)
		}
	}
	for k, e := range m.overrides {
		if !now.Before(e.expires) {
			delete(m.overrides, k)
		}
	}
}
