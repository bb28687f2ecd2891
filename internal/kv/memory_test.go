package kv

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCounterKeys(t *testing.T) {
	if got := CounterKey("acct-1", "/api/accounts/.*/rules/.*", "PUT"); got != "ratelimit:acct-1:PUT:/api/accounts/.*/rules/.*" {
		t.Errorf("CounterKey = %q", got)
	}
	if got := OverrideKey("acct-1", "/api/accounts/.*/rules/.*", "PUT"); got != "purchased-limit:acct-1:PUT:/api/accounts/.*/rules/.*" {
		t.Errorf("OverrideKey = %q", got)
	}
}

func TestMemoryCounterWindow(t *testing.T) {
	m := NewMemoryStore(Options{Window: time.Hour})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	hits, ttl, err := m.IncrementCounter(ctx, "a", "/r", "GET")
	if err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if hits != 1 || ttl != time.Hour {
		t.Errorf("first hit = (%d, %v), want (1, 1h)", hits, ttl)
	}

	// The TTL is fixed at the first hit and only counts down.
	now = now.Add(20 * time.Minute)
	hits, ttl, _ = m.IncrementCounter(ctx, "a", "/r", "GET")
	if hits != 2 || ttl != 40*time.Minute {
		t.Errorf("second hit = (%d, %v), want (2, 40m)", hits, ttl)
	}

	// Other methods and requesters count separately.
	if hits, _, _ := m.IncrementCounter(ctx, "a", "/r", "POST"); hits != 1 {
		t.Errorf("POST hits = %d, want 1", hits)
	}
	if hits, _, _ := m.IncrementCounter(ctx, "b", "/r", "GET"); hits != 1 {
		t.Errorf("requester b hits = %d, want 1", hits)
	}

	// A new window starts after expiry.
	now = now.Add(41 * time.Minute)
	hits, ttl, _ = m.IncrementCounter(ctx, "a", "/r", "GET")
	if hits != 1 || ttl != time.Hour {
		t.Errorf("after expiry = (%d, %v), want (1, 1h)", hits, ttl)
	}
}

func TestMemoryCounterConcurrent(t *testing.T) {
	m := NewMemoryStore(Options{})
	ctx := context.Background()

	const workers, perWorker = 20, 50
	seen := make([]bool, workers*perWorker+1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				hits, _, err := m.IncrementCounter(ctx, "acct", "/api/data/.*", "POST")
				if err != nil {
					t.Errorf("IncrementCounter: %v", err)
					return
				}
				mu.Lock()
				if seen[hits] {
					t.Errorf("count %d returned twice", hits)
				}
				seen[hits] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	hits, _, _ := m.IncrementCounter(ctx, "acct", "/api/data/.*", "POST")
	if hits != workers*perWorker+1 {
		t.Errorf("final count = %d, want %d", hits, workers*perWorker+1)
	}
}

func TestMemoryOverrideCache(t *testing.T) {
	m := NewMemoryStore(Options{OverrideTTL: time.Minute})
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, ok, err := m.GetPurchasedLimitForRoute(ctx, "a", "/r", "GET"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := m.SetPurchasedLimitForRoute(ctx, "a", "/r", "GET", 50); err != nil {
		t.Fatalf("SetPurchasedLimitForRoute: %v", err)
	}
	limit, ok, _ := m.GetPurchasedLimitForRoute(ctx, "a", "/r", "GET")
	if !ok || limit != 50 {
		t.Errorf("got (%d, %v), want (50, true)", limit, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.GetPurchasedLimitForRoute(ctx, "a", "/r", "GET"); ok {
		t.Error("expected cached override to expire")
	}
}

func TestMemorySweep(t *testing.T) {
	m := NewMemoryStore(Options{Window: time.Second})
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.IncrementCounter(ctx, "old", "/r", "GET")
	now = now.Add(2 * time.Second)
	for i := 0; i < sweepEvery; i++ {
		m.IncrementCounter(ctx, "new", "/r", "GET")
	}

	m.mu.Lock()
	_, stale := m.counters[CounterKey("old", "/r", "GET")]
	m.mu.Unlock()
	if stale {
		t.Error("expected expired counter to be swept")
	}
}
