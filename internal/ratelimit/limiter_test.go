package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iotdash/iotdash/internal/kv"
	"github.com/iotdash/iotdash/internal/policy"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSource is an in-memory OverrideSource that counts queries.
type fakeSource struct {
	limits map[string]int64
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeSource) GetLimitForRoute(_ context.Context, requester, route, method string) (int64, bool, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return 0, false, f.err
	}
	l, ok := f.limits[requester+" "+method+" "+route]
	return l, ok, nil
}

// gatedSource holds every query until release is closed, failing early if
// the query's context ends.
type gatedSource struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	limit   int64
}

func (g *gatedSource) GetLimitForRoute(ctx context.Context, _, _, _ string) (int64, bool, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.limit, true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// brokenCache fails every operation.
type brokenCache struct{}

func (brokenCache) GetPurchasedLimitForRoute(context.Context, string, string, string) (int64, bool, error) {
	return 0, false, errors.New("cache down")
}

func (brokenCache) SetPurchasedLimitForRoute(context.Context, string, string, string, int64) error {
	return errors.New("cache down")
}

// stubCounter returns fixed values.
type stubCounter struct {
	hits int64
	ttl  time.Duration
	err  error
}

func (s stubCounter) IncrementCounter(context.Context, string, string, string) (int64, time.Duration, error) {
	return s.hits, s.ttl, s.err
}

func ruleFor(t *testing.T, path, method string, limit int64) policy.Rule {
	t.Helper()
	rt, err := policy.NewRouteTable([]policy.RuleSpec{{Path: path, Method: method, Scope: "public", Limit: limit}})
	if err != nil {
		t.Fatalf("NewRouteTable: %v", err)
	}
	return rt.Rules()[0]
}

func TestCheckCountsDown(t *testing.T) {
	store := kv.NewMemoryStore(kv.Options{Window: time.Hour})
	lim := NewLimiter(store, NewOverrideLookup(store, &fakeSource{}, discard), 0)
	rule := ruleFor(t, "/api/accounts/:accountId/data/:deviceId", "POST", 3)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := lim.Check(ctx, "acct-1", rule)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d rejected", i)
		}
		if res.Limit != 3 || res.Remaining != 3-i {
			t.Errorf("request %d: limit=%d remaining=%d", i, res.Limit, res.Remaining)
		}
		if res.ResetSeconds() != 3600 {
			t.Errorf("request %d: reset=%d, want 3600", i, res.ResetSeconds())
		}
	}

	res, err := lim.Check(ctx, "acct-1", rule)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Allowed || res.Remaining != -1 {
		t.Errorf("fourth request: allowed=%v remaining=%d, want rejected at -1", res.Allowed, res.Remaining)
	}

	// A different requester has its own budget.
	res, _ = lim.Check(ctx, "acct-2", rule)
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("other requester: allowed=%v remaining=%d", res.Allowed, res.Remaining)
	}
}

func TestEffectiveLimitPrecedence(t *testing.T) {
	ctx := context.Background()
	staticRule := ruleFor(t, "/api/accounts/:accountId/rules/:ruleId", "PUT", 10)
	route := staticRule.RouteKey()
	if route != "/api/accounts/.*/rules/.*" {
		t.Fatalf("route key = %q", route)
	}

	t.Run("cached override wins", func(t *testing.T) {
		store := kv.NewMemoryStore(kv.Options{})
		src := &fakeSource{limits: map[string]int64{"a PUT " + route: 100}}
		store.SetPurchasedLimitForRoute(ctx, "a", route, "PUT", 50)
		lim := NewLimiter(store, NewOverrideLookup(store, src, discard), 0)

		got, err := lim.EffectiveLimit(ctx, "a", staticRule)
		if err != nil || got != 50 {
			t.Errorf("got (%d, %v), want 50", got, err)
		}
		if src.calls.Load() != 0 {
			t.Errorf("source queried %d times on a cache hit", src.calls.Load())
		}
	})

	t.Run("persisted override fills cache", func(t *testing.T) {
		store := kv.NewMemoryStore(kv.Options{})
		src := &fakeSource{limits: map[string]int64{"a PUT " + route: 100}}
		lim := NewLimiter(store, NewOverrideLookup(store, src, discard), 0)

		got, err := lim.EffectiveLimit(ctx, "a", staticRule)
		if err != nil || got != 100 {
			t.Errorf("got (%d, %v), want 100", got, err)
		}
		cached, ok, _ := store.GetPurchasedLimitForRoute(ctx, "a", route, "PUT")
		if !ok || cached != 100 {
			t.Errorf("cache = (%d, %v), want (100, true)", cached, ok)
		}
	})

	t.Run("static rule limit", func(t *testing.T) {
		store := kv.NewMemoryStore(kv.Options{})
		src := &fakeSource{}
		lim := NewLimiter(store, NewOverrideLookup(store, src, discard), 0)

		got, err := lim.EffectiveLimit(ctx, "a", staticRule)
		if err != nil || got != 10 {
			t.Errorf("got (%d, %v), want 10", got, err)
		}
		// The absence is cached, so a second lookup does not hit the source.
		lim.EffectiveLimit(ctx, "a", staticRule)
		if src.calls.Load() != 1 {
			t.Errorf("source queried %d times, want 1", src.calls.Load())
		}
	})

	t.Run("global default", func(t *testing.T) {
		store := kv.NewMemoryStore(kv.Options{})
		lim := NewLimiter(store, NewOverrideLookup(store, &fakeSource{}, discard), 250)
		got, err := lim.EffectiveLimit(ctx, "a", ruleFor(t, "/api/accounts/:accountId", "GET", 0))
		if err != nil || got != 250 {
			t.Errorf("got (%d, %v), want 250", got, err)
		}
	})
}

func TestOverrideCacheFailuresAreSoft(t *testing.T) {
	ctx := context.Background()
	rule := ruleFor(t, "/api/accounts/:accountId", "GET", 10)
	src := &fakeSource{limits: map[string]int64{"a GET " + rule.RouteKey(): 75}}
	lookup := NewOverrideLookup(brokenCache{}, src, discard)

	limit, ok, err := lookup.GetOrLoad(ctx, "a", rule.RouteKey(), "GET")
	if err != nil || !ok || limit != 75 {
		t.Errorf("got (%d, %v, %v), want (75, true, nil)", limit, ok, err)
	}
}

func TestOverrideSourceFailureIsHard(t *testing.T) {
	store := kv.NewMemoryStore(kv.Options{})
	boom := errors.New("db down")
	lim := NewLimiter(store, NewOverrideLookup(store, &fakeSource{err: boom}, discard), 0)

	_, err := lim.Check(context.Background(), "a", ruleFor(t, "/api/health", "GET", 0))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}

func TestCounterFailures(t *testing.T) {
	rule := ruleFor(t, "/api/health", "GET", 0)
	ctx := context.Background()

	boom := errors.New("redis down")
	if _, err := NewLimiter(stubCounter{err: boom}, nil, 0).Check(ctx, "a", rule); !errors.Is(err, boom) {
		t.Errorf("expected counter error, got %v", err)
	}
	if _, err := NewLimiter(stubCounter{hits: 0, ttl: time.Minute}, nil, 0).Check(ctx, "a", rule); !errors.Is(err, ErrMalformedCounter) {
		t.Errorf("zero hits: expected ErrMalformedCounter, got %v", err)
	}
	if _, err := NewLimiter(stubCounter{hits: 1, ttl: -time.Second}, nil, 0).Check(ctx, "a", rule); !errors.Is(err, ErrMalformedCounter) {
		t.Errorf("negative ttl: expected ErrMalformedCounter, got %v", err)
	}
}

func TestOverrideLoadsAreShared(t *testing.T) {
	store := kv.NewMemoryStore(kv.Options{})
	src := &fakeSource{delay: 50 * time.Millisecond, limits: map[string]int64{"a GET /r": 5}}
	lookup := NewOverrideLookup(store, src, discard)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limit, ok, err := lookup.GetOrLoad(ctx, "a", "/r", "GET")
			if err != nil || !ok || limit != 5 {
				t.Errorf("got (%d, %v, %v)", limit, ok, err)
			}
		}()
	}
	wg.Wait()

	if n := src.calls.Load(); n > 2 {
		t.Errorf("source queried %d times for concurrent loads", n)
	}
}

func TestForgetCachesAbsence(t *testing.T) {
	store := kv.NewMemoryStore(kv.Options{})
	src := &fakeSource{limits: map[string]int64{"a GET /r": 5}}
	lookup := NewOverrideLookup(store, src, discard)
	ctx := context.Background()

	lookup.Set(ctx, "a", "/r", "GET", 9)
	if limit, ok, _ := lookup.GetOrLoad(ctx, "a", "/r", "GET"); !ok || limit != 9 {
		t.Errorf("GetOrLoad after Set = (%d, %v)", limit, ok)
	}
	lookup.Forget(ctx, "a", "/r", "GET")
	if _, ok, _ := lookup.GetOrLoad(ctx, "a", "/r", "GET"); ok {
		t.Error("expected no override after Forget")
	}
	if src.calls.Load() != 0 {
		t.Error("Forget should be served from the cache")
	}
}

func TestOverrideLoadOutlivesFirstCaller(t *testing.T) {
	store := kv.NewMemoryStore(kv.Options{})
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{}), limit: 7}
	lookup := NewOverrideLookup(store, src, discard)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, _, err := lookup.GetOrLoad(first, "a", "/r", "GET")
		firstDone <- err
	}()
	<-src.started

	type result struct {
		limit int64
		ok    bool
		err   error
	}
	waiter := make(chan result, 1)
	go func() {
		limit, ok, err := lookup.GetOrLoad(context.Background(), "a", "/r", "GET")
		waiter <- result{limit, ok, err}
	}()

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(src.release)

	if err := <-firstDone; err != nil {
		t.Errorf("first caller: %v", err)
	}
	got := <-waiter
	if got.err != nil || !got.ok || got.limit != 7 {
		t.Errorf("waiting caller got (%d, %v, %v), want (7, true, nil)", got.limit, got.ok, got.err)
	}
	if limit, ok, err := store.GetPurchasedLimitForRoute(context.Background(), "a", "/r", "GET"); err != nil || !ok || limit != 7 {
		t.Errorf("cached = (%d, %v, %v), want 7 written back", limit, ok, err)
	}
}
