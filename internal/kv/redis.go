package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter and starts the window on the first
// hit. A key that somehow lost its TTL gets a fresh one instead of living
// forever. Returns {hits, pttl}.
var incrScript = redis.NewScript(`
local hits = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if hits == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

// RedisConfig holds connection settings for NewRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps counters and cached overrides in Redis so every replica
// sees the same counts.
type RedisStore struct {
	rdb  *redis.Client
	opts Options
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts Options) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(rdb, opts), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, opts Options) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts.withDefaults()}
}

// IncrementCounter atomically adds one hit and returns the new count and
// the time left in the window.
func (s *RedisStore) IncrementCounter(ctx context.Context, requester, route, method string) (int64, time.Duration, error) {
	key := CounterKey(requester, route, method)
	res, err := incrScript.Run(ctx, s.rdb, []string{key}, s.opts.Window.Milliseconds()).Int64Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, ErrMalformedResult
		}
		return 0, 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("increment %s: %w: got %d values", key, ErrMalformedResult, len(res))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// GetPurchasedLimitForRoute returns the cached override, if any.
func (s *RedisStore) GetPurchasedLimitForRoute(ctx context.Context, requester, route, method string) (int64, bool, error) {
	key := OverrideKey(requester, route, method)
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	limit, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return limit, true, nil
}

// SetPurchasedLimitForRoute caches an override for the configured TTL.
func (s *RedisStore) SetPurchasedLimitForRoute(ctx context.Context, requester, route, method string, limit int64) error {
	key := OverrideKey(requester, route, method)
	if err := s.rdb.Set(ctx, key, limit, s.opts.OverrideTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
