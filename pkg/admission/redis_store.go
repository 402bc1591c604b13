package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increment: one round trip, atomic by virtue of Redis script
// execution. The bucket key already encodes the window start, so a fresh
// key means a fresh window; the TTL makes the record self-expiring.
var incrScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

// Counter decrement, clamped at zero. Skips missing keys so a decrement
// after the window rolled over cannot resurrect an expired bucket.
var decrScript = redis.NewScript(`
local hits = tonumber(redis.call("GET", KEYS[1]))
if hits and hits > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// Failure recording: bump the streak, derive the lockout deadline inside
// the script so concurrent failures across instances serialize on Redis.
// ARGV: base delay ms, max delay ms, now ms, record TTL ms.
var failureScript = redis.NewScript(`
local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
local delay = tonumber(ARGV[1]) * 2 ^ (failures - 1)
local cap = tonumber(ARGV[2])
if delay > cap then
	delay = cap
end
local locked_until = tonumber(ARGV[3]) + delay
redis.call("HSET", KEYS[1], "locked_until", locked_until)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {failures, locked_until}
`)

// RedisStore implements Store on a shared Redis backend, making the
// admission counters consistent across process instances.
type RedisStore struct {
	client         redis.UniversalClient
	prefix         string
	backoffIdleTTL time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces all store keys, so several applications can
// share one Redis database.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisBackoffIdleTTL sets how long a backoff record survives in Redis
// after its last update. Always at least the active lockout duration.
func WithRedisBackoffIdleTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.backoffIdleTTL = ttl
		}
	}
}

// NewRedisStore creates a Store backed by the given Redis client. The
// caller owns the client lifecycle; see pkg/redis for connection helpers.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("admission: redis client is required")
	}

	s := &RedisStore{
		client:         client,
		prefix:         "admission:",
		backoffIdleTTL: time.Hour,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// counterKey buckets the logical key by window start so every instance
// addresses the same Redis key for the same window.
func (s *RedisStore) counterKey(key string, start time.Time) string {
	return s.prefix + "counter:" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

func (s *RedisStore) backoffKey(key string) string {
	return s.prefix + key
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, limit int) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	// Window bucketing works at millisecond granularity; anything finer
	// would divide by zero.
	if window < time.Millisecond {
		return nil, ErrInvalidInterval
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	now := time.Now()
	start := windowStart(now, window)
	resetAt := start.Add(window)
	ttl := resetAt.Sub(now).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	hits, err := incrScript.Run(ctx, s.client, []string{s.counterKey(key, start)}, ttl).Int()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	return &Result{
		Blocked:   hits > limit,
		Limit:     limit,
		Remaining: max(0, limit-hits),
		TotalHits: hits,
		ResetAt:   resetAt,
	}, nil
}

// Decrement implements Store.
func (s *RedisStore) Decrement(ctx context.Context, key string, window time.Duration) error {
	if key == "" {
		return ErrKeyRequired
	}
	if window < time.Millisecond {
		return ErrInvalidInterval
	}

	start := windowStart(time.Now(), window)
	if err := decrScript.Run(ctx, s.client, []string{s.counterKey(key, start)}).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// RecordAuthOutcome implements Store. A success deletes the record; a
// failure runs the lockout script, which derives the deadline from the
// post-increment streak so concurrent failures never lose updates.
func (s *RedisStore) RecordAuthOutcome(ctx context.Context, key string, failed bool, b AuthBackoff) (*BackoffState, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	if !failed {
		if err := s.client.Del(ctx, s.backoffKey(key)).Err(); err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		return &BackoffState{}, nil
	}

	b = b.withDefaults()
	now := time.Now()
	ttl := max(s.backoffIdleTTL, b.MaxDelay).Milliseconds()

	vals, err := failureScript.Run(ctx, s.client, []string{s.backoffKey(key)},
		b.BaseDelay.Milliseconds(),
		b.MaxDelay.Milliseconds(),
		now.UnixMilli(),
		ttl,
	).Int64Slice()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("%w: unexpected lockout script reply", ErrStoreUnavailable)
	}

	return &BackoffState{
		ConsecutiveFailures: int(vals[0]),
		LockedUntil:         time.UnixMilli(vals[1]),
	}, nil
}

// LockState implements Store.
func (s *RedisStore) LockState(ctx context.Context, key string) (*BackoffState, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	vals, err := s.client.HMGet(ctx, s.backoffKey(key), "failures", "locked_until").Result()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	state := &BackoffState{}
	if v, ok := vals[0].(string); ok {
		if failures, err := strconv.Atoi(v); err == nil {
			state.ConsecutiveFailures = failures
		}
	}
	if v, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			state.LockedUntil = time.UnixMilli(ms)
		}
	}
	return state, nil
}

// Reset implements Store. Counter buckets are window-addressed and
// self-expiring, so only the backoff record needs explicit deletion.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}

	if err := s.client.Del(ctx, s.backoffKey(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
