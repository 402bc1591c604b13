package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store for single-process deployments. Counter and
// lockout records live in mutex-guarded maps; a janitor goroutine evicts
// expired windows and idle backoff records.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counterRecord
	backoffs map[string]*backoffRecord

	cleanupInterval time.Duration
	backoffIdleTTL  time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

type counterRecord struct {
	windowStart time.Time
	hits        int
	resetAt     time.Time
}

type backoffRecord struct {
	consecutiveFailures int
	lockedUntil         time.Time
	updatedAt           time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often the janitor evicts expired records.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithBackoffIdleTTL sets how long an unlocked backoff record survives
// without updates before the janitor evicts it.
func WithBackoffIdleTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.backoffIdleTTL = ttl
		}
	}
}

// NewMemoryStore creates an in-memory store with automatic cleanup.
// Call Close to stop the janitor goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		counters:        make(map[string]*counterRecord),
		backoffs:        make(map[string]*backoffRecord),
		cleanupInterval: time.Minute,
		backoffIdleTTL:  time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Increment implements Store. The whole read-modify-write happens under
// the store mutex, which is what makes the check-and-count atomic.
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration, limit int) (*Result, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.counters[key]
	if !ok || !rec.windowStart.Equal(start) {
		rec = &counterRecord{
			windowStart: start,
			resetAt:     start.Add(window),
		}
		s.counters[key] = rec
	}
	rec.hits++

	return &Result{
		Blocked:   rec.hits > limit,
		Limit:     limit,
		Remaining: max(0, limit-rec.hits),
		TotalHits: rec.hits,
		ResetAt:   rec.resetAt,
	}, nil
}

// Decrement implements Store. A no-op for unknown keys, rolled-over
// windows, and already-empty counters.
func (s *MemoryStore) Decrement(ctx context.Context, key string, window time.Duration) error {
	if key == "" {
		return ErrKeyRequired
	}
	if window < time.Millisecond {
		return ErrInvalidInterval
	}

	start := windowStart(time.Now(), window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.counters[key]; ok && rec.windowStart.Equal(start) && rec.hits > 0 {
		rec.hits--
	}
	return nil
}

// RecordAuthOutcome implements Store. A success deletes the record outright
// so state for well-behaved identities does not accumulate.
func (s *MemoryStore) RecordAuthOutcome(ctx context.Context, key string, failed bool, b AuthBackoff) (*BackoffState, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !failed {
		delete(s.backoffs, key)
		return &BackoffState{}, nil
	}

	rec, ok := s.backoffs[key]
	if !ok {
		rec = &backoffRecord{}
		s.backoffs[key] = rec
	}
	rec.consecutiveFailures++
	rec.lockedUntil = now.Add(LockoutDuration(rec.consecutiveFailures, b))
	rec.updatedAt = now

	return &BackoffState{
		ConsecutiveFailures: rec.consecutiveFailures,
		LockedUntil:         rec.lockedUntil,
	}, nil
}

// LockState implements Store. Unknown keys yield a zero state.
func (s *MemoryStore) LockState(ctx context.Context, key string) (*BackoffState, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.backoffs[key]
	if !ok {
		return &BackoffState{}, nil
	}
	return &BackoffState{
		ConsecutiveFailures: rec.consecutiveFailures,
		LockedUntil:         rec.lockedUntil,
	}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	delete(s.backoffs, key)
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	for key, rec := range s.counters {
		if now.After(rec.resetAt) {
			delete(s.counters, key)
		}
	}

	idleCutoff := now.Add(-s.backoffIdleTTL)
	for key, rec := range s.backoffs {
		if now.After(rec.lockedUntil) && rec.updatedAt.Before(idleCutoff) {
			delete(s.backoffs, key)
		}
	}
}

// Close stops the janitor goroutine. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}
