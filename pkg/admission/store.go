package admission

import (
	"context"
	"time"
)

// Result contains the outcome of a single counter increment.
type Result struct {
	// Blocked indicates the key exceeded its limit within the window.
	Blocked bool

	// Limit is the maximum number of admissions per window.
	Limit int

	// Remaining is the number of admissions left in the window, clamped
	// to zero.
	Remaining int

	// TotalHits is the post-increment hit count for the window.
	TotalHits int

	// ResetAt is the start of the next window, when the counter resets.
	ResetAt time.Time
}

// RetryAfter returns how long to wait until the window resets.
// Returns 0 when the request was admitted.
func (r *Result) RetryAfter() time.Duration {
	if !r.Blocked {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

// BackoffState describes the lockout state of an auth identity.
type BackoffState struct {
	// ConsecutiveFailures is the current failure streak length.
	ConsecutiveFailures int

	// LockedUntil is the end of the active lockout, zero when unlocked.
	LockedUntil time.Time
}

// Locked reports whether the identity is currently locked out.
func (s *BackoffState) Locked() bool {
	return !s.LockedUntil.IsZero() && time.Now().Before(s.LockedUntil)
}

// Store is the shared counter and lockout state backend. All mutation of
// admission state goes through this interface so the atomicity contract is
// enforced in one place. Implementations must make Increment and
// RecordAuthOutcome single atomic operations: concurrent callers on the
// same key must never both observe a pre-limit count when the true
// post-increment count exceeds the limit.
type Store interface {
	// Increment atomically adds one hit to the key's current fixed window
	// and reports whether the key is over its limit. A window starts at
	// floor(now/window)*window; the counter expires at the window end.
	// Windows shorter than one millisecond are rejected with
	// ErrInvalidInterval.
	Increment(ctx context.Context, key string, window time.Duration, limit int) (*Result, error)

	// Decrement removes one hit from the key's current window, if any.
	// Used to un-count requests excluded by skip-successful/skip-failed
	// policies. Never drives the count below zero.
	Decrement(ctx context.Context, key string, window time.Duration) error

	// RecordAuthOutcome updates the failure streak for an auth identity.
	// On failure it increments the streak and extends the lockout per the
	// backoff policy; on success it clears the streak and the lockout.
	RecordAuthOutcome(ctx context.Context, key string, failed bool, b AuthBackoff) (*BackoffState, error)

	// LockState returns the current lockout state for an auth identity.
	// Unknown keys yield a zero state.
	LockState(ctx context.Context, key string) (*BackoffState, error)

	// Reset clears all admission state for the given key.
	Reset(ctx context.Context, key string) error
}

// windowStart returns the deterministic start of the fixed window that
// contains now, computed from the Unix epoch so every process instance
// agrees on bucket boundaries.
func windowStart(now time.Time, window time.Duration) time.Time {
	ms := now.UnixMilli()
	wms := window.Milliseconds()
	return time.UnixMilli(ms - ms%wms)
}
