package admission

import "time"

// maxDoublings bounds the left shift below so the duration arithmetic can
// never overflow before the cap comparison kicks in.
const maxDoublings = 40

// LockoutDuration returns how long an identity stays locked out after the
// given number of consecutive authentication failures. The duration starts
// at the policy's base delay, doubles per failure, and saturates at the
// policy's max delay. With the defaults this yields 2s, 4s, 8s, ... capped
// at 15 minutes.
//
// The function is pure and deterministic: no jitter, no clock access.
// Non-positive failure counts yield zero.
func LockoutDuration(consecutiveFailures int, b AuthBackoff) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}

	b = b.withDefaults()

	if consecutiveFailures > maxDoublings {
		return b.MaxDelay
	}

	d := b.BaseDelay << (consecutiveFailures - 1)
	if d <= 0 || d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}
