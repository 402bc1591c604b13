package admission_test

import (
	"testing"
	"time"

	"github.com/dmitrymomot/guardrail/pkg/admission"

	"github.com/stretchr/testify/assert"
)

func TestLockoutDuration(t *testing.T) {
	t.Parallel()

	t.Run("doubles per failure with defaults", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			failures int
			want     time.Duration
		}{
			{1, 2 * time.Second},
			{2, 4 * time.Second},
			{3, 8 * time.Second},
			{9, 512 * time.Second},
			{10, 900 * time.Second},
			{15, 900 * time.Second},
		}

		for _, tc := range cases {
			got := admission.LockoutDuration(tc.failures, admission.AuthBackoff{})
			assert.Equal(t, tc.want, got, "failures=%d", tc.failures)
		}
	})

	t.Run("zero and negative failures yield no lockout", func(t *testing.T) {
		t.Parallel()

		assert.Zero(t, admission.LockoutDuration(0, admission.AuthBackoff{}))
		assert.Zero(t, admission.LockoutDuration(-3, admission.AuthBackoff{}))
	})

	t.Run("monotonic non-decreasing", func(t *testing.T) {
		t.Parallel()

		prev := time.Duration(0)
		for failures := 1; failures <= 64; failures++ {
			got := admission.LockoutDuration(failures, admission.AuthBackoff{})
			assert.GreaterOrEqual(t, got, prev, "failures=%d", failures)
			prev = got
		}
	})

	t.Run("saturates at the cap and stays there", func(t *testing.T) {
		t.Parallel()

		b := admission.AuthBackoff{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
		assert.Equal(t, time.Second, admission.LockoutDuration(1, b))
		assert.Equal(t, 8*time.Second, admission.LockoutDuration(4, b))
		assert.Equal(t, 10*time.Second, admission.LockoutDuration(5, b))
		assert.Equal(t, 10*time.Second, admission.LockoutDuration(100, b))
		assert.Equal(t, 10*time.Second, admission.LockoutDuration(10_000, b))
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		for range 10 {
			assert.Equal(t, 8*time.Second, admission.LockoutDuration(3, admission.AuthBackoff{}))
		}
	})
}
