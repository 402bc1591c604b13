package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrymomot/guardrail/pkg/redis"

	"github.com/stretchr/testify/assert"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("invalid connection url", func(t *testing.T) {
		t.Parallel()

		_, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL:  "not-a-redis-url",
			RetryAttempts:  1,
			RetryInterval:  time.Millisecond,
			ConnectTimeout: time.Second,
		})
		assert.ErrorIs(t, err, redis.ErrInvalidConnectionURL)
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()

		// Reserved TEST-NET address, nothing listens there.
		_, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL:  "redis://203.0.113.1:6379/0",
			RetryAttempts:  1,
			RetryInterval:  time.Millisecond,
			ConnectTimeout: 500 * time.Millisecond,
		})
		assert.ErrorIs(t, err, redis.ErrNotReady)
	})
}
