package config_test

import (
	"testing"
	"time"

	"github.com/dmitrymomot/guardrail/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Host    string        `env:"TEST_HOST" envDefault:"localhost"`
	Port    int           `env:"TEST_PORT" envDefault:"6379"`
	Timeout time.Duration `env:"TEST_TIMEOUT" envDefault:"5s"`
}

type requiredConfig struct {
	Token string `env:"TEST_REQUIRED_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 6379, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("reads environment overrides", func(t *testing.T) {
		t.Setenv("TEST_HOST", "redis.internal")
		t.Setenv("TEST_PORT", "6380")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "redis.internal", cfg.Host)
		assert.Equal(t, 6380, cfg.Port)
	})

	t.Run("missing required variable fails", func(t *testing.T) {
		var cfg requiredConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	})

	t.Run("malformed value fails", func(t *testing.T) {
		t.Setenv("TEST_PORT", "not-a-number")

		var cfg testConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	})

	t.Run("nil pointer fails", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[testConfig](nil), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("returns loaded config", func(t *testing.T) {
		var cfg testConfig
		assert.NotPanics(t, func() { config.MustLoad(&cfg) })
		assert.Equal(t, "localhost", cfg.Host)
	})

	t.Run("panics on failure", func(t *testing.T) {
		var cfg requiredConfig
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})
}
