package admission_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/dmitrymomot/guardrail/pkg/admission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEmitter(t *testing.T) {
	t.Parallel()

	t.Run("writes events as structured records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, nil))

		emitter := admission.NewLogEmitter(log)
		emitter.Emit(context.Background(), admission.Event{
			ID:       "evt-1",
			Name:     admission.EventBackoffSeconds,
			Route:    "auth.login",
			Scope:    admission.ScopeAuthBackoff,
			KeyKind:  admission.KeyKindIP,
			HashedIP: "deadbeef",
			Value:    8,
			At:       time.Now(),
		})

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, admission.EventBackoffSeconds, record["msg"])
		assert.Equal(t, "auth.login", record["route"])
		assert.Equal(t, "auth_backoff", record["scope"])
		assert.Equal(t, "deadbeef", record["hashed_ip"])
		assert.EqualValues(t, 8, record["value"])
	})

	t.Run("nil logger falls back to the default", func(t *testing.T) {
		t.Parallel()

		emitter := admission.NewLogEmitter(nil)
		assert.NotPanics(t, func() {
			emitter.Emit(context.Background(), admission.Event{Name: admission.EventAllowed})
		})
	})
}

func TestNoopEmitter(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		admission.NoopEmitter{}.Emit(context.Background(), admission.Event{Name: admission.EventAllowed})
	})
}
