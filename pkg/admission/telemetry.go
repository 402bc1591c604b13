package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Telemetry event names emitted by the middleware.
const (
	EventAllowed        = "rate_limit.allowed"
	EventBlocked        = "rate_limit.blocked"
	EventBackoffApplied = "auth.backoff_applied"
	EventBackoffSeconds = "auth.backoff_seconds"
)

// Event is a single admission telemetry record.
type Event struct {
	// ID uniquely identifies the event instance.
	ID string

	// Name is one of the Event* constants.
	Name string

	// Route, Scope and KeyKind are the policy dimensions.
	Route   string
	Scope   Scope
	KeyKind KeyKind

	// HashedIP is the truncated hash of the client address, set on
	// backoff events. Raw addresses never appear in telemetry.
	HashedIP string

	// HasUser reports whether an authenticated principal was present.
	HasUser bool

	// Value carries the numeric payload for measurement events
	// (lockout seconds for EventBackoffSeconds).
	Value float64

	// At is the emission timestamp.
	At time.Time
}

// Emitter receives admission telemetry. Implementations are best-effort
// collaborators: the middleware discards panics from Emit, and emission
// never influences admission decisions, so sinks are free to drop events
// under pressure.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) {}

// LogEmitter writes events to a structured logger, the default sink when
// no metrics pipeline is wired in.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter creates an emitter writing to the given logger, or the
// default logger when nil.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(ctx context.Context, ev Event) {
	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("route", ev.Route),
		slog.String("scope", string(ev.Scope)),
		slog.String("key_kind", string(ev.KeyKind)),
		slog.Bool("has_user", ev.HasUser),
	}
	if ev.HashedIP != "" {
		attrs = append(attrs, slog.String("hashed_ip", ev.HashedIP))
	}
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	e.log.InfoContext(ctx, ev.Name, attrs...)
}

// newEvent stamps identity and time; callers fill the dimensions.
func newEvent(name string, p Policy) Event {
	return Event{
		ID:      uuid.NewString(),
		Name:    name,
		Route:   p.RouteID,
		Scope:   p.Scope,
		KeyKind: p.KeyKind,
		At:      time.Now(),
	}
}
