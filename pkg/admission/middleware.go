package admission

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/guardrail/pkg/clientip"
)

// DefaultStoreTimeout bounds every middleware call into the Store so a
// slow shared backend degrades requests instead of hanging them.
const DefaultStoreTimeout = 500 * time.Millisecond

// PolicyResolver maps an inbound request to its admission policy. A
// resolution error is a configuration problem: the middleware answers 500
// and logs it, never silently admitting unlimited traffic.
type PolicyResolver func(r *http.Request) (Policy, error)

// RouteResolver builds a PolicyResolver from a registry and a route naming
// function (e.g. the router's matched pattern).
func RouteResolver(reg *Registry, route func(r *http.Request) string) PolicyResolver {
	if reg == nil {
		panic("admission.RouteResolver: registry is required")
	}
	if route == nil {
		panic("admission.RouteResolver: route function is required")
	}
	return func(r *http.Request) (Policy, error) {
		return reg.Resolve(route(r))
	}
}

// IdentityFunc extracts the authenticated principal's stable identifier
// from a request, typically from a context value set by an upstream auth
// middleware. Returns false for anonymous traffic.
type IdentityFunc func(r *http.Request) (string, bool)

type middlewareConfig struct {
	identity     IdentityFunc
	clientIP     func(r *http.Request) string
	emitter      Emitter
	log          *slog.Logger
	storeTimeout time.Duration
}

// MiddlewareOption configures the admission middleware.
type MiddlewareOption func(*middlewareConfig)

// WithIdentityFunc sets the principal extractor used for user-scoped keys
// and auth lockout identity.
func WithIdentityFunc(fn IdentityFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.identity = fn
		}
	}
}

// WithClientIPFunc overrides client address resolution
// (default: clientip.GetIP).
func WithClientIPFunc(fn func(r *http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.clientIP = fn
		}
	}
}

// WithEmitter sets the telemetry sink (default: none).
func WithEmitter(e Emitter) MiddlewareOption {
	return func(c *middlewareConfig) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithLogger sets the logger for degraded-mode and configuration errors
// (default: slog.Default).
func WithLogger(log *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStoreTimeout bounds individual store calls
// (default: DefaultStoreTimeout).
func WithStoreTimeout(d time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

// Middleware wraps a handler with request admission: per-route rate limits
// plus exponential auth lockout for routes whose policy carries an
// AuthBackoff section.
//
// Per request it resolves the policy, short-circuits with 429 when the
// caller's auth identity is locked out (lockout takes precedence and
// touches no counters), atomically counts the request against its window,
// answers 429 with Retry-After and X-RateLimit-* headers when over the
// limit, and otherwise invokes the wrapped handler exactly once. On auth
// routes the response status is matched against the policy's failure codes
// to advance or reset the lockout streak.
//
// Degraded mode: when the store is unreachable, ordinary rate limiting
// fails open (the request is admitted and the outage logged) while the
// auth lockout check fails closed (429 with Retry-After of one base delay)
// so a store outage never becomes a brute-force window.
//
// Panics if store or resolve is nil.
func Middleware(store Store, resolve PolicyResolver, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		panic("admission.Middleware: store is required")
	}
	if resolve == nil {
		panic("admission.Middleware: policy resolver is required")
	}

	cfg := &middlewareConfig{
		clientIP:     clientip.GetIP,
		emitter:      NoopEmitter{},
		log:          slog.Default(),
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &middleware{store: store, resolve: resolve, cfg: cfg}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}
}

type middleware struct {
	store   Store
	resolve PolicyResolver
	cfg     *middlewareConfig
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	policy, err := m.resolve(r)
	if err != nil {
		m.cfg.log.ErrorContext(r.Context(), "admission policy resolution failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	// Resolvers outside the registry may hand over bare policies.
	policy = policy.withDefaults()

	id := Identity{IP: m.cfg.clientIP(r)}
	if m.cfg.identity != nil {
		if userID, ok := m.cfg.identity(r); ok {
			id.UserID = userID
		}
	}

	// Lockout check comes first and short-circuits without touching the
	// ordinary counters.
	var authKey string
	if policy.AuthBackoff != nil {
		authKey, err = BackoffKey(policy.RouteID, id)
		if err != nil {
			m.cfg.log.ErrorContext(r.Context(), "admission backoff key derivation failed",
				slog.String("route", policy.RouteID),
				slog.Any("error", err))
		} else if m.checkLockout(w, r, policy, id, authKey) {
			return
		}
	}

	key, err := CounterKey(policy, id)
	if err != nil {
		// No usable key means nothing to count against. Admit and log
		// rather than turning a key derivation problem into an outage.
		m.cfg.log.ErrorContext(r.Context(), "admission key derivation failed",
			slog.String("route", policy.RouteID),
			slog.Any("error", err))
		next.ServeHTTP(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.storeTimeout)
	result, err := m.store.Increment(ctx, key, policy.Window, policy.MaxRequests)
	cancel()
	if err != nil {
		// Fail open: an infrastructure outage must not become a full
		// outage for ordinary traffic.
		m.cfg.log.WarnContext(r.Context(), "admission store unreachable, admitting request",
			slog.String("route", policy.RouteID),
			slog.Any("error", err))
		next.ServeHTTP(w, r)
		return
	}

	setRateLimitHeaders(w, result)

	if result.Blocked {
		writeBlocked(w, result.RetryAfter())
		m.emit(r.Context(), newEvent(EventBlocked, policy), id)
		return
	}

	m.emit(r.Context(), newEvent(EventAllowed, policy), id)

	// Plain policies need no response inspection; hand off directly.
	if policy.AuthBackoff == nil && !policy.SkipSuccessfulRequests && !policy.SkipFailedRequests {
		next.ServeHTTP(w, r)
		return
	}

	rec := &statusRecorder{ResponseWriter: w}
	next.ServeHTTP(rec, r)
	status := rec.Status()

	if policy.AuthBackoff != nil && authKey != "" {
		m.recordAuthOutcome(r, policy, id, authKey, status)
	}

	if (policy.SkipSuccessfulRequests && status < http.StatusBadRequest) ||
		(policy.SkipFailedRequests && status >= http.StatusBadRequest) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), m.cfg.storeTimeout)
		defer cancel()
		if err := m.store.Decrement(ctx, key, policy.Window); err != nil {
			m.cfg.log.WarnContext(r.Context(), "admission counter decrement failed",
				slog.String("route", policy.RouteID),
				slog.Any("error", err))
		}
	}
}

// checkLockout answers the request when the identity is locked out or the
// lock state is unknown due to a store outage. Reports true when the
// request was answered.
func (m *middleware) checkLockout(w http.ResponseWriter, r *http.Request, policy Policy, id Identity, authKey string) bool {
	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.storeTimeout)
	state, err := m.store.LockState(ctx, authKey)
	cancel()
	if err != nil {
		// Fail closed on auth routes: a store outage must not open a
		// brute-force window. The short retry hint keeps legitimate
		// users from being stranded once the store recovers.
		m.cfg.log.WarnContext(r.Context(), "admission lock state unavailable, failing closed",
			slog.String("route", policy.RouteID),
			slog.Any("error", err))
		retry := policy.AuthBackoff.withDefaults().BaseDelay
		writeLockedOut(w, policy, time.Now().Add(retry), retry)
		m.emitLockBlock(r.Context(), policy, id)
		return true
	}

	if state.Locked() {
		until := state.LockedUntil
		writeLockedOut(w, policy, until, time.Until(until))
		m.emitLockBlock(r.Context(), policy, id)
		return true
	}
	return false
}

// recordAuthOutcome advances or resets the lockout streak from the
// response status. Runs after the response is written, so it uses a
// detached context and treats store errors as log-only: counting is
// optimistic and never transactional with the handler.
func (m *middleware) recordAuthOutcome(r *http.Request, policy Policy, id Identity, authKey string, status int) {
	failed := policy.AuthBackoff.IsFailure(status)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), m.cfg.storeTimeout)
	defer cancel()

	state, err := m.store.RecordAuthOutcome(ctx, authKey, failed, *policy.AuthBackoff)
	if err != nil {
		m.cfg.log.WarnContext(r.Context(), "admission auth outcome recording failed",
			slog.String("route", policy.RouteID),
			slog.Bool("auth_failed", failed),
			slog.Any("error", err))
		return
	}

	if failed {
		lockout := LockoutDuration(state.ConsecutiveFailures, *policy.AuthBackoff)

		applied := newEvent(EventBackoffApplied, policy)
		applied.Scope = ScopeAuthBackoff
		m.emit(r.Context(), applied, id)

		seconds := newEvent(EventBackoffSeconds, policy)
		seconds.Scope = ScopeAuthBackoff
		seconds.Value = lockout.Seconds()
		m.emit(r.Context(), seconds, id)
	}
}

// emit sends a telemetry event, shielding admission from sink failures.
func (m *middleware) emit(ctx context.Context, ev Event, id Identity) {
	defer func() {
		_ = recover()
	}()
	ev.HasUser = id.UserID != ""
	if ip := normalizeIP(id.IP); ip != "" {
		ev.HashedIP = hashIP(ip)
	}
	m.cfg.emitter.Emit(ctx, ev)
}

func (m *middleware) emitLockBlock(ctx context.Context, policy Policy, id Identity) {
	ev := newEvent(EventBlocked, policy)
	ev.Scope = ScopeAuthBackoff
	m.emit(ctx, ev, id)
}

func setRateLimitHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeBlocked(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

// writeLockedOut renders the lockout variant of the 429: Remaining pinned
// to zero and Reset/Retry-After reflecting the lockout deadline.
func writeLockedOut(w http.ResponseWriter, policy Policy, until time.Time, retryAfter time.Duration) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(until.Unix(), 10))
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

// retrySeconds rounds a wait up to whole seconds, at least one so clients
// never retry immediately into the same window.
func retrySeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// statusRecorder captures the status the wrapped handler responds with.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer so http.NewResponseController can
// reach optional interfaces like Flusher and Hijacker.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Status returns the captured status, defaulting to 200 for handlers that
// never write.
func (w *statusRecorder) Status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}
