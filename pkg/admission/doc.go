// Package admission protects HTTP endpoints from abuse with fixed-window
// rate limiting and an exponential auth lockout for authentication
// sensitive routes.
//
// The engine is assembled from small injectable pieces: an immutable
// Registry maps logical routes to policies, a Store keeps the shared
// counters and lockout state (in-memory for a single process, Redis for a
// fleet), and Middleware wires them in front of any http.Handler.
//
// # Basic Usage
//
// Register policies once at startup and wrap your handler:
//
//	registry := admission.MustNewRegistry(
//		admission.Policy{
//			RouteID:     "posts.create",
//			Window:      time.Minute,
//			MaxRequests: 30,
//			Scope:       admission.ScopeUser,
//		},
//		admission.Policy{
//			RouteID:     "auth.login",
//			Window:      time.Minute,
//			MaxRequests: 10,
//			Scope:       admission.ScopeIP,
//			AuthBackoff: &admission.AuthBackoff{
//				FailureStatusCodes: []int{400, 401, 403},
//			},
//		},
//	)
//
//	store := admission.NewMemoryStore()
//	defer store.Close()
//
//	mw := admission.Middleware(store,
//		admission.RouteResolver(registry, routeFromRequest),
//		admission.WithIdentityFunc(userIDFromContext),
//	)
//
//	http.ListenAndServe(":8080", mw(handler))
//
// Blocked requests receive 429 with Retry-After and X-RateLimit-* headers.
// Routes with an AuthBackoff section additionally track consecutive
// authentication failures per identity: each failure doubles the lockout
// (2s, 4s, 8s, ... capped at 15 minutes by default) and any success resets
// it. A locked-out identity is refused before the handler or the ordinary
// counters are touched.
//
// # Multi-instance deployments
//
// Back the engine with Redis so all instances share one view of the
// counters:
//
//	client, err := redis.Connect(ctx, redisConfig) // pkg/redis helper
//	if err != nil {
//		log.Fatal(err)
//	}
//	store, err := admission.NewRedisStore(client)
//
// Counter increments and failure recording run as single Lua scripts, so
// concurrent requests across instances never over-admit within a window.
//
// # Degraded mode
//
// When the store is unreachable the middleware fails open for ordinary
// rate limiting (the request is admitted and the outage logged) and fails
// closed for the auth lockout check (429 with a short Retry-After), so an
// infrastructure outage neither takes the service down nor opens a
// brute-force window.
//
// # Telemetry
//
// Wire an Emitter to observe admission decisions:
//
//	mw := admission.Middleware(store, resolver,
//		admission.WithEmitter(admission.NewLogEmitter(logger)),
//	)
//
// Emission is fire-and-forget: sink panics are discarded and never affect
// the admission decision.
package admission
