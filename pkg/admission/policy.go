package admission

import (
	"fmt"
	"slices"
	"time"
)

// Scope identifies the dimension a rate limit applies to.
type Scope string

const (
	// ScopeIP limits each client network address independently.
	ScopeIP Scope = "ip"
	// ScopeUser limits each authenticated principal independently.
	// Anonymous callers are limited by IP so they are never exempt.
	ScopeUser Scope = "user"
	// ScopeRoute applies a single shared ceiling to the whole endpoint.
	ScopeRoute Scope = "route"
	// ScopeAuthBackoff is the composite identity+route dimension used for
	// lockout state. It is reported in telemetry for lockout blocks and is
	// rarely useful as an ordinary counting scope.
	ScopeAuthBackoff Scope = "auth_backoff"
)

// KeyKind names the identifier a key is derived from, used as a telemetry
// dimension. It usually follows from the scope but can be set explicitly.
type KeyKind string

const (
	KeyKindIP    KeyKind = "ip"
	KeyKindUser  KeyKind = "user"
	KeyKindRoute KeyKind = "route"
)

// Default auth backoff parameters: lockouts start at 2 seconds and double
// per consecutive failure up to 15 minutes.
const (
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 15 * time.Minute
)

// AuthBackoff configures exponential lockout for authentication-sensitive
// routes. A response status listed in FailureStatusCodes counts as an auth
// failure; any other status resets the failure streak.
type AuthBackoff struct {
	// FailureStatusCodes enumerates response statuses treated as auth
	// failures (typically 400, 401, 403). Server errors are deliberately
	// excluded so an outage never locks users out.
	FailureStatusCodes []int

	// BaseDelay is the lockout after the first failure (default 2s).
	BaseDelay time.Duration

	// MaxDelay caps the lockout duration (default 15m).
	MaxDelay time.Duration
}

// IsFailure reports whether the given response status counts as an
// authentication failure for lockout purposes.
func (b AuthBackoff) IsFailure(status int) bool {
	return slices.Contains(b.FailureStatusCodes, status)
}

func (b AuthBackoff) withDefaults() AuthBackoff {
	if b.BaseDelay <= 0 {
		b.BaseDelay = DefaultBaseDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = DefaultMaxDelay
	}
	return b
}

// Policy binds rate limiting rules to a logical route. Policies are value
// objects: once registered they are never mutated.
type Policy struct {
	// RouteID is the logical route identifier this policy applies to.
	RouteID string

	// Window is the fixed counting window (minimum 1s).
	Window time.Duration

	// MaxRequests is the number of admissions allowed per window per key.
	MaxRequests int

	// Scope selects the key derivation strategy.
	Scope Scope

	// KeyKind is the telemetry dimension for the key. Derived from Scope
	// when empty.
	KeyKind KeyKind

	// SkipSuccessfulRequests un-counts requests that complete with a
	// status below 400, so only failures consume the limit.
	SkipSuccessfulRequests bool

	// SkipFailedRequests un-counts requests that complete with a status of
	// 400 or above.
	SkipFailedRequests bool

	// AuthBackoff enables exponential lockout for this route when set.
	AuthBackoff *AuthBackoff
}

func (p Policy) withDefaults() Policy {
	if p.KeyKind == "" {
		switch p.Scope {
		case ScopeUser:
			p.KeyKind = KeyKindUser
		case ScopeRoute:
			p.KeyKind = KeyKindRoute
		default:
			p.KeyKind = KeyKindIP
		}
	}
	if p.AuthBackoff != nil {
		b := p.AuthBackoff.withDefaults()
		p.AuthBackoff = &b
	}
	return p
}

// Validate checks the policy invariants. Registries reject invalid policies
// at construction time so a misconfigured route fails at startup rather
// than at request time.
func (p Policy) Validate() error {
	if p.RouteID == "" {
		return fmt.Errorf("%w: route id is required", ErrInvalidPolicy)
	}
	if p.Window < time.Second {
		return fmt.Errorf("%w: window must be at least 1s, got %v for route %s", ErrInvalidPolicy, p.Window, p.RouteID)
	}
	if p.MaxRequests < 1 {
		return fmt.Errorf("%w: max requests must be at least 1, got %d for route %s", ErrInvalidPolicy, p.MaxRequests, p.RouteID)
	}
	switch p.Scope {
	case ScopeIP, ScopeUser, ScopeRoute, ScopeAuthBackoff:
	default:
		return fmt.Errorf("%w: unknown scope %q for route %s", ErrInvalidPolicy, p.Scope, p.RouteID)
	}
	switch p.KeyKind {
	case "", KeyKindIP, KeyKindUser, KeyKindRoute:
	default:
		return fmt.Errorf("%w: unknown key kind %q for route %s", ErrInvalidPolicy, p.KeyKind, p.RouteID)
	}
	if b := p.AuthBackoff; b != nil {
		if len(b.FailureStatusCodes) == 0 {
			return fmt.Errorf("%w: auth backoff requires failure status codes for route %s", ErrInvalidPolicy, p.RouteID)
		}
		if b.BaseDelay > 0 && b.MaxDelay > 0 && b.MaxDelay < b.BaseDelay {
			return fmt.Errorf("%w: auth backoff max delay %v is below base delay %v for route %s", ErrInvalidPolicy, b.MaxDelay, b.BaseDelay, p.RouteID)
		}
	}
	return nil
}
