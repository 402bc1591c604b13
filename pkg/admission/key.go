package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
)

// Identity carries the caller attributes key derivation works from.
// UserID is empty for anonymous traffic.
type Identity struct {
	UserID string
	IP     string
}

// CounterKey derives the rate limit key for a policy and caller identity.
// Keys are namespaced by scope and route so an IP key for one route never
// collides with an IP key for another, and limiting one scope never
// affects counts in another.
//
// Returns ErrKeyRequired when the scope needs an identifier the identity
// cannot provide (e.g. IP scope with no resolvable address).
func CounterKey(p Policy, id Identity) (string, error) {
	switch p.Scope {
	case ScopeIP:
		ip := normalizeIP(id.IP)
		if ip == "" {
			return "", fmt.Errorf("%w: ip scope needs a client address for route %s", ErrKeyRequired, p.RouteID)
		}
		return "ip:" + p.RouteID + ":" + ip, nil
	case ScopeUser:
		// Anonymous callers fall back to IP-based identity within the
		// user scope namespace so they are limited, never exempt.
		if p.RouteID == "" {
			return "", fmt.Errorf("%w: route id is required", ErrKeyRequired)
		}
		if id.UserID != "" {
			return "user:" + p.RouteID + ":id:" + id.UserID, nil
		}
		ip := normalizeIP(id.IP)
		if ip == "" {
			return "", fmt.Errorf("%w: user scope needs a principal or client address for route %s", ErrKeyRequired, p.RouteID)
		}
		return "user:" + p.RouteID + ":anon:" + ip, nil
	case ScopeRoute:
		if p.RouteID == "" {
			return "", fmt.Errorf("%w: route id is required", ErrKeyRequired)
		}
		return "route:" + p.RouteID, nil
	case ScopeAuthBackoff:
		return BackoffKey(p.RouteID, id)
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidPolicy, p.Scope)
	}
}

// BackoffKey derives the composite lockout key for an auth identity and
// route. It prefers the stable user identifier and falls back to a hashed
// client address, so lockout state is independent from the ordinary
// counting keys and raw addresses never reach the shared store.
func BackoffKey(routeID string, id Identity) (string, error) {
	if routeID == "" {
		return "", fmt.Errorf("%w: route id is required", ErrKeyRequired)
	}
	if id.UserID != "" {
		return "backoff:" + routeID + ":id:" + id.UserID, nil
	}
	ip := normalizeIP(id.IP)
	if ip == "" {
		return "", fmt.Errorf("%w: backoff key needs a principal or client address for route %s", ErrKeyRequired, routeID)
	}
	return "backoff:" + routeID + ":ip:" + hashIP(ip), nil
}

// normalizeIP canonicalizes an address so equivalent textual forms map to
// the same key: ports are stripped, IPv6 is compacted and lowercased, and
// IPv4-mapped IPv6 collapses to plain IPv4. Unparsable input is passed
// through trimmed so callers with opaque identifiers still get limited.
func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap().String()
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().String()
	}
	return raw
}

// hashIP returns a truncated SHA-256 of the normalized address. 128 bits
// keeps keys short while leaving no realistic collision risk.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:16])
}
