package admission_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dmitrymomot/guardrail/pkg/admission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policyWithScope(scope admission.Scope) admission.Policy {
	return admission.Policy{
		RouteID:     "posts.create",
		Window:      time.Minute,
		MaxRequests: 10,
		Scope:       scope,
	}
}

func TestCounterKey(t *testing.T) {
	t.Parallel()

	id := admission.Identity{UserID: "user-42", IP: "203.0.113.7"}

	t.Run("scopes never collide on the same request", func(t *testing.T) {
		t.Parallel()

		seen := map[string]admission.Scope{}
		for _, scope := range []admission.Scope{
			admission.ScopeIP,
			admission.ScopeUser,
			admission.ScopeRoute,
			admission.ScopeAuthBackoff,
		} {
			key, err := admission.CounterKey(policyWithScope(scope), id)
			require.NoError(t, err)
			prev, dup := seen[key]
			require.False(t, dup, "key %q produced by both %s and %s", key, prev, scope)
			seen[key] = scope
		}
	})

	t.Run("routes never collide within a scope", func(t *testing.T) {
		t.Parallel()

		a := policyWithScope(admission.ScopeIP)
		b := policyWithScope(admission.ScopeIP)
		b.RouteID = "feed.list"

		keyA, err := admission.CounterKey(a, id)
		require.NoError(t, err)
		keyB, err := admission.CounterKey(b, id)
		require.NoError(t, err)
		assert.NotEqual(t, keyA, keyB)
	})

	t.Run("ip scope normalizes equivalent addresses", func(t *testing.T) {
		t.Parallel()

		p := policyWithScope(admission.ScopeIP)
		forms := []string{
			"2001:DB8::1",
			"2001:db8:0:0:0:0:0:1",
			"[2001:db8::1]:8443",
		}

		want, err := admission.CounterKey(p, admission.Identity{IP: "2001:db8::1"})
		require.NoError(t, err)
		for _, form := range forms {
			got, err := admission.CounterKey(p, admission.Identity{IP: form})
			require.NoError(t, err)
			assert.Equal(t, want, got, "form %q", form)
		}
	})

	t.Run("ipv4-mapped ipv6 collapses to ipv4", func(t *testing.T) {
		t.Parallel()

		p := policyWithScope(admission.ScopeIP)
		mapped, err := admission.CounterKey(p, admission.Identity{IP: "::ffff:203.0.113.7"})
		require.NoError(t, err)
		plain, err := admission.CounterKey(p, admission.Identity{IP: "203.0.113.7"})
		require.NoError(t, err)
		assert.Equal(t, plain, mapped)
	})

	t.Run("ip scope requires an address", func(t *testing.T) {
		t.Parallel()

		_, err := admission.CounterKey(policyWithScope(admission.ScopeIP), admission.Identity{})
		assert.ErrorIs(t, err, admission.ErrKeyRequired)
	})

	t.Run("user scope falls back to ip for anonymous traffic", func(t *testing.T) {
		t.Parallel()

		p := policyWithScope(admission.ScopeUser)

		authed, err := admission.CounterKey(p, id)
		require.NoError(t, err)
		anon, err := admission.CounterKey(p, admission.Identity{IP: id.IP})
		require.NoError(t, err)

		assert.NotEqual(t, authed, anon)
		assert.Contains(t, authed, "user-42")

		// Anonymous traffic is still keyed and limited, never exempt.
		ipKey, err := admission.CounterKey(policyWithScope(admission.ScopeIP), admission.Identity{IP: id.IP})
		require.NoError(t, err)
		assert.NotEqual(t, ipKey, anon)
	})

	t.Run("route scope is constant per route", func(t *testing.T) {
		t.Parallel()

		p := policyWithScope(admission.ScopeRoute)
		a, err := admission.CounterKey(p, id)
		require.NoError(t, err)
		b, err := admission.CounterKey(p, admission.Identity{IP: "198.51.100.1"})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestBackoffKey(t *testing.T) {
	t.Parallel()

	t.Run("prefers the user id", func(t *testing.T) {
		t.Parallel()

		key, err := admission.BackoffKey("auth.login", admission.Identity{UserID: "user-42", IP: "203.0.113.7"})
		require.NoError(t, err)
		assert.Contains(t, key, "user-42")
	})

	t.Run("hashes the ip for anonymous identities", func(t *testing.T) {
		t.Parallel()

		key, err := admission.BackoffKey("auth.login", admission.Identity{IP: "203.0.113.7"})
		require.NoError(t, err)
		assert.NotContains(t, key, "203.0.113.7", "raw address must not reach the store")

		// Same address, same key; hashing is deterministic.
		again, err := admission.BackoffKey("auth.login", admission.Identity{IP: "203.0.113.7"})
		require.NoError(t, err)
		assert.Equal(t, key, again)
	})

	t.Run("independent from counting keys", func(t *testing.T) {
		t.Parallel()

		id := admission.Identity{IP: "203.0.113.7"}
		backoff, err := admission.BackoffKey("auth.login", id)
		require.NoError(t, err)

		p := policyWithScope(admission.ScopeIP)
		p.RouteID = "auth.login"
		counting, err := admission.CounterKey(p, id)
		require.NoError(t, err)

		assert.NotEqual(t, counting, backoff)
		assert.True(t, strings.HasPrefix(backoff, "backoff:"))
	})

	t.Run("requires route and identity", func(t *testing.T) {
		t.Parallel()

		_, err := admission.BackoffKey("", admission.Identity{IP: "203.0.113.7"})
		assert.ErrorIs(t, err, admission.ErrKeyRequired)

		_, err = admission.BackoffKey("auth.login", admission.Identity{})
		assert.ErrorIs(t, err, admission.ErrKeyRequired)
	})
}
