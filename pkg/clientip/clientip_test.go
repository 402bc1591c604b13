package clientip_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrymomot/guardrail/pkg/clientip"

	"github.com/stretchr/testify/assert"
)

func newRequest(remoteAddr string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestGetIP(t *testing.T) {
	t.Parallel()

	t.Run("falls back to remote address", func(t *testing.T) {
		t.Parallel()
		r := newRequest("203.0.113.5:51234", nil)
		assert.Equal(t, "203.0.113.5", clientip.GetIP(r))
	})

	t.Run("cloudflare header wins", func(t *testing.T) {
		t.Parallel()
		r := newRequest("10.0.0.1:51234", map[string]string{
			"CF-Connecting-IP": "198.51.100.7",
			"X-Forwarded-For":  "192.0.2.1",
			"X-Real-IP":        "192.0.2.2",
		})
		assert.Equal(t, "198.51.100.7", clientip.GetIP(r))
	})

	t.Run("forwarded-for uses the first valid entry", func(t *testing.T) {
		t.Parallel()
		r := newRequest("10.0.0.1:51234", map[string]string{
			"X-Forwarded-For": "not-an-ip, 198.51.100.7, 10.0.0.2",
		})
		assert.Equal(t, "198.51.100.7", clientip.GetIP(r))
	})

	t.Run("real-ip when forwarded-for is absent", func(t *testing.T) {
		t.Parallel()
		r := newRequest("10.0.0.1:51234", map[string]string{
			"X-Real-IP": "198.51.100.7",
		})
		assert.Equal(t, "198.51.100.7", clientip.GetIP(r))
	})

	t.Run("invalid header values fall through", func(t *testing.T) {
		t.Parallel()
		r := newRequest("203.0.113.5:51234", map[string]string{
			"CF-Connecting-IP": "garbage",
			"X-Forwarded-For":  "also, garbage",
		})
		assert.Equal(t, "203.0.113.5", clientip.GetIP(r))
	})

	t.Run("ipv6 remote address", func(t *testing.T) {
		t.Parallel()
		r := newRequest("[2001:db8::1]:51234", nil)
		assert.Equal(t, "2001:db8::1", clientip.GetIP(r))
	})

	t.Run("unresolvable yields empty", func(t *testing.T) {
		t.Parallel()
		r := newRequest("garbage", nil)
		assert.Empty(t, clientip.GetIP(r))
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4", "203.0.113.5", "203.0.113.5"},
		{"ipv4 with port", "203.0.113.5:8080", "203.0.113.5"},
		{"ipv6 compacted", "2001:db8:0:0:0:0:0:1", "2001:db8::1"},
		{"ipv6 uppercase", "2001:DB8::1", "2001:db8::1"},
		{"ipv6 with port", "[2001:db8::1]:443", "2001:db8::1"},
		{"ipv4-mapped ipv6", "::ffff:203.0.113.5", "203.0.113.5"},
		{"ipv6 zone stripped", "fe80::1%eth0", "fe80::1"},
		{"whitespace trimmed", "  203.0.113.5 ", "203.0.113.5"},
		{"empty", "", ""},
		{"invalid", "example.com", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, clientip.Normalize(tc.in))
		})
	}
}
