package clientip

import (
	"net/http"
	"net/netip"
	"strings"
)

// Proxy headers examined in priority order. The first header carrying a
// valid address wins.
var proxyHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// GetIP returns the originating client address for the request, resolving
// trusted proxy headers before falling back to the TCP peer address.
//
// The result is canonicalized: ports and IPv6 zones are stripped, IPv6 is
// compacted and lowercased, and IPv4-mapped IPv6 collapses to plain IPv4,
// so equivalent textual forms of the same address always compare equal.
// Returns an empty string when no valid address can be resolved.
func GetIP(r *http.Request) string {
	for _, header := range proxyHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		// X-Forwarded-For may carry a comma-separated chain; the first
		// valid entry is the original client.
		for part := range strings.SplitSeq(value, ",") {
			if ip := Normalize(part); ip != "" {
				return ip
			}
		}
	}

	return Normalize(r.RemoteAddr)
}

// Normalize validates and canonicalizes an address string, accepting bare
// addresses and host:port forms. Returns an empty string for invalid
// input.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if addr, err := netip.ParseAddr(raw); err == nil {
		return canonical(addr)
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return canonical(ap.Addr())
	}
	return ""
}

func canonical(addr netip.Addr) string {
	return addr.Unmap().WithZone("").String()
}
