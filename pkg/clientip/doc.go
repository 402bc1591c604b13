// Package clientip resolves the originating client's IP address from an
// *http.Request when the application runs behind reverse proxies.
//
// The resolution algorithm examines proxy headers in descending priority
// until the first valid address is found:
//
//  1. CF-Connecting-IP – set by Cloudflare
//  2. X-Forwarded-For  – comma-separated chain (the first valid IP wins)
//  3. X-Real-IP        – set by reverse proxies such as Nginx
//  4. RemoteAddr       – TCP peer address as a fallback
//
// Addresses are canonicalized before being returned: ports and IPv6 zones
// are stripped, IPv6 is compacted, and IPv4-mapped IPv6 collapses to plain
// IPv4. This matters for consumers that key state by address, such as rate
// limiters, where "2001:DB8::1" and "2001:db8:0:0:0:0:0:1" must count as
// the same client.
//
// GetIP never returns an error. If no valid address is found an empty
// string is returned so callers can decide how to proceed.
package clientip
