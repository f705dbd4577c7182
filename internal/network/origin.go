package network

import (
	"net/url"
	"strings"
)

// SameOrigin reports whether a and b share scheme, host and port. Hosts
// compare case-insensitively and default ports are made explicit, so
// "https://host" and "https://host:443" are the same origin.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(hostWithPort(a.Scheme, a.Host), hostWithPort(b.Scheme, b.Host))
}

// hostWithPort appends the scheme's default port when host has none.
func hostWithPort(scheme, host string) string {
	if strings.Contains(host, ":") && !strings.HasSuffix(host, "]") {
		return host
	}
	switch strings.ToLower(scheme) {
	case "https":
		return host + ":443"
	default:
		return host + ":80"
	}
}
