package offline

import (
	"mime"
	"net/http"
	"strings"

	"github.com/ajspantry/pantry-offline/internal/network"
)

// Route is how an intercepted request is handled.
type Route int

const (
	// RouteBypass: not a GET, passed to the network untouched.
	RouteBypass Route = iota
	// RouteNeverCache: matches a never-cache prefix, network only.
	RouteNeverCache
	// RouteStatic: cache-first.
	RouteStatic
	// RouteDynamic: network-first.
	RouteDynamic
)

func (r Route) String() string {
	switch r {
	case RouteBypass:
		return "bypass"
	case RouteNeverCache:
		return "never_cache"
	case RouteStatic:
		return "static"
	case RouteDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Classify decides the route for req. req.URL must be absolute.
func (c *Config) Classify(req *http.Request) Route {
	if req.Method != http.MethodGet {
		return RouteBypass
	}
	if c.neverCache(req.URL.Path) {
		return RouteNeverCache
	}
	if strings.HasPrefix(req.URL.Path, c.StaticPrefix) || !c.sameOrigin(req) {
		return RouteStatic
	}
	return RouteDynamic
}

func (c *Config) neverCache(path string) bool {
	for _, prefix := range c.NeverCache {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (c *Config) sameOrigin(req *http.Request) bool {
	return network.SameOrigin(req.URL, c.Origin)
}

// IsNavigation reports whether req is a page navigation. Fetch metadata wins
// when present; otherwise a GET that asks for HTML counts.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	if req.Method != http.MethodGet {
		return false
	}
	for _, part := range strings.Split(req.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/html" {
			return true
		}
	}
	return false
}

// isHTML reports whether a response header declares an HTML body.
func isHTML(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/html")
}
