package network

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopByHop deletes hop-by-hop headers from h, including any named in
// its Connection header. A request's "Te: trailers" survives.
func RemoveHopByHop(h http.Header) {
	keepTrailers := httpguts.HeaderValuesContainsToken(h["Te"], "trailers")

	for _, v := range h["Connection"] {
		for name := range strings.SplitSeq(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" && httpguts.ValidHeaderFieldName(name) {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}

	if keepTrailers {
		h.Set("Te", "trailers")
	}
}

// UpstreamFetcher sends requests for the public origin to the upstream
// application server instead. Requests for other hosts pass through
// unchanged.
type UpstreamFetcher struct {
	next     Fetcher
	origin   *url.URL
	upstream *url.URL
}

// NewUpstreamFetcher wraps next. A nil upstream, or one equal to origin,
// disables rewriting.
func NewUpstreamFetcher(next Fetcher, origin, upstream *url.URL) *UpstreamFetcher {
	return &UpstreamFetcher{next: next, origin: origin, upstream: upstream}
}

// Fetch rewrites req when it targets the origin and forwards it.
func (f *UpstreamFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	RemoveHopByHop(out.Header)

	if f.rewrites(req.URL) {
		out.URL.Scheme = f.upstream.Scheme
		out.URL.Host = f.upstream.Host
		if prefix := strings.TrimSuffix(f.upstream.Path, "/"); prefix != "" {
			out.URL.Path = prefix + out.URL.Path
			out.URL.RawPath = ""
		}
		out.Host = ""
		out.Header.Set("X-Forwarded-Host", f.origin.Host)
		out.Header.Set("X-Forwarded-Proto", f.origin.Scheme)
	}

	resp, err := f.next.Fetch(ctx, out)
	if err != nil {
		return nil, err
	}
	RemoveHopByHop(resp.Header)
	return resp, nil
}

func (f *UpstreamFetcher) rewrites(u *url.URL) bool {
	if f.upstream == nil || f.origin == nil {
		return false
	}
	if SameOrigin(f.upstream, f.origin) && f.upstream.Path == f.origin.Path {
		return false
	}
	return SameOrigin(u, f.origin)
}
