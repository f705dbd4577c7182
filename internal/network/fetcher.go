// Package network performs the outbound fetches the offline cache manager
// falls through to.
package network

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajspantry/pantry-offline/internal/errors"
)

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches with an http.Client. Redirects are returned to the
// caller rather than followed, so a 3xx never masquerades as a 200 and gets
// cached.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithUserAgent sets the User-Agent for requests that carry none.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithRateLimit limits fetches to perSecond with the given burst. Zero or
// negative perSecond disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *HTTPFetcher) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewHTTPFetcher creates a fetcher with the given overall request timeout.
func NewHTTPFetcher(timeout time.Duration, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch sends req with ctx. Transport failures come back as network-category
// errors; any HTTP status, including errors, is a successful fetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fetchError(err, req)
		}
	}
	out := req.Clone(ctx)
	out.RequestURI = ""
	if f.userAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fetchError(err, req)
	}
	return resp, nil
}

func fetchError(err error, req *http.Request) error {
	return errors.New(err).
		Component("network").
		Category(errors.CategoryNetwork).
		Context("method", req.Method).
		Context("url", req.URL.String()).
		Build()
}
