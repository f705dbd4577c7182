package offline

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/observability/metrics"
)

// ErrOffline wraps the network failure when no cached response can stand in.
var ErrOffline = errors.NewStd("network unavailable and no cached response")

// Fetch intercepts one request. Relative request URLs resolve against the
// configured origin. Until the manager controls traffic every request goes
// straight to the network.
func (m *Manager) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	r := req.Clone(ctx)
	if !r.URL.IsAbs() {
		r.URL = m.cfg.Origin.ResolveReference(r.URL)
	}

	if !m.Controlling() {
		return m.passthrough(ctx, r, "uncontrolled")
	}

	route := m.cfg.Classify(r)
	switch route {
	case RouteStatic:
		return m.cacheFirst(ctx, r)
	case RouteDynamic:
		return m.networkFirst(ctx, r)
	default:
		return m.passthrough(ctx, r, route.String())
	}
}

// passthrough sends r to the network without touching the bucket.
func (m *Manager) passthrough(ctx context.Context, r *http.Request, route string) (*http.Response, error) {
	resp, err := m.fetcher.Fetch(ctx, r)
	if err != nil {
		m.metrics.RecordNetworkFailure(route)
		m.metrics.RecordResponse(route, metrics.SourceError)
		return nil, err
	}
	resp.Header.Set(HeaderCache, metrics.SourceBypass)
	m.metrics.RecordResponse(route, metrics.SourceBypass)
	return resp, nil
}

// cacheFirst serves from the bucket when possible and fills it from the
// network otherwise.
func (m *Manager) cacheFirst(ctx context.Context, r *http.Request) (*http.Response, error) {
	const route = "static"
	key := cachestore.KeyFor(r)

	if snap := m.lookup(ctx, key); snap != nil {
		return m.serve(r, snap, route, metrics.SourceHit), nil
	}

	resp, err := m.fetchAndStore(ctx, r, key, func(resp *http.Response) bool {
		return resp.StatusCode == http.StatusOK
	})
	if err != nil {
		m.metrics.RecordNetworkFailure(route)
		if IsNavigation(r) {
			if fb := m.offlineFallback(ctx, r, route); fb != nil {
				return fb, nil
			}
		}
		m.metrics.RecordResponse(route, metrics.SourceError)
		return nil, offlineError(err, r)
	}
	resp.Header.Set(HeaderCache, metrics.SourceMiss)
	m.metrics.RecordResponse(route, metrics.SourceMiss)
	return resp, nil
}

// networkFirst prefers a fresh response and keeps the latest HTML copy for
// offline use.
func (m *Manager) networkFirst(ctx context.Context, r *http.Request) (*http.Response, error) {
	const route = "dynamic"
	key := cachestore.KeyFor(r)

	resp, err := m.fetchAndStore(ctx, r, key, func(resp *http.Response) bool {
		return resp.StatusCode == http.StatusOK && isHTML(resp.Header) && shareable(r, resp)
	})
	if err == nil {
		resp.Header.Set(HeaderCache, metrics.SourceNetwork)
		m.metrics.RecordResponse(route, metrics.SourceNetwork)
		return resp, nil
	}

	m.metrics.RecordNetworkFailure(route)
	if snap := m.lookup(ctx, key); snap != nil {
		m.log.Debug("serving cached copy", logger.String("url", key.URL), logger.Error(err))
		return m.serve(r, snap, route, metrics.SourceStale), nil
	}
	if fb := m.offlineFallback(ctx, r, route); fb != nil {
		return fb, nil
	}
	m.metrics.RecordResponse(route, metrics.SourceError)
	return nil, offlineError(err, r)
}

// shareable reports whether a dynamic page may be replayed to other
// clients. Pages fetched with credentials, or marked private or no-store,
// belong to one user.
func shareable(r *http.Request, resp *http.Response) bool {
	if r.Header.Get("Cookie") != "" || r.Header.Get("Authorization") != "" {
		return false
	}
	cc := resp.Header.Values("Cache-Control")
	return !httpguts.HeaderValuesContainsToken(cc, "private") &&
		!httpguts.HeaderValuesContainsToken(cc, "no-store")
}

// fetchAndStore fetches r and, when store approves the response, persists a
// copy in the background. A body that cannot be read counts as a network
// failure.
func (m *Manager) fetchAndStore(ctx context.Context, r *http.Request, key cachestore.RequestKey, store func(*http.Response) bool) (*http.Response, error) {
	resp, err := m.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	if !store(resp) {
		return resp, nil
	}
	snap, err := cachestore.Duplicate(resp)
	if err != nil {
		return nil, err
	}
	m.persist(ctx, key, snap)
	return resp, nil
}

// persist writes snap to the current bucket asynchronously. Failures are
// logged and counted only.
func (m *Manager) persist(ctx context.Context, key cachestore.RequestKey, snap *cachestore.Snapshot) {
	detached := context.WithoutCancel(ctx)
	m.writes.Go(func() {
		wctx, cancel := context.WithTimeout(detached, m.writeTimeout)
		defer cancel()

		err := m.put(wctx, key, snap)
		m.metrics.RecordCacheWrite(err)
		if err != nil {
			m.log.Warn("cache write failed",
				logger.String("url", key.URL),
				logger.Error(err))
		}
	})
}

func (m *Manager) put(ctx context.Context, key cachestore.RequestKey, snap *cachestore.Snapshot) error {
	bucket, err := m.bucket(ctx)
	if err != nil {
		return err
	}
	return bucket.Put(ctx, key, snap)
}

// lookup returns the stored snapshot for key, or nil. Storage errors count
// as a miss.
func (m *Manager) lookup(ctx context.Context, key cachestore.RequestKey) *cachestore.Snapshot {
	bucket, err := m.bucket(ctx)
	if err != nil {
		m.log.Warn("failed to open bucket", logger.Error(err))
		return nil
	}
	snap, err := bucket.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cachestore.ErrNotFound) {
			m.log.Warn("cache lookup failed", logger.String("url", key.URL), logger.Error(err))
		}
		return nil
	}
	return snap
}

// offlineFallback returns the stored offline page, or nil when it is not in
// the bucket.
func (m *Manager) offlineFallback(ctx context.Context, r *http.Request, route string) *http.Response {
	key, err := m.cfg.keyFor(m.cfg.OfflinePath)
	if err != nil {
		return nil
	}
	snap := m.lookup(ctx, key)
	if snap == nil {
		return nil
	}
	m.publish(NoticeFallbackServed, map[string]any{PropertyURL: r.URL.String()})
	return m.serve(r, snap, route, metrics.SourceFallback)
}

func (m *Manager) serve(r *http.Request, snap *cachestore.Snapshot, route, source string) *http.Response {
	resp := snap.Response(r)
	resp.Header.Set(HeaderCache, source)
	m.metrics.RecordResponse(route, source)
	return resp
}

func offlineError(cause error, r *http.Request) error {
	return errors.New(fmt.Errorf("%w: %w", ErrOffline, cause)).
		Component("offline").
		Category(errors.CategoryNetwork).
		Context("url", r.URL.String()).
		Build()
}
