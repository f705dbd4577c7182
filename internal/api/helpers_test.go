package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/datastore"
	"github.com/ajspantry/pantry-offline/internal/datastore/repository"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/network"
	"github.com/ajspantry/pantry-offline/internal/offline"
	"github.com/ajspantry/pantry-offline/internal/syncqueue"
)

const testVersion = "ajs-pantry-v2"

var errUpstreamDown = errors.New("dial tcp: connection refused")

// testApp is the proxied application plus a switch that takes it offline.
type testApp struct {
	server *httptest.Server
	down   atomic.Bool
	hits   atomic.Int64
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	app := &testApp{}
	pages := map[string]struct{ contentType, body string }{
		"/":                      {"text/html; charset=utf-8", "<html>home</html>"},
		"/menu":                  {"text/html; charset=utf-8", "<html>menu</html>"},
		"/offline":               {"text/html; charset=utf-8", "<html>offline</html>"},
		"/static/style.css":      {"text/css", "body{}"},
		"/static/theme-dark.css": {"text/css", ".dark{}"},
		"/static/script.js":      {"text/javascript", "init()"},
		"/api/items":             {"application/json", `{"items":[]}`},
	}
	app.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.hits.Add(1)
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = io.Copy(w, r.Body)
			return
		}
		w.Header().Set("Content-Type", page.contentType)
		_, _ = io.WriteString(w, page.body)
	}))
	t.Cleanup(app.server.Close)
	return app
}

func (a *testApp) fetcher() network.Fetcher {
	inner := network.NewHTTPFetcher(5 * time.Second)
	return network.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if a.down.Load() {
			return nil, errUpstreamDown
		}
		return inner.Fetch(ctx, req)
	})
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

type testEnv struct {
	app     *testApp
	manager *offline.Manager
	storage cachestore.Storage
	queue   *syncqueue.Queue
	server  *Server
}

type envOption func(*Config)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	app := newTestApp(t)
	origin, err := url.Parse(app.server.URL)
	require.NoError(t, err)

	storage := cachestore.NewMemoryStorage()
	m, err := offline.NewManager(offline.Config{
		Version:      testVersion,
		Origin:       origin,
		StaticPrefix: "/static/",
		OfflinePath:  "/offline",
		StaticAssets: []string{"/", "/static/style.css", "/static/theme-dark.css", "/static/script.js", "/offline"},
		NeverCache:   []string{"/login", "/staff-login", "/logout", "/change-password", "/api/"},
	}, storage, app.fetcher(), offline.WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(m.Wait)

	db, err := datastore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = datastore.Close(db) })
	queue := syncqueue.New(repository.NewSyncQueueRepository(db), testLogger())

	cfg := Config{Manager: m, Queue: queue, Logger: testLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	return &testEnv{app: app, manager: m, storage: storage, queue: queue, server: srv}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, e.server.Handler(), method, target, body, header)
}

// doAdmin sends a request to the admin handler.
func (e *testEnv) doAdmin(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, e.server.AdminHandler(), method, target, body, header)
}

func serve(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, AdminPrefix+"/register", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

var navigate = http.Header{
	"Accept":         []string{"text/html,application/xhtml+xml"},
	"Sec-Fetch-Mode": []string{"navigate"},
}

var jsonBody = http.Header{"Content-Type": []string{"application/json"}}
