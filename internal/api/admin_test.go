package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/offline"
	"github.com/ajspantry/pantry-offline/internal/syncqueue"
)

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestNewServer_RequiresManager(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	status := decode[StatusResponse](t, env.do(t, http.MethodGet, AdminPrefix+"/status", "", nil).Body.Bytes())
	assert.Equal(t, testVersion, status.Version)
	assert.Equal(t, "new", status.Phase)
	assert.False(t, status.Controlling)
	assert.Empty(t, status.Buckets)

	env.register(t)

	status = decode[StatusResponse](t, env.do(t, http.MethodGet, AdminPrefix+"/status", "", nil).Body.Bytes())
	assert.Equal(t, "activated", status.Phase)
	assert.True(t, status.Controlling)
	require.Len(t, status.Buckets, 1)
	assert.Equal(t, testVersion, status.Buckets[0].Name)
	assert.True(t, status.Buckets[0].Current)
	assert.Equal(t, 5, status.Buckets[0].Entries)
	assert.Positive(t, status.Buckets[0].Bytes)
	assert.NotEmpty(t, status.Buckets[0].Size)
}

func TestLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, AdminPrefix+"/activate", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "activate before install")

	rec = env.do(t, http.MethodPost, AdminPrefix+"/install", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "installed", decode[map[string]any](t, rec.Body.Bytes())["phase"])

	rec = env.do(t, http.MethodPost, AdminPrefix+"/activate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, offline.PhaseActivated, env.manager.Phase())
}

func TestInstallEndpoint_UpstreamDown(t *testing.T) {
	env := newTestEnv(t)
	env.app.down.Store(true)

	rec := env.do(t, http.MethodPost, AdminPrefix+"/install", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, offline.PhaseRedundant, env.manager.Phase())
}

func TestDeleteBucket(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	stale, err := env.storage.Open(t.Context(), "ajs-pantry-v1")
	require.NoError(t, err)
	key, err := cachestore.KeyForURL(env.app.server.URL + "/")
	require.NoError(t, err)
	require.NoError(t, stale.Put(t.Context(), key, &cachestore.Snapshot{Status: http.StatusOK, Body: []byte("old")}))

	tests := []struct {
		name   string
		bucket string
		want   int
	}{
		{"current bucket is refused", testVersion, http.StatusConflict},
		{"stale bucket is removed", "ajs-pantry-v1", http.StatusNoContent},
		{"missing bucket", "ajs-pantry-v0", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodDelete, AdminPrefix+"/buckets/"+tt.bucket, "", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	names, err := env.storage.Keys(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{testVersion}, names)
}

func TestListBuckets(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	body := decode[struct {
		Buckets []BucketInfo `json:"buckets"`
		Count   int          `json:"count"`
	}](t, env.do(t, http.MethodGet, AdminPrefix+"/buckets", "", nil).Body.Bytes())
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, testVersion, body.Buckets[0].Name)
}

func TestQueueEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, AdminPrefix+"/queue",
		`{"kind":"order.create","payload":{"item":"eggs","qty":2}}`, jsonBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[syncqueue.Item](t, rec.Body.Bytes())
	assert.NotEmpty(t, item.ID)
	assert.JSONEq(t, `{"item":"eggs","qty":2}`, string(item.Payload))

	rec = env.do(t, http.MethodPost, AdminPrefix+"/queue", `{"payload":{}}`, jsonBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "kind is required")

	rec = env.do(t, http.MethodGet, AdminPrefix+"/queue?pending=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec.Body.Bytes())["count"])

	rec = env.do(t, http.MethodPost, AdminPrefix+"/queue/sync", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[syncqueue.SyncResult](t, rec.Body.Bytes()).Synced)
	assert.Zero(t, env.app.hits.Load(), "syncing never contacts the application")

	rec = env.do(t, http.MethodGet, AdminPrefix+"/queue?pending=true", "", nil)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec.Body.Bytes())["count"])
}

func TestQueueEndpoints_Disabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Queue = nil })

	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, AdminPrefix+"/queue", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, AdminPrefix+"/queue/sync", "", nil).Code)
}

func TestAdminRateLimit(t *testing.T) {
	env := newTestEnv(t)

	var limited bool
	for range adminRateBurst + 5 {
		if env.do(t, http.MethodPost, AdminPrefix+"/queue/sync", "", nil).Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "pantry_offline_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	env := newTestEnv(t, func(c *Config) { c.Gatherer = reg })

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pantry_offline_test_total 1")
}

func TestPWAFiles(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/sw.js", "/static/sw.js"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "/", rec.Header().Get("Service-Worker-Allowed"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		assert.Contains(t, rec.Body.String(), "clients.claim")
	}

	rec := env.do(t, http.MethodGet, "/manifest.webmanifest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/manifest+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "AJS Pantry", decode[map[string]any](t, rec.Body.Bytes())["name"])
	assert.Zero(t, env.app.hits.Load())
}

func TestSeparateAdmin(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, func(c *Config) {
		c.Gatherer = reg
		c.SeparateAdmin = true
	})
	require.True(t, env.server.SeparateAdmin())

	// The public handler proxies /_sw paths to the application.
	rec := env.do(t, http.MethodPost, AdminPrefix+"/register", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, AdminPrefix+"/status", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(3), env.app.hits.Load())
	assert.Equal(t, offline.PhaseNew, env.manager.Phase())

	rec = env.doAdmin(t, http.MethodPost, AdminPrefix+"/register", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, offline.PhaseActivated, env.manager.Phase())

	rec = env.doAdmin(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Proxying and the PWA files stay on the public handler.
	rec = env.doAdmin(t, http.MethodGet, "/sw.js", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/static/style.css", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get(offline.HeaderCache))
}

func TestSharedAdmin(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.server.SeparateAdmin())

	rec := env.doAdmin(t, http.MethodGet, AdminPrefix+"/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, AdminPrefix+"/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.app.hits.Load())
}
