package offline

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/network"
)

func TestInstall_PrecachesEveryStaticAsset(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	net := newFakeNetwork()
	seedAssets(net, cfg)
	storage := cachestore.NewMemoryStorage()
	m := newTestManager(t, cfg, storage, net)

	require.NoError(t, m.Install(t.Context()))
	assert.Equal(t, PhaseInstalled, m.Phase())
	assert.False(t, m.Controlling(), "install alone must not take control")

	for _, asset := range cfg.StaticAssets {
		key, err := cfg.keyFor(asset)
		require.NoError(t, err)
		assert.True(t, bucketHas(t, storage, cfg.Version, key.URL), "missing %s", asset)
	}
}

func TestInstall_AllOrNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		breakNet func(n *fakeNetwork)
	}{
		{
			name:     "non-200 asset",
			breakNet: func(n *fakeNetwork) {
				n.set("https://cdn.example.net/bootstrap.min.css", http.StatusServiceUnavailable, "text/plain", "down")
			},
		},
		{
			name:     "missing asset",
			breakNet: func(n *fakeNetwork) {
				n.set(testOrigin+"/static/script.js", http.StatusNotFound, "text/plain", "gone")
			},
		},
		{
			name:     "network down",
			breakNet: func(n *fakeNetwork) { n.setOffline(true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			net := newFakeNetwork()
			seedAssets(net, cfg)
			tt.breakNet(net)
			storage := cachestore.NewMemoryStorage()
			m := newTestManager(t, cfg, storage, net)

			err := m.Install(t.Context())
			require.Error(t, err)
			assert.Equal(t, PhaseRedundant, m.Phase())

			has, err := storage.Has(t.Context(), cfg.Version)
			require.NoError(t, err)
			assert.False(t, has, "failed install must not leave a bucket behind")
		})
	}
}

func TestInstall_FailureKeepsPreviousBucket(t *testing.T) {
	t.Parallel()

	storage := cachestore.NewMemoryStorage()
	old, err := storage.Open(t.Context(), "ajs-pantry-v0")
	require.NoError(t, err)
	require.NoError(t, old.Put(t.Context(), cachestore.RequestKey{Method: http.MethodGet, URL: testOrigin + "/"},
		&cachestore.Snapshot{Status: http.StatusOK, Body: []byte("old home")}))

	cfg := testConfig(t)
	net := newFakeNetwork()
	net.setOffline(true)
	m := newTestManager(t, cfg, storage, net)

	require.Error(t, m.Register(t.Context()))

	names, err := storage.Keys(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"ajs-pantry-v0"}, names)
}

func TestInstall_FailureDoesNotReleaseControl(t *testing.T) {
	t.Parallel()

	m, net, _ := newActiveManager(t)
	net.setOffline(true)

	require.Error(t, m.Install(t.Context()))
	assert.Equal(t, PhaseRedundant, m.Phase())
	assert.True(t, m.Controlling())

	resp, err := m.Fetch(t.Context(), getRequest(t, testOrigin+"/static/style.css"))
	require.NoError(t, err)
	assert.Equal(t, "hit", resp.Header.Get(HeaderCache))
	_ = resp.Body.Close()
}

func TestInstall_UsesInstallFetcher(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	installNet := newFakeNetwork()
	seedAssets(installNet, cfg)
	requestNet := newFakeNetwork()

	m := newTestManager(t, cfg, cachestore.NewMemoryStorage(), requestNet, WithInstallFetcher(installNet))
	require.NoError(t, m.Install(t.Context()))

	assert.Equal(t, len(cfg.StaticAssets), installNet.totalCalls())
	assert.Zero(t, requestNet.totalCalls())
}

func TestInstall_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	seeded := newFakeNetwork()
	seedAssets(seeded, cfg)

	var inFlight, peak atomic.Int32
	limited := network.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return seeded.Fetch(ctx, req)
	})

	m := newTestManager(t, cfg, cachestore.NewMemoryStorage(), limited, WithInstallConcurrency(2))
	require.NoError(t, m.Install(t.Context()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestInstall_Timeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.InstallTimeout = 20 * time.Millisecond
	hang := network.FetcherFunc(func(ctx context.Context, _ *http.Request) (*http.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	m := newTestManager(t, cfg, cachestore.NewMemoryStorage(), hang)
	err := m.Install(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActivate_DeletesStaleBuckets(t *testing.T) {
	t.Parallel()

	storage := cachestore.NewMemoryStorage()
	for _, name := range []string{"ajs-pantry-v0", "ajs-pantry-beta", "other-app"} {
		_, err := storage.Open(t.Context(), name)
		require.NoError(t, err)
	}

	cfg := testConfig(t)
	net := newFakeNetwork()
	seedAssets(net, cfg)
	m := newTestManager(t, cfg, storage, net)

	require.NoError(t, m.Install(t.Context()))
	require.NoError(t, m.Activate(t.Context()))

	names, err := storage.Keys(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{cfg.Version}, names)
	assert.Equal(t, PhaseActivated, m.Phase())
	assert.True(t, m.Controlling())
}

func TestActivate_RequiresInstall(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testConfig(t), cachestore.NewMemoryStorage(), newFakeNetwork())

	err := m.Activate(t.Context())
	require.ErrorIs(t, err, ErrNotInstalled)
	assert.Equal(t, PhaseNew, m.Phase())
	assert.False(t, m.Controlling())
}

func TestDispatch_RoutesEventKinds(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	net := newFakeNetwork()
	seedAssets(net, cfg)
	m := newTestManager(t, cfg, cachestore.NewMemoryStorage(), net)

	resp, err := m.Dispatch(t.Context(), EventInstall, nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, PhaseInstalled, m.Phase())

	_, err = m.Dispatch(t.Context(), EventActivate, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseActivated, m.Phase())

	resp, err = m.Dispatch(t.Context(), EventFetch, getRequest(t, testOrigin+"/static/style.css"))
	require.NoError(t, err)
	assert.Equal(t, "hit", resp.Header.Get(HeaderCache))
	_ = resp.Body.Close()

	_, err = m.Dispatch(t.Context(), EventFetch, nil)
	require.Error(t, err)

	_, err = m.Dispatch(t.Context(), EventKind(42), nil)
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestRegister_PublishesNotices(t *testing.T) {
	t.Parallel()

	bus := NewNoticeBus()
	defer bus.Stop()

	var mu sync.Mutex
	var names []string
	bus.Subscribe(func(n *Notice) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, n.Name)
	})

	storage := cachestore.NewMemoryStorage()
	_, err := storage.Open(t.Context(), "ajs-pantry-v0")
	require.NoError(t, err)

	cfg := testConfig(t)
	net := newFakeNetwork()
	seedAssets(net, cfg)
	m := newTestManager(t, cfg, storage, net, WithNoticeBus(bus))
	require.NoError(t, m.Register(t.Context()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{NoticeInstalled, NoticeBucketDeleted, NoticeActivated}, names)
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Version = ""
	_, err := NewManager(cfg, cachestore.NewMemoryStorage(), newFakeNetwork())
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Origin = nil
	_, err = NewManager(cfg, cachestore.NewMemoryStorage(), newFakeNetwork())
	require.Error(t, err)
}
