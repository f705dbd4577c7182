package offline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/observability/metrics"
)

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{
		Server: conf.ServerSettings{Origin: testOrigin},
		Cache: conf.CacheSettings{
			Version:        "ajs-pantry-v3",
			StaticPrefix:   "/static/",
			OfflinePath:    "/offline",
			StaticAssets:   conf.DefaultStaticAssets,
			NeverCache:     conf.DefaultNeverCache,
			InstallTimeout: conf.Duration(45 * time.Second),
		},
	}

	cfg, err := ConfigFromSettings(s)
	require.NoError(t, err)
	assert.Equal(t, "ajs-pantry-v3", cfg.Version)
	assert.Equal(t, testOrigin, cfg.Origin.String())
	assert.Equal(t, 45*time.Second, cfg.InstallTimeout)
	assert.Equal(t, conf.DefaultStaticAssets, cfg.StaticAssets)

	cfg.NeverCache[0] = "/changed"
	assert.Equal(t, "/login", conf.DefaultNeverCache[0], "config must not alias the settings slices")

	s.Server.Origin = "not a url"
	_, err = ConfigFromSettings(s)
	require.Error(t, err)
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "new", PhaseNew.String())
	assert.Equal(t, "activated", PhaseActivated.String())
	assert.Equal(t, "redundant", PhaseRedundant.String())
	assert.Equal(t, "unknown", Phase(42).String())
	assert.Len(t, phaseLabels(), 6)
}

func TestManager_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cm, err := metrics.NewCacheMetrics(reg)
	require.NoError(t, err)

	cfg := testConfig(t)
	net := newFakeNetwork()
	seedAssets(net, cfg)
	m := newTestManager(t, cfg, cachestore.NewMemoryStorage(), net, WithMetrics(cm))
	require.NoError(t, m.Register(t.Context()))

	resp, err := m.Fetch(t.Context(), getRequest(t, testOrigin+"/static/style.css"))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.InDelta(t, 1, gaugeValue(t, reg, "pantry_offline_responses_total", map[string]string{"route": "static", "source": "hit"}), 0)
	assert.InDelta(t, 1, gaugeValue(t, reg, "pantry_offline_installs_total", map[string]string{"result": "ok"}), 0)
	assert.InDelta(t, 1, gaugeValue(t, reg, "pantry_offline_phase", map[string]string{"version": cfg.Version, "phase": "activated"}), 0)
	assert.InDelta(t, 0, gaugeValue(t, reg, "pantry_offline_phase", map[string]string{"version": cfg.Version, "phase": "installing"}), 0)
}

// gaugeValue returns the counter or gauge value of the series matching labels.
func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}
