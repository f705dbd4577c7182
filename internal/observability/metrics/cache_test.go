package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMetrics_Counters(t *testing.T) {
	t.Parallel()

	m, err := NewCacheMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordResponse("static", SourceHit)
	m.RecordResponse("static", SourceHit)
	m.RecordResponse("dynamic", SourceFallback)
	m.RecordNetworkFailure("dynamic")
	m.RecordCacheWrite(nil)
	m.RecordCacheWrite(errors.New("disk full"))
	m.RecordBucketDeleted()

	assert.InDelta(t, 2, testutil.ToFloat64(m.responses.WithLabelValues("static", SourceHit)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.responses.WithLabelValues("dynamic", SourceFallback)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.networkFailures.WithLabelValues("dynamic")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheWrites.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheWrites.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.bucketsDeleted), 0)
}

func TestCacheMetrics_InstallHistogram(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewCacheMetrics(reg)
	require.NoError(t, err)

	m.RecordInstall(120*time.Millisecond, nil)
	m.RecordInstall(2*time.Second, errors.New("cdn down"))

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, f := range families {
		if f.GetName() == "pantry_offline_install_duration_seconds" {
			hist = f.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 1, testutil.ToFloat64(m.installs.WithLabelValues("error")), 0)
}

func TestCacheMetrics_SetPhase(t *testing.T) {
	t.Parallel()

	m, err := NewCacheMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	phases := []string{"installing", "installed", "activated"}
	m.SetPhase("ajs-pantry-v1", "installing", phases)
	m.SetPhase("ajs-pantry-v1", "activated", phases)

	assert.InDelta(t, 0, testutil.ToFloat64(m.phase.WithLabelValues("ajs-pantry-v1", "installing")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.phase.WithLabelValues("ajs-pantry-v1", "activated")), 0)
}

func TestCacheMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *CacheMetrics
	assert.NotPanics(t, func() {
		m.RecordResponse("static", SourceHit)
		m.RecordNetworkFailure("static")
		m.RecordCacheWrite(nil)
		m.RecordInstall(time.Second, nil)
		m.RecordBucketDeleted()
		m.SetPhase("v", "p", []string{"p"})
	})
}

func TestNewCacheMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewCacheMetrics(reg)
	require.NoError(t, err)
	_, err = NewCacheMetrics(reg)
	assert.Error(t, err)
}
