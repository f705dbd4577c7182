// Package metrics defines the Prometheus instruments for pantry-offline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pantry_offline"

// Cache lookup outcomes, used as the "source" label.
const (
	SourceHit      = "hit"
	SourceMiss     = "miss"
	SourceNetwork  = "network"
	SourceStale    = "stale"
	SourceFallback = "fallback"
	SourceBypass   = "bypass"
	SourceError    = "error"
)

// CacheMetrics holds the offline cache manager's instruments. A nil
// *CacheMetrics is valid and records nothing.
type CacheMetrics struct {
	responses       *prometheus.CounterVec
	networkFailures *prometheus.CounterVec
	cacheWrites     *prometheus.CounterVec
	installs        *prometheus.CounterVec
	installDuration prometheus.Histogram
	bucketsDeleted  prometheus.Counter
	phase           *prometheus.GaugeVec
}

// NewCacheMetrics creates the instruments and registers them with reg.
func NewCacheMetrics(reg prometheus.Registerer) (*CacheMetrics, error) {
	m := &CacheMetrics{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Intercepted requests by route and response source.",
		}, []string{"route", "source"}),
		networkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_failures_total",
			Help:      "Network fetches that failed at the transport level.",
		}, []string{"route"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Best-effort cache writes by result.",
		}, []string{"result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Precache installs by result.",
		}, []string{"result"}),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Time taken to precache the static asset list.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		bucketsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_deleted_total",
			Help:      "Stale cache buckets removed on activation.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Current lifecycle phase of the cache version (1 for the active phase).",
		}, []string{"version", "phase"}),
	}

	for _, c := range []prometheus.Collector{
		m.responses, m.networkFailures, m.cacheWrites, m.installs,
		m.installDuration, m.bucketsDeleted, m.phase,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordResponse counts one intercepted request.
func (m *CacheMetrics) RecordResponse(route, source string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(route, source).Inc()
}

// RecordNetworkFailure counts a transport-level fetch failure.
func (m *CacheMetrics) RecordNetworkFailure(route string) {
	if m == nil {
		return
	}
	m.networkFailures.WithLabelValues(route).Inc()
}

// RecordCacheWrite counts a cache write attempt.
func (m *CacheMetrics) RecordCacheWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cacheWrites.WithLabelValues(result).Inc()
}

// RecordInstall counts an install attempt and its duration.
func (m *CacheMetrics) RecordInstall(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.installs.WithLabelValues(result).Inc()
	m.installDuration.Observe(d.Seconds())
}

// RecordBucketDeleted counts a removed stale bucket.
func (m *CacheMetrics) RecordBucketDeleted() {
	if m == nil {
		return
	}
	m.bucketsDeleted.Inc()
}

// SetPhase marks phase as the current phase for version.
func (m *CacheMetrics) SetPhase(version, phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(version, p).Set(v)
	}
}
