// Package offline implements the offline cache manager: it precaches the
// application shell on install, drops stale cache versions on activation and
// intercepts fetches with cache-first or network-first strategies.
package offline

import (
	"context"
	"sync"
	"time"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/network"
	"github.com/ajspantry/pantry-offline/internal/observability/metrics"
)

// Phase is the lifecycle phase of the manager's cache version.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseInstalling
	PhaseInstalled
	PhaseActivating
	PhaseActivated
	// PhaseRedundant follows a failed install.
	PhaseRedundant
)

var phaseNames = map[Phase]string{
	PhaseNew:        "new",
	PhaseInstalling: "installing",
	PhaseInstalled:  "installed",
	PhaseActivating: "activating",
	PhaseActivated:  "activated",
	PhaseRedundant:  "redundant",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// phaseLabels lists every phase name in order, for the phase gauge.
func phaseLabels() []string {
	labels := make([]string, 0, len(phaseNames))
	for p := PhaseNew; p <= PhaseRedundant; p++ {
		labels = append(labels, p.String())
	}
	return labels
}

const (
	// HeaderCache reports where a response came from.
	HeaderCache = "X-Offline-Cache"

	defaultInstallConcurrency = 4
	defaultWriteTimeout       = 30 * time.Second
)

// Manager is the offline cache manager for one cache version.
type Manager struct {
	cfg            Config
	storage        cachestore.Storage
	fetcher        network.Fetcher
	installFetcher network.Fetcher
	notices        *NoticeBus
	metrics        *metrics.CacheMetrics
	log            logger.Logger

	installConcurrency int
	writeTimeout       time.Duration

	mu          sync.RWMutex
	phase       Phase
	controlling bool

	writes sync.WaitGroup

	// current is the open handle on the current version's bucket.
	bucketMu sync.Mutex
	current  cachestore.Bucket
}

// Option configures a Manager.
type Option func(*Manager)

// WithNoticeBus publishes lifecycle notices on bus.
func WithNoticeBus(bus *NoticeBus) Option {
	return func(m *Manager) { m.notices = bus }
}

// WithMetrics records instruments on cm.
func WithMetrics(cm *metrics.CacheMetrics) Option {
	return func(m *Manager) { m.metrics = cm }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithInstallFetcher uses f for precaching instead of the request fetcher,
// typically a rate-limited one.
func WithInstallFetcher(f network.Fetcher) Option {
	return func(m *Manager) { m.installFetcher = f }
}

// WithInstallConcurrency bounds parallel asset fetches during install.
func WithInstallConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.installConcurrency = n
		}
	}
}

// WithWriteTimeout bounds each background cache write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// NewManager creates a manager in PhaseNew. It intercepts nothing until
// Activate succeeds.
func NewManager(cfg Config, storage cachestore.Storage, fetcher network.Fetcher, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:                cfg,
		storage:            storage,
		fetcher:            fetcher,
		installConcurrency: defaultInstallConcurrency,
		writeTimeout:       defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.installFetcher == nil {
		m.installFetcher = fetcher
	}
	if m.log == nil {
		m.log = logger.Global().Module("offline")
	}
	m.log = m.log.With(logger.String("version", cfg.Version))
	m.metrics.SetPhase(cfg.Version, PhaseNew.String(), phaseLabels())
	return m, nil
}

// Version is the current cache version, which is also the bucket name.
func (m *Manager) Version() string { return m.cfg.Version }

// Config returns the manager's policy.
func (m *Manager) Config() Config { return m.cfg }

// Storage returns the bucket storage.
func (m *Manager) Storage() cachestore.Storage { return m.storage }

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Controlling reports whether fetches are intercepted.
func (m *Manager) Controlling() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlling
}

// Wait blocks until in-flight background cache writes finish.
func (m *Manager) Wait() {
	m.writes.Wait()
}

// bucket returns the current version's bucket, opening it on first use.
func (m *Manager) bucket(ctx context.Context) (cachestore.Bucket, error) {
	m.bucketMu.Lock()
	defer m.bucketMu.Unlock()
	if m.current != nil {
		return m.current, nil
	}
	b, err := m.storage.Open(ctx, m.cfg.Version)
	if err != nil {
		return nil, err
	}
	m.current = b
	return b, nil
}

// forgetBucket drops the cached handle after the current bucket is deleted.
func (m *Manager) forgetBucket() {
	m.bucketMu.Lock()
	m.current = nil
	m.bucketMu.Unlock()
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	if p == PhaseActivated {
		m.controlling = true
	}
	m.mu.Unlock()
	m.metrics.SetPhase(m.cfg.Version, p.String(), phaseLabels())
	m.log.Debug("phase changed", logger.String("phase", p.String()))
}

func (m *Manager) publish(name string, props map[string]any) {
	m.notices.Publish(&Notice{
		Name:       name,
		Version:    m.cfg.Version,
		Properties: props,
	})
}
