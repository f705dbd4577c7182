package offline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
)

// EventKind is a lifecycle event delivered to the manager.
type EventKind int

const (
	EventInstall EventKind = iota
	EventActivate
	EventFetch
)

func (k EventKind) String() string {
	switch k {
	case EventInstall:
		return "install"
	case EventActivate:
		return "activate"
	case EventFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

var (
	// ErrNotInstalled is returned by Activate before a successful install.
	ErrNotInstalled = errors.NewStd("cache version is not installed")
	// ErrUnknownEvent is returned by Dispatch for an unrecognized event kind.
	ErrUnknownEvent = errors.NewStd("unknown lifecycle event")
)

// Dispatch routes a lifecycle event to its handler. req is only used by
// EventFetch; install and activate return a nil response.
func (m *Manager) Dispatch(ctx context.Context, kind EventKind, req *http.Request) (*http.Response, error) {
	switch kind {
	case EventInstall:
		return nil, m.Install(ctx)
	case EventActivate:
		return nil, m.Activate(ctx)
	case EventFetch:
		if req == nil {
			return nil, errors.Newf("fetch event without a request").
				Component("offline").
				Category(errors.CategoryValidation).
				Build()
		}
		return m.Fetch(ctx, req)
	default:
		return nil, errors.New(ErrUnknownEvent).
			Component("offline").
			Category(errors.CategoryValidation).
			Context("event", int(kind)).
			Build()
	}
}

// Register installs and immediately activates the current version.
func (m *Manager) Register(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		return err
	}
	return m.Activate(ctx)
}

// Install precaches every static asset into the current bucket. Either all
// assets are stored or none are: any transport error or non-200 response
// fails the install and leaves existing buckets untouched. A failed install
// marks the version redundant but does not stop an already active version
// from serving.
func (m *Manager) Install(ctx context.Context) (err error) {
	start := time.Now()
	m.setPhase(PhaseInstalling)
	m.log.Info("installing cache version", logger.Int("assets", len(m.cfg.StaticAssets)))

	defer func() {
		m.metrics.RecordInstall(time.Since(start), err)
		if err != nil {
			m.setPhase(PhaseRedundant)
			m.log.Error("install failed", logger.Error(err))
			m.publish(NoticeInstallFailed, map[string]any{
				PropertyError: err.Error(),
			})
			return
		}
		m.setPhase(PhaseInstalled)
		m.log.Info("install complete",
			logger.Int("assets", len(m.cfg.StaticAssets)),
			logger.Duration("duration", time.Since(start)))
		m.publish(NoticeInstalled, map[string]any{
			PropertyBucket: m.cfg.Version,
			PropertyAssets: len(m.cfg.StaticAssets),
		})
	}()

	if m.cfg.InstallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.InstallTimeout)
		defer cancel()
	}

	keys := make([]cachestore.RequestKey, len(m.cfg.StaticAssets))
	for i, asset := range m.cfg.StaticAssets {
		key, err := m.cfg.keyFor(asset)
		if err != nil {
			return installError(err, asset)
		}
		keys[i] = key
	}

	snaps := make([]*cachestore.Snapshot, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.installConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			snap, err := m.precache(gctx, key)
			if err != nil {
				return installError(err, key.URL)
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return m.commit(ctx, keys, snaps)
}

// precache fetches one asset and requires a 200.
func (m *Manager) precache(ctx context.Context, key cachestore.RequestKey) (*cachestore.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := m.installFetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return cachestore.Duplicate(resp)
}

// commit writes all precached snapshots. A bucket created by this call is
// removed again if any write fails.
func (m *Manager) commit(ctx context.Context, keys []cachestore.RequestKey, snaps []*cachestore.Snapshot) error {
	existed, err := m.storage.Has(ctx, m.cfg.Version)
	if err != nil {
		return err
	}
	bucket, err := m.bucket(ctx)
	if err != nil {
		return err
	}
	for i, key := range keys {
		if err := bucket.Put(ctx, key, snaps[i]); err != nil {
			if !existed {
				m.forgetBucket()
				if _, delErr := m.storage.Delete(context.WithoutCancel(ctx), m.cfg.Version); delErr != nil {
					m.log.Warn("failed to remove partial bucket", logger.Error(delErr))
				}
			}
			return err
		}
	}
	return nil
}

// Activate deletes every bucket other than the current version and takes
// control of fetches. Deletion failures are reported but do not prevent
// activation.
func (m *Manager) Activate(ctx context.Context) error {
	switch m.Phase() {
	case PhaseInstalled, PhaseActivating, PhaseActivated:
	default:
		return errors.New(ErrNotInstalled).
			Component("offline").
			Category(errors.CategoryLifecycle).
			Context("phase", m.Phase().String()).
			Build()
	}

	m.setPhase(PhaseActivating)

	names, err := m.storage.Keys(ctx)
	if err != nil {
		m.setPhase(PhaseInstalled)
		return err
	}

	var errs []error
	deleted := 0
	for _, name := range names {
		if name == m.cfg.Version {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			m.log.Warn("failed to delete stale bucket",
				logger.String("bucket", name),
				logger.Error(err))
			errs = append(errs, err)
			continue
		}
		deleted++
		m.metrics.RecordBucketDeleted()
		m.log.Info("deleted stale bucket", logger.String("bucket", name))
		m.publish(NoticeBucketDeleted, map[string]any{PropertyBucket: name})
	}

	m.setPhase(PhaseActivated)
	m.log.Info("cache version activated", logger.Int("deleted", deleted))
	m.publish(NoticeActivated, map[string]any{
		PropertyBucket:  m.cfg.Version,
		PropertyDeleted: deleted,
	})
	return errors.Join(errs...)
}

func installError(err error, url string) error {
	return errors.New(err).
		Component("offline").
		Category(errors.CategoryNetwork).
		Context("operation", "install").
		Context("url", url).
		Build()
}
