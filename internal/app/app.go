// Package app wires settings into the running components shared by every
// command: storage, the offline cache manager, the sync queue,
// notifications and metrics.
package app

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/datastore"
	"github.com/ajspantry/pantry-offline/internal/datastore/repository"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/network"
	"github.com/ajspantry/pantry-offline/internal/notification"
	"github.com/ajspantry/pantry-offline/internal/observability/metrics"
	"github.com/ajspantry/pantry-offline/internal/offline"
	"github.com/ajspantry/pantry-offline/internal/syncqueue"
)

// App holds the wired components. Close releases them.
type App struct {
	Settings *conf.Settings
	Log      logger.Logger
	DB       *gorm.DB
	Storage  cachestore.Storage
	Manager  *offline.Manager
	Queue    *syncqueue.Queue
	Notices  *offline.NoticeBus
	Notifier *notification.Service
	Registry *prometheus.Registry
}

// NewLogger builds the process logger from logging settings.
func NewLogger(s *conf.Settings) logger.Logger {
	level := logger.ParseLevel(s.Logging.Level)
	if s.Logging.JSON {
		return logger.NewJSONLogger(os.Stderr, level, s.Location())
	}
	return logger.NewSlogLogger(os.Stderr, level, s.Location())
}

// New opens storage and builds every component described by s. On error
// everything opened so far is closed again.
func New(s *conf.Settings, log logger.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(s)
	}
	a := &App{Settings: s, Log: log}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() (err error) {
	s, log := a.Settings, a.Log

	if s.Cache.Backend != conf.BackendMemory || s.SyncQueue.Enabled {
		if a.DB, err = datastore.Open(s); err != nil {
			return err
		}
	}

	if s.Cache.Backend == conf.BackendMemory {
		a.Storage = cachestore.NewMemoryStorage()
	} else {
		a.Storage = cachestore.NewPersistentStorage(repository.NewCacheRepository(a.DB))
	}

	if s.SyncQueue.Enabled {
		a.Queue = syncqueue.New(repository.NewSyncQueueRepository(a.DB), log.Module("syncqueue"))
	}

	var cacheMetrics *metrics.CacheMetrics
	if s.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if cacheMetrics, err = metrics.NewCacheMetrics(a.Registry); err != nil {
			return errors.New(err).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("operation", "register_metrics").
				Build()
		}
	}

	if a.Notifier, err = notification.NewServiceFromSettings(&s.Notification, log.Module("notification")); err != nil {
		return err
	}

	a.Notices = offline.NewNoticeBus()
	a.Notices.Subscribe(func(n *offline.Notice) {
		log.Debug("cache notice",
			logger.String("notice", n.Name),
			logger.String("version", n.Version),
			logger.Any("properties", n.Properties))
	})
	if len(a.Notifier.Providers()) > 0 {
		dispatcher := offline.NewNoticeDispatcher(a.Notifier, offline.DefaultNoticeTemplates, log.Module("notification"))
		a.Notices.Subscribe(dispatcher.Handle)
	}

	cfg, err := offline.ConfigFromSettings(s)
	if err != nil {
		return err
	}
	origin, err := s.OriginURL()
	if err != nil {
		return err
	}
	upstream, err := s.UpstreamURL()
	if err != nil {
		return err
	}

	timeout := s.Network.Timeout.Std()
	fetcher := network.NewUpstreamFetcher(
		network.NewHTTPFetcher(timeout, network.WithUserAgent(s.Network.UserAgent)),
		origin, upstream)
	installFetcher := network.NewUpstreamFetcher(
		network.NewHTTPFetcher(timeout,
			network.WithUserAgent(s.Network.UserAgent),
			network.WithRateLimit(s.Cache.InstallRate, 1)),
		origin, upstream)

	a.Manager, err = offline.NewManager(cfg, a.Storage, fetcher,
		offline.WithInstallFetcher(installFetcher),
		offline.WithInstallConcurrency(s.Cache.InstallConcurrency),
		offline.WithWriteTimeout(s.Cache.WriteTimeout.Std()),
		offline.WithNoticeBus(a.Notices),
		offline.WithMetrics(cacheMetrics),
		offline.WithLogger(log.Module("offline")))
	return err
}

// Close waits for pending cache writes, stops notice delivery and closes
// the database. It is safe on a partially built App.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Wait()
	}
	if a.Notices != nil {
		a.Notices.Stop()
	}
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.DB != nil {
		if err := datastore.Close(a.DB); err != nil {
			a.Log.Warn("failed to close database", logger.Error(err))
		}
	}
}

// ShutdownGrace bounds graceful shutdown in long-running commands.
const ShutdownGrace = 10 * time.Second
