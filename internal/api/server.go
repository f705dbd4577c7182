// Package api serves the offline edge: the proxy that routes every request
// through the offline cache manager, the /_sw admin endpoints, metrics and
// the PWA shim files.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/notification"
	"github.com/ajspantry/pantry-offline/internal/offline"
	"github.com/ajspantry/pantry-offline/internal/syncqueue"
)

// AdminPrefix is the path prefix of the management endpoints. It is never
// proxied.
const AdminPrefix = "/_sw"

const (
	adminRateLimit  = 5
	adminRateBurst  = 10
	adminRateWindow = time.Minute
	maxQueueBody    = "256K"
)

// Config holds the server's collaborators. Manager is required; the
// others are optional and their endpoints answer 503 when unset.
type Config struct {
	Manager  *offline.Manager
	Queue    *syncqueue.Queue
	Notifier *notification.Service
	// Gatherer backs the metrics endpoint; nil disables it.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	// SeparateAdmin serves the admin endpoints and metrics from
	// AdminHandler only. The public handler then proxies /_sw paths like
	// any other.
	SeparateAdmin bool
	Logger        logger.Logger
}

// Server is the echo application.
type Server struct {
	echo *echo.Echo
	// admin is echo itself unless the admin endpoints are separated.
	admin    *echo.Echo
	manager  *offline.Manager
	queue    *syncqueue.Queue
	notifier *notification.Service
	log      logger.Logger
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.Newf("offline manager is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("api")
	}

	e := newEcho()
	s := &Server{
		echo:     e,
		admin:    e,
		manager:  cfg.Manager,
		queue:    cfg.Queue,
		notifier: cfg.Notifier,
		log:      log,
	}

	if cfg.SeparateAdmin {
		s.admin = newEcho()
	}

	s.registerPWARoutes()
	s.registerAdminRoutes()
	if cfg.Gatherer != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.admin.GET(path, echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	e.Any("/*", s.handleProxy)
	return s, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	return e
}

// Handler returns the public HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// AdminHandler returns the handler serving the admin endpoints. It is the
// public handler unless SeparateAdmin was set.
func (s *Server) AdminHandler() http.Handler {
	return s.admin
}

// SeparateAdmin reports whether the admin endpoints need their own listener.
func (s *Server) SeparateAdmin() bool {
	return s.admin != s.echo
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("offline edge listening", logger.String("addr", addr))
	return listen(s.echo, addr)
}

// StartAdmin listens for admin requests on addr until Shutdown. It is only
// needed when the admin endpoints are separated.
func (s *Server) StartAdmin(addr string) error {
	s.log.Info("admin endpoints listening", logger.String("addr", addr))
	return listen(s.admin, addr)
}

func listen(e *echo.Echo, addr string) error {
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("addr", addr).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if s.SeparateAdmin() {
		err = errors.Join(err, s.admin.Shutdown(ctx))
	}
	return err
}

// adminRateLimiter limits state-changing admin calls per client IP.
func adminRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      adminRateLimit,
				Burst:     adminRateBurst,
				ExpiresIn: adminRateWindow,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests, please wait before trying again",
			})
		},
	})
}
