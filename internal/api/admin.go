package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/offline"
	"github.com/ajspantry/pantry-offline/internal/syncqueue"
)

// BucketInfo describes one cache bucket.
type BucketInfo struct {
	cachestore.Stats
	Size    string `json:"size"`
	Current bool   `json:"current"`
}

// StatusResponse is returned by GET /_sw/status.
type StatusResponse struct {
	Version     string       `json:"version"`
	Phase       string       `json:"phase"`
	Controlling bool         `json:"controlling"`
	Buckets     []BucketInfo `json:"buckets"`
}

// EnqueueRequest is the body of POST /_sw/queue.
type EnqueueRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) registerAdminRoutes() {
	g := s.admin.Group(AdminPrefix)

	g.GET("/status", s.GetStatus)
	g.GET("/buckets", s.ListBuckets)

	protected := g.Group("", adminRateLimiter())
	protected.POST("/install", s.PostInstall)
	protected.POST("/activate", s.PostActivate)
	protected.POST("/register", s.PostRegister)
	protected.DELETE("/buckets/:name", s.DeleteBucket)

	g.GET("/queue", s.ListQueue)
	g.POST("/queue", s.EnqueueChange, middleware.BodyLimit(maxQueueBody))
	protected.POST("/queue/sync", s.SyncQueue)

	s.registerNotificationRoutes(protected)
}

// GetStatus reports the lifecycle phase and every bucket.
func (s *Server) GetStatus(c echo.Context) error {
	buckets, err := s.bucketInfo(c)
	if err != nil {
		return s.handleError(c, err, "Failed to read cache buckets", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Version:     s.manager.Version(),
		Phase:       s.manager.Phase().String(),
		Controlling: s.manager.Controlling(),
		Buckets:     buckets,
	})
}

// ListBuckets lists cache buckets with their sizes.
func (s *Server) ListBuckets(c echo.Context) error {
	buckets, err := s.bucketInfo(c)
	if err != nil {
		return s.handleError(c, err, "Failed to read cache buckets", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"buckets": buckets,
		"count":   len(buckets),
	})
}

func (s *Server) bucketInfo(c echo.Context) ([]BucketInfo, error) {
	ctx := c.Request().Context()
	storage := s.manager.Storage()
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BucketInfo, 0, len(names))
	for _, name := range names {
		b, err := storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		stats, err := cachestore.Summarize(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, BucketInfo{
			Stats:   stats,
			Size:    bytes.Format(stats.Bytes),
			Current: name == s.manager.Version(),
		})
	}
	return out, nil
}

// PostInstall precaches the static asset list into the current bucket.
func (s *Server) PostInstall(c echo.Context) error {
	if _, err := s.manager.Dispatch(c.Request().Context(), offline.EventInstall, nil); err != nil {
		return s.handleError(c, err, "Install failed", http.StatusBadGateway)
	}
	return s.phaseResponse(c)
}

// PostActivate removes stale buckets and takes control.
func (s *Server) PostActivate(c echo.Context) error {
	if _, err := s.manager.Dispatch(c.Request().Context(), offline.EventActivate, nil); err != nil {
		if errors.Is(err, offline.ErrNotInstalled) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Cache version is not installed"})
		}
		return s.handleError(c, err, "Activation finished with errors", http.StatusInternalServerError)
	}
	return s.phaseResponse(c)
}

// PostRegister installs and activates in one step.
func (s *Server) PostRegister(c echo.Context) error {
	if err := s.manager.Register(c.Request().Context()); err != nil {
		return s.handleError(c, err, "Register failed", http.StatusBadGateway)
	}
	return s.phaseResponse(c)
}

func (s *Server) phaseResponse(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version":     s.manager.Version(),
		"phase":       s.manager.Phase().String(),
		"controlling": s.manager.Controlling(),
	})
}

// DeleteBucket removes a stale bucket. The current bucket cannot be deleted.
func (s *Server) DeleteBucket(c echo.Context) error {
	name := c.Param("name")
	if name == s.manager.Version() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Refusing to delete the current cache bucket"})
	}
	deleted, err := s.manager.Storage().Delete(c.Request().Context(), name)
	if err != nil {
		return s.handleError(c, err, "Failed to delete bucket", http.StatusInternalServerError)
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Bucket not found"})
	}
	s.log.Info("cache bucket deleted", logger.String("bucket", name))
	return c.NoContent(http.StatusNoContent)
}

// ListQueue lists queued offline changes; ?pending=true hides synced ones.
func (s *Server) ListQueue(c echo.Context) error {
	if s.queue == nil {
		return s.queueUnavailable(c)
	}
	pending, _ := strconv.ParseBool(c.QueryParam("pending"))
	items, err := s.queue.List(c.Request().Context(), pending)
	if err != nil {
		return s.handleError(c, err, "Failed to list queue", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// EnqueueChange stores an offline change.
func (s *Server) EnqueueChange(c echo.Context) error {
	if s.queue == nil {
		return s.queueUnavailable(c)
	}
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	item, err := s.queue.Enqueue(c.Request().Context(), req.Kind, req.Payload)
	if err != nil {
		if errors.Is(err, syncqueue.ErrInvalidItem) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return s.handleError(c, err, "Failed to queue change", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, item)
}

// SyncQueue marks pending changes as synced.
func (s *Server) SyncQueue(c echo.Context) error {
	if s.queue == nil {
		return s.queueUnavailable(c)
	}
	result, err := s.queue.Sync(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "Failed to sync queue", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) queueUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Offline queue is disabled"})
}

// handleError logs err and writes a JSON error with message.
func (s *Server) handleError(c echo.Context, err error, message string, status int) error {
	s.log.Error(message,
		logger.String("path", c.Path()),
		logger.Error(err))
	return c.JSON(status, map[string]string{
		"error":   message,
		"details": err.Error(),
	})
}
