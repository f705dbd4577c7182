// Package syncqueue records changes made while offline so they can be synced
// once connectivity returns. Syncing only logs and marks items; replaying
// them against the application is not implemented.
package syncqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
	"github.com/ajspantry/pantry-offline/internal/datastore/repository"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
)

// ErrInvalidItem is returned for items with no kind or a payload that is not
// valid JSON.
var ErrInvalidItem = errors.NewStd("invalid sync item")

// Item is a queued change.
type Item struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queued_at"`
	SyncedAt *time.Time      `json:"synced_at,omitempty"`
}

// SyncResult summarizes one Sync call.
type SyncResult struct {
	Synced int `json:"synced"`
}

// Queue is the offline change queue.
type Queue struct {
	repo repository.SyncQueueRepository
	log  logger.Logger
	now  func() time.Time
}

// New creates a queue over repo.
func New(repo repository.SyncQueueRepository, log logger.Logger) *Queue {
	if log == nil {
		log = logger.Global().Module("syncqueue")
	}
	return &Queue{repo: repo, log: log, now: time.Now}
}

// Enqueue records a change and returns it with its assigned id.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*Item, error) {
	if kind == "" {
		return nil, invalidItem("kind is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, invalidItem("payload is not valid JSON")
	}

	row := &entities.SyncItem{
		ID:       uuid.NewString(),
		Kind:     kind,
		Payload:  string(payload),
		QueuedAt: q.now(),
	}
	if err := q.repo.Enqueue(ctx, row); err != nil {
		return nil, err
	}
	q.log.Debug("queued offline change",
		logger.String("id", row.ID),
		logger.String("kind", kind))
	return toItem(row), nil
}

// List returns queued items, oldest first.
func (q *Queue) List(ctx context.Context, pendingOnly bool) ([]Item, error) {
	rows, err := q.repo.List(ctx, repository.SyncItemFilter{PendingOnly: pendingOnly})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for i := range rows {
		items = append(items, *toItem(&rows[i]))
	}
	return items, nil
}

// Sync walks the pending items, logs each one and marks them synced.
func (q *Queue) Sync(ctx context.Context) (SyncResult, error) {
	rows, err := q.repo.List(ctx, repository.SyncItemFilter{PendingOnly: true})
	if err != nil {
		return SyncResult{}, err
	}
	if len(rows) == 0 {
		return SyncResult{}, nil
	}

	ids := make([]string, 0, len(rows))
	for i := range rows {
		q.log.Info("syncing offline change",
			logger.String("id", rows[i].ID),
			logger.String("kind", rows[i].Kind))
		ids = append(ids, rows[i].ID)
	}

	n, err := q.repo.MarkSynced(ctx, ids, q.now())
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Synced: int(n)}, nil
}

// Prune removes items synced before the cutoff.
func (q *Queue) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.repo.DeleteSyncedBefore(ctx, q.now().Add(-olderThan))
}

func toItem(row *entities.SyncItem) *Item {
	return &Item{
		ID:       row.ID,
		Kind:     row.Kind,
		Payload:  json.RawMessage(row.Payload),
		QueuedAt: row.QueuedAt,
		SyncedAt: row.SyncedAt,
	}
}

func invalidItem(reason string) error {
	return errors.New(ErrInvalidItem).
		Component("syncqueue").
		Category(errors.CategoryValidation).
		Context("reason", reason).
		Build()
}
