package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
	"gorm.io/gorm"
)

// syncQueueRepository implements SyncQueueRepository.
type syncQueueRepository struct {
	db *gorm.DB
}

// NewSyncQueueRepository creates a new SyncQueueRepository.
func NewSyncQueueRepository(db *gorm.DB) SyncQueueRepository {
	return &syncQueueRepository{db: db}
}

// Enqueue stores a new queue item.
func (r *syncQueueRepository) Enqueue(ctx context.Context, item *entities.SyncItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to enqueue sync item: %w", err)
	}
	return nil
}

// List returns queue items oldest first.
func (r *syncQueueRepository) List(ctx context.Context, filter SyncItemFilter) ([]entities.SyncItem, error) {
	var items []entities.SyncItem
	query := r.db.WithContext(ctx).Order("queued_at ASC")
	if filter.PendingOnly {
		query = query.Where("synced_at IS NULL")
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync items: %w", err)
	}
	return items, nil
}

// MarkSynced stamps the given pending items as synced.
func (r *syncQueueRepository) MarkSynced(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&entities.SyncItem{}).
		Where("id IN ? AND synced_at IS NULL", ids).
		Update("synced_at", at)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark sync items synced: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteSyncedBefore removes synced items older than before.
func (r *syncQueueRepository) DeleteSyncedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("synced_at IS NOT NULL AND synced_at < ?", before).
		Delete(&entities.SyncItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete synced items before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
