// Package repository implements gorm-backed persistence for cache buckets and
// the offline sync queue.
package repository

import (
	"context"
	"time"

	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
)

// CacheRepository handles bucket and entry persistence.
type CacheRepository interface {
	// Buckets
	EnsureBucket(ctx context.Context, name string) (*entities.CacheBucket, error)
	FindBucket(ctx context.Context, name string) (*entities.CacheBucket, error)
	ListBuckets(ctx context.Context) ([]entities.CacheBucket, error)
	DeleteBucket(ctx context.Context, name string) (bool, error)

	// Entries
	GetEntry(ctx context.Context, bucketID uint, keyHash string) (*entities.CacheEntry, error)
	UpsertEntry(ctx context.Context, entry *entities.CacheEntry) error
	DeleteEntry(ctx context.Context, bucketID uint, keyHash string) (bool, error)
	// ListEntries returns entry metadata without bodies, ordered by URL.
	ListEntries(ctx context.Context, bucketID uint) ([]entities.CacheEntry, error)
}

// SyncQueueRepository handles the offline change queue.
type SyncQueueRepository interface {
	Enqueue(ctx context.Context, item *entities.SyncItem) error
	List(ctx context.Context, filter SyncItemFilter) ([]entities.SyncItem, error)
	MarkSynced(ctx context.Context, ids []string, at time.Time) (int64, error)
	DeleteSyncedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SyncItemFilter controls queue listing.
type SyncItemFilter struct {
	PendingOnly bool
	Kind        string
	Limit       int
}
