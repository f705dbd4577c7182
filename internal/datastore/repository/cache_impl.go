package repository

import (
	"context"
	"fmt"

	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// EnsureBucket returns the named bucket, creating it if it does not exist.
func (r *cacheRepository) EnsureBucket(ctx context.Context, name string) (*entities.CacheBucket, error) {
	bucket := entities.CacheBucket{Name: name}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&bucket).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create cache bucket %q: %w", name, err)
	}
	return r.FindBucket(ctx, name)
}

// FindBucket returns the named bucket or ErrBucketNotFound.
func (r *cacheRepository) FindBucket(ctx context.Context, name string) (*entities.CacheBucket, error) {
	var bucket entities.CacheBucket
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, fmt.Errorf("failed to get cache bucket %q: %w", name, err)
	}
	return &bucket, nil
}

// ListBuckets returns all buckets ordered by name.
func (r *cacheRepository) ListBuckets(ctx context.Context) ([]entities.CacheBucket, error) {
	var buckets []entities.CacheBucket
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache buckets: %w", err)
	}
	return buckets, nil
}

// DeleteBucket removes a bucket and its entries in one transaction.
// Entries are deleted explicitly so SQLite without foreign keys stays clean.
func (r *cacheRepository) DeleteBucket(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bucket entities.CacheBucket
		if err := tx.Where("name = ?", name).First(&bucket).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load cache bucket %q: %w", name, err)
		}
		if err := tx.Where("bucket_id = ?", bucket.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of bucket %q: %w", name, err)
		}
		if err := tx.Delete(&bucket).Error; err != nil {
			return fmt.Errorf("failed to delete cache bucket %q: %w", name, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// GetEntry returns one entry including its body, or ErrEntryNotFound.
func (r *cacheRepository) GetEntry(ctx context.Context, bucketID uint, keyHash string) (*entities.CacheEntry, error) {
	var entry entities.CacheEntry
	err := r.db.WithContext(ctx).
		Where("bucket_id = ? AND key_hash = ?", bucketID, keyHash).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// UpsertEntry inserts an entry or replaces the one with the same key.
func (r *cacheRepository) UpsertEntry(ctx context.Context, entry *entities.CacheEntry) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bucket_id"}, {Name: "key_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"method", "url", "status", "header", "body", "encoding", "body_size", "stored_at",
			}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", entry.URL, err)
	}
	return nil
}

// DeleteEntry removes one entry, reporting whether it existed.
func (r *cacheRepository) DeleteEntry(ctx context.Context, bucketID uint, keyHash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("bucket_id = ? AND key_hash = ?", bucketID, keyHash).
		Delete(&entities.CacheEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListEntries returns entry metadata for a bucket.
func (r *cacheRepository) ListEntries(ctx context.Context, bucketID uint) ([]entities.CacheEntry, error) {
	var entries []entities.CacheEntry
	err := r.db.WithContext(ctx).
		Select("id", "bucket_id", "key_hash", "method", "url", "status", "encoding", "body_size", "stored_at").
		Where("bucket_id = ?", bucketID).
		Order("url ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	return entries, nil
}
