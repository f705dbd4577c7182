// Package entities defines the gorm models for the persistent cache and the
// offline sync queue.
package entities

import "time"

// CacheBucket is a named, versioned cache. Exactly one bucket is current at a
// time; the rest are removed on activation.
type CacheBucket struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:191;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	Entries   []CacheEntry `gorm:"foreignKey:BucketID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (CacheBucket) TableName() string {
	return "cache_buckets"
}
