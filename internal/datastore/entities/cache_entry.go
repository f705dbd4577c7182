package entities

import "time"

// CacheEntry is one stored response inside a bucket. KeyHash is the SHA-256
// of "METHOD URL" so the unique index stays short on MySQL.
type CacheEntry struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	BucketID uint      `gorm:"not null;uniqueIndex:idx_cache_entry_key,priority:1" json:"bucket_id"`
	KeyHash  string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entry_key,priority:2" json:"key_hash"`
	Method   string    `gorm:"size:10;not null" json:"method"`
	URL      string    `gorm:"size:2048;not null" json:"url"`
	Status   int       `gorm:"not null" json:"status"`
	Header   string    `gorm:"type:text" json:"header"`
	Body     []byte    `json:"-"`
	Encoding string    `gorm:"size:16;not null;default:''" json:"encoding"`
	BodySize int64     `gorm:"not null;default:0" json:"body_size"`
	StoredAt time.Time `gorm:"not null;index" json:"stored_at"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
