package entities

import "time"

// SyncItem is a change recorded while offline, waiting to be synced.
type SyncItem struct {
	ID       string     `gorm:"primaryKey;size:36" json:"id"`
	Kind     string     `gorm:"size:100;not null;index" json:"kind"`
	Payload  string     `gorm:"type:text" json:"payload"`
	QueuedAt time.Time  `gorm:"not null;index" json:"queued_at"`
	SyncedAt *time.Time `gorm:"index" json:"synced_at,omitempty"`
}

// TableName returns the table name for GORM.
func (SyncItem) TableName() string {
	return "sync_queue"
}

// Pending reports whether the item has not been synced yet.
func (s *SyncItem) Pending() bool {
	return s.SyncedAt == nil
}
