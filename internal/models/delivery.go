package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TargetStatus is the per-account resolution of a schedule entry.
type TargetStatus string

const (
	TargetPending   TargetStatus = "PENDING"
	TargetPublished TargetStatus = "PUBLISHED"
	TargetFailed    TargetStatus = "FAILED"
	TargetCancelled TargetStatus = "CANCELLED"
)

// DeliveryTarget represents the delivery_targets table: one row per
// (schedule entry, target account).
type DeliveryTarget struct {
	ID             string       `gorm:"primaryKey;size:36" json:"id"`
	EntryID        string       `gorm:"size:36;not null;uniqueIndex:idx_target_entry_account" json:"entryId"`
	AccountID      string       `gorm:"size:36;not null;uniqueIndex:idx_target_entry_account" json:"accountId"`
	Platform       string       `gorm:"size:32" json:"platform"`
	Status         TargetStatus `gorm:"size:16;not null" json:"status"`
	Attempts       int          `gorm:"not null;default:0" json:"attempts"`
	RateLimitHits  int          `gorm:"not null;default:0" json:"rateLimitHits"`
	NextAttemptAt  time.Time    `json:"nextAttemptAt"`
	ExternalPostID string       `gorm:"size:255" json:"externalPostId,omitempty"`
	URL            string       `gorm:"size:1024" json:"url,omitempty"`
	LastErrorKind  string       `gorm:"size:32" json:"lastErrorKind,omitempty"`
	LastError      string       `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

func (t *DeliveryTarget) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TargetPending
	}
	return nil
}

// DeliveryAttempt represents the delivery_attempts table. Attempts are never
// updated or deleted.
type DeliveryAttempt struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID           string    `gorm:"size:36;not null;index" json:"entryId"`
	TargetID          string    `gorm:"size:36;not null;index" json:"targetId"`
	AccountID         string    `gorm:"size:36;not null" json:"accountId"`
	Platform          string    `gorm:"size:32" json:"platform"`
	AttemptNumber     int       `gorm:"not null" json:"attemptNumber"`
	Success           bool      `gorm:"not null" json:"success"`
	Terminal          bool      `gorm:"not null" json:"terminal"`
	ErrorKind         string    `gorm:"size:32" json:"errorKind,omitempty"`
	ErrorMessage      string    `gorm:"type:text" json:"errorMessage,omitempty"`
	RetryAfterSeconds int       `json:"retryAfterSeconds,omitempty"`
	ExternalPostID    string    `gorm:"size:255" json:"externalPostId,omitempty"`
	URL               string    `gorm:"size:1024" json:"url,omitempty"`
	AttemptedAt       time.Time `gorm:"not null" json:"attemptedAt"`
}
