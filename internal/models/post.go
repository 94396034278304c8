package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostStatus is the single lifecycle status a post holds.
type PostStatus string

const (
	PostDraft            PostStatus = "DRAFT"
	PostPendingReview    PostStatus = "PENDING_REVIEW"
	PostApproved         PostStatus = "APPROVED"
	PostRejected         PostStatus = "REJECTED"
	PostChangesRequested PostStatus = "CHANGES_REQUESTED"
	PostScheduled        PostStatus = "SCHEDULED"
	PostQueued           PostStatus = "QUEUED"
	PostPublished        PostStatus = "PUBLISHED"
	PostFailed           PostStatus = "FAILED"
)

// Outcome summarizes delivery across several targets.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeComplete Outcome = "COMPLETE"
	OutcomePartial  Outcome = "PARTIAL"
)

// MediaKind distinguishes image and video references.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaRef points at a media asset hosted elsewhere.
type MediaRef struct {
	URL      string    `json:"url"`
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mimeType,omitempty"`
}

// Post represents the posts table
type Post struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID   string     `gorm:"size:64;not null;index" json:"organizationId"`
	AuthorID         string     `gorm:"size:64;not null" json:"authorId"`
	Body             string     `gorm:"type:text" json:"body"`
	Media            []MediaRef `gorm:"type:jsonb;serializer:json" json:"media"`
	Platforms        []string   `gorm:"type:jsonb;serializer:json" json:"platforms"`
	AccountIDs       []string   `gorm:"type:jsonb;serializer:json" json:"accountIds"`
	Status           PostStatus `gorm:"size:32;not null;index" json:"status"`
	Outcome          Outcome    `gorm:"size:16" json:"outcome,omitempty"`
	ApprovalRequired bool       `gorm:"not null;default:false" json:"approvalRequired"`
	ArchivedAt       *time.Time `json:"archivedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PostDraft
	}
	return nil
}

// Schedulable reports whether the scheduler may accept the post in its current state.
func (p *Post) Schedulable() bool {
	if p.ArchivedAt != nil {
		return false
	}
	switch p.Status {
	case PostApproved, PostScheduled:
		return true
	case PostDraft:
		return !p.ApprovalRequired
	default:
		return false
	}
}

// Editable reports whether the author may still change the content.
func (p *Post) Editable() bool {
	return p.ArchivedAt == nil && (p.Status == PostDraft || p.Status == PostChangesRequested)
}
