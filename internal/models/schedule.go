package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntryStatus is the queue state of a schedule entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryQueued    EntryStatus = "QUEUED"
	EntryPublished EntryStatus = "PUBLISHED"
	EntryFailed    EntryStatus = "FAILED"
	EntryCancelled EntryStatus = "CANCELLED"
)

// Frequency selects how a recurrence rule advances.
type Frequency string

const (
	FrequencyNone     Frequency = "none"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyInterval Frequency = "interval"
	FrequencyCron     Frequency = "cron"
)

// RecurrenceRule describes how a template repeats. Interval counts days for
// daily, weeks for weekly and seconds for interval rules.
type RecurrenceRule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval,omitempty"`
	Cron      string     `json:"cron,omitempty"`
	Count     int        `json:"count,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Recurring reports whether the rule produces more than one occurrence.
func (r *RecurrenceRule) Recurring() bool {
	return r != nil && r.Frequency != "" && r.Frequency != FrequencyNone
}

// TemplateStatus tracks whether a template still materializes occurrences.
type TemplateStatus string

const (
	TemplateActive    TemplateStatus = "ACTIVE"
	TemplateCompleted TemplateStatus = "COMPLETED"
	TemplateCancelled TemplateStatus = "CANCELLED"
)

// ScheduleTemplate represents the schedule_templates table. A template is never
// published itself; it only materializes ScheduleEntry occurrences.
type ScheduleTemplate struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	PostID         string         `gorm:"size:36;not null;index" json:"postId"`
	OrganizationID string         `gorm:"size:64;not null" json:"organizationId"`
	AccountIDs     []string       `gorm:"type:jsonb;serializer:json" json:"accountIds"`
	StartAt        time.Time      `gorm:"not null" json:"startAt"`
	Timezone       string         `gorm:"size:64;not null" json:"timezone"`
	Rule           RecurrenceRule `gorm:"type:jsonb;serializer:json" json:"rule"`
	Status         TemplateStatus `gorm:"size:16;not null;index" json:"status"`
	Materialized   int            `gorm:"not null;default:0" json:"materialized"`
	LastFireAt     *time.Time     `json:"lastFireAt,omitempty"`
	IdempotencyKey *string        `gorm:"size:128;uniqueIndex" json:"-"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (t *ScheduleTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TemplateActive
	}
	return nil
}

// ScheduleEntry represents the schedule_entries table. FireAt is the requested
// publish time; DueAt moves forward when failed targets wait for a retry.
type ScheduleEntry struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	PostID          string           `gorm:"size:36;not null;index" json:"postId"`
	OrganizationID  string           `gorm:"size:64;not null" json:"organizationId"`
	TemplateID      *string          `gorm:"size:36;uniqueIndex:idx_entry_template_occurrence,priority:1" json:"templateId,omitempty"`
	Occurrence      int              `gorm:"not null;default:0;uniqueIndex:idx_entry_template_occurrence,priority:2" json:"occurrence"`
	AccountIDs      []string         `gorm:"type:jsonb;serializer:json" json:"accountIds"`
	FireAt          time.Time        `gorm:"not null;index" json:"fireAt"`
	DueAt           time.Time        `gorm:"not null;index:idx_entry_status_due,priority:2" json:"dueAt"`
	Timezone        string           `gorm:"size:64;not null" json:"timezone"`
	Status          EntryStatus      `gorm:"size:16;not null;index:idx_entry_status_due,priority:1" json:"status"`
	Outcome         Outcome          `gorm:"size:16" json:"outcome,omitempty"`
	IdempotencyKey  *string          `gorm:"size:128;uniqueIndex" json:"-"`
	ClaimToken      string           `gorm:"size:36" json:"-"`
	LeaseExpiresAt  *time.Time       `json:"leaseExpiresAt,omitempty"`
	Rounds          int              `gorm:"not null;default:0" json:"rounds"`
	CancelRequested bool             `gorm:"not null;default:false" json:"cancelRequested"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Targets         []DeliveryTarget `gorm:"-" json:"targets,omitempty"`
}

func (e *ScheduleEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = EntryPending
	}
	if e.DueAt.IsZero() {
		e.DueAt = e.FireAt
	}
	return nil
}

// LocalFireAt renders the fire time in the entry's display timezone.
func (e *ScheduleEntry) LocalFireAt() time.Time {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return e.FireAt
	}
	return e.FireAt.In(loc)
}
