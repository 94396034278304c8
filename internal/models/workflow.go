package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkflowStatus is the state of an approval workflow instance.
type WorkflowStatus string

const (
	WorkflowPendingReview    WorkflowStatus = "PENDING_REVIEW"
	WorkflowApproved         WorkflowStatus = "APPROVED"
	WorkflowRejected         WorkflowStatus = "REJECTED"
	WorkflowChangesRequested WorkflowStatus = "CHANGES_REQUESTED"
)

// Terminal reports whether no further approval action is accepted.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected
}

// Action is an approver's decision on the current step.
type Action string

const (
	ActionApprove        Action = "APPROVE"
	ActionReject         Action = "REJECT"
	ActionRequestChanges Action = "REQUEST_CHANGES"
	ActionComment        Action = "COMMENT"
	ActionCreated        Action = "CREATED"
	ActionResubmitted    Action = "RESUBMITTED"
)

// Valid reports whether a is one of the actions an approver may submit.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionRequestChanges, ActionComment:
		return true
	}
	return false
}

// StepDefinition is one step of a reusable workflow template.
type StepDefinition struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Required bool   `json:"required"`
}

// WorkflowStep is a step of a running workflow with its decision.
type WorkflowStep struct {
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	Required  bool       `json:"required"`
	Decision  string     `json:"decision,omitempty"`
	DecidedBy string     `json:"decidedBy,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

// WorkflowConfig represents the workflow_configs table
type WorkflowConfig struct {
	ID               string           `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID   string           `gorm:"size:64;not null;uniqueIndex:idx_workflow_config_org_name" json:"organizationId"`
	Name             string           `gorm:"size:100;not null;uniqueIndex:idx_workflow_config_org_name" json:"name"`
	Steps            []StepDefinition `gorm:"type:jsonb;serializer:json" json:"steps"`
	AutoPublish      bool             `gorm:"not null;default:false" json:"autoPublish"`
	NotifyOnSubmit   bool             `gorm:"not null;default:false" json:"notifyOnSubmit"`
	NotifyOnDecision bool             `gorm:"not null;default:false" json:"notifyOnDecision"`
	IsDefault        bool             `gorm:"not null;default:false" json:"isDefault"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func (c *WorkflowConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// WorkflowInstance represents the workflow_instances table
type WorkflowInstance struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	PostID           string         `gorm:"size:36;not null;uniqueIndex" json:"postId"`
	OrganizationID   string         `gorm:"size:64;not null;index" json:"organizationId"`
	ConfigID         *string        `gorm:"size:36" json:"configId,omitempty"`
	WorkflowType     string         `gorm:"size:100" json:"workflowType"`
	Steps            []WorkflowStep `gorm:"type:jsonb;serializer:json" json:"steps"`
	CurrentStep      int            `gorm:"not null;default:0" json:"currentStep"`
	Status           WorkflowStatus `gorm:"size:32;not null;index" json:"status"`
	AutoPublish      bool           `gorm:"not null;default:false" json:"autoPublish"`
	NotifyOnSubmit   bool           `gorm:"not null;default:false" json:"notifyOnSubmit"`
	NotifyOnDecision bool           `gorm:"not null;default:false" json:"notifyOnDecision"`
	SubmittedBy      string         `gorm:"size:64" json:"submittedBy"`
	Version          int            `gorm:"not null;default:0" json:"version"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func (w *WorkflowInstance) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// Current returns the active step, or nil once the index ran past the last step.
func (w *WorkflowInstance) Current() *WorkflowStep {
	if w.CurrentStep < 0 || w.CurrentStep >= len(w.Steps) {
		return nil
	}
	return &w.Steps[w.CurrentStep]
}

// WorkflowActivity represents the workflow_activities table. Rows are append-only.
type WorkflowActivity struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkflowID string         `gorm:"size:36;not null;index" json:"workflowId"`
	PostID     string         `gorm:"size:36;not null" json:"postId"`
	UserID     string         `gorm:"size:64" json:"userId"`
	Action     Action         `gorm:"size:32;not null" json:"action"`
	StepIndex  int            `json:"stepIndex"`
	Comment    string         `gorm:"type:text" json:"comment,omitempty"`
	Changes    map[string]any `gorm:"type:jsonb;serializer:json" json:"changes,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
