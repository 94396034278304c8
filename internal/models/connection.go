package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStatus is the health of a linked external account.
type ConnectionStatus string

const (
	ConnectionActive    ConnectionStatus = "ACTIVE"
	ConnectionExpired   ConnectionStatus = "EXPIRED"
	ConnectionRevoked   ConnectionStatus = "REVOKED"
	ConnectionSuspended ConnectionStatus = "SUSPENDED"
)

// SocialAccountConnection represents the social_account_connections table
type SocialAccountConnection struct {
	ID                string           `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID    string           `gorm:"size:64;not null;uniqueIndex:idx_connection_identity" json:"organizationId"`
	Platform          string           `gorm:"size:32;not null;uniqueIndex:idx_connection_identity" json:"platform"`
	ExternalAccountID string           `gorm:"size:255;not null;uniqueIndex:idx_connection_identity" json:"externalAccountId"`
	DisplayName       string           `gorm:"size:255" json:"displayName"`
	AvatarURL         string           `gorm:"size:1024" json:"avatarUrl,omitempty"`
	AccessToken       string           `gorm:"type:text" json:"-"`
	RefreshToken      string           `gorm:"type:text" json:"-"`
	ExpiresAt         *time.Time       `json:"expiresAt,omitempty"`
	Scopes            []string         `gorm:"type:jsonb;serializer:json" json:"scopes"`
	Status            ConnectionStatus `gorm:"size:16;not null;index" json:"status"`
	Followers         int64            `json:"followers"`
	Following         int64            `json:"following"`
	PostCount         int64            `json:"postCount"`
	Extra             map[string]any   `gorm:"type:jsonb;serializer:json" json:"extra,omitempty"`
	LastSyncAt        *time.Time       `json:"lastSyncAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func (c *SocialAccountConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ConnectionActive
	}
	return nil
}

// TokenExpired reports whether the access token is unusable at now, with skew.
func (c *SocialAccountConnection) TokenExpired(now time.Time, skew time.Duration) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now.Add(skew))
}

// All lists every model for migrations.
func All() []any {
	return []any{
		&Post{},
		&WorkflowConfig{},
		&WorkflowInstance{},
		&WorkflowActivity{},
		&ScheduleTemplate{},
		&ScheduleEntry{},
		&DeliveryTarget{},
		&DeliveryAttempt{},
		&SocialAccountConnection{},
	}
}
