// Package platform adapts each social network behind one contract: OAuth code
// exchange, token refresh, profile retrieval, publishing and revocation.
package platform

import (
	"context"
	"time"

	"github.com/creatorstation/publisher/internal/models"
)

// Platform tags.
const (
	Instagram = "instagram"
	Facebook  = "facebook"
	LinkedIn  = "linkedin"
	X         = "x"
	TikTok    = "tiktok"
	YouTube   = "youtube"
	Telegram  = "telegram"
)

// Token is the result of a code exchange or refresh. ExternalAccountID is
// filled when the platform returns it with the token.
type Token struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	Scopes            []string
	ExternalAccountID string
}

// Profile is the normalized account profile. Extra carries platform-specific
// fields that have no common counterpart.
type Profile struct {
	ExternalAccountID string
	DisplayName       string
	Username          string
	AvatarURL         string
	Followers         int64
	Following         int64
	PostCount         int64
	Extra             map[string]any
}

// Content is the text part of a publish request.
type Content struct {
	Text  string
	Title string
}

// Receipt identifies the published item on the platform.
type Receipt struct {
	ExternalPostID string
	URL            string
}

// Adapter is implemented once per platform.
type Adapter interface {
	Platform() string
	Constraints() Constraints
	AuthorizationURL(state string) string
	// ExchangeCode receives the state the consent URL was built with.
	ExchangeCode(ctx context.Context, code, state string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
	Publish(ctx context.Context, accessToken, externalAccountID string, content Content, media []models.MediaRef) (*Receipt, error)
	// Revoke is best effort: failures are logged, never returned.
	Revoke(ctx context.Context, accessToken string)
}

func expiresIn(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(time.Duration(seconds) * time.Second)
	return &t
}
