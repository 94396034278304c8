package platform

import (
	"context"
	"strings"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/go-resty/resty/v2"
)

var tiktokConstraints = Constraints{
	MaxTextLength: 2200,
	VideoOnly:     true,
}

// TikTokAdapter uses the Content Posting API with PULL_FROM_URL, so TikTok
// downloads the video itself. The media host must be verified with TikTok.
type TikTokAdapter struct {
	oauth  *oauthClient
	apiURL string
	http   *resty.Client
	logger logging.Logger
}

func NewTikTok(creds config.PlatformCredentials, logger logging.Logger) *TikTokAdapter {
	client := newHTTPClient()
	apiURL := rebase("https://open.tiktokapis.com", creds.APIBaseURL)
	return &TikTokAdapter{
		oauth: &oauthClient{
			platform:      TikTok,
			creds:         creds,
			authorizeURL:  rebase("https://www.tiktok.com/v2/auth/authorize/", creds.AuthURL),
			tokenURL:      apiURL + "/v2/oauth/token/",
			revokeURL:     apiURL + "/v2/oauth/revoke/",
			scopes:        []string{"user.info.basic", "user.info.stats", "video.publish"},
			scopeSep:      ",",
			clientIDParam: "client_key",
			http:          client,
			logger:        logger,
		},
		apiURL: apiURL,
		http:   client,
		logger: logger,
	}
}

func (a *TikTokAdapter) Platform() string         { return TikTok }
func (a *TikTokAdapter) Constraints() Constraints { return tiktokConstraints }

func (a *TikTokAdapter) AuthorizationURL(state string) string {
	return a.oauth.authorizationURL(state, nil)
}

func (a *TikTokAdapter) ExchangeCode(ctx context.Context, code, _ string) (*Token, error) {
	out, err := a.oauth.exchange(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	return out.token(","), nil
}

func (a *TikTokAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	out, err := a.oauth.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return out.token(","), nil
}

// tiktokError is embedded in every TikTok response, even successful ones.
type tiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e tiktokError) err() error {
	switch e.Code {
	case "", "ok":
		return nil
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_too_many_pending_share":
		return errs.New(errs.RateLimited, "%s: %s", e.Code, e.Message).On("platform", TikTok).WithRetryAfter(defaultRetryAfter)
	case "access_token_invalid", "scope_not_authorized", "scope_permission_missed":
		return errs.New(errs.Forbidden, "%s: %s", e.Code, e.Message).On("platform", TikTok)
	default:
		return errs.New(errs.DeliveryFailed, "%s: %s", e.Code, e.Message).On("platform", TikTok)
	}
}

func (a *TikTokAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var out struct {
		Data struct {
			User struct {
				OpenID         string `json:"open_id"`
				UnionID        string `json:"union_id"`
				DisplayName    string `json:"display_name"`
				AvatarURL      string `json:"avatar_url"`
				FollowerCount  int64  `json:"follower_count"`
				FollowingCount int64  `json:"following_count"`
				LikesCount     int64  `json:"likes_count"`
				VideoCount     int64  `json:"video_count"`
			} `json:"user"`
		} `json:"data"`
		Error tiktokError `json:"error"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("fields", "open_id,union_id,display_name,avatar_url,follower_count,following_count,likes_count,video_count").
		SetResult(&out).
		SetError(&out).
		Get(a.apiURL + "/v2/user/info/")
	if err := a.check(resp, err, out.Error); err != nil {
		return nil, err
	}

	u := out.Data.User
	return &Profile{
		ExternalAccountID: u.OpenID,
		DisplayName:       u.DisplayName,
		AvatarURL:         u.AvatarURL,
		Followers:         u.FollowerCount,
		Following:         u.FollowingCount,
		PostCount:         u.VideoCount,
		Extra: map[string]any{
			"likes_count": u.LikesCount,
			"union_id":    u.UnionID,
		},
	}, nil
}

func (a *TikTokAdapter) Publish(ctx context.Context, accessToken, externalAccountID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(TikTok, content, media); err != nil {
		return nil, err
	}
	title := content.Title
	if title == "" {
		title = content.Text
	}

	var out struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
		Error tiktokError `json:"error"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]any{
			"post_info": map[string]any{
				"title":         strings.TrimSpace(title),
				"privacy_level": "PUBLIC_TO_EVERYONE",
			},
			"source_info": map[string]any{
				"source":    "PULL_FROM_URL",
				"video_url": media[0].URL,
			},
		}).
		SetResult(&out).
		SetError(&out).
		Post(a.apiURL + "/v2/post/publish/video/init/")
	if err := a.check(resp, err, out.Error); err != nil {
		return nil, err
	}
	if out.Data.PublishID == "" {
		return nil, errs.New(errs.DeliveryFailed, "publish accepted without a publish id").On("platform", TikTok)
	}

	// TikTok assigns the public video id asynchronously; the publish id is
	// what its status endpoint understands.
	return &Receipt{ExternalPostID: out.Data.PublishID}, nil
}

func (a *TikTokAdapter) check(resp *resty.Response, err error, apiErr tiktokError) error {
	if err != nil {
		return classify(TikTok, resp, err)
	}
	if e := apiErr.err(); e != nil {
		return e
	}
	return classify(TikTok, resp, nil)
}

func (a *TikTokAdapter) Revoke(ctx context.Context, accessToken string) {
	a.oauth.revoke(ctx, accessToken)
}
