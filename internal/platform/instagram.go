package platform

import (
	"context"
	"strings"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/go-resty/resty/v2"
)

var instagramConstraints = Constraints{
	MaxTextLength: 2200,
	MinMedia:      1,
	MaxMedia:      10,
	AllowedKinds:  []models.MediaKind{models.MediaImage, models.MediaVideo},
}

// InstagramAdapter publishes to Instagram professional accounts through the
// Instagram Graph API. Long-lived tokens are refreshed in place, so the
// stored refresh token is the access token itself.
type InstagramAdapter struct {
	oauth        *oauthClient
	apiRoot      string
	apiURL       string
	http         *resty.Client
	logger       logging.Logger
	pollInterval time.Duration
	pollAttempts int
}

func NewInstagram(creds config.PlatformCredentials, logger logging.Logger) *InstagramAdapter {
	client := newHTTPClient()
	apiRoot := rebase("https://graph.instagram.com", creds.APIBaseURL)
	return &InstagramAdapter{
		oauth: &oauthClient{
			platform:     Instagram,
			creds:        creds,
			authorizeURL: rebase("https://www.instagram.com/oauth/authorize", creds.AuthURL),
			tokenURL:     rebase("https://api.instagram.com/oauth/access_token", creds.AuthURL),
			scopes:       []string{"instagram_business_basic", "instagram_business_content_publish"},
			scopeSep:     ",",
			http:         client,
			logger:       logger,
		},
		apiRoot:      apiRoot,
		apiURL:       apiRoot + "/v21.0",
		http:         client,
		logger:       logger,
		pollInterval: 3 * time.Second,
		pollAttempts: 20,
	}
}

func (a *InstagramAdapter) Platform() string         { return Instagram }
func (a *InstagramAdapter) Constraints() Constraints { return instagramConstraints }

func (a *InstagramAdapter) AuthorizationURL(state string) string {
	return a.oauth.authorizationURL(state, nil)
}

func (a *InstagramAdapter) ExchangeCode(ctx context.Context, code, _ string) (*Token, error) {
	short, err := a.oauth.exchange(ctx, code, nil)
	if err != nil {
		return nil, err
	}

	var long tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":    "ig_exchange_token",
			"client_secret": a.oauth.creds.ClientSecret,
			"access_token":  short.AccessToken,
		}).
		SetResult(&long).
		Get(a.apiRoot + "/access_token")
	if err != nil {
		return nil, errs.Wrap(errs.AuthExchangeFailed, err, "long-lived token exchange failed").On("platform", Instagram)
	}
	if resp.IsError() || long.AccessToken == "" {
		return nil, errs.New(errs.AuthExchangeFailed, "long-lived token exchange answered %s", resp.Status()).On("platform", Instagram)
	}

	token := long.token(",")
	token.RefreshToken = long.AccessToken
	token.Scopes = short.token(",").Scopes
	return token, nil
}

func (a *InstagramAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, errs.New(errs.RefreshFailed, "no long-lived token stored").On("platform", Instagram)
	}
	var out tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":   "ig_refresh_token",
			"access_token": refreshToken,
		}).
		SetResult(&out).
		Get(a.apiRoot + "/refresh_access_token")
	if err != nil {
		return nil, errs.Wrap(errs.RefreshFailed, err, "refresh request failed").On("platform", Instagram)
	}
	if resp.IsError() || out.AccessToken == "" {
		return nil, errs.New(errs.RefreshFailed, "refresh answered %s", resp.Status()).On("platform", Instagram)
	}
	token := out.token(",")
	token.RefreshToken = out.AccessToken
	return token, nil
}

type instagramProfile struct {
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	AccountType       string `json:"account_type"`
	ProfilePictureURL string `json:"profile_picture_url"`
	FollowersCount    int64  `json:"followers_count"`
	FollowsCount      int64  `json:"follows_count"`
	MediaCount        int64  `json:"media_count"`
}

func (a *InstagramAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var p instagramProfile
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "user_id,username,name,account_type,profile_picture_url,followers_count,follows_count,media_count",
			"access_token": accessToken,
		}).
		SetResult(&p).
		Get(a.apiURL + "/me")
	if cerr := graphClassify(Instagram, resp, err); cerr != nil {
		return nil, cerr
	}

	name := p.Name
	if name == "" {
		name = p.Username
	}
	return &Profile{
		ExternalAccountID: p.UserID,
		DisplayName:       name,
		Username:          p.Username,
		AvatarURL:         p.ProfilePictureURL,
		Followers:         p.FollowersCount,
		Following:         p.FollowsCount,
		PostCount:         p.MediaCount,
		Extra:             map[string]any{"account_type": p.AccountType},
	}, nil
}

func (a *InstagramAdapter) Publish(ctx context.Context, accessToken, externalAccountID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(Instagram, content, media); err != nil {
		return nil, err
	}
	var containerID string
	var err error

	if len(media) == 1 {
		containerID, err = a.createContainer(ctx, accessToken, externalAccountID, media[0], content.Text, false)
	} else {
		children := make([]string, 0, len(media))
		for _, m := range media {
			child, err := a.createContainer(ctx, accessToken, externalAccountID, m, "", true)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		containerID, err = a.post(ctx, accessToken, "/"+externalAccountID+"/media", map[string]string{
			"media_type": "CAROUSEL",
			"children":   strings.Join(children, ","),
			"caption":    content.Text,
		})
	}
	if err != nil {
		return nil, err
	}

	if hasVideo(media) {
		if err := a.waitReady(ctx, accessToken, containerID); err != nil {
			return nil, err
		}
	}

	mediaID, err := a.post(ctx, accessToken, "/"+externalAccountID+"/media_publish", map[string]string{
		"creation_id": containerID,
	})
	if err != nil {
		return nil, err
	}

	return &Receipt{ExternalPostID: mediaID, URL: a.permalink(ctx, accessToken, mediaID)}, nil
}

func (a *InstagramAdapter) createContainer(ctx context.Context, accessToken, userID string, ref models.MediaRef, caption string, carouselItem bool) (string, error) {
	form := map[string]string{}
	if ref.Kind == models.MediaVideo {
		form["video_url"] = ref.URL
		form["media_type"] = "REELS"
		if carouselItem {
			form["media_type"] = "VIDEO"
		}
	} else {
		form["image_url"] = ref.URL
	}
	if carouselItem {
		form["is_carousel_item"] = "true"
	} else {
		form["caption"] = caption
	}
	return a.post(ctx, accessToken, "/"+userID+"/media", form)
}

func (a *InstagramAdapter) post(ctx context.Context, accessToken, path string, form map[string]string) (string, error) {
	form["access_token"] = accessToken
	var out graphID
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(a.apiURL + path)
	if cerr := graphClassify(Instagram, resp, err); cerr != nil {
		return "", cerr
	}
	if out.ID == "" {
		return "", errs.New(errs.DeliveryFailed, "no id returned by %s", path).On("platform", Instagram)
	}
	return out.ID, nil
}

// waitReady polls a video container until Instagram finished processing it.
func (a *InstagramAdapter) waitReady(ctx context.Context, accessToken, containerID string) error {
	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		var status struct {
			StatusCode string `json:"status_code"`
		}
		resp, err := a.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"fields": "status_code", "access_token": accessToken}).
			SetResult(&status).
			Get(a.apiURL + "/" + containerID)
		if cerr := graphClassify(Instagram, resp, err); cerr != nil {
			return cerr
		}

		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return errs.New(errs.DeliveryFailed, "media container %s ended in %s", containerID, status.StatusCode).On("platform", Instagram)
		}

		select {
		case <-ctx.Done():
			return errs.Wrap(errs.DeliveryFailed, ctx.Err(), "waiting for media processing").On("platform", Instagram)
		case <-time.After(a.pollInterval):
		}
	}
	return errs.New(errs.DeliveryFailed, "media container %s still processing", containerID).On("platform", Instagram)
}

func (a *InstagramAdapter) permalink(ctx context.Context, accessToken, mediaID string) string {
	var out struct {
		Permalink string `json:"permalink"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"fields": "permalink", "access_token": accessToken}).
		SetResult(&out).
		Get(a.apiURL + "/" + mediaID)
	if err != nil || resp.IsError() {
		a.logger.WithField("media_id", mediaID).Debug("Instagram permalink unavailable")
		return ""
	}
	return out.Permalink
}

// Instagram tokens cannot be revoked through the API; disconnecting only
// forgets them locally.
func (a *InstagramAdapter) Revoke(ctx context.Context, accessToken string) {
	a.logger.WithField("platform", Instagram).Info("Instagram has no token revocation endpoint; dropping token locally")
}
