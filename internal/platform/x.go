package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/go-resty/resty/v2"
)

var xConstraints = Constraints{
	MaxTextLength:      280,
	MaxMedia:           4,
	AllowedKinds:       []models.MediaKind{models.MediaImage},
	MaxImageMegapixels: 5,
}

// XAdapter posts through the X API v2 as a confidential OAuth 2.0 client.
// X insists on PKCE; each linking attempt gets its own verifier, keyed from
// the client secret and the OAuth state, so the callback can rebuild it
// without server-side session state. Only its S256 challenge leaves the server.
type XAdapter struct {
	oauth  *oauthClient
	apiURL string
	http   *resty.Client
	logger logging.Logger
}

func NewX(creds config.PlatformCredentials, logger logging.Logger) *XAdapter {
	client := newHTTPClient()
	apiURL := rebase("https://api.x.com", creds.APIBaseURL)
	return &XAdapter{
		oauth: &oauthClient{
			platform:     X,
			creds:        creds,
			authorizeURL: rebase("https://x.com/i/oauth2/authorize", creds.AuthURL),
			tokenURL:     apiURL + "/2/oauth2/token",
			revokeURL:    apiURL + "/2/oauth2/revoke",
			scopes:       []string{"tweet.read", "tweet.write", "users.read", "media.write", "offline.access"},
			scopeSep:     " ",
			basicAuth:    true,
			http:         client,
			logger:       logger,
		},
		apiURL: apiURL,
		http:   client,
		logger: logger,
	}
}

func (a *XAdapter) Platform() string         { return X }
func (a *XAdapter) Constraints() Constraints { return xConstraints }

func (a *XAdapter) AuthorizationURL(state string) string {
	return a.oauth.authorizationURL(state, map[string]string{
		"code_challenge":        pkceChallenge(a.pkceVerifier(state)),
		"code_challenge_method": "S256",
	})
}

func (a *XAdapter) ExchangeCode(ctx context.Context, code, state string) (*Token, error) {
	if state == "" {
		return nil, errs.New(errs.AuthExchangeFailed, "state is required to complete the exchange").On("platform", X)
	}
	out, err := a.oauth.exchange(ctx, code, map[string]string{
		"code_verifier": a.pkceVerifier(state),
		"client_id":     a.oauth.creds.ClientID,
	})
	if err != nil {
		return nil, err
	}
	return out.token(" "), nil
}

// pkceVerifier is 43 characters of base64url, within the 43..128 PKCE allows.
func (a *XAdapter) pkceVerifier(state string) string {
	mac := hmac.New(sha256.New, []byte(a.oauth.creds.ClientSecret))
	mac.Write([]byte(state))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (a *XAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	out, err := a.oauth.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return out.token(" "), nil
}

func (a *XAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var out struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			Verified        bool   `json:"verified"`
			Description     string `json:"description"`
			PublicMetrics   struct {
				FollowersCount int64 `json:"followers_count"`
				FollowingCount int64 `json:"following_count"`
				TweetCount     int64 `json:"tweet_count"`
				ListedCount    int64 `json:"listed_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("user.fields", "profile_image_url,public_metrics,verified,description").
		SetResult(&out).
		Get(a.apiURL + "/2/users/me")
	if cerr := classify(X, resp, err); cerr != nil {
		return nil, cerr
	}

	u := out.Data
	return &Profile{
		ExternalAccountID: u.ID,
		DisplayName:       u.Name,
		Username:          u.Username,
		AvatarURL:         u.ProfileImageURL,
		Followers:         u.PublicMetrics.FollowersCount,
		Following:         u.PublicMetrics.FollowingCount,
		PostCount:         u.PublicMetrics.TweetCount,
		Extra: map[string]any{
			"verified":     u.Verified,
			"listed_count": u.PublicMetrics.ListedCount,
			"description":  u.Description,
		},
	}, nil
}

func (a *XAdapter) Publish(ctx context.Context, accessToken, externalAccountID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(X, content, media); err != nil {
		return nil, err
	}
	body := map[string]any{"text": content.Text}

	if len(media) > 0 {
		ids := make([]string, 0, len(media))
		for i, m := range media {
			id, err := a.upload(ctx, accessToken, m, i)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		body["media"] = map[string]any{"media_ids": ids}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(body).
		SetResult(&out).
		Post(a.apiURL + "/2/tweets")
	if cerr := classify(X, resp, err); cerr != nil {
		return nil, cerr
	}
	if out.Data.ID == "" {
		return nil, errs.New(errs.DeliveryFailed, "post created without an id").On("platform", X)
	}

	return &Receipt{ExternalPostID: out.Data.ID, URL: "https://x.com/i/web/status/" + out.Data.ID}, nil
}

func (a *XAdapter) upload(ctx context.Context, accessToken string, ref models.MediaRef, i int) (string, error) {
	data, _, err := fetchMedia(ctx, X, ref, xConstraints.MaxImageMegapixels)
	if err != nil {
		return "", err
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetFileReader("media", fileName(ref, i), bytes.NewReader(data)).
		SetFormData(map[string]string{"media_category": "tweet_image"}).
		SetResult(&out).
		Post(a.apiURL + "/2/media/upload")
	if cerr := classify(X, resp, err); cerr != nil {
		return "", cerr
	}
	if out.Data.ID == "" {
		return "", errs.New(errs.DeliveryFailed, "media upload returned no id").On("platform", X)
	}
	return out.Data.ID, nil
}

func (a *XAdapter) Revoke(ctx context.Context, accessToken string) {
	a.oauth.revoke(ctx, accessToken)
}
