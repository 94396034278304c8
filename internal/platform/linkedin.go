package platform

import (
	"context"
	"net/url"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/go-resty/resty/v2"
)

const linkedInVersion = "202405"

var linkedInConstraints = Constraints{
	MaxTextLength: 3000,
	MaxMedia:      9,
	AllowedKinds:  []models.MediaKind{models.MediaImage},
	TextRequired:  true,
}

// LinkedInAdapter posts to a member's feed through the versioned REST API.
// Images are uploaded as bytes, so the adapter downloads them first.
type LinkedInAdapter struct {
	oauth  *oauthClient
	apiURL string
	http   *resty.Client
	logger logging.Logger
}

func NewLinkedIn(creds config.PlatformCredentials, logger logging.Logger) *LinkedInAdapter {
	client := newHTTPClient()
	return &LinkedInAdapter{
		oauth: &oauthClient{
			platform:     LinkedIn,
			creds:        creds,
			authorizeURL: rebase("https://www.linkedin.com/oauth/v2/authorization", creds.AuthURL),
			tokenURL:     rebase("https://www.linkedin.com/oauth/v2/accessToken", creds.AuthURL),
			revokeURL:    rebase("https://www.linkedin.com/oauth/v2/revoke", creds.AuthURL),
			scopes:       []string{"openid", "profile", "email", "w_member_social"},
			scopeSep:     " ",
			http:         client,
			logger:       logger,
		},
		apiURL: rebase("https://api.linkedin.com", creds.APIBaseURL),
		http:   client,
		logger: logger,
	}
}

func (a *LinkedInAdapter) Platform() string         { return LinkedIn }
func (a *LinkedInAdapter) Constraints() Constraints { return linkedInConstraints }

func (a *LinkedInAdapter) AuthorizationURL(state string) string {
	return a.oauth.authorizationURL(state, nil)
}

func (a *LinkedInAdapter) ExchangeCode(ctx context.Context, code, _ string) (*Token, error) {
	out, err := a.oauth.exchange(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	return out.token(a.oauth.scopeSep), nil
}

func (a *LinkedInAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	out, err := a.oauth.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return out.token(a.oauth.scopeSep), nil
}

func (a *LinkedInAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var info struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Email   string `json:"email"`
		Locale  any    `json:"locale"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&info).
		Get(a.apiURL + "/v2/userinfo")
	if cerr := classify(LinkedIn, resp, err); cerr != nil {
		return nil, cerr
	}

	return &Profile{
		ExternalAccountID: info.Sub,
		DisplayName:       info.Name,
		AvatarURL:         info.Picture,
		Extra: map[string]any{
			"email":  info.Email,
			"locale": info.Locale,
		},
	}, nil
}

func (a *LinkedInAdapter) Publish(ctx context.Context, accessToken, memberID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(LinkedIn, content, media); err != nil {
		return nil, err
	}
	author := "urn:li:person:" + memberID

	body := map[string]any{
		"author":     author,
		"commentary": content.Text,
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}

	if len(media) > 0 {
		images := make([]string, 0, len(media))
		for i, m := range media {
			urn, err := a.uploadImage(ctx, accessToken, author, m, i)
			if err != nil {
				return nil, err
			}
			images = append(images, urn)
		}
		if len(images) == 1 {
			body["content"] = map[string]any{"media": map[string]any{"id": images[0]}}
		} else {
			list := make([]map[string]any, 0, len(images))
			for _, urn := range images {
				list = append(list, map[string]any{"id": urn})
			}
			body["content"] = map[string]any{"multiImage": map[string]any{"images": list}}
		}
	}

	resp, err := a.rest(ctx, accessToken).
		SetBody(body).
		Post(a.apiURL + "/rest/posts")
	if cerr := classify(LinkedIn, resp, err); cerr != nil {
		return nil, cerr
	}

	postURN := resp.Header().Get("X-Restli-Id")
	if postURN == "" {
		return nil, errs.New(errs.DeliveryFailed, "post created without an id").On("platform", LinkedIn)
	}
	return &Receipt{
		ExternalPostID: postURN,
		URL:            "https://www.linkedin.com/feed/update/" + url.PathEscape(postURN),
	}, nil
}

func (a *LinkedInAdapter) uploadImage(ctx context.Context, accessToken, owner string, ref models.MediaRef, i int) (string, error) {
	var init struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	resp, err := a.rest(ctx, accessToken).
		SetQueryParam("action", "initializeUpload").
		SetBody(map[string]any{"initializeUploadRequest": map[string]any{"owner": owner}}).
		SetResult(&init).
		Post(a.apiURL + "/rest/images")
	if cerr := classify(LinkedIn, resp, err); cerr != nil {
		return "", cerr
	}

	data, contentType, err := fetchMedia(ctx, LinkedIn, ref, linkedInConstraints.MaxImageMegapixels)
	if err != nil {
		return "", err
	}

	resp, err = a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put(init.Value.UploadURL)
	if cerr := classify(LinkedIn, resp, err); cerr != nil {
		return "", cerr
	}

	a.logger.WithFields(logging.Fields{
		"platform": LinkedIn,
		"image":    init.Value.Image,
		"file":     fileName(ref, i),
	}).Debug("Uploaded image")
	return init.Value.Image, nil
}

func (a *LinkedInAdapter) rest(ctx context.Context, accessToken string) *resty.Request {
	return a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("LinkedIn-Version", linkedInVersion).
		SetHeader("X-Restli-Protocol-Version", "2.0.0")
}

func (a *LinkedInAdapter) Revoke(ctx context.Context, accessToken string) {
	a.oauth.revoke(ctx, accessToken)
}
