package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/go-resty/resty/v2"
)

var facebookConstraints = Constraints{
	MaxTextLength: 63206,
	MaxMedia:      10,
	AllowedKinds:  []models.MediaKind{models.MediaImage, models.MediaVideo},
	TextRequired:  false,
}

// FacebookAdapter publishes to a Facebook Page. The code exchange trades the
// user token for a long-lived one and then for the token of the first page
// the user manages; page tokens obtained this way do not expire.
type FacebookAdapter struct {
	oauth  *oauthClient
	apiURL string
	http   *resty.Client
	logger logging.Logger
}

func NewFacebook(creds config.PlatformCredentials, logger logging.Logger) *FacebookAdapter {
	client := newHTTPClient()
	apiURL := rebase("https://graph.facebook.com/v21.0", creds.APIBaseURL)
	return &FacebookAdapter{
		oauth: &oauthClient{
			platform:     Facebook,
			creds:        creds,
			authorizeURL: rebase("https://www.facebook.com/v21.0/dialog/oauth", creds.AuthURL),
			tokenURL:     apiURL + "/oauth/access_token",
			scopes:       []string{"pages_show_list", "pages_manage_posts", "pages_read_engagement"},
			scopeSep:     ",",
			http:         client,
			logger:       logger,
		},
		apiURL: apiURL,
		http:   client,
		logger: logger,
	}
}

func (a *FacebookAdapter) Platform() string         { return Facebook }
func (a *FacebookAdapter) Constraints() Constraints { return facebookConstraints }

func (a *FacebookAdapter) AuthorizationURL(state string) string {
	return a.oauth.authorizationURL(state, nil)
}

type facebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

func (a *FacebookAdapter) ExchangeCode(ctx context.Context, code, _ string) (*Token, error) {
	short, err := a.oauth.exchange(ctx, code, nil)
	if err != nil {
		return nil, err
	}

	var long tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         a.oauth.creds.ClientID,
			"client_secret":     a.oauth.creds.ClientSecret,
			"fb_exchange_token": short.AccessToken,
		}).
		SetResult(&long).
		Get(a.apiURL + "/oauth/access_token")
	if err != nil || resp.IsError() || long.AccessToken == "" {
		return nil, errs.Wrap(errs.AuthExchangeFailed, graphClassify(Facebook, resp, err), "long-lived token exchange failed").On("platform", Facebook)
	}

	var pages struct {
		Data []facebookPage `json:"data"`
	}
	resp, err = a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "id,name,access_token",
			"access_token": long.AccessToken,
		}).
		SetResult(&pages).
		Get(a.apiURL + "/me/accounts")
	if cerr := graphClassify(Facebook, resp, err); cerr != nil {
		return nil, errs.Wrap(errs.AuthExchangeFailed, cerr, "listing managed pages failed").On("platform", Facebook)
	}
	if len(pages.Data) == 0 {
		return nil, errs.New(errs.AuthExchangeFailed, "the account manages no Facebook page").On("platform", Facebook)
	}

	page := pages.Data[0]
	return &Token{
		AccessToken:       page.AccessToken,
		Scopes:            short.token(",").Scopes,
		ExternalAccountID: page.ID,
	}, nil
}

// Page tokens never expire; a rejected one needs the user to reconnect.
func (a *FacebookAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return nil, errs.New(errs.RefreshFailed, "page tokens cannot be refreshed, reconnect the page").On("platform", Facebook)
}

func (a *FacebookAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var p struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Username       string `json:"username"`
		FanCount       int64  `json:"fan_count"`
		FollowersCount int64  `json:"followers_count"`
		Category       string `json:"category"`
		Link           string `json:"link"`
		Picture        struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "id,name,username,fan_count,followers_count,category,link,picture",
			"access_token": accessToken,
		}).
		SetResult(&p).
		Get(a.apiURL + "/me")
	if cerr := graphClassify(Facebook, resp, err); cerr != nil {
		return nil, cerr
	}

	followers := p.FollowersCount
	if followers == 0 {
		followers = p.FanCount
	}
	return &Profile{
		ExternalAccountID: p.ID,
		DisplayName:       p.Name,
		Username:          p.Username,
		AvatarURL:         p.Picture.Data.URL,
		Followers:         followers,
		Extra: map[string]any{
			"category": p.Category,
			"link":     p.Link,
			"fans":     p.FanCount,
		},
	}, nil
}

func (a *FacebookAdapter) Publish(ctx context.Context, accessToken, pageID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(Facebook, content, media); err != nil {
		return nil, err
	}
	var id string
	var err error

	switch {
	case len(media) == 0:
		id, err = a.post(ctx, accessToken, "/"+pageID+"/feed", map[string]string{"message": content.Text})
	case len(media) == 1 && media[0].Kind == models.MediaVideo:
		id, err = a.post(ctx, accessToken, "/"+pageID+"/videos", map[string]string{
			"file_url":    media[0].URL,
			"description": content.Text,
		})
	case len(media) == 1:
		id, err = a.post(ctx, accessToken, "/"+pageID+"/photos", map[string]string{
			"url":     media[0].URL,
			"caption": content.Text,
		})
	default:
		id, err = a.publishAlbum(ctx, accessToken, pageID, content, media)
	}
	if err != nil {
		return nil, err
	}

	return &Receipt{ExternalPostID: id, URL: "https://www.facebook.com/" + id}, nil
}

// publishAlbum uploads every item unpublished and attaches them to one feed post.
func (a *FacebookAdapter) publishAlbum(ctx context.Context, accessToken, pageID string, content Content, media []models.MediaRef) (string, error) {
	form := map[string]string{"message": content.Text}
	for i, m := range media {
		if m.Kind == models.MediaVideo {
			return "", errs.New(errs.UnsupportedContent, "videos cannot be combined with other media").On("platform", Facebook)
		}
		photoID, err := a.post(ctx, accessToken, "/"+pageID+"/photos", map[string]string{
			"url":       m.URL,
			"published": "false",
		})
		if err != nil {
			return "", err
		}
		attached, _ := json.Marshal(map[string]string{"media_fbid": photoID})
		form[fmt.Sprintf("attached_media[%d]", i)] = string(attached)
	}
	return a.post(ctx, accessToken, "/"+pageID+"/feed", form)
}

func (a *FacebookAdapter) post(ctx context.Context, accessToken, path string, form map[string]string) (string, error) {
	form["access_token"] = accessToken
	var out graphID
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(a.apiURL + path)
	if cerr := graphClassify(Facebook, resp, err); cerr != nil {
		return "", cerr
	}
	if out.PostID != "" {
		return out.PostID, nil
	}
	if out.ID == "" {
		return "", errs.New(errs.DeliveryFailed, "no id returned by %s", path).On("platform", Facebook)
	}
	return out.ID, nil
}

func (a *FacebookAdapter) Revoke(ctx context.Context, accessToken string) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", accessToken).
		Delete(a.apiURL + "/me/permissions")
	logRevoke(a.logger, Facebook, resp, err)
}
