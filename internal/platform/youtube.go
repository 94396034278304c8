package platform

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/go-resty/resty/v2"
)

const youtubeTitleLimit = 100

var youtubeConstraints = Constraints{
	MaxTextLength: 5000,
	VideoOnly:     true,
}

// YouTubeAdapter uploads videos with the Data API v3 resumable protocol.
type YouTubeAdapter struct {
	oauth  *oauthClient
	apiURL string
	http   *resty.Client
	logger logging.Logger
}

func NewYouTube(creds config.PlatformCredentials, logger logging.Logger) *YouTubeAdapter {
	client := newHTTPClient()
	return &YouTubeAdapter{
		oauth: &oauthClient{
			platform:     YouTube,
			creds:        creds,
			authorizeURL: rebase("https://accounts.google.com/o/oauth2/v2/auth", creds.AuthURL),
			tokenURL:     rebase("https://oauth2.googleapis.com/token", creds.AuthURL),
			revokeURL:    rebase("https://oauth2.googleapis.com/revoke", creds.AuthURL),
			scopes: []string{
				"https://www.googleapis.com/auth/youtube.upload",
				"https://www.googleapis.com/auth/youtube.readonly",
			},
			scopeSep: " ",
			http:     client,
			logger:   logger,
		},
		apiURL: rebase("https://www.googleapis.com", creds.APIBaseURL),
		http:   client,
		logger: logger,
	}
}

func (a *YouTubeAdapter) Platform() string         { return YouTube }
func (a *YouTubeAdapter) Constraints() Constraints { return youtubeConstraints }

func (a *YouTubeAdapter) AuthorizationURL(state string) string {
	return a.oauth.authorizationURL(state, map[string]string{
		"access_type":            "offline",
		"prompt":                 "consent",
		"include_granted_scopes": "true",
	})
}

func (a *YouTubeAdapter) ExchangeCode(ctx context.Context, code, _ string) (*Token, error) {
	out, err := a.oauth.exchange(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	return out.token(" "), nil
}

func (a *YouTubeAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	out, err := a.oauth.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return out.token(" "), nil
}

func (a *YouTubeAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var out struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title       string `json:"title"`
				CustomURL   string `json:"customUrl"`
				Description string `json:"description"`
				Thumbnails  struct {
					Default struct {
						URL string `json:"url"`
					} `json:"default"`
				} `json:"thumbnails"`
			} `json:"snippet"`
			// The API encodes counters as strings.
			Statistics struct {
				ViewCount       string `json:"viewCount"`
				SubscriberCount string `json:"subscriberCount"`
				VideoCount      string `json:"videoCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(map[string]string{"part": "snippet,statistics", "mine": "true"}).
		SetResult(&out).
		Get(a.apiURL + "/youtube/v3/channels")
	if cerr := classify(YouTube, resp, err); cerr != nil {
		return nil, cerr
	}
	if len(out.Items) == 0 {
		return nil, errs.New(errs.NotFound, "the account has no YouTube channel").On("platform", YouTube)
	}

	ch := out.Items[0]
	return &Profile{
		ExternalAccountID: ch.ID,
		DisplayName:       ch.Snippet.Title,
		Username:          ch.Snippet.CustomURL,
		AvatarURL:         ch.Snippet.Thumbnails.Default.URL,
		Followers:         parseCount(ch.Statistics.SubscriberCount),
		PostCount:         parseCount(ch.Statistics.VideoCount),
		Extra: map[string]any{
			"view_count":  parseCount(ch.Statistics.ViewCount),
			"description": ch.Snippet.Description,
		},
	}, nil
}

func (a *YouTubeAdapter) Publish(ctx context.Context, accessToken, channelID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(YouTube, content, media); err != nil {
		return nil, err
	}
	data, contentType, err := fetchMedia(ctx, YouTube, media[0], 0)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "video/*"
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(map[string]string{"uploadType": "resumable", "part": "snippet,status"}).
		SetHeader("X-Upload-Content-Type", contentType).
		SetHeader("X-Upload-Content-Length", strconv.Itoa(len(data))).
		SetBody(map[string]any{
			"snippet": map[string]any{
				"title":       videoTitle(content),
				"description": content.Text,
			},
			"status": map[string]any{"privacyStatus": "public"},
		}).
		Post(a.apiURL + "/upload/youtube/v3/videos")
	if cerr := youtubeClassify(resp, err); cerr != nil {
		return nil, cerr
	}
	session := resp.Header().Get("Location")
	if session == "" {
		return nil, errs.New(errs.DeliveryFailed, "upload session has no location").On("platform", YouTube)
	}

	var video struct {
		ID string `json:"id"`
	}
	resp, err = a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		SetResult(&video).
		Put(session)
	if cerr := youtubeClassify(resp, err); cerr != nil {
		return nil, cerr
	}
	if video.ID == "" {
		return nil, errs.New(errs.DeliveryFailed, "upload finished without a video id").On("platform", YouTube)
	}

	return &Receipt{ExternalPostID: video.ID, URL: "https://www.youtube.com/watch?v=" + video.ID}, nil
}

// youtubeClassify treats quota exhaustion, reported as 403, as rate limiting.
func youtubeClassify(resp *resty.Response, err error) error {
	if err == nil && resp.StatusCode() == 403 && strings.Contains(resp.String(), "quotaExceeded") {
		return errs.New(errs.RateLimited, "daily upload quota exhausted").On("platform", YouTube).WithRetryAfter(defaultRetryAfter * 60)
	}
	return classify(YouTube, resp, err)
}

// videoTitle uses the explicit title or the first line of the text.
func videoTitle(content Content) string {
	title := strings.TrimSpace(content.Title)
	if title == "" {
		title, _, _ = strings.Cut(strings.TrimSpace(content.Text), "\n")
	}
	if title == "" {
		title = "Untitled"
	}
	if utf8.RuneCountInString(title) > youtubeTitleLimit {
		title = string([]rune(title)[:youtubeTitleLimit])
	}
	return title
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (a *YouTubeAdapter) Revoke(ctx context.Context, accessToken string) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"token": accessToken}).
		Post(a.oauth.revokeURL)
	logRevoke(a.logger, YouTube, resp, err)
}
