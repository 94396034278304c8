package platform

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/go-resty/resty/v2"
)

const defaultRetryAfter = time.Minute

func newHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", "creatorstation-publisher")
}

// rebase swaps the scheme and host of a platform URL for base, keeping the
// path. Tests point every adapter at an httptest server this way.
func rebase(defaultURL, base string) string {
	if base == "" {
		return defaultURL
	}
	u, err := url.Parse(defaultURL)
	if err != nil {
		return defaultURL
	}
	return strings.TrimRight(base, "/") + u.Path
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	OpenID           string `json:"open_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (t *tokenResponse) token(scopeSep string) *Token {
	var scopes []string
	if t.Scope != "" {
		for _, s := range strings.Split(t.Scope, scopeSep) {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	}
	return &Token{
		AccessToken:       t.AccessToken,
		RefreshToken:      t.RefreshToken,
		ExpiresAt:         expiresIn(t.ExpiresIn),
		Scopes:            scopes,
		ExternalAccountID: t.OpenID,
	}
}

// oauthClient implements the authorization-code flow shared by most platforms.
type oauthClient struct {
	platform      string
	creds         config.PlatformCredentials
	authorizeURL  string
	tokenURL      string
	revokeURL     string
	scopes        []string
	scopeSep      string
	clientIDParam string
	basicAuth     bool
	http          *resty.Client
	logger        logging.Logger
}

func (o *oauthClient) clientIDKey() string {
	if o.clientIDParam != "" {
		return o.clientIDParam
	}
	return "client_id"
}

func (o *oauthClient) authorizationURL(state string, extra map[string]string) string {
	q := url.Values{}
	q.Set(o.clientIDKey(), o.creds.ClientID)
	q.Set("redirect_uri", o.creds.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(o.scopes, o.scopeSep))
	q.Set("state", state)
	for k, v := range extra {
		q.Set(k, v)
	}
	return o.authorizeURL + "?" + q.Encode()
}

func (o *oauthClient) tokenRequest(ctx context.Context, form map[string]string) (*tokenResponse, *resty.Response, error) {
	var out tokenResponse
	req := o.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&out).
		SetError(&out)
	if o.basicAuth {
		req.SetBasicAuth(o.creds.ClientID, o.creds.ClientSecret)
	} else {
		form[o.clientIDKey()] = o.creds.ClientID
		form["client_secret"] = o.creds.ClientSecret
	}
	resp, err := req.SetFormData(form).Post(o.tokenURL)
	return &out, resp, err
}

func (o *oauthClient) exchange(ctx context.Context, code string, extra map[string]string) (*tokenResponse, error) {
	form := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": o.creds.RedirectURL,
	}
	for k, v := range extra {
		form[k] = v
	}
	out, resp, err := o.tokenRequest(ctx, form)
	if err != nil {
		return nil, errs.Wrap(errs.AuthExchangeFailed, err, "token request failed").On("platform", o.platform)
	}
	if resp.IsError() || out.AccessToken == "" {
		return nil, errs.New(errs.AuthExchangeFailed, "token endpoint answered %s: %s", resp.Status(), describe(out)).On("platform", o.platform)
	}
	return out, nil
}

func (o *oauthClient) refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	if refreshToken == "" {
		return nil, errs.New(errs.RefreshFailed, "no refresh token stored").On("platform", o.platform)
	}
	out, resp, err := o.tokenRequest(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, errs.Wrap(errs.RefreshFailed, err, "refresh request failed").On("platform", o.platform)
	}
	if resp.IsError() || out.AccessToken == "" {
		return nil, errs.New(errs.RefreshFailed, "token endpoint answered %s: %s", resp.Status(), describe(out)).On("platform", o.platform)
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func (o *oauthClient) revoke(ctx context.Context, token string) {
	if o.revokeURL == "" {
		return
	}
	form := map[string]string{"token": token}
	req := o.http.R().SetContext(ctx)
	if o.basicAuth {
		req.SetBasicAuth(o.creds.ClientID, o.creds.ClientSecret)
	} else {
		form[o.clientIDKey()] = o.creds.ClientID
		form["client_secret"] = o.creds.ClientSecret
	}
	resp, err := req.SetFormData(form).Post(o.revokeURL)
	logRevoke(o.logger, o.platform, resp, err)
}

func logRevoke(logger logging.Logger, platform string, resp *resty.Response, err error) {
	if err != nil {
		logger.WithError(err).WithField("platform", platform).Warn("Token revocation failed")
		return
	}
	if resp != nil && resp.IsError() {
		logger.WithFields(logging.Fields{
			"platform": platform,
			"status":   resp.StatusCode(),
		}).Warn("Token revocation rejected")
	}
}

func describe(t *tokenResponse) string {
	if t.ErrorDescription != "" {
		return t.ErrorDescription
	}
	if t.Error != "" {
		return t.Error
	}
	return "no access token in response"
}

// classify turns a failed platform call into the pipeline's error taxonomy.
// Rejections of the content itself are not retried; server-side and
// transport failures are.
func classify(platform string, resp *resty.Response, err error) error {
	if err != nil {
		return errs.Wrap(errs.DeliveryFailed, err, "request failed").On("platform", platform)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	body := truncate(resp.String(), 300)
	switch {
	case status == http.StatusTooManyRequests:
		return errs.New(errs.RateLimited, "rate limited: %s", body).
			On("platform", platform).
			WithRetryAfter(retryAfter(resp.Header(), time.Now()))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.Forbidden, "access token rejected (%d): %s", status, body).On("platform", platform)
	case status >= http.StatusInternalServerError:
		return errs.New(errs.DeliveryFailed, "platform error %d: %s", status, body).On("platform", platform)
	default:
		return errs.New(errs.DeliveryFailed, "platform rejected the request (%d): %s", status, body).On("platform", platform)
	}
}

// retryAfter reads Retry-After as seconds or an HTTP date, falling back to
// X's reset epoch header and finally to a default.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := h.Get("X-Rate-Limit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return defaultRetryAfter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
