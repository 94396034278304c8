// Package platformtest provides a scriptable adapter for tests of the
// packages that drive platform adapters.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/platform"
)

// PublishCall records one Publish invocation.
type PublishCall struct {
	AccessToken       string
	ExternalAccountID string
	Content           platform.Content
	Media             []models.MediaRef
}

// Fake implements platform.Adapter. Unset hooks succeed with canned values.
type Fake struct {
	Tag    string
	Limits platform.Constraints

	OnExchange func(code string) (*platform.Token, error)
	OnRefresh  func(refreshToken string) (*platform.Token, error)
	OnProfile  func(accessToken string) (*platform.Profile, error)
	OnPublish  func(call PublishCall, n int) (*platform.Receipt, error)

	mu        sync.Mutex
	publishes []PublishCall
	refreshes int
	revoked   []string
}

func New(tag string) *Fake {
	return &Fake{
		Tag:    tag,
		Limits: platform.Constraints{MaxTextLength: 1000, MaxMedia: 4, AllowedKinds: []models.MediaKind{models.MediaImage, models.MediaVideo}},
	}
}

func (f *Fake) Platform() string                  { return f.Tag }
func (f *Fake) Constraints() platform.Constraints { return f.Limits }

func (f *Fake) AuthorizationURL(state string) string {
	return fmt.Sprintf("https://%s.example/oauth?state=%s", f.Tag, state)
}

func (f *Fake) ExchangeCode(_ context.Context, code, _ string) (*platform.Token, error) {
	if f.OnExchange != nil {
		return f.OnExchange(code)
	}
	return &platform.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (f *Fake) Refresh(_ context.Context, refreshToken string) (*platform.Token, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	if f.OnRefresh != nil {
		return f.OnRefresh(refreshToken)
	}
	return &platform.Token{AccessToken: "refreshed-" + refreshToken}, nil
}

func (f *Fake) FetchProfile(_ context.Context, accessToken string) (*platform.Profile, error) {
	if f.OnProfile != nil {
		return f.OnProfile(accessToken)
	}
	return &platform.Profile{ExternalAccountID: f.Tag + "-user", DisplayName: "Fake " + f.Tag, Followers: 10}, nil
}

func (f *Fake) Publish(_ context.Context, accessToken, externalAccountID string, content platform.Content, media []models.MediaRef) (*platform.Receipt, error) {
	call := PublishCall{AccessToken: accessToken, ExternalAccountID: externalAccountID, Content: content, Media: media}
	f.mu.Lock()
	f.publishes = append(f.publishes, call)
	n := len(f.publishes)
	f.mu.Unlock()
	if f.OnPublish != nil {
		return f.OnPublish(call, n)
	}
	id := fmt.Sprintf("%s-post-%d", f.Tag, n)
	return &platform.Receipt{ExternalPostID: id, URL: "https://" + f.Tag + ".example/" + id}, nil
}

func (f *Fake) Revoke(_ context.Context, accessToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, accessToken)
}

// Publishes returns the recorded publish calls.
func (f *Fake) Publishes() []PublishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PublishCall(nil), f.publishes...)
}

// Refreshes returns how often Refresh was called.
func (f *Fake) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// Revoked returns the tokens passed to Revoke.
func (f *Fake) Revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

// Registry registers the fakes behind the usual publish guard.
func Registry(fakes ...*Fake) *platform.Registry {
	r := platform.NewRegistry()
	for _, f := range fakes {
		r.Register(f, platform.GuardOptions{RequestsPerSecond: 1000})
	}
	return r
}
