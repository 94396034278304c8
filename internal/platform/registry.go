package platform

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/metrics"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/ratelimit"
)

// Registry resolves adapters by platform tag.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter behind the publish guard.
func (r *Registry) Register(adapter Adapter, opts GuardOptions) {
	r.adapters[adapter.Platform()] = newGuarded(adapter, opts)
}

// Get returns the adapter for a platform tag.
func (r *Registry) Get(platform string) (Adapter, error) {
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, errs.New(errs.Validation, "platform %q is not configured", platform)
	}
	return adapter, nil
}

// Platforms lists the registered platform tags in order.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// BuildRegistry constructs an adapter for every configured platform.
func BuildRegistry(cfg config.Platforms, logger logging.Logger, m *metrics.Metrics) (*Registry, error) {
	r := NewRegistry()
	guard := func(rps int) GuardOptions {
		return GuardOptions{RequestsPerSecond: rps, Logger: logger, Metrics: m}
	}

	if cfg.Instagram.Enabled() {
		r.Register(NewInstagram(cfg.Instagram, logger), guard(cfg.Instagram.RequestsPerSecond))
	}
	if cfg.Facebook.Enabled() {
		r.Register(NewFacebook(cfg.Facebook, logger), guard(cfg.Facebook.RequestsPerSecond))
	}
	if cfg.LinkedIn.Enabled() {
		r.Register(NewLinkedIn(cfg.LinkedIn, logger), guard(cfg.LinkedIn.RequestsPerSecond))
	}
	if cfg.X.Enabled() {
		r.Register(NewX(cfg.X, logger), guard(cfg.X.RequestsPerSecond))
	}
	if cfg.TikTok.Enabled() {
		r.Register(NewTikTok(cfg.TikTok, logger), guard(cfg.TikTok.RequestsPerSecond))
	}
	if cfg.YouTube.Enabled() {
		r.Register(NewYouTube(cfg.YouTube, logger), guard(cfg.YouTube.RequestsPerSecond))
	}
	if cfg.Telegram.BotToken != "" {
		tg, err := NewTelegram(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		r.Register(tg, guard(cfg.Telegram.RequestsPerSecond))
	}

	if len(r.adapters) == 0 {
		logger.Warn("No platform credentials configured; publishing will fail for every target")
	}
	return r, nil
}

// GuardOptions tunes the wrapper every registered adapter runs behind.
type GuardOptions struct {
	RequestsPerSecond int
	// FailureThreshold consecutive delivery failures open the breaker for BreakerDelay.
	FailureThreshold uint
	BreakerDelay     time.Duration
	Logger           logging.Logger
	Metrics          *metrics.Metrics
}

// guarded enforces the content constraints before any network call, paces
// outbound requests and trips a circuit breaker when a platform keeps failing.
type guarded struct {
	Adapter
	limiter ratelimit.Limiter
	breaker circuitbreaker.CircuitBreaker[*Receipt]
	metrics *metrics.Metrics
}

func newGuarded(adapter Adapter, opts GuardOptions) *guarded {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.BreakerDelay == 0 {
		opts.BreakerDelay = 30 * time.Second
	}

	builder := circuitbreaker.NewBuilder[*Receipt]().
		HandleIf(func(_ *Receipt, err error) bool {
			kind := errs.KindOf(err)
			return kind == errs.DeliveryFailed || kind == errs.Internal
		}).
		WithFailureThreshold(opts.FailureThreshold).
		WithDelay(opts.BreakerDelay).
		WithSuccessThreshold(1)
	if opts.Logger != nil {
		platform := adapter.Platform()
		logger := opts.Logger
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"platform":   platform,
				"from_state": stateName(event.OldState),
				"to_state":   stateName(event.NewState),
			}).Warn("circuit breaker state change")
		})
	}

	return &guarded{
		Adapter: adapter,
		limiter: ratelimit.New(opts.RequestsPerSecond),
		breaker: builder.Build(),
		metrics: opts.Metrics,
	}
}

func (g *guarded) Publish(ctx context.Context, accessToken, externalAccountID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := g.Constraints().Check(g.Platform(), content, media); err != nil {
		return nil, err
	}

	g.limiter.Take()
	started := time.Now()
	receipt, err := failsafe.With[*Receipt](g.breaker).Get(func() (*Receipt, error) {
		return g.Adapter.Publish(ctx, accessToken, externalAccountID, content, media)
	})
	g.metrics.ObservePublish(g.Platform(), started)

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, errs.Wrap(errs.DeliveryFailed, err, "platform temporarily unavailable").On("platform", g.Platform())
	}
	return receipt, err
}

func (g *guarded) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	g.limiter.Take()
	token, err := g.Adapter.Refresh(ctx, refreshToken)
	g.metrics.Refresh(g.Platform(), err == nil)
	return token, err
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
