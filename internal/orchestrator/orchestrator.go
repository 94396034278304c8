// Package orchestrator delivers due schedule entries. Each sweep reclaims
// expired leases, extends recurring schedules, claims due entries and fans
// their targets out to the platform adapters, then folds the per-target
// results back into entry and post status.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/connections"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/events"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/metrics"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/platform"
	"github.com/creatorstation/publisher/internal/scheduler"
	"github.com/creatorstation/publisher/internal/store"
	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	// sweepBatch caps how many due entries one sweep claims.
	sweepBatch = 100
	// rateLimitPadding lands retries just after the platform's hint.
	rateLimitPadding = time.Second
)

type Orchestrator struct {
	db          *gorm.DB
	scheduler   *scheduler.Scheduler
	connections *connections.Service
	registry    *platform.Registry
	sink        events.Sink
	metrics     *metrics.Metrics
	cfg         config.Delivery
	logger      logging.Logger
	now         func() time.Time
}

func New(db *gorm.DB, sched *scheduler.Scheduler, conns *connections.Service, registry *platform.Registry, sink events.Sink, m *metrics.Metrics, cfg config.Delivery, logger logging.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxRateLimitRetries <= 0 {
		cfg.MaxRateLimitRetries = 5
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Minute
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	return &Orchestrator{
		db:          db,
		scheduler:   sched,
		connections: conns,
		registry:    registry,
		sink:        sink,
		metrics:     m,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for claims, leases and retry times.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Reclaimed int64 `json:"reclaimed"`
	Extended  int   `json:"extended"`
	Due       int   `json:"due"`
	Claimed   int   `json:"claimed"`
	Published int   `json:"published"`
	Failed    int   `json:"failed"`
	Retrying  int   `json:"retrying"`
}

// Sweep runs one pass over the queue. Entries another worker claims first
// are skipped.
func (o *Orchestrator) Sweep(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	defer o.metrics.ObserveSweep(started)

	now := o.now()
	result := &SweepResult{}

	reclaimed, err := o.scheduler.Reclaim(ctx, now)
	if err != nil {
		o.logger.WithError(err).Error("Failed to reclaim expired leases")
		sentry.CaptureException(err)
	}
	result.Reclaimed = reclaimed

	extended, err := o.scheduler.Extend(ctx, now)
	if err != nil {
		o.logger.WithError(err).Error("Failed to extend recurring schedules")
		sentry.CaptureException(err)
	}
	result.Extended = extended

	due, err := o.scheduler.DueEntries(ctx, now, sweepBatch)
	if err != nil {
		return result, err
	}
	result.Due = len(due)

	for _, candidate := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		// Each claim gets a full lease from the moment it is taken.
		entry, err := o.scheduler.Claim(ctx, candidate.ID, o.now(), o.cfg.LeaseDuration)
		if errs.Is(err, errs.Conflict) {
			continue
		}
		if err != nil {
			o.logger.WithError(err).WithField("entry_id", candidate.ID).Error("Failed to claim entry")
			continue
		}
		result.Claimed++

		delivered, err := o.deliver(ctx, entry)
		if err != nil {
			o.logger.WithError(err).WithField("entry_id", entry.ID).Error("Delivery failed")
			if errs.KindOf(err) == errs.Internal {
				sentry.CaptureException(err)
			}
			continue
		}
		switch delivered.Status {
		case models.EntryPublished:
			result.Published++
		case models.EntryFailed:
			result.Failed++
		case models.EntryPending:
			result.Retrying++
		}
	}

	if result.Claimed > 0 || result.Reclaimed > 0 {
		o.logger.WithFields(logging.Fields{
			"due":       result.Due,
			"claimed":   result.Claimed,
			"published": result.Published,
			"failed":    result.Failed,
			"retrying":  result.Retrying,
			"reclaimed": result.Reclaimed,
			"extended":  result.Extended,
		}).Info("Sweep finished")
	}
	return result, nil
}

// PublishNow schedules the post for immediate delivery on the given accounts
// (the post's own accounts when none are given) and delivers it in the
// caller's goroutine. Duplicate calls with the same key return the first entry.
func (o *Orchestrator) PublishNow(ctx context.Context, postID string, accountIDs []string, idempotencyKey string) (*models.ScheduleEntry, error) {
	post, err := store.GetPost(ctx, o.db, postID)
	if err != nil {
		return nil, err
	}
	return o.publishNow(ctx, post, accountIDs, idempotencyKey)
}

// PublishNowFor is PublishNow scoped to an organization.
func (o *Orchestrator) PublishNowFor(ctx context.Context, organizationID, postID string, accountIDs []string, idempotencyKey string) (*models.ScheduleEntry, error) {
	post, err := store.GetPost(ctx, o.db, postID)
	if err != nil {
		return nil, err
	}
	if post.OrganizationID != organizationID {
		return nil, errs.NotFoundf("post", postID)
	}
	return o.publishNow(ctx, post, accountIDs, idempotencyKey)
}

func (o *Orchestrator) publishNow(ctx context.Context, post *models.Post, accountIDs []string, idempotencyKey string) (*models.ScheduleEntry, error) {
	if len(accountIDs) == 0 {
		accountIDs = post.AccountIDs
	}
	scheduled, err := o.scheduler.ScheduleNow(ctx, post.OrganizationID, scheduler.ScheduleRequest{
		PostID:         post.ID,
		AccountIDs:     accountIDs,
		Timezone:       "UTC",
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	entry := scheduled.Entries[0]
	if entry.Status != models.EntryPending || entry.Rounds > 0 {
		// Replay of a request that already ran.
		return &entry, nil
	}

	claimed, err := o.scheduler.Claim(ctx, entry.ID, o.now(), o.cfg.LeaseDuration)
	if errs.Is(err, errs.Conflict) {
		return store.GetEntry(ctx, o.db, entry.ID)
	}
	if err != nil {
		return nil, err
	}
	return o.deliver(ctx, claimed)
}

// deliver publishes every target of a claimed entry that is due and records
// the outcome. External calls happen outside any transaction.
func (o *Orchestrator) deliver(ctx context.Context, entry *models.ScheduleEntry) (*models.ScheduleEntry, error) {
	if err := o.scheduler.Renew(ctx, entry.ID, entry.ClaimToken, o.now(), o.cfg.LeaseDuration); err != nil {
		return nil, err
	}
	post, err := store.GetPost(ctx, o.db, entry.PostID)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}
	archived := post != nil && post.ArchivedAt != nil
	if post != nil && !archived {
		moveErr := store.TransitionPost(ctx, o.db, post.ID, models.PostQueued,
			models.PostScheduled, models.PostPublished, models.PostFailed)
		if moveErr != nil && !errs.Is(moveErr, errs.InvalidTransition) {
			return nil, moveErr
		}
	}

	now := o.now()
	var due []models.DeliveryTarget
	if !entry.CancelRequested && !archived {
		for _, target := range entry.Targets {
			if target.Status == models.TargetPending && !target.NextAttemptAt.After(now) {
				due = append(due, target)
			}
		}
	}

	stopKeepAlive := o.keepAlive(ctx, entry)
	results := make([]targetResult, len(due))
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i := range due {
		g.Go(func() error {
			// A target is only sent while this worker still holds the entry.
			if err := o.scheduler.Renew(ctx, entry.ID, entry.ClaimToken, o.now(), o.cfg.LeaseDuration); err != nil {
				o.logger.WithError(err).WithFields(logging.Fields{
					"entry_id":   entry.ID,
					"account_id": due[i].AccountID,
				}).Error("Lease lost, target not sent")
				return nil
			}
			results[i] = o.attempt(ctx, post, entry, due[i])
			return nil
		})
	}
	_ = g.Wait()
	stopKeepAlive()

	for _, r := range results {
		if r.target.ID == "" {
			continue
		}
		if err := o.applyResult(ctx, r); err != nil {
			return nil, err
		}
	}
	return o.finalize(ctx, entry, post)
}

// keepAlive renews the entry's lease in the background so a single slow
// publish call does not outlive it. The returned func stops the renewals.
func (o *Orchestrator) keepAlive(ctx context.Context, entry *models.ScheduleEntry) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.LeaseDuration / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.scheduler.Renew(ctx, entry.ID, entry.ClaimToken, o.now(), o.cfg.LeaseDuration); err != nil {
					if ctx.Err() == nil {
						o.logger.WithError(err).WithField("entry_id", entry.ID).Error("Failed to renew lease")
					}
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// targetResult is the outcome of one publish call and the target state it leads to.
type targetResult struct {
	target  models.DeliveryTarget
	receipt *platform.Receipt
	err     error
	status  models.TargetStatus
	next    time.Time
	rlHit   bool
}

func (o *Orchestrator) attempt(ctx context.Context, post *models.Post, entry *models.ScheduleEntry, target models.DeliveryTarget) targetResult {
	log := o.logger.WithFields(logging.Fields{
		"entry_id":   entry.ID,
		"account_id": target.AccountID,
		"platform":   target.Platform,
		"attempt":    target.Attempts + 1,
	})

	var (
		receipt *platform.Receipt
		err     error
	)
	if post == nil {
		err = errs.NotFoundf("post", entry.PostID)
	} else {
		receipt, err = o.publishTo(ctx, post, target)
	}

	now := o.now()
	r := targetResult{target: target, receipt: receipt, err: err}
	if err == nil {
		r.status = models.TargetPublished
		log.WithField("url", receipt.URL).Info("Published")
		o.metrics.Delivery(target.Platform, "published")
	} else {
		r.status, r.next, r.rlHit = o.classify(target, err, now)
		outcome := "retry"
		if r.status == models.TargetFailed {
			outcome = "failed"
		}
		log.WithError(err).WithFields(logging.Fields{
			"kind":       errs.KindOf(err),
			"next_retry": r.next,
			"terminal":   r.status == models.TargetFailed,
		}).Warn("Publish attempt failed")
		o.metrics.Delivery(target.Platform, outcome)
	}

	record := models.DeliveryAttempt{
		EntryID:       entry.ID,
		TargetID:      target.ID,
		AccountID:     target.AccountID,
		Platform:      target.Platform,
		AttemptNumber: target.Attempts + 1,
		Success:       err == nil,
		Terminal:      r.status != models.TargetPending,
		AttemptedAt:   now,
	}
	if receipt != nil {
		record.ExternalPostID = receipt.ExternalPostID
		record.URL = receipt.URL
	}
	if err != nil {
		record.ErrorKind = string(errs.KindOf(err))
		record.ErrorMessage = err.Error()
		record.RetryAfterSeconds = int(errs.RetryAfterOf(err).Seconds())
	}
	if dbErr := o.db.WithContext(ctx).Create(&record).Error; dbErr != nil {
		log.WithError(dbErr).Error("Failed to record delivery attempt")
	}
	return r
}

// publishTo resolves the target's connection, refreshing it once if needed,
// and calls the platform adapter.
func (o *Orchestrator) publishTo(ctx context.Context, post *models.Post, target models.DeliveryTarget) (*platform.Receipt, error) {
	conn, err := store.GetConnection(ctx, o.db, target.AccountID)
	if err != nil {
		return nil, err
	}
	fresh, err := o.connections.EnsureFresh(ctx, conn)
	if err != nil {
		return nil, err
	}
	adapter, err := o.registry.Get(fresh.Platform)
	if err != nil {
		return nil, err
	}

	receipt, err := adapter.Publish(ctx, fresh.AccessToken, fresh.ExternalAccountID, platform.Content{Text: post.Body}, post.Media)
	if errs.Is(err, errs.Forbidden) {
		o.connections.MarkExpired(ctx, fresh, err)
	}
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		receipt = &platform.Receipt{}
	}
	return receipt, nil
}

// classify decides whether a failed target is retried and when. Rate-limited
// attempts wait for the platform's hint and count against their own ceiling;
// other retryable failures back off exponentially up to MaxAttempts.
func (o *Orchestrator) classify(target models.DeliveryTarget, err error, now time.Time) (models.TargetStatus, time.Time, bool) {
	kind := errs.KindOf(err)
	failures := target.Attempts + 1 - target.RateLimitHits

	if kind == errs.RateLimited {
		if target.RateLimitHits+1 > o.cfg.MaxRateLimitRetries {
			return models.TargetFailed, time.Time{}, true
		}
		wait := errs.RetryAfterOf(err)
		if wait <= 0 {
			wait = o.backoff(target.RateLimitHits + 1)
		}
		return models.TargetPending, now.Add(wait + rateLimitPadding), true
	}
	if errs.Retryable(kind) && failures < o.cfg.MaxAttempts {
		return models.TargetPending, now.Add(o.backoff(failures)), false
	}
	return models.TargetFailed, time.Time{}, false
}

// backoff returns base*2^(n-1), capped at RetryMaxDelay.
func (o *Orchestrator) backoff(n int) time.Duration {
	delay := o.cfg.RetryBaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= o.cfg.RetryMaxDelay {
			return o.cfg.RetryMaxDelay
		}
	}
	if delay > o.cfg.RetryMaxDelay {
		return o.cfg.RetryMaxDelay
	}
	return delay
}

// applyResult stores a target's new state. It is committed independently of
// the entry so a published target is never sent again, even if the lease was lost.
func (o *Orchestrator) applyResult(ctx context.Context, r targetResult) error {
	t := r.target
	t.Status = r.status
	t.Attempts++
	if r.rlHit {
		t.RateLimitHits++
	}
	if !r.next.IsZero() {
		t.NextAttemptAt = r.next
	}
	if r.receipt != nil {
		t.ExternalPostID = r.receipt.ExternalPostID
		t.URL = r.receipt.URL
		t.LastErrorKind = ""
		t.LastError = ""
	}
	if r.err != nil {
		t.LastErrorKind = string(errs.KindOf(r.err))
		t.LastError = r.err.Error()
	}

	res := o.db.WithContext(ctx).Model(&t).
		Where("status = ?", models.TargetPending).
		Select("Status", "Attempts", "RateLimitHits", "NextAttemptAt", "ExternalPostID", "URL", "LastErrorKind", "LastError").
		Updates(&t)
	if res.Error != nil {
		return fmt.Errorf("update target %s: %w", t.ID, res.Error)
	}
	return nil
}

// finalize folds target states into the entry. While any target still waits
// for a retry the entry goes back to PENDING, due at the earliest retry.
// Otherwise it closes as PUBLISHED (COMPLETE or PARTIAL), FAILED, or
// CANCELLED. The update only applies while this worker still holds the claim.
func (o *Orchestrator) finalize(ctx context.Context, claimed *models.ScheduleEntry, post *models.Post) (*models.ScheduleEntry, error) {
	var (
		entry     *models.ScheduleEntry
		published bool
		closed    bool
	)
	now := o.now()

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := store.GetEntry(ctx, tx, claimed.ID)
		if err != nil {
			return err
		}
		if current.Status != models.EntryQueued || current.ClaimToken != claimed.ClaimToken {
			return errs.New(errs.Conflict, "lease lost before delivery finished").
				On("schedule_entry", claimed.ID).
				WithCurrent(string(current.Status))
		}

		if current.CancelRequested || (post != nil && post.ArchivedAt != nil) {
			if err := tx.Model(&models.DeliveryTarget{}).
				Where("entry_id = ? AND status = ?", current.ID, models.TargetPending).
				Update("status", models.TargetCancelled).Error; err != nil {
				return fmt.Errorf("cancel targets of entry %s: %w", current.ID, err)
			}
			if current.Targets, err = store.ListTargets(ctx, tx, current.ID); err != nil {
				return err
			}
		}

		var (
			nextDue                     *time.Time
			nPublished, nFailed, nOther int
		)
		for _, t := range current.Targets {
			switch t.Status {
			case models.TargetPending:
				next := t.NextAttemptAt
				if nextDue == nil || next.Before(*nextDue) {
					nextDue = &next
				}
			case models.TargetPublished:
				nPublished++
			case models.TargetFailed:
				nFailed++
			default:
				nOther++
			}
		}

		fields := map[string]any{
			"claim_token":      "",
			"lease_expires_at": nil,
			"rounds":           gorm.Expr("rounds + 1"),
		}
		var postFields map[string]any
		if nextDue != nil {
			fields["status"] = models.EntryPending
			fields["due_at"] = *nextDue
			postFields = map[string]any{"status": models.PostScheduled}
		} else {
			closed = true
			fields["completed_at"] = now
			switch {
			case nPublished > 0:
				outcome := models.OutcomeComplete
				if nFailed > 0 || nOther > 0 {
					outcome = models.OutcomePartial
				}
				fields["status"] = models.EntryPublished
				fields["outcome"] = outcome
				postFields = map[string]any{"status": models.PostPublished, "outcome": outcome}
				published = true
			case nFailed > 0:
				fields["status"] = models.EntryFailed
				postFields = map[string]any{"status": models.PostFailed, "outcome": models.OutcomeNone}
			default:
				fields["status"] = models.EntryCancelled
				closed = false
			}
		}

		res := tx.Model(&models.ScheduleEntry{}).
			Where("id = ? AND status = ? AND claim_token = ?", current.ID, models.EntryQueued, claimed.ClaimToken).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("finalize entry %s: %w", current.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			return errs.New(errs.Conflict, "lease lost before delivery finished").On("schedule_entry", current.ID)
		}

		if post != nil {
			if postFields == nil {
				postFields = map[string]any{"status": o.idleStatus(ctx, tx, post)}
			}
			err := store.TransitionPostWith(ctx, tx, post.ID, postFields, models.PostQueued)
			if err != nil && !errs.Is(err, errs.InvalidTransition) {
				return err
			}
		}

		entry, err = store.GetEntry(ctx, tx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if closed && post != nil {
		o.announce(ctx, post, entry, published)
	}
	return entry, nil
}

// idleStatus is where a post returns when its entry was cancelled in flight.
func (o *Orchestrator) idleStatus(ctx context.Context, tx *gorm.DB, post *models.Post) models.PostStatus {
	open, err := store.HasOpenEntries(ctx, tx, post.ID)
	if err != nil || open {
		return models.PostScheduled
	}
	var active int64
	err = tx.Model(&models.ScheduleTemplate{}).
		Where("post_id = ? AND status = ?", post.ID, models.TemplateActive).
		Count(&active).Error
	if err != nil || active > 0 {
		return models.PostScheduled
	}
	if post.ApprovalRequired {
		return models.PostApproved
	}
	return models.PostDraft
}

func (o *Orchestrator) announce(ctx context.Context, post *models.Post, entry *models.ScheduleEntry, published bool) {
	targets := make([]map[string]any, 0, len(entry.Targets))
	for _, t := range entry.Targets {
		targets = append(targets, map[string]any{
			"account_id": t.AccountID,
			"platform":   t.Platform,
			"status":     t.Status,
			"url":        t.URL,
			"error":      t.LastError,
		})
	}
	eventType := events.PostFailed
	if published {
		eventType = events.PostPublished
	}
	event := events.New(eventType, post.OrganizationID, post.ID, map[string]any{
		"entry_id": entry.ID,
		"outcome":  entry.Outcome,
		"targets":  targets,
	})
	if o.sink == nil {
		return
	}
	if err := o.sink.Emit(ctx, event); err != nil {
		o.logger.WithError(err).WithField("event", eventType).Warn("Failed to emit event")
	}
}
