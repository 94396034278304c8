// Package scheduler turns "publish at T, optionally repeating" into concrete
// schedule entries and hands each one out exactly once when it falls due.
// Recurring schedules are kept as templates that materialize a bounded window
// of occurrences; the sweep extends the window as time passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/idempotency"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/metrics"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// Occurrences older than this when they would be materialized are skipped
	// instead of being published late.
	staleOccurrence = time.Hour
	// Bounds one materialization pass over a template.
	maxExpansion = 1000
)

// ErrNoAccounts is returned when a schedule request names no target account.
var ErrNoAccounts = errors.New("at least one account is required")

type Scheduler struct {
	db         *gorm.DB
	guard      *idempotency.Guard
	engagement EngagementSource
	cfg        config.Recurrence
	metrics    *metrics.Metrics
	logger     logging.Logger
	now        func() time.Time
}

func NewScheduler(db *gorm.DB, guard *idempotency.Guard, engagement EngagementSource, cfg config.Recurrence, m *metrics.Metrics, logger logging.Logger) *Scheduler {
	if cfg.MaxAhead <= 0 {
		cfg.MaxAhead = 10
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 14 * 24 * time.Hour
	}
	return &Scheduler{
		db:         db,
		guard:      guard,
		engagement: engagement,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for materialization windows.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// ScheduleRequest asks for a post to be delivered to accounts at FireAt.
type ScheduleRequest struct {
	PostID         string
	AccountIDs     []string
	FireAt         time.Time
	Timezone       string
	Recurrence     *models.RecurrenceRule
	IdempotencyKey string
}

// Scheduled is the result of a schedule call: one entry, or a template with
// the occurrences materialized so far.
type Scheduled struct {
	Template *models.ScheduleTemplate `json:"template,omitempty"`
	Entries  []models.ScheduleEntry   `json:"entries"`
}

// ID identifies the created resource for idempotent replays.
func (r *Scheduled) ID() string {
	if r.Template != nil {
		return r.Template.ID
	}
	if len(r.Entries) > 0 {
		return r.Entries[0].ID
	}
	return ""
}

// Schedule accepts an APPROVED post (or a DRAFT one that needs no approval)
// for delivery. A repeated call with the same idempotency key returns the
// result of the first call instead of creating another entry.
func (s *Scheduler) Schedule(ctx context.Context, organizationID string, req ScheduleRequest) (*Scheduled, error) {
	return s.scheduleOnce(ctx, organizationID, "schedule", req)
}

// ScheduleNow creates an entry due immediately. The orchestrator dispatches it.
func (s *Scheduler) ScheduleNow(ctx context.Context, organizationID string, req ScheduleRequest) (*Scheduled, error) {
	req.FireAt = s.now()
	req.Recurrence = nil
	return s.scheduleOnce(ctx, organizationID, "publish-now", req)
}

func (s *Scheduler) scheduleOnce(ctx context.Context, organizationID, operation string, req ScheduleRequest) (*Scheduled, error) {
	key := idempotency.Key(organizationID, operation, req.IdempotencyKey)
	if key == nil {
		return s.schedule(ctx, organizationID, req, nil)
	}

	if existing, err := s.findByKey(ctx, *key); err != nil || existing != nil {
		return existing, err
	}
	_, acquired, err := s.guard.Acquire(ctx, *key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		existing, err := s.findByKey(ctx, *key)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errs.New(errs.Conflict, "a request with this idempotency key is still in progress")
		}
		return existing, nil
	}

	result, err := s.schedule(ctx, organizationID, req, key)
	if err != nil {
		s.guard.Release(ctx, *key)
		// A concurrent request without the guard may have won the unique index.
		if existing, findErr := s.findByKey(ctx, *key); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	s.guard.Complete(ctx, *key, result.ID())
	return result, nil
}

func (s *Scheduler) schedule(ctx context.Context, organizationID string, req ScheduleRequest, key *string) (*Scheduled, error) {
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "unknown timezone %q", timezone)
	}
	if req.FireAt.IsZero() {
		return nil, errs.New(errs.Validation, "fire time is required")
	}
	accountIDs := dedupe(req.AccountIDs)
	if len(accountIDs) == 0 {
		return nil, errs.Wrap(errs.Validation, ErrNoAccounts, "invalid schedule request")
	}
	fireAt := req.FireAt.UTC()

	var rec *recurrence
	if req.Recurrence.Recurring() {
		var err error
		if rec, err = newRecurrence(*req.Recurrence, fireAt, timezone); err != nil {
			return nil, err
		}
	}

	out := &Scheduled{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := store.GetPost(ctx, tx, req.PostID)
		if err != nil {
			return err
		}
		if post.OrganizationID != organizationID {
			return errs.NotFoundf("post", req.PostID)
		}
		if !post.Schedulable() {
			return errs.New(errs.NotSchedulable, "post is not approved for scheduling").
				On("post", post.ID).
				WithCurrent(string(post.Status))
		}

		platforms, err := s.resolveAccounts(ctx, tx, organizationID, accountIDs)
		if err != nil {
			return err
		}

		if rec != nil {
			tpl := &models.ScheduleTemplate{
				PostID:         post.ID,
				OrganizationID: organizationID,
				AccountIDs:     accountIDs,
				StartAt:        fireAt,
				Timezone:       timezone,
				Rule:           rec.rule,
				IdempotencyKey: key,
			}
			if err := tx.Create(tpl).Error; err != nil {
				return fmt.Errorf("create template: %w", err)
			}
			entries, err := s.materialize(ctx, tx, tpl, rec, platforms, s.now())
			if err != nil {
				return err
			}
			out.Template = tpl
			out.Entries = entries
		} else {
			entry := &models.ScheduleEntry{
				PostID:         post.ID,
				OrganizationID: organizationID,
				AccountIDs:     accountIDs,
				FireAt:         fireAt,
				Timezone:       timezone,
				IdempotencyKey: key,
			}
			if err := createEntry(tx, entry, platforms); err != nil {
				return err
			}
			out.Entries = []models.ScheduleEntry{*entry}
		}

		return store.TransitionPost(ctx, tx, post.ID, models.PostScheduled,
			models.PostApproved, models.PostDraft, models.PostScheduled)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logging.Fields{
		"post_id": req.PostID,
		"entries": len(out.Entries),
		"fire_at": fireAt,
	}).Info("Post scheduled")
	return out, nil
}

// resolveAccounts maps each account id to its platform. Every id must be a
// connection of the organization.
func (s *Scheduler) resolveAccounts(ctx context.Context, tx *gorm.DB, organizationID string, accountIDs []string) (map[string]string, error) {
	var conns []models.SocialAccountConnection
	if err := tx.WithContext(ctx).
		Select("id", "platform").
		Where("id IN ? AND organization_id = ?", accountIDs, organizationID).
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	platforms := make(map[string]string, len(conns))
	for _, conn := range conns {
		platforms[conn.ID] = conn.Platform
	}
	for _, id := range accountIDs {
		if _, ok := platforms[id]; !ok {
			return nil, errs.New(errs.Validation, "account %s is not connected", id)
		}
	}
	return platforms, nil
}

func createEntry(tx *gorm.DB, entry *models.ScheduleEntry, platforms map[string]string) error {
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	targets := make([]models.DeliveryTarget, 0, len(entry.AccountIDs))
	for _, accountID := range entry.AccountIDs {
		targets = append(targets, models.DeliveryTarget{
			EntryID:       entry.ID,
			AccountID:     accountID,
			Platform:      platforms[accountID],
			NextAttemptAt: entry.FireAt,
		})
	}
	if err := tx.Create(&targets).Error; err != nil {
		return fmt.Errorf("create targets of entry %s: %w", entry.ID, err)
	}
	entry.Targets = targets
	return nil
}

// materialize tops the template up to MaxAhead pending occurrences within the
// horizon. The first pass always yields at least one entry unless the rule is
// already exhausted.
func (s *Scheduler) materialize(ctx context.Context, tx *gorm.DB, tpl *models.ScheduleTemplate, rec *recurrence, platforms map[string]string, now time.Time) ([]models.ScheduleEntry, error) {
	var pending int64
	if err := tx.WithContext(ctx).Model(&models.ScheduleEntry{}).
		Where("template_id = ? AND status = ?", tpl.ID, models.EntryPending).
		Count(&pending).Error; err != nil {
		return nil, fmt.Errorf("count occurrences of template %s: %w", tpl.ID, err)
	}

	horizon := now.Add(s.cfg.Horizon)
	staleBefore := now.Add(-staleOccurrence)
	before := tpl.Materialized
	n := tpl.Materialized
	prev := tpl.LastFireAt
	status := tpl.Status

	var created []models.ScheduleEntry
	for i := 0; i < maxExpansion && int(pending)+len(created) < s.cfg.MaxAhead; i++ {
		at := rec.occurrence(n, prev)
		if rec.exhausted(n, at) {
			status = models.TemplateCompleted
			break
		}
		if at.After(horizon) && int(pending)+len(created) > 0 {
			break
		}
		occurrence := n
		n++
		prev = &at
		if at.Before(staleBefore) {
			continue
		}

		entry := models.ScheduleEntry{
			PostID:         tpl.PostID,
			OrganizationID: tpl.OrganizationID,
			TemplateID:     &tpl.ID,
			Occurrence:     occurrence,
			AccountIDs:     tpl.AccountIDs,
			FireAt:         at,
			Timezone:       tpl.Timezone,
		}
		if err := createEntry(tx, &entry, platforms); err != nil {
			return nil, err
		}
		created = append(created, entry)
	}

	res := tx.WithContext(ctx).Model(&models.ScheduleTemplate{}).
		Where("id = ? AND materialized = ? AND status = ?", tpl.ID, before, models.TemplateActive).
		Updates(map[string]any{
			"materialized": n,
			"last_fire_at": prev,
			"status":       status,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("save template %s: %w", tpl.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, errs.New(errs.Conflict, "template changed while materializing").On("schedule_template", tpl.ID)
	}
	tpl.Materialized = n
	tpl.LastFireAt = prev
	tpl.Status = status
	return created, nil
}

// Extend materializes further occurrences of every active template and
// returns how many entries were created.
func (s *Scheduler) Extend(ctx context.Context, now time.Time) (int, error) {
	archived := s.db.Model(&models.Post{}).Select("id").Where("archived_at IS NOT NULL")
	var templates []models.ScheduleTemplate
	if err := s.db.WithContext(ctx).
		Where("status = ? AND post_id NOT IN (?)", models.TemplateActive, archived).
		Find(&templates).Error; err != nil {
		return 0, fmt.Errorf("load active templates: %w", err)
	}

	total := 0
	for i := range templates {
		tpl := &templates[i]
		rec, err := newRecurrence(tpl.Rule, tpl.StartAt, tpl.Timezone)
		if err != nil {
			s.logger.WithError(err).WithField("template_id", tpl.ID).Error("Template has an invalid rule")
			continue
		}

		var created []models.ScheduleEntry
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			platforms, err := s.platformsOf(ctx, tx, tpl.AccountIDs)
			if err != nil {
				return err
			}
			created, err = s.materialize(ctx, tx, tpl, rec, platforms, now)
			return err
		})
		if err != nil {
			s.logger.WithError(err).WithField("template_id", tpl.ID).Warn("Failed to extend template")
			continue
		}
		total += len(created)
	}
	return total, nil
}

// platformsOf tolerates connections removed after the template was created;
// their targets fail at delivery time.
func (s *Scheduler) platformsOf(ctx context.Context, tx *gorm.DB, accountIDs []string) (map[string]string, error) {
	var conns []models.SocialAccountConnection
	if err := tx.WithContext(ctx).Select("id", "platform").Where("id IN ?", accountIDs).Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	platforms := make(map[string]string, len(conns))
	for _, conn := range conns {
		platforms[conn.ID] = conn.Platform
	}
	return platforms, nil
}

// Reschedule moves a PENDING entry that has not been attempted yet.
func (s *Scheduler) Reschedule(ctx context.Context, organizationID, entryID string, fireAt time.Time) (*models.ScheduleEntry, error) {
	if fireAt.IsZero() {
		return nil, errs.New(errs.Validation, "fire time is required")
	}
	fireAt = fireAt.UTC()

	var entry *models.ScheduleEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadEntry(ctx, tx, organizationID, entryID)
		if err != nil {
			return err
		}

		res := tx.Model(&models.ScheduleEntry{}).
			Where("id = ? AND status = ? AND rounds = 0", entryID, models.EntryPending).
			Updates(map[string]any{"fire_at": fireAt, "due_at": fireAt})
		if res.Error != nil {
			return fmt.Errorf("reschedule entry %s: %w", entryID, res.Error)
		}
		if res.RowsAffected != 1 {
			return errs.New(errs.AlreadyFired, "only entries that have not fired can be rescheduled").
				On("schedule_entry", entryID).
				WithCurrent(string(current.Status)).
				WithState(current)
		}
		if err := tx.Model(&models.DeliveryTarget{}).
			Where("entry_id = ? AND status = ?", entryID, models.TargetPending).
			Update("next_attempt_at", fireAt).Error; err != nil {
			return fmt.Errorf("reschedule targets of entry %s: %w", entryID, err)
		}

		entry, err = store.GetEntry(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Cancel stops an entry. A PENDING entry is cancelled at once; a QUEUED one
// is flagged so no further retry is scheduled while in-flight calls finish.
// Cancelling a cancelled entry returns it unchanged.
func (s *Scheduler) Cancel(ctx context.Context, organizationID, entryID string) (*models.ScheduleEntry, error) {
	var entry *models.ScheduleEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadEntry(ctx, tx, organizationID, entryID)
		if err != nil {
			return err
		}

		res := tx.Model(&models.ScheduleEntry{}).
			Where("id = ? AND status = ?", entryID, models.EntryPending).
			Updates(map[string]any{"status": models.EntryCancelled, "completed_at": s.now()})
		if res.Error != nil {
			return fmt.Errorf("cancel entry %s: %w", entryID, res.Error)
		}
		if res.RowsAffected == 1 {
			if err := cancelTargets(tx, entryID); err != nil {
				return err
			}
		} else {
			res = tx.Model(&models.ScheduleEntry{}).
				Where("id = ? AND status = ?", entryID, models.EntryQueued).
				Update("cancel_requested", true)
			if res.Error != nil {
				return fmt.Errorf("cancel entry %s: %w", entryID, res.Error)
			}
			if res.RowsAffected != 1 && current.Status != models.EntryCancelled {
				return errs.New(errs.AlreadyFired, "entry has already been delivered").
					On("schedule_entry", entryID).
					WithCurrent(string(current.Status)).
					WithState(current)
			}
		}

		if err := s.releasePost(ctx, tx, current.PostID); err != nil {
			return err
		}
		entry, err = store.GetEntry(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CancelTemplate stops a recurring schedule and cancels its pending occurrences.
func (s *Scheduler) CancelTemplate(ctx context.Context, organizationID, templateID string) (*models.ScheduleTemplate, error) {
	var tpl models.ScheduleTemplate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&tpl, "id = ? AND organization_id = ?", templateID, organizationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("schedule_template", templateID)
			}
			return fmt.Errorf("load template %s: %w", templateID, err)
		}
		if err := tx.Model(&models.ScheduleTemplate{}).
			Where("id = ?", templateID).
			Update("status", models.TemplateCancelled).Error; err != nil {
			return fmt.Errorf("cancel template %s: %w", templateID, err)
		}
		tpl.Status = models.TemplateCancelled

		if err := tx.Model(&models.ScheduleEntry{}).
			Where("template_id = ? AND status = ?", templateID, models.EntryPending).
			Updates(map[string]any{"status": models.EntryCancelled, "completed_at": s.now()}).Error; err != nil {
			return fmt.Errorf("cancel occurrences of template %s: %w", templateID, err)
		}
		if err := tx.Model(&models.ScheduleEntry{}).
			Where("template_id = ? AND status = ?", templateID, models.EntryQueued).
			Update("cancel_requested", true).Error; err != nil {
			return fmt.Errorf("cancel occurrences of template %s: %w", templateID, err)
		}
		cancelled := tx.Model(&models.ScheduleEntry{}).Select("id").
			Where("template_id = ? AND status = ?", templateID, models.EntryCancelled)
		if err := tx.Model(&models.DeliveryTarget{}).
			Where("entry_id IN (?) AND status = ?", cancelled, models.TargetPending).
			Update("status", models.TargetCancelled).Error; err != nil {
			return fmt.Errorf("cancel targets of template %s: %w", templateID, err)
		}
		return s.releasePost(ctx, tx, tpl.PostID)
	})
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func cancelTargets(tx *gorm.DB, entryID string) error {
	if err := tx.Model(&models.DeliveryTarget{}).
		Where("entry_id = ? AND status = ?", entryID, models.TargetPending).
		Update("status", models.TargetCancelled).Error; err != nil {
		return fmt.Errorf("cancel targets of entry %s: %w", entryID, err)
	}
	return nil
}

// releasePost hands a SCHEDULED post back once nothing is left to fire.
func (s *Scheduler) releasePost(ctx context.Context, tx *gorm.DB, postID string) error {
	open, err := store.HasOpenEntries(ctx, tx, postID)
	if err != nil || open {
		return err
	}
	var active int64
	if err := tx.Model(&models.ScheduleTemplate{}).
		Where("post_id = ? AND status = ?", postID, models.TemplateActive).
		Count(&active).Error; err != nil {
		return fmt.Errorf("count templates of post %s: %w", postID, err)
	}
	if active > 0 {
		return nil
	}

	post, err := store.GetPost(ctx, tx, postID)
	if err != nil {
		return err
	}
	to := models.PostDraft
	if post.ApprovalRequired {
		to = models.PostApproved
	}
	err = store.TransitionPost(ctx, tx, postID, to, models.PostScheduled)
	if errs.Is(err, errs.InvalidTransition) {
		return nil
	}
	return err
}

// DueEntries returns PENDING entries due at asOf, ordered by fire time then
// id so a restarted sweep visits them in the same order.
func (s *Scheduler) DueEntries(ctx context.Context, asOf time.Time, limit int) ([]models.ScheduleEntry, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND due_at <= ?", models.EntryPending, asOf).
		Order("fire_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.ScheduleEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load due entries: %w", err)
	}
	return entries, nil
}

// Claim moves a due entry from PENDING to QUEUED with a fresh lease. The
// update is conditional, so of several concurrent claimers exactly one wins;
// the others get a Conflict carrying the entry's current status.
func (s *Scheduler) Claim(ctx context.Context, entryID string, now time.Time, lease time.Duration) (*models.ScheduleEntry, error) {
	expires := now.Add(lease)
	res := s.db.WithContext(ctx).Model(&models.ScheduleEntry{}).
		Where("id = ? AND status = ? AND due_at <= ?", entryID, models.EntryPending, now).
		Updates(map[string]any{
			"status":           models.EntryQueued,
			"claim_token":      uuid.NewString(),
			"lease_expires_at": expires,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim entry %s: %w", entryID, res.Error)
	}

	entry, err := store.GetEntry(ctx, s.db, entryID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected != 1 {
		s.metrics.Claim(false)
		return nil, errs.New(errs.Conflict, "entry already claimed").
			On("schedule_entry", entryID).
			WithCurrent(string(entry.Status))
	}
	s.metrics.Claim(true)
	return entry, nil
}

// Renew pushes the lease of a claimed entry to now+lease. It fails with
// Conflict once the claim is gone, either reclaimed or finalized elsewhere.
func (s *Scheduler) Renew(ctx context.Context, entryID, claimToken string, now time.Time, lease time.Duration) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduleEntry{}).
		Where("id = ? AND status = ? AND claim_token = ?", entryID, models.EntryQueued, claimToken).
		Update("lease_expires_at", now.Add(lease))
	if res.Error != nil {
		return fmt.Errorf("renew lease of entry %s: %w", entryID, res.Error)
	}
	if res.RowsAffected != 1 {
		return errs.New(errs.Conflict, "lease lost").On("schedule_entry", entryID)
	}
	return nil
}

// Reclaim returns QUEUED entries whose lease ran out to PENDING so they are
// retried. Entries cancelled while in flight are closed instead.
func (s *Scheduler) Reclaim(ctx context.Context, now time.Time) (int64, error) {
	var expired []models.ScheduleEntry
	if err := s.db.WithContext(ctx).
		Select("id", "post_id", "claim_token", "cancel_requested").
		Where("status = ? AND lease_expires_at < ?", models.EntryQueued, now).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("load expired leases: %w", err)
	}

	var reclaimed int64
	for _, entry := range expired {
		won := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			fields := map[string]any{
				"status":           models.EntryPending,
				"claim_token":      "",
				"lease_expires_at": nil,
			}
			if entry.CancelRequested {
				fields["status"] = models.EntryCancelled
				fields["completed_at"] = now
			}
			res := tx.Model(&models.ScheduleEntry{}).
				Where("id = ? AND status = ? AND claim_token = ?", entry.ID, models.EntryQueued, entry.ClaimToken).
				Updates(fields)
			if res.Error != nil || res.RowsAffected != 1 {
				return res.Error
			}
			won = true

			if entry.CancelRequested {
				if err := cancelTargets(tx, entry.ID); err != nil {
					return err
				}
				return s.releasePost(ctx, tx, entry.PostID)
			}
			err := store.TransitionPost(ctx, tx, entry.PostID, models.PostScheduled, models.PostQueued)
			if errs.Is(err, errs.InvalidTransition) {
				return nil
			}
			return err
		})
		if err != nil {
			return reclaimed, err
		}
		if !won {
			continue
		}
		reclaimed++
		s.logger.WithField("entry_id", entry.ID).Warn("Lease expired, entry reclaimed")
	}
	return reclaimed, nil
}

// GetEntry returns an entry of the organization with its targets.
func (s *Scheduler) GetEntry(ctx context.Context, organizationID, entryID string) (*models.ScheduleEntry, error) {
	return s.loadEntry(ctx, s.db, organizationID, entryID)
}

func (s *Scheduler) loadEntry(ctx context.Context, db *gorm.DB, organizationID, entryID string) (*models.ScheduleEntry, error) {
	entry, err := store.GetEntry(ctx, db, entryID)
	if err != nil {
		return nil, err
	}
	if entry.OrganizationID != organizationID {
		return nil, errs.NotFoundf("schedule_entry", entryID)
	}
	return entry, nil
}

// ListEntries returns the entries of a post in fire order.
func (s *Scheduler) ListEntries(ctx context.Context, organizationID, postID string) ([]models.ScheduleEntry, error) {
	var entries []models.ScheduleEntry
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND post_id = ?", organizationID, postID).
		Order("fire_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries of post %s: %w", postID, err)
	}
	if err := attachTargets(ctx, s.db, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListAttempts returns every delivery attempt of an entry.
func (s *Scheduler) ListAttempts(ctx context.Context, organizationID, entryID string) ([]models.DeliveryAttempt, error) {
	if _, err := s.loadEntry(ctx, s.db, organizationID, entryID); err != nil {
		return nil, err
	}
	return store.ListAttempts(ctx, s.db, entryID)
}

func attachTargets(ctx context.Context, db *gorm.DB, entries []models.ScheduleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}
	var targets []models.DeliveryTarget
	if err := db.WithContext(ctx).
		Where("entry_id IN ?", ids).
		Order("account_id ASC").
		Find(&targets).Error; err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	byEntry := make(map[string][]models.DeliveryTarget, len(entries))
	for _, target := range targets {
		byEntry[target.EntryID] = append(byEntry[target.EntryID], target)
	}
	for i := range entries {
		entries[i].Targets = byEntry[entries[i].ID]
	}
	return nil
}

func (s *Scheduler) findByKey(ctx context.Context, key string) (*Scheduled, error) {
	var tpl models.ScheduleTemplate
	err := s.db.WithContext(ctx).First(&tpl, "idempotency_key = ?", key).Error
	if err == nil {
		var entries []models.ScheduleEntry
		if err := s.db.WithContext(ctx).
			Where("template_id = ?", tpl.ID).
			Order("occurrence ASC").
			Find(&entries).Error; err != nil {
			return nil, fmt.Errorf("load occurrences of template %s: %w", tpl.ID, err)
		}
		if err := attachTargets(ctx, s.db, entries); err != nil {
			return nil, err
		}
		return &Scheduled{Template: &tpl, Entries: entries}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find template by key: %w", err)
	}

	var entry models.ScheduleEntry
	err = s.db.WithContext(ctx).First(&entry, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry by key: %w", err)
	}
	full, err := store.GetEntry(ctx, s.db, entry.ID)
	if err != nil {
		return nil, err
	}
	return &Scheduled{Entries: []models.ScheduleEntry{*full}}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
