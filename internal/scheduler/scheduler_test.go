package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/db/dbtest"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/idempotency"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var clock = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	sched *Scheduler
	mem   *MemoryEngagement
}

func newFixture(t *testing.T, cfg config.Recurrence) *fixture {
	t.Helper()
	db := dbtest.New(t)
	mem := NewMemoryEngagement()
	sched := NewScheduler(db, nil, mem, cfg, nil, logging.NewDiscardLogger()).
		WithClock(func() time.Time { return clock })
	return &fixture{db: db, sched: sched, mem: mem}
}

func (f *fixture) post(t *testing.T, status models.PostStatus, approvalRequired bool) *models.Post {
	t.Helper()
	post := &models.Post{
		OrganizationID:   "org",
		AuthorID:         "author",
		Body:             "launch day",
		Status:           status,
		ApprovalRequired: approvalRequired,
	}
	require.NoError(t, f.db.Create(post).Error)
	return post
}

func (f *fixture) account(t *testing.T, org, platform string) string {
	t.Helper()
	conn := &models.SocialAccountConnection{
		OrganizationID:    org,
		Platform:          platform,
		ExternalAccountID: platform + "-" + org,
		AccessToken:       "token",
	}
	require.NoError(t, f.db.Create(conn).Error)
	return conn.ID
}

func (f *fixture) postStatus(t *testing.T, id string) models.PostStatus {
	t.Helper()
	post, err := store.GetPost(context.Background(), f.db, id)
	require.NoError(t, err)
	return post.Status
}

func (f *fixture) scheduleAt(t *testing.T, postID string, at time.Time, accounts ...string) models.ScheduleEntry {
	t.Helper()
	result, err := f.sched.Schedule(context.Background(), "org", ScheduleRequest{
		PostID:     postID,
		AccountIDs: accounts,
		FireAt:     at,
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	return result.Entries[0]
}

func TestScheduleRequiresApprovedPost(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "linkedin")

	for _, status := range []models.PostStatus{
		models.PostPendingReview,
		models.PostRejected,
		models.PostChangesRequested,
		models.PostDraft,
	} {
		post := f.post(t, status, true)
		_, err := f.sched.Schedule(ctx, "org", ScheduleRequest{PostID: post.ID, AccountIDs: []string{acc}, FireAt: clock})
		require.Error(t, err, status)
		assert.True(t, errs.Is(err, errs.NotSchedulable), status)
		assert.Equal(t, string(status), errs.CurrentOf(err))
	}

	post := f.post(t, models.PostApproved, true)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	entry := f.scheduleAt(t, post.ID, at, acc, acc)

	assert.Equal(t, models.EntryPending, entry.Status)
	assert.True(t, at.Equal(entry.FireAt))
	assert.True(t, at.Equal(entry.DueAt))
	require.Len(t, entry.Targets, 1)
	assert.Equal(t, "linkedin", entry.Targets[0].Platform)
	assert.Equal(t, models.PostScheduled, f.postStatus(t, post.ID))
}

func TestScheduleDraftWithoutApproval(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostDraft, false)

	entry := f.scheduleAt(t, post.ID, clock.Add(time.Hour), acc)
	assert.Equal(t, "UTC", entry.Timezone)
	assert.Equal(t, models.PostScheduled, f.postStatus(t, post.ID))
}

func TestScheduleValidatesAccountsAndTimezone(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	post := f.post(t, models.PostApproved, true)
	foreign := f.account(t, "other-org", "x")

	_, err := f.sched.Schedule(ctx, "org", ScheduleRequest{PostID: post.ID, AccountIDs: []string{foreign}, FireAt: clock})
	assert.True(t, errs.Is(err, errs.Validation))

	acc := f.account(t, "org", "x")
	_, err = f.sched.Schedule(ctx, "org", ScheduleRequest{PostID: post.ID, AccountIDs: []string{acc}, FireAt: clock, Timezone: "Mars/Olympus"})
	assert.True(t, errs.Is(err, errs.Validation))

	_, err = f.sched.Schedule(ctx, "org", ScheduleRequest{PostID: post.ID, FireAt: clock})
	assert.ErrorIs(t, err, ErrNoAccounts)

	_, err = f.sched.Schedule(ctx, "other-org", ScheduleRequest{PostID: post.ID, AccountIDs: []string{foreign}, FireAt: clock})
	assert.True(t, errs.Is(err, errs.NotFound))

	assert.Equal(t, models.PostApproved, f.postStatus(t, post.ID))
}

func TestRescheduleOnlyWhilePending(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock.Add(2*time.Hour), acc)

	moved := clock.Add(-time.Minute)
	got, err := f.sched.Reschedule(ctx, "org", entry.ID, moved)
	require.NoError(t, err)
	assert.True(t, moved.Equal(got.FireAt))
	assert.True(t, moved.Equal(got.DueAt))
	assert.True(t, moved.Equal(got.Targets[0].NextAttemptAt))

	_, err = f.sched.Claim(ctx, entry.ID, clock, time.Minute)
	require.NoError(t, err)

	_, err = f.sched.Reschedule(ctx, "org", entry.ID, clock.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyFired))
	assert.Equal(t, string(models.EntryQueued), errs.CurrentOf(err))

	_, err = f.sched.Reschedule(ctx, "other-org", entry.ID, clock.Add(time.Hour))
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestRescheduleRejectsRetriedEntry(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock, acc)

	require.NoError(t, f.db.Model(&models.ScheduleEntry{}).Where("id = ?", entry.ID).Update("rounds", 1).Error)

	_, err := f.sched.Reschedule(ctx, "org", entry.ID, clock.Add(time.Hour))
	assert.True(t, errs.Is(err, errs.AlreadyFired))
	assert.Equal(t, string(models.EntryPending), errs.CurrentOf(err))
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "instagram")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock.Add(time.Hour), acc)

	got, err := f.sched.Cancel(ctx, "org", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryCancelled, got.Status)
	assert.Equal(t, models.TargetCancelled, got.Targets[0].Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, models.PostApproved, f.postStatus(t, post.ID))

	again, err := f.sched.Cancel(ctx, "org", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryCancelled, again.Status)

	due, err := f.sched.DueEntries(ctx, clock.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCancelKeepsPostScheduledWhileOtherEntriesRemain(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostDraft, false)
	first := f.scheduleAt(t, post.ID, clock.Add(time.Hour), acc)
	f.scheduleAt(t, post.ID, clock.Add(2*time.Hour), acc)

	_, err := f.sched.Cancel(ctx, "org", first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostScheduled, f.postStatus(t, post.ID))
}

func TestCancelQueuedIsAdvisory(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock, acc)

	_, err := f.sched.Claim(ctx, entry.ID, clock, time.Minute)
	require.NoError(t, err)

	got, err := f.sched.Cancel(ctx, "org", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryQueued, got.Status)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, models.TargetPending, got.Targets[0].Status)

	n, err := f.sched.Reclaim(ctx, clock.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	closed, err := f.sched.GetEntry(ctx, "org", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryCancelled, closed.Status)
	assert.Equal(t, models.TargetCancelled, closed.Targets[0].Status)
}

func TestCancelDeliveredEntryFails(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock, acc)
	require.NoError(t, f.db.Model(&models.ScheduleEntry{}).Where("id = ?", entry.ID).Update("status", models.EntryPublished).Error)

	_, err := f.sched.Cancel(ctx, "org", entry.ID)
	assert.True(t, errs.Is(err, errs.AlreadyFired))
	assert.Equal(t, string(models.EntryPublished), errs.CurrentOf(err))
}

func TestDueEntriesOrderIsStable(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostDraft, false)

	early := f.scheduleAt(t, post.ID, clock.Add(-time.Hour), acc)
	a := f.scheduleAt(t, post.ID, clock, acc)
	b := f.scheduleAt(t, post.ID, clock, acc)
	f.scheduleAt(t, post.ID, clock.Add(time.Hour), acc)

	due, err := f.sched.DueEntries(ctx, clock, 0)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, early.ID, due[0].ID)

	tied := []string{a.ID, b.ID}
	if tied[0] > tied[1] {
		tied[0], tied[1] = tied[1], tied[0]
	}
	assert.Equal(t, tied, []string{due[1].ID, due[2].ID})

	limited, err := f.sched.DueEntries(ctx, clock, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, early.ID, limited[0].ID)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock, acc)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sched.Claim(ctx, entry.ID, clock, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			losers = append(losers, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	require.Len(t, losers, workers-1)
	for _, err := range losers {
		assert.True(t, errs.Is(err, errs.Conflict))
		assert.Equal(t, string(models.EntryQueued), errs.CurrentOf(err))
	}
}

func TestClaimRespectsDueTime(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock.Add(time.Hour), acc)

	_, err := f.sched.Claim(ctx, entry.ID, clock, time.Minute)
	assert.True(t, errs.Is(err, errs.Conflict))
	assert.Equal(t, string(models.EntryPending), errs.CurrentOf(err))
}

func TestReclaimExpiredLease(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	entry := f.scheduleAt(t, post.ID, clock, acc)

	claimed, err := f.sched.Claim(ctx, entry.ID, clock, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, claimed.ClaimToken)
	require.NoError(t, store.TransitionPost(ctx, f.db, post.ID, models.PostQueued, models.PostScheduled))

	n, err := f.sched.Reclaim(ctx, clock.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.sched.Reclaim(ctx, clock.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.sched.GetEntry(ctx, "org", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryPending, got.Status)
	assert.Empty(t, got.ClaimToken)
	assert.Nil(t, got.LeaseExpiresAt)
	assert.Equal(t, models.PostScheduled, f.postStatus(t, post.ID))

	_, err = f.sched.Claim(ctx, entry.ID, clock.Add(3*time.Minute), time.Minute)
	assert.NoError(t, err)
}

func TestDailyRecurrenceAcrossDST(t *testing.T) {
	f := newFixture(t, config.Recurrence{Horizon: 120 * 24 * time.Hour, MaxAhead: 100})
	f.sched.WithClock(func() time.Time { return time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC) })
	acc := f.account(t, "org", "instagram")
	post := f.post(t, models.PostApproved, true)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, ny)

	result, err := f.sched.Schedule(context.Background(), "org", ScheduleRequest{
		PostID:     post.ID,
		AccountIDs: []string{acc},
		FireAt:     start,
		Timezone:   "America/New_York",
		Recurrence: &models.RecurrenceRule{Frequency: models.FrequencyDaily},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Template)
	require.Len(t, result.Entries, 100)
	assert.Equal(t, 100, result.Template.Materialized)

	for i, entry := range result.Entries {
		local := entry.LocalFireAt()
		assert.Equal(t, 9, local.Hour(), "occurrence %d", i)
		assert.Equal(t, 0, local.Minute(), "occurrence %d", i)
		assert.Equal(t, i, entry.Occurrence)
		want := time.Date(2024, 1, 1+i, 9, 0, 0, 0, ny)
		assert.True(t, want.Equal(entry.FireAt), "occurrence %d: %s", i, entry.FireAt)
	}

	// DST starts on 2024-03-10: index 68 is March 9, index 69 is March 10.
	assert.Equal(t, 14, result.Entries[68].FireAt.UTC().Hour())
	assert.Equal(t, 13, result.Entries[69].FireAt.UTC().Hour())
	assert.Equal(t, 23*time.Hour, result.Entries[69].FireAt.Sub(result.Entries[68].FireAt))
	assert.Equal(t, 24*time.Hour, result.Entries[1].FireAt.Sub(result.Entries[0].FireAt))
}

func TestRecurrenceExtendsLazilyUntilCount(t *testing.T) {
	f := newFixture(t, config.Recurrence{Horizon: 30 * 24 * time.Hour, MaxAhead: 2})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)

	result, err := f.sched.Schedule(ctx, "org", ScheduleRequest{
		PostID:     post.ID,
		AccountIDs: []string{acc},
		FireAt:     clock.Add(time.Hour),
		Recurrence: &models.RecurrenceRule{Frequency: models.FrequencyInterval, Interval: 3600, Count: 5},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.True(t, clock.Add(2*time.Hour).Equal(result.Entries[1].FireAt))

	created, err := f.sched.Extend(ctx, clock)
	require.NoError(t, err)
	assert.Zero(t, created, "window already full")

	for round := 0; round < 5; round++ {
		require.NoError(t, f.db.Model(&models.ScheduleEntry{}).
			Where("template_id = ? AND status = ?", result.Template.ID, models.EntryPending).
			Update("status", models.EntryPublished).Error)
		_, err := f.sched.Extend(ctx, clock)
		require.NoError(t, err)
	}

	var total int64
	require.NoError(t, f.db.Model(&models.ScheduleEntry{}).Where("template_id = ?", result.Template.ID).Count(&total).Error)
	assert.Equal(t, int64(5), total)

	var tpl models.ScheduleTemplate
	require.NoError(t, f.db.First(&tpl, "id = ?", result.Template.ID).Error)
	assert.Equal(t, models.TemplateCompleted, tpl.Status)
	assert.Equal(t, 5, tpl.Materialized)
}

func TestRecurrenceRespectsHorizon(t *testing.T) {
	f := newFixture(t, config.Recurrence{Horizon: 3 * 24 * time.Hour, MaxAhead: 50})
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)

	result, err := f.sched.Schedule(context.Background(), "org", ScheduleRequest{
		PostID:     post.ID,
		AccountIDs: []string{acc},
		FireAt:     clock.Add(time.Hour),
		Recurrence: &models.RecurrenceRule{Frequency: models.FrequencyDaily},
	})
	require.NoError(t, err)
	assert.Len(t, result.Entries, 3)
	assert.Equal(t, models.TemplateActive, result.Template.Status)
}

func TestCronRecurrenceUsesTimezone(t *testing.T) {
	f := newFixture(t, config.Recurrence{Horizon: 30 * 24 * time.Hour, MaxAhead: 3})
	acc := f.account(t, "org", "telegram")
	post := f.post(t, models.PostApproved, true)

	result, err := f.sched.Schedule(context.Background(), "org", ScheduleRequest{
		PostID:     post.ID,
		AccountIDs: []string{acc},
		FireAt:     clock,
		Timezone:   "Europe/Istanbul",
		Recurrence: &models.RecurrenceRule{Frequency: models.FrequencyCron, Cron: "0 9 * * 1"},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 3)
	for _, entry := range result.Entries {
		assert.Equal(t, time.Monday, entry.FireAt.Weekday())
		assert.Equal(t, 6, entry.FireAt.Hour())
	}
	assert.Equal(t, 7*24*time.Hour, result.Entries[1].FireAt.Sub(result.Entries[0].FireAt))
}

func TestInvalidRecurrenceRules(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	past := clock.Add(-time.Hour)

	for name, rule := range map[string]models.RecurrenceRule{
		"short interval": {Frequency: models.FrequencyInterval, Interval: 5},
		"bad cron":       {Frequency: models.FrequencyCron, Cron: "every day"},
		"negative count": {Frequency: models.FrequencyDaily, Count: -1},
		"until before":   {Frequency: models.FrequencyDaily, Until: &past},
		"unknown":        {Frequency: "hourly"},
	} {
		_, err := f.sched.Schedule(context.Background(), "org", ScheduleRequest{
			PostID:     post.ID,
			AccountIDs: []string{acc},
			FireAt:     clock,
			Recurrence: &rule,
		})
		assert.True(t, errs.Is(err, errs.Validation), name)
	}
	assert.Equal(t, models.PostApproved, f.postStatus(t, post.ID))
}

func TestCancelTemplateStopsOccurrences(t *testing.T) {
	f := newFixture(t, config.Recurrence{Horizon: 30 * 24 * time.Hour, MaxAhead: 3})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)

	result, err := f.sched.Schedule(ctx, "org", ScheduleRequest{
		PostID:     post.ID,
		AccountIDs: []string{acc},
		FireAt:     clock,
		Recurrence: &models.RecurrenceRule{Frequency: models.FrequencyWeekly},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 3)
	_, err = f.sched.Claim(ctx, result.Entries[0].ID, clock, time.Minute)
	require.NoError(t, err)

	tpl, err := f.sched.CancelTemplate(ctx, "org", result.Template.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateCancelled, tpl.Status)

	entries, err := f.sched.ListEntries(ctx, "org", post.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.EntryQueued, entries[0].Status)
	assert.True(t, entries[0].CancelRequested)
	assert.Equal(t, models.EntryCancelled, entries[1].Status)
	assert.Equal(t, models.TargetCancelled, entries[1].Targets[0].Status)
	assert.Equal(t, models.EntryCancelled, entries[2].Status)

	created, err := f.sched.Extend(ctx, clock)
	require.NoError(t, err)
	assert.Zero(t, created)

	_, err = f.sched.CancelTemplate(ctx, "other-org", result.Template.ID)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestIdempotentScheduleWithRedis(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.sched.guard = idempotency.NewGuard(client, time.Hour, logging.NewDiscardLogger())

	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	req := ScheduleRequest{PostID: post.ID, AccountIDs: []string{acc}, FireAt: clock, IdempotencyKey: "click-1"}

	first, err := f.sched.Schedule(ctx, "org", req)
	require.NoError(t, err)
	second, err := f.sched.Schedule(ctx, "org", req)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	require.Len(t, second.Entries[0].Targets, 1)

	key := idempotency.Key("org", "schedule", "click-1")
	stored, err := mr.Get("idem:" + *key)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), stored)

	var count int64
	require.NoError(t, f.db.Model(&models.ScheduleEntry{}).Where("post_id = ?", post.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	inFlight := idempotency.Key("org", "schedule", "click-2")
	require.NoError(t, mr.Set("idem:"+*inFlight, "in-flight"))
	req.IdempotencyKey = "click-2"
	_, err = f.sched.Schedule(ctx, "org", req)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestIdempotentScheduleWithoutRedis(t *testing.T) {
	f := newFixture(t, config.Recurrence{Horizon: 7 * 24 * time.Hour, MaxAhead: 2})
	ctx := context.Background()
	acc := f.account(t, "org", "x")
	post := f.post(t, models.PostApproved, true)
	req := ScheduleRequest{
		PostID:         post.ID,
		AccountIDs:     []string{acc},
		FireAt:         clock,
		Recurrence:     &models.RecurrenceRule{Frequency: models.FrequencyDaily},
		IdempotencyKey: "weekly-digest",
	}

	first, err := f.sched.Schedule(ctx, "org", req)
	require.NoError(t, err)
	second, err := f.sched.Schedule(ctx, "org", req)
	require.NoError(t, err)
	assert.Equal(t, first.Template.ID, second.Template.ID)
	assert.Len(t, second.Entries, 2)

	other, err := f.sched.ScheduleNow(ctx, "org", ScheduleRequest{PostID: post.ID, AccountIDs: []string{acc}, IdempotencyKey: "weekly-digest"})
	require.NoError(t, err)
	assert.Nil(t, other.Template, "publish-now keys are scoped separately")
	assert.True(t, clock.Equal(other.Entries[0].FireAt))
}
