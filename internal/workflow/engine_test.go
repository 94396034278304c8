package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/db/dbtest"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/events"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishNow(ctx context.Context, postID string, accountIDs []string, idempotencyKey string) (*models.ScheduleEntry, error) {
	args := m.Called(ctx, postID, accountIDs, idempotencyKey)
	entry, _ := args.Get(0).(*models.ScheduleEntry)
	return entry, args.Error(1)
}

var (
	author  = auth.Actor{UserID: "author", OrganizationID: "org", Roles: []string{"creator"}}
	manager = auth.Actor{UserID: "boss", OrganizationID: "org", Roles: []string{"manager"}}
	editor  = auth.Actor{UserID: "ed", OrganizationID: "org", Roles: []string{"editor"}}
	legal   = auth.Actor{UserID: "lawyer", OrganizationID: "org", Roles: []string{"legal"}}
)

type fixture struct {
	db        *gorm.DB
	engine    *Engine
	recorder  *events.Recorder
	publisher *mockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	recorder := &events.Recorder{}
	publisher := &mockPublisher{}
	return &fixture{
		db:        db,
		engine:    NewEngine(db, recorder, nil, logging.NewDiscardLogger(), publisher),
		recorder:  recorder,
		publisher: publisher,
	}
}

func (f *fixture) draft(t *testing.T) *models.Post {
	t.Helper()
	post := &models.Post{OrganizationID: "org", AuthorID: author.UserID, Body: "launch", AccountIDs: []string{"acc-a"}}
	require.NoError(t, f.db.Create(post).Error)
	return post
}

func (f *fixture) config(t *testing.T, body ConfigBody) {
	t.Helper()
	_, err := f.engine.CreateWorkflowConfig(context.Background(), "org", body)
	require.NoError(t, err)
}

func optional() *bool {
	b := false
	return &b
}

func (f *fixture) postStatus(t *testing.T, id string) models.PostStatus {
	t.Helper()
	post, err := store.GetPost(context.Background(), f.db, id)
	require.NoError(t, err)
	return post.Status
}

func TestSingleStepDefaultWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.draft(t)

	inst, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)
	require.Len(t, inst.Steps, 1)
	assert.Equal(t, DefaultRole, inst.Steps[0].Role)
	assert.Equal(t, models.PostPendingReview, f.postStatus(t, post.ID))

	decision, err := f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, decision.Instance.Status)
	assert.Equal(t, locales.MsgWorkflowApproved, decision.MessageID)
	assert.NotNil(t, decision.Instance.CompletedAt)
	assert.Equal(t, models.PostApproved, f.postStatus(t, post.ID))

	activities, err := f.engine.GetWorkflowActivities(ctx, "org", inst.ID)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, models.ActionCreated, activities[0].Action)
	assert.Equal(t, models.ActionApprove, activities[1].Action)
	assert.Equal(t, manager.UserID, activities[1].UserID)
}

func TestStepsMustBeApprovedInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config(t, ConfigBody{Name: "two-step", Steps: []StepBody{{Role: "editor"}, {Role: "legal"}}})
	post := f.draft(t)

	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "two-step", author.UserID)
	require.NoError(t, err)

	_, err = f.engine.ProcessApproval(ctx, post.ID, legal, models.ActionApprove, "", nil)
	assert.True(t, errs.Is(err, errs.Forbidden))

	decision, err := f.engine.ProcessApproval(ctx, post.ID, editor, models.ActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, decision.Instance.CurrentStep)
	assert.Equal(t, locales.MsgWorkflowAdvanced, decision.MessageID)
	assert.Equal(t, "legal", decision.MessageData["NextRole"])
	assert.Equal(t, models.PostPendingReview, f.postStatus(t, post.ID))

	decision, err = f.engine.ProcessApproval(ctx, post.ID, legal, models.ActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, decision.Instance.Status)
	assert.Equal(t, models.PostApproved, f.postStatus(t, post.ID))
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)

	_, err = f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionReject, "off brand", nil)
	require.NoError(t, err)
	assert.Equal(t, models.PostRejected, f.postStatus(t, post.ID))

	_, err = f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionApprove, "", nil)
	assert.True(t, errs.Is(err, errs.InvalidTransition))
	assert.Equal(t, string(models.WorkflowRejected), errs.CurrentOf(err))
	assert.Equal(t, models.PostRejected, f.postStatus(t, post.ID))
}

func TestRequestChangesAndResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config(t, ConfigBody{Name: "two-step", Steps: []StepBody{{Role: "editor"}, {Role: "legal"}}})
	post := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "two-step", author.UserID)
	require.NoError(t, err)

	_, err = f.engine.ProcessApproval(ctx, post.ID, editor, models.ActionApprove, "", nil)
	require.NoError(t, err)
	decision, err := f.engine.ProcessApproval(ctx, post.ID, legal, models.ActionRequestChanges, "add disclaimer", map[string]any{"body": "needs #ad"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowChangesRequested, decision.Instance.Status)
	assert.Equal(t, 1, decision.Instance.CurrentStep)
	assert.Equal(t, models.PostChangesRequested, f.postStatus(t, post.ID))

	_, err = f.engine.ProcessApproval(ctx, post.ID, legal, models.ActionApprove, "", nil)
	assert.True(t, errs.Is(err, errs.InvalidTransition))

	_, err = f.engine.ProcessApproval(ctx, post.ID, author, models.ActionComment, "fixed", nil)
	require.NoError(t, err)

	_, err = f.engine.Resubmit(ctx, post.ID, editor)
	assert.True(t, errs.Is(err, errs.Forbidden))

	decision, err = f.engine.Resubmit(ctx, post.ID, author)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPendingReview, decision.Instance.Status)
	assert.Equal(t, 0, decision.Instance.CurrentStep)
	assert.Empty(t, decision.Instance.Steps[0].Decision)
	assert.Equal(t, models.PostPendingReview, f.postStatus(t, post.ID))

	status, err := f.engine.GetWorkflowStatus(ctx, "org", post.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.Instance.Version, status.Version)

	activities, err := f.engine.GetWorkflowActivities(ctx, "org", decision.Instance.ID)
	require.NoError(t, err)
	actions := make([]models.Action, 0, len(activities))
	for _, a := range activities {
		actions = append(actions, a.Action)
	}
	assert.Equal(t, []models.Action{
		models.ActionCreated,
		models.ActionApprove,
		models.ActionRequestChanges,
		models.ActionComment,
		models.ActionResubmitted,
	}, actions)
	assert.Equal(t, "needs #ad", activities[2].Changes["body"])
}

func TestTrailingOptionalStepDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config(t, ConfigBody{Name: "with-social", Steps: []StepBody{{Role: "manager"}, {Role: "social", Required: optional()}}})
	post := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "with-social", author.UserID)
	require.NoError(t, err)

	decision, err := f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, decision.Instance.Status)
}

func TestCommentKeepsStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)

	decision, err := f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionComment, "looks good so far", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.Instance.CurrentStep)
	assert.Equal(t, models.WorkflowPendingReview, decision.Instance.Status)

	_, err = f.engine.ProcessApproval(ctx, post.ID, editor, models.ActionComment, "drive-by", nil)
	assert.True(t, errs.Is(err, errs.Forbidden))
}

func TestStaleVersionIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)

	stale, err := f.engine.GetWorkflowStatus(ctx, "org", post.ID)
	require.NoError(t, err)
	_, err = f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionComment, "first", nil)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.WorkflowInstance{}).Where("id = ?", stale.ID).Update("version", stale.Version+1).Error)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.engine.apply(ctx, tx, post, stale, manager, models.ActionApprove, "", nil)
		return err
	})
	assert.True(t, errs.Is(err, errs.Conflict))
	assert.Equal(t, models.PostPendingReview, f.postStatus(t, post.ID))
}

func TestConcurrentApprovalsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)

	other := auth.Actor{UserID: "boss-2", OrganizationID: "org", Roles: []string{"manager"}}
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, actor := range []auth.Actor{manager, other} {
		wg.Add(1)
		go func(i int, actor auth.Actor) {
			defer wg.Done()
			_, results[i] = f.engine.ProcessApproval(ctx, post.ID, actor, models.ActionApprove, "", nil)
		}(i, actor)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		kind := errs.KindOf(err)
		assert.True(t, kind == errs.Conflict || kind == errs.InvalidTransition, "unexpected error %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, models.PostApproved, f.postStatus(t, post.ID))
}

func TestAutoPublishOnFinalApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config(t, ConfigBody{Name: "fast", Steps: []StepBody{{Role: "manager"}}, AutoPublish: true})
	post := f.draft(t)
	inst, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "fast", author.UserID)
	require.NoError(t, err)

	f.publisher.On("PublishNow", mock.Anything, post.ID, []string{"acc-a"}, "auto-publish:"+inst.ID).
		Return(&models.ScheduleEntry{ID: "entry-1"}, nil).Once()

	_, err = f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionApprove, "", nil)
	require.NoError(t, err)
	f.publisher.AssertExpectations(t)
}

func TestNotificationEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config(t, ConfigBody{
		Name:             "loud",
		Steps:            []StepBody{{Role: "manager"}},
		NotifyOnSubmit:   true,
		NotifyOnDecision: true,
		IsDefault:        true,
	})
	post := f.draft(t)

	inst, err := f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)
	assert.Equal(t, "loud", inst.WorkflowType)

	_, err = f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionComment, "hm", nil)
	require.NoError(t, err)
	_, err = f.engine.ProcessApproval(ctx, post.ID, manager, models.ActionReject, "", nil)
	require.NoError(t, err)

	submitted := f.recorder.OfType(events.WorkflowSubmitted)
	require.Len(t, submitted, 1)
	assert.Equal(t, post.ID, submitted[0].Subject)
	decided := f.recorder.OfType(events.WorkflowDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, "REJECTED", decided[0].Data["status"])
}

func TestPendingApprovalsFollowActiveStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config(t, ConfigBody{Name: "two-step", Steps: []StepBody{{Role: "editor"}, {Role: "legal"}}})
	first := f.draft(t)
	second := f.draft(t)
	_, err := f.engine.CreateWorkflow(ctx, first.ID, "org", "two-step", author.UserID)
	require.NoError(t, err)
	_, err = f.engine.CreateWorkflow(ctx, second.ID, "org", "two-step", author.UserID)
	require.NoError(t, err)
	_, err = f.engine.ProcessApproval(ctx, first.ID, editor, models.ActionApprove, "", nil)
	require.NoError(t, err)

	forEditor, err := f.engine.GetPendingApprovals(ctx, editor)
	require.NoError(t, err)
	require.Len(t, forEditor, 1)
	assert.Equal(t, second.ID, forEditor[0].PostID)

	forLegal, err := f.engine.GetPendingApprovals(ctx, legal)
	require.NoError(t, err)
	require.Len(t, forLegal, 1)
	assert.Equal(t, first.ID, forLegal[0].PostID)

	none, err := f.engine.GetPendingApprovals(ctx, auth.Actor{UserID: "x", OrganizationID: "other", Roles: []string{"editor"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateWorkflowErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateWorkflow(ctx, "missing", "org", "", author.UserID)
	assert.True(t, errs.Is(err, errs.NotFound))

	post := f.draft(t)
	_, err = f.engine.CreateWorkflow(ctx, post.ID, "org", "unknown-template", author.UserID)
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.Equal(t, models.PostDraft, f.postStatus(t, post.ID))

	_, err = f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	require.NoError(t, err)
	_, err = f.engine.CreateWorkflow(ctx, post.ID, "org", "", author.UserID)
	assert.True(t, errs.Is(err, errs.InvalidTransition))
}

func TestConfigValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateWorkflowConfig(ctx, "org", ConfigBody{Name: "lazy", Steps: []StepBody{{Role: "social", Required: optional()}}})
	require.Error(t, err)

	_, err = f.engine.CreateWorkflowConfig(ctx, "org", ConfigBody{Name: "empty"})
	require.Error(t, err)

	f.config(t, ConfigBody{Name: "dup", Steps: []StepBody{{Role: "manager"}}, IsDefault: true})
	_, err = f.engine.CreateWorkflowConfig(ctx, "org", ConfigBody{Name: "dup", Steps: []StepBody{{Role: "manager"}}})
	assert.True(t, errs.Is(err, errs.Conflict))

	f.config(t, ConfigBody{Name: "newer", Steps: []StepBody{{Role: "editor"}}, IsDefault: true})
	cfgs, err := f.engine.ListWorkflowConfigs(ctx, "org")
	require.NoError(t, err)
	defaults := 0
	for _, c := range cfgs {
		if c.IsDefault {
			defaults++
			assert.Equal(t, "newer", c.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}
