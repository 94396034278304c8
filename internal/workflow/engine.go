// Package workflow gates posts behind ordered approval steps. Each instance
// is advanced under an optimistic lock on its version, so of two approvers
// acting on the same step only the first succeeds.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/events"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/metrics"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/store"
	"gorm.io/gorm"
)

// DefaultRole approves posts of organizations without a configured template.
const DefaultRole = "manager"

// Publisher starts an immediate publish. The orchestrator implements it.
type Publisher interface {
	PublishNow(ctx context.Context, postID string, accountIDs []string, idempotencyKey string) (*models.ScheduleEntry, error)
}

type Engine struct {
	db        *gorm.DB
	sink      events.Sink
	metrics   *metrics.Metrics
	logger    logging.Logger
	publisher Publisher
}

func NewEngine(db *gorm.DB, sink events.Sink, m *metrics.Metrics, logger logging.Logger, publisher Publisher) *Engine {
	return &Engine{db: db, sink: sink, metrics: m, logger: logger, publisher: publisher}
}

// Decision is the result of an approval action together with the message
// shown to the approver.
type Decision struct {
	Instance    *models.WorkflowInstance `json:"instance"`
	Activity    *models.WorkflowActivity `json:"activity"`
	PostStatus  models.PostStatus        `json:"postStatus"`
	MessageID   string                   `json:"-"`
	MessageData map[string]any           `json:"-"`
}

func defaultStepName(i int, role string) string {
	return fmt.Sprintf("Step %d (%s)", i+1, role)
}

func defaultSteps() []models.StepDefinition {
	return []models.StepDefinition{{Name: "Manager review", Role: DefaultRole, Required: true}}
}

// CreateWorkflow submits a DRAFT post for review using the named template,
// the organization's default template, or a single manager step.
func (e *Engine) CreateWorkflow(ctx context.Context, postID, organizationID, workflowType, submittedBy string) (*models.WorkflowInstance, error) {
	var inst *models.WorkflowInstance

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := store.GetPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if post.OrganizationID != organizationID {
			return errs.NotFoundf("post", postID)
		}

		var existing int64
		if err := tx.Model(&models.WorkflowInstance{}).Where("post_id = ?", postID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errs.New(errs.InvalidTransition, "post already has a workflow").
				On("post", postID).
				WithCurrent(string(post.Status))
		}

		cfg, err := e.resolveConfig(ctx, tx, organizationID, workflowType)
		if err != nil {
			return err
		}

		inst = &models.WorkflowInstance{
			PostID:         postID,
			OrganizationID: organizationID,
			WorkflowType:   workflowType,
			Status:         models.WorkflowPendingReview,
			SubmittedBy:    submittedBy,
		}
		steps := defaultSteps()
		if cfg != nil {
			inst.ConfigID = &cfg.ID
			inst.WorkflowType = cfg.Name
			inst.AutoPublish = cfg.AutoPublish
			inst.NotifyOnSubmit = cfg.NotifyOnSubmit
			inst.NotifyOnDecision = cfg.NotifyOnDecision
			steps = cfg.Steps
		}
		if inst.WorkflowType == "" {
			inst.WorkflowType = "default"
		}
		for _, s := range steps {
			inst.Steps = append(inst.Steps, models.WorkflowStep{Name: s.Name, Role: s.Role, Required: s.Required})
		}

		if err := store.TransitionPostWith(ctx, tx, postID, map[string]any{
			"status":            models.PostPendingReview,
			"approval_required": true,
		}, models.PostDraft); err != nil {
			return err
		}
		if err := tx.Create(inst).Error; err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		return tx.Create(&models.WorkflowActivity{
			WorkflowID: inst.ID,
			PostID:     postID,
			UserID:     submittedBy,
			Action:     models.ActionCreated,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logging.Fields{
		"workflow_id":   inst.ID,
		"post_id":       postID,
		"workflow_type": inst.WorkflowType,
		"steps":         len(inst.Steps),
	}).Info("Approval workflow created")

	if inst.NotifyOnSubmit {
		e.emit(ctx, events.New(events.WorkflowSubmitted, organizationID, postID, map[string]any{
			"workflow_id": inst.ID,
			"role":        inst.Steps[0].Role,
		}))
	}
	return inst, nil
}

func (e *Engine) resolveConfig(ctx context.Context, tx *gorm.DB, organizationID, workflowType string) (*models.WorkflowConfig, error) {
	var cfg models.WorkflowConfig
	q := tx.WithContext(ctx).Where("organization_id = ?", organizationID)
	if workflowType != "" {
		q = q.Where("name = ?", workflowType)
	} else {
		q = q.Where("is_default = ?", true)
	}

	err := q.First(&cfg).Error
	switch {
	case err == nil:
		return &cfg, nil
	case errors.Is(err, gorm.ErrRecordNotFound) && workflowType == "":
		return nil, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errs.NotFoundf("workflow_config", workflowType)
	default:
		return nil, fmt.Errorf("load workflow config: %w", err)
	}
}

// ProcessApproval applies an approver's action to the active step.
func (e *Engine) ProcessApproval(ctx context.Context, postID string, actor auth.Actor, action models.Action, comment string, changes map[string]any) (*Decision, error) {
	if !action.Valid() {
		return nil, errs.New(errs.Validation, "unknown action %q", action)
	}

	var decision *Decision
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inst, err := e.loadByPost(ctx, tx, postID, actor.OrganizationID)
		if err != nil {
			return err
		}
		post, err := store.GetPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		decision, err = e.apply(ctx, tx, post, inst, actor, action, comment, changes)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Approval(string(action))
	e.logger.WithFields(logging.Fields{
		"workflow_id": decision.Instance.ID,
		"post_id":     postID,
		"user_id":     actor.UserID,
		"action":      action,
		"status":      decision.Instance.Status,
		"step":        decision.Instance.CurrentStep,
	}).Info("Approval action processed")

	if action != models.ActionComment && decision.Instance.NotifyOnDecision {
		e.emit(ctx, events.New(events.WorkflowDecided, actor.OrganizationID, postID, map[string]any{
			"workflow_id": decision.Instance.ID,
			"action":      string(action),
			"status":      string(decision.Instance.Status),
			"user_id":     actor.UserID,
		}))
	}
	if decision.Instance.Status == models.WorkflowApproved && decision.Instance.AutoPublish {
		e.autoPublish(ctx, decision.Instance)
	}
	return decision, nil
}

// apply runs inside the caller's transaction. inst carries the version the
// caller observed; a concurrent decision makes the conditional update miss.
func (e *Engine) apply(ctx context.Context, tx *gorm.DB, post *models.Post, inst *models.WorkflowInstance, actor auth.Actor, action models.Action, comment string, changes map[string]any) (*Decision, error) {
	if inst.Status.Terminal() {
		return nil, errs.New(errs.InvalidTransition, "workflow is closed").
			On("workflow", inst.ID).
			WithCurrent(string(inst.Status)).
			WithState(inst)
	}
	if inst.Status == models.WorkflowChangesRequested && action != models.ActionComment {
		return nil, errs.New(errs.InvalidTransition, "waiting for the author to resubmit").
			On("workflow", inst.ID).
			WithCurrent(string(inst.Status)).
			WithState(inst)
	}

	step := inst.Current()
	if step == nil {
		return nil, errs.New(errs.InvalidTransition, "no active step").
			On("workflow", inst.ID).
			WithCurrent(string(inst.Status)).
			WithState(inst)
	}
	isAuthor := actor.UserID == inst.SubmittedBy || actor.UserID == post.AuthorID
	if !actor.HasRole(step.Role) && !(action == models.ActionComment && isAuthor) {
		return nil, errs.New(errs.Forbidden, "step %q requires role %s", step.Name, step.Role).On("workflow", inst.ID)
	}

	stepIndex := inst.CurrentStep
	now := time.Now().UTC()
	decision := &Decision{Instance: inst, PostStatus: post.Status, MessageData: map[string]any{"Step": step.Name}}

	switch action {
	case models.ActionComment:
		decision.MessageID = locales.MsgWorkflowCommented
	case models.ActionApprove:
		step.Decision = string(models.ActionApprove)
		step.DecidedBy = actor.UserID
		step.DecidedAt = &now
		inst.CurrentStep++
		if !requiredStepsRemain(inst) {
			inst.Status = models.WorkflowApproved
			inst.CompletedAt = &now
			decision.PostStatus = models.PostApproved
			decision.MessageID = locales.MsgWorkflowApproved
		} else {
			decision.MessageID = locales.MsgWorkflowAdvanced
			decision.MessageData["NextRole"] = inst.Steps[inst.CurrentStep].Role
		}
	case models.ActionReject:
		step.Decision = string(models.ActionReject)
		step.DecidedBy = actor.UserID
		step.DecidedAt = &now
		inst.Status = models.WorkflowRejected
		inst.CompletedAt = &now
		decision.PostStatus = models.PostRejected
		decision.MessageID = locales.MsgWorkflowRejected
	case models.ActionRequestChanges:
		step.Decision = string(models.ActionRequestChanges)
		step.DecidedBy = actor.UserID
		step.DecidedAt = &now
		inst.Status = models.WorkflowChangesRequested
		decision.PostStatus = models.PostChangesRequested
		decision.MessageID = locales.MsgWorkflowChangesRequested
	}

	if action != models.ActionComment {
		if err := e.saveInstance(ctx, tx, inst); err != nil {
			return nil, err
		}
		if decision.PostStatus != post.Status {
			if err := store.TransitionPost(ctx, tx, post.ID, decision.PostStatus, models.PostPendingReview); err != nil {
				return nil, err
			}
		}
	}

	activity := &models.WorkflowActivity{
		WorkflowID: inst.ID,
		PostID:     post.ID,
		UserID:     actor.UserID,
		Action:     action,
		StepIndex:  stepIndex,
		Comment:    comment,
		Changes:    changes,
	}
	if err := tx.WithContext(ctx).Create(activity).Error; err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}
	decision.Activity = activity
	return decision, nil
}

// requiredStepsRemain reports whether a required step is left at or after
// the current index. Trailing optional steps never block approval.
func requiredStepsRemain(inst *models.WorkflowInstance) bool {
	for _, s := range inst.Steps[min(inst.CurrentStep, len(inst.Steps)):] {
		if s.Required {
			return true
		}
	}
	return false
}

func (e *Engine) saveInstance(ctx context.Context, tx *gorm.DB, inst *models.WorkflowInstance) error {
	expected := inst.Version
	inst.Version++
	res := tx.WithContext(ctx).
		Model(inst).
		Where("version = ?", expected).
		Select("Steps", "CurrentStep", "Status", "Version", "CompletedAt").
		Updates(inst)
	if res.Error != nil {
		return fmt.Errorf("update workflow %s: %w", inst.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		var current models.WorkflowInstance
		if err := tx.WithContext(ctx).First(&current, "id = ?", inst.ID).Error; err != nil {
			return fmt.Errorf("reload workflow %s: %w", inst.ID, err)
		}
		return errs.New(errs.Conflict, "step already decided by another approver").
			On("workflow", inst.ID).
			WithCurrent(string(current.Status)).
			WithState(&current)
	}
	return nil
}

// Resubmit returns a post with requested changes to the first step.
func (e *Engine) Resubmit(ctx context.Context, postID string, actor auth.Actor) (*Decision, error) {
	var decision *Decision
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inst, err := e.loadByPost(ctx, tx, postID, actor.OrganizationID)
		if err != nil {
			return err
		}
		post, err := store.GetPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if inst.Status != models.WorkflowChangesRequested {
			return errs.New(errs.InvalidTransition, "only posts with requested changes can be resubmitted").
				On("workflow", inst.ID).
				WithCurrent(string(inst.Status)).
				WithState(inst)
		}
		if actor.UserID != inst.SubmittedBy && actor.UserID != post.AuthorID {
			return errs.New(errs.Forbidden, "only the author can resubmit").On("workflow", inst.ID)
		}

		inst.Status = models.WorkflowPendingReview
		inst.CurrentStep = 0
		for i := range inst.Steps {
			inst.Steps[i].Decision = ""
			inst.Steps[i].DecidedBy = ""
			inst.Steps[i].DecidedAt = nil
		}
		if err := e.saveInstance(ctx, tx, inst); err != nil {
			return err
		}
		if err := store.TransitionPost(ctx, tx, postID, models.PostPendingReview, models.PostChangesRequested); err != nil {
			return err
		}

		activity := &models.WorkflowActivity{
			WorkflowID: inst.ID,
			PostID:     postID,
			UserID:     actor.UserID,
			Action:     models.ActionResubmitted,
		}
		if err := tx.Create(activity).Error; err != nil {
			return fmt.Errorf("record activity: %w", err)
		}
		decision = &Decision{
			Instance:   inst,
			Activity:   activity,
			PostStatus: models.PostPendingReview,
			MessageID:  locales.MsgWorkflowResubmitted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logging.Fields{"workflow_id": decision.Instance.ID, "post_id": postID}).Info("Post resubmitted")
	if decision.Instance.NotifyOnSubmit {
		e.emit(ctx, events.New(events.WorkflowSubmitted, actor.OrganizationID, postID, map[string]any{
			"workflow_id": decision.Instance.ID,
			"role":        decision.Instance.Steps[0].Role,
			"resubmitted": true,
		}))
	}
	return decision, nil
}

// GetWorkflowStatus returns the workflow of a post.
func (e *Engine) GetWorkflowStatus(ctx context.Context, organizationID, postID string) (*models.WorkflowInstance, error) {
	return e.loadByPost(ctx, e.db, postID, organizationID)
}

// GetPendingApprovals lists workflows whose active step the actor can decide,
// oldest first.
func (e *Engine) GetPendingApprovals(ctx context.Context, actor auth.Actor) ([]models.WorkflowInstance, error) {
	var candidates []models.WorkflowInstance
	if err := e.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", actor.OrganizationID, models.WorkflowPendingReview).
		Order("created_at ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("list pending workflows: %w", err)
	}

	pending := slices.DeleteFunc(candidates, func(inst models.WorkflowInstance) bool {
		step := inst.Current()
		return step == nil || !actor.HasRole(step.Role)
	})
	return pending, nil
}

// GetWorkflowActivities returns the activity log of a workflow in order.
func (e *Engine) GetWorkflowActivities(ctx context.Context, organizationID, workflowID string) ([]models.WorkflowActivity, error) {
	var inst models.WorkflowInstance
	if err := e.db.WithContext(ctx).First(&inst, "id = ? AND organization_id = ?", workflowID, organizationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("workflow", workflowID)
		}
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	var activities []models.WorkflowActivity
	if err := e.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("id ASC").
		Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// CreateWorkflowConfig stores a named template for the organization. Marking
// it default clears the flag on the previous default.
func (e *Engine) CreateWorkflowConfig(ctx context.Context, organizationID string, body ConfigBody) (*models.WorkflowConfig, error) {
	if err := body.Validate(); err != nil {
		return nil, err
	}

	cfg := &models.WorkflowConfig{
		OrganizationID:   organizationID,
		Name:             body.Name,
		Steps:            body.definitions(),
		AutoPublish:      body.AutoPublish,
		NotifyOnSubmit:   body.NotifyOnSubmit,
		NotifyOnDecision: body.NotifyOnDecision,
		IsDefault:        body.IsDefault,
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dup int64
		if err := tx.Model(&models.WorkflowConfig{}).
			Where("organization_id = ? AND name = ?", organizationID, body.Name).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return errs.New(errs.Conflict, "workflow config %q already exists", body.Name)
		}
		if body.IsDefault {
			if err := tx.Model(&models.WorkflowConfig{}).
				Where("organization_id = ? AND is_default = ?", organizationID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(cfg).Error
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logging.Fields{
		"organization_id": organizationID,
		"config":          cfg.Name,
		"steps":           len(cfg.Steps),
	}).Info("Workflow config created")
	return cfg, nil
}

// ListWorkflowConfigs returns the organization's templates by name.
func (e *Engine) ListWorkflowConfigs(ctx context.Context, organizationID string) ([]models.WorkflowConfig, error) {
	var cfgs []models.WorkflowConfig
	if err := e.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("name ASC").
		Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("list workflow configs: %w", err)
	}
	return cfgs, nil
}

func (e *Engine) loadByPost(ctx context.Context, db *gorm.DB, postID, organizationID string) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	if err := db.WithContext(ctx).First(&inst, "post_id = ? AND organization_id = ?", postID, organizationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.NotFound, "no workflow for post").On("post", postID)
		}
		return nil, fmt.Errorf("load workflow of post %s: %w", postID, err)
	}
	return &inst, nil
}

// autoPublish hands an approved post to the publish-now path. Entries the
// post already has are left alone.
func (e *Engine) autoPublish(ctx context.Context, inst *models.WorkflowInstance) {
	log := e.logger.WithFields(logging.Fields{"workflow_id": inst.ID, "post_id": inst.PostID})
	if e.publisher == nil {
		log.Warn("Auto-publish requested but no publisher is configured")
		return
	}

	post, err := store.GetPost(ctx, e.db, inst.PostID)
	if err != nil {
		log.WithError(err).Error("Auto-publish could not load post")
		return
	}
	if len(post.AccountIDs) == 0 {
		log.Warn("Auto-publish skipped: post has no target accounts")
		return
	}

	entry, err := e.publisher.PublishNow(ctx, inst.PostID, post.AccountIDs, "auto-publish:"+inst.ID)
	if err != nil {
		log.WithError(err).Error("Auto-publish failed")
		return
	}
	log.WithField("entry_id", entry.ID).Info("Auto-publish started")
}

func (e *Engine) emit(ctx context.Context, event events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(ctx, event); err != nil {
		e.logger.WithError(err).WithField("event", event.Type).Warn("Failed to emit event")
	}
}
