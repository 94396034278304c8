// Package posts is the authoring surface: posts are drafted and edited here
// before the workflow engine and the scheduler take over their status.
package posts

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/store"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	logger logging.Logger
}

func NewService(db *gorm.DB, logger logging.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create stores a new DRAFT post.
func (s *Service) Create(ctx context.Context, organizationID, authorID string, body PostBody) (*models.Post, error) {
	if err := body.Validate(); err != nil {
		return nil, err
	}

	post := &models.Post{
		OrganizationID:   organizationID,
		AuthorID:         authorID,
		Body:             body.Body,
		Media:            body.media(),
		Platforms:        body.Platforms,
		AccountIDs:       body.AccountIDs,
		ApprovalRequired: body.ApprovalRequired,
		Status:           models.PostDraft,
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"post_id":         post.ID,
		"organization_id": organizationID,
	}).Info("Post created")
	return post, nil
}

// Get returns a post owned by the organization.
func (s *Service) Get(ctx context.Context, organizationID, id string) (*models.Post, error) {
	post, err := store.GetPost(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if post.OrganizationID != organizationID {
		return nil, errs.NotFoundf("post", id)
	}
	return post, nil
}

// List returns the organization's posts, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, organizationID string, status models.PostStatus) ([]models.Post, error) {
	q := s.db.WithContext(ctx).
		Where("organization_id = ? AND archived_at IS NULL", organizationID).
		Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var posts []models.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// Update replaces the content of a post the author may still edit.
func (s *Service) Update(ctx context.Context, organizationID, id string, body PostBody) (*models.Post, error) {
	if err := body.Validate(); err != nil {
		return nil, err
	}

	post, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if !post.Editable() {
		return nil, errs.New(errs.InvalidTransition, "post can no longer be edited").
			On("post", id).
			WithCurrent(string(post.Status))
	}

	expected := post.Status
	post.Body = body.Body
	post.Media = body.media()
	post.Platforms = body.Platforms
	post.AccountIDs = body.AccountIDs
	post.ApprovalRequired = body.ApprovalRequired

	res := s.db.WithContext(ctx).
		Model(post).
		Where("status = ?", expected).
		Select("Body", "Media", "Platforms", "AccountIDs", "ApprovalRequired").
		Updates(post)
	if res.Error != nil {
		return nil, fmt.Errorf("update post %s: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		current, err := store.GetPost(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		return nil, errs.New(errs.InvalidTransition, "post changed status while being edited").
			On("post", id).
			WithCurrent(string(current.Status))
	}
	return post, nil
}

// Delete removes a post. Published posts are archived instead so their
// delivery history survives; posts in flight cannot be removed.
func (s *Service) Delete(ctx context.Context, organizationID, id string) (*models.Post, error) {
	post, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	switch post.Status {
	case models.PostQueued:
		return nil, errs.New(errs.InvalidTransition, "post is being published").
			On("post", id).
			WithCurrent(string(post.Status))
	case models.PostPublished:
		now := time.Now().UTC()
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := stopSchedules(tx, id); err != nil {
				return err
			}
			res := tx.Model(&models.Post{}).
				Where("id = ? AND status = ?", id, models.PostPublished).
				Update("archived_at", now)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return errs.New(errs.InvalidTransition, "post changed status while being archived").On("post", id)
			}
			return nil
		})
		if err != nil {
			if errs.Is(err, errs.InvalidTransition) {
				return nil, err
			}
			return nil, fmt.Errorf("archive post %s: %w", id, err)
		}
		post.ArchivedAt = &now
		s.logger.WithField("post_id", id).Info("Published post archived")
		return post, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := stopSchedules(tx, id); err != nil {
			return err
		}

		var instanceIDs []string
		if err := tx.Model(&models.WorkflowInstance{}).Where("post_id = ?", id).Pluck("id", &instanceIDs).Error; err != nil {
			return err
		}
		if len(instanceIDs) > 0 {
			if err := tx.Where("workflow_id IN ?", instanceIDs).Delete(&models.WorkflowActivity{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", instanceIDs).Delete(&models.WorkflowInstance{}).Error; err != nil {
				return err
			}
		}

		del := tx.Where("id = ? AND status = ?", id, post.Status).Delete(&models.Post{})
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected != 1 {
			return errs.New(errs.InvalidTransition, "post changed status while being deleted").On("post", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("post_id", id).Info("Post deleted")
	return post, nil
}

// stopSchedules cancels everything still planned for a post. Pending entries
// and their targets close now; an entry already in flight is asked to stop
// and keeps whatever it has published.
func stopSchedules(tx *gorm.DB, postID string) error {
	var pending []string
	if err := tx.Model(&models.ScheduleEntry{}).
		Where("post_id = ? AND status = ?", postID, models.EntryPending).
		Pluck("id", &pending).Error; err != nil {
		return err
	}
	if len(pending) > 0 {
		if err := tx.Model(&models.ScheduleEntry{}).
			Where("id IN ?", pending).
			Update("status", models.EntryCancelled).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.DeliveryTarget{}).
			Where("entry_id IN ? AND status = ?", pending, models.TargetPending).
			Update("status", models.TargetCancelled).Error; err != nil {
			return err
		}
	}
	if err := tx.Model(&models.ScheduleEntry{}).
		Where("post_id = ? AND status = ?", postID, models.EntryQueued).
		Update("cancel_requested", true).Error; err != nil {
		return err
	}
	return tx.Model(&models.ScheduleTemplate{}).
		Where("post_id = ? AND status = ?", postID, models.TemplateActive).
		Update("status", models.TemplateCancelled).Error
}
