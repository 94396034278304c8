// Package store holds the reads and guarded status transitions shared by the
// workflow engine, the scheduler and the orchestrator.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/models"
	"gorm.io/gorm"
)

// GetPost loads a post by id.
func GetPost(ctx context.Context, db *gorm.DB, id string) (*models.Post, error) {
	var post models.Post
	if err := db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("post", id)
		}
		return nil, fmt.Errorf("load post %s: %w", id, err)
	}
	return &post, nil
}

// TransitionPost moves a post to status `to` if it currently holds one of
// `from`. The update is a single conditional statement, so concurrent callers
// cannot both move the same post out of the same state.
func TransitionPost(ctx context.Context, db *gorm.DB, id string, to models.PostStatus, from ...models.PostStatus) error {
	return TransitionPostWith(ctx, db, id, map[string]any{"status": to}, from...)
}

// TransitionPostWith is TransitionPost with extra columns updated in the same statement.
func TransitionPostWith(ctx context.Context, db *gorm.DB, id string, fields map[string]any, from ...models.PostStatus) error {
	q := db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update post %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	post, err := GetPost(ctx, db, id)
	if err != nil {
		return err
	}
	return errs.New(errs.InvalidTransition, "cannot move to %v", fields["status"]).
		On("post", id).
		WithCurrent(string(post.Status))
}

// GetConnection loads a social account connection by id.
func GetConnection(ctx context.Context, db *gorm.DB, id string) (*models.SocialAccountConnection, error) {
	var conn models.SocialAccountConnection
	if err := db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("connection", id)
		}
		return nil, fmt.Errorf("load connection %s: %w", id, err)
	}
	return &conn, nil
}

// GetEntry loads a schedule entry together with its delivery targets.
func GetEntry(ctx context.Context, db *gorm.DB, id string) (*models.ScheduleEntry, error) {
	var entry models.ScheduleEntry
	if err := db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("schedule_entry", id)
		}
		return nil, fmt.Errorf("load entry %s: %w", id, err)
	}
	targets, err := ListTargets(ctx, db, id)
	if err != nil {
		return nil, err
	}
	entry.Targets = targets
	return &entry, nil
}

// ListTargets returns the delivery targets of an entry in account order.
func ListTargets(ctx context.Context, db *gorm.DB, entryID string) ([]models.DeliveryTarget, error) {
	var targets []models.DeliveryTarget
	if err := db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("account_id ASC").
		Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("load targets of entry %s: %w", entryID, err)
	}
	return targets, nil
}

// ListAttempts returns every delivery attempt recorded for an entry, oldest first.
func ListAttempts(ctx context.Context, db *gorm.DB, entryID string) ([]models.DeliveryAttempt, error) {
	var attempts []models.DeliveryAttempt
	if err := db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("id ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("load attempts of entry %s: %w", entryID, err)
	}
	return attempts, nil
}

// HasOpenEntries reports whether a post still has entries waiting to fire or in flight.
func HasOpenEntries(ctx context.Context, db *gorm.DB, postID string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.ScheduleEntry{}).
		Where("post_id = ? AND status IN ?", postID, []models.EntryStatus{models.EntryPending, models.EntryQueued}).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count open entries of post %s: %w", postID, err)
	}
	return count > 0, nil
}
