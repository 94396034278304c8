package store

import (
	"context"
	"testing"

	"github.com/creatorstation/publisher/internal/db/dbtest"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionPost(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	post := models.Post{OrganizationID: "org", AuthorID: "author", Body: "hello"}
	require.NoError(t, db.Create(&post).Error)
	assert.Equal(t, models.PostDraft, post.Status)

	require.NoError(t, TransitionPost(ctx, db, post.ID, models.PostPendingReview, models.PostDraft))

	err := TransitionPost(ctx, db, post.ID, models.PostPendingReview, models.PostDraft)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidTransition))
	assert.Equal(t, string(models.PostPendingReview), errs.CurrentOf(err))

	got, err := GetPost(ctx, db, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPendingReview, got.Status)
}

func TestGetPostNotFound(t *testing.T) {
	db := dbtest.New(t)
	_, err := GetPost(context.Background(), db, "missing")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestGetEntryLoadsTargets(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	entry := models.ScheduleEntry{PostID: "p", OrganizationID: "org", AccountIDs: []string{"b", "a"}, Timezone: "UTC"}
	require.NoError(t, db.Create(&entry).Error)
	require.NoError(t, db.Create(&models.DeliveryTarget{EntryID: entry.ID, AccountID: "b"}).Error)
	require.NoError(t, db.Create(&models.DeliveryTarget{EntryID: entry.ID, AccountID: "a"}).Error)

	got, err := GetEntry(ctx, db, entry.ID)
	require.NoError(t, err)
	require.Len(t, got.Targets, 2)
	assert.Equal(t, "a", got.Targets[0].AccountID)
	assert.Equal(t, models.TargetPending, got.Targets[0].Status)

	open, err := HasOpenEntries(ctx, db, "p")
	require.NoError(t, err)
	assert.True(t, open)
}
