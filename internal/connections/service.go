// Package connections owns the lifecycle of linked social accounts: OAuth
// callback, transparent token refresh, disconnect and periodic profile sync.
package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/events"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/platform"
	"github.com/creatorstation/publisher/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// refreshSkew refreshes tokens slightly before they expire.
const refreshSkew = 2 * time.Minute

const syncConcurrency = 4

type Service struct {
	db        *gorm.DB
	registry  *platform.Registry
	sink      events.Sink
	snapshots SnapshotStore
	logger    logging.Logger
	refreshes singleflight.Group
	now       func() time.Time
}

func NewService(db *gorm.DB, registry *platform.Registry, sink events.Sink, snapshots SnapshotStore, logger logging.Logger) *Service {
	return &Service{
		db:        db,
		registry:  registry,
		sink:      sink,
		snapshots: snapshots,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Authorization is the consent redirect for one linking attempt.
type Authorization struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// Authorize builds the platform's consent URL. A state is generated when the
// caller does not bring one.
func (s *Service) Authorize(platformTag, state string) (*Authorization, error) {
	adapter, err := s.registry.Get(platformTag)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = uuid.NewString()
	}
	return &Authorization{URL: adapter.AuthorizationURL(state), State: state}, nil
}

// Callback exchanges an authorization code and stores the connection. Linking
// an account that is already connected refreshes its tokens and reactivates it.
func (s *Service) Callback(ctx context.Context, organizationID, platformTag, code, state string) (*models.SocialAccountConnection, error) {
	adapter, err := s.registry.Get(platformTag)
	if err != nil {
		return nil, err
	}

	token, err := adapter.ExchangeCode(ctx, code, state)
	if err != nil {
		return nil, err
	}
	profile, err := adapter.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, errs.Wrap(errs.AuthExchangeFailed, err, "could not load the linked profile").On("platform", platformTag)
	}
	externalID := token.ExternalAccountID
	if externalID == "" {
		externalID = profile.ExternalAccountID
	}
	if externalID == "" {
		return nil, errs.New(errs.AuthExchangeFailed, "platform did not identify the account").On("platform", platformTag)
	}

	now := s.now()
	var conn models.SocialAccountConnection
	reconnected := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("organization_id = ? AND platform = ? AND external_account_id = ?", organizationID, platformTag, externalID).
			First(&conn).Error
		switch {
		case err == nil:
			reconnected = true
		case errors.Is(err, gorm.ErrRecordNotFound):
			conn = models.SocialAccountConnection{
				OrganizationID:    organizationID,
				Platform:          platformTag,
				ExternalAccountID: externalID,
			}
		default:
			return fmt.Errorf("load connection: %w", err)
		}

		conn.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			conn.RefreshToken = token.RefreshToken
		}
		conn.ExpiresAt = token.ExpiresAt
		conn.Scopes = token.Scopes
		conn.Status = models.ConnectionActive
		applyProfile(&conn, profile, now)
		return tx.Save(&conn).Error
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.New(events.ConnectionCreated, organizationID, conn.ID, map[string]any{
		"platform":    platformTag,
		"reconnected": reconnected,
	}))
	s.logger.WithFields(logging.Fields{
		"connection_id": conn.ID,
		"platform":      platformTag,
		"reconnected":   reconnected,
	}).Info("Account connected")
	return &conn, nil
}

func applyProfile(conn *models.SocialAccountConnection, profile *platform.Profile, now time.Time) {
	if profile.DisplayName != "" {
		conn.DisplayName = profile.DisplayName
	} else if profile.Username != "" {
		conn.DisplayName = profile.Username
	}
	conn.AvatarURL = profile.AvatarURL
	conn.Followers = profile.Followers
	conn.Following = profile.Following
	conn.PostCount = profile.PostCount
	conn.Extra = profile.Extra
	if profile.Username != "" {
		if conn.Extra == nil {
			conn.Extra = map[string]any{}
		}
		conn.Extra["username"] = profile.Username
	}
	conn.LastSyncAt = &now
}

// List returns the organization's connections.
func (s *Service) List(ctx context.Context, organizationID string) ([]models.SocialAccountConnection, error) {
	var conns []models.SocialAccountConnection
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("platform ASC").
		Order("display_name ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// Get returns one connection of the organization.
func (s *Service) Get(ctx context.Context, organizationID, id string) (*models.SocialAccountConnection, error) {
	conn, err := store.GetConnection(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if conn.OrganizationID != organizationID {
		return nil, errs.NotFoundf("connection", id)
	}
	return conn, nil
}

// Disconnect revokes the token upstream (best effort) and deletes the
// connection. Targets still pointing at it fail when they fire.
func (s *Service) Disconnect(ctx context.Context, organizationID, id string) error {
	conn, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return err
	}

	if adapter, err := s.registry.Get(conn.Platform); err == nil {
		adapter.Revoke(ctx, conn.AccessToken)
	} else {
		s.logger.WithField("platform", conn.Platform).Warn("No adapter for disconnected account, skipping revoke")
	}

	if err := s.db.WithContext(ctx).Delete(&models.SocialAccountConnection{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}

	s.emit(ctx, events.New(events.ConnectionRevoked, organizationID, id, map[string]any{
		"platform":            conn.Platform,
		"external_account_id": conn.ExternalAccountID,
	}))
	s.logger.WithFields(logging.Fields{"connection_id": id, "platform": conn.Platform}).Info("Account disconnected")
	return nil
}

// EnsureFresh returns a connection whose access token is usable. An EXPIRED
// connection, or one whose token is about to lapse, gets exactly one refresh;
// concurrent callers for the same connection share it. A failed refresh
// leaves the connection EXPIRED and returns RefreshFailed.
func (s *Service) EnsureFresh(ctx context.Context, conn *models.SocialAccountConnection) (*models.SocialAccountConnection, error) {
	switch conn.Status {
	case models.ConnectionRevoked, models.ConnectionSuspended:
		return nil, errs.New(errs.Forbidden, "connection is not active").
			On("connection", conn.ID).
			WithCurrent(string(conn.Status))
	case models.ConnectionActive:
		if !conn.TokenExpired(s.now(), refreshSkew) {
			return conn, nil
		}
	}

	v, err, _ := s.refreshes.Do(conn.ID, func() (any, error) {
		return s.refresh(ctx, conn.ID)
	})
	if err != nil {
		return nil, err
	}
	fresh := *v.(*models.SocialAccountConnection)
	return &fresh, nil
}

func (s *Service) refresh(ctx context.Context, id string) (*models.SocialAccountConnection, error) {
	conn, err := store.GetConnection(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	// Another worker may have refreshed it already.
	if conn.Status == models.ConnectionActive && !conn.TokenExpired(s.now(), refreshSkew) {
		return conn, nil
	}
	if conn.Status != models.ConnectionActive && conn.Status != models.ConnectionExpired {
		return nil, errs.New(errs.Forbidden, "connection is not active").On("connection", id).WithCurrent(string(conn.Status))
	}

	adapter, err := s.registry.Get(conn.Platform)
	if err != nil {
		return nil, err
	}
	if conn.RefreshToken == "" {
		cause := errs.New(errs.RefreshFailed, "no refresh token stored").On("connection", id)
		s.MarkExpired(ctx, conn, cause)
		return nil, cause
	}

	token, err := adapter.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		if !errs.Is(err, errs.RefreshFailed) {
			err = errs.Wrap(errs.RefreshFailed, err, "token refresh failed").On("connection", id)
		}
		s.MarkExpired(ctx, conn, err)
		return nil, err
	}

	conn.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	conn.ExpiresAt = token.ExpiresAt
	conn.Status = models.ConnectionActive
	if err := s.db.WithContext(ctx).Model(conn).
		Select("AccessToken", "RefreshToken", "ExpiresAt", "Status").
		Updates(conn).Error; err != nil {
		return nil, fmt.Errorf("store refreshed token of %s: %w", id, err)
	}

	s.logger.WithFields(logging.Fields{"connection_id": id, "platform": conn.Platform}).Info("Access token refreshed")
	return conn, nil
}

// MarkExpired flags a connection for re-authentication. The expiry event is
// only emitted on the transition out of ACTIVE.
func (s *Service) MarkExpired(ctx context.Context, conn *models.SocialAccountConnection, cause error) {
	res := s.db.WithContext(ctx).Model(&models.SocialAccountConnection{}).
		Where("id = ? AND status = ?", conn.ID, models.ConnectionActive).
		Update("status", models.ConnectionExpired)
	if res.Error != nil {
		s.logger.WithError(res.Error).WithField("connection_id", conn.ID).Error("Failed to mark connection expired")
		return
	}
	conn.Status = models.ConnectionExpired
	if res.RowsAffected == 0 {
		return
	}

	data := map[string]any{"platform": conn.Platform}
	if cause != nil {
		data["reason"] = cause.Error()
	}
	s.emit(ctx, events.New(events.ConnectionExpired, conn.OrganizationID, conn.ID, data))
	s.logger.WithError(cause).WithFields(logging.Fields{
		"connection_id": conn.ID,
		"platform":      conn.Platform,
	}).Warn("Connection expired, re-authentication required")
}

// SyncProfiles refreshes the profile counters of every ACTIVE connection and
// returns how many were updated.
func (s *Service) SyncProfiles(ctx context.Context) (int, error) {
	var conns []models.SocialAccountConnection
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.ConnectionActive).
		Find(&conns).Error; err != nil {
		return 0, fmt.Errorf("load active connections: %w", err)
	}

	synced := make([]bool, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for i := range conns {
		g.Go(func() error {
			if err := s.syncOne(gctx, &conns[i]); err != nil {
				s.logger.WithError(err).WithFields(logging.Fields{
					"connection_id": conns[i].ID,
					"platform":      conns[i].Platform,
				}).Warn("Profile sync failed")
				return nil
			}
			synced[i] = true
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range synced {
		if ok {
			count++
		}
	}
	return count, nil
}

func (s *Service) syncOne(ctx context.Context, conn *models.SocialAccountConnection) error {
	fresh, err := s.EnsureFresh(ctx, conn)
	if err != nil {
		return err
	}
	adapter, err := s.registry.Get(fresh.Platform)
	if err != nil {
		return err
	}
	profile, err := adapter.FetchProfile(ctx, fresh.AccessToken)
	if err != nil {
		return err
	}

	now := s.now()
	applyProfile(fresh, profile, now)
	if err := s.db.WithContext(ctx).Model(fresh).
		Select("DisplayName", "AvatarURL", "Followers", "Following", "PostCount", "Extra", "LastSyncAt").
		Updates(fresh).Error; err != nil {
		return fmt.Errorf("store profile of %s: %w", fresh.ID, err)
	}

	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, snapshotOf(fresh, now)); err != nil {
			s.logger.WithError(err).WithField("connection_id", fresh.ID).Warn("Failed to store profile snapshot")
		}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event", event.Type).Warn("Failed to emit event")
	}
}
