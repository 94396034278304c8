package connections

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creatorstation/publisher/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

const snapshotCollectionName = "profile_snapshots"

// ProfileSnapshot is a point-in-time copy of a connection's counters, kept so
// audience growth can be charted later.
type ProfileSnapshot struct {
	ConnectionID   string         `bson:"connection_id"`
	OrganizationID string         `bson:"organization_id"`
	Platform       string         `bson:"platform"`
	Followers      int64          `bson:"followers"`
	Following      int64          `bson:"following"`
	PostCount      int64          `bson:"post_count"`
	Extra          map[string]any `bson:"extra,omitempty"`
	TakenAt        time.Time      `bson:"taken_at"`
}

func snapshotOf(conn *models.SocialAccountConnection, at time.Time) ProfileSnapshot {
	return ProfileSnapshot{
		ConnectionID:   conn.ID,
		OrganizationID: conn.OrganizationID,
		Platform:       conn.Platform,
		Followers:      conn.Followers,
		Following:      conn.Following,
		PostCount:      conn.PostCount,
		Extra:          conn.Extra,
		TakenAt:        at,
	}
}

// SnapshotStore persists profile snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot ProfileSnapshot) error
}

// MongoSnapshots appends snapshots to a Mongo collection.
type MongoSnapshots struct {
	collection *mongo.Collection
}

func NewMongoSnapshots(db *mongo.Database) *MongoSnapshots {
	return &MongoSnapshots{collection: db.Collection(snapshotCollectionName)}
}

func (m *MongoSnapshots) Save(ctx context.Context, snapshot ProfileSnapshot) error {
	if _, err := m.collection.InsertOne(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to insert profile snapshot: %w", err)
	}
	return nil
}

// MemorySnapshots keeps snapshots in memory.
type MemorySnapshots struct {
	mu        sync.Mutex
	snapshots []ProfileSnapshot
}

func (m *MemorySnapshots) Save(_ context.Context, snapshot ProfileSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

// All returns a copy of the stored snapshots.
func (m *MemorySnapshots) All() []ProfileSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProfileSnapshot(nil), m.snapshots...)
}
