package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const engagementCollectionName = "engagement_history"

// EngagementSample is the interaction count of one past post.
type EngagementSample struct {
	Platform   string
	PostedAt   time.Time
	Engagement float64
}

// EngagementSource supplies the history time suggestions are ranked from.
type EngagementSource interface {
	Samples(ctx context.Context, organizationID string, platforms []string, since time.Time) ([]EngagementSample, error)
}

// engagementRecord is the document shape the analytics collaborator writes.
type engagementRecord struct {
	OrganizationID string    `bson:"organization_id"`
	Platform       string    `bson:"platform"`
	PostedAt       time.Time `bson:"posted_at"`
	Likes          int64     `bson:"likes"`
	Comments       int64     `bson:"comments"`
	Shares         int64     `bson:"shares"`
	Saves          int64     `bson:"saves"`
}

// weight favours interactions that take more effort.
func (r engagementRecord) weight() float64 {
	return float64(r.Likes) + 2*float64(r.Comments) + 3*float64(r.Shares) + 2*float64(r.Saves)
}

// MongoEngagement reads post history from Mongo.
type MongoEngagement struct {
	collection *mongo.Collection
}

func NewMongoEngagement(db *mongo.Database) *MongoEngagement {
	return &MongoEngagement{collection: db.Collection(engagementCollectionName)}
}

func (m *MongoEngagement) Samples(ctx context.Context, organizationID string, platforms []string, since time.Time) ([]EngagementSample, error) {
	filter := bson.M{
		"organization_id": organizationID,
		"posted_at":       bson.M{"$gte": since},
	}
	if len(platforms) > 0 {
		filter["platform"] = bson.M{"$in": platforms}
	}

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "posted_at", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find engagement history: %w", err)
	}
	defer cursor.Close(ctx)

	var records []engagementRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode engagement history: %w", err)
	}

	samples := make([]EngagementSample, 0, len(records))
	for _, r := range records {
		samples = append(samples, EngagementSample{
			Platform:   r.Platform,
			PostedAt:   r.PostedAt,
			Engagement: r.weight(),
		})
	}
	return samples, nil
}

// MemoryEngagement is an in-process source used when Mongo is not configured.
type MemoryEngagement struct {
	mu      sync.RWMutex
	samples map[string][]EngagementSample
}

func NewMemoryEngagement() *MemoryEngagement {
	return &MemoryEngagement{samples: make(map[string][]EngagementSample)}
}

// Add records samples for an organization.
func (m *MemoryEngagement) Add(organizationID string, samples ...EngagementSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[organizationID] = append(m.samples[organizationID], samples...)
}

func (m *MemoryEngagement) Samples(_ context.Context, organizationID string, platforms []string, since time.Time) ([]EngagementSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		wanted[p] = true
	}
	var out []EngagementSample
	for _, s := range m.samples[organizationID] {
		if s.PostedAt.Before(since) {
			continue
		}
		if len(wanted) > 0 && !wanted[s.Platform] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
