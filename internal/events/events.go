// Package events carries state changes the pipeline announces to other systems.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/creatorstation/publisher/internal/logging"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// Event types.
const (
	PostPublished     = "post.published"
	PostFailed        = "post.failed"
	ConnectionCreated = "connection.created"
	ConnectionExpired = "connection.expired"
	ConnectionRevoked = "connection.revoked"
	WorkflowSubmitted = "workflow.submitted"
	WorkflowDecided   = "workflow.decided"
)

// Event is one announcement. Data is free-form and stored as-is.
type Event struct {
	ID             string         `bson:"_id" json:"id"`
	Type           string         `bson:"type" json:"type"`
	OrganizationID string         `bson:"organization_id" json:"organizationId"`
	Subject        string         `bson:"subject" json:"subject"`
	Data           map[string]any `bson:"data,omitempty" json:"data,omitempty"`
	OccurredAt     time.Time      `bson:"occurred_at" json:"occurredAt"`
}

// New builds an event about subject (a post id, connection id, ...).
func New(eventType, organizationID, subject string, data map[string]any) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		OrganizationID: organizationID,
		Subject:        subject,
		Data:           data,
		OccurredAt:     time.Now().UTC(),
	}
}

// Sink receives events. Emit must not block on slow consumers for long;
// callers treat emission failures as non-fatal.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// MongoSink appends events to a Mongo collection.
type MongoSink struct {
	collection *mongo.Collection
}

func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{collection: db.Collection("pipeline_events")}
}

func (s *MongoSink) Emit(ctx context.Context, event Event) error {
	_, err := s.collection.InsertOne(ctx, event)
	return err
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) error {
	s.logger.WithFields(logging.Fields{
		"event":        event.Type,
		"subject":      event.Subject,
		"organization": event.OrganizationID,
		"data":         event.Data,
	}).Info("Pipeline event")
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
