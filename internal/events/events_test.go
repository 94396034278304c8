package events

import (
	"context"
	"errors"
	"testing"

	"github.com/creatorstation/publisher/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error { return errors.New("sink down") }

func TestMultiDeliversToEverySink(t *testing.T) {
	rec := &Recorder{}
	multi := Multi{failingSink{}, NewLogSink(logging.NewDiscardLogger()), rec}

	err := multi.Emit(context.Background(), New(PostPublished, "org", "post-1", map[string]any{"outcome": "COMPLETE"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")

	got := rec.OfType(PostPublished)
	require.Len(t, got, 1)
	assert.Equal(t, "post-1", got[0].Subject)
	assert.NotEmpty(t, got[0].ID)
	assert.Empty(t, rec.OfType(PostFailed))
}
