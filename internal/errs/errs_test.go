package errs

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(AlreadyFired, "entry already left the queue").On("schedule_entry", "e1").WithCurrent("QUEUED")
	wrapped := fmt.Errorf("reschedule: %w", base)

	assert.Equal(t, AlreadyFired, KindOf(wrapped))
	assert.True(t, Is(wrapped, AlreadyFired))
	assert.Equal(t, "QUEUED", CurrentOf(wrapped))
	assert.Contains(t, wrapped.Error(), "schedule_entry e1")
	assert.Contains(t, wrapped.Error(), "current status QUEUED")
}

func TestForeignErrorsAreInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(fmt.Errorf("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.False(t, Is(nil, Internal))
}

func TestRetryAfterHint(t *testing.T) {
	err := New(RateLimited, "slow down").WithRetryAfter(90 * time.Second)
	assert.Equal(t, 90*time.Second, RetryAfterOf(fmt.Errorf("publish: %w", err)))
	assert.Zero(t, RetryAfterOf(fmt.Errorf("plain")))
}

func TestRetryPolicy(t *testing.T) {
	assert.True(t, Retryable(DeliveryFailed))
	assert.True(t, Retryable(RateLimited))
	assert.False(t, Retryable(UnsupportedContent))
	assert.False(t, Retryable(RefreshFailed))
	assert.False(t, Retryable(Forbidden))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Validation:        http.StatusBadRequest,
		NotFound:          http.StatusNotFound,
		Forbidden:         http.StatusForbidden,
		NotSchedulable:    http.StatusConflict,
		AlreadyFired:      http.StatusConflict,
		InvalidTransition: http.StatusConflict,
		Conflict:          http.StatusConflict,
		Internal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}
