package scheduler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	app.Use(auth.WithActor(auth.Actor{UserID: "author", OrganizationID: "org", Roles: []string{"manager"}}))
	MountController(app.Group("/schedules"), f.sched)
	return app
}

func send(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestControllerScheduleLifecycle(t *testing.T) {
	locales.Init("en")
	f := newFixture(t, config.Recurrence{})
	app := newApp(f)
	acc := f.account(t, "org", "x")

	pending := f.post(t, models.PostPendingReview, true)
	resp, body := send(t, app, http.MethodPost, "/schedules", map[string]any{
		"post_id":     pending.ID,
		"account_ids": []string{acc},
		"fire_at":     "2024-06-01T10:00:00Z",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "PENDING_REVIEW", body["status"])

	resp, body = send(t, app, http.MethodPost, "/schedules", map[string]any{"post_id": pending.ID}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "errors")

	post := f.post(t, models.PostApproved, true)
	request := map[string]any{
		"post_id":     post.ID,
		"account_ids": []string{acc},
		"fire_at":     "2024-06-01T10:00:00Z",
	}
	headers := map[string]string{HeaderIdempotencyKey: "drag-1"}
	resp, body = send(t, app, http.MethodPost, "/schedules", request, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Post scheduled for Sat, 01 Jun 2024 10:00:00 UTC.", body["message"])
	entries := body["data"].(map[string]any)["entries"].([]any)
	require.Len(t, entries, 1)
	entryID := entries[0].(map[string]any)["id"].(string)
	assert.Equal(t, "PENDING", entries[0].(map[string]any)["status"])

	resp, body = send(t, app, http.MethodPost, "/schedules", request, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	replayed := body["data"].(map[string]any)["entries"].([]any)
	assert.Equal(t, entryID, replayed[0].(map[string]any)["id"])

	resp, body = send(t, app, http.MethodGet, "/schedules?post_id="+post.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = send(t, app, http.MethodPatch, "/schedules/"+entryID, map[string]any{"fire_at": "2024-06-02T08:30:00Z"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2024-06-02T08:30:00Z", body["data"].(map[string]any)["fireAt"])

	resp, body = send(t, app, http.MethodGet, "/schedules/"+entryID+"/attempts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])

	resp, body = send(t, app, http.MethodDelete, "/schedules/"+entryID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", body["data"].(map[string]any)["status"])

	resp, body = send(t, app, http.MethodDelete, "/schedules/"+entryID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "cancel is idempotent")

	resp, body = send(t, app, http.MethodPatch, "/schedules/"+entryID, map[string]any{"fire_at": "2024-06-03T08:30:00Z"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CANCELLED", body["status"])
	rejected := body["data"].(map[string]any)
	assert.Equal(t, entryID, rejected["id"])
	assert.Equal(t, "2024-06-02T08:30:00Z", rejected["fireAt"])

	resp, _ = send(t, app, http.MethodGet, "/schedules/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControllerSuggestions(t *testing.T) {
	f := newFixture(t, config.Recurrence{})
	resp, body := send(t, newApp(f), http.MethodGet, "/schedules/suggestions?platforms=x,%20tiktok&limit=4&timezone=UTC", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["count"])
	first := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "default", first["basis"])
}
