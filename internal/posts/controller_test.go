package posts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerCreateAndGet(t *testing.T) {
	svc := newService(t)
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	app.Use(auth.WithActor(auth.Actor{UserID: "author", OrganizationID: "org"}))
	MountController(app.Group("/posts"), svc)

	payload, _ := json.Marshal(PostBody{Body: "hello", AccountIDs: []string{"acc-1"}})
	req := httptest.NewRequest(http.MethodPost, "/posts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Success bool `json:"success"`
		Data    struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.True(t, created.Success)
	assert.Equal(t, "DRAFT", created.Data.Status)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/"+created.Data.ID, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/missing", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControllerRequiresActor(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	MountController(app.Group("/posts"), newService(t))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
