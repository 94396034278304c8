package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestValidateJWT(t *testing.T) {
	token, err := GenerateJWT(Actor{UserID: "u1", OrganizationID: "org", Roles: []string{"manager"}}, secret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, []string{"manager"}, claims.Roles)

	_, err = ValidateJWT(token, []byte("other"))
	assert.ErrorIs(t, err, ErrInvalidJWT)

	expired, err := GenerateJWT(Actor{UserID: "u1"}, secret, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, secret)
	assert.ErrorIs(t, err, ErrExpiredJWT)
}

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(secret))
	app.Get("/me", func(c *fiber.Ctx) error {
		actor, _ := ActorFrom(c)
		return c.SendString(actor.UserID)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	token, err := GenerateJWT(Actor{UserID: "u2", OrganizationID: "org"}, secret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHasRole(t *testing.T) {
	actor := Actor{Roles: []string{"editor", "manager"}}
	assert.True(t, actor.HasRole("manager"))
	assert.False(t, actor.HasRole("legal"))
}
