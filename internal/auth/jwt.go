// Package auth verifies bearer tokens issued by the identity service and
// exposes the calling user to handlers.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidJWT      = errors.New("invalid JWT token")
	ErrExpiredJWT      = errors.New("JWT token expired")
	ErrUnauthenticated = errors.New("authentication required")
)

const actorKey = "actor"

// Claims carries the user, organization and roles of the caller.
type Claims struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles"`
	jwt.RegisteredClaims
}

// Actor is the authenticated user acting on a request.
type Actor struct {
	UserID         string
	OrganizationID string
	Roles          []string
}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// GenerateJWT signs a token for an actor. The identity service issues the real
// tokens; this is used by tests and local tooling.
func GenerateJWT(actor Actor, secret []byte, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:         actor.UserID,
		OrganizationID: actor.OrganizationID,
		Roles:          actor.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateJWT validates a token and returns its claims.
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredJWT
		}
		return nil, ErrInvalidJWT
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidJWT
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor for ActorFrom.
func Middleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": ErrUnauthenticated.Error(),
			})
		}

		claims, err := ValidateJWT(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		c.Locals(actorKey, Actor{
			UserID:         claims.UserID,
			OrganizationID: claims.OrganizationID,
			Roles:          claims.Roles,
		})
		return c.Next()
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c *fiber.Ctx) (Actor, bool) {
	actor, ok := c.Locals(actorKey).(Actor)
	return actor, ok
}

// WithActor stores an actor directly. Tests mount it in place of Middleware.
func WithActor(actor Actor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(actorKey, actor)
		return c.Next()
	}
}

// Require returns the actor or a 401 fiber error for handlers mounted
// behind Middleware.
func Require(c *fiber.Ctx) (Actor, error) {
	actor, ok := ActorFrom(c)
	if !ok || actor.UserID == "" {
		return Actor{}, fiber.NewError(fiber.StatusUnauthorized, ErrUnauthenticated.Error())
	}
	return actor, nil
}
