// Package httpx holds the response envelope shared by every controller.
package httpx

import (
	"errors"
	"math"
	"strconv"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/getsentry/sentry-go"
	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
)

// OK writes {success, data} with an optional human-readable message.
func OK(c *fiber.Ctx, status int, data any, message string) error {
	body := fiber.Map{
		"success": true,
		"data":    data,
	}
	if message != "" {
		body["message"] = message
	}
	return c.Status(status).JSON(body)
}

// List writes an array together with its length.
func List[T any](c *fiber.Ctx, items []T, message string) error {
	if items == nil {
		items = []T{}
	}
	body := fiber.Map{
		"success": true,
		"data":    items,
		"count":   len(items),
	}
	if message != "" {
		body["message"] = message
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// Error maps err to its status code. State-machine errors include the
// entity's current status, and the entity itself when the caller attached it.
func Error(c *fiber.Ctx, err error) error {
	var verrs v.Errors
	if errors.As(err, &verrs) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
			"errors":  verrs,
		})
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"message": fe.Message,
		})
	}

	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if status >= fiber.StatusInternalServerError && kind == errs.Internal {
		sentry.CaptureException(err)
	}

	body := fiber.Map{
		"success": false,
		"message": err.Error(),
		"kind":    kind,
	}
	if current := errs.CurrentOf(err); current != "" {
		body["status"] = current
	}
	if state := errs.StateOf(err); state != nil {
		body["data"] = state
	}
	if retryAfter := errs.RetryAfterOf(err); retryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	return c.Status(status).JSON(body)
}

// BadRequest reports a malformed body before validation runs.
func BadRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}

// ErrorHandler is installed as fiber's app-level error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return Error(c, err)
}
