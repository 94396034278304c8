package orchestrator

import (
	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/internal/scheduler"
	"github.com/gofiber/fiber/v2"
)

func MountController(router fiber.Router, orchestrator *Orchestrator) {
	router.Post("/publish-now", publishNow(orchestrator))
}

func publishNow(orchestrator *Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body PublishNowBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}
		if err := body.Validate(); err != nil {
			return httpx.Error(c, err)
		}

		entry, err := orchestrator.PublishNowFor(c.UserContext(), actor.OrganizationID,
			body.PostID, body.AccountIDs, c.Get(scheduler.HeaderIdempotencyKey))
		if err != nil {
			return httpx.Error(c, err)
		}

		status := fiber.StatusOK
		if entry.Status == models.EntryPending {
			// Some targets are waiting for a retry.
			status = fiber.StatusAccepted
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgPublishStarted, nil)
		return httpx.OK(c, status, entry, message)
	}
}
