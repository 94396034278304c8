package appcron

import (
	"github.com/creatorstation/publisher/internal/connections"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/orchestrator"
	"github.com/gofiber/fiber/v2"
)

// MountController exposes manual triggers for the scheduled jobs.
func MountController(router fiber.Router, orch *orchestrator.Orchestrator, conns *connections.Service, logger logging.Logger) {
	router.Post("/sweep/run", func(c *fiber.Ctx) error {
		result, err := runSweep(orch, logger)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, result, "Publishing sweep finished")
	})

	router.Post("/profile-sync/run", func(c *fiber.Ctx) error {
		go runProfileSync(conns, logger)
		return c.JSON(fiber.Map{
			"message": "Profile sync job started",
		})
	})
}
