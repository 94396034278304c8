package connections

import (
	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/gofiber/fiber/v2"
)

func MountController(router fiber.Router, svc *Service) {
	router.Get("/", listConnections(svc))
	router.Post("/sync", syncProfiles(svc))
	router.Get("/:platform/authorize", authorize(svc))
	router.Post("/:platform/callback", callback(svc))
	router.Get("/:id", getConnection(svc))
	router.Delete("/:id", disconnect(svc))
}

func authorize(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := auth.Require(c); err != nil {
			return httpx.Error(c, err)
		}

		authorization, err := svc.Authorize(c.Params("platform"), c.Query("state"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, authorization, "")
	}
}

func callback(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body CallbackBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}
		if err := body.Validate(); err != nil {
			return httpx.Error(c, err)
		}

		conn, err := svc.Callback(c.UserContext(), actor.OrganizationID, c.Params("platform"), body.Code, body.State)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusCreated, conn, "")
	}
}

func listConnections(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		conns, err := svc.List(c.UserContext(), actor.OrganizationID)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, conns, "")
	}
}

func getConnection(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		conn, err := svc.Get(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, conn, "")
	}
}

func disconnect(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		if err := svc.Disconnect(c.UserContext(), actor.OrganizationID, c.Params("id")); err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, fiber.Map{"id": c.Params("id")}, "Account disconnected")
	}
}

func syncProfiles(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := auth.Require(c); err != nil {
			return httpx.Error(c, err)
		}

		synced, err := svc.SyncProfiles(c.UserContext())
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, fiber.Map{"synced": synced}, "")
	}
}
