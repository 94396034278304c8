package workflow

import (
	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/gofiber/fiber/v2"
)

func MountController(router fiber.Router, engine *Engine) {
	router.Post("/", createWorkflow(engine))
	router.Get("/pending", pendingApprovals(engine))
	router.Post("/configs", createConfig(engine))
	router.Get("/configs", listConfigs(engine))
	router.Get("/instances/:id/activities", activities(engine))
	router.Get("/:postId", workflowStatus(engine))
	router.Post("/:postId/actions", processApproval(engine))
	router.Post("/:postId/resubmit", resubmit(engine))
}

func createWorkflow(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body CreateWorkflowBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}
		if err := body.Validate(); err != nil {
			return httpx.Error(c, err)
		}

		inst, err := engine.CreateWorkflow(c.UserContext(), body.PostID, actor.OrganizationID, body.WorkflowType, actor.UserID)
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgWorkflowCreated, nil)
		return httpx.OK(c, fiber.StatusCreated, inst, message)
	}
}

func processApproval(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body ApprovalBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}
		if err := body.Validate(); err != nil {
			return httpx.Error(c, err)
		}

		decision, err := engine.ProcessApproval(c.UserContext(), c.Params("postId"), actor, body.Action, body.Comment, body.Changes)
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), decision.MessageID, decision.MessageData)
		return httpx.OK(c, fiber.StatusOK, decision, message)
	}
}

func resubmit(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		decision, err := engine.Resubmit(c.UserContext(), c.Params("postId"), actor)
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), decision.MessageID, decision.MessageData)
		return httpx.OK(c, fiber.StatusOK, decision, message)
	}
}

func workflowStatus(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		inst, err := engine.GetWorkflowStatus(c.UserContext(), actor.OrganizationID, c.Params("postId"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, inst, "")
	}
}

func pendingApprovals(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		pending, err := engine.GetPendingApprovals(c.UserContext(), actor)
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgPendingApprovals, map[string]any{"Count": len(pending)})
		return httpx.List(c, pending, message)
	}
}

func activities(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		list, err := engine.GetWorkflowActivities(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, list, "")
	}
}

func createConfig(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body ConfigBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}

		cfg, err := engine.CreateWorkflowConfig(c.UserContext(), actor.OrganizationID, body)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusCreated, cfg, "")
	}
}

func listConfigs(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		cfgs, err := engine.ListWorkflowConfigs(c.UserContext(), actor.OrganizationID)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, cfgs, "")
	}
}
