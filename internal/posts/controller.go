package posts

import (
	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/gofiber/fiber/v2"
)

func MountController(router fiber.Router, svc *Service) {
	router.Post("/", createPost(svc))
	router.Get("/", listPosts(svc))
	router.Get("/:id", getPost(svc))
	router.Put("/:id", updatePost(svc))
	router.Delete("/:id", deletePost(svc))
}

func createPost(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body PostBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}

		post, err := svc.Create(c.UserContext(), actor.OrganizationID, actor.UserID, body)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusCreated, post, "")
	}
}

func listPosts(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		posts, err := svc.List(c.UserContext(), actor.OrganizationID, models.PostStatus(c.Query("status")))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, posts, "")
	}
}

func getPost(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		post, err := svc.Get(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, post, "")
	}
}

func updatePost(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body PostBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}

		post, err := svc.Update(c.UserContext(), actor.OrganizationID, c.Params("id"), body)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, post, "")
	}
}

func deletePost(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		post, err := svc.Delete(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, post, "")
	}
}
