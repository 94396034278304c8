package scheduler

import (
	"strings"
	"time"

	"github.com/creatorstation/publisher/internal/auth"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/locales"
	"github.com/gofiber/fiber/v2"
)

// HeaderIdempotencyKey carries the client's deduplication key.
const HeaderIdempotencyKey = "Idempotency-Key"

func MountController(router fiber.Router, scheduler *Scheduler) {
	router.Post("/", schedulePost(scheduler))
	router.Get("/", listEntries(scheduler))
	router.Get("/suggestions", suggestTimes(scheduler))
	router.Delete("/templates/:id", cancelTemplate(scheduler))
	router.Get("/:id", getEntry(scheduler))
	router.Get("/:id/attempts", listAttempts(scheduler))
	router.Patch("/:id", reschedule(scheduler))
	router.Delete("/:id", cancelEntry(scheduler))
}

func schedulePost(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body ScheduleBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}
		if err := body.Validate(); err != nil {
			return httpx.Error(c, err)
		}

		result, err := scheduler.Schedule(c.UserContext(), actor.OrganizationID, ScheduleRequest{
			PostID:         body.PostID,
			AccountIDs:     body.AccountIDs,
			FireAt:         body.FireAt,
			Timezone:       body.Timezone,
			Recurrence:     body.Recurrence.rule(),
			IdempotencyKey: c.Get(HeaderIdempotencyKey),
		})
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgEntryScheduled,
			map[string]any{"FireAt": localTime(result)})
		return httpx.OK(c, fiber.StatusCreated, result, message)
	}
}

func localTime(result *Scheduled) string {
	if len(result.Entries) == 0 {
		return ""
	}
	return result.Entries[0].LocalFireAt().Format(time.RFC1123)
}

func listEntries(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}
		postID := c.Query("post_id")
		if postID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "post_id is required",
			})
		}

		entries, err := scheduler.ListEntries(c.UserContext(), actor.OrganizationID, postID)
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, entries, "")
	}
}

func getEntry(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		entry, err := scheduler.GetEntry(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.OK(c, fiber.StatusOK, entry, "")
	}
}

func listAttempts(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		attempts, err := scheduler.ListAttempts(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, attempts, "")
	}
}

func reschedule(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var body RescheduleBody
		if err := c.BodyParser(&body); err != nil {
			return httpx.BadRequest(c, err)
		}
		if err := body.Validate(); err != nil {
			return httpx.Error(c, err)
		}

		entry, err := scheduler.Reschedule(c.UserContext(), actor.OrganizationID, c.Params("id"), body.FireAt)
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgEntryRescheduled,
			map[string]any{"FireAt": entry.LocalFireAt().Format(time.RFC1123)})
		return httpx.OK(c, fiber.StatusOK, entry, message)
	}
}

func cancelEntry(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		entry, err := scheduler.Cancel(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgEntryCancelled, nil)
		return httpx.OK(c, fiber.StatusOK, entry, message)
	}
}

func cancelTemplate(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		tpl, err := scheduler.CancelTemplate(c.UserContext(), actor.OrganizationID, c.Params("id"))
		if err != nil {
			return httpx.Error(c, err)
		}
		message := locales.Translate(c.Get(fiber.HeaderAcceptLanguage), locales.MsgEntryCancelled, nil)
		return httpx.OK(c, fiber.StatusOK, tpl, message)
	}
}

func suggestTimes(scheduler *Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Require(c)
		if err != nil {
			return httpx.Error(c, err)
		}

		var platforms []string
		if raw := c.Query("platforms"); raw != "" {
			for _, p := range strings.Split(raw, ",") {
				if p = strings.TrimSpace(p); p != "" {
					platforms = append(platforms, p)
				}
			}
		}

		slots, err := scheduler.Suggest(c.UserContext(), actor.OrganizationID, SuggestRequest{
			Platforms: platforms,
			Timezone:  c.Query("timezone"),
			Days:      c.QueryInt("days"),
			Limit:     c.QueryInt("limit"),
		})
		if err != nil {
			return httpx.Error(c, err)
		}
		return httpx.List(c, slots, "")
	}
}
