// handlers/gamification_routes.go
package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"civic-engagement-system/middleware"
	"civic-engagement-system/models"
	"civic-engagement-system/services"

	"github.com/gofiber/fiber/v2"
)

// statusForError maps service error kinds onto HTTP statuses. The services
// return structured kinds only; all user-facing wording lives here.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrUserNotRanked):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidLeaderboardType):
		return fiber.StatusBadRequest
	default:
		var pe *services.PersistenceError
		if errors.As(err, &pe) {
			return fiber.StatusServiceUnavailable
		}
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
}

func SetupGamificationRoutes(app *fiber.App, ledger *services.LedgerService, badges *services.BadgeService, boards *services.LeaderboardService, events *services.EventBus) {
	securedGroup := app.Group("/s", middleware.UserContextMiddleware())

	securedGroup.Get("/user/progress", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		prog, err := ledger.EnsureProgressRecord(userID)
		if err != nil {
			return errorJSON(c, err)
		}

		response := fiber.Map{
			"id":                   prog.ID,
			"total_points":         prog.TotalPoints,
			"level":                prog.Level,
			"weekly_points":        prog.WeeklyPoints,
			"monthly_points":       prog.MonthlyPoints,
			"challenges_completed": prog.ChallengesCompleted,
			"submissions_approved": prog.SubmissionsApproved,
			"perfect_submissions":  prog.PerfectSubmissions,
			"total_logins":         prog.TotalLogins,
			"last_level_up_at":     prog.LastLevelUpAt,
		}

		if standing, err := boards.RankOf(c.Context(), userID, models.LeaderboardGlobal); err == nil {
			response["global_rank"] = standing.Rank
			response["percentile"] = standing.Percentile
		}

		return c.JSON(response)
	})

	securedGroup.Get("/user/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))
		history, err := ledger.GetHistory(c.Context(), userID, page, size)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(history)
	})

	securedGroup.Get("/user/badges", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		granted, err := badges.GetUserBadges(c.Context(), userID)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(granted)
	})

	securedGroup.Get("/user/rank", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		boardType := c.Query("type", models.LeaderboardGlobal)
		standing, err := boards.RankOf(c.Context(), userID, boardType)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(standing)
	})

	// Real-time stream of the user's own gamification events.
	securedGroup.Get("/events", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		ch, cancel := events.Subscribe(userID)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()

			keepalive := time.NewTicker(15 * time.Second)
			defer keepalive.Stop()

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			w.Flush()

			for {
				select {
				case ev := <-ch:
					payload, err := json.Marshal(ev)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}
				case <-keepalive.C:
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				case <-c.Context().Done():
					return
				}
			}
		})

		return nil
	})

	// Internal routes: called by the submission-approval, challenge and login
	// handlers of the web layer. Gateway token auth only — no user context.
	internalGroup := app.Group("/internal")

	internalGroup.Post("/points/award", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id"`
			Points int64  `json:"points"`
			Reason string `json:"reason"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		newTotal, err := ledger.Award(c.Context(), req.UserID, req.Points, req.Reason)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{"user_id": req.UserID, "new_total": newTotal})
	})

	internalGroup.Post("/challenge/complete", func(c *fiber.Ctx) error {
		type Req struct {
			UserID   string `json:"user_id"`
			Category string `json:"category"`
			Points   int64  `json:"points"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.UserID == "" || req.Category == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and category are required"})
		}

		prog, granted, err := ledger.RecordChallengeCompletion(c.Context(), req.UserID, req.Category, req.Points)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"new_total":      prog.TotalPoints,
			"level":          prog.Level,
			"badges_granted": granted,
		})
	})

	internalGroup.Post("/submission/approve", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id"`
			Score  int    `json:"score"`
			Points int64  `json:"points"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		prog, granted, err := ledger.RecordSubmissionApproval(c.Context(), req.UserID, req.Score, req.Points)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"new_total":      prog.TotalPoints,
			"level":          prog.Level,
			"badges_granted": granted,
		})
	})

	internalGroup.Post("/login", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		prog, granted, err := ledger.RecordLogin(c.Context(), req.UserID)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"new_total":      prog.TotalPoints,
			"badges_granted": granted,
		})
	})

	internalGroup.Post("/badges/evaluate", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		granted, err := badges.Evaluate(c.Context(), req.UserID)
		if err != nil {
			return errorJSON(c, err)
		}
		if granted == nil {
			granted = []string{}
		}
		return c.JSON(fiber.Map{"badges_granted": granted})
	})
}
