// handlers/leaderboard_routes.go
package handlers

import (
	"fmt"
	"path/filepath"
	"strconv"

	"civic-engagement-system/middleware"
	"civic-engagement-system/models"
	"civic-engagement-system/services"
	"civic-engagement-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm/clause"
)

func SetupLeaderboardRoutes(app *fiber.App, boards *services.LeaderboardService, badges *services.BadgeService) {
	// Public leaderboard pages (still behind the gateway token, like all routes).
	app.Get("/leaderboard/:type", func(c *fiber.Ctx) error {
		boardType := c.Params("type")
		limit, _ := strconv.Atoi(c.Query("limit", "25"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))

		page, err := boards.TopN(c.Context(), boardType, limit, offset)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"leaderboard": boardType,
			"limit":       limit,
			"offset":      offset,
			"entries":     page,
		})
	})

	// Admin endpoints
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware())

	adminGroup.Post("/points/grant", func(c *fiber.Ctx) error {
		if !middleware.HasRole(c, "admin") {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}

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
		if req.Reason == "" {
			req.Reason = "admin_grant"
		}

		newTotal, err := badges.Ledger.Award(c.Context(), req.UserID, req.Points, req.Reason)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"message":   "points granted successfully",
			"user_id":   req.UserID,
			"points":    req.Points,
			"new_total": newTotal,
		})
	})

	adminGroup.Post("/leaderboard/:type/rebuild", func(c *fiber.Ctx) error {
		if !middleware.HasRole(c, "admin") {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}

		boardType := c.Params("type")
		if err := boards.Rebuild(c.Context(), boardType); err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{"message": "leaderboard rebuilt", "leaderboard": boardType})
	})

	// Upsert a badge definition; multipart with an optional icon file.
	adminGroup.Post("/badges", func(c *fiber.Ctx) error {
		if !middleware.HasRole(c, "admin") {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}

		threshold, err := strconv.ParseInt(c.FormValue("threshold"), 10, 64)
		if err != nil || threshold < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "threshold must be a positive integer"})
		}
		rewardPoints, _ := strconv.ParseInt(c.FormValue("reward_points", "0"), 10, 64)

		badge := models.BadgeType{
			ID:           uuid.NewString(),
			Code:         c.FormValue("code"),
			Name:         c.FormValue("name"),
			Description:  c.FormValue("description"),
			Rarity:       c.FormValue("rarity", "common"),
			Counter:      c.FormValue("counter"),
			Threshold:    threshold,
			RewardPoints: rewardPoints,
		}
		if badge.Code == "" || badge.Name == "" || badge.Counter == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code, name and counter are required"})
		}

		if icon, err := c.FormFile("icon"); err == nil {
			key := fmt.Sprintf("badges/%s%s", slug.Make(badge.Code), filepath.Ext(icon.Filename))
			if utils.R2Configured() {
				iconURL, err := utils.UploadFileToR2(icon, key)
				if err != nil {
					return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "icon upload failed", "cause": err.Error()})
				}
				badge.IconURL = iconURL
			} else {
				destPath := utils.GetUploadPath(key)
				if err := utils.SaveFile(icon, destPath); err != nil {
					return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "icon save failed", "cause": err.Error()})
				}
				badge.IconURL = "/uploads/" + key
			}
		}

		err = badges.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "icon_url", "rarity", "counter", "threshold", "reward_points",
			}),
		}).Create(&badge).Error
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "badge upsert failed", "cause": err.Error()})
		}

		return c.JSON(badge)
	})
}
