package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"civic-engagement-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BadgeService grants badges when activity counters cross the thresholds in
// the badge_types table. Criteria are independent predicates over counters;
// no badge depends on another badge being granted, so evaluation order never
// changes the final set.
type BadgeService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Events *EventBus // optional
}

func NewBadgeService(db *gorm.DB, ledger *LedgerService) *BadgeService {
	return &BadgeService{DB: db, Ledger: ledger}
}

// SeedCatalog inserts any catalog badges missing from the badge_types table.
// Existing rows win, so admin edits survive restarts.
func (s *BadgeService) SeedCatalog() error {
	for _, badge := range models.DefaultBadgeCatalog {
		badge.ID = uuid.NewString()
		if err := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&badge).Error; err != nil {
			return persistenceErr("badge catalog seed", err)
		}
	}
	return nil
}

// Evaluate tests every not-yet-granted badge against the user's current
// counters and grants each newly satisfied one, bonus included. Idempotent:
// a second call with unchanged counters grants nothing.
func (s *BadgeService) Evaluate(ctx context.Context, externalUserID string) ([]string, error) {
	unlock := s.Ledger.lockUser(externalUserID)
	defer unlock()

	granted, prog, err := s.evaluateLocked(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	if len(granted) > 0 && prog != nil {
		s.Ledger.afterChange(ctx, prog, nil)
	}
	return granted, nil
}

// evaluateLocked is the core pass. Caller must hold the user lock. Each grant
// and its bonus are one transaction, so a badge never exists without its
// reward. Passes repeat until stable because a bonus can raise the level and
// satisfy a level-counter badge in the same evaluation.
func (s *BadgeService) evaluateLocked(ctx context.Context, externalUserID string) ([]string, *models.UserProgress, error) {
	var citizen models.CitizenUser
	if err := s.DB.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&citizen).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, persistenceErr("badge user lookup", err)
	}

	var catalog []models.BadgeType
	if err := s.DB.WithContext(ctx).Find(&catalog).Error; err != nil {
		return nil, nil, persistenceErr("badge catalog load", err)
	}

	alreadyGranted, err := s.grantedSet(ctx, externalUserID)
	if err != nil {
		return nil, nil, err
	}

	var newCodes []string
	var prog *models.UserProgress
	for {
		prog, err = s.Ledger.EnsureProgressRecord(externalUserID)
		if err != nil {
			return nil, nil, persistenceErr("badge progress load", err)
		}
		categories, err := s.categoryCounts(ctx, externalUserID)
		if err != nil {
			return nil, nil, err
		}

		grantedThisPass := 0
		for _, badge := range catalog {
			if alreadyGranted[badge.Code] {
				continue
			}
			if counterValue(prog, categories, badge.Counter) < badge.Threshold {
				continue
			}
			if err := s.grant(ctx, externalUserID, badge); err != nil {
				return nil, nil, err
			}
			alreadyGranted[badge.Code] = true
			newCodes = append(newCodes, badge.Code)
			grantedThisPass++
		}
		if grantedThisPass == 0 {
			break
		}
	}

	return newCodes, prog, nil
}

// grant records the badge and its bonus atomically.
func (s *BadgeService) grant(ctx context.Context, externalUserID string, badge models.BadgeType) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userBadge := models.UserBadge{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			BadgeCode:      badge.Code,
			AwardedAt:      time.Now().UTC(),
		}
		if err := tx.Create(&userBadge).Error; err != nil {
			return err
		}
		if badge.RewardPoints > 0 {
			reason := "badge_" + strings.ToLower(badge.Code)
			if _, err := s.Ledger.appendEntry(tx, externalUserID, badge.RewardPoints, reason, nil, 0, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistenceErr("badge grant", err)
	}

	log.Printf("🎖️ Badge awarded: %s → %s", badge.Code, externalUserID)
	if s.Events != nil {
		s.Events.Publish(Event{
			Type:           EventBadgeGranted,
			ExternalUserID: externalUserID,
			Payload: map[string]interface{}{
				"code":          badge.Code,
				"name":          badge.Name,
				"rarity":        badge.Rarity,
				"reward_points": badge.RewardPoints,
			},
		})
	}
	return nil
}

func (s *BadgeService) grantedSet(ctx context.Context, externalUserID string) (map[string]bool, error) {
	var grants []models.UserBadge
	if err := s.DB.WithContext(ctx).Where("external_user_id = ?", externalUserID).Find(&grants).Error; err != nil {
		return nil, persistenceErr("badge grants load", err)
	}
	set := make(map[string]bool, len(grants))
	for _, g := range grants {
		set[g.BadgeCode] = true
	}
	return set, nil
}

func (s *BadgeService) categoryCounts(ctx context.Context, externalUserID string) (map[string]int64, error) {
	var rows []models.CategoryProgress
	if err := s.DB.WithContext(ctx).Where("external_user_id = ?", externalUserID).Find(&rows).Error; err != nil {
		return nil, persistenceErr("category progress load", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Completed
	}
	return counts, nil
}

// GetUserBadges returns the user's grants joined with their catalog entries.
func (s *BadgeService) GetUserBadges(ctx context.Context, externalUserID string) ([]map[string]interface{}, error) {
	var grants []models.UserBadge
	if err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", externalUserID).
		Order("awarded_at ASC").
		Find(&grants).Error; err != nil {
		return nil, persistenceErr("badge grants load", err)
	}

	var catalog []models.BadgeType
	if err := s.DB.WithContext(ctx).Find(&catalog).Error; err != nil {
		return nil, persistenceErr("badge catalog load", err)
	}
	byCode := make(map[string]models.BadgeType, len(catalog))
	for _, b := range catalog {
		byCode[b.Code] = b
	}

	result := make([]map[string]interface{}, 0, len(grants))
	for _, g := range grants {
		badge := byCode[g.BadgeCode]
		result = append(result, map[string]interface{}{
			"id":          g.ID,
			"code":        g.BadgeCode,
			"name":        badge.Name,
			"description": badge.Description,
			"icon_url":    badge.IconURL,
			"rarity":      badge.Rarity,
			"awarded_at":  g.AwardedAt,
		})
	}
	return result, nil
}

func counterValue(prog *models.UserProgress, categories map[string]int64, counter string) int64 {
	switch counter {
	case models.CounterChallengesCompleted:
		return prog.ChallengesCompleted
	case models.CounterSubmissionsApproved:
		return prog.SubmissionsApproved
	case models.CounterPerfectSubmissions:
		return prog.PerfectSubmissions
	case models.CounterTotalLogins:
		return prog.TotalLogins
	case models.CounterLevel:
		return int64(prog.Level)
	}
	if strings.HasPrefix(counter, models.CategoryCounterPrefix) {
		return categories[strings.TrimPrefix(counter, models.CategoryCounterPrefix)]
	}
	return 0
}
