package models

import (
	"time"
)

// BadgeType: static config (seeded from the catalog below, editable via admin API)
type BadgeType struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	Code         string    `gorm:"uniqueIndex;not null" json:"code"` // e.g., "FIRST_CHALLENGE", "PHOTOGRAPHER"
	Name         string    `gorm:"not null" json:"name"`             // "First Steps", "City Photographer"
	Description  string    `json:"description"`
	IconURL      string    `gorm:"type:text" json:"icon_url"`                       // R2 URL to SVG/png
	Rarity       string    `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	Counter      string    `gorm:"type:varchar(64);not null" json:"counter"`        // which activity counter the criterion reads
	Threshold    int64     `gorm:"not null" json:"threshold"`                       // grant once counter >= threshold
	RewardPoints int64     `gorm:"default:0" json:"reward_points"`                  // bonus awarded on first grant
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Counter names understood by the badge evaluator. Category-scoped counters
// use the form "category:<slug>" and read CategoryProgress.Completed.
const (
	CounterChallengesCompleted = "challenges_completed"
	CounterSubmissionsApproved = "submissions_approved"
	CounterPerfectSubmissions  = "perfect_submissions"
	CounterTotalLogins         = "total_logins"
	CounterLevel               = "level"
	CategoryCounterPrefix      = "category:"
)

// UserBadge: awarded instance. At most one per (user, badge) — enforced by
// the unique index, not just the evaluator's pre-check.
type UserBadge struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string    `gorm:"index:idx_user_badge,unique;not null" json:"external_user_id"`
	BadgeCode      string    `gorm:"index:idx_user_badge,unique;not null" json:"badge_code"`
	AwardedAt      time.Time `gorm:"autoCreateTime" json:"awarded_at"`
}

// DefaultBadgeCatalog seeds the badge_types table on first boot.
// Criteria are data, not code: new badges need a row, not a release.
var DefaultBadgeCatalog = []BadgeType{
	{
		Code:         "FIRST_CHALLENGE",
		Name:         "First Steps",
		Description:  "Completed your first challenge",
		Rarity:       "common",
		Counter:      CounterChallengesCompleted,
		Threshold:    1,
		RewardPoints: 50,
	},
	{
		Code:         "EXPLORER",
		Name:         "Explorer",
		Description:  "Completed 5 challenges",
		Rarity:       "common",
		Counter:      CounterChallengesCompleted,
		Threshold:    5,
		RewardPoints: 100,
	},
	{
		Code:         "ADVENTURER",
		Name:         "Adventurer",
		Description:  "Completed 10 challenges",
		Rarity:       "rare",
		Counter:      CounterChallengesCompleted,
		Threshold:    10,
		RewardPoints: 200,
	},
	{
		Code:         "TRAILBLAZER",
		Name:         "Trailblazer",
		Description:  "Completed 25 challenges",
		Rarity:       "epic",
		Counter:      CounterChallengesCompleted,
		Threshold:    25,
		RewardPoints: 500,
	},
	{
		Code:         "PHOTOGRAPHER",
		Name:         "City Photographer",
		Description:  "20 photo submissions approved",
		Rarity:       "rare",
		Counter:      CounterSubmissionsApproved,
		Threshold:    20,
		RewardPoints: 150,
	},
	{
		Code:         "PERFECTIONIST",
		Name:         "Perfectionist",
		Description:  "5 perfect-score submissions",
		Rarity:       "epic",
		Counter:      CounterPerfectSubmissions,
		Threshold:    5,
		RewardPoints: 250,
	},
	{
		Code:         "REGULAR",
		Name:         "Regular",
		Description:  "Checked in 30 times",
		Rarity:       "common",
		Counter:      CounterTotalLogins,
		Threshold:    30,
		RewardPoints: 75,
	},
	{
		Code:         "CIVIC_LEGEND",
		Name:         "Civic Legend",
		Description:  "Reached level 10",
		Rarity:       "legendary",
		Counter:      CounterLevel,
		Threshold:    10,
		RewardPoints: 1000,
	},
}
