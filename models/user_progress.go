package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgress tracks gamified progression for each citizen (denormalized for performance).
// TotalPoints is always the sum of the user's ledger entries; it is rewritten
// only inside the same transaction that appends the entry.
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to profile service

	// Core progression
	TotalPoints int64 `json:"total_points" gorm:"default:0"`
	Level       int   `json:"level" gorm:"default:1"`

	// Windowed points for weekly/monthly leaderboards. Reset to zero when the
	// window key rolls over; always reproducible as a windowed ledger SUM.
	WeeklyPoints  int64  `json:"weekly_points" gorm:"default:0"`
	WeekKey       string `json:"week_key" gorm:"type:varchar(16);index"`
	MonthlyPoints int64  `json:"monthly_points" gorm:"default:0"`
	MonthKey      string `json:"month_key" gorm:"type:varchar(16);index"`

	// Activity counters
	ChallengesCompleted  int64 `json:"challenges_completed" gorm:"default:0"`
	SubmissionsApproved  int64 `json:"submissions_approved" gorm:"default:0"`
	PerfectSubmissions   int64 `json:"perfect_submissions" gorm:"default:0"`
	TotalLogins          int64 `json:"total_logins" gorm:"default:0"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	LastEarnedAt  *time.Time `json:"last_earned_at,omitempty"` // leaderboard tie-break anchor

	Timestamps
}

// CategoryProgress tracks per-category completions and points, one row per
// (user, category). Backs category badges and category leaderboards.
type CategoryProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"index:idx_cat_progress_user_cat,unique;not null" json:"external_user_id"`
	Category       string `gorm:"index:idx_cat_progress_user_cat,unique;not null" json:"category"` // slug

	Completed int64 `json:"completed" gorm:"default:0"`
	Points    int64 `json:"points" gorm:"default:0"`

	LastEarnedAt *time.Time `json:"last_earned_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
