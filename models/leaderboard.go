package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Leaderboard scopes. Category boards use the form "category:<slug>".
const (
	LeaderboardGlobal  = "global"
	LeaderboardWeekly  = "weekly"
	LeaderboardMonthly = "monthly"

	leaderboardCategoryPrefix = "category:"
)

// CategoryLeaderboard builds the board key for a human-readable category name,
// e.g. "Parks & Recreation" → "category:parks-recreation".
func CategoryLeaderboard(category string) string {
	return leaderboardCategoryPrefix + slug.Make(category)
}

// IsCategoryLeaderboard reports whether boardType is a category scope and
// returns the category slug.
func IsCategoryLeaderboard(boardType string) (string, bool) {
	if !strings.HasPrefix(boardType, leaderboardCategoryPrefix) {
		return "", false
	}
	return strings.TrimPrefix(boardType, leaderboardCategoryPrefix), true
}

// NormalizeLeaderboardType validates a caller-supplied board type and returns
// the canonical key. Category slugs are re-slugged so "category:Parks" and
// "category:parks" name the same board.
func NormalizeLeaderboardType(boardType string) (string, error) {
	switch boardType {
	case LeaderboardGlobal, LeaderboardWeekly, LeaderboardMonthly:
		return boardType, nil
	}
	if cat, ok := IsCategoryLeaderboard(boardType); ok && cat != "" {
		return leaderboardCategoryPrefix + slug.Make(cat), nil
	}
	return "", fmt.Errorf("unknown leaderboard type %q", boardType)
}

// RankedEntry is one leaderboard row as served to clients.
type RankedEntry struct {
	Rank           int64  `json:"rank"`
	ExternalUserID string `json:"external_user_id"`
	Score          int64  `json:"score"`
}

// RankStanding is the answer to a "my rank" query.
type RankStanding struct {
	Rank       int64   `json:"rank"`
	Score      int64   `json:"score"`
	TotalUsers int64   `json:"total_users"`
	Percentile float64 `json:"percentile"`
}

// ScoreUpdate is the rank index input: one user's current score in one board's
// scope plus the timestamp of the award that produced it (tie-break anchor).
type ScoreUpdate struct {
	ExternalUserID string
	Score          int64
	AchievedAt     time.Time
}
