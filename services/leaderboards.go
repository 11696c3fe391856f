package services

import (
	"context"
	"log"
	"sync"
	"time"

	"civic-engagement-system/models"

	"gorm.io/gorm"
)

// LeaderboardService holds one MemoryRankIndex per board type. The indexes
// are derived state only — the ledger stays the source of truth — so Rebuild
// can reconstruct any board from a ledger scan and swap it in atomically.
type LeaderboardService struct {
	DB    *gorm.DB
	Cache *LeaderboardCache // optional redis page cache

	mu     sync.RWMutex
	boards map[string]*MemoryRankIndex
}

func NewLeaderboardService(db *gorm.DB) *LeaderboardService {
	return &LeaderboardService{
		DB: db,
		boards: map[string]*MemoryRankIndex{
			models.LeaderboardGlobal:  NewMemoryRankIndex(),
			models.LeaderboardWeekly:  NewMemoryRankIndex(),
			models.LeaderboardMonthly: NewMemoryRankIndex(),
		},
	}
}

// board returns the index for a canonical board type, creating category
// boards on first touch.
func (s *LeaderboardService) board(boardType string) *MemoryRankIndex {
	s.mu.RLock()
	idx, ok := s.boards[boardType]
	s.mu.RUnlock()
	if ok {
		return idx
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok = s.boards[boardType]; ok {
		return idx
	}
	idx = NewMemoryRankIndex()
	s.boards[boardType] = idx
	return idx
}

// swapBoard atomically publishes a fresh index for boardType. Readers holding
// the old index finish their query against a consistent snapshot; new queries
// see the replacement. Nobody ever observes a half-built board.
func (s *LeaderboardService) swapBoard(boardType string, idx *MemoryRankIndex) {
	s.mu.Lock()
	s.boards[boardType] = idx
	s.mu.Unlock()
}

// UpdateFromProgress pushes a user's committed totals into every board that
// scopes them. categories lists the category slugs touched by the change.
func (s *LeaderboardService) UpdateFromProgress(ctx context.Context, prog *models.UserProgress, categories []string) {
	achievedAt := time.Now().UTC()
	if prog.LastEarnedAt != nil {
		achievedAt = *prog.LastEarnedAt
	}

	s.board(models.LeaderboardGlobal).Update(models.ScoreUpdate{
		ExternalUserID: prog.ExternalUserID,
		Score:          prog.TotalPoints,
		AchievedAt:     achievedAt,
	})
	s.board(models.LeaderboardWeekly).Update(models.ScoreUpdate{
		ExternalUserID: prog.ExternalUserID,
		Score:          prog.WeeklyPoints,
		AchievedAt:     achievedAt,
	})
	s.board(models.LeaderboardMonthly).Update(models.ScoreUpdate{
		ExternalUserID: prog.ExternalUserID,
		Score:          prog.MonthlyPoints,
		AchievedAt:     achievedAt,
	})

	invalidated := []string{models.LeaderboardGlobal, models.LeaderboardWeekly, models.LeaderboardMonthly}

	for _, categorySlug := range categories {
		var cat models.CategoryProgress
		err := s.DB.WithContext(ctx).
			Where("external_user_id = ? AND category = ?", prog.ExternalUserID, categorySlug).
			First(&cat).Error
		if err != nil {
			log.Printf("[LEADERBOARD] ⚠️ category progress lookup failed for %s/%s: %v", prog.ExternalUserID, categorySlug, err)
			continue
		}
		key := "category:" + categorySlug
		catAchieved := achievedAt
		if cat.LastEarnedAt != nil {
			catAchieved = *cat.LastEarnedAt
		}
		s.board(key).Update(models.ScoreUpdate{
			ExternalUserID: prog.ExternalUserID,
			Score:          cat.Points,
			AchievedAt:     catAchieved,
		})
		invalidated = append(invalidated, key)
	}

	if s.Cache != nil {
		for _, boardType := range invalidated {
			s.Cache.Invalidate(ctx, boardType)
		}
	}
}

// TopN answers a leaderboard page query, descending by score with the
// documented tie-break. Pages are served from the redis cache when warm.
func (s *LeaderboardService) TopN(ctx context.Context, boardType string, limit, offset int) ([]models.RankedEntry, error) {
	canonical, err := models.NormalizeLeaderboardType(boardType)
	if err != nil {
		return nil, ErrInvalidLeaderboardType
	}
	if limit < 1 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	if s.Cache != nil {
		if page, ok := s.Cache.GetPage(ctx, canonical, limit, offset); ok {
			return page, nil
		}
	}

	page := s.board(canonical).TopN(limit, offset)

	if s.Cache != nil {
		s.Cache.SetPage(ctx, canonical, limit, offset, page)
	}
	return page, nil
}

// RankOf answers a "my rank" query against one board's scope.
func (s *LeaderboardService) RankOf(ctx context.Context, externalUserID, boardType string) (models.RankStanding, error) {
	canonical, err := models.NormalizeLeaderboardType(boardType)
	if err != nil {
		return models.RankStanding{}, ErrInvalidLeaderboardType
	}
	return s.board(canonical).RankOf(externalUserID)
}

// scanRow is one user's aggregated score from a ledger scan.
type scanRow struct {
	ExternalUserID string
	Score          int64
	AchievedAt     time.Time
}

// Rebuild recomputes one board from the ledger and swaps it in. This is the
// correctness oracle for the incremental updates and the self-heal path for
// any staleness the eventually consistent indexes accumulate.
func (s *LeaderboardService) Rebuild(ctx context.Context, boardType string) error {
	canonical, err := models.NormalizeLeaderboardType(boardType)
	if err != nil {
		return ErrInvalidLeaderboardType
	}

	query := s.DB.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("external_user_id, SUM(points) AS score, MAX(created_at) AS achieved_at").
		Group("external_user_id")

	now := time.Now().UTC()
	switch canonical {
	case models.LeaderboardGlobal:
		// full scan
	case models.LeaderboardWeekly:
		query = query.Where("created_at >= ?", WeekStart(now))
	case models.LeaderboardMonthly:
		query = query.Where("created_at >= ?", MonthStart(now))
	default:
		categorySlug, _ := models.IsCategoryLeaderboard(canonical)
		query = query.Where("category = ?", categorySlug)
	}

	var rows []scanRow
	if err := query.Scan(&rows).Error; err != nil {
		return persistenceErr("leaderboard rebuild", err)
	}

	fresh := NewMemoryRankIndex()
	for _, row := range rows {
		fresh.Update(models.ScoreUpdate{
			ExternalUserID: row.ExternalUserID,
			Score:          row.Score,
			AchievedAt:     row.AchievedAt,
		})
	}

	s.swapBoard(canonical, fresh)
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, canonical)
	}
	log.Printf("🏆 Rebuilt leaderboard %s (%d ranked users)", canonical, fresh.Len())
	return nil
}

// RebuildAll refreshes the fixed boards plus every category seen in the ledger.
func (s *LeaderboardService) RebuildAll(ctx context.Context) error {
	boards := []string{models.LeaderboardGlobal, models.LeaderboardWeekly, models.LeaderboardMonthly}

	var categories []string
	if err := s.DB.WithContext(ctx).Model(&models.CategoryProgress{}).
		Distinct("category").
		Pluck("category", &categories).Error; err != nil {
		return persistenceErr("category list", err)
	}
	for _, categorySlug := range categories {
		boards = append(boards, "category:"+categorySlug)
	}

	for _, boardType := range boards {
		if err := s.Rebuild(ctx, boardType); err != nil {
			return err
		}
	}
	return nil
}

// RolloverWeekly opens a new weekly window: publish a fresh empty board, then
// reset the windowed counters. Queries racing the swap see either the full
// old window or the empty new one, never a partial mix.
func (s *LeaderboardService) RolloverWeekly(ctx context.Context) error {
	s.swapBoard(models.LeaderboardWeekly, NewMemoryRankIndex())
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, models.LeaderboardWeekly)
	}

	newKey := WeekKey(time.Now().UTC())
	err := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("week_key <> ?", newKey).
		Updates(map[string]interface{}{"weekly_points": 0, "week_key": newKey}).Error
	if err != nil {
		return persistenceErr("weekly rollover", err)
	}
	log.Printf("📅 Weekly leaderboard rolled over to %s", newKey)
	return nil
}

// RolloverMonthly is the monthly counterpart of RolloverWeekly.
func (s *LeaderboardService) RolloverMonthly(ctx context.Context) error {
	s.swapBoard(models.LeaderboardMonthly, NewMemoryRankIndex())
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, models.LeaderboardMonthly)
	}

	newKey := MonthKey(time.Now().UTC())
	err := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("month_key <> ?", newKey).
		Updates(map[string]interface{}{"monthly_points": 0, "month_key": newKey}).Error
	if err != nil {
		return persistenceErr("monthly rollover", err)
	}
	log.Printf("📅 Monthly leaderboard rolled over to %s", newKey)
	return nil
}
