package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"civic-engagement-system/models"

	"gorm.io/gorm"
)

func newBoardFixture(t *testing.T) (*gorm.DB, *LedgerService, *LeaderboardService) {
	t.Helper()
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	boards := NewLeaderboardService(db)
	ledger.Boards = boards
	return db, ledger, boards
}

func TestLeaderboard_TopNFollowsAwards(t *testing.T) {
	db, ledger, boards := newBoardFixture(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		createCitizen(t, db, u)
	}

	awards := map[string]int64{"u1": 120, "u2": 300, "u3": 40}
	for u, points := range awards {
		if _, err := ledger.Award(ctx, u, points, "test"); err != nil {
			t.Fatalf("Award(%s): %v", u, err)
		}
	}

	page, err := boards.TopN(ctx, models.LeaderboardGlobal, 10, 0)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	wantOrder := []string{"u2", "u1", "u3"}
	if len(page) != 3 {
		t.Fatalf("page size = %d, want 3", len(page))
	}
	for i, entry := range page {
		if entry.ExternalUserID != wantOrder[i] {
			t.Errorf("rank %d = %s, want %s", i+1, entry.ExternalUserID, wantOrder[i])
		}
		if entry.Score != awards[entry.ExternalUserID] {
			t.Errorf("%s score = %d, want %d", entry.ExternalUserID, entry.Score, awards[entry.ExternalUserID])
		}
	}

	standing, err := boards.RankOf(ctx, "u3", models.LeaderboardGlobal)
	if err != nil {
		t.Fatalf("RankOf: %v", err)
	}
	if standing.Rank != 3 || standing.TotalUsers != 3 {
		t.Errorf("u3 standing = %+v, want rank 3 of 3", standing)
	}
}

func TestLeaderboard_RebuildMatchesIncremental(t *testing.T) {
	db, ledger, boards := newBoardFixture(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		createCitizen(t, db, u)
	}

	// Distinct totals so the comparison is insensitive to award timing.
	script := []struct {
		user   string
		points int64
	}{
		{"u1", 50}, {"u2", 200}, {"u3", 10}, {"u1", 75}, {"u4", 500}, {"u3", 5},
	}
	for _, step := range script {
		if _, err := ledger.Award(ctx, step.user, step.points, "test"); err != nil {
			t.Fatalf("Award(%s): %v", step.user, err)
		}
	}

	incremental, err := boards.TopN(ctx, models.LeaderboardGlobal, 10, 0)
	if err != nil {
		t.Fatalf("TopN before rebuild: %v", err)
	}

	if err := boards.Rebuild(ctx, models.LeaderboardGlobal); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	rebuilt, err := boards.TopN(ctx, models.LeaderboardGlobal, 10, 0)
	if err != nil {
		t.Fatalf("TopN after rebuild: %v", err)
	}

	if !reflect.DeepEqual(incremental, rebuilt) {
		t.Errorf("rebuild diverged from incremental updates:\n incremental %v\n rebuilt     %v", incremental, rebuilt)
	}
}

func TestLeaderboard_CategoryBoards(t *testing.T) {
	db, ledger, boards := newBoardFixture(t)
	ctx := context.Background()
	createCitizen(t, db, "u1")
	createCitizen(t, db, "u2")

	if _, _, err := ledger.RecordChallengeCompletion(ctx, "u1", "Parks & Recreation", 100); err != nil {
		t.Fatalf("RecordChallengeCompletion: %v", err)
	}
	if _, _, err := ledger.RecordChallengeCompletion(ctx, "u2", "parks-recreation", 60); err != nil {
		t.Fatalf("RecordChallengeCompletion: %v", err)
	}

	// Both spellings normalize onto the same board.
	page, err := boards.TopN(ctx, "category:Parks & Recreation", 10, 0)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(page) != 2 || page[0].ExternalUserID != "u1" || page[1].ExternalUserID != "u2" {
		t.Errorf("category page = %v, want u1 then u2", page)
	}

	// Global board counts the same points.
	if _, err := boards.RankOf(ctx, "u1", models.LeaderboardGlobal); err != nil {
		t.Errorf("u1 missing from global board: %v", err)
	}

	// A valid but untouched category is an empty board, not an error.
	empty, err := boards.TopN(ctx, "category:nothing-here", 10, 0)
	if err != nil {
		t.Fatalf("TopN on untouched category: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("untouched category page = %v, want empty", empty)
	}
}

func TestLeaderboard_InvalidType(t *testing.T) {
	_, _, boards := newBoardFixture(t)
	ctx := context.Background()

	if _, err := boards.TopN(ctx, "fortnightly", 10, 0); !errors.Is(err, ErrInvalidLeaderboardType) {
		t.Errorf("TopN(fortnightly) = %v, want ErrInvalidLeaderboardType", err)
	}
	if _, err := boards.RankOf(ctx, "u1", ""); !errors.Is(err, ErrInvalidLeaderboardType) {
		t.Errorf("RankOf with empty type = %v, want ErrInvalidLeaderboardType", err)
	}
	if err := boards.Rebuild(ctx, "category:"); !errors.Is(err, ErrInvalidLeaderboardType) {
		t.Errorf("Rebuild(category:) = %v, want ErrInvalidLeaderboardType", err)
	}
}

func TestLeaderboard_UserNotRanked(t *testing.T) {
	db, ledger, boards := newBoardFixture(t)
	ctx := context.Background()
	createCitizen(t, db, "u1")

	// Known user, zero points ever: unranked.
	if _, err := ledger.EnsureProgressRecord("u1"); err != nil {
		t.Fatalf("ensure progress: %v", err)
	}
	if _, err := boards.RankOf(ctx, "u1", models.LeaderboardGlobal); !errors.Is(err, ErrUserNotRanked) {
		t.Errorf("RankOf zero-point user = %v, want ErrUserNotRanked", err)
	}

	// Unknown user: same answer.
	if _, err := boards.RankOf(ctx, "ghost", models.LeaderboardGlobal); !errors.Is(err, ErrUserNotRanked) {
		t.Errorf("RankOf unknown user = %v, want ErrUserNotRanked", err)
	}
}

func TestLeaderboard_WeeklyRollover(t *testing.T) {
	db, ledger, boards := newBoardFixture(t)
	ctx := context.Background()
	createCitizen(t, db, "u1")

	if _, err := ledger.Award(ctx, "u1", 100, "test"); err != nil {
		t.Fatalf("Award: %v", err)
	}
	if _, err := boards.RankOf(ctx, "u1", models.LeaderboardWeekly); err != nil {
		t.Fatalf("weekly RankOf before rollover: %v", err)
	}

	// Force a stale key so the rollover has counters to reset.
	if err := db.Model(&models.UserProgress{}).
		Where("external_user_id = ?", "u1").
		Update("week_key", "2000-W01").Error; err != nil {
		t.Fatalf("force stale week key: %v", err)
	}

	if err := boards.RolloverWeekly(ctx); err != nil {
		t.Fatalf("RolloverWeekly: %v", err)
	}

	// The fresh window is empty; the global board is untouched.
	if _, err := boards.RankOf(ctx, "u1", models.LeaderboardWeekly); !errors.Is(err, ErrUserNotRanked) {
		t.Errorf("weekly RankOf after rollover = %v, want ErrUserNotRanked", err)
	}
	if _, err := boards.RankOf(ctx, "u1", models.LeaderboardGlobal); err != nil {
		t.Errorf("global RankOf after weekly rollover: %v", err)
	}

	var prog models.UserProgress
	if err := db.Where("external_user_id = ?", "u1").First(&prog).Error; err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if prog.WeeklyPoints != 0 {
		t.Errorf("weekly points after rollover = %d, want 0", prog.WeeklyPoints)
	}
	if prog.TotalPoints != 100 {
		t.Errorf("total points after rollover = %d, want 100", prog.TotalPoints)
	}
}
