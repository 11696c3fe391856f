package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"civic-engagement-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// Point values for non-challenge awarding events (tunable via config later).
const (
	DailyLoginPoints   = 5
	PerfectScoreCutoff = 95 // submission score at or above this counts as "perfect"
)

// LedgerService owns the append-only point ledger and the derived per-user
// totals. It is the single writer of truth: badge bonuses and activity
// recorders all funnel through its transactional append path.
type LedgerService struct {
	DB     *gorm.DB
	Badges *BadgeService       // optional: auto-evaluated after activity records
	Boards *LeaderboardService // optional: rank indexes updated after commit
	Events *EventBus           // optional: outbound notifications

	userLocks sync.Map // external user id → *sync.Mutex
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// lockUser serializes mutations per user. Two concurrent awards for the same
// user queue here; awards for different users proceed in parallel.
func (s *LedgerService) lockUser(externalUserID string) func() {
	v, _ := s.userLocks.LoadOrStore(externalUserID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent)
func (s *LedgerService) EnsureProgressRecord(externalUserID string) (*models.UserProgress, error) {
	return s.ensureProgress(s.DB, externalUserID)
}

func (s *LedgerService) ensureProgress(tx *gorm.DB, externalUserID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := tx.Where("external_user_id = ?", externalUserID).First(&prog).Error
	if err == nil {
		return &prog, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	prog = models.UserProgress{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		TotalPoints:    0,
		Level:          1,
		WeekKey:        WeekKey(now),
		MonthKey:       MonthKey(now),
	}
	if err := tx.Create(&prog).Error; err != nil {
		return nil, err
	}
	return &prog, nil
}

// Award appends one immutable ledger entry and returns the user's new total.
// Zero and negative points are accepted: the ledger is mechanism, not policy,
// and corrections are just negative entries. Atomic — on error no entry and
// no total change are visible.
func (s *LedgerService) Award(ctx context.Context, externalUserID string, points int64, reason string) (int64, error) {
	unlock := s.lockUser(externalUserID)
	defer unlock()

	prog, err := s.awardLocked(ctx, externalUserID, points, reason, nil, 0, nil)
	if err != nil {
		return 0, err
	}
	s.afterChange(ctx, prog, nil)
	s.publishPoints(externalUserID, points, reason, prog.TotalPoints)
	return prog.TotalPoints, nil
}

// awardLocked runs the transactional append. Caller must hold the user lock.
func (s *LedgerService) awardLocked(ctx context.Context, externalUserID string, points int64, reason string, category *string, completedDelta int64, mutate func(*models.UserProgress)) (*models.UserProgress, error) {
	var result models.UserProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := s.appendEntry(tx, externalUserID, points, reason, category, completedDelta, mutate)
		if err != nil {
			return err
		}
		result = *prog
		return nil
	})
	if err != nil {
		return nil, persistenceErr("ledger append", err)
	}
	return &result, nil
}

// appendEntry is the single place ledger rows are written. It verifies the
// user, inserts the entry, rolls windowed counters when the week or month key
// changed, applies the points and any extra counter mutation, and recomputes
// the level. Everything happens inside the caller's transaction.
func (s *LedgerService) appendEntry(tx *gorm.DB, externalUserID string, points int64, reason string, category *string, completedDelta int64, mutate func(*models.UserProgress)) (*models.UserProgress, error) {
	var citizen models.CitizenUser
	if err := tx.Where("external_user_id = ?", externalUserID).First(&citizen).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	entry := models.LedgerEntry{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Points:         points,
		Reason:         reason,
		Category:       category,
		CreatedAt:      now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	prog, err := s.ensureProgress(tx, externalUserID)
	if err != nil {
		return nil, err
	}

	// Lazy window rollover: a stale key means the scheduler's sweep has not
	// run yet for this user, so reset before accumulating.
	if wk := WeekKey(now); prog.WeekKey != wk {
		prog.WeekKey = wk
		prog.WeeklyPoints = 0
	}
	if mk := MonthKey(now); prog.MonthKey != mk {
		prog.MonthKey = mk
		prog.MonthlyPoints = 0
	}

	prog.TotalPoints += points
	prog.WeeklyPoints += points
	prog.MonthlyPoints += points
	prog.LastEarnedAt = &now

	if mutate != nil {
		mutate(prog)
	}

	newLevel := LevelForPoints(prog.TotalPoints, DefaultLevelTable)
	if newLevel > prog.Level {
		prog.LastLevelUpAt = &now
	}
	prog.Level = newLevel

	if err := tx.Save(prog).Error; err != nil {
		return nil, err
	}

	if category != nil {
		if err := s.bumpCategory(tx, externalUserID, *category, points, completedDelta, now); err != nil {
			return nil, err
		}
	}

	return prog, nil
}

func (s *LedgerService) bumpCategory(tx *gorm.DB, externalUserID, categorySlug string, points, completedDelta int64, now time.Time) error {
	var cat models.CategoryProgress
	err := tx.Where("external_user_id = ? AND category = ?", externalUserID, categorySlug).First(&cat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cat = models.CategoryProgress{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			Category:       categorySlug,
		}
		if err := tx.Create(&cat).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	cat.Points += points
	cat.Completed += completedDelta
	cat.LastEarnedAt = &now
	return tx.Save(&cat).Error
}

// RecordChallengeCompletion handles a completed challenge: counter bump,
// ledger append, badge evaluation, rank updates. Returns the fresh progress
// and any newly granted badge codes.
func (s *LedgerService) RecordChallengeCompletion(ctx context.Context, externalUserID, category string, points int64) (*models.UserProgress, []string, error) {
	categorySlug := slug.Make(category)

	unlock := s.lockUser(externalUserID)
	defer unlock()

	prog, err := s.awardLocked(ctx, externalUserID, points, "challenge_completed", &categorySlug, 1, func(p *models.UserProgress) {
		p.ChallengesCompleted++
	})
	if err != nil {
		return nil, nil, err
	}

	prog, granted, err := s.evaluateBadges(ctx, externalUserID, prog)
	if err != nil {
		return nil, nil, err
	}

	s.afterChange(ctx, prog, []string{categorySlug})
	s.publishPoints(externalUserID, points, "challenge_completed", prog.TotalPoints)
	return prog, granted, nil
}

// RecordSubmissionApproval handles an approved photo submission. score is the
// moderator quality score; at or above PerfectScoreCutoff it also counts
// toward the perfect-submission badge.
func (s *LedgerService) RecordSubmissionApproval(ctx context.Context, externalUserID string, score int, points int64) (*models.UserProgress, []string, error) {
	unlock := s.lockUser(externalUserID)
	defer unlock()

	prog, err := s.awardLocked(ctx, externalUserID, points, "submission_approved", nil, 0, func(p *models.UserProgress) {
		p.SubmissionsApproved++
		if score >= PerfectScoreCutoff {
			p.PerfectSubmissions++
		}
	})
	if err != nil {
		return nil, nil, err
	}

	prog, granted, err := s.evaluateBadges(ctx, externalUserID, prog)
	if err != nil {
		return nil, nil, err
	}

	s.afterChange(ctx, prog, nil)
	s.publishPoints(externalUserID, points, "submission_approved", prog.TotalPoints)
	return prog, granted, nil
}

// RecordLogin awards the daily check-in bonus, at most once per UTC day.
// A repeat login the same day is a no-op, not an error.
func (s *LedgerService) RecordLogin(ctx context.Context, externalUserID string) (*models.UserProgress, []string, error) {
	unlock := s.lockUser(externalUserID)
	defer unlock()

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	var alreadyToday int64
	err := s.DB.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("external_user_id = ? AND reason = ? AND created_at >= ?", externalUserID, "daily_login", dayStart).
		Count(&alreadyToday).Error
	if err != nil {
		return nil, nil, persistenceErr("login lookup", err)
	}
	if alreadyToday > 0 {
		prog, err := s.EnsureProgressRecord(externalUserID)
		if err != nil {
			return nil, nil, persistenceErr("progress lookup", err)
		}
		return prog, nil, nil
	}

	prog, err := s.awardLocked(ctx, externalUserID, DailyLoginPoints, "daily_login", nil, 0, func(p *models.UserProgress) {
		p.TotalLogins++
	})
	if err != nil {
		return nil, nil, err
	}

	prog, granted, err := s.evaluateBadges(ctx, externalUserID, prog)
	if err != nil {
		return nil, nil, err
	}

	s.afterChange(ctx, prog, nil)
	s.publishPoints(externalUserID, DailyLoginPoints, "daily_login", prog.TotalPoints)
	return prog, granted, nil
}

func (s *LedgerService) evaluateBadges(ctx context.Context, externalUserID string, prog *models.UserProgress) (*models.UserProgress, []string, error) {
	if s.Badges == nil {
		return prog, nil, nil
	}
	granted, fresh, err := s.Badges.evaluateLocked(ctx, externalUserID)
	if err != nil {
		return nil, nil, err
	}
	if fresh != nil {
		prog = fresh
	}
	return prog, granted, nil
}

// afterChange pushes the committed totals into the rank indexes and emits a
// rank_changed event when the user's global position moved.
func (s *LedgerService) afterChange(ctx context.Context, prog *models.UserProgress, categories []string) {
	if s.Boards == nil {
		return
	}
	before, beforeErr := s.Boards.RankOf(ctx, prog.ExternalUserID, models.LeaderboardGlobal)
	s.Boards.UpdateFromProgress(ctx, prog, categories)
	after, afterErr := s.Boards.RankOf(ctx, prog.ExternalUserID, models.LeaderboardGlobal)
	if s.Events != nil && afterErr == nil && (beforeErr != nil || before.Rank != after.Rank) {
		s.Events.Publish(Event{
			Type:           EventRankChanged,
			ExternalUserID: prog.ExternalUserID,
			Payload: map[string]interface{}{
				"leaderboard": models.LeaderboardGlobal,
				"rank":        after.Rank,
				"score":       after.Score,
			},
		})
	}
}

func (s *LedgerService) publishPoints(externalUserID string, points int64, reason string, newTotal int64) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(Event{
		Type:           EventPointsAwarded,
		ExternalUserID: externalUserID,
		Payload: map[string]interface{}{
			"points":    points,
			"reason":    reason,
			"new_total": newTotal,
		},
	})
}

// GetHistory returns a paginated slice of the user's ledger, newest first.
func (s *LedgerService) GetHistory(ctx context.Context, externalUserID string, page, size int) (map[string]interface{}, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("external_user_id = ?", externalUserID).
		Count(&total).Error; err != nil {
		return nil, persistenceErr("history count", err)
	}

	var entries []models.LedgerEntry
	if err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", externalUserID).
		Order("created_at DESC").
		Limit(size).Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, persistenceErr("history page", err)
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return map[string]interface{}{
		"entries":     entries,
		"page":        page,
		"size":        size,
		"total_items": total,
		"total_pages": totalPages,
	}, nil
}
