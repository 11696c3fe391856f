package services

import (
	"sort"
	"sync"
	"time"

	"civic-engagement-system/models"
)

// rankEntry is one position in a MemoryRankIndex.
type rankEntry struct {
	userID     string
	score      int64
	achievedAt time.Time
}

// entryLess fixes the total order: score descending, then earlier
// achievement, then userID ascending. The rule is deterministic so repeated
// identical queries return identical orderings.
func entryLess(a, b rankEntry) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.achievedAt.Equal(b.achievedAt) {
		return a.achievedAt.Before(b.achievedAt)
	}
	return a.userID < b.userID
}

// MemoryRankIndex keeps one leaderboard's total order in process memory.
// It is a derived cache over the ledger: any instance can be thrown away and
// rebuilt from a ledger scan. Reads take the read lock only, so leaderboard
// queries never block each other.
type MemoryRankIndex struct {
	mu      sync.RWMutex
	entries []rankEntry // sorted by entryLess
	byUser  map[string]rankEntry
}

func NewMemoryRankIndex() *MemoryRankIndex {
	return &MemoryRankIndex{byUser: make(map[string]rankEntry)}
}

// Update repositions userID at score. A non-positive score removes the user
// from the board (zero-point users are unranked, not last).
func (idx *MemoryRankIndex) Update(update models.ScoreUpdate) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.byUser[update.ExternalUserID]; ok {
		pos := idx.positionLocked(old)
		idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)
		delete(idx.byUser, update.ExternalUserID)
	}

	if update.Score <= 0 {
		return
	}

	entry := rankEntry{userID: update.ExternalUserID, score: update.Score, achievedAt: update.AchievedAt.UTC()}
	pos := sort.Search(len(idx.entries), func(i int) bool {
		return entryLess(entry, idx.entries[i])
	})
	idx.entries = append(idx.entries, rankEntry{})
	copy(idx.entries[pos+1:], idx.entries[pos:])
	idx.entries[pos] = entry
	idx.byUser[update.ExternalUserID] = entry
}

// positionLocked finds the exact slot of a known entry via binary search.
func (idx *MemoryRankIndex) positionLocked(entry rankEntry) int {
	pos := sort.Search(len(idx.entries), func(i int) bool {
		return !entryLess(idx.entries[i], entry)
	})
	// Equal keys are unique (userID is part of the order), so pos is exact.
	return pos
}

// TopN returns one leaderboard page, rank-stamped and ordered.
// An empty board yields an empty page, not an error.
func (idx *MemoryRankIndex) TopN(limit, offset int) []models.RankedEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(idx.entries) {
		return []models.RankedEntry{}
	}
	end := offset + limit
	if end > len(idx.entries) {
		end = len(idx.entries)
	}

	page := make([]models.RankedEntry, 0, end-offset)
	for i := offset; i < end; i++ {
		page = append(page, models.RankedEntry{
			Rank:           int64(i + 1),
			ExternalUserID: idx.entries[i].userID,
			Score:          idx.entries[i].score,
		})
	}
	return page
}

// RankOf returns the user's 1-based position and percentile, or
// ErrUserNotRanked when they hold no score on this board.
func (idx *MemoryRankIndex) RankOf(externalUserID string) (models.RankStanding, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.byUser[externalUserID]
	if !ok {
		return models.RankStanding{}, ErrUserNotRanked
	}
	rank := int64(idx.positionLocked(entry) + 1)
	total := int64(len(idx.entries))
	return models.RankStanding{
		Rank:       rank,
		Score:      entry.score,
		TotalUsers: total,
		Percentile: 100 * (1 - float64(rank-1)/float64(total)),
	}, nil
}

// Len reports how many users hold a rank on this board.
func (idx *MemoryRankIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
