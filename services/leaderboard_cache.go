package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"civic-engagement-system/models"

	goredis "github.com/redis/go-redis/v9"
)

// LeaderboardCache is a read-through redis cache for leaderboard pages.
// Strictly a cache: on any miss or redis failure callers fall back to the
// in-memory index. Invalidation bumps a per-board version counter so stale
// pages become unreachable without scanning keys.
type LeaderboardCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewLeaderboardCache connects to REDIS_ADDR. Returns nil (cache disabled)
// when the variable is unset.
func NewLeaderboardCache() (*LeaderboardCache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &LeaderboardCache{rdb: rdb, ttl: 30 * time.Second}, nil
}

// Client exposes the underlying connection for the event bus to share.
func (c *LeaderboardCache) Client() *goredis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *LeaderboardCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *LeaderboardCache) versionKey(boardType string) string {
	return "leaderboard:ver:" + boardType
}

func (c *LeaderboardCache) pageKey(ctx context.Context, boardType string, limit, offset int) string {
	version, err := c.rdb.Get(ctx, c.versionKey(boardType)).Int64()
	if err != nil && err != goredis.Nil {
		return ""
	}
	return fmt.Sprintf("leaderboard:%s:v%d:%d:%d", boardType, version, limit, offset)
}

// GetPage returns a cached page and whether it was present.
func (c *LeaderboardCache) GetPage(ctx context.Context, boardType string, limit, offset int) ([]models.RankedEntry, bool) {
	if c == nil {
		return nil, false
	}
	key := c.pageKey(ctx, boardType, limit, offset)
	if key == "" {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var page []models.RankedEntry
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false
	}
	return page, true
}

// SetPage stores a freshly computed page. Failures are logged and ignored —
// the cache never gates a response.
func (c *LeaderboardCache) SetPage(ctx context.Context, boardType string, limit, offset int, page []models.RankedEntry) {
	if c == nil {
		return
	}
	key := c.pageKey(ctx, boardType, limit, offset)
	if key == "" {
		return
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Printf("[CACHE] ⚠️ failed to store page %s: %v", key, err)
	}
}

// Invalidate bumps the board's version so every cached page expires at once.
func (c *LeaderboardCache) Invalidate(ctx context.Context, boardType string) {
	if c == nil {
		return
	}
	if err := c.rdb.Incr(ctx, c.versionKey(boardType)).Err(); err != nil {
		log.Printf("[CACHE] ⚠️ failed to invalidate %s: %v", boardType, err)
	}
}
