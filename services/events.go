package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Outbound event types consumed by the notification layer.
const (
	EventPointsAwarded = "points_awarded"
	EventBadgeGranted  = "badge_granted"
	EventRankChanged   = "rank_changed"
)

// Event is one outbound notification.
type Event struct {
	Type           string                 `json:"type"`
	ExternalUserID string                 `json:"external_user_id"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	At             time.Time              `json:"at"`
}

type subscriber struct {
	userID string // "" subscribes to all users
	ch     chan Event
}

// EventBus fans events out to in-process SSE subscribers and, when redis is
// configured, publishes them on a channel for other instances and the
// notification service. Delivery is best-effort: a slow subscriber drops
// events rather than blocking the award path.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	rdb     *goredis.Client // optional
	channel string
}

func NewEventBus(rdb *goredis.Client, channel string) *EventBus {
	if channel == "" {
		channel = "gamification-events"
	}
	return &EventBus{
		subs:    make(map[*subscriber]struct{}),
		rdb:     rdb,
		channel: channel,
	}
}

// Subscribe registers a listener for one user's events (or all events when
// userID is empty). The returned cancel func must be called to release the
// subscription.
func (b *EventBus) Subscribe(userID string) (<-chan Event, func()) {
	sub := &subscriber{userID: userID, ch: make(chan Event, 16)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers ev to matching subscribers and the redis channel.
func (b *EventBus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	for sub := range b.subs {
		if sub.userID != "" && sub.userID != ev.ExternalUserID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// subscriber is not draining; drop instead of blocking
		}
	}
	b.mu.RUnlock()

	if b.rdb != nil {
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
			log.Printf("[EVENTS] ⚠️ redis publish failed: %v", err)
		}
	}
}
