// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the periodic consistency sweep and the
// window rollovers. The rebuild sweep is the self-heal path for the
// eventually consistent rank indexes; rollovers happen at UTC boundaries.
func (s *LeaderboardService) StartMaintenanceScheduler() {
	sched, _ := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	sched.Start()

	// Every 10 minutes: rebuild every board from the ledger.
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.RebuildAll(ctx); err != nil {
				log.Printf("[Scheduler] Rebuild sweep failed: %v", err)
			}
		}),
	)

	// Monday 00:00 UTC: open a new weekly window.
	_, _ = sched.NewJob(
		gocron.CronJob("0 0 * * 1", false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.RolloverWeekly(ctx); err != nil {
				log.Printf("[Scheduler] Weekly rollover failed: %v", err)
			}
		}),
	)

	// First of the month 00:00 UTC: open a new monthly window.
	_, _ = sched.NewJob(
		gocron.CronJob("0 0 1 * *", false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.RolloverMonthly(ctx); err != nil {
				log.Printf("[Scheduler] Monthly rollover failed: %v", err)
			}
		}),
	)
}
