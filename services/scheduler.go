// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
)

// StartSettlementScheduler settles rounds whose deposit window has elapsed.
// The engine never self-triggers; this scheduler is the caller that decides a
// window is over, pulls a final activity evaluation, and invokes settle.
func (s *RoundService) StartSettlementScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: evaluate + settle expired rounds
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			var rounds []models.Round
			now := time.Now().UTC()
			err := s.DB.Where("state IN ? AND closes_at <= ?",
				[]models.RoundState{models.RoundStateOpen, models.RoundStateEvaluating}, now).
				Find(&rounds).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, r := range rounds {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

				if _, _, err := s.EvaluateRound(ctx, r.ID); err != nil {
					// Settlement still proceeds on whatever scores are already
					// applied; a dead model service must not strand the pool.
					log.Printf("[Scheduler] Final evaluation failed for round %s: %v", r.ID, err)
				}

				if _, _, err := s.SettleRound(ctx, r.ID); err != nil {
					log.Printf("[Scheduler] Failed to settle round %s: %v", r.ID, err)
				} else {
					log.Printf("✅ Auto-settled round: %s", r.Slug)
				}
				cancel()
			}
		}),
	)
}
