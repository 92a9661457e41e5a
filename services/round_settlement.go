// services/round_settlement.go — shared load/mutate/save plumbing plus the
// evaluate and settle flows used by both the HTTP handlers and the scheduler.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/rumble"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/utils"
)

// withRound runs fn against a row-locked round snapshot inside one
// transaction. The row lock serializes concurrent mutations per round, which
// is the single-writer discipline the engine assumes.
func (s *RoundService) withRound(c *fiber.Ctx, id string, round *models.Round, fn func(tx *gorm.DB) error) error {
	return s.loadAndMutate(c.Context(), id, round, fn)
}

func (s *RoundService) loadAndMutate(ctx context.Context, id string, round *models.Round, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Participants").
			Preload("Winners").
			First(round, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return rumble.ErrRoundNotFound
			}
			return err
		}
		return fn(tx)
	})
}

// engineError renders an engine failure with the status the error kind maps to.
func (s *RoundService) engineError(c *fiber.Ctx, op string, err error) error {
	status := statusForEngineError(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("DB Error during %s: %v", op, err)
		return c.Status(status).JSON(fiber.Map{"error": "DB error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// upsertParticipants writes the in-memory participant set back in one
// statement, keyed on (round_id, external_user_id).
func upsertParticipants(tx *gorm.DB, participants []models.RoundParticipant) error {
	if len(participants) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "round_id"}, {Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deposit", "holdings", "activity_score", "updated_at",
		}),
	}).Create(&participants).Error
}

// saveRoundState persists the round's scalar columns after an engine op.
func saveRoundState(tx *gorm.DB, round *models.Round) error {
	return tx.Model(&models.Round{}).Where("id = ?", round.ID).Updates(map[string]interface{}{
		"state":             round.State,
		"total_pool":        round.TotalPool,
		"opens_at":          round.OpensAt,
		"closes_at":         round.ClosesAt,
		"settle_seed":       round.SettleSeed,
		"winner_count":      round.WinnerCount,
		"payout_per_winner": round.PayoutPerWinner,
		"burn_amount":       round.BurnAmount,
		"settled_at":        round.SettledAt,
	}).Error
}

// EvaluateRound fetches activity scores from the model service for the
// round's participants and applies them. Scores arrive already filtered for
// anomalies (flagged participants come back as zero), and applying the same
// batch twice is harmless since the engine overwrites.
func (s *RoundService) EvaluateRound(ctx context.Context, id string) (*models.Round, *models.RoundEvent, error) {
	var round models.Round
	var event *models.RoundEvent
	err := s.loadAndMutate(ctx, id, &round, func(tx *gorm.DB) error {
		ids := make([]string, 0, len(round.Participants))
		for _, p := range round.Participants {
			ids = append(ids, p.ExternalUserID)
		}

		scores, err := s.Scoring.ComputeScores(ctx, ids)
		if err != nil {
			return err
		}

		e, err := rumble.ApplyActivityScores(&round, scores, time.Now().UTC())
		if err != nil {
			return err
		}
		event = e

		if err := upsertParticipants(tx, round.Participants); err != nil {
			return err
		}
		if err := tx.Model(&models.Round{}).Where("id = ?", round.ID).
			Update("state", round.State).Error; err != nil {
			return err
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &round, event, nil
}

// SettleRound folds mirrored holdings into the participant set, runs the
// atomic settle, and persists the outcome. The audit record upload is
// fire-and-forget: the settlement already committed, a lost upload is only
// logged.
func (s *RoundService) SettleRound(ctx context.Context, id string) (*models.Round, *models.RoundEvent, error) {
	var round models.Round
	var event *models.RoundEvent
	err := s.loadAndMutate(ctx, id, &round, func(tx *gorm.DB) error {
		balances, err := s.loadHoldings(tx, &round)
		if err != nil {
			return err
		}

		e, err := rumble.SettleWithHoldings(ctx, &round, balances, s.Treasury, time.Now().UTC())
		if err != nil {
			return err
		}
		event = e

		if err := upsertParticipants(tx, round.Participants); err != nil {
			return err
		}
		if len(round.Winners) > 0 {
			if err := tx.Create(&round.Winners).Error; err != nil {
				return err
			}
		}
		if err := saveRoundState(tx, &round); err != nil {
			return err
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, nil, err
	}

	go s.uploadSettlementAudit(round)

	return &round, event, nil
}

// loadHoldings reads the mirrored balances for the round's participants.
func (s *RoundService) loadHoldings(tx *gorm.DB, round *models.Round) (map[string]uint64, error) {
	if len(round.Participants) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(round.Participants))
	for _, p := range round.Participants {
		ids = append(ids, p.ExternalUserID)
	}

	var mirrors []models.HoldingsMirror
	if err := tx.Where("external_user_id IN ?", ids).Find(&mirrors).Error; err != nil {
		return nil, err
	}

	balances := make(map[string]uint64, len(mirrors))
	for _, m := range mirrors {
		balances[m.ExternalUserID] = m.Balance
	}
	return balances, nil
}

// settlementAudit is the archived record of one settlement: enough to verify
// the ranking and the random factors after the fact.
type settlementAudit struct {
	RoundID         string                    `json:"round_id"`
	Slug            string                    `json:"slug"`
	SettleSeed      string                    `json:"settle_seed"`
	WinnerCount     int                       `json:"winner_count"`
	PayoutPerWinner uint64                    `json:"payout_per_winner"`
	BurnAmount      uint64                    `json:"burn_amount"`
	SettledAt       *time.Time                `json:"settled_at"`
	Scoreboard      []rumble.ParticipantScore `json:"scoreboard"`
	Winners         []models.RoundWinner      `json:"winners"`
}

func (s *RoundService) uploadSettlementAudit(round models.Round) {
	// Recomputing from the stored seed reproduces the exact scoreboard.
	scoreboard := rumble.CompositeScores(&round, rumble.RandomFactors(&round, round.SettleSeed))

	payload, err := json.Marshal(settlementAudit{
		RoundID:         round.ID,
		Slug:            round.Slug,
		SettleSeed:      round.SettleSeed,
		WinnerCount:     round.WinnerCount,
		PayoutPerWinner: round.PayoutPerWinner,
		BurnAmount:      round.BurnAmount,
		SettledAt:       round.SettledAt,
		Scoreboard:      scoreboard,
		Winners:         round.Winners,
	})
	if err != nil {
		log.Printf("❌ Failed to marshal settlement audit for round %s: %v", round.ID, err)
		return
	}

	key := "settlements/" + round.Slug + "/" + round.ID + ".json"
	url, err := utils.UploadSettlementAudit(key, payload)
	if err != nil {
		log.Printf("❌ Failed to archive settlement audit for round %s: %v", round.ID, err)
		return
	}
	log.Printf("✅ Archived settlement audit for round %s at %s", round.ID, url)
}
