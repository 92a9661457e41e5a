// services/round_service.go
package services

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/rumble"
)

// RoundService owns the HTTP surface of the round lifecycle. Each handler
// loads the round snapshot, runs one engine operation, and writes the result
// back in a single transaction; the engine itself never touches the DB.
type RoundService struct {
	DB       *gorm.DB
	Scoring  *ScoringClient
	Treasury *TreasuryClient

	printer *message.Printer
}

func NewRoundService(db *gorm.DB, scoring *ScoringClient, treasury *TreasuryClient) *RoundService {
	return &RoundService{
		DB:       db,
		Scoring:  scoring,
		Treasury: treasury,
		printer:  message.NewPrinter(language.English),
	}
}

// statusForEngineError maps the engine's error kinds onto HTTP statuses so
// clients can react to the specific failure, not a generic 500.
func statusForEngineError(err error) int {
	switch {
	case errors.Is(err, rumble.ErrInvalidDeposit):
		return fiber.StatusBadRequest
	case errors.Is(err, rumble.ErrRoundNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, rumble.ErrRoundNotOpen),
		errors.Is(err, rumble.ErrRoundNotIdle),
		errors.Is(err, rumble.ErrRoundNotSettled),
		errors.Is(err, rumble.ErrRoundAlreadySettled),
		errors.Is(err, rumble.ErrNoDeposits):
		return fiber.StatusConflict
	case errors.Is(err, rumble.ErrArithmeticOverflow),
		errors.Is(err, rumble.ErrDivisionByZero):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, rumble.ErrWinnerTransferFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// CreateRound creates a new Idle round (Admin only)
func (s *RoundService) CreateRound(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	round := rumble.NewRound(uuid.NewString(), req.Name, slug.Make(req.Name))
	if err := s.DB.Create(round).Error; err != nil {
		log.Printf("DB Error creating round: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create round"})
	}

	return c.Status(fiber.StatusCreated).JSON(round)
}

// OpenRound transitions an Idle round to Open and fixes its deposit window (Admin only)
func (s *RoundService) OpenRound(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		OpensAt  *time.Time `json:"opens_at"`
		ClosesAt time.Time  `json:"closes_at" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	opensAt := time.Now().UTC()
	if req.OpensAt != nil {
		opensAt = req.OpensAt.UTC()
	}
	if !req.ClosesAt.After(opensAt) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "closes_at must be after opens_at"})
	}

	var round models.Round
	err := s.withRound(c, id, &round, func(tx *gorm.DB) error {
		if err := rumble.OpenRound(&round, opensAt, req.ClosesAt.UTC()); err != nil {
			return err
		}
		return tx.Model(&models.Round{}).Where("id = ?", round.ID).Updates(map[string]interface{}{
			"state":     round.State,
			"opens_at":  round.OpensAt,
			"closes_at": round.ClosesAt,
		}).Error
	})
	if err != nil {
		return s.engineError(c, "open round", err)
	}

	return c.JSON(round)
}

// Deposit records a stake for the authenticated user
func (s *RoundService) Deposit(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	id := c.Params("id")

	var req struct {
		Amount uint64 `json:"amount" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var round models.Round
	var event *models.RoundEvent
	err := s.withRound(c, id, &round, func(tx *gorm.DB) error {
		e, err := rumble.Deposit(&round, userID, req.Amount, time.Now().UTC())
		if err != nil {
			return err
		}
		event = e
		if err := upsertParticipants(tx, round.Participants); err != nil {
			return err
		}
		if err := tx.Model(&models.Round{}).Where("id = ?", round.ID).
			Update("total_pool", round.TotalPool).Error; err != nil {
			return err
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return s.engineError(c, "deposit", err)
	}

	return c.JSON(fiber.Map{
		"round_id":       round.ID,
		"amount":         req.Amount,
		"amount_display": s.printer.Sprintf("%d", req.Amount),
		"total_pool":     round.TotalPool,
		"event":          event,
	})
}

// Evaluate pulls activity scores from the model service and applies them (Admin only).
// The scheduler hits the same path for rounds whose window has elapsed.
func (s *RoundService) Evaluate(c *fiber.Ctx) error {
	id := c.Params("id")
	round, event, err := s.EvaluateRound(c.Context(), id)
	if err != nil {
		return s.engineError(c, "evaluate", err)
	}
	return c.JSON(fiber.Map{"round": round, "event": event})
}

// Settle ranks, pays, burns, and freezes the round (Admin only)
func (s *RoundService) Settle(c *fiber.Ctx) error {
	id := c.Params("id")
	round, event, err := s.SettleRound(c.Context(), id)
	if err != nil {
		return s.engineError(c, "settle", err)
	}
	return c.JSON(fiber.Map{
		"round":                  round,
		"payout_per_winner":      round.PayoutPerWinner,
		"payout_display":         s.printer.Sprintf("%d", round.PayoutPerWinner),
		"burn_amount":            round.BurnAmount,
		"event":                  event,
	})
}

// Reset clears a settled round for re-use (Admin only)
func (s *RoundService) Reset(c *fiber.Ctx) error {
	id := c.Params("id")

	var round models.Round
	var event *models.RoundEvent
	err := s.withRound(c, id, &round, func(tx *gorm.DB) error {
		e, err := rumble.Reset(&round, time.Now().UTC())
		if err != nil {
			return err
		}
		event = e
		if err := tx.Where("round_id = ?", round.ID).Delete(&models.RoundParticipant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("round_id = ?", round.ID).Delete(&models.RoundWinner{}).Error; err != nil {
			return err
		}
		if err := saveRoundState(tx, &round); err != nil {
			return err
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return s.engineError(c, "reset", err)
	}

	return c.JSON(fiber.Map{"round": round, "event": event})
}

// GetAllRounds lists rounds, newest first
func (s *RoundService) GetAllRounds(c *fiber.Ctx) error {
	var rounds []models.Round
	if err := s.DB.Order("created_at DESC").Find(&rounds).Error; err != nil {
		log.Printf("DB Error fetching rounds: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch rounds"})
	}
	return c.JSON(rounds)
}

// GetRoundByID returns one round with participants and winners
func (s *RoundService) GetRoundByID(c *fiber.Ctx) error {
	var round models.Round
	if err := s.DB.
		Preload("Participants").
		Preload("Winners", func(db *gorm.DB) *gorm.DB {
			return db.Order("rank ASC")
		}).
		First(&round, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Round not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(round)
}

// GetRoundWinners returns the settled winner list in rank order
func (s *RoundService) GetRoundWinners(c *fiber.Ctx) error {
	var winners []models.RoundWinner
	if err := s.DB.Where("round_id = ?", c.Params("id")).Order("rank ASC").Find(&winners).Error; err != nil {
		log.Printf("DB Error fetching winners: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch winners"})
	}
	return c.JSON(winners)
}

// GetRoundEvents returns the notification log for a round
func (s *RoundService) GetRoundEvents(c *fiber.Ctx) error {
	var events []models.RoundEvent
	if err := s.DB.Where("round_id = ?", c.Params("id")).Order("created_at ASC").Find(&events).Error; err != nil {
		log.Printf("DB Error fetching events: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch events"})
	}
	return c.JSON(events)
}
