package services

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
)

// StreamRoundEventsSSE streams a round's notification records as they are
// written. Events were already committed with their operation; a dropped
// stream only means the client missed the delivery, never that state rolled
// back.
func (s *RoundService) StreamRoundEventsSSE(c *fiber.Ctx) error {
	roundID := c.Params("id")

	var round models.Round
	if err := s.DB.Select("id").First(&round, "id = ?", roundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Round not found"})
		}
		log.Printf("SSE round lookup error for %s: %v", roundID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	db := s.DB

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var lastMaxCreatedAt time.Time

		// Initialize cursor at the newest existing event so the stream only
		// carries what happens from now on.
		var latest models.RoundEvent
		if err := db.
			Where("round_id = ?", roundID).
			Order("created_at DESC").
			First(&latest).Error; err == nil {
			lastMaxCreatedAt = latest.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error for round %s: %v", roundID, err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var newEvents []models.RoundEvent

				err := db.
					Where("round_id = ?", roundID).
					Where("created_at > ?", lastMaxCreatedAt).
					Order("created_at ASC").
					Find(&newEvents).Error

				if err != nil {
					log.Printf("SSE query error for round %s: %v", roundID, err)
					continue
				}

				if len(newEvents) == 0 {
					continue
				}

				lastMaxCreatedAt = newEvents[len(newEvents)-1].CreatedAt

				for _, e := range newEvents {
					fmt.Fprintf(w,
						"event: %s\ndata: %s\n\n",
						e.Kind, e.Payload,
					)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
