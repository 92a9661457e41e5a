package models

import (
	"time"
)

// Event kinds emitted by the settlement engine — one per completed operation.
const (
	EventDepositMade       = "deposit.made"
	EventActivityEvaluated = "activity.evaluated"
	EventRoundSettled      = "round.settled"
	EventRoundReset        = "round.reset"
)

// RoundEvent is a notification record returned by an engine operation and
// persisted by the service layer. Delivery (SSE, webhooks) is fire-and-forget;
// a delivery failure never rolls back the state transition that produced it.
type RoundEvent struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	RoundID string `json:"round_id" gorm:"not null;index"`
	Kind    string `json:"kind" gorm:"type:varchar(32);not null;index"`
	Payload string `json:"payload" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}
