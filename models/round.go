package models

import (
	"time"
)

// RoundState is the lifecycle state of a rumble round
type RoundState string

const (
	RoundStateIdle       RoundState = "idle"
	RoundStateOpen       RoundState = "open"
	RoundStateEvaluating RoundState = "evaluating"
	RoundStateSettled    RoundState = "settled"
)

// Round represents one deposit → score → settle → reset cycle.
// TotalPool always equals the sum of participant deposits; the settlement
// engine is the only code allowed to change State.
type Round struct {
	ID        string     `json:"id" gorm:"primaryKey;type:uuid"`
	Name      string     `json:"name" gorm:"not null"`
	Slug      string     `json:"slug" gorm:"uniqueIndex;not null"`
	State     RoundState `json:"state" gorm:"type:varchar(16);not null;default:'idle'"`
	TotalPool uint64     `json:"total_pool" gorm:"not null;default:0"`

	// Deposit window — set when the round is opened, used by the speed
	// sub-score. ClosesAt is also what the settlement scheduler watches.
	OpensAt  *time.Time `json:"opens_at,omitempty"`
	ClosesAt *time.Time `json:"closes_at,omitempty" gorm:"index"`

	// Settlement audit fields (populated on settle, cleared on reset)
	SettleSeed      string     `json:"settle_seed,omitempty"`
	WinnerCount     int        `json:"winner_count" gorm:"default:0"`
	PayoutPerWinner uint64     `json:"payout_per_winner" gorm:"default:0"`
	BurnAmount      uint64     `json:"burn_amount" gorm:"default:0"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Participants []RoundParticipant `json:"participants,omitempty" gorm:"foreignKey:RoundID"`
	Winners      []RoundWinner      `json:"winners,omitempty" gorm:"foreignKey:RoundID"`
}

// RoundParticipant tracks a single identity's stake within one round.
// Created on first deposit, destroyed on round reset. Holdings is the
// mirrored token balance, distinct from the in-round Deposit.
type RoundParticipant struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	RoundID        string `json:"round_id" gorm:"not null;index:idx_round_participant,unique"`
	ExternalUserID string `json:"external_user_id" gorm:"not null;index:idx_round_participant,unique"`

	Deposit       uint64 `json:"deposit" gorm:"not null;default:0"`
	Holdings      uint64 `json:"holdings" gorm:"not null;default:0"`
	ActivityScore int64  `json:"activity_score" gorm:"not null;default:0"`

	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RoundWinner is written as a batch during settlement and is immutable
// until the round is reset. CompositeScore is kept for audit.
type RoundWinner struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	RoundID        string `json:"round_id" gorm:"not null;index"`
	ExternalUserID string `json:"external_user_id" gorm:"not null;index"`

	Rank           int    `json:"rank" gorm:"not null"`
	Payout         uint64 `json:"payout" gorm:"not null"`
	CompositeScore uint64 `json:"composite_score" gorm:"not null"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
