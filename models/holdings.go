// models/holdings.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// HoldingsMirror mirrors token balances from the balance sync service.
// Table name: holdings_mirror
type HoldingsMirror struct {
	ID             string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	ExternalUserID string    `gorm:"not null;uniqueIndex" json:"external_user_id"` // Primary lookup key
	Chain          string    `gorm:"type:varchar(64);not null;index" json:"chain"`
	Token          string    `gorm:"type:varchar(64);not null" json:"token"`
	Balance        uint64    `gorm:"not null" json:"balance"`
	LastCheckedAt  time.Time `gorm:"not null" json:"last_checked_at"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index"`
}
