package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SendAttempt records one logical send action. The unique index on
// IdempotencyKey gives the dispatch guard its creation-time idempotency:
// a second create with the same key hits the constraint and the existing
// row is returned instead.
type SendAttempt struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	RequestID      string `gorm:"not null;size:36;index" json:"request_id"`
	IdempotencyKey string `gorm:"not null;size:128;uniqueIndex" json:"idempotency_key"`

	// Dispatched is set once the transport has been invoked for this attempt.
	Dispatched        bool       `gorm:"default:false" json:"dispatched"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ProviderMessageID string     `gorm:"size:255" json:"provider_message_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for SendAttempt
func (SendAttempt) TableName() string {
	return "send_attempts"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (a *SendAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
