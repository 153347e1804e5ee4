package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reminder stop reasons.
const (
	StopReasonReplied   = "replied"
	StopReasonExhausted = "max_count_reached"
	StopReasonManual    = "manual"
)

// ReminderState is the cadence state machine for one (request, counterparty)
// pair. At most one row exists per pair (composite unique index); creation is
// check-then-create with unique-constraint retry. NextSendAt == nil is the
// terminal Stopped state and holds iff StoppedReason is set.
type ReminderState struct {
	ID                string `gorm:"primaryKey;size:36" json:"id"`
	RequestID         string `gorm:"not null;size:36;uniqueIndex:idx_reminder_pair" json:"request_id"`
	CounterpartyEmail string `gorm:"not null;size:255;uniqueIndex:idx_reminder_pair" json:"counterparty_email"`

	ReminderNumber int        `gorm:"default:0" json:"reminder_number"`
	SentCount      int        `gorm:"default:0" json:"sent_count"`
	NextSendAt     *time.Time `gorm:"index" json:"next_send_at,omitempty"`
	LastSentAt     *time.Time `json:"last_sent_at,omitempty"`
	StoppedReason  *string    `gorm:"size:64" json:"stopped_reason,omitempty"`

	// Durable cadence copies, frozen at initialization.
	FrequencyDays int `gorm:"default:3" json:"frequency_days"`
	MaxCount      int `gorm:"default:3" json:"max_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ReminderState
func (ReminderState) TableName() string {
	return "reminder_states"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (r *ReminderState) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// Stopped reports whether the cadence has reached its terminal state.
func (r *ReminderState) Stopped() bool {
	return r.NextSendAt == nil && r.StoppedReason != nil
}
