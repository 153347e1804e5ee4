package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus is the coarse lifecycle status of an outbound request.
type RequestStatus string

const (
	StatusDraft      RequestStatus = "DRAFT"
	StatusSent       RequestStatus = "SENT"
	StatusReplied    RequestStatus = "REPLIED"
	StatusSendFailed RequestStatus = "SEND_FAILED"
	StatusComplete   RequestStatus = "COMPLETE"
	StatusFulfilled  RequestStatus = "FULFILLED"
)

// IsTerminal reports whether the status must never be overwritten by
// inbound-mail classification.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFulfilled
}

// IsValid checks if the status is a known value.
func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusReplied, StatusSendFailed, StatusComplete, StatusFulfilled:
		return true
	}
	return false
}

// ReadStatus is an audit marker recorded independently of Status so the UI
// can show "bounced"/"replied" even after the request reaches a terminal state.
type ReadStatus string

const (
	ReadStatusReplied ReadStatus = "replied"
	ReadStatusBounced ReadStatus = "bounced"
)

// Request is the parent entity an outbound email conversation hangs off.
// The engine only touches the send ledger (SentAt/SendAttemptID), the status
// fields, and the durable reminder configuration copies.
type Request struct {
	ID                string        `gorm:"primaryKey;size:36" json:"id"`
	Title             string        `gorm:"size:255" json:"title"`
	CounterpartyEmail string        `gorm:"not null;size:255;index" json:"counterparty_email"`
	Status            RequestStatus `gorm:"not null;size:32;default:'DRAFT';index" json:"status"`
	ReadStatus        ReadStatus    `gorm:"size:32" json:"read_status,omitempty"`

	// Send ledger: once SentAt is non-null it is immutable. SendAttemptID
	// identifies the winning dispatch attempt.
	SentAt        *time.Time `json:"sent_at,omitempty"`
	SendAttemptID string     `gorm:"size:36" json:"send_attempt_id,omitempty"`

	// Reminder configuration, copied onto the request when the cadence is
	// initialized so later config edits never change an in-flight schedule.
	RemindersEnabled        bool `gorm:"default:false" json:"reminders_enabled"`
	RemindersApproved       bool `gorm:"default:false" json:"reminders_approved"`
	ReminderStartDelayHours int  `gorm:"default:72" json:"reminder_start_delay_hours"`
	ReminderFrequencyDays   int  `gorm:"default:3" json:"reminder_frequency_days"`
	ReminderMaxCount        int  `gorm:"default:3" json:"reminder_max_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Request
func (Request) TableName() string {
	return "requests"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
