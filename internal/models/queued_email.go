package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueuedEmailStatus is the lifecycle state of a deferred send.
type QueuedEmailStatus string

const (
	QueueStatusPending    QueuedEmailStatus = "PENDING"
	QueueStatusProcessing QueuedEmailStatus = "PROCESSING"
	QueueStatusSent       QueuedEmailStatus = "SENT"
	QueueStatusFailed     QueuedEmailStatus = "FAILED"
	QueueStatusCancelled  QueuedEmailStatus = "CANCELLED"
)

// IsTerminal reports whether the queue item can never transition again.
func (s QueuedEmailStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed || s == QueueStatusCancelled
}

// QueuedEmail is a rate-limited or deferred send waiting for retry.
// PENDING -> PROCESSING (conditional claim) -> SENT, back to PENDING with
// backoff, or FAILED once attempts are exhausted. PENDING -> CANCELLED on
// explicit user action.
type QueuedEmail struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	RequestID string `gorm:"size:36;index" json:"request_id,omitempty"`
	// SendAttemptID ties the queued item back to the dispatch attempt that was
	// deferred, so the worker can settle the send ledger on success.
	SendAttemptID string `gorm:"size:36" json:"send_attempt_id,omitempty"`
	ToEmail       string `gorm:"not null;size:255" json:"to_email"`
	Subject   string `gorm:"size:500" json:"subject"`
	Body      string `gorm:"type:text" json:"body,omitempty"`

	Status        QueuedEmailStatus `gorm:"not null;size:16;default:'PENDING';index" json:"status"`
	Attempts      int               `gorm:"default:0" json:"attempts"`
	MaxAttempts   int               `gorm:"default:5" json:"max_attempts"`
	NextAttemptAt *time.Time        `gorm:"index" json:"next_attempt_at,omitempty"`
	LastError     string            `gorm:"size:1000" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for QueuedEmail
func (QueuedEmail) TableName() string {
	return "queued_emails"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (q *QueuedEmail) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}
