package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message direction values shared by outbound and inbound records.
const (
	DirectionOutbound = "OUTBOUND"
	DirectionInbound  = "INBOUND"
)

// OutboundMessage is one email dispatched for a request. Immutable once
// created except for provider metadata backfill after the transport returns.
// MessageIDHeader and ProviderThreadID are the join keys reply correlation
// runs against, so both carry indexes.
type OutboundMessage struct {
	ID                string `gorm:"primaryKey;size:36" json:"id"`
	RequestID         string `gorm:"not null;size:36;index" json:"request_id"`
	CounterpartyEmail string `gorm:"not null;size:255" json:"counterparty_email"`
	Direction         string `gorm:"not null;size:16;default:'OUTBOUND'" json:"direction"`
	Subject           string `gorm:"size:500;index" json:"subject"`
	Body              string `gorm:"type:text" json:"body,omitempty"`

	ProviderMessageID string `gorm:"size:255;index" json:"provider_message_id,omitempty"`
	ProviderThreadID  string `gorm:"size:255;index" json:"provider_thread_id,omitempty"`
	MessageIDHeader   string `gorm:"size:500;index" json:"message_id_header,omitempty"`

	SentAt    time.Time `json:"sent_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Request Request `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for OutboundMessage
func (OutboundMessage) TableName() string {
	return "outbound_messages"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (m *OutboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
