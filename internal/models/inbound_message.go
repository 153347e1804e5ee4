package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Classification is the deterministic category assigned to an inbound email.
type Classification string

const (
	ClassificationBounce      Classification = "BOUNCE"
	ClassificationOutOfOffice Classification = "OUT_OF_OFFICE"
	ClassificationGenuine     Classification = "GENUINE"
)

// InboundMessage is a reply (or bounce, or auto-reply) ingested from a push
// webhook, the inbound SMTP listener, or a provider sync pass. Exactly one
// row exists per (provider_message_id, provider) pair; the composite unique
// index is the dedup guard shared by every ingestion path.
type InboundMessage struct {
	ID                string `gorm:"primaryKey;size:36" json:"id"`
	RequestID         string `gorm:"not null;size:36;index" json:"request_id"`
	CounterpartyEmail string `gorm:"not null;size:255" json:"counterparty_email"`
	Direction         string `gorm:"not null;size:16;default:'INBOUND'" json:"direction"`
	Subject           string `gorm:"size:500" json:"subject,omitempty"`
	Body              string `gorm:"type:text" json:"body,omitempty"`
	HTMLBody          string `gorm:"type:text" json:"html_body,omitempty"`

	ProviderMessageID string `gorm:"not null;size:255;uniqueIndex:idx_inbound_provider_message" json:"provider_message_id"`
	Provider          string `gorm:"not null;size:32;uniqueIndex:idx_inbound_provider_message" json:"provider"`
	ProviderThreadID  string `gorm:"size:255;index" json:"provider_thread_id,omitempty"`
	InReplyTo         string `gorm:"size:500" json:"in_reply_to,omitempty"`

	IsAutoReply    bool           `gorm:"default:false" json:"is_auto_reply"`
	Classification Classification `gorm:"size:32" json:"classification"`

	ReceivedAt time.Time `gorm:"autoCreateTime" json:"received_at"`

	Request     Request             `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"-"`
	Attachments []InboundAttachment `gorm:"foreignKey:InboundMessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// TableName returns the table name for InboundMessage
func (InboundMessage) TableName() string {
	return "inbound_messages"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (m *InboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// InboundAttachment references an attachment blob persisted through the
// storage collaborator before the InboundMessage row is created.
type InboundAttachment struct {
	ID               string `gorm:"primaryKey;size:36" json:"id"`
	InboundMessageID string `gorm:"not null;size:36;index" json:"inbound_message_id"`
	Filename         string `gorm:"size:255" json:"filename"`
	ContentType      string `gorm:"size:100" json:"content_type"`
	StorageKey       string `gorm:"size:500" json:"storage_key"`
	URL              string `gorm:"size:500" json:"url,omitempty"`
	SizeBytes        int64  `json:"size_bytes"`

	InboundMessage InboundMessage `gorm:"foreignKey:InboundMessageID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for InboundAttachment
func (InboundAttachment) TableName() string {
	return "inbound_attachments"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (a *InboundAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
