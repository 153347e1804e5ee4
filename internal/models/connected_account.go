package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Known provider names. An account's Provider selects its sync adapter.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
	ProviderSMTP    = "smtp"
)

// Account disabled reasons.
const (
	DisabledReasonRevoked = "refresh_token_revoked"
	DisabledReasonManual  = "manually_disconnected"
)

// SyncCursor maps a provider name to its opaque incremental-sync token
// (Gmail history id, Graph delta link, ...). Persisted as JSON; updates must
// merge per key, never overwrite the whole map.
type SyncCursor map[string]string

// ConnectedAccount is a mail account the sync manager polls for replies.
// IsActive == false is terminal: a revoked grant requires the user to
// reconnect, it is never retried automatically.
type ConnectedAccount struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	Email    string `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Provider string `gorm:"not null;size:32;index" json:"provider"`

	// OAuth credentials, encrypted by the column codec at the database layer.
	AccessToken  string     `gorm:"type:text" json:"-"`
	RefreshToken string     `gorm:"type:text" json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`

	IsActive       bool   `gorm:"default:true;index" json:"is_active"`
	DisabledReason string `gorm:"size:64" json:"disabled_reason,omitempty"`

	SyncCursor SyncCursor `gorm:"serializer:json;type:text" json:"sync_cursor,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ConnectedAccount
func (ConnectedAccount) TableName() string {
	return "connected_accounts"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (a *ConnectedAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
