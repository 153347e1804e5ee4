package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository persists connected mail accounts and their sync cursors.
type AccountRepository interface {
	Create(ctx context.Context, account *models.ConnectedAccount) error
	GetByID(ctx context.Context, id string) (*models.ConnectedAccount, error)
	ListActive(ctx context.Context) ([]models.ConnectedAccount, error)
	// MergeSyncCursor updates one provider's cursor inside the stored map
	// while preserving every other provider's last-known cursor. The merge
	// runs in a transaction over a fresh read so concurrent provider jobs
	// cannot clobber each other.
	MergeSyncCursor(ctx context.Context, id, provider, cursor string, syncedAt time.Time) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error
	// Deactivate marks the account terminally inactive; it requires a manual
	// reconnect and is never retried by the sync loop.
	Deactivate(ctx context.Context, id, reason string) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.ConnectedAccount) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create connected account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	result := r.db.WithContext(ctx).First(&account, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connected account: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) ListActive(ctx context.Context) ([]models.ConnectedAccount, error) {
	var accounts []models.ConnectedAccount
	result := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", result.Error)
	}
	return accounts, nil
}

func (r *accountRepository) MergeSyncCursor(ctx context.Context, id, provider, cursor string, syncedAt time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		read := tx
		if tx.Dialector.Name() == "postgres" {
			// Row-lock the account so two provider jobs merging at once
			// cannot both read the same snapshot and lose a cursor. SQLite
			// has no FOR UPDATE; its writer lock serializes the transaction.
			read = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var account models.ConnectedAccount
		if err := read.First(&account, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		merged := account.SyncCursor
		if merged == nil {
			merged = models.SyncCursor{}
		}
		merged[provider] = cursor

		// Update through the struct so the cursor map goes through the
		// serializer:json field tag instead of being handed to the driver raw.
		account.SyncCursor = merged
		account.LastSyncAt = &syncedAt
		return tx.Model(&account).
			Select("sync_cursor", "last_sync_at").
			Updates(&account).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to merge sync cursor: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}

	result := r.db.WithContext(ctx).Model(&models.ConnectedAccount{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update account tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepository) Deactivate(ctx context.Context, id, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.ConnectedAccount{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":       false,
			"disabled_reason": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate account: %w", result.Error)
	}
	// Zero rows means the account was already inactive; deactivation is
	// idempotent.
	return nil
}
