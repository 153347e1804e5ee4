package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
)

// SendAttemptRepository backs the dispatch guard's creation-time idempotency.
type SendAttemptRepository interface {
	// CreateOrGet inserts a send attempt for the idempotency key, or returns
	// the existing one. When two creations race, the loser's uniqueness
	// violation is swallowed and the winner's row is re-fetched; the second
	// return value reports whether this call created the row.
	CreateOrGet(ctx context.Context, attempt *models.SendAttempt) (*models.SendAttempt, bool, error)
	GetByKey(ctx context.Context, idempotencyKey string) (*models.SendAttempt, error)
	MarkDispatched(ctx context.Context, id, providerMessageID string, sentAt time.Time) error
	// Delete removes an undispatched attempt so its idempotency key can be
	// retried after a transport failure.
	Delete(ctx context.Context, id string) error
}

type sendAttemptRepository struct {
	db *gorm.DB
}

// NewSendAttemptRepository creates a new SendAttemptRepository instance
func NewSendAttemptRepository(db *gorm.DB) SendAttemptRepository {
	return &sendAttemptRepository{db: db}
}

func (r *sendAttemptRepository) CreateOrGet(ctx context.Context, attempt *models.SendAttempt) (*models.SendAttempt, bool, error) {
	existing, err := r.GetByKey(ctx, attempt.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Create(attempt).Error; err != nil {
		if isDuplicateKeyError(err) {
			// Lost a creation race; the other attempt's row is the record.
			existing, getErr := r.GetByKey(ctx, attempt.IdempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to re-fetch send attempt after duplicate key: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create send attempt: %w", err)
	}
	return attempt, true, nil
}

func (r *sendAttemptRepository) GetByKey(ctx context.Context, idempotencyKey string) (*models.SendAttempt, error) {
	var attempt models.SendAttempt
	result := r.db.WithContext(ctx).First(&attempt, "idempotency_key = ?", idempotencyKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get send attempt: %w", result.Error)
	}
	return &attempt, nil
}

func (r *sendAttemptRepository) MarkDispatched(ctx context.Context, id, providerMessageID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.SendAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispatched":          true,
			"sent_at":             sentAt,
			"provider_message_id": providerMessageID,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark send attempt dispatched: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sendAttemptRepository) Delete(ctx context.Context, id string) error {
	// Guard on dispatched so a settled attempt is never removed.
	result := r.db.WithContext(ctx).
		Where("id = ? AND dispatched = ?", id, false).
		Delete(&models.SendAttempt{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete send attempt: %w", result.Error)
	}
	return nil
}
