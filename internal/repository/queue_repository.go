package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
)

// QueueRepository is the bounded-retry store for deferred sends. Claims are
// conditional updates so concurrent workers cannot process the same item.
type QueueRepository interface {
	Enqueue(ctx context.Context, email *models.QueuedEmail, baseDelay time.Duration) error
	GetByID(ctx context.Context, id string) (*models.QueuedEmail, error)
	// ListDue returns PENDING items whose next_attempt_at has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error)
	// MarkProcessing claims an item: PENDING -> PROCESSING, conditional on the
	// current status. ErrStaleState means another worker claimed it first.
	MarkProcessing(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string) error
	// MarkFailed records a failed attempt. Below the attempt ceiling the item
	// returns to PENDING with exponential backoff; at the ceiling it becomes
	// terminal FAILED. Returns the updated item.
	MarkFailed(ctx context.Context, id string, sendErr string, baseDelay time.Duration, now time.Time) (*models.QueuedEmail, error)
	// Cancel transitions PENDING -> CANCELLED on explicit user action.
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, status models.QueuedEmailStatus, limit, offset int) ([]models.QueuedEmail, int64, error)
}

type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository instance
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Enqueue(ctx context.Context, email *models.QueuedEmail, baseDelay time.Duration) error {
	email.Status = models.QueueStatusPending
	next := time.Now().Add(baseDelay)
	email.NextAttemptAt = &next

	if err := r.db.WithContext(ctx).Create(email).Error; err != nil {
		return fmt.Errorf("failed to enqueue email: %w", err)
	}
	return nil
}

func (r *queueRepository) GetByID(ctx context.Context, id string) (*models.QueuedEmail, error) {
	var email models.QueuedEmail
	result := r.db.WithContext(ctx).First(&email, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queued email: %w", result.Error)
	}
	return &email, nil
}

func (r *queueRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error) {
	var emails []models.QueuedEmail
	result := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.QueueStatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&emails)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due queued emails: %w", result.Error)
	}
	return emails, nil
}

func (r *queueRepository) MarkProcessing(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.QueuedEmail{}).
		Where("id = ? AND status = ?", id, models.QueueStatusPending).
		Update("status", models.QueueStatusProcessing)
	if result.Error != nil {
		return fmt.Errorf("failed to claim queued email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *queueRepository) MarkSent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.QueuedEmail{}).
		Where("id = ? AND status = ?", id, models.QueueStatusProcessing).
		Updates(map[string]interface{}{
			"status":          models.QueueStatusSent,
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark queued email sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *queueRepository) MarkFailed(ctx context.Context, id string, sendErr string, baseDelay time.Duration, now time.Time) (*models.QueuedEmail, error) {
	var updated models.QueuedEmail
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var email models.QueuedEmail
		if err := tx.First(&email, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		attempts := email.Attempts + 1
		updates := map[string]interface{}{
			"attempts":   attempts,
			"last_error": sendErr,
		}
		if attempts >= email.MaxAttempts {
			updates["status"] = models.QueueStatusFailed
			updates["next_attempt_at"] = nil
		} else {
			// Exponential backoff: baseDelay * 2^attempts.
			backoff := baseDelay * time.Duration(1<<uint(attempts))
			updates["status"] = models.QueueStatusPending
			updates["next_attempt_at"] = now.Add(backoff)
		}

		result := tx.Model(&models.QueuedEmail{}).
			Where("id = ? AND status = ?", id, models.QueueStatusProcessing).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleState
		}
		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleState) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark queued email failed: %w", err)
	}
	return &updated, nil
}

func (r *queueRepository) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.QueuedEmail{}).
		Where("id = ? AND status = ?", id, models.QueueStatusPending).
		Updates(map[string]interface{}{
			"status":          models.QueueStatusCancelled,
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to cancel queued email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *queueRepository) List(ctx context.Context, status models.QueuedEmailStatus, limit, offset int) ([]models.QueuedEmail, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.QueuedEmail{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count queued emails: %w", err)
	}

	var emails []models.QueuedEmail
	result := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&emails)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list queued emails: %w", result.Error)
	}
	return emails, total, nil
}
