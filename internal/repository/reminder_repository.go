package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
)

// ReminderRepository manages the per-(request, counterparty) cadence rows.
// All state transitions are conditional updates; replaying an inbound message
// after a crash converges on the same row.
type ReminderRepository interface {
	// CreateOrGet inserts a reminder state for the pair or returns the
	// existing one, tolerating creation races via the composite unique index.
	CreateOrGet(ctx context.Context, state *models.ReminderState) (*models.ReminderState, bool, error)
	GetByPair(ctx context.Context, requestID, counterpartyEmail string) (*models.ReminderState, error)
	// StopIfScheduled moves Scheduled -> Stopped. Already-stopped rows are
	// left untouched and do not report an error (stop is idempotent).
	StopIfScheduled(ctx context.Context, requestID, counterpartyEmail, reason string) error
	// ListDue returns scheduled states whose next_send_at has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReminderState, error)
	// RecordSent advances the cadence after a reminder went out: bumps
	// sent_count, recomputes next_send_at, and stops the cadence when the
	// max count is reached. Conditional on the state still being scheduled.
	RecordSent(ctx context.Context, id string, now time.Time) (*models.ReminderState, error)
}

type reminderRepository struct {
	db *gorm.DB
}

// NewReminderRepository creates a new ReminderRepository instance
func NewReminderRepository(db *gorm.DB) ReminderRepository {
	return &reminderRepository{db: db}
}

func (r *reminderRepository) CreateOrGet(ctx context.Context, state *models.ReminderState) (*models.ReminderState, bool, error) {
	existing, err := r.GetByPair(ctx, state.RequestID, state.CounterpartyEmail)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
		if isDuplicateKeyError(err) {
			existing, getErr := r.GetByPair(ctx, state.RequestID, state.CounterpartyEmail)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to re-fetch reminder state after duplicate key: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create reminder state: %w", err)
	}
	return state, true, nil
}

func (r *reminderRepository) GetByPair(ctx context.Context, requestID, counterpartyEmail string) (*models.ReminderState, error) {
	var state models.ReminderState
	result := r.db.WithContext(ctx).
		First(&state, "request_id = ? AND counterparty_email = ?", requestID, counterpartyEmail)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder state: %w", result.Error)
	}
	return &state, nil
}

func (r *reminderRepository) StopIfScheduled(ctx context.Context, requestID, counterpartyEmail, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.ReminderState{}).
		Where("request_id = ? AND counterparty_email = ? AND stopped_reason IS NULL", requestID, counterpartyEmail).
		Updates(map[string]interface{}{
			"next_send_at":   nil,
			"stopped_reason": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to stop reminder state: %w", result.Error)
	}
	// Zero rows means the cadence was already stopped or never initialized;
	// both are fine for an idempotent stop.
	return nil
}

func (r *reminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReminderState, error) {
	var states []models.ReminderState
	result := r.db.WithContext(ctx).
		Where("next_send_at IS NOT NULL AND next_send_at <= ? AND stopped_reason IS NULL", now).
		Order("next_send_at ASC").
		Limit(limit).
		Find(&states)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due reminder states: %w", result.Error)
	}
	return states, nil
}

func (r *reminderRepository) RecordSent(ctx context.Context, id string, now time.Time) (*models.ReminderState, error) {
	var state models.ReminderState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&state, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if state.Stopped() {
			return ErrStaleState
		}

		newCount := state.SentCount + 1
		updates := map[string]interface{}{
			"sent_count":      newCount,
			"reminder_number": state.ReminderNumber + 1,
			"last_sent_at":    now,
		}
		if newCount >= state.MaxCount {
			updates["next_send_at"] = nil
			updates["stopped_reason"] = models.StopReasonExhausted
		} else {
			updates["next_send_at"] = now.Add(time.Duration(state.FrequencyDays) * 24 * time.Hour)
		}

		// Guard on stopped_reason so a concurrent stop (genuine reply landing
		// while the reminder goes out) is never resurrected.
		result := tx.Model(&models.ReminderState{}).
			Where("id = ? AND stopped_reason IS NULL", id).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleState
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleState) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record reminder sent: %w", err)
	}

	return r.GetByPair(ctx, state.RequestID, state.CounterpartyEmail)
}
