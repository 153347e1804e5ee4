package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
)

// RequestRepository is the reference implementation of the parent entity
// store. The engine owns only the send ledger, the status fields, and the
// durable reminder configuration; everything else about a request belongs to
// the surrounding product.
type RequestRepository interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	// MarkSentIfUnsent is the dispatch guard's compare-and-swap: it sets the
	// send ledger and SENT status only while sent_at is still NULL. Returns
	// ErrStaleState when another attempt already won.
	MarkSentIfUnsent(ctx context.Context, id, sendAttemptID string, sentAt time.Time) error
	// UpdateStatus writes the coarse status unless the current status is
	// terminal. A no-op on terminal rows is not an error.
	UpdateStatus(ctx context.Context, id string, status models.RequestStatus) error
	SetReadStatus(ctx context.Context, id string, readStatus models.ReadStatus) error
	// SaveReminderConfig freezes the reminder configuration onto the request
	// for audit and replay.
	SaveReminderConfig(ctx context.Context, id string, enabled, approved bool, startDelayHours, frequencyDays, maxCount int) error
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new RequestRepository instance
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, request *models.Request) error {
	result := r.db.WithContext(ctx).Create(request)
	if result.Error != nil {
		return fmt.Errorf("failed to create request: %w", result.Error)
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	var request models.Request
	result := r.db.WithContext(ctx).First(&request, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", result.Error)
	}
	return &request, nil
}

func (r *requestRepository) MarkSentIfUnsent(ctx context.Context, id, sendAttemptID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]interface{}{
			"sent_at":         sentAt,
			"send_attempt_id": sendAttemptID,
			"status":          models.StatusSent,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark request sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *requestRepository) UpdateStatus(ctx context.Context, id string, status models.RequestStatus) error {
	if !status.IsValid() {
		return ErrInvalidInput
	}

	// Terminal statuses are guarded in the WHERE clause so two processes
	// replaying the same inbound message cannot downgrade a completed request.
	result := r.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status NOT IN ?", id, []models.RequestStatus{models.StatusComplete, models.StatusFulfilled}).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update request status: %w", result.Error)
	}
	return nil
}

func (r *requestRepository) SetReadStatus(ctx context.Context, id string, readStatus models.ReadStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ?", id).
		Update("read_status", readStatus)
	if result.Error != nil {
		return fmt.Errorf("failed to set read status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepository) SaveReminderConfig(ctx context.Context, id string, enabled, approved bool, startDelayHours, frequencyDays, maxCount int) error {
	result := r.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reminders_enabled":          enabled,
			"reminders_approved":         approved,
			"reminder_start_delay_hours": startDelayHours,
			"reminder_frequency_days":    frequencyDays,
			"reminder_max_count":         maxCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save reminder config: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
