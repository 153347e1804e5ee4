package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
)

// InboundMessageRepository persists ingested replies. The composite unique
// index on (provider_message_id, provider) backs ExistsByProviderMessage and
// also catches the race where two ingestion paths pass the check at once.
type InboundMessageRepository interface {
	CreateWithAttachments(ctx context.Context, message *models.InboundMessage, attachments []models.InboundAttachment) error
	GetByID(ctx context.Context, id string) (*models.InboundMessage, error)
	ExistsByProviderMessage(ctx context.Context, providerMessageID, provider string) (bool, error)
	ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]models.InboundMessage, int64, error)
}

type inboundMessageRepository struct {
	db *gorm.DB
}

// NewInboundMessageRepository creates a new InboundMessageRepository instance
func NewInboundMessageRepository(db *gorm.DB) InboundMessageRepository {
	return &inboundMessageRepository{db: db}
}

// CreateWithAttachments creates a message with its attachment references in a
// transaction. A duplicate-key violation on the (provider_message_id,
// provider) index surfaces as ErrDuplicateEntry so ingestion can treat the
// re-delivery as a no-op skip.
func (r *inboundMessageRepository) CreateWithAttachments(ctx context.Context, message *models.InboundMessage, attachments []models.InboundAttachment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		for i := range attachments {
			attachments[i].InboundMessageID = message.ID
			if err := tx.Create(&attachments[i]).Error; err != nil {
				return fmt.Errorf("failed to create inbound attachment: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create inbound message: %w", err)
	}
	return nil
}

func (r *inboundMessageRepository) GetByID(ctx context.Context, id string) (*models.InboundMessage, error) {
	var message models.InboundMessage
	result := r.db.WithContext(ctx).Preload("Attachments").First(&message, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get inbound message: %w", result.Error)
	}
	return &message, nil
}

func (r *inboundMessageRepository) ExistsByProviderMessage(ctx context.Context, providerMessageID, provider string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.InboundMessage{}).
		Where("provider_message_id = ? AND provider = ?", providerMessageID, provider).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check inbound message existence: %w", result.Error)
	}
	return count > 0, nil
}

func (r *inboundMessageRepository) ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]models.InboundMessage, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.InboundMessage{}).Where("request_id = ?", requestID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count inbound messages: %w", err)
	}

	var messages []models.InboundMessage
	result := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("request_id = ?", requestID).
		Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list inbound messages: %w", result.Error)
	}
	return messages, total, nil
}
