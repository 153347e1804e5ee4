package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/solvereach/remindly-backend/internal/models"
	"gorm.io/gorm"
)

// OutboundMessageRepository is the index the correlator joins inbound mail
// against. Rows are written once per send and read on every ingestion.
type OutboundMessageRepository interface {
	Create(ctx context.Context, message *models.OutboundMessage) error
	GetByID(ctx context.Context, id string) (*models.OutboundMessage, error)
	// BackfillProviderMetadata fills provider ids on a message after the
	// transport reports them; it never touches subject or body.
	BackfillProviderMetadata(ctx context.Context, id, providerMessageID, providerThreadID, messageIDHeader string) error
	// FindByMessageIDHeader matches a normalized In-Reply-To value against
	// stored Message-ID headers, trying both the bare and bracketed forms.
	FindByMessageIDHeader(ctx context.Context, messageID string) (*models.OutboundMessage, error)
	FindByProviderThreadID(ctx context.Context, threadID string) (*models.OutboundMessage, error)
	// FindLatestBySubject does a case-insensitive substring match against
	// stored subjects and returns the most recently created hit.
	FindLatestBySubject(ctx context.Context, subject string) (*models.OutboundMessage, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.OutboundMessage, error)
}

type outboundMessageRepository struct {
	db *gorm.DB
}

// NewOutboundMessageRepository creates a new OutboundMessageRepository instance
func NewOutboundMessageRepository(db *gorm.DB) OutboundMessageRepository {
	return &outboundMessageRepository{db: db}
}

func (r *outboundMessageRepository) Create(ctx context.Context, message *models.OutboundMessage) error {
	result := r.db.WithContext(ctx).Create(message)
	if result.Error != nil {
		return fmt.Errorf("failed to create outbound message: %w", result.Error)
	}
	return nil
}

func (r *outboundMessageRepository) GetByID(ctx context.Context, id string) (*models.OutboundMessage, error) {
	var message models.OutboundMessage
	result := r.db.WithContext(ctx).First(&message, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get outbound message: %w", result.Error)
	}
	return &message, nil
}

func (r *outboundMessageRepository) BackfillProviderMetadata(ctx context.Context, id, providerMessageID, providerThreadID, messageIDHeader string) error {
	updates := map[string]interface{}{}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	if providerThreadID != "" {
		updates["provider_thread_id"] = providerThreadID
	}
	if messageIDHeader != "" {
		updates["message_id_header"] = messageIDHeader
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&models.OutboundMessage{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to backfill provider metadata: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *outboundMessageRepository) FindByMessageIDHeader(ctx context.Context, messageID string) (*models.OutboundMessage, error) {
	bare := strings.Trim(messageID, "<>")
	bracketed := "<" + bare + ">"

	var message models.OutboundMessage
	result := r.db.WithContext(ctx).
		Where("message_id_header IN ?", []string{bare, bracketed}).
		Order("created_at DESC").
		First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find outbound message by message-id header: %w", result.Error)
	}
	return &message, nil
}

func (r *outboundMessageRepository) FindByProviderThreadID(ctx context.Context, threadID string) (*models.OutboundMessage, error) {
	var message models.OutboundMessage
	result := r.db.WithContext(ctx).
		Where("provider_thread_id = ?", threadID).
		Order("created_at DESC").
		First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find outbound message by thread id: %w", result.Error)
	}
	return &message, nil
}

func (r *outboundMessageRepository) FindLatestBySubject(ctx context.Context, subject string) (*models.OutboundMessage, error) {
	pattern := "%" + strings.ToLower(subject) + "%"

	var message models.OutboundMessage
	result := r.db.WithContext(ctx).
		Where("LOWER(subject) LIKE ?", pattern).
		Order("created_at DESC").
		First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find outbound message by subject: %w", result.Error)
	}
	return &message, nil
}

func (r *outboundMessageRepository) ListByRequest(ctx context.Context, requestID string) ([]models.OutboundMessage, error) {
	var messages []models.OutboundMessage
	result := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		Find(&messages)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list outbound messages: %w", result.Error)
	}
	return messages, nil
}
