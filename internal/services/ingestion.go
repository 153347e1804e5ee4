package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/events"
	"github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/storage"
	"github.com/solvereach/remindly-backend/internal/validator"
)

// ReplyNotifier pushes inbound notifications to connected clients. The
// websocket hub implements it; a nil notifier disables pushes.
type ReplyNotifier interface {
	NotifyReply(requestID, messageID, classification, subject string, receivedAt time.Time)
}

// IngestionResult reports what one Ingest call did.
type IngestionResult struct {
	// Duplicate means this provider message was already ingested; nothing
	// changed.
	Duplicate bool `json:"duplicate"`
	// Orphaned means no correlation strategy matched; the message was logged
	// and discarded.
	Orphaned bool `json:"orphaned"`

	MessageID      string                `json:"message_id,omitempty"`
	RequestID      string                `json:"request_id,omitempty"`
	Classification models.Classification `json:"classification,omitempty"`
	Strategy       string                `json:"strategy,omitempty"`
}

// IngestionService is the single entry point for inbound email. Every source
// (webhook, inbound SMTP, provider sync) funnels through Ingest, so dedup,
// classification, correlation, status transitions, and reminder stops behave
// identically regardless of how a message arrived.
type IngestionService struct {
	correlator *Correlator
	status     *StatusAuthority
	reminders  *ReminderScheduler
	requests   repository.RequestRepository
	inbound    repository.InboundMessageRepository
	blobs      storage.BlobStorage
	dispatcher events.Dispatcher
	notifier   ReplyNotifier
	mailLog    *logger.MailLogger
}

func NewIngestionService(
	correlator *Correlator,
	status *StatusAuthority,
	reminders *ReminderScheduler,
	requests repository.RequestRepository,
	inbound repository.InboundMessageRepository,
	blobs storage.BlobStorage,
	dispatcher events.Dispatcher,
	notifier ReplyNotifier,
	mailLog *logger.MailLogger,
) *IngestionService {
	return &IngestionService{
		correlator: correlator,
		status:     status,
		reminders:  reminders,
		requests:   requests,
		inbound:    inbound,
		blobs:      blobs,
		dispatcher: dispatcher,
		notifier:   notifier,
		mailLog:    mailLog,
	}
}

// Ingest processes one inbound email end to end. Replaying the same message
// converges: the dedup check (and the unique index backing it) turns the
// replay into a no-op, and every intermediate write is a conditional update.
func (s *IngestionService) Ingest(ctx context.Context, msg *InboundEmail) (*IngestionResult, error) {
	if msg.ProviderMessageID == "" || msg.Provider == "" {
		return nil, apperrors.ErrInvalidInput
	}

	exists, err := s.inbound.ExistsByProviderMessage(ctx, msg.ProviderMessageID, msg.Provider)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		s.mailLog.DuplicateInbound(msg.ProviderMessageID, msg.Provider)
		return &IngestionResult{Duplicate: true}, nil
	}

	classification := Classify(msg)

	correlation, err := s.correlator.Correlate(ctx, msg)
	if err != nil {
		if errors.Is(err, apperrors.ErrOrphanedInbound) {
			// Orphans are logged (hashed sender) and discarded; nothing is
			// persisted for them.
			return &IngestionResult{Orphaned: true, Classification: classification}, nil
		}
		return nil, err
	}

	request, err := s.requests.GetByID(ctx, correlation.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load correlated request: %w", err)
	}

	if _, _, err := s.status.ApplyClassification(ctx, request, classification); err != nil {
		return nil, err
	}

	if err := s.reminders.StopOnClassification(ctx, request.ID, request.CounterpartyEmail, classification); err != nil {
		return nil, err
	}

	attachments, err := s.storeAttachments(msg)
	if err != nil {
		return nil, err
	}

	record := &models.InboundMessage{
		RequestID:         request.ID,
		CounterpartyEmail: request.CounterpartyEmail,
		Direction:         models.DirectionInbound,
		Subject:           msg.Subject,
		Body:              msg.Body,
		HTMLBody:          msg.HTMLBody,
		ProviderMessageID: msg.ProviderMessageID,
		Provider:          msg.Provider,
		ProviderThreadID:  msg.ProviderThreadID,
		InReplyTo:         msg.InReplyTo,
		IsAutoReply:       classification == models.ClassificationOutOfOffice,
		Classification:    classification,
	}
	if err := s.inbound.CreateWithAttachments(ctx, record, attachments); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// Two ingestion paths raced past the dedup check; the unique
			// index made one of them the no-op.
			s.mailLog.DuplicateInbound(msg.ProviderMessageID, msg.Provider)
			return &IngestionResult{Duplicate: true}, nil
		}
		return nil, err
	}

	s.mailLog.InboundCorrelated(request.ID, msg.From, correlation.Strategy, string(classification))
	s.publish(record, attachments)

	if s.notifier != nil {
		s.notifier.NotifyReply(request.ID, record.ID, string(classification), record.Subject, record.ReceivedAt)
	}

	return &IngestionResult{
		MessageID:      record.ID,
		RequestID:      request.ID,
		Classification: classification,
		Strategy:       correlation.Strategy,
	}, nil
}

// storeAttachments persists attachment bytes before the message row is
// created, so a crash between the two leaves only orphaned blobs, never a
// message pointing at missing data. Keys are deterministic, so replaying the
// upload overwrites instead of duplicating.
func (s *IngestionService) storeAttachments(msg *InboundEmail) ([]models.InboundAttachment, error) {
	if len(msg.Attachments) == 0 {
		return nil, nil
	}

	attachments := make([]models.InboundAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if err := storage.ValidateAttachment(att.Filename, int64(len(att.Content))); err != nil {
			s.mailLog.Info("skipping rejected attachment",
				"filename", att.Filename, "reason", err.Error())
			continue
		}

		key := storage.AttachmentKey(msg.ProviderMessageID, att.Filename)
		url, err := s.blobs.Upload(att.Content, key, att.ContentType)
		if err != nil {
			return nil, fmt.Errorf("store attachment %s: %w", att.Filename, err)
		}

		attachments = append(attachments, models.InboundAttachment{
			Filename:    validator.SanitizeFilename(att.Filename),
			ContentType: att.ContentType,
			StorageKey:  key,
			URL:         url,
			SizeBytes:   int64(len(att.Content)),
		})
	}
	return attachments, nil
}

func (s *IngestionService) publish(record *models.InboundMessage, attachments []models.InboundAttachment) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(events.Event{
		Name: events.InboundReceived,
		Payload: map[string]any{
			"message_id":     record.ID,
			"request_id":     record.RequestID,
			"classification": string(record.Classification),
		},
	})
	for _, att := range attachments {
		s.dispatcher.Dispatch(events.Event{
			Name: events.AttachmentStored,
			Payload: map[string]any{
				"message_id":  record.ID,
				"storage_key": att.StorageKey,
				"url":         att.URL,
			},
		})
	}
}
