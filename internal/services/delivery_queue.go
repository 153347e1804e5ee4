package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/transport"
)

// DeliveryQueueConfig holds configuration for the retry queue worker.
type DeliveryQueueConfig struct {
	// Interval is how often the worker polls for due items.
	Interval time.Duration
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
	// BatchSize caps the items claimed per poll.
	BatchSize int
	// FromAddress and FromName identify the sender on retried emails.
	FromAddress string
	FromName    string
}

// DeliveryQueueService drains the deferred-send queue. Items are claimed with
// a conditional PENDING -> PROCESSING update, so running several workers is
// safe: a claim that matches zero rows is someone else's item.
type DeliveryQueueService struct {
	queue     repository.QueueRepository
	requests  repository.RequestRepository
	attempts  repository.SendAttemptRepository
	outbound  repository.OutboundMessageRepository
	reminders *ReminderScheduler
	sender    transport.Sender
	config    DeliveryQueueConfig
	mailLog   *logger.MailLogger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewDeliveryQueueService creates the retry queue worker.
func NewDeliveryQueueService(
	queue repository.QueueRepository,
	requests repository.RequestRepository,
	attempts repository.SendAttemptRepository,
	outbound repository.OutboundMessageRepository,
	reminders *ReminderScheduler,
	sender transport.Sender,
	config DeliveryQueueConfig,
	mailLog *logger.MailLogger,
) *DeliveryQueueService {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 15 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &DeliveryQueueService{
		queue:     queue,
		requests:  requests,
		attempts:  attempts,
		outbound:  outbound,
		reminders: reminders,
		sender:    sender,
		config:    config,
		mailLog:   mailLog,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the queue worker background job.
func (s *DeliveryQueueService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.workLoop()

	s.mailLog.Info("delivery queue worker started",
		"interval", s.config.Interval.String(),
		"base_delay", s.config.BaseDelay.String())
}

// Stop gracefully stops the queue worker.
func (s *DeliveryQueueService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.mailLog.Info("delivery queue worker stopped")
}

// IsRunning returns whether the worker loop is currently running.
func (s *DeliveryQueueService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *DeliveryQueueService) workLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ProcessDue(context.Background())
		}
	}
}

// ProcessDue claims and delivers every item whose retry time has passed.
func (s *DeliveryQueueService) ProcessDue(ctx context.Context) {
	due, err := s.queue.ListDue(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		s.mailLog.Error("failed to list due queued emails", "error", err)
		return
	}

	for i := range due {
		s.processOne(ctx, &due[i])
	}
}

func (s *DeliveryQueueService) processOne(ctx context.Context, item *models.QueuedEmail) {
	if err := s.queue.MarkProcessing(ctx, item.ID); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			// Another worker claimed it between the list and our claim.
			return
		}
		s.mailLog.Error("failed to claim queued email", "queue_id", item.ID, "error", err)
		return
	}

	result, err := s.sender.Send(ctx, &transport.OutboundEmail{
		From:     s.config.FromAddress,
		FromName: s.config.FromName,
		To:       item.ToEmail,
		Subject:  item.Subject,
		TextBody: item.Body,
	})
	if err != nil {
		updated, failErr := s.queue.MarkFailed(ctx, item.ID, err.Error(), s.config.BaseDelay, time.Now().UTC())
		if failErr != nil {
			s.mailLog.Error("failed to record queue attempt failure", "queue_id", item.ID, "error", failErr)
			return
		}
		if updated.Status == models.QueueStatusFailed {
			s.mailLog.QueueExhausted(updated.ID, updated.Attempts, updated.LastError)
		}
		return
	}

	if err := s.queue.MarkSent(ctx, item.ID); err != nil {
		s.mailLog.Error("failed to mark queued email sent", "queue_id", item.ID, "error", err)
	}

	s.settleDeferredSend(ctx, item, result)
}

// settleDeferredSend finishes the dispatch that was deferred: the parent's
// send ledger, the originating attempt, and the outbound record the
// correlator joins replies against. Queue items without a request (ad-hoc
// notifications) skip all of it.
func (s *DeliveryQueueService) settleDeferredSend(ctx context.Context, item *models.QueuedEmail, result *transport.SendResult) {
	if item.RequestID == "" {
		return
	}

	sentAt := time.Now().UTC()
	if err := s.requests.MarkSentIfUnsent(ctx, item.RequestID, item.SendAttemptID, sentAt); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			s.mailLog.SendConflict(item.RequestID, item.SendAttemptID)
		} else {
			s.mailLog.Error("failed to settle deferred send ledger", "request_id", item.RequestID, "error", err)
		}
	} else {
		s.seedReminders(ctx, item.RequestID)
	}

	if item.SendAttemptID != "" {
		if err := s.attempts.MarkDispatched(ctx, item.SendAttemptID, result.ProviderMessageID, sentAt); err != nil {
			s.mailLog.Error("failed to mark deferred attempt dispatched", "attempt_id", item.SendAttemptID, "error", err)
		}
	}

	message := &models.OutboundMessage{
		RequestID:         item.RequestID,
		CounterpartyEmail: item.ToEmail,
		Direction:         models.DirectionOutbound,
		Subject:           item.Subject,
		Body:              item.Body,
		MessageIDHeader:   result.MessageIDHeader,
		ProviderMessageID: result.ProviderMessageID,
		ProviderThreadID:  result.ProviderThreadID,
		SentAt:            sentAt,
	}
	if err := s.outbound.Create(ctx, message); err != nil {
		s.mailLog.Error("failed to record deferred outbound message", "request_id", item.RequestID, "error", err)
	}
}

// seedReminders starts the follow-up cadence for a deferred send that just
// settled the ledger, mirroring the inline dispatch path.
func (s *DeliveryQueueService) seedReminders(ctx context.Context, requestID string) {
	if s.reminders == nil {
		return
	}
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		s.mailLog.Error("failed to load request for reminder seeding", "request_id", requestID, "error", err)
		return
	}
	_, err = s.reminders.Initialize(ctx, request, ReminderConfig{
		Enabled:         request.RemindersEnabled,
		Approved:        request.RemindersApproved,
		StartDelayHours: request.ReminderStartDelayHours,
		FrequencyDays:   request.ReminderFrequencyDays,
		MaxCount:        request.ReminderMaxCount,
	})
	if err != nil {
		s.mailLog.Error("failed to seed reminder cadence", "request_id", requestID, "error", err)
	}
}
