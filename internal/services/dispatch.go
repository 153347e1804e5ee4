package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/transport"
)

// EmailContent is the rendered message a caller hands the dispatch guard.
// Recipient resolution happens here (the request's counterparty); template
// rendering belongs to the caller.
type EmailContent struct {
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body,omitempty"`
}

// DispatchOutcome reports what one Send call observed.
type DispatchOutcome struct {
	// Dispatched is true when this call invoked the transport successfully.
	Dispatched bool `json:"dispatched"`
	// AlreadySent is true when the request's send ledger was already settled.
	AlreadySent bool `json:"already_sent"`
	// Queued is true when the relay throttled and the send was deferred to
	// the retry queue.
	Queued bool `json:"queued"`

	SendAttemptID     string     `json:"send_attempt_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	QueuedEmailID     string     `json:"queued_email_id,omitempty"`
	OutboundMessageID string     `json:"outbound_message_id,omitempty"`
}

// DispatchGuard is the only path that invokes the outbound transport for a
// request. Two layers make repeated calls safe: the send-attempt row keyed by
// idempotency key (only its creator proceeds to delivery) and the parent's
// conditional sent_at write (exactly one attempt settles the ledger).
type DispatchGuard struct {
	requests  repository.RequestRepository
	attempts  repository.SendAttemptRepository
	outbound  repository.OutboundMessageRepository
	queue     repository.QueueRepository
	reminders *ReminderScheduler
	sender    transport.Sender
	mailLog   *logger.MailLogger

	fromAddress    string
	fromName       string
	queueBaseDelay time.Duration
}

func NewDispatchGuard(
	requests repository.RequestRepository,
	attempts repository.SendAttemptRepository,
	outbound repository.OutboundMessageRepository,
	queue repository.QueueRepository,
	reminders *ReminderScheduler,
	sender transport.Sender,
	mailLog *logger.MailLogger,
	fromAddress, fromName string,
	queueBaseDelay time.Duration,
) *DispatchGuard {
	return &DispatchGuard{
		requests:       requests,
		attempts:       attempts,
		outbound:       outbound,
		queue:          queue,
		reminders:      reminders,
		sender:         sender,
		mailLog:        mailLog,
		fromAddress:    fromAddress,
		fromName:       fromName,
		queueBaseDelay: queueBaseDelay,
	}
}

// Send dispatches the request's email at most once per idempotency key. An
// empty key defaults to a request-scoped key, collapsing all unkeyed calls
// for the same request into one logical send action.
//
// On a rate-limited relay the send is enqueued for retry and the request
// stays un-sent. On any other transport failure the attempt row is released
// so the same key can retry, and the request stays un-sent.
func (g *DispatchGuard) Send(ctx context.Context, requestID, idempotencyKey string, content EmailContent) (*DispatchOutcome, error) {
	request, err := g.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("load request: %w", err)
	}

	if request.SentAt != nil {
		return &DispatchOutcome{
			AlreadySent:   true,
			SendAttemptID: request.SendAttemptID,
			SentAt:        request.SentAt,
		}, nil
	}

	if idempotencyKey == "" {
		idempotencyKey = "request:" + requestID
	}

	attempt, created, err := g.attempts.CreateOrGet(ctx, &models.SendAttempt{
		RequestID:      requestID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("record send attempt: %w", err)
	}
	if !created {
		// An earlier call with this key owns the delivery. Report its state
		// without producing a new side effect.
		return &DispatchOutcome{
			AlreadySent:   attempt.Dispatched,
			SendAttemptID: attempt.ID,
			SentAt:        attempt.SentAt,
		}, nil
	}

	result, err := g.sender.Send(ctx, &transport.OutboundEmail{
		From:     g.fromAddress,
		FromName: g.fromName,
		To:       request.CounterpartyEmail,
		Subject:  content.Subject,
		TextBody: content.TextBody,
		HTMLBody: content.HTMLBody,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) {
			return g.enqueueDeferred(ctx, request, attempt, content)
		}
		// Release the attempt so a retry with the same key can run.
		if delErr := g.attempts.Delete(ctx, attempt.ID); delErr != nil {
			g.mailLog.Error("failed to release send attempt after transport error",
				"attempt_id", attempt.ID, "error", delErr)
		}
		return nil, fmt.Errorf("dispatch request %s: %w", requestID, err)
	}

	sentAt := time.Now().UTC()
	outcome := &DispatchOutcome{
		Dispatched:    true,
		SendAttemptID: attempt.ID,
		SentAt:        &sentAt,
	}

	var conflict bool
	if err := g.requests.MarkSentIfUnsent(ctx, requestID, attempt.ID, sentAt); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			// Another attempt settled the ledger first. The email this call
			// sent still exists, so the attempt and outbound records are kept;
			// the parent ledger and the reported outcome belong to the winner.
			conflict = true
			g.mailLog.SendConflict(requestID, attempt.ID)
		} else {
			return nil, fmt.Errorf("settle send ledger: %w", err)
		}
	}

	if err := g.attempts.MarkDispatched(ctx, attempt.ID, result.ProviderMessageID, sentAt); err != nil {
		return nil, fmt.Errorf("mark attempt dispatched: %w", err)
	}

	message := &models.OutboundMessage{
		RequestID:         requestID,
		CounterpartyEmail: request.CounterpartyEmail,
		Direction:         models.DirectionOutbound,
		Subject:           content.Subject,
		Body:              content.TextBody,
		MessageIDHeader:   result.MessageIDHeader,
		ProviderMessageID: result.ProviderMessageID,
		ProviderThreadID:  result.ProviderThreadID,
		SentAt:            sentAt,
	}
	if err := g.outbound.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("record outbound message: %w", err)
	}
	outcome.OutboundMessageID = message.ID

	if conflict {
		winner, err := g.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("load winning send: %w", err)
		}
		return &DispatchOutcome{
			AlreadySent:       true,
			SendAttemptID:     winner.SendAttemptID,
			SentAt:            winner.SentAt,
			OutboundMessageID: message.ID,
		}, nil
	}

	g.seedReminders(ctx, request)

	return outcome, nil
}

// seedReminders starts the follow-up cadence after the send settled, using
// the config saved on the request. The scheduler no-ops unless the config is
// enabled and approved; a seeding failure never fails the dispatch itself.
func (g *DispatchGuard) seedReminders(ctx context.Context, request *models.Request) {
	if g.reminders == nil {
		return
	}
	_, err := g.reminders.Initialize(ctx, request, ReminderConfig{
		Enabled:         request.RemindersEnabled,
		Approved:        request.RemindersApproved,
		StartDelayHours: request.ReminderStartDelayHours,
		FrequencyDays:   request.ReminderFrequencyDays,
		MaxCount:        request.ReminderMaxCount,
	})
	if err != nil {
		g.mailLog.Error("failed to seed reminder cadence",
			"request_id", request.ID, "error", err)
	}
}

// enqueueDeferred parks a throttled send in the retry queue. The request's
// ledger stays untouched; the worker settles it when the retry succeeds.
func (g *DispatchGuard) enqueueDeferred(ctx context.Context, request *models.Request, attempt *models.SendAttempt, content EmailContent) (*DispatchOutcome, error) {
	queued := &models.QueuedEmail{
		RequestID:     request.ID,
		SendAttemptID: attempt.ID,
		ToEmail:       request.CounterpartyEmail,
		Subject:       content.Subject,
		Body:          content.TextBody,
	}
	if err := g.queue.Enqueue(ctx, queued, g.queueBaseDelay); err != nil {
		return nil, fmt.Errorf("enqueue deferred send: %w", err)
	}
	return &DispatchOutcome{
		Queued:        true,
		SendAttemptID: attempt.ID,
		QueuedEmailID: queued.ID,
	}, nil
}
