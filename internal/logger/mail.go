// Package logger provides structured logging for the Remindly backend.
package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"time"
)

// MailLogger emits structured events for the inbound/outbound mail pipeline.
// Counterparty identities are always hashed before logging; raw addresses
// never appear in any inbound-mail-related event.
type MailLogger struct {
	logger *slog.Logger
}

// NewMailLogger creates a new MailLogger with JSON output.
func NewMailLogger() *MailLogger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &MailLogger{
		logger: slog.New(handler),
	}
}

// NewMailLoggerWithHandler creates a MailLogger with a custom handler.
func NewMailLoggerWithHandler(handler slog.Handler) *MailLogger {
	return &MailLogger{
		logger: slog.New(handler),
	}
}

// HashIdentity returns a stable short hash for an email address so log
// events stay correlatable without exposing the address itself.
func HashIdentity(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:12]
}

// OrphanInbound logs an inbound message no correlation strategy matched.
// Records which identifiers were present so triage can tell whether the
// message lacked headers or simply referenced an unknown conversation.
func (m *MailLogger) OrphanInbound(fromEmail, provider string, hasInReplyTo, hasThreadID, hasSubject bool) {
	m.logger.Warn("orphan_inbound",
		slog.String("event_type", "orphan_inbound"),
		slog.String("sender_hash", HashIdentity(fromEmail)),
		slog.String("provider", provider),
		slog.Bool("has_in_reply_to", hasInReplyTo),
		slog.Bool("has_thread_id", hasThreadID),
		slog.Bool("has_subject", hasSubject),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// DuplicateInbound logs a skipped re-delivery of an already ingested message.
func (m *MailLogger) DuplicateInbound(providerMessageID, provider string) {
	m.logger.Info("duplicate_inbound",
		slog.String("event_type", "duplicate_inbound"),
		slog.String("provider_message_id", providerMessageID),
		slog.String("provider", provider),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// InboundCorrelated logs a successful correlation with the strategy that won.
func (m *MailLogger) InboundCorrelated(requestID, fromEmail, strategy string, classification string) {
	m.logger.Info("inbound_correlated",
		slog.String("event_type", "inbound_correlated"),
		slog.String("request_id", requestID),
		slog.String("sender_hash", HashIdentity(fromEmail)),
		slog.String("strategy", strategy),
		slog.String("classification", classification),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// SendConflict logs a dispatch attempt that lost the conditional write race.
func (m *MailLogger) SendConflict(requestID, attemptID string) {
	m.logger.Info("send_conflict",
		slog.String("event_type", "send_conflict"),
		slog.String("request_id", requestID),
		slog.String("attempt_id", attemptID),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// AccountDisabled logs a terminal credential failure for a connected account.
func (m *MailLogger) AccountDisabled(accountID, provider, reason string) {
	m.logger.Warn("account_disabled",
		slog.String("event_type", "account_disabled"),
		slog.String("account_id", accountID),
		slog.String("provider", provider),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// QueueExhausted logs a queued email that reached its attempt ceiling.
func (m *MailLogger) QueueExhausted(queueID string, attempts int, lastError string) {
	m.logger.Warn("queue_exhausted",
		slog.String("event_type", "queue_exhausted"),
		slog.String("queue_id", queueID),
		slog.Int("attempts", attempts),
		slog.String("last_error", lastError),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// SyncPass logs the outcome of one provider sync pass for an account.
func (m *MailLogger) SyncPass(accountID, provider string, fetched, persisted, skipped int) {
	m.logger.Info("sync_pass",
		slog.String("event_type", "sync_pass"),
		slog.String("account_id", accountID),
		slog.String("provider", provider),
		slog.Int("fetched", fetched),
		slog.Int("persisted", persisted),
		slog.Int("skipped", skipped),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// Info logs an informational message.
func (m *MailLogger) Info(msg string, args ...any) {
	m.logger.Info(msg, args...)
}

// Error logs an error message.
func (m *MailLogger) Error(msg string, args ...any) {
	m.logger.Error(msg, args...)
}

// GetLogger returns the underlying slog.Logger for use with middleware.
func (m *MailLogger) GetLogger() *slog.Logger {
	return m.logger
}
