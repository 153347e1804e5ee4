// Package transport abstracts outbound email delivery. The dispatch guard and
// the delivery queue worker talk to a Sender; the SMTP relay implementation
// lives alongside so tests can swap in a recording fake.
package transport

import "context"

// OutboundEmail is a fully rendered message ready for delivery.
type OutboundEmail struct {
	From     string
	FromName string
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// SendResult carries the identifiers the transport learned during delivery.
// MessageIDHeader is always set; the provider ids are filled only when the
// upstream reports them.
type SendResult struct {
	MessageIDHeader   string
	ProviderMessageID string
	ProviderThreadID  string
}

// Sender delivers one email. Implementations must return
// apperrors.ErrRateLimited (wrapped) when the upstream throttles, so callers
// can defer to the retry queue instead of failing the send.
type Sender interface {
	Send(ctx context.Context, email *OutboundEmail) (*SendResult, error)
}
