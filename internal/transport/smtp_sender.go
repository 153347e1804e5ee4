package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
)

// SMTPSender delivers mail through a configured relay. It generates the
// Message-ID header itself so the correlator can match replies even when the
// relay reports nothing back.
type SMTPSender struct {
	addr         string
	username     string
	password     string
	senderDomain string
}

// NewSMTPSender creates a sender for the given relay address ("host:port").
// Empty credentials mean the relay accepts unauthenticated submission.
func NewSMTPSender(addr, username, password, senderDomain string) *SMTPSender {
	return &SMTPSender{
		addr:         addr,
		username:     username,
		password:     password,
		senderDomain: senderDomain,
	}
}

func (s *SMTPSender) Send(ctx context.Context, email *OutboundEmail) (*SendResult, error) {
	if email.From == "" || email.To == "" {
		return nil, apperrors.ErrInvalidInput
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.senderDomain)

	builder := enmime.Builder().
		From(email.FromName, email.From).
		To("", email.To).
		Subject(email.Subject).
		Header("Message-Id", messageID)
	if email.TextBody != "" {
		builder = builder.Text([]byte(email.TextBody))
	}
	if email.HTMLBody != "" {
		builder = builder.HTML([]byte(email.HTMLBody))
	}

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build mime message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode mime message: %w", err)
	}

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	if err := smtp.SendMail(s.addr, auth, email.From, []string{email.To}, &buf); err != nil {
		if isRateLimitError(err) {
			return nil, fmt.Errorf("relay throttled: %w", apperrors.ErrRateLimited)
		}
		return nil, fmt.Errorf("smtp send to %s: %w", email.To, apperrors.ErrTransportFailure)
	}

	return &SendResult{MessageIDHeader: messageID}, nil
}

// isRateLimitError recognizes the throttling responses relays send: 421
// (service unavailable, closing) and 450/451 with rate-limit wording.
func isRateLimitError(err error) bool {
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return false
	}
	switch smtpErr.Code {
	case 421:
		return true
	case 450, 451:
		msg := strings.ToLower(smtpErr.Message)
		return strings.Contains(msg, "rate") || strings.Contains(msg, "too many") || strings.Contains(msg, "throttl")
	}
	return false
}
