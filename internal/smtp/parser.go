package smtp

import (
	"io"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/services"
)

// headersOfInterest are the transport headers classification and correlation
// read. Everything else the envelope carries is dropped at the door.
var headersOfInterest = []string{
	"Auto-Submitted",
	"X-Auto-Response-Suppress",
	"Precedence",
	"X-Autoreply",
	"Message-Id",
	"In-Reply-To",
	"References",
}

// ParseInbound reads a raw RFC 5322 message into the normalized inbound
// shape. The Message-ID header doubles as the provider message id for the
// SMTP path; a message without one cannot be deduplicated and is rejected by
// ingestion's input validation.
func ParseInbound(r io.Reader) (*services.InboundEmail, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, err
	}

	email := &services.InboundEmail{
		Subject:    env.GetHeader("Subject"),
		Body:       env.Text,
		HTMLBody:   env.HTML,
		To:         env.GetHeader("To"),
		ReplyTo:    env.GetHeader("Reply-To"),
		InReplyTo:  strings.TrimSpace(env.GetHeader("In-Reply-To")),
		References: strings.TrimSpace(env.GetHeader("References")),
		Provider:   models.ProviderSMTP,
		Headers:    map[string]string{},
	}

	_, email.From = parseFromHeader(env.GetHeader("From"))

	for _, name := range headersOfInterest {
		if value := env.GetHeader(name); value != "" {
			email.Headers[name] = value
		}
	}

	email.ProviderMessageID = strings.Trim(env.GetHeader("Message-Id"), "<> \t")

	for _, att := range env.Attachments {
		email.Attachments = append(email.Attachments, services.IncomingAttachment{
			Filename:    att.FileName,
			Content:     att.Content,
			ContentType: att.ContentType,
		})
	}
	// Also include named inline parts; counterparties often attach documents
	// inline.
	for _, att := range env.Inlines {
		if att.FileName != "" {
			email.Attachments = append(email.Attachments, services.IncomingAttachment{
				Filename:    att.FileName,
				Content:     att.Content,
				ContentType: att.ContentType,
			})
		}
	}

	return email, nil
}

// parseFromHeader extracts name and email from a From header
func parseFromHeader(from string) (name, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	// Pattern: "Name" <email@example.com> or Name <email@example.com>
	re := regexp.MustCompile(`^(?:"?([^"<]*)"?\s*)?<?([^<>]+@[^<>]+)>?$`)
	matches := re.FindStringSubmatch(from)

	if len(matches) >= 3 {
		name = strings.TrimSpace(matches[1])
		email = strings.TrimSpace(matches[2])
		name = strings.Trim(name, `"`)
	} else {
		// Fallback: treat entire string as email
		email = from
	}

	return name, email
}
