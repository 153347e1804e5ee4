package services

import (
	"strings"

	"github.com/solvereach/remindly-backend/internal/models"
)

// InboundEmail is the normalized shape every ingestion path (webhook payload,
// inbound SMTP, provider sync) reduces raw mail to before classification and
// correlation run.
type InboundEmail struct {
	From    string
	To      string
	ReplyTo string

	Subject  string
	Body     string
	HTMLBody string

	Headers map[string]string

	ProviderMessageID string
	Provider          string
	ProviderThreadID  string
	InReplyTo         string
	References        string

	Attachments []IncomingAttachment
}

// IncomingAttachment carries raw attachment bytes until the blob store
// persists them.
type IncomingAttachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// Classification rule tables. These are configuration data, not control
// flow: extending a pattern set never touches the matcher below.
var (
	// bounceSenderPrefixes are local parts used by bounce daemons.
	bounceSenderPrefixes = []string{
		"mailer-daemon",
		"mailerdaemon",
		"mail-daemon",
		"postmaster",
		"bounce",
		"bounces",
	}

	// bounceSubjectPatterns match delivery-failure notification subjects.
	bounceSubjectPatterns = []string{
		"undeliverable",
		"undelivered mail",
		"delivery status notification",
		"delivery failure",
		"failure notice",
		"returned mail",
		"mail delivery failed",
		"could not be delivered",
	}

	// bounceBodyPatterns match diagnostic text in bounce bodies.
	bounceBodyPatterns = []string{
		"550",
		"mailbox not found",
		"mailbox unavailable",
		"user unknown",
		"address not found",
		"recipient address rejected",
		"does not exist",
		"delivery to the following recipient failed",
	}

	// autoReplySenderPrefixes are local parts used by auto-responders.
	autoReplySenderPrefixes = []string{
		"no-reply",
		"noreply",
		"do-not-reply",
		"donotreply",
		"autoresponder",
		"auto-reply",
	}

	// autoReplyPhrases match out-of-office subjects and bodies.
	autoReplyPhrases = []string{
		"out of office",
		"out of the office",
		"automatic reply",
		"auto-reply",
		"autoreply",
		"auto reply",
		"away from my email",
		"on vacation",
		"annual leave",
		"parental leave",
		"maternity leave",
		"currently unavailable",
		"i will be back",
		"will respond when i return",
	}

	// autoReplyPrecedenceValues are Precedence header values set by mail
	// automation.
	autoReplyPrecedenceValues = []string{"bulk", "junk", "auto_reply"}
)

// Classify assigns a deterministic category to an inbound message. Pure
// function of its input: re-running it over the same bytes after a crash
// yields the same answer.
//
// Bounce is evaluated before auto-reply because it is the more specific and
// more consequential category; a bounce must not be swallowed as "just an
// auto-reply".
func Classify(msg *InboundEmail) models.Classification {
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)
	sender := localPart(msg.From)

	subjectBounce := matchesAny(subject, bounceSubjectPatterns)
	bodyBounce := matchesAny(body, bounceBodyPatterns)

	// (a) Bounce: a bounce-daemon sender plus either pattern hit, or both
	// pattern sets hitting regardless of sender.
	if hasAnyPrefix(sender, bounceSenderPrefixes) && (subjectBounce || bodyBounce) {
		return models.ClassificationBounce
	}
	if subjectBounce && bodyBounce {
		return models.ClassificationBounce
	}

	// (b) Out-of-office / auto-reply.
	if hasAnyPrefix(sender, autoReplySenderPrefixes) {
		return models.ClassificationOutOfOffice
	}
	if matchesAny(subject, autoReplyPhrases) || matchesAny(body, autoReplyPhrases) {
		return models.ClassificationOutOfOffice
	}
	if headersSignalAutomation(msg.Headers) {
		return models.ClassificationOutOfOffice
	}

	// (c) Everything else is a genuine human reply.
	return models.ClassificationGenuine
}

// headersSignalAutomation checks the transport headers mail systems set on
// machine-generated replies.
func headersSignalAutomation(headers map[string]string) bool {
	if len(headers) == 0 {
		return false
	}
	for name, value := range headers {
		switch strings.ToLower(name) {
		case "auto-submitted":
			if v := strings.ToLower(strings.TrimSpace(value)); v != "" && v != "no" {
				return true
			}
		case "x-auto-response-suppress":
			return true
		case "precedence":
			v := strings.ToLower(strings.TrimSpace(value))
			for _, p := range autoReplyPrecedenceValues {
				if v == p {
					return true
				}
			}
		}
	}
	return false
}

// matchesAny reports whether text contains any of the patterns.
func matchesAny(text string, patterns []string) bool {
	if text == "" {
		return false
	}
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// hasAnyPrefix reports whether the sender local part starts with any of the
// prefixes.
func hasAnyPrefix(sender string, prefixes []string) bool {
	if sender == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(sender, p) {
			return true
		}
	}
	return false
}

// localPart extracts the lowercase local part of an email address, tolerating
// a display-name form like `"Mail Delivery" <mailer-daemon@example.com>`.
func localPart(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if start := strings.LastIndex(address, "<"); start >= 0 {
		address = strings.TrimSuffix(address[start+1:], ">")
	}
	at := strings.Index(address, "@")
	if at < 0 {
		return address
	}
	return address[:at]
}
