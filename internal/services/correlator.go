package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// Correlation strategy names, recorded on the stored inbound message and in
// the structured logs so misattributions can be traced back to the rule that
// made them.
const (
	StrategyMessageID   = "message_id"
	StrategyThreadID    = "thread_id"
	StrategySubject     = "subject"
	StrategyLegacyToken = "legacy_token"
)

// minSubjectMatchLength guards the subject heuristic against degenerate
// matches like "Re: Hi".
const minSubjectMatchLength = 5

// subjectReplyPrefixes are reply markers stripped before the subject
// heuristic runs.
var subjectReplyPrefixes = []string{"re:", "fw:", "fwd:", "aw:"}

// CorrelationResult names the request an inbound message belongs to and the
// strategy that established the link.
type CorrelationResult struct {
	RequestID string
	Strategy  string
	Outbound  *models.OutboundMessage
}

// Correlator resolves which request an inbound message replies to. Strategies
// run strictly in order of reliability: RFC 5322 threading headers first, the
// provider's own thread id second, the subject heuristic third, and the
// legacy address token last.
type Correlator struct {
	outbound repository.OutboundMessageRepository
	requests repository.RequestRepository
	mailLog  *logger.MailLogger
}

func NewCorrelator(outbound repository.OutboundMessageRepository, requests repository.RequestRepository, mailLog *logger.MailLogger) *Correlator {
	return &Correlator{
		outbound: outbound,
		requests: requests,
		mailLog:  mailLog,
	}
}

// Correlate returns the matching request, or apperrors.ErrOrphanedInbound
// when every strategy misses. Orphans are logged with a hashed sender and
// never persisted.
func (c *Correlator) Correlate(ctx context.Context, msg *InboundEmail) (*CorrelationResult, error) {
	// 1. In-Reply-To / References against stored Message-ID headers.
	for _, candidate := range threadingCandidates(msg) {
		outbound, err := c.outbound.FindByMessageIDHeader(ctx, candidate)
		if err == nil {
			return &CorrelationResult{RequestID: outbound.RequestID, Strategy: StrategyMessageID, Outbound: outbound}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("message-id correlation: %w", err)
		}
	}

	// 2. Provider thread id.
	if msg.ProviderThreadID != "" {
		outbound, err := c.outbound.FindByProviderThreadID(ctx, msg.ProviderThreadID)
		if err == nil {
			return &CorrelationResult{RequestID: outbound.RequestID, Strategy: StrategyThreadID, Outbound: outbound}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("thread-id correlation: %w", err)
		}
	}

	// 3. Subject heuristic: strip the reply marker, require a meaningful
	// remainder, take the most recent outbound whose subject contains it.
	if stripped := stripReplyPrefix(msg.Subject); len(stripped) > minSubjectMatchLength {
		outbound, err := c.outbound.FindLatestBySubject(ctx, stripped)
		if err == nil {
			return &CorrelationResult{RequestID: outbound.RequestID, Strategy: StrategySubject, Outbound: outbound}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("subject correlation: %w", err)
		}
	}

	// 4. Legacy plus-address token: reply+<requestID>@domain in the address
	// the counterparty answered to.
	if token := legacyAddressToken(msg); token != "" {
		request, err := c.requests.GetByID(ctx, token)
		if err == nil {
			return &CorrelationResult{RequestID: request.ID, Strategy: StrategyLegacyToken}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("legacy token correlation: %w", err)
		}
	}

	c.mailLog.OrphanInbound(msg.From, msg.Provider, msg.InReplyTo != "", msg.ProviderThreadID != "", msg.Subject != "")
	return nil, apperrors.ErrOrphanedInbound
}

// threadingCandidates yields the message ids named by In-Reply-To and
// References, most specific first. References lists the whole thread; the
// last entry is the immediate parent.
func threadingCandidates(msg *InboundEmail) []string {
	var candidates []string
	if v := strings.TrimSpace(msg.InReplyTo); v != "" {
		candidates = append(candidates, v)
	}
	refs := strings.Fields(msg.References)
	for i := len(refs) - 1; i >= 0; i-- {
		ref := strings.TrimSpace(refs[i])
		if ref != "" && (len(candidates) == 0 || ref != candidates[0]) {
			candidates = append(candidates, ref)
		}
	}
	return candidates
}

// stripReplyPrefix removes leading reply/forward markers, repeatedly, so
// "Re: RE: Fwd: Invoice" reduces to "Invoice".
func stripReplyPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		stripped := false
		for _, prefix := range subjectReplyPrefixes {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// legacyAddressToken extracts the request id embedded in a plus-addressed
// recipient, e.g. reply+9f1c...@mail.example.com. Older sends carried the
// correlation token in the address instead of the threading headers.
func legacyAddressToken(msg *InboundEmail) string {
	for _, address := range []string{msg.To, msg.ReplyTo} {
		local := localPart(address)
		if plus := strings.Index(local, "+"); plus >= 0 && plus < len(local)-1 {
			return local[plus+1:]
		}
	}
	return ""
}
