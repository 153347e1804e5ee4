package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/services"
)

// maxBootstrapMessages caps how much history a cursor-less account pulls in.
const maxBootstrapMessages = 500

// GmailProvider pulls inbound mail through the Gmail API. The sync cursor is
// the mailbox history id: incremental passes walk users.history.list from the
// stored id, and a missing or expired id falls back to a lookback-window
// message scan.
type GmailProvider struct {
	tokens *TokenManager
}

func NewGmailProvider(tokens *TokenManager) *GmailProvider {
	return &GmailProvider{tokens: tokens}
}

func (p *GmailProvider) Name() string {
	return models.ProviderGmail
}

func (p *GmailProvider) FetchInboundSinceCursor(ctx context.Context, account *models.ConnectedAccount, cursor string, lookback time.Duration) (*services.FetchResult, error) {
	ts, err := p.tokens.TokenSource(ctx, account)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail client: %w", err)
	}

	if cursor == "" {
		return p.bootstrap(ctx, svc, account, lookback)
	}

	startHistoryID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		// Unparseable cursor (e.g. written by an older build): rebuild it.
		return p.bootstrap(ctx, svc, account, lookback)
	}

	var (
		messageIDs    []string
		lastHistoryID uint64
		pageToken     string
	)
	for {
		call := svc.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			LabelId("INBOX")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			if isHistoryExpired(err) {
				// Gmail only retains history for about a week; an expired id
				// means we re-bootstrap from the lookback window.
				return p.bootstrap(ctx, svc, account, lookback)
			}
			return nil, p.wrapAPIError(account, err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil {
					messageIDs = append(messageIDs, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > lastHistoryID {
			lastHistoryID = resp.HistoryId
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	emails, err := p.fetchMessages(ctx, svc, account, messageIDs)
	if err != nil {
		return nil, err
	}

	nextCursor := cursor
	if lastHistoryID > 0 {
		nextCursor = strconv.FormatUint(lastHistoryID, 10)
	}
	return &services.FetchResult{Messages: emails, NextCursor: nextCursor}, nil
}

// bootstrap scans the lookback window with a message search and establishes
// the history-id cursor from the mailbox profile.
func (p *GmailProvider) bootstrap(ctx context.Context, svc *gmail.Service, account *models.ConnectedAccount, lookback time.Duration) (*services.FetchResult, error) {
	days := int(lookback.Hours() / 24)
	if days < 1 {
		days = 1
	}
	query := fmt.Sprintf("in:inbox newer_than:%dd", days)

	var (
		messageIDs []string
		pageToken  string
	)
	for len(messageIDs) < maxBootstrapMessages {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(100)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, p.wrapAPIError(account, err)
		}
		for _, m := range resp.Messages {
			messageIDs = append(messageIDs, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	emails, err := p.fetchMessages(ctx, svc, account, messageIDs)
	if err != nil {
		return nil, err
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, p.wrapAPIError(account, err)
	}

	return &services.FetchResult{
		Messages:     emails,
		NextCursor:   strconv.FormatUint(profile.HistoryId, 10),
		Bootstrapped: true,
	}, nil
}

func (p *GmailProvider) fetchMessages(ctx context.Context, svc *gmail.Service, account *models.ConnectedAccount, ids []string) ([]services.InboundEmail, error) {
	emails := make([]services.InboundEmail, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			if isNotFound(err) {
				// Deleted between the listing and the fetch.
				continue
			}
			return nil, p.wrapAPIError(account, err)
		}
		emails = append(emails, p.toInboundEmail(ctx, svc, msg))
	}
	return emails, nil
}

func (p *GmailProvider) toInboundEmail(ctx context.Context, svc *gmail.Service, msg *gmail.Message) services.InboundEmail {
	email := services.InboundEmail{
		ProviderMessageID: msg.Id,
		Provider:          models.ProviderGmail,
		ProviderThreadID:  msg.ThreadId,
		Headers:           map[string]string{},
	}
	if msg.Payload == nil {
		return email
	}

	for _, h := range msg.Payload.Headers {
		email.Headers[h.Name] = h.Value
		switch h.Name {
		case "From":
			email.From = h.Value
		case "To":
			email.To = h.Value
		case "Reply-To":
			email.ReplyTo = h.Value
		case "Subject":
			email.Subject = h.Value
		case "In-Reply-To":
			email.InReplyTo = h.Value
		case "References":
			email.References = h.Value
		}
	}

	collectParts(ctx, svc, msg.Id, msg.Payload, &email)
	return email
}

// collectParts walks the MIME tree extracting bodies and attachments.
func collectParts(ctx context.Context, svc *gmail.Service, messageID string, part *gmail.MessagePart, email *services.InboundEmail) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil {
		data := decodePartData(ctx, svc, messageID, part.Body)
		if len(data) > 0 {
			email.Attachments = append(email.Attachments, services.IncomingAttachment{
				Filename:    part.Filename,
				Content:     data,
				ContentType: part.MimeType,
			})
		}
	} else if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if email.Body == "" {
				email.Body = string(decodeBase64URL(part.Body.Data))
			}
		case "text/html":
			if email.HTMLBody == "" {
				email.HTMLBody = string(decodeBase64URL(part.Body.Data))
			}
		}
	}

	for _, child := range part.Parts {
		collectParts(ctx, svc, messageID, child, email)
	}
}

func decodePartData(ctx context.Context, svc *gmail.Service, messageID string, body *gmail.MessagePartBody) []byte {
	if body.Data != "" {
		return decodeBase64URL(body.Data)
	}
	if body.AttachmentId == "" {
		return nil
	}
	att, err := svc.Users.Messages.Attachments.Get("me", messageID, body.AttachmentId).Context(ctx).Do()
	if err != nil {
		return nil
	}
	return decodeBase64URL(att.Data)
}

// decodeBase64URL handles both padded and unpadded web-safe base64, which
// Gmail mixes freely.
func decodeBase64URL(data string) []byte {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	return decoded
}

func (p *GmailProvider) wrapAPIError(account *models.ConnectedAccount, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return apperrors.NewReconnectRequiredError(account.Email)
		case 429:
			return fmt.Errorf("gmail api throttled: %w", apperrors.ErrRateLimited)
		}
	}
	return fmt.Errorf("gmail api: %w", err)
}

func isHistoryExpired(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
