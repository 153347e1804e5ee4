package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/services"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

const graphSelectFields = "id,subject,from,toRecipients,replyTo,conversationId,internetMessageId,internetMessageHeaders,body,receivedDateTime,hasAttachments"

// OutlookProvider pulls inbound mail through the Microsoft Graph delta
// query. The sync cursor is the opaque deltaLink Graph hands back after each
// pass; a 410 Gone on the link means the token expired and the adapter
// re-bootstraps from the lookback window.
type OutlookProvider struct {
	tokens  *TokenManager
	baseURL string
	client  *http.Client
}

func NewOutlookProvider(tokens *TokenManager, baseURL string) *OutlookProvider {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &OutlookProvider{
		tokens:  tokens,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OutlookProvider) Name() string {
	return models.ProviderOutlook
}

// graphPage is one page of a /messages/delta response.
type graphPage struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

type graphMessage struct {
	ID      string `json:"id"`
	Removed *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
	Subject string `json:"subject"`
	From    *struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	ReplyTo []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"replyTo"`
	ConversationID     string `json:"conversationId"`
	InternetMessageID  string `json:"internetMessageId"`
	HasAttachments     bool   `json:"hasAttachments"`
	InternetMsgHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	Body *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

type graphAttachmentPage struct {
	Value []struct {
		ODataType    string `json:"@odata.type"`
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		ContentBytes string `json:"contentBytes"`
	} `json:"value"`
}

func (p *OutlookProvider) FetchInboundSinceCursor(ctx context.Context, account *models.ConnectedAccount, cursor string, lookback time.Duration) (*services.FetchResult, error) {
	token, err := p.tokens.Token(ctx, account)
	if err != nil {
		return nil, err
	}
	accessToken := token.AccessToken

	startURL := cursor
	bootstrapped := false
	if startURL == "" {
		startURL = p.bootstrapURL(lookback)
		bootstrapped = true
	}

	var (
		emails    []services.InboundEmail
		deltaLink string
	)
	for nextURL := startURL; nextURL != ""; {
		page, err := p.fetchPage(ctx, accessToken, nextURL)
		if err != nil {
			if isGoneError(err) && !bootstrapped {
				// Expired delta token: restart from the lookback window.
				nextURL = p.bootstrapURL(lookback)
				bootstrapped = true
				emails = emails[:0]
				continue
			}
			return nil, p.wrapGraphError(account, err)
		}

		for i := range page.Value {
			msg := &page.Value[i]
			if msg.Removed != nil {
				continue
			}
			emails = append(emails, p.toInboundEmail(ctx, accessToken, msg))
		}

		if page.DeltaLink != "" {
			deltaLink = page.DeltaLink
			nextURL = ""
		} else {
			nextURL = page.NextLink
		}
	}

	return &services.FetchResult{
		Messages:     emails,
		NextCursor:   deltaLink,
		Bootstrapped: bootstrapped,
	}, nil
}

func (p *OutlookProvider) bootstrapURL(lookback time.Duration) string {
	params := url.Values{}
	params.Set("$select", graphSelectFields)
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s",
		time.Now().Add(-lookback).UTC().Format(time.RFC3339)))
	return fmt.Sprintf("%s/me/mailFolders/inbox/messages/delta?%s", p.baseURL, params.Encode())
}

func (p *OutlookProvider) fetchPage(ctx context.Context, accessToken, pageURL string) (*graphPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build delta request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "odata.maxpagesize=100")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch delta page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &graphStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var page graphPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode delta page: %w", err)
	}
	return &page, nil
}

func (p *OutlookProvider) toInboundEmail(ctx context.Context, accessToken string, msg *graphMessage) services.InboundEmail {
	email := services.InboundEmail{
		ProviderMessageID: msg.ID,
		Provider:          models.ProviderOutlook,
		ProviderThreadID:  msg.ConversationID,
		Subject:           msg.Subject,
		Headers:           map[string]string{},
	}
	if msg.From != nil {
		email.From = msg.From.EmailAddress.Address
	}
	if len(msg.ToRecipients) > 0 {
		email.To = msg.ToRecipients[0].EmailAddress.Address
	}
	if len(msg.ReplyTo) > 0 {
		email.ReplyTo = msg.ReplyTo[0].EmailAddress.Address
	}
	for _, h := range msg.InternetMsgHeaders {
		email.Headers[h.Name] = h.Value
		switch strings.ToLower(h.Name) {
		case "in-reply-to":
			email.InReplyTo = h.Value
		case "references":
			email.References = h.Value
		}
	}
	if msg.Body != nil {
		if strings.EqualFold(msg.Body.ContentType, "html") {
			email.HTMLBody = msg.Body.Content
		} else {
			email.Body = msg.Body.Content
		}
	}
	if msg.HasAttachments {
		email.Attachments = p.fetchAttachments(ctx, accessToken, msg.ID)
	}
	return email
}

// fetchAttachments pulls file attachments inline. Failures degrade to a
// message without attachments rather than dropping the message.
func (p *OutlookProvider) fetchAttachments(ctx context.Context, accessToken, messageID string) []services.IncomingAttachment {
	attURL := fmt.Sprintf("%s/me/messages/%s/attachments", p.baseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var page graphAttachmentPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil
	}

	var attachments []services.IncomingAttachment
	for _, att := range page.Value {
		if att.ODataType != "#microsoft.graph.fileAttachment" || att.ContentBytes == "" {
			continue
		}
		content, err := base64.StdEncoding.DecodeString(att.ContentBytes)
		if err != nil {
			continue
		}
		attachments = append(attachments, services.IncomingAttachment{
			Filename:    att.Name,
			Content:     content,
			ContentType: att.ContentType,
		})
	}
	return attachments
}

// graphStatusError carries a non-200 Graph response.
type graphStatusError struct {
	Status int
	Body   string
}

func (e *graphStatusError) Error() string {
	return fmt.Sprintf("graph api status %d: %s", e.Status, e.Body)
}

func isGoneError(err error) bool {
	var statusErr *graphStatusError
	return errors.As(err, &statusErr) && statusErr.Status == http.StatusGone
}

func (p *OutlookProvider) wrapGraphError(account *models.ConnectedAccount, err error) error {
	var statusErr *graphStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusUnauthorized:
			return apperrors.NewReconnectRequiredError(account.Email)
		case http.StatusTooManyRequests:
			return fmt.Errorf("graph api throttled: %w", apperrors.ErrRateLimited)
		}
	}
	return fmt.Errorf("graph api: %w", err)
}
