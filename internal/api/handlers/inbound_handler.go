package handlers

import (
	"encoding/base64"

	"github.com/labstack/echo/v4"

	"github.com/solvereach/remindly-backend/internal/api/response"
	"github.com/solvereach/remindly-backend/internal/services"
)

// InboundHandler receives push-delivered inbound email on the webhook route.
type InboundHandler struct {
	ingestion *services.IngestionService
}

// NewInboundHandler creates a new InboundHandler
func NewInboundHandler(ingestion *services.IngestionService) *InboundHandler {
	return &InboundHandler{ingestion: ingestion}
}

// InboundWebhookPayload is the normalized message a provider webhook (or the
// relay in front of it) posts. Attachment content is base64.
type InboundWebhookPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ReplyTo string `json:"reply_to"`

	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body"`

	Headers map[string]string `json:"headers"`

	ProviderMessageID string `json:"provider_message_id"`
	Provider          string `json:"provider"`
	ProviderThreadID  string `json:"provider_thread_id"`
	InReplyTo         string `json:"in_reply_to"`
	References        string `json:"references"`

	Attachments []InboundWebhookAttachment `json:"attachments"`
}

// InboundWebhookAttachment is one base64-encoded attachment in the payload.
type InboundWebhookAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// Receive handles POST /api/webhooks/inbound. The response always reports
// what ingestion decided: duplicates and orphans are 200s, not errors, so
// providers never retry messages the engine has deliberately skipped.
func (h *InboundHandler) Receive(c echo.Context) error {
	var payload InboundWebhookPayload
	if err := c.Bind(&payload); err != nil {
		return response.BadRequest(c, "invalid webhook payload")
	}
	if payload.ProviderMessageID == "" || payload.Provider == "" {
		return response.BadRequest(c, "provider_message_id and provider are required")
	}

	msg := &services.InboundEmail{
		From:              payload.From,
		To:                payload.To,
		ReplyTo:           payload.ReplyTo,
		Subject:           payload.Subject,
		Body:              payload.TextBody,
		HTMLBody:          payload.HTMLBody,
		Headers:           payload.Headers,
		ProviderMessageID: payload.ProviderMessageID,
		Provider:          payload.Provider,
		ProviderThreadID:  payload.ProviderThreadID,
		InReplyTo:         payload.InReplyTo,
		References:        payload.References,
	}
	for _, att := range payload.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			return response.BadRequest(c, "attachment content must be base64")
		}
		msg.Attachments = append(msg.Attachments, services.IncomingAttachment{
			Filename:    att.Filename,
			Content:     content,
			ContentType: att.ContentType,
		})
	}

	result, err := h.ingestion.Ingest(c.Request().Context(), msg)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, result)
}
