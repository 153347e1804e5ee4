package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/solvereach/remindly-backend/internal/api/response"
	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/services"
	"github.com/solvereach/remindly-backend/internal/validator"
)

// RequestHandler handles request lifecycle HTTP requests: creation, sending
// through the dispatch guard, reminder scheduling, and status management.
type RequestHandler struct {
	requests  repository.RequestRepository
	outbound  repository.OutboundMessageRepository
	inbound   repository.InboundMessageRepository
	dispatch  *services.DispatchGuard
	reminders *services.ReminderScheduler
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(
	requests repository.RequestRepository,
	outbound repository.OutboundMessageRepository,
	inbound repository.InboundMessageRepository,
	dispatch *services.DispatchGuard,
	reminders *services.ReminderScheduler,
) *RequestHandler {
	return &RequestHandler{
		requests:  requests,
		outbound:  outbound,
		inbound:   inbound,
		dispatch:  dispatch,
		reminders: reminders,
	}
}

// CreateRequestInput is the payload for POST /api/requests
type CreateRequestInput struct {
	Title             string `json:"title"`
	CounterpartyEmail string `json:"counterparty_email"`
}

// Create handles POST /api/requests
func (h *RequestHandler) Create(c echo.Context) error {
	var input CreateRequestInput
	if err := c.Bind(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validator.ValidateEmail(input.CounterpartyEmail); err != nil {
		return response.BadRequest(c, "invalid counterparty email")
	}

	request := &models.Request{
		Title:             validator.SanitizeString(input.Title, 255),
		CounterpartyEmail: input.CounterpartyEmail,
		Status:            models.StatusDraft,
	}
	if err := h.requests.Create(c.Request().Context(), request); err != nil {
		return response.InternalError(c, "failed to create request")
	}
	return response.Created(c, request)
}

// Get handles GET /api/requests/:id
func (h *RequestHandler) Get(c echo.Context) error {
	request, err := h.requests.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "request not found")
		}
		return response.InternalError(c, "failed to get request")
	}
	return response.Success(c, request)
}

// SendInput is the payload for POST /api/requests/:id/send
type SendInput struct {
	IdempotencyKey string `json:"idempotency_key"`
	Subject        string `json:"subject"`
	TextBody       string `json:"text_body"`
	HTMLBody       string `json:"html_body"`
}

// Send handles POST /api/requests/:id/send. The Idempotency-Key header takes
// precedence over the body field; repeated calls with the same key report
// the original outcome without sending again.
func (h *RequestHandler) Send(c echo.Context) error {
	var input SendInput
	if err := c.Bind(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if input.Subject == "" {
		return response.BadRequest(c, "subject is required")
	}

	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" {
		key = input.IdempotencyKey
	}

	outcome, err := h.dispatch.Send(c.Request().Context(), c.Param("id"), key, services.EmailContent{
		Subject:  input.Subject,
		TextBody: input.TextBody,
		HTMLBody: input.HTMLBody,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRequestNotFound) {
			return response.NotFound(c, "request not found")
		}
		return response.Error(c, err)
	}

	if outcome.Queued {
		return response.Accepted(c, outcome, "send deferred to delivery queue")
	}
	return response.Success(c, outcome)
}

// UpdateStatusInput is the payload for PATCH /api/requests/:id/status
type UpdateStatusInput struct {
	Status models.RequestStatus `json:"status"`
}

// UpdateStatus handles PATCH /api/requests/:id/status. Terminal statuses can
// be set here (a user marking a request complete); they can never be
// overwritten afterwards.
func (h *RequestHandler) UpdateStatus(c echo.Context) error {
	var input UpdateStatusInput
	if err := c.Bind(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if !input.Status.IsValid() {
		return response.BadRequest(c, "unknown status")
	}

	ctx := c.Request().Context()
	if _, err := h.requests.GetByID(ctx, c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "request not found")
		}
		return response.InternalError(c, "failed to get request")
	}

	if err := h.requests.UpdateStatus(ctx, c.Param("id"), input.Status); err != nil {
		return response.InternalError(c, "failed to update status")
	}

	request, err := h.requests.GetByID(ctx, c.Param("id"))
	if err != nil {
		return response.InternalError(c, "failed to get request")
	}
	return response.Success(c, request)
}

// ScheduleReminders handles POST /api/requests/:id/reminders
func (h *RequestHandler) ScheduleReminders(c echo.Context) error {
	var cfg services.ReminderConfig
	if err := c.Bind(&cfg); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	request, err := h.requests.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "request not found")
		}
		return response.InternalError(c, "failed to get request")
	}

	state, err := h.reminders.Initialize(ctx, request, cfg)
	if err != nil {
		return response.InternalError(c, "failed to schedule reminders")
	}
	if state == nil {
		return response.SuccessWithMessage(c, nil, "reminders not scheduled: cadence requires enabled and approved")
	}
	return response.Created(c, state)
}

// StopReminders handles DELETE /api/requests/:id/reminders
func (h *RequestHandler) StopReminders(c echo.Context) error {
	ctx := c.Request().Context()
	request, err := h.requests.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "request not found")
		}
		return response.InternalError(c, "failed to get request")
	}

	if err := h.reminders.StopManually(ctx, request.ID, request.CounterpartyEmail); err != nil {
		return response.InternalError(c, "failed to stop reminders")
	}
	return response.NoContent(c)
}

// ListMessages handles GET /api/requests/:id/messages and returns the
// conversation: outbound sends plus ingested inbound replies.
func (h *RequestHandler) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	requestID := c.Param("id")

	if _, err := h.requests.GetByID(ctx, requestID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "request not found")
		}
		return response.InternalError(c, "failed to get request")
	}

	limit, offset := validator.ValidatePagination(
		queryInt(c, "limit", 20), queryInt(c, "offset", 0))

	sent, err := h.outbound.ListByRequest(ctx, requestID)
	if err != nil {
		return response.InternalError(c, "failed to list outbound messages")
	}
	received, total, err := h.inbound.ListByRequest(ctx, requestID, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list inbound messages")
	}

	return response.Paginated(c, map[string]interface{}{
		"outbound": sent,
		"inbound":  received,
	}, total, limit, offset)
}
