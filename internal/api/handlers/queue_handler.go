package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/solvereach/remindly-backend/internal/api/response"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/validator"
)

// QueueHandler exposes the delivery queue for inspection and cancellation.
type QueueHandler struct {
	queue repository.QueueRepository
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(queue repository.QueueRepository) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// List handles GET /api/queue
func (h *QueueHandler) List(c echo.Context) error {
	limit, offset := validator.ValidatePagination(
		queryInt(c, "limit", 20), queryInt(c, "offset", 0))

	status := models.QueuedEmailStatus(c.QueryParam("status"))
	items, total, err := h.queue.List(c.Request().Context(), status, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list queued emails")
	}
	return response.Paginated(c, items, total, limit, offset)
}

// Get handles GET /api/queue/:id
func (h *QueueHandler) Get(c echo.Context) error {
	item, err := h.queue.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "queued email not found")
		}
		return response.InternalError(c, "failed to get queued email")
	}
	return response.Success(c, item)
}

// Cancel handles POST /api/queue/:id/cancel. Only PENDING items can be
// cancelled; anything already claimed or settled returns a conflict.
func (h *QueueHandler) Cancel(c echo.Context) error {
	err := h.queue.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return response.Conflict(c, "queued email is not pending")
		}
		return response.InternalError(c, "failed to cancel queued email")
	}
	return response.SuccessWithMessage(c, nil, "queued email cancelled")
}
