package handlers

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/solvereach/remindly-backend/internal/api/response"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/services"
	"github.com/solvereach/remindly-backend/internal/validator"
)

// AccountHandler handles connected mail account HTTP requests.
type AccountHandler struct {
	accounts repository.AccountRepository
	sync     *services.SyncService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts repository.AccountRepository, sync *services.SyncService) *AccountHandler {
	return &AccountHandler{accounts: accounts, sync: sync}
}

// ConnectAccountInput is the payload for POST /api/accounts. Tokens arrive
// from the product's OAuth callback flow.
type ConnectAccountInput struct {
	Email        string     `json:"email"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenExpiry  *time.Time `json:"token_expiry"`
}

// Connect handles POST /api/accounts
func (h *AccountHandler) Connect(c echo.Context) error {
	var input ConnectAccountInput
	if err := c.Bind(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validator.ValidateEmail(input.Email); err != nil {
		return response.BadRequest(c, "invalid account email")
	}
	switch input.Provider {
	case models.ProviderGmail, models.ProviderOutlook, models.ProviderSMTP:
	default:
		return response.BadRequest(c, "unsupported provider")
	}

	account := &models.ConnectedAccount{
		Email:        input.Email,
		Provider:     input.Provider,
		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		TokenExpiry:  input.TokenExpiry,
		IsActive:     true,
	}
	if err := h.accounts.Create(c.Request().Context(), account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return response.Conflict(c, "account already connected")
		}
		return response.InternalError(c, "failed to connect account")
	}
	return response.Created(c, account)
}

// List handles GET /api/accounts
func (h *AccountHandler) List(c echo.Context) error {
	accounts, err := h.accounts.ListActive(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "failed to list accounts")
	}
	return response.Success(c, accounts)
}

// Get handles GET /api/accounts/:id
func (h *AccountHandler) Get(c echo.Context) error {
	account, err := h.accounts.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "account not found")
		}
		return response.InternalError(c, "failed to get account")
	}
	return response.Success(c, account)
}

// Sync handles POST /api/accounts/:id/sync, triggering one sync pass outside
// the periodic schedule.
func (h *AccountHandler) Sync(c echo.Context) error {
	ctx := c.Request().Context()
	account, err := h.accounts.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "account not found")
		}
		return response.InternalError(c, "failed to get account")
	}
	if !account.IsActive {
		return response.BadRequest(c, "account is disabled; reconnect it first")
	}

	stats, err := h.sync.SyncAccount(ctx, account)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, stats)
}

// Disconnect handles DELETE /api/accounts/:id
func (h *AccountHandler) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.accounts.GetByID(ctx, c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "account not found")
		}
		return response.InternalError(c, "failed to get account")
	}

	if err := h.accounts.Deactivate(ctx, c.Param("id"), models.DisabledReasonManual); err != nil {
		return response.InternalError(c, "failed to disconnect account")
	}
	return response.NoContent(c)
}
