package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/solvereach/remindly-backend/internal/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

// Meta contains pagination metadata
type Meta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Success returns a successful response with data
func Success(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMessage returns a successful response with a message
func SuccessWithMessage(c echo.Context, data interface{}, message string) error {
	return c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// Created returns a 201 Created response
func Created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// Accepted returns a 202 Accepted response, used when a send was deferred to
// the delivery queue rather than dispatched inline.
func Accepted(c echo.Context, data interface{}, message string) error {
	return c.JSON(http.StatusAccepted, APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// NoContent returns a 204 No Content response
func NoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// Paginated returns a paginated response
func Paginated(c echo.Context, data interface{}, total int64, limit, offset int) error {
	return c.JSON(http.StatusOK, PaginatedResponse{
		Success: true,
		Data:    data,
		Meta: Meta{
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// Error maps a service error to its HTTP status via the error-code
// taxonomy and renders the failure envelope.
func Error(c echo.Context, err error) error {
	code := apperrors.GetErrorCode(err)
	return fail(c, getHTTPStatus(code), err.Error(), code)
}

// BadRequest returns a 400 Bad Request response
func BadRequest(c echo.Context, message string) error {
	return fail(c, http.StatusBadRequest, message, apperrors.CodeInvalidInput)
}

// NotFound returns a 404 Not Found response
func NotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, apperrors.CodeNotFound)
}

// Conflict returns a 409 Conflict response
func Conflict(c echo.Context, message string) error {
	return fail(c, http.StatusConflict, message, apperrors.CodeDuplicateEntry)
}

// InternalError returns a 500 Internal Server Error response
func InternalError(c echo.Context, message string) error {
	return fail(c, http.StatusInternalServerError, message, apperrors.CodeInternalError)
}

func fail(c echo.Context, status int, message, code string) error {
	return c.JSON(status, ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// getHTTPStatus maps error codes to HTTP status codes
func getHTTPStatus(code string) int {
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeDuplicateEntry, apperrors.CodeDuplicateIngestion:
		return http.StatusConflict
	case apperrors.CodeInvalidInput, apperrors.CodeUnsupportedProvider:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeReconnectRequired:
		return http.StatusUnprocessableEntity
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
