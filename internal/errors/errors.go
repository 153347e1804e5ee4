package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEntry indicates a unique constraint violation
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrRequestNotFound indicates the parent request was not found
	ErrRequestNotFound = errors.New("request not found")

	// ErrOrphanedInbound indicates no correlation strategy matched an inbound message
	ErrOrphanedInbound = errors.New("inbound message could not be correlated")

	// ErrDuplicateIngestion indicates the (provider message id, provider) pair
	// was already recorded; the message is skipped, not reprocessed
	ErrDuplicateIngestion = errors.New("inbound message already ingested")

	// ErrConcurrentSendLoss indicates the conditional dispatch write affected
	// zero rows because another attempt already won
	ErrConcurrentSendLoss = errors.New("another send attempt already completed")

	// ErrReconnectRequired indicates the account's grant was revoked and the
	// user must re-authorize; never retried automatically
	ErrReconnectRequired = errors.New("account credentials revoked, reconnect required")

	// ErrRateLimited indicates the outbound transport rejected a send; the
	// message belongs in the delivery queue rather than failing outright
	ErrRateLimited = errors.New("transport rate limited")

	// ErrTransportFailure indicates the mail transport failed; the request is
	// left un-sent so a retry is safe
	ErrTransportFailure = errors.New("mail transport failure")

	// ErrUnsupportedProvider indicates no sync adapter is registered for the
	// account's provider
	ErrUnsupportedProvider = errors.New("unsupported mail provider")

	// ErrQueueExhausted indicates a queued email reached its attempt ceiling
	ErrQueueExhausted = errors.New("queued email attempts exhausted")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")
)

// Error codes for API responses
const (
	CodeNotFound            = "NOT_FOUND"
	CodeDuplicateEntry      = "DUPLICATE_ENTRY"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeOrphanedInbound     = "ORPHANED_INBOUND"
	CodeDuplicateIngestion  = "DUPLICATE_INGESTION"
	CodeReconnectRequired   = "RECONNECT_REQUIRED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeTransportFailure    = "TRANSPORT_FAILURE"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	CodeQueueExhausted      = "QUEUE_EXHAUSTED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// NewReconnectRequiredError builds the user-actionable error surfaced when an
// account's refresh token is rejected with an invalid-grant class of failure.
func NewReconnectRequiredError(accountEmail string) *AppError {
	return &AppError{
		Err:     ErrReconnectRequired,
		Message: fmt.Sprintf("the mail account %s has been disconnected by its provider; please reconnect it to resume syncing", accountEmail),
		Code:    CodeReconnectRequired,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRequestNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRateLimited checks if the error is a transport rate-limit rejection
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsReconnectRequired checks if the error is a revoked-grant failure
func IsReconnectRequired(err error) bool {
	return errors.Is(err, ErrReconnectRequired)
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsDuplicateEntry(err):
		return CodeDuplicateEntry
	case IsInvalidInput(err):
		return CodeInvalidInput
	case errors.Is(err, ErrOrphanedInbound):
		return CodeOrphanedInbound
	case errors.Is(err, ErrDuplicateIngestion):
		return CodeDuplicateIngestion
	case errors.Is(err, ErrReconnectRequired):
		return CodeReconnectRequired
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTransportFailure):
		return CodeTransportFailure
	case errors.Is(err, ErrUnsupportedProvider):
		return CodeUnsupportedProvider
	case errors.Is(err, ErrQueueExhausted):
		return CodeQueueExhausted
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternalError
	}
}
