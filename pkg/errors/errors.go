package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Business rejections wrap one of the last four so callers
// can branch with errors.Is without knowing the concrete rejection type.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrValidation     = errors.New("validation rejected")
	ErrUnavailable    = errors.New("not available")
	ErrCommitConflict = errors.New("commit conflict")
	ErrTryAgain       = errors.New("temporarily unavailable")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a machine-readable value, such as the minimum order
// amount a promo code requires, and returns e for chaining.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error for optimistic-concurrency losses.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// ValidationRejected creates a 422 error for a recoverable business rule
// rejection (ineligible promo code, too many options, empty cart). The code
// is surfaced verbatim so pages can pick a localized message.
func ValidationRejected(code, message string) *AppError {
	if code == "" {
		code = "VALIDATION_REJECTED"
	}
	return &AppError{
		Code:    code,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrValidation,
	}
}

// AvailabilityRejected creates a 409 error for out-of-stock or full preorder
// selections. It blocks only the action that triggered it.
func AvailabilityRejected(code, message string) *AppError {
	if code == "" {
		code = "AVAILABILITY_REJECTED"
	}
	return &AppError{
		Code:    code,
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrUnavailable,
	}
}

// CommitConflict creates a 409 error for a stock decrement that lost the
// conditional update at order time.
func CommitConflict(message string) *AppError {
	return &AppError{
		Code:    "COMMIT_CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrCommitConflict,
	}
}

// TryAgain creates a 503 error for record store timeouts and open breakers.
func TryAgain(message string, cause error) *AppError {
	err := ErrTryAgain
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrTryAgain, cause)
	}
	return &AppError{
		Code:    "TRY_AGAIN",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// IsRecoverable reports whether err is a business condition the customer can
// act on, as opposed to a fault.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrCommitConflict) ||
		errors.Is(err, ErrTryAgain)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrUnavailable), errors.Is(err, ErrCommitConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTryAgain):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
