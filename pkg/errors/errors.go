package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by every component. AppError values wrap one of
// these so callers can branch with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")

	// ErrAuthFailure covers bad credentials and account-creation conflicts.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrWriteFailure means the store rejected a create, update or delete.
	ErrWriteFailure = errors.New("store write failed")
	// ErrPartialCommit means an order was committed but the cart cleanup
	// that follows it did not complete.
	ErrPartialCommit = errors.New("order committed, cart cleanup failed")
	// ErrSubscriptionFailure means a live query could not be established
	// or broke while running.
	ErrSubscriptionFailure = errors.New("live query failed")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
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

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
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

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// AuthFailure creates a 401 error. The message is shown to users, so it
// must stay generic; the cause is kept for logs only.
func AuthFailure(message string, cause error) *AppError {
	return &AppError{
		Code:    "AUTH_FAILURE",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrAuthFailure,
		cause:   cause,
	}
}

// WriteFailure creates a 502 error for a rejected store write.
func WriteFailure(op, collection string, cause error) *AppError {
	return &AppError{
		Code:    "WRITE_FAILURE",
		Message: fmt.Sprintf("%s on %s failed", op, collection),
		Status:  http.StatusBadGateway,
		Err:     ErrWriteFailure,
		cause:   cause,
	}
}

// PartialCommit creates the error reported when an order is durable but the
// cart lines that produced it could not all be removed.
func PartialCommit(orderID string, cause error) *AppError {
	return &AppError{
		Code:    "PARTIAL_COMMIT",
		Message: fmt.Sprintf("order %s placed but cart cleanup failed", orderID),
		Status:  http.StatusMultiStatus,
		Err:     ErrPartialCommit,
		cause:   cause,
	}
}

// SubscriptionFailure creates the error reported for a broken live query.
func SubscriptionFailure(collection string, cause error) *AppError {
	return &AppError{
		Code:    "SUBSCRIPTION_FAILURE",
		Message: fmt.Sprintf("live query on %s unavailable", collection),
		Status:  http.StatusServiceUnavailable,
		Err:     ErrSubscriptionFailure,
		cause:   cause,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		cause:   err,
	}
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
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWriteFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrSubscriptionFailure), errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
