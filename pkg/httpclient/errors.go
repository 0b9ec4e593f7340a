package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

// GoogleErrorResponse is the error body shape returned by Google REST APIs,
// including the Identity Toolkit used for password sign-in.
type GoogleErrorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// RemoteError is a non-2xx response from an upstream API. Reason carries the
// upstream machine-readable message (e.g. EMAIL_NOT_FOUND).
type RemoteError struct {
	Service    string
	StatusCode int
	Reason     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Reason)
}

// ParseResponseError reads the body of a non-2xx response and returns a
// RemoteError. The body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	reason := string(body)
	var gerr GoogleErrorResponse
	if json.Unmarshal(body, &gerr) == nil && gerr.Error != nil && gerr.Error.Message != "" {
		reason = gerr.Error.Message
	}

	return &RemoteError{Service: serviceName, StatusCode: resp.StatusCode, Reason: reason}
}

// ToAppError maps a RemoteError status onto the shared error taxonomy.
func ToAppError(err *RemoteError) *apperrors.AppError {
	msg := fmt.Sprintf("%s: %s", err.Service, err.Reason)
	switch {
	case err.StatusCode == http.StatusNotFound:
		return apperrors.NotFound(err.Service, err.Reason)
	case err.StatusCode == http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case err.StatusCode == http.StatusConflict:
		return apperrors.Conflict(msg)
	case err.StatusCode == http.StatusUnauthorized, err.StatusCode == http.StatusForbidden:
		return apperrors.Unauthorized(msg)
	case err.StatusCode >= 500:
		return apperrors.ServiceUnavailable(msg)
	default:
		return &apperrors.AppError{Code: "UPSTREAM_ERROR", Message: msg, Status: err.StatusCode}
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
