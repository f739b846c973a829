package errors

import (
	"net/http"
)

// ErrorCode is the machine-readable error code carried on the wire.
// Codes are stable: the Farcaster sender and the admin tooling key off them.
type ErrorCode string

const (
	// Transport/validation errors (4xx)
	ErrBadRequest       ErrorCode = "bad_request"
	ErrMethodNotAllowed ErrorCode = "method_not_allowed"
	ErrMissingFields    ErrorCode = "missing_title_body_targetUrl"
	ErrTargetURLDomain  ErrorCode = "targetUrl_not_allowed"

	// Authorization errors (401/403)
	ErrUnauthorized ErrorCode = "unauthorized"
	ErrForbidden    ErrorCode = "forbidden"

	// Conflict (409)
	ErrBroadcastInProgress ErrorCode = "broadcast_in_progress"

	// Server errors (5xx)
	ErrWebhookFailed ErrorCode = "webhook_failed"
	ErrInternal      ErrorCode = "internal"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"error"`
	Message    string    `json:"message,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// ErrorResponse is the wire shape for error responses: {ok:false, error, message?}
type ErrorResponse struct {
	OK      bool      `json:"ok"`
	Error   ErrorCode `json:"error"`
	Message string    `json:"message,omitempty"`
}

// Response builds the wire representation of an APIError
func (e *APIError) Response() ErrorResponse {
	return ErrorResponse{OK: false, Error: e.Code, Message: e.Message}
}

// Common errors
var (
	ErrMethodNotAllowedError = &APIError{
		Code:       ErrMethodNotAllowed,
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	ErrUnauthorizedError = &APIError{
		Code:       ErrUnauthorized,
		Message:    "Missing Authorization: Bearer <token>",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Invalid token",
		HTTPStatus: http.StatusForbidden,
	}

	ErrBroadcastInProgressError = &APIError{
		Code:       ErrBroadcastInProgress,
		Message:    "Another broadcast is running, try again shortly",
		HTTPStatus: http.StatusConflict,
	}

	ErrInternalError = &APIError{
		Code:       ErrInternal,
		Message:    "Server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewBadRequestError creates a bad_request error with a message
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewMissingFieldsError reports absent required broadcast fields
func NewMissingFieldsError() *APIError {
	return &APIError{
		Code:       ErrMissingFields,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewTargetURLError reports a broadcast target outside the app's origin
func NewTargetURLError(origin string) *APIError {
	return &APIError{
		Code:       ErrTargetURLDomain,
		Message:    "targetUrl must start with " + origin,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewWebhookFailedError wraps a storage failure on the webhook path.
// The message is generic on purpose: internals never leak to the sender.
func NewWebhookFailedError() *APIError {
	return &APIError{
		Code:       ErrWebhookFailed,
		Message:    "webhook processing failed",
		HTTPStatus: http.StatusInternalServerError,
	}
}
