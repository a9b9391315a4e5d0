// Package apierr defines the typed error values returned by API handlers,
// mirroring the shape of auth.AuthError so every handler renders a stable
// {success:false, error, code} body.
package apierr

import "net/http"

// APIError is a typed, HTTP-status-carrying error.
type APIError struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// New constructs an APIError.
func New(code string, status int, message string) *APIError {
	return &APIError{Code: code, HTTPStatus: status, Message: message}
}

var (
	ErrValidation     = New("VALIDATION_ERROR", http.StatusBadRequest, "request failed validation")
	ErrNotFound       = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict       = New("CONFLICT", http.StatusConflict, "conflicting state")
	ErrRateLimited    = New("RATE_LIMITED", http.StatusTooManyRequests, "rate limit exceeded")
	ErrUpstream       = New("UPSTREAM_ERROR", http.StatusBadGateway, "upstream request failed")
	ErrInternal       = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal error")
	ErrUnauthorized   = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden      = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrPortfolioRisk    = New("PORTFOLIO_RISK_EXCEEDED", http.StatusBadRequest, "portfolio risk limit exceeded")
	ErrCooldownActive   = New("COOLDOWN_ACTIVE", http.StatusConflict, "auto-trigger rule is in cooldown")
	ErrInsufficientData = New("INSUFFICIENT_DATA", http.StatusBadRequest, "insufficient data for this operation")
)

// Validation builds a validation error with a specific message, keeping the
// VALIDATION_ERROR code and 400 status.
func Validation(message string) *APIError {
	return New(ErrValidation.Code, ErrValidation.HTTPStatus, message)
}

// NotFound builds a not-found error with a specific message.
func NotFound(message string) *APIError {
	return New(ErrNotFound.Code, ErrNotFound.HTTPStatus, message)
}

// Internal wraps an unexpected error behind the generic INTERNAL_ERROR code,
// keeping the underlying error out of the response body.
func Internal(err error) *APIError {
	return New(ErrInternal.Code, ErrInternal.HTTPStatus, "internal error")
}
