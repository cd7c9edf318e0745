package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrUnauthorized       = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrForbidden          = NewError("FORBIDDEN", "forbidden", http.StatusForbidden)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

	// Poll request taxonomy. These map to the wire codes the chat
	// front end already understands, so the code strings are load-bearing.
	ErrInvalidNonce      = NewError("INVALID_NONCE", "anti-forgery token missing or invalid", http.StatusForbidden)
	ErrNotAuthenticated  = NewError("NOT_AUTHENTICATED", "no authenticated session", http.StatusUnauthorized)
	ErrAccessDenied      = NewError("ACCESS_DENIED", "not a member of this channel", http.StatusForbidden)
	ErrInvalidChannel    = NewError("INVALID_CHANNEL", "channel_id is required and must be positive", http.StatusBadRequest)
	ErrConnectionLimit   = NewError("CONNECTION_LIMIT_EXCEEDED", "too many concurrent polls for this user", http.StatusTooManyRequests)
	ErrRateLimitExceeded = NewError("RATE_LIMIT_EXCEEDED", "too many poll requests, back off", http.StatusTooManyRequests)
	ErrRolloutDisabled   = NewError("ROLLOUT_DISABLED", "long-poll engine not enabled for this user", http.StatusServiceUnavailable)
)

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WireCode is the lowercase code used in poll responses, e.g.
// "connection_limit_exceeded".
func (e *Error) WireCode() string {
	return strings.ToLower(e.Code)
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	// The receiver is usually a package-level sentinel shared across
	// requests, so the map must be copied before the write, never
	// aliased.
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func IsNotFound(err error) bool   { return Is(err, ErrNotFound) }
func IsValidation(err error) bool { return Is(err, ErrValidation) }

// IsTerminal reports whether the client should stop retrying
// (re-login or leave the channel) instead of backing off.
func IsTerminal(err error) bool {
	return Is(err, ErrInvalidNonce) || Is(err, ErrNotAuthenticated) || Is(err, ErrAccessDenied)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}

// ToPollResponse renders the error in the poll endpoint's wire shape:
// {error: true, code, message}.
func ToPollResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	return map[string]interface{}{
		"error":   true,
		"code":    appErr.WireCode(),
		"message": appErr.Message,
	}
}
