package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError represents a standardized client error
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"` // underlying cause, if any
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code and message so sentinels compare by value.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a new AppError
func New(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	// ErrTriggerFailed is returned when an action responds without isExecuted.
	ErrTriggerFailed = New(0, "Trigger has failed", nil)
	// ErrNoData is returned when a write succeeded but reading the row back yielded nothing.
	ErrNoData = New(0, "no data returned", nil)
	// ErrUnknownField is returned for a field id the view does not define.
	ErrUnknownField = New(0, "unknown field", nil)
	// ErrNotAction is returned when triggering a field that is not an action.
	ErrNotAction = New(0, "field is not an action", nil)
)

// Transport creates the error for a non-2xx response. The detail is the
// backend's error text when it sent one.
func Transport(status int, detail string) *AppError {
	msg := fmt.Sprintf("request failed with status code %d", status)
	if detail = strings.TrimSpace(detail); detail != "" {
		msg += ": " + detail
	} else if text := http.StatusText(status); text != "" {
		msg += ": " + text
	}
	return New(status, msg, nil)
}

// Unauthorized creates a 401 error
func Unauthorized(detail string) *AppError {
	return Transport(http.StatusUnauthorized, detail)
}

// NotFound creates a 404 error
func NotFound(detail string) *AppError {
	return Transport(http.StatusNotFound, detail)
}

// Wrap attaches a message to a non-HTTP failure (encoding, dialing, ...).
func Wrap(err error, message string) *AppError {
	return New(0, message, err)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
