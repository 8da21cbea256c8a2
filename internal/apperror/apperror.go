// Package apperror defines the error taxonomy shared by every layer.
//
// Services return these errors (usually wrapped with fmt.Errorf("...: %w")),
// and the HTTP layer maps them to status codes with errors.Is / errors.As.
// Nothing below the handler package knows about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("Validation Error")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrCSRFMismatch   = errors.New("csrf mismatch")
	ErrExchangeFailed = errors.New("exchange failed")
	ErrInvalidAction  = errors.New("invalid action")
	ErrUpstream       = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // sentinel, used for errors.Is
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, only shown outside production
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Detail returns the diagnostic text of the underlying cause, or "".
func (e *AppError) Detail() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized covers bad credentials and missing or expired sessions.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// CSRFMismatch is returned when the OAuth state echoed by the provider does
// not match the one stored in the browser.
func CSRFMismatch() *AppError {
	return &AppError{
		Err:     ErrCSRFMismatch,
		Message: "OAuth state does not match",
	}
}

// ExchangeFailed is returned when the provider rejects an authorization code.
func ExchangeFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrExchangeFailed,
		Message: "authorization code exchange failed",
		Cause:   cause,
	}
}

func InvalidAction(action string) *AppError {
	return &AppError{
		Err:     ErrInvalidAction,
		Message: fmt.Sprintf("invalid action %q: must be add, deduct or set", action),
		Field:   "action",
	}
}

// Upstream wraps a failure of an external collaborator (identity provider,
// payment processor) that is unreachable or answering with a server error.
func Upstream(service string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s is unavailable", service),
		Cause:   cause,
	}
}
