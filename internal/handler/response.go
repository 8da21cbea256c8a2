package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// WHY HELPERS?
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   json.NewEncoder(w).Encode(data)
//
// With helpers, handlers are cleaner and more consistent:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err, debug)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "profile not found with id abc123"}
//
// Outside production a "detail" field carries the underlying cause, which
// is handy while wiring up GoTrue or Stripe locally and must never reach a
// real user.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sakif/reroom-bff/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`            // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`          // Human-readable description
	Field   string `json:"field,omitempty"`  // Offending request field, for validation errors
	Detail  string `json:"detail,omitempty"` // Underlying cause, development only
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// You MUST set headers and status code BEFORE writing the body.
// Once you call w.Write() (which Encode does internally), the headers are sent.
// Any header changes after that are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping pairs a sentinel with its HTTP status and error type.
// Order matters only in that the first match wins.
var errorMapping = []struct {
	sentinel error
	status   int
	kind     string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{apperror.ErrCSRFMismatch, http.StatusBadRequest, "csrf_mismatch"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrExchangeFailed, http.StatusUnauthorized, "exchange_failed"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrUpstream, http.StatusBadGateway, "upstream_failure"},
}

// classify returns the HTTP status and error type for err.
func classify(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.sentinel) {
			return m.status, m.kind
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is where domain errors (from the service layer) get translated to HTTP.
// The service layer returns apperror.ErrValidation, apperror.ErrNotFound, etc.
// This function maps those to 400, 404, etc.
//
// errors.Is() UNWRAPPING:
// errors.Is(err, target) walks the entire error chain (via Unwrap())
// to see if `target` appears anywhere. This works because:
//
//	service returns: fmt.Errorf("applying mutation: %w", apperror.NotFound(...))
//	which wraps:     AppError{Err: ErrNotFound, Message: "..."}
//	errors.Is walks: outer error → AppError → ErrNotFound ✓ match!
//
// debug adds the cause of the error as "detail"; pass false in production.
func writeError(w http.ResponseWriter, err error, debug bool) {
	status, kind := classify(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Unknown error: never expose its text, it may contain SQL or paths.
		resp := ErrorResponse{Error: "internal_error", Message: "An internal error occurred"}
		if debug {
			resp.Detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	resp := ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	}
	if debug {
		resp.Detail = appErr.Detail()
	}
	writeJSON(w, status, resp)
}
