package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, logger, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"status_code": 404, "error": "not_found", "message": "Item not found"}
//
// The web client reads status_code and message; error is the machine-readable
// kind. The same shape is written by auth.RequireSession for 401s.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/code-inbox/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message    string `json:"message"` // Human-readable description
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status are sent on the first Write, so they are set first.
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

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{StatusCode: status, Message: message})
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrUnauthorized     → 401
//	ErrUpstreamAuth     → 502  Nylas rejected what we forwarded
//	ErrNotFound         → 404
//	ErrUpstreamTimeout  → 504
//	ErrValidation       → 400
//	ErrConflict         → 409
//	anything else       → 500
//
// Server-side failures (5xx) are logged with the full error chain; the
// client only ever sees AppError.Message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, errorType := classify(err)

	message := "An internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}

	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errorType,
		Message:    message,
	})
}

func classify(err error) (int, string) {
	switch apperror.Kind(err) {
	case apperror.ErrUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case apperror.ErrUpstreamAuth:
		return http.StatusBadGateway, "upstream_auth_failed"
	case apperror.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case apperror.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout, "upstream_timeout"
	case apperror.ErrValidation:
		return http.StatusBadRequest, "validation_error"
	case apperror.ErrConflict:
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

// decodeJSON decodes a request body into v, answering 400 on malformed input.
// It reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, logger, apperror.ValidationFailed("body", "invalid JSON body"))
		return false
	}
	return true
}
