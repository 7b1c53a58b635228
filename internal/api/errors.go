// Package api provides the HTTP surface of the nearby service: the feed and
// search handlers, health checks, the router and the standard response envelope.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/nearby/internal/middleware"
)

// Error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeBadRequest indicates a body that could not be parsed at all.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeMethodNotAllowed indicates the route exists for other methods.
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates a pipeline failure answered with fallback data.
	ErrCodeInternal = "internal_error"

	// ErrCodeUnavailable indicates a failed readiness check.
	ErrCodeUnavailable = "unavailable"
)

// Envelope is the body of every feed and search response.
//
//	{"success": true,  "data": {...}}
//	{"success": false, "error": {"code": "...", "message": "..."}, "data": {...}}
type Envelope struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Data    any          `json:"data,omitempty"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a failed envelope. data is the fallback payload and may
// be nil; 500 responses from the feed and search handlers always carry one.
//
// The error code is stored in ctx and handed to the logging middleware:
//
//	WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit: must be between 1 and 50", nil)
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string, data any) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	writeEnvelope(w, ctx, status, Envelope{
		Error: &ErrorDetail{Code: code, Message: message},
		Data:  data,
	})
}

// WriteJSON writes a successful envelope around data.
func WriteJSON(w http.ResponseWriter, ctx context.Context, status int, data any) {
	writeEnvelope(w, ctx, status, Envelope{Success: true, Data: data})
}

// MarshalSuccess encodes a successful envelope, for callers that keep the
// bytes (the response cache).
func MarshalSuccess(data any) ([]byte, error) {
	return json.Marshal(Envelope{Success: true, Data: data})
}

func writeEnvelope(w http.ResponseWriter, ctx context.Context, status int, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"internal_error","message":"Internal server error"}}`))
		return
	}
	writeRaw(w, ctx, status, body)
}

func writeRaw(w http.ResponseWriter, ctx context.Context, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
