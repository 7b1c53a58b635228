package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/nearby/internal/middleware"
)

func TestWriteError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	fallback := map[string][]string{"posts": {}}

	WriteError(w, context.Background(), http.StatusInternalServerError, ErrCodeInternal, "Feed temporarily unavailable", fallback)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("expected JSON content type, got %s", ct)
	}

	var resp struct {
		Success bool                `json:"success"`
		Error   ErrorDetail         `json:"error"`
		Data    map[string][]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response body: %v, body: %s", err, w.Body.String())
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Error.Code != ErrCodeInternal || resp.Error.Message != "Feed temporarily unavailable" {
		t.Errorf("unexpected error detail: %+v", resp.Error)
	}
	if posts, ok := resp.Data["posts"]; !ok || posts == nil {
		t.Errorf("expected fallback data with empty posts, got %s", w.Body.String())
	}
}

func TestWriteError_OmitsNilData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, context.Background(), http.StatusBadRequest, ErrCodeValidation, "query: too short", nil)

	if strings.Contains(w.Body.String(), `"data"`) {
		t.Errorf("400 should not carry data: %s", w.Body.String())
	}
}

func TestWriteJSON_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, context.Background(), http.StatusOK, map[string]int{"count": 3})

	if got := w.Body.String(); !strings.HasPrefix(got, `{"success":true,"data":{"count":3}}`) {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestWriteError_LoggedErrorCode(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit: must be between 1 and 50", nil)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/feed?limit=99", nil))

	var entry struct {
		Level     string `json:"level"`
		Status    int    `json:"status"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	if entry.Status != http.StatusBadRequest || entry.Level != "WARN" {
		t.Errorf("unexpected log entry: %+v", entry)
	}
	if entry.ErrorCode != ErrCodeValidation {
		t.Errorf("expected error_code %s in logs, got %s", ErrCodeValidation, entry.ErrorCode)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"unknown", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := StatusCodeMapping(tt.code); got != tt.wantStatus {
				t.Errorf("StatusCodeMapping(%q) = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}
