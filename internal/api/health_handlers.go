package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/nearby/internal/health"
	"github.com/onnwee/nearby/internal/middleware"
)

// readyTimeout bounds all readiness checks together.
const readyTimeout = 5 * time.Second

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	checks map[string]health.Checker
	logger *slog.Logger
}

// HealthHandlersConfig configures the health check handlers. Unset checkers
// are reported as "not_configured" and do not fail readiness.
type HealthHandlersConfig struct {
	DBChecker    health.Checker
	RedisChecker health.Checker
	Logger       *slog.Logger
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandlers{
		checks: map[string]health.Checker{
			"database": config.DBChecker,
			"redis":    config.RedisChecker,
		},
		logger: logger,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. The process is alive if it can answer.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	h.write(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. It returns 503 when a configured dependency is
// unreachable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	report := health.CheckAll(ctx, h.checks)
	checks := make(map[string]string, len(h.checks))
	for name := range h.checks {
		checks[name] = "not_configured"
	}
	for _, name := range report.Names() {
		if err := report[name]; err != nil {
			checks[name] = "error"
			h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	resp := HealthResponse{Status: "healthy", Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if !report.Healthy() {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
		middleware.UpdateResponseContext(w, middleware.SetErrorCode(r.Context(), ErrCodeUnavailable))
	}
	h.write(w, r.Context(), status, resp)
}

func (h *HealthHandlers) write(w http.ResponseWriter, ctx context.Context, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode health response", "error", err)
	}
}
