package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// readinessTimeout bounds each dependency check on /ready.
const readinessTimeout = 2 * time.Second

// Checker reports whether one external dependency is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	checkers map[string]Checker
	logger   *slog.Logger
}

// NewHealthHandlers creates a HealthHandlers with the given named
// dependency checkers. Checkers may be nil-valued entries and are skipped.
func NewHealthHandlers(checkers map[string]Checker, logger *slog.Logger) *HealthHandlers {
	return &HealthHandlers{checkers: checkers, logger: logger}
}

// Health handles GET /health. Liveness only, no dependency calls.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}

// Ready handles GET /ready. Pings each registered dependency and returns
// 503 when any is unreachable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checkers))

	for name, checker := range h.checkers {
		if checker == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"status":       "ready",
		"dependencies": results,
	}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write readiness response", "error", err)
	}
}
