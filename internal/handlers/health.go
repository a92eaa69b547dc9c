package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gridcommerce/checkout/internal/platform/httpx"
	"github.com/gridcommerce/checkout/internal/repositories"
)

var startTime = time.Now()

// HealthHandlers serves liveness and readiness probes. Readiness checks the
// persistence layer when a health repository is wired.
type HealthHandlers struct {
	health repositories.HealthRepository
}

// NewHealthHandlers constructs a HealthHandlers instance.
func NewHealthHandlers(health repositories.HealthRepository) *HealthHandlers {
	return &HealthHandlers{health: health}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeHealthPayload(w, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports readiness to take traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Check(r.Context()); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("not_ready", "persistence unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	writeHealthPayload(w, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeHealthPayload(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
