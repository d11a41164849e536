package handler

import (
	"net/http"
)

// ReadinessCheck reports whether an optional dependency is healthy.
type ReadinessCheck interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	telemetry ReadinessCheck
}

// NewHealthHandler creates a new health handler. telemetry may be nil
// when the NATS sink is not configured.
func NewHealthHandler(telemetry ReadinessCheck) *HealthHandler {
	return &HealthHandler{telemetry: telemetry}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.telemetry != nil && !h.telemetry.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "telemetry sink not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
