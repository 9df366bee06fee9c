package handler

import (
	"net/http"
	"time"
)

// HealthHandler answers liveness checks for the read API.
type HealthHandler struct {
	started time.Time
}

// NewHealthHandler creates a HealthHandler anchored at the current time.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{started: time.Now()}
}

// HealthCheck reports the process as alive along with its uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "pricewatch",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
