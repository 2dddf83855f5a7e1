package handler

import (
	"net/http"
	"time"

	"github.com/dandantas/nyxmon/internal/database"
)

// HealthHandler reports agent liveness and storage reachability
type HealthHandler struct {
	store     database.Store
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store database.Store, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	Storage       string `json:"storage"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health handles GET /health. An unreachable store answers 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, storage, code := "healthy", "connected", http.StatusOK
	if err := read(r.Context(), h.store, func(database.Tx) error { return nil }); err != nil {
		status, storage, code = "degraded", "disconnected", http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{
		Status:        status,
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Storage:       storage,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
