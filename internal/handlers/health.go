package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthHandler serves the liveness probe
type HealthHandler struct {
	db      HealthChecker
	timeout time.Duration
}

func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, timeout: 2 * time.Second}
}

// Health pings the database
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.HealthCheck(ctx); err != nil {
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: "down"})
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "up"})
}
