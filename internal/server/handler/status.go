package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/bondvault/internal/strategy"
)

// StatusHandler serves the runtime status (mode, configured strategies) for
// the dashboard.
type StatusHandler struct {
	Mode      string
	Registry  *strategy.Registry
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, registry *strategy.Registry, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Registry: registry, StartedAt: startedAt}
}

// GetStatus responds with the current mode, uptime and configured strategies.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var strategies []string
	if h.Registry != nil {
		for _, id := range h.Registry.List() {
			strategies = append(strategies, string(id))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"strategies":     strategies,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
