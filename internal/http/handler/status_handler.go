// Package handler contains the bot's HTTP endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/your-org/fortress-bot/internal/report"
)

// StatusSource returns the most recent status snapshot. ok is false before
// the first report tick.
type StatusSource interface {
	Status() (report.Status, bool)
}

// StatusHandler serves the latest status as JSON.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, ok := h.source.Status()
	if !ok {
		http.Error(w, "status not available yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response to JSON", http.StatusInternalServerError)
	}
}
