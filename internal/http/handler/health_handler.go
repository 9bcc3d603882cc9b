package handler

import (
	"net/http"
	"time"
)

// HealthHandler answers liveness probes. Once the report loop has published a
// status, a status older than maxAge makes the bot unhealthy.
type HealthHandler struct {
	source StatusSource
	maxAge time.Duration
	now    func() time.Time
}

// NewHealthHandler creates a HealthHandler. maxAge <= 0 disables the staleness check.
func NewHealthHandler(source StatusSource, maxAge time.Duration) *HealthHandler {
	return &HealthHandler{source: source, maxAge: maxAge, now: time.Now}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.source.Status(); ok && h.maxAge > 0 {
		if age := h.now().Sub(s.Time); age > h.maxAge {
			http.Error(w, "status is stale ("+age.Truncate(time.Second).String()+" old)", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
