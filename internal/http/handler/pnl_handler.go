package handler

import (
	"net/http"
	"time"

	"github.com/your-org/fortress-bot/internal/datastore"
	"github.com/your-org/fortress-bot/internal/report"
)

// PnlHandler serves trade statistics over the journal.
type PnlHandler struct {
	source datastore.TradeSource
	now    func() time.Time
}

// NewPnlHandler creates a new PnlHandler.
func NewPnlHandler(source datastore.TradeSource) *PnlHandler {
	return &PnlHandler{source: source, now: time.Now}
}

// ServeHTTP analyses trades closed within the "window" query parameter
// (a Go duration, default 24h).
func (h *PnlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}

	trades, err := h.source.FetchTrades(r.Context(), h.now().Add(-window))
	if err != nil {
		http.Error(w, "Failed to fetch trades", http.StatusInternalServerError)
		return
	}
	if len(trades) == 0 {
		writeJSON(w, report.Report{})
		return
	}
	rep, err := report.AnalyzeTrades(trades)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rep)
}

// NewMux wires the bot's endpoints. trades may be nil when no journal is readable.
func NewMux(status StatusSource, trades datastore.TradeSource, healthMaxAge time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", NewHealthHandler(status, healthMaxAge))
	mux.Handle("/status", NewStatusHandler(status))
	if trades != nil {
		mux.Handle("/pnl", NewPnlHandler(trades))
	}
	return mux
}
