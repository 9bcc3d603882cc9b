package dbwriter

import (
	"context"
	"sync"
)

// InMemWriter is an in-memory implementation of the Repository interface for testing.
type InMemWriter struct {
	mu              sync.RWMutex
	Trades          []Trade
	EquitySnapshots []EquitySnapshot
	RegimeChanges   []RegimeChange
	IsClosed        bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{}
}

// SaveTrade appends a trade to the in-memory slice.
func (w *InMemWriter) SaveTrade(trade Trade) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Trades = append(w.Trades, trade)
}

// SaveEquitySnapshot appends a snapshot to the in-memory slice.
func (w *InMemWriter) SaveEquitySnapshot(ctx context.Context, snap EquitySnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.EquitySnapshots = append(w.EquitySnapshots, snap)
	return nil
}

// SaveRegimeChange appends a regime change to the in-memory slice.
func (w *InMemWriter) SaveRegimeChange(ctx context.Context, change RegimeChange) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.RegimeChanges = append(w.RegimeChanges, change)
	return nil
}

// SavedTrades returns a copy of the recorded trades.
func (w *InMemWriter) SavedTrades() []Trade {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Trade(nil), w.Trades...)
}

// SavedRegimeChanges returns a copy of the recorded regime changes.
func (w *InMemWriter) SavedRegimeChanges() []RegimeChange {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]RegimeChange(nil), w.RegimeChanges...)
}

// SavedEquitySnapshots returns a copy of the recorded snapshots.
func (w *InMemWriter) SavedEquitySnapshots() []EquitySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]EquitySnapshot(nil), w.EquitySnapshots...)
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}
