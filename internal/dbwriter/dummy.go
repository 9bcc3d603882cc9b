package dbwriter

import (
	"context"

	"github.com/your-org/fortress-bot/pkg/logger"
)

// dummyWriter is a no-op implementation of the Repository interface.
// It is used when the database connection is not available.
type dummyWriter struct {
	logger logger.Logger
}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter(l logger.Logger) Repository {
	l.Info("Creating dummy DB writer because no database connection is available.")
	return &dummyWriter{logger: l}
}

// SaveTrade does nothing.
func (d *dummyWriter) SaveTrade(trade Trade) {
	d.logger.Debugf("Dummy writer: SaveTrade %s %s pnl=%.4f", trade.Symbol, trade.Reason, trade.RealizedPnL)
}

// SaveEquitySnapshot does nothing and returns nil.
func (d *dummyWriter) SaveEquitySnapshot(ctx context.Context, snap EquitySnapshot) error {
	return nil
}

// SaveRegimeChange does nothing and returns nil.
func (d *dummyWriter) SaveRegimeChange(ctx context.Context, change RegimeChange) error {
	d.logger.Debugf("Dummy writer: SaveRegimeChange %s -> %s", change.From, change.To)
	return nil
}

// Close does nothing.
func (d *dummyWriter) Close() {
	d.logger.Debug("Dummy writer: Close called")
}
