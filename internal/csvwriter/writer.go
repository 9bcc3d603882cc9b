// Package csvwriter writes the closed-trade journal as CSV.
package csvwriter

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fortress-bot/internal/dbwriter"
)

// Header is the first row of every journal file.
var Header = []string{
	"exit_time", "trade_id", "position_id", "symbol", "side", "strategy", "entry_time",
	"entry_price", "exit_price", "quantity", "fee", "realized_pnl", "roi_pct", "reason", "partial",
}

// Writer is a simple CSV writer.
type Writer struct {
	file   *os.File
	writer *csv.Writer
	logger *zap.Logger
	mu     sync.Mutex
}

// NewWriter opens filePath for appending, writing the header when the file
// is new or empty.
func NewWriter(filePath string, logger *zap.Logger) (*Writer, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat CSV file: %w", err)
	}

	w := &Writer{
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger,
	}
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			file.Close()
			return nil, err
		}
		w.Flush()
	}
	return w, nil
}

// Write writes a record to the CSV file.
func (w *Writer) Write(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record to CSV: %w", err)
	}
	return nil
}

// Flush flushes any buffered data to the underlying file.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// TradeRecord renders a journal trade as one CSV row in Header order.
func TradeRecord(t dbwriter.Trade) []string {
	return []string{
		t.Time.UTC().Format(time.RFC3339),
		t.TradeID,
		t.PositionID,
		t.Symbol,
		t.Side,
		t.Strategy,
		t.EntryTime.UTC().Format(time.RFC3339),
		formatFloat(t.EntryPrice),
		formatFloat(t.ExitPrice),
		formatFloat(t.Quantity),
		formatFloat(t.Fee),
		formatFloat(t.RealizedPnL),
		strconv.FormatFloat(t.ROI, 'f', 2, 64),
		t.Reason,
		strconv.FormatBool(t.Partial),
	}
}

// SaveTrade appends one closed trade and flushes it to disk.
func (w *Writer) SaveTrade(t dbwriter.Trade) {
	if err := w.Write(TradeRecord(t)); err != nil {
		w.logger.Error("Failed to journal trade", zap.String("symbol", t.Symbol), zap.Error(err))
		return
	}
	w.Flush()
}

// SaveEquitySnapshot is not journaled to CSV.
func (w *Writer) SaveEquitySnapshot(context.Context, dbwriter.EquitySnapshot) error { return nil }

// SaveRegimeChange is not journaled to CSV.
func (w *Writer) SaveRegimeChange(context.Context, dbwriter.RegimeChange) error { return nil }

// Close flushes and closes the file.
func (w *Writer) Close() {
	w.Flush()
	if err := w.file.Close(); err != nil {
		w.logger.Warn("Failed to close CSV file", zap.Error(err))
	}
}
