package datastore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/fortress-bot/internal/report"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// CSVSource reads trades from a journal written by csvwriter.
type CSVSource struct {
	path string
}

// NewCSVSource creates a CSVSource for path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

var requiredColumns = []string{"exit_time", "entry_time", "symbol", "side", "strategy", "realized_pnl", "fee", "reason", "partial"}

// FetchTrades reads the whole file and returns the rows at or after since.
// Malformed rows are skipped with a warning.
func (s *CSVSource) FetchTrades(ctx context.Context, since time.Time) ([]report.Trade, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv journal %s is missing column %q", s.path, name)
		}
	}

	var trades []report.Trade
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		t, err := parseTradeRecord(record, col)
		if err != nil {
			logger.Warnf("Skipping csv line %d: %v", line, err)
			continue
		}
		if t.Time.Before(since) {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func parseTradeRecord(record []string, col map[string]int) (report.Trade, error) {
	get := func(name string) string { return record[col[name]] }

	exit, err := time.Parse(time.RFC3339, get("exit_time"))
	if err != nil {
		return report.Trade{}, fmt.Errorf("bad exit_time: %w", err)
	}
	entry, err := time.Parse(time.RFC3339, get("entry_time"))
	if err != nil {
		return report.Trade{}, fmt.Errorf("bad entry_time: %w", err)
	}
	pnl, err := decimal.NewFromString(get("realized_pnl"))
	if err != nil {
		return report.Trade{}, fmt.Errorf("bad realized_pnl: %w", err)
	}
	fee, err := decimal.NewFromString(get("fee"))
	if err != nil {
		return report.Trade{}, fmt.Errorf("bad fee: %w", err)
	}
	partial, err := strconv.ParseBool(get("partial"))
	if err != nil {
		return report.Trade{}, fmt.Errorf("bad partial: %w", err)
	}
	return report.Trade{
		Time:        exit,
		EntryTime:   entry,
		Symbol:      get("symbol"),
		Side:        get("side"),
		Strategy:    get("strategy"),
		RealizedPnL: pnl,
		Fee:         fee,
		Reason:      get("reason"),
		Partial:     partial,
	}, nil
}
