package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/datastore"
	"github.com/your-org/fortress-bot/pkg/logger"
)

const timeLayout = "2006-01-02 15:04:05.999999-07"

// journal is the part of the TimescaleDB repository the export reads.
type journal interface {
	datastore.TradeSource
	FetchEquityCurve(ctx context.Context, since time.Time) ([]datastore.EquityPoint, error)
}

func main() {
	// --- Argument Parsing ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	what := flag.String("what", "trades", "What to export: trades or equity")
	window := flag.Duration("window", 7*24*time.Hour, "Export rows newer than this")
	flag.Parse()

	// --- Config and Logger Setup ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration to get DB settings: %v", err)
	}
	logger.SetGlobalLogLevel("info")
	if !cfg.Database.Enabled() {
		logger.Fatal("database.host is not configured; nothing to export from")
	}

	// --- Database Connection ---
	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	since := time.Now().Add(-*window)
	logger.Infof("Exporting %s since %s...", *what, since.UTC().Format(time.RFC3339))
	n, err := export(ctx, datastore.NewTimescaleRepository(dbpool), *what, since, os.Stdout)
	if err != nil {
		logger.Fatalf("Export failed: %v", err)
	}
	logger.Infof("Successfully exported %d rows.", n)
}

// export writes the selected journal rows as CSV and returns the row count.
func export(ctx context.Context, src journal, what string, since time.Time, out io.Writer) (int, error) {
	writer := csv.NewWriter(out)
	defer writer.Flush()

	var header []string
	var records [][]string
	switch what {
	case "trades":
		trades, err := src.FetchTrades(ctx, since)
		if err != nil {
			return 0, err
		}
		header = []string{"time", "entry_time", "symbol", "side", "strategy", "realized_pnl", "fee", "reason", "partial"}
		for _, t := range trades {
			records = append(records, []string{
				t.Time.Format(timeLayout),
				t.EntryTime.Format(timeLayout),
				t.Symbol,
				t.Side,
				t.Strategy,
				t.RealizedPnL.String(),
				t.Fee.String(),
				t.Reason,
				strconv.FormatBool(t.Partial),
			})
		}
	case "equity":
		points, err := src.FetchEquityCurve(ctx, since)
		if err != nil {
			return 0, err
		}
		header = []string{"time", "equity"}
		for _, p := range points {
			records = append(records, []string{p.Time.Format(timeLayout), strconv.FormatFloat(p.Equity, 'f', -1, 64)})
		}
	default:
		return 0, fmt.Errorf("unknown export %q (want trades or equity)", what)
	}

	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := writer.WriteAll(records); err != nil {
		return 0, fmt.Errorf("failed to write CSV records: %w", err)
	}
	return len(records), nil
}
