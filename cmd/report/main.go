// Command report prints trade statistics from the journal, once or on an interval.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/datastore"
	"github.com/your-org/fortress-bot/internal/report"
	"github.com/your-org/fortress-bot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	csvPath := flag.String("csv", "", "Read trades from this CSV journal instead of the database")
	window := flag.Duration("window", 24*time.Hour, "Analyze trades closed within this window")
	interval := flag.Duration("interval", 0, "Repeat the report on this interval (0 runs once)")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Logger Setup ---
	l := logger.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Trade source ---
	var source datastore.TradeSource
	switch {
	case *csvPath != "":
		source = datastore.NewCSVSource(*csvPath)
	case cfg.Database.Enabled():
		dbpool, err := pgxpool.New(ctx, cfg.Database.URL())
		if err != nil {
			l.Fatalf("Unable to connect to database: %v", err)
		}
		defer dbpool.Close()
		source = datastore.NewTimescaleRepository(dbpool)
	case cfg.Journal.CSVPath != "":
		source = datastore.NewCSVSource(cfg.Journal.CSVPath)
	default:
		l.Fatal("No trade journal configured: set database.host, journal.csv_path or -csv")
	}

	if err := runReport(ctx, source, *window, time.Now(), os.Stdout, *asJSON); err != nil {
		l.Errorf("Report failed: %v", err)
	}
	if *interval <= 0 {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	l.Infof("Report generator started. Will run every %v.", *interval)
	for {
		select {
		case <-ticker.C:
			if err := runReport(ctx, source, *window, time.Now(), os.Stdout, *asJSON); err != nil {
				l.Errorf("Report failed: %v", err)
			}
		case <-ctx.Done():
			l.Info("Shutting down report generator.")
			return
		}
	}
}

// runReport fetches the trades of the window ending at now and writes the analysis to out.
func runReport(ctx context.Context, source datastore.TradeSource, window time.Duration, now time.Time, out io.Writer, asJSON bool) error {
	trades, err := source.FetchTrades(ctx, now.Add(-window))
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}
	r, err := report.AnalyzeTrades(trades)
	if errors.Is(err, report.ErrNoTrades) {
		_, werr := fmt.Fprintf(out, "No trades in the last %s.\n", window)
		return werr
	}
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return printReport(out, r)
}

func printReport(out io.Writer, r report.Report) error {
	w := &errWriter{w: out}
	w.printf("Trades %s .. %s\n", r.StartDate.UTC().Format(time.RFC3339), r.EndDate.UTC().Format(time.RFC3339))
	w.printf("  closes:        %d (%d partial)\n", r.TotalTrades, r.PartialCloses)
	w.printf("  win rate:      %.1f%% (long %.1f%%, short %.1f%%)\n", r.WinRate, r.LongWinRate, r.ShortWinRate)
	w.printf("  total pnl:     %s (fees %s)\n", r.TotalPnL.StringFixed(4), r.TotalFees.StringFixed(4))
	w.printf("  avg win/loss:  %s / %s\n", r.AverageProfit.StringFixed(4), r.AverageLoss.StringFixed(4))
	w.printf("  profit factor: %.2f\n", r.ProfitFactor)
	w.printf("  max drawdown:  %s\n", r.MaxDrawdown.StringFixed(4))
	w.printf("  sharpe:        %.2f  sortino: %.2f\n", r.SharpeRatio, r.SortinoRatio)

	tags := make([]string, 0, len(r.ByStrategy))
	for tag := range r.ByStrategy {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		s := r.ByStrategy[tag]
		w.printf("  [%s] %d closes, win rate %.1f%%, pnl %s\n", tag, s.Trades, s.WinRate, s.TotalPnL.StringFixed(4))
	}

	reasons := make([]string, 0, len(r.ExitReasons))
	for reason := range r.ExitReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		w.printf("  exit %-14s %d\n", reason+":", r.ExitReasons[reason])
	}
	return w.err
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
