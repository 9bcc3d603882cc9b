// Package main is the entry point of the Fortress trading bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/fortress-bot/db/schema"
	"github.com/your-org/fortress-bot/internal/alert"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/csvwriter"
	"github.com/your-org/fortress-bot/internal/datastore"
	"github.com/your-org/fortress-bot/internal/dbwriter"
	"github.com/your-org/fortress-bot/internal/engine"
	"github.com/your-org/fortress-bot/internal/exchange/binance"
	"github.com/your-org/fortress-bot/internal/http/handler"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/orchestrator"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/internal/state"
	"github.com/your-org/fortress-bot/pkg/logger"
)

func main() {
	// --- Configuration ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger.SetGlobalLogLevel(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	logger.Info("Fortress bot starting...")
	logger.Infof("Loaded configuration from: %s (dry run: %t, leverage: %.0fx, max positions: %d)",
		*configPath, bool(cfg.DryRun), cfg.Leverage, cfg.MaxOpenPositions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Journal: TimescaleDB (optional) and CSV ---
	var trades datastore.TradeSource
	var repos []dbwriter.Repository
	if cfg.Database.Enabled() {
		if v, err := schema.Up(cfg.Database.URL()); err != nil {
			logger.Fatalf("Failed to apply database migrations: %v", err)
		} else {
			logger.Infof("Database schema at version %d", v)
		}
		pool, err := pgxpool.New(ctx, cfg.Database.URL())
		if err != nil {
			logger.Fatalf("Unable to connect to database: %v", err)
		}
		defer pool.Close()
		w, err := dbwriter.NewTimescaleWriter(pool, cfg.DBWriter, logger.Zap())
		if err != nil {
			logger.Fatalf("Failed to initialize TimescaleDB writer: %v", err)
		}
		repos = append(repos, w)
		trades = datastore.NewTimescaleRepository(pool)
		logger.Info("TimescaleDB writer initialized successfully.")
	} else {
		repos = append(repos, dbwriter.NewDummyWriter(logger.FromZap(logger.Zap())))
	}
	if cfg.Journal.CSVPath != "" {
		cw, err := csvwriter.NewWriter(cfg.Journal.CSVPath, logger.Zap())
		if err != nil {
			logger.Fatalf("Failed to open trade journal %s: %v", cfg.Journal.CSVPath, err)
		}
		repos = append(repos, cw)
		if trades == nil {
			trades = datastore.NewCSVSource(cfg.Journal.CSVPath)
		}
	}
	journal := dbwriter.Fanout(repos...)
	defer journal.Close()

	// --- Ledger persistence ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	store := state.New(ctx, redisClient, cfg.Redis.Prefix, logger.Zap())

	// --- Exchange and execution engine ---
	client := binance.NewClient(cfg.Exchange.RESTURL, cfg.APIKey, cfg.APISecret,
		cfg.Exchange.RecvWindowMs, cfg.Exchange.RequestTimeout.D())
	var cache *binance.PriceCache
	if cfg.Exchange.PriceStream {
		cache = binance.NewPriceCache()
		stream := binance.NewPriceStream(cfg.Exchange.WSURL, cache)
		go func() {
			if err := stream.Run(ctx); err != nil {
				logger.Errorf("Price stream exited with error: %v", err)
			}
		}()
	}

	var provider market.Provider
	opts := []orchestrator.Option{
		orchestrator.WithStore(store),
		orchestrator.WithJournal(journal),
	}
	if cfg.DryRun {
		paper := engine.NewPaperExecutionEngine(engine.NewMarketData(client, cache, cfg.Exchange.QuoteAsset),
			cfg.Paper.InitialBalance, cfg.Fees.Taker)
		provider = paper
		opts = append(opts, orchestrator.WithRestoreHook(func(ps []position.Position) {
			for _, p := range ps {
				paper.Adopt(p.Symbol, p.Side, p.EntryPrice, p.Size)
			}
		}))
		logger.Infof("Paper trading with initial balance %.2f %s", cfg.Paper.InitialBalance, cfg.Exchange.QuoteAsset)
	} else {
		provider = engine.NewLiveExecutionEngine(client, cache, cfg.Exchange.QuoteAsset, cfg.Fees.Taker)
		logger.Warn("LIVE trading enabled: orders will be sent to the exchange")
	}

	notifier := alert.NewLogNotifier(logger.Zap())
	defer notifier.Close()
	opts = append(opts, orchestrator.WithNotifier(notifier))

	orch := orchestrator.New(cfg, provider, opts...)

	// --- HTTP server ---
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.NewMux(orch, trades, 3*cfg.Loops.ReportInterval.D()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("HTTP server starting on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server failed: %v", err)
		}
	}()

	// --- Graceful Shutdown Setup ---
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGHUP {
				reloaded, err := config.ReloadConfig(*configPath)
				if err != nil {
					logger.Errorf("Config reload failed, keeping previous settings: %v", err)
					continue
				}
				logger.SetGlobalLogLevel(reloaded.LogLevel)
				logger.Infof("Configuration reloaded; log level is now %s (trading parameters apply on restart)", reloaded.LogLevel)
				continue
			}
			logger.Infof("Received signal: %s, initiating shutdown...", sig)
			cancel()
			return
		}
	}()

	// --- Main Execution Loop ---
	if err := orch.Run(ctx); err != nil {
		logger.Errorf("Orchestrator stopped with error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server shutdown: %v", err)
	}
	logger.Info("Fortress bot shut down gracefully.")
}
