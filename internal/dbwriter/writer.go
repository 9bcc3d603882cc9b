package dbwriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/your-org/fortress-bot/internal/config"
)

// Trade is one closed (or partially closed) position as stored in the journal.
type Trade struct {
	Time        time.Time `db:"time"`
	TradeID     string    `db:"trade_id"`
	PositionID  string    `db:"position_id"`
	Symbol      string    `db:"symbol"`
	Side        string    `db:"side"` // "LONG" or "SHORT"
	Strategy    string    `db:"strategy"`
	EntryTime   time.Time `db:"entry_time"`
	EntryPrice  float64   `db:"entry_price"`
	ExitPrice   float64   `db:"exit_price"`
	Quantity    float64   `db:"quantity"`
	Fee         float64   `db:"fee"`
	RealizedPnL float64   `db:"realized_pnl"`
	ROI         float64   `db:"roi"`
	Reason      string    `db:"reason"`
	Partial     bool      `db:"partial"`
}

// EquitySnapshot is one reporting tick.
type EquitySnapshot struct {
	Time           time.Time `db:"time"`
	Balance        float64   `db:"balance"`
	Equity         float64   `db:"equity"`
	Unrealized     float64   `db:"unrealized_pnl"`
	DailyChangePct float64   `db:"daily_change_pct"`
	OpenPositions  int       `db:"open_positions"`
	Regime         string    `db:"regime"`
	Breaker        string    `db:"breaker_state"`
}

// RegimeChange records a classifier transition.
type RegimeChange struct {
	Time           time.Time `db:"time"`
	From           string    `db:"from_state"`
	To             string    `db:"to_state"`
	ReferencePrice float64   `db:"reference_price"`
}

var tradeColumns = []string{
	"time", "trade_id", "position_id", "symbol", "side", "strategy", "entry_time",
	"entry_price", "exit_price", "quantity", "fee", "realized_pnl", "roi", "reason", "partial",
}

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Close()
}

// TimescaleWriter writes the journal to TimescaleDB. Trades are buffered and
// flushed with COPY either when the batch is full or on the flush interval.
type TimescaleWriter struct {
	pool         Pool
	logger       *zap.Logger
	config       config.DBWriterConfig
	tradeBuffer  []Trade
	bufferMutex  sync.Mutex
	flushTicker  *time.Ticker
	shutdownChan chan struct{}
	closeOnce    sync.Once
}

// NewTimescaleWriter creates a writer over an existing pool. A nil pool
// yields a writer that drops everything.
func NewTimescaleWriter(pool Pool, writerConfig config.DBWriterConfig, logger *zap.Logger) (*TimescaleWriter, error) {
	if pool == nil {
		logger.Info("pgxpool.Pool is nil, creating dummy DB writer.")
		return &TimescaleWriter{
			pool:         nil,
			logger:       logger,
			shutdownChan: make(chan struct{}),
		}, nil
	}

	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("WriteIntervalSeconds is zero or negative, defaulting to 1s.", zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}

	writer := &TimescaleWriter{
		pool:         pool,
		logger:       logger,
		config:       writerConfig,
		tradeBuffer:  make([]Trade, 0, writerConfig.BatchSize),
		flushTicker:  time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second),
		shutdownChan: make(chan struct{}),
	}
	go writer.run()
	logger.Info("Started TimescaleDB batch writer", zap.Int("batchSize", writerConfig.BatchSize))
	return writer, nil
}

// Close flushes buffered trades and closes the pool. It is safe to call twice.
func (w *TimescaleWriter) Close() {
	if w.pool == nil {
		w.logger.Info("Closing dummy DB writer.")
		return
	}
	w.closeOnce.Do(func() {
		w.logger.Info("Closing TimescaleDB writer...")
		close(w.shutdownChan)
		w.flushTicker.Stop()

		w.flushBuffers()

		w.pool.Close()
		w.logger.Info("TimescaleDB connection pool closed")
	})
}

func (w *TimescaleWriter) run() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flushBuffers()
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveTrade adds a trade to the buffer.
func (w *TimescaleWriter) SaveTrade(trade Trade) {
	if w.pool == nil {
		return
	}

	w.bufferMutex.Lock()
	w.tradeBuffer = append(w.tradeBuffer, trade)
	shouldFlush := len(w.tradeBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

func (w *TimescaleWriter) flushBuffers() {
	w.bufferMutex.Lock()
	defer w.bufferMutex.Unlock()

	if len(w.tradeBuffer) > 0 {
		w.batchInsertTrades(context.Background(), w.tradeBuffer)
		w.tradeBuffer = w.tradeBuffer[:0]
	}
}

func (w *TimescaleWriter) batchInsertTrades(ctx context.Context, trades []Trade) {
	w.logger.Debug("Flushing trades", zap.Int("count", len(trades)))
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"trades"},
		tradeColumns,
		pgx.CopyFromRows(toTradeInterfaces(trades)),
	)
	if err != nil {
		w.logger.Error("Failed to batch insert trades", zap.Error(err), zap.Int("count", len(trades)))
	}
}

func toTradeInterfaces(trades []Trade) [][]interface{} {
	rows := make([][]interface{}, len(trades))
	for i, t := range trades {
		rows[i] = []interface{}{
			t.Time, t.TradeID, t.PositionID, t.Symbol, t.Side, t.Strategy, t.EntryTime,
			t.EntryPrice, t.ExitPrice, t.Quantity, t.Fee, t.RealizedPnL, t.ROI, t.Reason, t.Partial,
		}
	}
	return rows
}

// SaveEquitySnapshot stores one reporting snapshot.
func (w *TimescaleWriter) SaveEquitySnapshot(ctx context.Context, snap EquitySnapshot) error {
	if w.pool == nil {
		return nil
	}

	query := `INSERT INTO equity_snapshots (time, balance, equity, unrealized_pnl, daily_change_pct, open_positions, regime, breaker_state)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := w.pool.Exec(ctx, query,
		snap.Time, snap.Balance, snap.Equity, snap.Unrealized,
		snap.DailyChangePct, snap.OpenPositions, snap.Regime, snap.Breaker,
	)
	if err != nil {
		w.logger.Error("Failed to insert equity snapshot", zap.Error(err), zap.Any("snapshot", snap))
		return fmt.Errorf("failed to insert equity snapshot: %w", err)
	}
	return nil
}

// SaveRegimeChange stores one classifier transition.
func (w *TimescaleWriter) SaveRegimeChange(ctx context.Context, change RegimeChange) error {
	if w.pool == nil {
		w.logger.Debug("Skipping regime change save for dummy writer", zap.Any("change", change))
		return nil
	}

	query := `INSERT INTO regime_changes (time, from_state, to_state, reference_price)
	          VALUES ($1, $2, $3, $4)`
	_, err := w.pool.Exec(ctx, query, change.Time, change.From, change.To, change.ReferencePrice)
	if err != nil {
		w.logger.Error("Failed to insert regime change", zap.Error(err), zap.Any("change", change))
		return fmt.Errorf("failed to insert regime change: %w", err)
	}
	return nil
}
