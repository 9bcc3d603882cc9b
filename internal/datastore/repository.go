// Package datastore reads the trade journal back for reporting.
package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/your-org/fortress-bot/internal/report"
)

// TradeSource is anything that can return journaled trades.
type TradeSource interface {
	FetchTrades(ctx context.Context, since time.Time) ([]report.Trade, error)
}

// Querier abstracts pgxpool.Pool for testability.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// TimescaleRepository reads the journal tables.
type TimescaleRepository struct {
	db Querier
}

// NewTimescaleRepository creates a new TimescaleRepository.
func NewTimescaleRepository(db Querier) *TimescaleRepository {
	return &TimescaleRepository{db: db}
}

const fetchTradesQuery = `
        SELECT time, entry_time, symbol, side, strategy, realized_pnl, fee, reason, partial
        FROM trades
        WHERE time >= $1
        ORDER BY time ASC;
    `

// FetchTrades returns every journaled close at or after since, oldest first.
func (r *TimescaleRepository) FetchTrades(ctx context.Context, since time.Time) ([]report.Trade, error) {
	rows, err := r.db.Query(ctx, fetchTradesQuery, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []report.Trade
	for rows.Next() {
		var (
			t        report.Trade
			pnl, fee float64
		)
		if err := rows.Scan(&t.Time, &t.EntryTime, &t.Symbol, &t.Side, &t.Strategy, &pnl, &fee, &t.Reason, &t.Partial); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.RealizedPnL = decimal.NewFromFloat(pnl)
		t.Fee = decimal.NewFromFloat(fee)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// EquityPoint is one row of the equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// FetchEquityCurve returns the equity snapshots at or after since, oldest first.
func (r *TimescaleRepository) FetchEquityCurve(ctx context.Context, since time.Time) ([]EquityPoint, error) {
	rows, err := r.db.Query(ctx, `SELECT time, equity FROM equity_snapshots WHERE time >= $1 ORDER BY time ASC;`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Time, &p.Equity); err != nil {
			return nil, fmt.Errorf("failed to scan equity snapshot: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
