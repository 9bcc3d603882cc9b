// Package market defines the contract between the orchestrator and whatever
// supplies market data and executes orders (a live exchange or the paper engine).
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	// Long profits when the price rises.
	Long Side = "LONG"
	// Short profits when the price falls.
	Short Side = "SHORT"
)

// Valid reports whether s is Long or Short.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Opposite returns the closing direction.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Closes extracts the close prices of a candle series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// OpenRequest asks the provider to open a position of QuoteSize notional.
type OpenRequest struct {
	Symbol    string
	Side      Side
	QuoteSize decimal.Decimal
	Stop      decimal.Decimal
	Target    decimal.Decimal
}

// Fill reports an executed open or close.
type Fill struct {
	ID       string
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fee      decimal.Decimal
	Time     time.Time
	// RealizedPnL is filled in for closes only.
	RealizedPnL decimal.Decimal
}

// ErrNoPrice is returned when no usable price is available for a symbol.
var ErrNoPrice = errors.New("no price available")

// ErrUnknownPosition is returned when closing a symbol the provider holds no position for.
var ErrUnknownPosition = errors.New("no open position for symbol")

// DataProvider is the read side: history, prices, balance and the candidate universe.
type DataProvider interface {
	History(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// CurrentPrice returns zero together with an error when no price is known.
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	// TopSymbols returns up to limit symbols ordered by descending quote volume.
	TopSymbols(ctx context.Context, limit int) ([]string, error)
}

// Executor is the write side.
type Executor interface {
	OpenPosition(ctx context.Context, req OpenRequest) (Fill, error)
	// ClosePosition closes qty of the symbol's position, or all of it when qty is zero.
	ClosePosition(ctx context.Context, symbol, reason string, qty decimal.Decimal) (Fill, error)
}

// Provider is the full MarketDataProvider consumed by the orchestrator.
type Provider interface {
	DataProvider
	Executor
}
