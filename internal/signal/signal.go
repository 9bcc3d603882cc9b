// Package signal provides the strategy signal sources consumed by the scanner.
package signal

import (
	"fmt"

	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
)

// Signal is a trade proposal produced fresh on each scan.
type Signal struct {
	Symbol     string
	Direction  market.Side
	Score      float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Strategy   position.Strategy
}

// String returns a compact description for logs.
func (s Signal) String() string {
	return fmt.Sprintf("%s %s %s score=%.0f entry=%.6g sl=%.6g tp=%.6g",
		s.Strategy, s.Symbol, s.Direction, s.Score, s.EntryPrice, s.StopLoss, s.TakeProfit)
}

// Source analyzes price history for one strategy. Analyze must not retain or
// mutate its input.
type Source interface {
	Strategy() position.Strategy
	// Interval is the kline interval the source expects, e.g. "5m".
	Interval() string
	Analyze(history []market.Candle) (*Signal, bool)
}

// Sources returns the eagerly constructed source for each tradable strategy.
func Sources(scalp MeanReversionParams, trend TrendFollowingParams) map[position.Strategy]Source {
	return map[position.Strategy]Source{
		position.Scalp: NewMeanReversion(scalp),
		position.Trend: NewTrendFollowing(trend),
	}
}
