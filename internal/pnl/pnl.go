// Package pnl holds the ROI and profit arithmetic shared by the supervisor,
// the execution engines and reporting.
package pnl

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/market"
)

var hundred = decimal.NewFromInt(100)

// PriceMove returns the signed fractional move from entry to price for the
// holder: (p-e)/e for a long, (e-p)/e for a short.
func PriceMove(side market.Side, entry, price decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	move := price.Sub(entry).Div(entry)
	if side == market.Short {
		return move.Neg()
	}
	return move
}

// ROI returns the return on investment in percent. Leverage multiplies the
// ROI only; a leverage below 1 is treated as unleveraged.
func ROI(side market.Side, entry, price decimal.Decimal, leverage float64) float64 {
	if leverage < 1 {
		leverage = 1
	}
	roi := PriceMove(side, entry, price).Mul(hundred).Mul(decimal.NewFromFloat(leverage))
	return roi.InexactFloat64()
}

// Unrealized returns the mark-to-market profit of size units.
func Unrealized(side market.Side, entry, price, size decimal.Decimal) decimal.Decimal {
	diff := price.Sub(entry)
	if side == market.Short {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}

// Equity is the balance plus every open position's unrealized PnL.
func Equity(balance decimal.Decimal, unrealized ...decimal.Decimal) decimal.Decimal {
	return balance.Add(decimal.Sum(decimal.Zero, unrealized...))
}

// ChangePct returns (now-start)/start in percent, or zero when start is not positive.
func ChangePct(start, now decimal.Decimal) float64 {
	if !start.IsPositive() {
		return 0
	}
	return now.Sub(start).Div(start).Mul(hundred).InexactFloat64()
}

// Calculator accumulates realized PnL across closes.
type Calculator struct {
	realized decimal.Decimal
	trades   int
	wins     int
	mutex    sync.RWMutex
}

// NewCalculator creates a new PnL Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// AddRealized records the realized PnL of one close.
func (c *Calculator) AddRealized(pnl decimal.Decimal) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.realized = c.realized.Add(pnl)
	c.trades++
	if pnl.IsPositive() {
		c.wins++
	}
}

// Realized returns the total realized PnL and the trade and win counts.
func (c *Calculator) Realized() (total decimal.Decimal, trades, wins int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.realized, c.trades, c.wins
}
