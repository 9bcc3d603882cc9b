// Package risk converts a signal and the account balance into a position size.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/internal/signal"
)

var (
	ErrZeroStopDistance    = errors.New("stop distance is zero")
	ErrNoBalance           = errors.New("balance is not positive")
	ErrInsufficientBalance = errors.New("insufficient balance for size")
	ErrUnknownStrategy     = errors.New("no sizing for strategy")
)

// Sizer applies the per-strategy risk fraction and exposure cap.
type Sizer struct {
	cfg      config.RiskConfig
	leverage decimal.Decimal
}

// NewSizer creates a sizer. leverage below 1 is treated as 1.
func NewSizer(cfg config.RiskConfig, leverage float64) *Sizer {
	if leverage < 1 {
		leverage = 1
	}
	return &Sizer{cfg: cfg, leverage: decimal.NewFromFloat(leverage)}
}

func (s *Sizer) pair(tag position.Strategy) (config.SizingConf, error) {
	switch tag {
	case position.Scalp:
		return s.cfg.Scalp, nil
	case position.Trend:
		return s.cfg.Trend, nil
	default:
		return config.SizingConf{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, tag)
	}
}

// Size returns the quote notional to open:
// balance*riskFraction / (|entry-stop|/entry), clamped to
// balance*maxExposureFraction and raised to the minimum notional.
func (s *Sizer) Size(sig signal.Signal, balance decimal.Decimal, tag position.Strategy) (decimal.Decimal, error) {
	if !balance.IsPositive() {
		return decimal.Zero, ErrNoBalance
	}
	pair, err := s.pair(tag)
	if err != nil {
		return decimal.Zero, err
	}
	entry := decimal.NewFromFloat(sig.EntryPrice)
	stop := decimal.NewFromFloat(sig.StopLoss)
	if !entry.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: entry %s", ErrZeroStopDistance, entry)
	}
	distance := entry.Sub(stop).Abs().Div(entry)
	if distance.IsZero() {
		return decimal.Zero, ErrZeroStopDistance
	}

	riskAmount := balance.Mul(decimal.NewFromFloat(pair.RiskFraction))
	quote := riskAmount.Div(distance)

	maxQuote := balance.Mul(decimal.NewFromFloat(pair.MaxExposureFraction))
	if quote.GreaterThan(maxQuote) {
		quote = maxQuote
	}
	if floor := decimal.NewFromFloat(s.cfg.MinNotional); quote.LessThan(floor) {
		quote = floor
	}
	return quote, nil
}

// Margin is the balance a quote notional ties up at the configured leverage.
func (s *Sizer) Margin(quote decimal.Decimal) decimal.Decimal {
	return quote.Div(s.leverage)
}

// Affordable fails when the margin for quote exceeds the available balance.
func (s *Sizer) Affordable(quote, available decimal.Decimal) error {
	if m := s.Margin(quote); m.GreaterThan(available) {
		return fmt.Errorf("%w: margin %s > available %s", ErrInsufficientBalance, m.StringFixed(2), available.StringFixed(2))
	}
	return nil
}
