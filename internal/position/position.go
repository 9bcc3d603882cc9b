// Package position holds the open-position model and the shared ledger.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/market"
)

// Strategy tags the strategy that opened a position. It selects the
// supervision profile for the lifetime of the position.
type Strategy string

const (
	Scalp   Strategy = "SCALP"
	Trend   Strategy = "TREND"
	Unknown Strategy = "UNKNOWN"
)

// ParseStrategy maps a stored tag back to a Strategy. Anything unrecognised
// becomes Unknown.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case Scalp, Trend:
		return Strategy(s)
	default:
		return Unknown
	}
}

// ErrInvalidPosition is returned when a position would violate its invariants.
var ErrInvalidPosition = errors.New("invalid position")

// Position holds the state of one open trade.
type Position struct {
	ID           uuid.UUID       `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         market.Side     `json:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	Size         decimal.Decimal `json:"size"`
	OriginalSize decimal.Decimal `json:"original_size"`
	EntryTime    time.Time       `json:"entry_time"`
	Strategy     Strategy        `json:"strategy"`

	// MaxFavorableROI is the best ROI seen, in percent. It never decreases.
	MaxFavorableROI float64         `json:"max_favorable_roi"`
	BestPrice       decimal.Decimal `json:"best_price"`
	PartialTaken    bool            `json:"partial_taken"`
	BreakevenLocked bool            `json:"breakeven_locked"`
}

// New creates a validated position. stop and target may be zero when the
// strategy does not define them; otherwise they must sit on the correct side
// of entry.
func New(symbol string, side market.Side, entry, stop, target, size decimal.Decimal, tag Strategy, at time.Time) (Position, error) {
	p := Position{
		ID:           uuid.New(),
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   entry,
		StopPrice:    stop,
		TargetPrice:  target,
		Size:         size,
		OriginalSize: size,
		EntryTime:    at,
		Strategy:     tag,
		BestPrice:    entry,
	}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

// Validate checks the invariants that must hold while the position is open.
func (p Position) Validate() error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidPosition)
	case !p.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidPosition, p.Side)
	case !p.EntryPrice.IsPositive():
		return fmt.Errorf("%w: entry price %s", ErrInvalidPosition, p.EntryPrice)
	case !p.Size.IsPositive():
		return fmt.Errorf("%w: size %s", ErrInvalidPosition, p.Size)
	case p.Size.GreaterThan(p.OriginalSize):
		return fmt.Errorf("%w: size %s above original %s", ErrInvalidPosition, p.Size, p.OriginalSize)
	case p.PartialTaken && !p.Size.LessThan(p.OriginalSize):
		return fmt.Errorf("%w: partial taken without reduction", ErrInvalidPosition)
	}
	if !p.BreakevenLocked && !p.StopPrice.IsZero() && !p.adverse(p.StopPrice) {
		return fmt.Errorf("%w: stop %s on wrong side of entry %s", ErrInvalidPosition, p.StopPrice, p.EntryPrice)
	}
	if p.BreakevenLocked && p.adverse(p.StopPrice) {
		return fmt.Errorf("%w: breakeven locked with stop %s worse than entry", ErrInvalidPosition, p.StopPrice)
	}
	if !p.TargetPrice.IsZero() && !p.favorable(p.TargetPrice) {
		return fmt.Errorf("%w: target %s on wrong side of entry %s", ErrInvalidPosition, p.TargetPrice, p.EntryPrice)
	}
	return nil
}

// favorable reports whether price is strictly better than entry for the holder.
func (p Position) favorable(price decimal.Decimal) bool {
	if p.Side == market.Long {
		return price.GreaterThan(p.EntryPrice)
	}
	return price.LessThan(p.EntryPrice)
}

func (p Position) adverse(price decimal.Decimal) bool {
	if p.Side == market.Long {
		return price.LessThan(p.EntryPrice)
	}
	return price.GreaterThan(p.EntryPrice)
}

// StopHit reports whether price has reached the stop.
func (p Position) StopHit(price decimal.Decimal) bool {
	if p.StopPrice.IsZero() {
		return false
	}
	if p.Side == market.Long {
		return price.LessThanOrEqual(p.StopPrice)
	}
	return price.GreaterThanOrEqual(p.StopPrice)
}

// TargetHit reports whether price has reached the target.
func (p Position) TargetHit(price decimal.Decimal) bool {
	if p.TargetPrice.IsZero() {
		return false
	}
	if p.Side == market.Long {
		return price.GreaterThanOrEqual(p.TargetPrice)
	}
	return price.LessThanOrEqual(p.TargetPrice)
}

// Observe records a new price and its ROI. MaxFavorableROI and BestPrice only
// ever improve.
func (p *Position) Observe(price decimal.Decimal, roi float64) {
	if roi > p.MaxFavorableROI {
		p.MaxFavorableROI = roi
	}
	if p.BestPrice.IsZero() {
		p.BestPrice = p.EntryPrice
	}
	if p.Side == market.Long && price.GreaterThan(p.BestPrice) ||
		p.Side == market.Short && price.LessThan(p.BestPrice) {
		p.BestPrice = price
	}
}

// Tighter reports whether stop is strictly more protective than the current one.
func (p Position) Tighter(stop decimal.Decimal) bool {
	if p.StopPrice.IsZero() {
		return true
	}
	if p.Side == market.Long {
		return stop.GreaterThan(p.StopPrice)
	}
	return stop.LessThan(p.StopPrice)
}

// MoveStop tightens the stop. A looser stop is ignored and false is returned.
func (p *Position) MoveStop(stop decimal.Decimal) bool {
	if !p.Tighter(stop) {
		return false
	}
	p.StopPrice = stop
	return true
}

// Harvest records a partial close of qty: the size shrinks, the stop moves to
// entry (or stays where it is if already better) and the breakeven flags flip.
func (p *Position) Harvest(qty decimal.Decimal) error {
	rest := p.Size.Sub(qty)
	if !qty.IsPositive() || !rest.IsPositive() {
		return fmt.Errorf("%w: harvest %s of %s", ErrInvalidPosition, qty, p.Size)
	}
	p.Size = rest
	p.PartialTaken = true
	p.BreakevenLocked = true
	p.MoveStop(p.EntryPrice)
	return nil
}

// Elapsed is the holding time at now.
func (p Position) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// String returns a string representation of the position.
func (p Position) String() string {
	return fmt.Sprintf("Position{%s %s %s size=%s entry=%s stop=%s target=%s}",
		p.Symbol, p.Side, p.Strategy, p.Size, p.EntryPrice, p.StopPrice, p.TargetPrice)
}
