// Package supervisor runs the position lifecycle: every tick it marks each
// open position to market and decides whether to hold, close, harvest or
// tighten the stop.
package supervisor

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/pnl"
	"github.com/your-org/fortress-bot/internal/position"
)

// Close reasons.
const (
	ReasonTimeLimit  = "time limit"
	ReasonStopLoss   = "stop loss"
	ReasonTakeProfit = "take profit"
	ReasonStagnation = "stagnation"
	ReasonHarvest    = "harvest"
	ReasonTrailing   = "trailing stop"
	ReasonExternal   = "external close"
)

// Profile is the set of exit thresholds applied to a position. ROI values are
// percentages.
type Profile struct {
	MaxHold             time.Duration
	StagnationAfter     time.Duration
	StagnationMinROI    float64
	StagnationBasis     config.ROIBasis
	HarvestEnabled      bool
	HarvestROI          float64
	HarvestBasis        config.ROIBasis
	HarvestFraction     float64
	TrailingDistancePct float64

	TrailingActivationROI float64
	TrailingDistanceROI   float64
	TrailingBasis         config.ROIBasis
}

// ProfileFrom converts a configured profile.
func ProfileFrom(c config.ProfileConfig) Profile {
	return Profile{
		MaxHold:             c.MaxHold.D(),
		StagnationAfter:     c.StagnationAfter.D(),
		StagnationMinROI:    c.StagnationMinROI,
		StagnationBasis:     c.StagnationBasis,
		HarvestEnabled:      bool(c.HarvestEnabled),
		HarvestROI:          c.HarvestROI,
		HarvestBasis:        c.HarvestBasis,
		HarvestFraction:     c.HarvestFraction,
		TrailingDistancePct: c.TrailingDistancePct,

		TrailingActivationROI: c.TrailingActivationROI,
		TrailingDistanceROI:   c.TrailingDistanceROI,
		TrailingBasis:         c.TrailingBasis,
	}
}

// Action is what a tick decided for one position.
type Action int

const (
	Hold Action = iota
	Close
	PartialClose
	MoveStop
)

func (a Action) String() string {
	switch a {
	case Close:
		return "close"
	case PartialClose:
		return "partial_close"
	case MoveStop:
		return "move_stop"
	default:
		return "hold"
	}
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Action  Action
	Reason  string
	Qty     decimal.Decimal // PartialClose only
	NewStop decimal.Decimal // MoveStop only
	// ROI is the leveraged ROI at the evaluated price.
	ROI float64
}

func roiOn(basis config.ROIBasis, p position.Position, price decimal.Decimal, leverage float64) float64 {
	if basis == config.BasisPrice {
		leverage = 1
	}
	return pnl.ROI(p.Side, p.EntryPrice, price, leverage)
}

// Evaluate applies the exit rules in priority order and returns the first
// that fires: time limit, stop, target, stagnation, harvest, trailing. The
// trailing slot holds the ROI retrace exit and then the stop ratchet.
func Evaluate(p position.Position, price decimal.Decimal, now time.Time, prof Profile, leverage float64) Decision {
	roi := pnl.ROI(p.Side, p.EntryPrice, price, leverage)
	elapsed := p.Elapsed(now)

	if prof.MaxHold > 0 && elapsed > prof.MaxHold {
		return Decision{Action: Close, Reason: ReasonTimeLimit, ROI: roi}
	}
	if p.StopHit(price) {
		return Decision{Action: Close, Reason: ReasonStopLoss, ROI: roi}
	}
	if p.TargetHit(price) {
		return Decision{Action: Close, Reason: ReasonTakeProfit, ROI: roi}
	}
	if prof.StagnationAfter > 0 && elapsed > prof.StagnationAfter &&
		roiOn(prof.StagnationBasis, p, price, leverage) < prof.StagnationMinROI {
		return Decision{Action: Close, Reason: ReasonStagnation, ROI: roi}
	}
	if prof.HarvestEnabled && !p.PartialTaken &&
		roiOn(prof.HarvestBasis, p, price, leverage) >= prof.HarvestROI {
		qty := p.Size.Mul(decimal.NewFromFloat(prof.HarvestFraction))
		if qty.IsPositive() && qty.LessThan(p.Size) {
			return Decision{Action: PartialClose, Reason: ReasonHarvest, Qty: qty, ROI: roi}
		}
	}
	if prof.TrailingActivationROI > 0 {
		// MaxFavorableROI is tracked at the configured leverage.
		best, cur := p.MaxFavorableROI, roi
		if prof.TrailingBasis == config.BasisPrice && leverage > 0 {
			best, cur = best/leverage, roiOn(config.BasisPrice, p, price, leverage)
		}
		if best >= prof.TrailingActivationROI && cur < best-prof.TrailingDistanceROI {
			return Decision{Action: Close, Reason: ReasonTrailing, ROI: roi}
		}
	}
	if p.BreakevenLocked && prof.TrailingDistancePct > 0 {
		best := p.BestPrice
		if best.IsZero() {
			best = price
		}
		dist := decimal.NewFromFloat(prof.TrailingDistancePct).Div(decimal.NewFromInt(100))
		var stop decimal.Decimal
		if p.Side == market.Long {
			stop = best.Mul(decimal.NewFromInt(1).Sub(dist))
		} else {
			stop = best.Mul(decimal.NewFromInt(1).Add(dist))
		}
		if p.Tighter(stop) {
			return Decision{Action: MoveStop, Reason: ReasonTrailing, NewStop: stop, ROI: roi}
		}
	}
	return Decision{Action: Hold, ROI: roi}
}
