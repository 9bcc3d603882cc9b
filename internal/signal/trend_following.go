package signal

import (
	"math"

	"github.com/your-org/fortress-bot/internal/indicator"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
)

// TrendFollowingParams configures the breakout trend source.
type TrendFollowingParams struct {
	Interval       string
	FastEMA        int
	SlowEMA        int
	BreakoutWindow int
	VolWindow      int
	// StopVolMultiple sets the stop this many realized-volatility units away.
	StopVolMultiple float64
	MinStopPct      float64
	RewardRisk      float64
	BaseScore       float64
	// SeparationWeight adds score per percent of EMA separation, capped at MaxScore.
	SeparationWeight float64
	MaxScore         float64
}

// DefaultTrendFollowingParams trades 1h breakouts in the direction of the
// 20/50 EMA stack.
func DefaultTrendFollowingParams() TrendFollowingParams {
	return TrendFollowingParams{
		Interval:         "1h",
		FastEMA:          20,
		SlowEMA:          50,
		BreakoutWindow:   20,
		VolWindow:        48,
		StopVolMultiple:  2,
		MinStopPct:       0.5,
		RewardRisk:       3,
		BaseScore:        75,
		SeparationWeight: 5,
		MaxScore:         100,
	}
}

// TrendFollowing goes long when the close breaks above the prior window's
// highest close with close > fast EMA > slow EMA, and short on the mirror.
type TrendFollowing struct {
	p TrendFollowingParams
}

// NewTrendFollowing creates the trend source.
func NewTrendFollowing(p TrendFollowingParams) *TrendFollowing {
	return &TrendFollowing{p: p}
}

// Strategy implements Source.
func (t *TrendFollowing) Strategy() position.Strategy { return position.Trend }

// Interval implements Source.
func (t *TrendFollowing) Interval() string { return t.p.Interval }

// Analyze implements Source.
func (t *TrendFollowing) Analyze(history []market.Candle) (*Signal, bool) {
	need := max(t.p.SlowEMA, t.p.BreakoutWindow+1, t.p.VolWindow+1)
	if len(history) < need {
		return nil, false
	}
	closes := market.Closes(history)
	price := closes[len(closes)-1]
	fast, _ := indicator.EMA(closes, t.p.FastEMA)
	slow, _ := indicator.EMA(closes, t.p.SlowEMA)
	if slow == 0 {
		return nil, false
	}

	prior := closes[len(closes)-1-t.p.BreakoutWindow : len(closes)-1]
	hi, lo := prior[0], prior[0]
	for _, c := range prior[1:] {
		hi = math.Max(hi, c)
		lo = math.Min(lo, c)
	}

	var dir market.Side
	switch {
	case price > hi && price > fast && fast > slow:
		dir = market.Long
	case price < lo && price < fast && fast < slow:
		dir = market.Short
	default:
		return nil, false
	}

	vol := indicator.CalculateRealizedVolatility(closes[len(closes)-1-t.p.VolWindow:])
	stopPct := math.Max(vol*t.p.StopVolMultiple, t.p.MinStopPct/100)
	sep := math.Abs(fast-slow) / slow * 100
	score := math.Min(t.p.MaxScore, t.p.BaseScore+sep*t.p.SeparationWeight)

	sig := &Signal{Direction: dir, Score: score, EntryPrice: price, Strategy: position.Trend}
	if dir == market.Long {
		sig.StopLoss = price * (1 - stopPct)
		sig.TakeProfit = price * (1 + stopPct*t.p.RewardRisk)
	} else {
		sig.StopLoss = price * (1 + stopPct)
		sig.TakeProfit = price * (1 - stopPct*t.p.RewardRisk)
		if sig.TakeProfit <= 0 {
			return nil, false
		}
	}
	return sig, true
}
