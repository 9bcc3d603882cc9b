package signal

import (
	"github.com/your-org/fortress-bot/internal/indicator"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
)

// MeanReversionParams configures the band-fade scalper.
type MeanReversionParams struct {
	Interval      string
	MinCandles    int
	RSIPeriod     int
	BandPeriod    int
	BandWidth     float64
	Oversold      float64
	Overbought    float64
	ExtremeLow    float64
	ExtremeHigh   float64
	BaseScore     float64
	ExtremeBonus  float64
	TakeProfitPct float64
	StopLossPct   float64
}

// DefaultMeanReversionParams fades 2-sigma band touches on 5m candles with a
// 0.6% target and a 0.4% stop.
func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		Interval:      "5m",
		MinCandles:    50,
		RSIPeriod:     14,
		BandPeriod:    20,
		BandWidth:     2.0,
		Oversold:      30,
		Overbought:    70,
		ExtremeLow:    25,
		ExtremeHigh:   75,
		BaseScore:     85,
		ExtremeBonus:  10,
		TakeProfitPct: 0.6,
		StopLossPct:   0.4,
	}
}

// MeanReversion goes long when price closes on or below the lower Bollinger
// band with RSI oversold, and short on the mirror condition.
type MeanReversion struct {
	p MeanReversionParams
}

// NewMeanReversion creates the scalp source.
func NewMeanReversion(p MeanReversionParams) *MeanReversion {
	return &MeanReversion{p: p}
}

// Strategy implements Source.
func (m *MeanReversion) Strategy() position.Strategy { return position.Scalp }

// Interval implements Source.
func (m *MeanReversion) Interval() string { return m.p.Interval }

// Analyze implements Source.
func (m *MeanReversion) Analyze(history []market.Candle) (*Signal, bool) {
	if len(history) < m.p.MinCandles {
		return nil, false
	}
	closes := market.Closes(history)
	price := closes[len(closes)-1]
	rsi, ok := indicator.RSI(closes, m.p.RSIPeriod)
	if !ok {
		return nil, false
	}
	bands, ok := indicator.Bollinger(closes, m.p.BandPeriod, m.p.BandWidth)
	if !ok {
		return nil, false
	}

	sig := &Signal{EntryPrice: price, Score: m.p.BaseScore, Strategy: position.Scalp}
	tp := m.p.TakeProfitPct / 100
	sl := m.p.StopLossPct / 100
	switch {
	case price <= bands.Lower && rsi < m.p.Oversold:
		sig.Direction = market.Long
		if rsi < m.p.ExtremeLow {
			sig.Score += m.p.ExtremeBonus
		}
		sig.TakeProfit = price * (1 + tp)
		sig.StopLoss = price * (1 - sl)
	case price >= bands.Upper && rsi > m.p.Overbought:
		sig.Direction = market.Short
		if rsi > m.p.ExtremeHigh {
			sig.Score += m.p.ExtremeBonus
		}
		sig.TakeProfit = price * (1 - tp)
		sig.StopLoss = price * (1 + sl)
	default:
		return nil, false
	}
	return sig, true
}
