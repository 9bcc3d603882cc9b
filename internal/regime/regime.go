// Package regime classifies the market into the state that selects which
// strategy is allowed to open positions.
package regime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/indicator"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// State is the process-wide regime.
type State string

const (
	Unknown      State = "UNKNOWN"
	TrendingUp   State = "TRENDING_UP"
	TrendingDown State = "TRENDING_DOWN"
	Ranging      State = "RANGING"
	ScalpWindow  State = "SCALP_WINDOW"
	TrendWindow  State = "TREND_WINDOW"
)

// Mode returns the strategy allowed to open positions in this state.
func (s State) Mode() position.Strategy {
	switch s {
	case TrendingUp, TrendingDown, TrendWindow:
		return position.Trend
	case Ranging, ScalpWindow:
		return position.Scalp
	default:
		return position.Unknown
	}
}

// HistorySource is the slice of the market provider the classifier needs.
type HistorySource interface {
	History(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// Change describes a regime transition.
type Change struct {
	From      State
	To        State
	Reference float64
	At        time.Time
}

type reading struct {
	state State
	ref   float64
	at    time.Time
}

// Classifier owns the regime state. Readers call Current from any goroutine;
// only Classify writes, and it swaps the whole reading at once.
type Classifier struct {
	cfg      config.RegimeConfig
	data     HistorySource
	now      func() time.Time
	onChange func(Change)
	current  atomic.Pointer[reading]
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithOnChange registers a callback invoked after every state transition.
func WithOnChange(fn func(Change)) Option {
	return func(c *Classifier) { c.onChange = fn }
}

// NewClassifier creates a classifier starting in Unknown.
func NewClassifier(cfg config.RegimeConfig, data HistorySource, opts ...Option) *Classifier {
	c := &Classifier{cfg: cfg, data: data, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&reading{state: Unknown})
	return c
}

// Current returns the latest classified state.
func (c *Classifier) Current() State {
	return c.current.Load().state
}

// Reference returns the last reference price used by trend-proxy mode.
func (c *Classifier) Reference() float64 {
	return c.current.Load().ref
}

// Classify recomputes the regime and returns the state now in force. Fetch
// errors and short history keep the previous state.
func (c *Classifier) Classify(ctx context.Context) State {
	prev := c.current.Load()
	now := c.now().UTC()

	next := &reading{state: prev.state, ref: prev.ref, at: now}
	switch c.cfg.Mode {
	case config.RegimeModeClock:
		next.state = Clock(now, c.cfg.ScalpStartHour, c.cfg.ScalpEndHour)
	default:
		candles, err := c.data.History(ctx, c.cfg.ReferenceSymbol, c.cfg.Interval, c.cfg.HistoryLimit)
		if err != nil {
			logger.Warnf("regime: fetching %s history failed, keeping %s: %v", c.cfg.ReferenceSymbol, prev.state, err)
			return prev.state
		}
		if len(candles) < c.cfg.MinHistory {
			logger.Warnf("regime: only %d candles for %s (need %d), keeping %s", len(candles), c.cfg.ReferenceSymbol, c.cfg.MinHistory, prev.state)
			return prev.state
		}
		closes := market.Closes(candles)
		state, ok := TrendProxy(closes, c.cfg.FastEMA, c.cfg.SlowEMA)
		if !ok {
			return prev.state
		}
		next.state = state
		next.ref = closes[len(closes)-1]
	}

	c.current.Store(next)
	if next.state != prev.state {
		logger.Infof("regime: %s -> %s (ref %s %.2f)", prev.state, next.state, c.cfg.ReferenceSymbol, next.ref)
		if c.onChange != nil {
			c.onChange(Change{From: prev.state, To: next.state, Reference: next.ref, At: now})
		}
	}
	return next.state
}

// TrendProxy compares the last close with its fast and slow EMAs.
func TrendProxy(closes []float64, fast, slow int) (State, bool) {
	if len(closes) == 0 {
		return Unknown, false
	}
	f, ok := indicator.EMA(closes, fast)
	if !ok {
		return Unknown, false
	}
	s, ok := indicator.EMA(closes, slow)
	if !ok {
		return Unknown, false
	}
	last := closes[len(closes)-1]
	switch {
	case last > f && last > s:
		return TrendingUp, true
	case last < f && last < s:
		return TrendingDown, true
	default:
		return Ranging, true
	}
}

// Clock maps the UTC hour of t into the scalp window [start, end) or the
// trend window.
func Clock(t time.Time, start, end int) State {
	h := t.UTC().Hour()
	if h >= start && h < end {
		return ScalpWindow
	}
	return TrendWindow
}
