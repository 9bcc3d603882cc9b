// Package circuit implements the account-level entry guard.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/pnl"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // Entries allowed
	StateOpen   BreakerState = "open"   // Entries halted after drawdown
	// StateTargetLocked halts entries for the rest of the UTC day after the
	// daily profit target is reached.
	StateTargetLocked BreakerState = "target_locked"
)

// Snapshot is a read-only view of the breaker for reporting.
type Snapshot struct {
	State      BreakerState    `json:"state"`
	DailyStart decimal.Decimal `json:"daily_start"`
	ChangePct  float64         `json:"change_pct"`
	Reason     string          `json:"reason,omitempty"`
	ResumeAt   time.Time       `json:"resume_at,omitempty"`
}

// Breaker halts new entries when the day's equity change crosses the
// drawdown threshold. It never blocks position management.
type Breaker struct {
	cfg        config.BreakerConfig
	state      BreakerState
	dailyStart decimal.Decimal
	day        time.Time
	changePct  float64
	trippedAt  time.Time
	resumeAt   time.Time
	tripReason string
	mu         sync.RWMutex
	onTrip     func(reason string)
	onReset    func()
}

// NewBreaker creates a closed breaker. The daily start balance is taken from
// the first Evaluate call.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed}
}

// OnTrip sets callback for when breaker trips
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Evaluate runs one safety tick against the current equity. Ticks inside an
// active cooldown change nothing; the first tick after it ends resets the
// daily start to the current equity.
func (b *Breaker) Evaluate(equity decimal.Decimal, now time.Time) Snapshot {
	var tripped, reset bool
	var reason string

	b.mu.Lock()
	switch {
	case b.dailyStart.IsZero():
		b.startDay(equity, now)
	case b.state == StateOpen:
		if now.Before(b.resumeAt) {
			snap := b.snapshotLocked()
			b.mu.Unlock()
			return snap
		}
		b.state = StateClosed
		b.tripReason = ""
		b.startDay(equity, now)
		reset = true
	case utcDay(now).After(b.day):
		if b.state == StateTargetLocked {
			b.state = StateClosed
			b.tripReason = ""
			reset = true
		}
		b.startDay(equity, now)
	}

	b.changePct = pnl.ChangePct(b.dailyStart, equity)
	switch {
	case b.changePct <= b.cfg.DrawdownPct:
		b.state = StateOpen
		b.trippedAt = now
		b.resumeAt = now.Add(b.cfg.Cooldown.D())
		b.tripReason = fmt.Sprintf("daily drawdown %.2f%% <= %.2f%%", b.changePct, b.cfg.DrawdownPct)
		reason, tripped = b.tripReason, true
	case b.state == StateClosed && b.cfg.DailyProfitTargetPct > 0 && b.changePct >= b.cfg.DailyProfitTargetPct:
		b.state = StateTargetLocked
		b.trippedAt = now
		b.resumeAt = b.day.Add(24 * time.Hour)
		b.tripReason = fmt.Sprintf("daily profit target %.2f%% >= %.2f%%", b.changePct, b.cfg.DailyProfitTargetPct)
		reason, tripped = b.tripReason, true
	}
	snap := b.snapshotLocked()
	onTrip, onReset := b.onTrip, b.onReset
	b.mu.Unlock()

	if reset && onReset != nil {
		onReset()
	}
	if tripped && onTrip != nil {
		onTrip(reason)
	}
	return snap
}

func (b *Breaker) startDay(equity decimal.Decimal, now time.Time) {
	b.dailyStart = equity
	b.day = utcDay(now)
}

// CanTrade reports whether new entries are allowed at now.
func (b *Breaker) CanTrade(now time.Time) (bool, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == StateClosed || !now.Before(b.resumeAt) {
		return true, ""
	}
	return false, fmt.Sprintf("circuit breaker %s until %s (reason: %s)",
		b.state, b.resumeAt.UTC().Format(time.RFC3339), b.tripReason)
}

// Snapshot returns the current breaker view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() Snapshot {
	s := Snapshot{State: b.state, DailyStart: b.dailyStart, ChangePct: b.changePct, Reason: b.tripReason}
	if b.state != StateClosed {
		s.ResumeAt = b.resumeAt
	}
	return s
}
