package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/fortress-bot/internal/circuit"
	"github.com/your-org/fortress-bot/internal/pnl"
	"github.com/your-org/fortress-bot/internal/position"
)

// PositionStatus is one open position as shown in a status report.
type PositionStatus struct {
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Strategy        string          `json:"strategy"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	StopPrice       decimal.Decimal `json:"stop_price"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	Size            decimal.Decimal `json:"size"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	ROI             float64         `json:"roi_pct"`
	Held            string          `json:"held"`
	PartialTaken    bool            `json:"partial_taken"`
	BreakevenLocked bool            `json:"breakeven_locked"`
	PriceMissing    bool            `json:"price_missing,omitempty"`
}

// NewPositionStatus values p at price. A non-positive price leaves PnL and
// ROI at zero and marks the price as missing.
func NewPositionStatus(p position.Position, price decimal.Decimal, leverage float64, now time.Time) PositionStatus {
	ps := PositionStatus{
		Symbol:          p.Symbol,
		Side:            string(p.Side),
		Strategy:        string(p.Strategy),
		EntryPrice:      p.EntryPrice,
		CurrentPrice:    price,
		StopPrice:       p.StopPrice,
		TargetPrice:     p.TargetPrice,
		Size:            p.Size,
		Held:            p.Elapsed(now).Truncate(time.Second).String(),
		PartialTaken:    p.PartialTaken,
		BreakevenLocked: p.BreakevenLocked,
	}
	if !price.IsPositive() {
		ps.PriceMissing = true
		return ps
	}
	ps.UnrealizedPnL = pnl.Unrealized(p.Side, p.EntryPrice, price, p.Size)
	ps.ROI = pnl.ROI(p.Side, p.EntryPrice, price, leverage)
	return ps
}

// Status is the periodic account snapshot.
type Status struct {
	Time           time.Time        `json:"time"`
	DryRun         bool             `json:"dry_run"`
	Balance        decimal.Decimal  `json:"balance"`
	Unrealized     decimal.Decimal  `json:"unrealized_pnl"`
	Equity         decimal.Decimal  `json:"equity"`
	DailyStart     decimal.Decimal  `json:"daily_start"`
	DailyChangePct float64          `json:"daily_change_pct"`
	Regime         string           `json:"regime"`
	ReferencePrice float64          `json:"reference_price"`
	Breaker        circuit.Snapshot `json:"circuit_breaker"`
	Positions      []PositionStatus `json:"positions"`
}

// NewStatus assembles a status from the balance and the valued positions.
// Equity is balance plus the unrealized PnL of every priced position.
func NewStatus(now time.Time, balance decimal.Decimal, positions []PositionStatus, breaker circuit.Snapshot) Status {
	var unrealized []decimal.Decimal
	for _, p := range positions {
		unrealized = append(unrealized, p.UnrealizedPnL)
	}
	equity := pnl.Equity(balance, unrealized...)
	s := Status{
		Time:       now.UTC(),
		Balance:    balance,
		Unrealized: equity.Sub(balance),
		Equity:     equity,
		DailyStart: breaker.DailyStart,
		Breaker:    breaker,
		Positions:  positions,
	}
	if s.Positions == nil {
		s.Positions = []PositionStatus{}
	}
	if breaker.DailyStart.IsPositive() {
		s.DailyChangePct = pnl.ChangePct(breaker.DailyStart, equity)
	}
	return s
}

// Summary renders the status as a multi-line log message.
func (s Status) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "equity=%s balance=%s unrealized=%s daily=%+.2f%% regime=%s breaker=%s open=%d",
		s.Equity.StringFixed(2), s.Balance.StringFixed(2), s.Unrealized.StringFixed(2),
		s.DailyChangePct, s.Regime, s.Breaker.State, len(s.Positions))
	for _, p := range s.Positions {
		if p.PriceMissing {
			fmt.Fprintf(&b, "\n  %s %s [%s] no price, held %s", p.Symbol, p.Side, p.Strategy, p.Held)
			continue
		}
		fmt.Fprintf(&b, "\n  %s %s [%s] entry=%s now=%s roi=%+.2f%% pnl=%s held %s",
			p.Symbol, p.Side, p.Strategy, p.EntryPrice, p.CurrentPrice, p.ROI, p.UnrealizedPnL.StringFixed(4), p.Held)
	}
	return b.String()
}
