package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/pnl"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// Provider is the part of the market provider the supervisor calls.
type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	ClosePosition(ctx context.Context, symbol, reason string, qty decimal.Decimal) (market.Fill, error)
}

// CloseEvent reports a committed full or partial close.
type CloseEvent struct {
	Position position.Position // state before the close
	Fill     market.Fill
	Reason   string
	Partial  bool
	ROI      float64
}

// Supervisor manages every ledger entry once per Tick.
type Supervisor struct {
	ledger   *position.Ledger
	provider Provider
	profiles map[position.Strategy]Profile
	leverage float64
	store    position.Store
	onClose  func(context.Context, CloseEvent)
	now      func() time.Time
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithStore persists every committed mutation.
func WithStore(s position.Store) Option {
	return func(sv *Supervisor) { sv.store = s }
}

// WithOnClose registers a callback run after each committed close.
func WithOnClose(fn func(context.Context, CloseEvent)) Option {
	return func(sv *Supervisor) { sv.onClose = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(sv *Supervisor) { sv.now = now }
}

// New creates a supervisor with the scalp and trend profiles.
func New(ledger *position.Ledger, provider Provider, cfg config.SupervisorConfig, leverage float64, opts ...Option) *Supervisor {
	sv := &Supervisor{
		ledger:   ledger,
		provider: provider,
		profiles: map[position.Strategy]Profile{
			position.Scalp: ProfileFrom(cfg.Scalp),
			position.Trend: ProfileFrom(cfg.Trend),
		},
		leverage: leverage,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// ProfileFor returns the profile fixed by the position's strategy tag.
// Positions without a known tag are managed with the trend profile.
func (sv *Supervisor) ProfileFor(tag position.Strategy) Profile {
	if p, ok := sv.profiles[tag]; ok {
		return p
	}
	return sv.profiles[position.Trend]
}

// Tick evaluates every open position once. Per-position failures are logged
// and the position is retried on the next tick; only cancellation is returned.
func (sv *Supervisor) Tick(ctx context.Context) error {
	for _, symbol := range sv.ledger.Symbols() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sv.manage(ctx, symbol); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Warnf("supervisor: %s: %v", symbol, err)
		}
	}
	return nil
}

func (sv *Supervisor) manage(ctx context.Context, symbol string) error {
	price, err := sv.provider.CurrentPrice(ctx, symbol)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return market.ErrNoPrice
	}

	pos, err := sv.ledger.Update(symbol, func(p *position.Position) error {
		p.Observe(price, pnl.ROI(p.Side, p.EntryPrice, price, sv.leverage))
		return nil
	})
	if errors.Is(err, position.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	d := Evaluate(pos, price, sv.now(), sv.ProfileFor(pos.Strategy), sv.leverage)
	switch d.Action {
	case Close:
		return sv.closeFull(ctx, pos, d, price)
	case PartialClose:
		return sv.harvest(ctx, pos, d, price)
	case MoveStop:
		return sv.trail(ctx, pos, d)
	}
	return nil
}

func (sv *Supervisor) closeFull(ctx context.Context, pos position.Position, d Decision, price decimal.Decimal) error {
	fill, err := sv.provider.ClosePosition(ctx, pos.Symbol, d.Reason, decimal.Zero)
	if errors.Is(err, market.ErrUnknownPosition) {
		sv.dropExternal(ctx, pos, d, price, err)
		return nil
	}
	if err != nil {
		return err
	}
	sv.ledger.Remove(pos.Symbol)
	logger.Infof("supervisor: closed %s %s (%s) roi=%.2f%% pnl=%s", pos.Symbol, pos.Side, d.Reason, d.ROI, fill.RealizedPnL.StringFixed(4))
	sv.forget(ctx, pos.Symbol)
	sv.emit(ctx, CloseEvent{Position: pos, Fill: fill, Reason: d.Reason, ROI: d.ROI})
	return nil
}

// dropExternal removes an entry the provider no longer holds, e.g. after a
// liquidation or a manual close on the exchange. The realized PnL is unknown.
func (sv *Supervisor) dropExternal(ctx context.Context, pos position.Position, d Decision, price decimal.Decimal, cause error) {
	if _, ok := sv.ledger.Remove(pos.Symbol); !ok {
		return
	}
	logger.Warnf("supervisor: %s %s is gone on the exchange (%v), dropping it from the ledger", pos.Symbol, pos.Side, cause)
	sv.forget(ctx, pos.Symbol)
	sv.emit(ctx, CloseEvent{
		Position: pos,
		Fill:     market.Fill{Symbol: pos.Symbol, Side: pos.Side, Price: price, Quantity: pos.Size, Time: sv.now()},
		Reason:   ReasonExternal,
		ROI:      d.ROI,
	})
}

func (sv *Supervisor) harvest(ctx context.Context, pos position.Position, d Decision, price decimal.Decimal) error {
	fill, err := sv.provider.ClosePosition(ctx, pos.Symbol, d.Reason, d.Qty)
	if errors.Is(err, market.ErrUnknownPosition) {
		sv.dropExternal(ctx, pos, d, price, err)
		return nil
	}
	if err != nil {
		return err
	}
	qty := d.Qty
	if fill.Quantity.IsPositive() && fill.Quantity.LessThan(pos.Size) {
		qty = fill.Quantity
	}
	next, err := sv.ledger.Update(pos.Symbol, func(p *position.Position) error {
		return p.Harvest(qty)
	})
	if err != nil {
		// The exchange already reduced the position.
		logger.Errorf("supervisor: harvested %s of %s but ledger update failed: %v", qty, pos.Symbol, err)
		return err
	}
	logger.Infof("supervisor: harvested %s %s of %s at roi=%.2f%%, stop -> %s", pos.Symbol, qty, pos.Size, d.ROI, next.StopPrice)
	sv.persist(ctx, next)
	sv.emit(ctx, CloseEvent{Position: pos, Fill: fill, Reason: d.Reason, Partial: true, ROI: d.ROI})
	return nil
}

func (sv *Supervisor) trail(ctx context.Context, pos position.Position, d Decision) error {
	next, err := sv.ledger.Update(pos.Symbol, func(p *position.Position) error {
		p.MoveStop(d.NewStop)
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debugf("supervisor: trailing %s stop %s -> %s", pos.Symbol, pos.StopPrice, next.StopPrice)
	sv.persist(ctx, next)
	return nil
}

func (sv *Supervisor) forget(ctx context.Context, symbol string) {
	if sv.store == nil {
		return
	}
	if err := sv.store.Delete(ctx, symbol); err != nil {
		logger.Warnf("supervisor: deleting persisted %s: %v", symbol, err)
	}
}

func (sv *Supervisor) persist(ctx context.Context, p position.Position) {
	if sv.store == nil {
		return
	}
	if err := sv.store.Save(ctx, p); err != nil {
		logger.Warnf("supervisor: persisting %s: %v", p.Symbol, err)
	}
}

func (sv *Supervisor) emit(ctx context.Context, ev CloseEvent) {
	if sv.onClose != nil {
		sv.onClose(ctx, ev)
	}
}
