// Package orchestrator composes the regime classifier, position supervisor,
// scanner and circuit breaker into independently scheduled loops over one
// shared position ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/your-org/fortress-bot/internal/alert"
	"github.com/your-org/fortress-bot/internal/circuit"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/dbwriter"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/internal/regime"
	"github.com/your-org/fortress-bot/internal/report"
	"github.com/your-org/fortress-bot/internal/risk"
	"github.com/your-org/fortress-bot/internal/scanner"
	"github.com/your-org/fortress-bot/internal/signal"
	"github.com/your-org/fortress-bot/internal/supervisor"
	"github.com/your-org/fortress-bot/pkg/logger"
)

const journalTimeout = 5 * time.Second

// Orchestrator owns the ledger and the loops that read and mutate it.
type Orchestrator struct {
	cfg      *config.Config
	provider market.Provider
	ledger   *position.Ledger
	store    position.Store
	journal  dbwriter.Repository
	notifier alert.Notifier
	sources  map[position.Strategy]signal.Source
	now      func() time.Time

	classifier *regime.Classifier
	breaker    *circuit.Breaker
	supervisor *supervisor.Supervisor
	scanner    *scanner.Scanner

	onRestore func([]position.Position)
	status    atomic.Pointer[report.Status]
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithStore persists the ledger and restores it on Run.
func WithStore(s position.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithJournal records closed trades, equity snapshots and regime changes.
func WithJournal(r dbwriter.Repository) Option {
	return func(o *Orchestrator) { o.journal = r }
}

// WithNotifier sends alerts for breaker trips, full closes and regime changes.
func WithNotifier(n alert.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithSources replaces the default strategy sources.
func WithSources(sources map[position.Strategy]signal.Source) Option {
	return func(o *Orchestrator) { o.sources = sources }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRestoreHook is called with the restored positions before the loops start.
func WithRestoreHook(fn func([]position.Position)) Option {
	return func(o *Orchestrator) { o.onRestore = fn }
}

// New wires the components. cfg must already be validated.
func New(cfg *config.Config, provider market.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		provider: provider,
		ledger:   position.NewLedger(),
		journal:  dbwriter.NewDummyWriter(logger.FromZap(logger.Zap())),
		notifier: alert.NewNoOpNotifier(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sources == nil {
		scalp := signal.DefaultMeanReversionParams()
		scalp.Interval = cfg.Scan.Interval
		o.sources = signal.Sources(scalp, signal.DefaultTrendFollowingParams())
	}

	o.classifier = regime.NewClassifier(cfg.Regime, provider,
		regime.WithClock(o.now),
		regime.WithOnChange(o.regimeChanged),
	)

	o.breaker = circuit.NewBreaker(cfg.CircuitBreaker)
	o.breaker.OnTrip(func(reason string) {
		o.alert("entries suspended: " + reason)
	})
	o.breaker.OnReset(func() {
		logger.Info("orchestrator: circuit breaker reset, entries resumed")
	})

	svOpts := []supervisor.Option{supervisor.WithOnClose(o.positionClosed), supervisor.WithClock(o.now)}
	scOpts := []scanner.Option{scanner.WithOnOpen(o.positionOpened), scanner.WithClock(o.now)}
	if o.store != nil {
		svOpts = append(svOpts, supervisor.WithStore(o.store))
		scOpts = append(scOpts, scanner.WithStore(o.store))
	}
	o.supervisor = supervisor.New(o.ledger, provider, cfg.Supervisor, cfg.Leverage, svOpts...)
	o.scanner = scanner.New(cfg.Scan, cfg.MaxOpenPositions, o.ledger, provider, o.classifier, o.breaker,
		risk.NewSizer(cfg.Risk, cfg.Leverage), o.sources, scOpts...)
	return o
}

// Ledger returns the shared position ledger.
func (o *Orchestrator) Ledger() *position.Ledger { return o.ledger }

// Regime returns the regime currently in force.
func (o *Orchestrator) Regime() regime.State { return o.classifier.Current() }

// Status returns the latest report. ok is false until the first report tick.
func (o *Orchestrator) Status() (report.Status, bool) {
	s := o.status.Load()
	if s == nil {
		return report.Status{}, false
	}
	return *s, true
}

// Run restores the ledger, classifies the regime once and then runs every
// loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.store != nil {
		n, err := o.ledger.Restore(ctx, o.store)
		if err != nil {
			logger.Warnf("orchestrator: restoring positions: %v", err)
		} else if n > 0 {
			logger.Infof("orchestrator: restored %d open positions", n)
		}
	}
	if o.onRestore != nil {
		o.onRestore(o.ledger.Snapshot())
	}

	state := o.classifier.Classify(ctx)
	logger.Infof("orchestrator: starting in regime %s (dry run: %t)", state, bool(o.cfg.DryRun))

	loops := o.cfg.Loops
	var wg sync.WaitGroup
	start := func(name string, interval time.Duration, tick func(context.Context) (time.Duration, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runLoop(ctx, name, interval, tick)
		}()
	}
	start("regime", loops.RegimeInterval.D(), o.regimeTick)
	start("monitor", loops.MonitorInterval.D(), o.monitorTick)
	start("scan", loops.ScanInterval.D(), o.scanTick)
	start("report", loops.ReportInterval.D(), o.reportTick)
	start("safety", loops.SafetyInterval.D(), o.safetyTick)

	wg.Wait()
	logger.Info("orchestrator: all loops stopped")
	return nil
}

// runLoop calls tick until ctx is done. A tick may ask for a custom wait;
// errors and panics are logged and followed by the error backoff.
func (o *Orchestrator) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) (time.Duration, error)) {
	for {
		wait, err := safeTick(ctx, tick)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Errorf("orchestrator: %s tick failed: %v", name, err)
			wait = o.cfg.Loops.ErrorBackoff.D()
		}
		if wait <= 0 {
			wait = interval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func safeTick(ctx context.Context, tick func(context.Context) (time.Duration, error)) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tick(ctx)
}

func (o *Orchestrator) regimeTick(ctx context.Context) (time.Duration, error) {
	o.classifier.Classify(ctx)
	return 0, nil
}

func (o *Orchestrator) monitorTick(ctx context.Context) (time.Duration, error) {
	return 0, o.supervisor.Tick(ctx)
}

func (o *Orchestrator) scanTick(ctx context.Context) (time.Duration, error) {
	res, err := o.scanner.Tick(ctx)
	if errors.Is(err, scanner.ErrRegimeUnknown) {
		logger.Debugf("orchestrator: regime unknown, scan waits %s", o.cfg.Loops.UnknownWait.D())
		return o.cfg.Loops.UnknownWait.D(), nil
	}
	if err != nil {
		return 0, err
	}
	switch {
	case res.Blocked != "":
		logger.Infof("orchestrator: scan skipped: %s", res.Blocked)
	case res.Slots > 0:
		logger.Debugf("orchestrator: scan %s slots=%d evaluated=%d qualified=%d opened=%v",
			res.Regime, res.Slots, res.Evaluated, res.Qualified, res.Opened)
	}
	return 0, nil
}

// snapshot values every open position at the current price. Positions
// without a price count as zero unrealized PnL.
func (o *Orchestrator) snapshot(ctx context.Context) (report.Status, error) {
	balance, err := o.provider.Balance(ctx)
	if err != nil {
		return report.Status{}, fmt.Errorf("balance: %w", err)
	}
	now := o.now()
	positions := o.ledger.Snapshot()
	valued := make([]report.PositionStatus, 0, len(positions))
	for _, p := range positions {
		price, err := o.provider.CurrentPrice(ctx, p.Symbol)
		if err != nil {
			logger.Debugf("orchestrator: no price for %s: %v", p.Symbol, err)
			price = decimal.Zero
		}
		valued = append(valued, report.NewPositionStatus(p, price, o.cfg.Leverage, now))
	}
	s := report.NewStatus(now, balance, valued, o.breaker.Snapshot())
	s.DryRun = bool(o.cfg.DryRun)
	s.Regime = string(o.classifier.Current())
	s.ReferencePrice = o.classifier.Reference()
	return s, nil
}

func (o *Orchestrator) reportTick(ctx context.Context) (time.Duration, error) {
	s, err := o.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	o.status.Store(&s)
	logger.Infof("orchestrator: status %s", s.Summary())

	snap := dbwriter.EquitySnapshot{
		Time:           s.Time,
		Balance:        s.Balance.InexactFloat64(),
		Equity:         s.Equity.InexactFloat64(),
		Unrealized:     s.Unrealized.InexactFloat64(),
		DailyChangePct: s.DailyChangePct,
		OpenPositions:  len(s.Positions),
		Regime:         s.Regime,
		Breaker:        string(s.Breaker.State),
	}
	if err := o.journal.SaveEquitySnapshot(ctx, snap); err != nil {
		logger.Warnf("orchestrator: journaling equity snapshot: %v", err)
	}
	return 0, nil
}

func (o *Orchestrator) safetyTick(ctx context.Context) (time.Duration, error) {
	s, err := o.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	snap := o.breaker.Evaluate(s.Equity, s.Time)
	logger.Debugf("orchestrator: safety equity=%s daily=%+.2f%% breaker=%s",
		s.Equity.StringFixed(2), snap.ChangePct, snap.State)
	return 0, nil
}

func (o *Orchestrator) regimeChanged(c regime.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	rc := dbwriter.RegimeChange{Time: c.At, From: string(c.From), To: string(c.To), ReferencePrice: c.Reference}
	if err := o.journal.SaveRegimeChange(ctx, rc); err != nil {
		logger.Warnf("orchestrator: journaling regime change: %v", err)
	}
	if c.From != regime.Unknown {
		o.alert(fmt.Sprintf("regime %s -> %s", c.From, c.To))
	}
}

func (o *Orchestrator) positionOpened(_ context.Context, p position.Position, _ market.Fill) {
	o.alert(fmt.Sprintf("opened %s %s [%s] size=%s entry=%s stop=%s target=%s",
		p.Symbol, p.Side, p.Strategy, p.Size, p.EntryPrice, p.StopPrice, p.TargetPrice))
}

func (o *Orchestrator) positionClosed(_ context.Context, ev supervisor.CloseEvent) {
	o.journal.SaveTrade(tradeFromClose(ev, o.now()))
	if ev.Partial {
		return
	}
	o.alert(fmt.Sprintf("closed %s %s [%s] %s roi=%+.2f%% pnl=%s",
		ev.Position.Symbol, ev.Position.Side, ev.Position.Strategy, ev.Reason, ev.ROI, ev.Fill.RealizedPnL.StringFixed(4)))
}

func (o *Orchestrator) alert(msg string) {
	if err := o.notifier.Send(msg); err != nil {
		logger.Warnf("orchestrator: alert not sent: %v", err)
	}
}

func tradeFromClose(ev supervisor.CloseEvent, now time.Time) dbwriter.Trade {
	p := ev.Position
	at := ev.Fill.Time
	if at.IsZero() {
		at = now
	}
	qty := ev.Fill.Quantity
	if !qty.IsPositive() {
		qty = p.Size
	}
	return dbwriter.Trade{
		Time:        at,
		TradeID:     uuid.NewString(),
		PositionID:  p.ID.String(),
		Symbol:      p.Symbol,
		Side:        string(p.Side),
		Strategy:    string(p.Strategy),
		EntryTime:   p.EntryTime,
		EntryPrice:  p.EntryPrice.InexactFloat64(),
		ExitPrice:   ev.Fill.Price.InexactFloat64(),
		Quantity:    qty.InexactFloat64(),
		Fee:         ev.Fill.Fee.InexactFloat64(),
		RealizedPnL: ev.Fill.RealizedPnL.InexactFloat64(),
		ROI:         ev.ROI,
		Reason:      ev.Reason,
		Partial:     ev.Partial,
	}
}
