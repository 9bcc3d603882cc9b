// Package scanner finds and opens new positions while slots are free.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/internal/regime"
	"github.com/your-org/fortress-bot/internal/risk"
	"github.com/your-org/fortress-bot/internal/signal"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// ErrRegimeUnknown is returned by Tick while no regime has been classified.
var ErrRegimeUnknown = errors.New("regime not classified yet")

// Provider is the part of the market provider the scanner calls.
type Provider interface {
	market.DataProvider
	OpenPosition(ctx context.Context, req market.OpenRequest) (market.Fill, error)
	ClosePosition(ctx context.Context, symbol, reason string, qty decimal.Decimal) (market.Fill, error)
}

// RegimeReader exposes the current regime.
type RegimeReader interface {
	Current() regime.State
}

// Gate decides whether entries are allowed.
type Gate interface {
	CanTrade(now time.Time) (bool, string)
}

// Result summarises one scan tick.
type Result struct {
	Regime    regime.State
	Slots     int
	Evaluated int
	Qualified int
	Opened    []string
	Blocked   string
}

// Scanner is the slot-gated entry loop body.
type Scanner struct {
	cfg          config.ScanConfig
	maxPositions int
	ledger       *position.Ledger
	provider     Provider
	regime       RegimeReader
	gate         Gate
	sizer        *risk.Sizer
	sources      map[position.Strategy]signal.Source
	blacklist    map[string]struct{}
	store        position.Store
	onOpen       func(context.Context, position.Position, market.Fill)
	now          func() time.Time
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithStore persists every inserted position.
func WithStore(s position.Store) Option {
	return func(sc *Scanner) { sc.store = s }
}

// WithOnOpen registers a callback run after each committed open.
func WithOnOpen(fn func(context.Context, position.Position, market.Fill)) Option {
	return func(sc *Scanner) { sc.onOpen = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(sc *Scanner) { sc.now = now }
}

// New creates a scanner.
func New(cfg config.ScanConfig, maxPositions int, ledger *position.Ledger, provider Provider, rr RegimeReader, gate Gate,
	sizer *risk.Sizer, sources map[position.Strategy]signal.Source, opts ...Option) *Scanner {
	bl := make(map[string]struct{}, len(cfg.Blacklist))
	for _, s := range cfg.Blacklist {
		bl[s] = struct{}{}
	}
	sc := &Scanner{
		cfg:          cfg,
		maxPositions: maxPositions,
		ledger:       ledger,
		provider:     provider,
		regime:       rr,
		gate:         gate,
		sizer:        sizer,
		sources:      sources,
		blacklist:    bl,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

type candidate struct {
	symbol string
	sig    *signal.Signal
}

// Tick runs one scan. It returns ErrRegimeUnknown before the first
// classification so the caller can wait instead of backing off.
func (sc *Scanner) Tick(ctx context.Context) (Result, error) {
	state := sc.regime.Current()
	res := Result{Regime: state}
	mode := state.Mode()
	if mode == position.Unknown {
		return res, ErrRegimeUnknown
	}
	if ok, why := sc.gate.CanTrade(sc.now()); !ok {
		res.Blocked = why
		return res, nil
	}
	res.Slots = sc.maxPositions - sc.ledger.Count()
	if res.Slots <= 0 {
		return res, nil
	}

	symbols, err := sc.provider.TopSymbols(ctx, sc.cfg.TopN)
	if err != nil {
		return res, fmt.Errorf("top symbols: %w", err)
	}
	var cands []string
	for _, s := range symbols {
		if _, banned := sc.blacklist[s]; banned || sc.ledger.Contains(s) {
			continue
		}
		cands = append(cands, s)
	}
	res.Evaluated = len(cands)

	found, err := sc.evaluate(ctx, cands, mode)
	if err != nil {
		return res, err
	}
	res.Qualified = len(found)
	if len(found) == 0 {
		return res, nil
	}

	balance, err := sc.provider.Balance(ctx)
	if err != nil {
		return res, fmt.Errorf("balance: %w", err)
	}
	available := balance
	for _, p := range sc.ledger.Snapshot() {
		available = available.Sub(sc.sizer.Margin(p.EntryPrice.Mul(p.Size)))
	}
	slots := res.Slots
	for _, c := range found {
		if slots <= 0 {
			break
		}
		if sc.ledger.Contains(c.symbol) {
			continue
		}
		margin, err := sc.open(ctx, c, balance, available)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			logger.Warnf("scanner: %s skipped: %v", c.symbol, err)
			continue
		}
		available = available.Sub(margin)
		slots--
		res.Opened = append(res.Opened, c.symbol)
	}
	return res, nil
}

// evaluate analyses candidates in parallel. Each worker writes only its own
// slot of the result slice, so candidate order is preserved.
func (sc *Scanner) evaluate(ctx context.Context, cands []string, mode position.Strategy) ([]candidate, error) {
	primary := sc.sources[mode]
	var secondary signal.Source
	if sc.cfg.OverrideScore > 0 {
		for tag, src := range sc.sources {
			if tag != mode {
				secondary = src
			}
		}
	}

	results := make([]*signal.Signal, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	workers := sc.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, symbol := range cands {
		i, symbol := i, symbol
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig, err := sc.analyze(gctx, symbol, primary, secondary)
			if err != nil {
				logger.Debugf("scanner: %s evaluation failed: %v", symbol, err)
				return nil
			}
			results[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []candidate
	for i, sig := range results {
		if sig != nil {
			out = append(out, candidate{symbol: cands[i], sig: sig})
		}
	}
	return out, nil
}

func (sc *Scanner) analyze(ctx context.Context, symbol string, primary, secondary signal.Source) (*signal.Signal, error) {
	histories := map[string][]market.Candle{}
	history := func(interval string) ([]market.Candle, error) {
		if h, ok := histories[interval]; ok {
			return h, nil
		}
		h, err := sc.provider.History(ctx, symbol, interval, sc.cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		histories[interval] = h
		return h, nil
	}

	if primary != nil {
		h, err := history(primary.Interval())
		if err != nil {
			return nil, err
		}
		if sig, ok := primary.Analyze(h); ok && sig.Score >= sc.cfg.MinScore {
			sig.Symbol = symbol
			return sig, nil
		}
	}
	if secondary != nil {
		h, err := history(secondary.Interval())
		if err != nil {
			return nil, err
		}
		if sig, ok := secondary.Analyze(h); ok && sig.Score >= sc.cfg.OverrideScore {
			sig.Symbol = symbol
			return sig, nil
		}
	}
	return nil, nil
}

// open sizes and executes one candidate and records it in the ledger. It
// returns the margin committed.
func (sc *Scanner) open(ctx context.Context, c candidate, balance, available decimal.Decimal) (decimal.Decimal, error) {
	sig := c.sig
	// Sized under the profile the position will be supervised with, which
	// differs from the regime's only for override entries.
	quote, err := sc.sizer.Size(*sig, balance, sig.Strategy)
	if err != nil {
		return decimal.Zero, err
	}
	if err := sc.sizer.Affordable(quote, available); err != nil {
		return decimal.Zero, err
	}

	req := market.OpenRequest{
		Symbol:    c.symbol,
		Side:      sig.Direction,
		QuoteSize: quote,
		Stop:      decimal.NewFromFloat(sig.StopLoss),
		Target:    decimal.NewFromFloat(sig.TakeProfit),
	}
	fill, err := sc.provider.OpenPosition(ctx, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("open: %w", err)
	}

	entry := fill.Price
	if !entry.IsPositive() {
		entry = decimal.NewFromFloat(sig.EntryPrice)
	}
	size := fill.Quantity
	if !size.IsPositive() {
		size = quote.Div(entry)
	}
	at := fill.Time
	if at.IsZero() {
		at = sc.now()
	}
	pos, err := position.New(c.symbol, sig.Direction, entry, req.Stop, req.Target, size, sig.Strategy, at)
	if err == nil {
		err = sc.ledger.Insert(pos)
	}
	if err != nil {
		// The exchange holds a position the ledger cannot track; flatten it.
		if _, cerr := sc.provider.ClosePosition(ctx, c.symbol, "rejected", decimal.Zero); cerr != nil {
			logger.Errorf("scanner: %s is open but untracked and could not be closed: %v", c.symbol, cerr)
		}
		return decimal.Zero, err
	}

	logger.Infof("scanner: opened %s quote=%s entry=%s", sig, quote.StringFixed(2), entry)
	if sc.store != nil {
		if err := sc.store.Save(ctx, pos); err != nil {
			logger.Warnf("scanner: persisting %s: %v", c.symbol, err)
		}
	}
	if sc.onOpen != nil {
		sc.onOpen(ctx, pos, fill)
	}
	return sc.sizer.Margin(quote), nil
}
