package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/fortress-bot/internal/alert"
	"github.com/your-org/fortress-bot/internal/circuit"
	"github.com/your-org/fortress-bot/internal/config"
	"github.com/your-org/fortress-bot/internal/dbwriter"
	"github.com/your-org/fortress-bot/internal/engine"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/position"
	"github.com/your-org/fortress-bot/internal/regime"
	"github.com/your-org/fortress-bot/internal/signal"
	"github.com/your-org/fortress-bot/internal/supervisor"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	klinesErr error
}

func (f *fakeExchange) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = d(price)
}

func (f *fakeExchange) Klines(context.Context, string, string, int) ([]market.Candle, error) {
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	return []market.Candle{{Close: 100}}, nil
}

func (f *fakeExchange) TickerPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

func (f *fakeExchange) TopByQuoteVolume(context.Context, string, int) ([]string, error) {
	return []string{"ETHUSDT"}, nil
}

type stubSource struct {
	tag position.Strategy
	sig *signal.Signal
}

func (s stubSource) Strategy() position.Strategy { return s.tag }
func (s stubSource) Interval() string            { return "5m" }

func (s stubSource) Analyze([]market.Candle) (*signal.Signal, bool) {
	if s.sig == nil {
		return nil, false
	}
	c := *s.sig
	return &c, true
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]position.Position
}

func (m *memStore) Save(_ context.Context, p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[p.Symbol] = p
	return nil
}

func (m *memStore) Delete(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, symbol)
	return nil
}

func (m *memStore) LoadAll(context.Context) ([]position.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []position.Position
	for _, p := range m.saved {
		out = append(out, p)
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		DryRun:           true,
		Leverage:         1,
		MaxOpenPositions: 2,
		Loops: config.LoopConfig{
			ErrorBackoff: config.Duration(time.Millisecond),
			UnknownWait:  config.Duration(7 * time.Second),
		},
		Regime: config.RegimeConfig{
			Mode:            config.RegimeModeClock,
			ReferenceSymbol: "BTCUSDT",
			ScalpStartHour:  0,
			ScalpEndHour:    24,
		},
		Scan: config.ScanConfig{TopN: 5, Interval: "5m", HistoryLimit: 10, Workers: 2, MinScore: 80},
		Risk: config.RiskConfig{
			MinNotional: 6,
			Scalp:       config.SizingConf{RiskFraction: 0.01, MaxExposureFraction: 0.1},
			Trend:       config.SizingConf{RiskFraction: 0.02, MaxExposureFraction: 0.2},
		},
		Supervisor: config.SupervisorConfig{
			Scalp: config.ProfileConfig{MaxHold: config.Duration(time.Hour), StagnationBasis: config.BasisLeveraged, HarvestBasis: config.BasisPrice},
			Trend: config.ProfileConfig{MaxHold: config.Duration(48 * time.Hour), StagnationBasis: config.BasisLeveraged, HarvestBasis: config.BasisPrice},
		},
		CircuitBreaker: config.BreakerConfig{DrawdownPct: -1, Cooldown: config.Duration(24 * time.Hour)},
	}
}

type harness struct {
	o       *Orchestrator
	ex      *fakeExchange
	paper   *engine.PaperExecutionEngine
	journal *dbwriter.InMemWriter
	alerts  *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg *config.Config, sig *signal.Signal, opts ...Option) *harness {
	t.Helper()
	ex := &fakeExchange{prices: map[string]decimal.Decimal{"ETHUSDT": d("100"), "BTCUSDT": d("60000")}}
	paper := engine.NewPaperExecutionEngine(engine.NewMarketData(ex, nil, "USDT"), 1000, 0)
	core, logs := observer.New(zap.WarnLevel)
	journal := dbwriter.NewInMemWriter()
	sources := map[position.Strategy]signal.Source{
		position.Scalp: stubSource{tag: position.Scalp, sig: sig},
		position.Trend: stubSource{tag: position.Trend},
	}
	opts = append([]Option{
		WithJournal(journal),
		WithNotifier(alert.NewLogNotifier(zap.New(core))),
		WithSources(sources),
	}, opts...)
	return &harness{o: New(cfg, paper, opts...), ex: ex, paper: paper, journal: journal, alerts: logs}
}

func scalpLong() *signal.Signal {
	return &signal.Signal{
		Direction:  market.Long,
		Score:      90,
		EntryPrice: 100,
		StopLoss:   99.6,
		TakeProfit: 100.6,
		Strategy:   position.Scalp,
	}
}

func TestOrchestrator_OpenThenTakeProfit(t *testing.T) {
	h := newHarness(t, testConfig(), scalpLong())
	ctx := context.Background()

	require.Equal(t, regime.ScalpWindow, h.o.classifier.Classify(ctx))
	_, err := h.o.scanTick(ctx)
	require.NoError(t, err)

	pos, ok := h.o.Ledger().Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, position.Scalp, pos.Strategy)
	assert.True(t, pos.Size.Equal(d("1")), "100 USDT at price 100")
	assert.True(t, h.paper.Holding("ETHUSDT").Equal(d("1")))

	h.ex.set("ETHUSDT", "100.6")
	_, err = h.o.monitorTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, h.o.Ledger().Count())
	trades := h.journal.SavedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, supervisor.ReasonTakeProfit, trades[0].Reason)
	assert.Equal(t, "SCALP", trades[0].Strategy)
	assert.InDelta(t, 0.6, trades[0].RealizedPnL, 1e-9)
	assert.NotEmpty(t, trades[0].TradeID)
	assert.Equal(t, pos.ID.String(), trades[0].PositionID)

	require.Equal(t, 2, h.alerts.Len(), "one alert for the open and one for the close")
	assert.Contains(t, h.alerts.All()[1].ContextMap()["message"], "take profit")
}

func TestOrchestrator_ScanWaitsWhileRegimeUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.Regime = config.RegimeConfig{Mode: config.RegimeModeTrendProxy, ReferenceSymbol: "BTCUSDT", Interval: "1h", MinHistory: 50, FastEMA: 50, SlowEMA: 200}
	h := newHarness(t, cfg, scalpLong())
	h.ex.klinesErr = errors.New("timeout")

	assert.Equal(t, regime.Unknown, h.o.classifier.Classify(context.Background()))
	wait, err := h.o.scanTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, wait)
	assert.Equal(t, 0, h.o.Ledger().Count())
}

func TestOrchestrator_SafetyTripBlocksEntriesOnly(t *testing.T) {
	h := newHarness(t, testConfig(), scalpLong())
	ctx := context.Background()
	h.o.classifier.Classify(ctx)

	_, err := h.o.safetyTick(ctx)
	require.NoError(t, err)
	assert.True(t, h.o.breaker.Snapshot().DailyStart.Equal(d("1000")))

	_, err = h.o.scanTick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.o.Ledger().Count())

	// 1 ETH down 15 is -1.5% of the account; the stop at 99.6 has not been managed yet.
	h.ex.set("ETHUSDT", "85")
	_, err = h.o.safetyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, circuit.StateOpen, h.o.breaker.Snapshot().State)

	ok, _ := h.o.breaker.CanTrade(time.Now())
	assert.False(t, ok)

	// The supervisor still manages the open position.
	_, err = h.o.monitorTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.o.Ledger().Count())
	require.Len(t, h.journal.SavedTrades(), 1)
	assert.Equal(t, supervisor.ReasonStopLoss, h.journal.SavedTrades()[0].Reason)

	// Further safety ticks inside the cooldown keep the trip time.
	resume := h.o.breaker.Snapshot().ResumeAt
	_, err = h.o.safetyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, resume, h.o.breaker.Snapshot().ResumeAt)
}

func TestOrchestrator_ReportTickPublishesStatus(t *testing.T) {
	h := newHarness(t, testConfig(), scalpLong())
	ctx := context.Background()

	_, ok := h.o.Status()
	assert.False(t, ok)

	h.o.classifier.Classify(ctx)
	_, err := h.o.scanTick(ctx)
	require.NoError(t, err)
	h.ex.set("ETHUSDT", "100.2")

	_, err = h.o.reportTick(ctx)
	require.NoError(t, err)

	s, ok := h.o.Status()
	require.True(t, ok)
	assert.True(t, s.DryRun)
	assert.Equal(t, string(regime.ScalpWindow), s.Regime)
	require.Len(t, s.Positions, 1)
	assert.True(t, s.Unrealized.Equal(d("0.2")))
	assert.True(t, s.Equity.Equal(d("1000.2")))

	snaps := h.journal.SavedEquitySnapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].OpenPositions)
	assert.InDelta(t, 1000.2, snaps[0].Equity, 1e-9)
}

func TestOrchestrator_RunLoopSurvivesPanicsAndErrors(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h.o.runLoop(ctx, "test", time.Millisecond, func(context.Context) (time.Duration, error) {
		calls++
		switch calls {
		case 1:
			panic("boom")
		case 2:
			return 0, errors.New("transient")
		default:
			cancel()
			return 0, nil
		}
	})
	assert.Equal(t, 3, calls)
}

func TestOrchestrator_RunRestoresLedgerAndStops(t *testing.T) {
	restored, err := position.New("SOLUSDT", market.Long, d("100"), d("90"), d("120"), d("2"), position.Trend, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	store := &memStore{saved: map[string]position.Position{"SOLUSDT": restored}}

	var h *harness
	var hooked []position.Position
	h = newHarness(t, testConfig(), nil,
		WithStore(store),
		WithRestoreHook(func(ps []position.Position) {
			hooked = ps
			for _, p := range ps {
				h.paper.Adopt(p.Symbol, p.Side, p.EntryPrice, p.Size)
			}
		}),
	)
	h.ex.set("SOLUSDT", "101")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.o.Run(ctx))

	require.Len(t, hooked, 1)
	assert.Equal(t, "SOLUSDT", hooked[0].Symbol)
	assert.True(t, h.o.Ledger().Contains("SOLUSDT"))
	assert.True(t, h.paper.Holding("SOLUSDT").Equal(d("2")))
	assert.Equal(t, regime.ScalpWindow, h.o.Regime())
	changes := h.journal.SavedRegimeChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, string(regime.Unknown), changes[0].From)
}
