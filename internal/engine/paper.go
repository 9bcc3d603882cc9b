package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/internal/pnl"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// quantityPlaces is the precision of simulated base quantities.
const quantityPlaces = 8

type paperPosition struct {
	side  market.Side
	entry decimal.Decimal
	qty   decimal.Decimal
}

// PaperExecutionEngine simulates fills at the current market price. Fees are
// charged at the taker rate on both legs and realized PnL is booked into the
// wallet balance on close.
type PaperExecutionEngine struct {
	*MarketData
	takerFee decimal.Decimal
	now      func() time.Time

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]paperPosition
	pnl       *pnl.Calculator
}

// NewPaperExecutionEngine creates a paper engine with an initial wallet balance.
func NewPaperExecutionEngine(data *MarketData, initialBalance, takerFee float64) *PaperExecutionEngine {
	return &PaperExecutionEngine{
		MarketData: data,
		takerFee:   decimal.NewFromFloat(takerFee),
		now:        time.Now,
		balance:    decimal.NewFromFloat(initialBalance),
		positions:  make(map[string]paperPosition),
		pnl:        pnl.NewCalculator(),
	}
}

// Balance returns the simulated wallet balance.
func (e *PaperExecutionEngine) Balance(context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

// Realized returns the realized PnL statistics of all closes so far.
func (e *PaperExecutionEngine) Realized() (total decimal.Decimal, trades, wins int) {
	return e.pnl.Realized()
}

// OpenPosition fills the whole quote size at the current price.
func (e *PaperExecutionEngine) OpenPosition(ctx context.Context, req market.OpenRequest) (market.Fill, error) {
	if !req.Side.Valid() {
		return market.Fill{}, fmt.Errorf("invalid side %q", req.Side)
	}
	if !req.QuoteSize.IsPositive() {
		return market.Fill{}, fmt.Errorf("quote size must be positive, got %s", req.QuoteSize)
	}
	price, err := e.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return market.Fill{}, err
	}
	qty := req.QuoteSize.DivRound(price, quantityPlaces)
	if !qty.IsPositive() {
		return market.Fill{}, fmt.Errorf("order quantity for %s rounds to zero", req.Symbol)
	}
	fee := price.Mul(qty).Mul(e.takerFee)

	e.mu.Lock()
	if _, exists := e.positions[req.Symbol]; exists {
		e.mu.Unlock()
		return market.Fill{}, fmt.Errorf("paper position already open for %s", req.Symbol)
	}
	e.positions[req.Symbol] = paperPosition{side: req.Side, entry: price, qty: qty}
	e.balance = e.balance.Sub(fee)
	e.mu.Unlock()

	fill := market.Fill{
		ID:       uuid.NewString(),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: qty,
		Fee:      fee,
		Time:     e.now().UTC(),
	}
	logger.Infof("[Paper] Opened %s %s qty=%s @ %s (fee %s)", fill.Side, fill.Symbol, qty, price, fee.StringFixed(4))
	return fill, nil
}

// ClosePosition closes qty, or everything when qty is zero, at the current
// price and books the realized PnL net of fees.
func (e *PaperExecutionEngine) ClosePosition(ctx context.Context, symbol, reason string, qty decimal.Decimal) (market.Fill, error) {
	e.mu.Lock()
	_, ok := e.positions[symbol]
	e.mu.Unlock()
	if !ok {
		return market.Fill{}, fmt.Errorf("%w: %s", market.ErrUnknownPosition, symbol)
	}

	price, err := e.CurrentPrice(ctx, symbol)
	if err != nil {
		return market.Fill{}, err
	}

	e.mu.Lock()
	pos, ok := e.positions[symbol]
	if !ok {
		e.mu.Unlock()
		return market.Fill{}, fmt.Errorf("%w: %s", market.ErrUnknownPosition, symbol)
	}
	if !qty.IsPositive() || qty.GreaterThan(pos.qty) {
		qty = pos.qty
	}
	gross := pnl.Unrealized(pos.side, pos.entry, price, qty)
	fee := price.Mul(qty).Mul(e.takerFee)
	realized := gross.Sub(fee)
	e.balance = e.balance.Add(realized)
	if remaining := pos.qty.Sub(qty); remaining.IsPositive() {
		pos.qty = remaining
		e.positions[symbol] = pos
	} else {
		delete(e.positions, symbol)
	}
	balance := e.balance
	e.mu.Unlock()

	e.pnl.AddRealized(realized)
	logger.Infof("[Paper] Closed %s %s qty=%s @ %s (%s): pnl=%s balance=%s",
		pos.side, symbol, qty, price, reason, realized.StringFixed(4), balance.StringFixed(2))

	return market.Fill{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        pos.side,
		Price:       price,
		Quantity:    qty,
		Fee:         fee,
		Time:        e.now().UTC(),
		RealizedPnL: realized,
	}, nil
}

// Holding returns the simulated quantity held for symbol.
func (e *PaperExecutionEngine) Holding(symbol string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[symbol].qty
}

// Adopt registers an existing position, used when a restored ledger is
// resumed in dry-run mode.
func (e *PaperExecutionEngine) Adopt(symbol string, side market.Side, entry, qty decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = paperPosition{side: side, entry: entry, qty: qty}
}
