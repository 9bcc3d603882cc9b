package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/exchange/binance"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// LiveExchange is the REST surface used for real orders.
type LiveExchange interface {
	Exchange
	Balance(ctx context.Context, asset string) (binance.AssetBalance, error)
	Position(ctx context.Context, symbol string) (binance.PositionRisk, error)
	MarketOrder(ctx context.Context, req binance.OrderRequest) (*binance.OrderResponse, error)
	StepSize(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LiveExecutionEngine places market orders on the exchange.
type LiveExecutionEngine struct {
	*MarketData
	client   LiveExchange
	takerFee decimal.Decimal
}

// NewLiveExecutionEngine creates a new LiveExecutionEngine.
func NewLiveExecutionEngine(client LiveExchange, cache *binance.PriceCache, quoteAsset string, takerFee float64) *LiveExecutionEngine {
	return &LiveExecutionEngine{
		MarketData: NewMarketData(client, cache, quoteAsset),
		client:     client,
		takerFee:   decimal.NewFromFloat(takerFee),
	}
}

// Balance returns the futures wallet balance of the quote asset.
func (e *LiveExecutionEngine) Balance(ctx context.Context) (decimal.Decimal, error) {
	b, err := e.client.Balance(ctx, e.quoteAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return b.Balance, nil
}

func orderSide(s market.Side) string {
	if s == market.Long {
		return "BUY"
	}
	return "SELL"
}

// OpenPosition converts the quote size to a base quantity at the current
// price, rounds it to the symbol's step size and sends a market order.
func (e *LiveExecutionEngine) OpenPosition(ctx context.Context, req market.OpenRequest) (market.Fill, error) {
	if !req.Side.Valid() {
		return market.Fill{}, fmt.Errorf("invalid side %q", req.Side)
	}
	price, err := e.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return market.Fill{}, err
	}
	step, err := e.client.StepSize(ctx, req.Symbol)
	if err != nil {
		return market.Fill{}, fmt.Errorf("failed to get step size for %s: %w", req.Symbol, err)
	}
	qty := binance.RoundStep(req.QuoteSize.Div(price), step)
	if !qty.IsPositive() {
		return market.Fill{}, fmt.Errorf("order quantity for %s rounds to zero (quote %s at %s)", req.Symbol, req.QuoteSize, price)
	}

	logger.Infof("[Live] Opening %s %s qty=%s (~%s quote)", req.Side, req.Symbol, qty, req.QuoteSize.StringFixed(2))
	resp, err := e.client.MarketOrder(ctx, binance.OrderRequest{Symbol: req.Symbol, Side: orderSide(req.Side), Quantity: qty})
	if err != nil {
		logger.Errorf("[Live] Error placing order: %v", err)
		return market.Fill{}, err
	}
	fill := e.fill(resp, req.Symbol, req.Side, price, qty)
	logger.Infof("[Live] Order filled: %s %s qty=%s @ %s", fill.Side, fill.Symbol, fill.Quantity, fill.Price)
	return fill, nil
}

// ClosePosition sends a reduce-only market order for qty, or for the whole
// exchange position when qty is zero.
func (e *LiveExecutionEngine) ClosePosition(ctx context.Context, symbol, reason string, qty decimal.Decimal) (market.Fill, error) {
	risk, err := e.client.Position(ctx, symbol)
	if err != nil {
		return market.Fill{}, err
	}
	held := risk.PositionAmt.Abs()
	side := market.Long
	if risk.PositionAmt.IsNegative() {
		side = market.Short
	}
	if !qty.IsPositive() || qty.GreaterThan(held) {
		qty = held
	}
	if step, err := e.client.StepSize(ctx, symbol); err == nil && qty.LessThan(held) {
		qty = binance.RoundStep(qty, step)
	}
	if !qty.IsPositive() {
		return market.Fill{}, fmt.Errorf("close quantity for %s rounds to zero", symbol)
	}

	logger.Infof("[Live] Closing %s %s qty=%s (%s)", side, symbol, qty, reason)
	resp, err := e.client.MarketOrder(ctx, binance.OrderRequest{
		Symbol:     symbol,
		Side:       orderSide(side.Opposite()),
		Quantity:   qty,
		ReduceOnly: true,
	})
	if err != nil {
		logger.Errorf("[Live] Error closing position: %v", err)
		return market.Fill{}, err
	}
	fill := e.fill(resp, symbol, side, risk.MarkPrice, qty)
	gross := fill.Price.Sub(risk.EntryPrice).Mul(fill.Quantity)
	if side == market.Short {
		gross = gross.Neg()
	}
	fill.RealizedPnL = gross.Sub(fill.Fee)
	return fill, nil
}

// fill builds a Fill from an order response, falling back to the requested
// values when the exchange reports none.
func (e *LiveExecutionEngine) fill(resp *binance.OrderResponse, symbol string, side market.Side, price, qty decimal.Decimal) market.Fill {
	if resp == nil {
		resp = &binance.OrderResponse{}
	}
	if resp.AvgPrice.IsPositive() {
		price = resp.AvgPrice
	}
	if resp.ExecutedQty.IsPositive() {
		qty = resp.ExecutedQty
	}
	at := time.Now().UTC()
	if resp.UpdateTime > 0 {
		at = time.UnixMilli(resp.UpdateTime).UTC()
	}
	return market.Fill{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Fee:      price.Mul(qty).Mul(e.takerFee),
		Time:     at,
	}
}
