// Package engine provides the market.Provider implementations: a live engine
// trading on the exchange and a paper engine simulating fills on live prices.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/exchange/binance"
	"github.com/your-org/fortress-bot/internal/market"
)

// DefaultPriceMaxAge is how old a streamed price may be before REST is used.
const DefaultPriceMaxAge = 5 * time.Second

// Exchange is the subset of the REST client the engines need.
type Exchange interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	TopByQuoteVolume(ctx context.Context, quoteAsset string, limit int) ([]string, error)
}

// MarketData serves history, prices and the symbol universe from public
// endpoints. Prices come from the stream cache when fresh, REST otherwise.
type MarketData struct {
	ex         Exchange
	cache      *binance.PriceCache
	quoteAsset string
	maxAge     time.Duration
	now        func() time.Time
}

// NewMarketData creates a MarketData. cache may be nil.
func NewMarketData(ex Exchange, cache *binance.PriceCache, quoteAsset string) *MarketData {
	return &MarketData{
		ex:         ex,
		cache:      cache,
		quoteAsset: quoteAsset,
		maxAge:     DefaultPriceMaxAge,
		now:        time.Now,
	}
}

// History returns up to limit candles, oldest first.
func (m *MarketData) History(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	candles, err := m.ex.Klines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s %s: %w", symbol, interval, err)
	}
	return candles, nil
}

// CurrentPrice returns the latest price or zero with an error.
func (m *MarketData) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if m.cache != nil {
		if p, ok := m.cache.Get(symbol, m.maxAge, m.now()); ok {
			return p, nil
		}
	}
	p, err := m.ex.TickerPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", market.ErrNoPrice, symbol, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", market.ErrNoPrice, symbol)
	}
	return p, nil
}

// TopSymbols returns up to limit symbols by descending 24h quote volume.
func (m *MarketData) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	return m.ex.TopByQuoteVolume(ctx, m.quoteAsset, limit)
}
