package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/fortress-bot/internal/exchange/binance"
	"github.com/your-org/fortress-bot/internal/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExchange serves prices from a map.
type fakeExchange struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{prices: map[string]decimal.Decimal{}}
}

func (f *fakeExchange) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = d(price)
}

func (f *fakeExchange) Klines(context.Context, string, string, int) ([]market.Candle, error) {
	return []market.Candle{{Close: 1}}, nil
}

func (f *fakeExchange) TickerPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

func (f *fakeExchange) TopByQuoteVolume(context.Context, string, int) ([]string, error) {
	return []string{"BTCUSDT"}, nil
}

func TestMarketData_CurrentPricePrefersFreshCache(t *testing.T) {
	ex := newFakeExchange()
	ex.set("BTCUSDT", "60000")
	cache := binance.NewPriceCache()
	md := NewMarketData(ex, cache, "USDT")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	md.now = func() time.Time { return now }

	cache.Set("BTCUSDT", d("60100"), now.Add(-time.Second))
	p, err := md.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "60100", p.String())
	assert.Equal(t, 0, ex.calls)

	now = now.Add(time.Minute)
	p, err = md.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "60000", p.String(), "stale cache falls back to REST")
	assert.Equal(t, 1, ex.calls)
}

func TestMarketData_NoPrice(t *testing.T) {
	ex := newFakeExchange()
	ex.set("ZEROUSDT", "0")
	md := NewMarketData(ex, nil, "USDT")

	p, err := md.CurrentPrice(context.Background(), "MISSINGUSDT")
	assert.ErrorIs(t, err, market.ErrNoPrice)
	assert.True(t, p.IsZero())

	_, err = md.CurrentPrice(context.Background(), "ZEROUSDT")
	assert.ErrorIs(t, err, market.ErrNoPrice)
}

func TestPaperEngine_OpenCloseRoundTrip(t *testing.T) {
	ex := newFakeExchange()
	ex.set("ETHUSDT", "2000")
	eng := NewPaperExecutionEngine(NewMarketData(ex, nil, "USDT"), 1000, 0.0005)
	ctx := context.Background()

	open, err := eng.OpenPosition(ctx, market.OpenRequest{Symbol: "ETHUSDT", Side: market.Long, QuoteSize: d("200")})
	require.NoError(t, err)
	assert.Equal(t, "0.1", open.Quantity.String())
	assert.Equal(t, "0.1", open.Fee.String())
	assert.NotEmpty(t, open.ID)

	bal, _ := eng.Balance(ctx)
	assert.Equal(t, "999.9", bal.String(), "opening fee is charged")

	_, err = eng.OpenPosition(ctx, market.OpenRequest{Symbol: "ETHUSDT", Side: market.Long, QuoteSize: d("200")})
	assert.Error(t, err, "one position per symbol")

	ex.set("ETHUSDT", "2100")
	closed, err := eng.ClosePosition(ctx, "ETHUSDT", "take profit", decimal.Zero)
	require.NoError(t, err)
	// gross 10, fee 2100*0.1*0.0005 = 0.105
	assert.Equal(t, "9.895", closed.RealizedPnL.String())
	bal, _ = eng.Balance(ctx)
	assert.Equal(t, "1009.795", bal.String())
	assert.True(t, eng.Holding("ETHUSDT").IsZero())

	total, trades, wins := eng.Realized()
	assert.Equal(t, "9.895", total.String())
	assert.Equal(t, 1, trades)
	assert.Equal(t, 1, wins)

	_, err = eng.ClosePosition(ctx, "ETHUSDT", "again", decimal.Zero)
	assert.ErrorIs(t, err, market.ErrUnknownPosition)
}

func TestPaperEngine_PartialCloseShort(t *testing.T) {
	ex := newFakeExchange()
	ex.set("SOLUSDT", "100")
	eng := NewPaperExecutionEngine(NewMarketData(ex, nil, "USDT"), 500, 0)
	ctx := context.Background()

	_, err := eng.OpenPosition(ctx, market.OpenRequest{Symbol: "SOLUSDT", Side: market.Short, QuoteSize: d("100")})
	require.NoError(t, err)

	ex.set("SOLUSDT", "90")
	fill, err := eng.ClosePosition(ctx, "SOLUSDT", "harvest", d("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "5", fill.RealizedPnL.String())
	assert.Equal(t, market.Short, fill.Side)
	assert.Equal(t, "0.5", eng.Holding("SOLUSDT").String())

	fill, err = eng.ClosePosition(ctx, "SOLUSDT", "stop loss", d("10"))
	require.NoError(t, err)
	assert.Equal(t, "0.5", fill.Quantity.String(), "over-sized close is clamped")
	bal, _ := eng.Balance(ctx)
	assert.Equal(t, "510", bal.String())
}

func TestPaperEngine_OpenWithoutPriceFails(t *testing.T) {
	eng := NewPaperExecutionEngine(NewMarketData(newFakeExchange(), nil, "USDT"), 100, 0)
	_, err := eng.OpenPosition(context.Background(), market.OpenRequest{Symbol: "XUSDT", Side: market.Long, QuoteSize: d("10")})
	assert.ErrorIs(t, err, market.ErrNoPrice)
	bal, _ := eng.Balance(context.Background())
	assert.Equal(t, "100", bal.String())
}

// mockFuturesServer mimics the endpoints the live engine touches.
func mockFuturesServer(t *testing.T, orders *[]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"2000"}`))
	})
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"ETHUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`))
	})
	mux.HandleFunc("/fapi/v2/balance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"asset":"USDT","balance":"750.25"}]`))
	})
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","positionAmt":"-0.333","entryPrice":"2000","markPrice":"1900"}]`))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		*orders = append(*orders, q.Get("side")+" "+q.Get("quantity")+" "+q.Get("reduceOnly"))
		if q.Get("reduceOnly") == "true" {
			_, _ = w.Write([]byte(`{"orderId":2,"status":"FILLED","avgPrice":"1900","executedQty":"` + q.Get("quantity") + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"orderId":1,"status":"FILLED","avgPrice":"2001","executedQty":"` + q.Get("quantity") + `"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLiveEngine_OpenAndClose(t *testing.T) {
	var orders []string
	server := mockFuturesServer(t, &orders)
	client := binance.NewClient(server.URL, "k", "s", 5000, time.Second)
	eng := NewLiveExecutionEngine(client, nil, "USDT", 0)
	ctx := context.Background()

	bal, err := eng.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "750.25", bal.String())

	fill, err := eng.OpenPosition(ctx, market.OpenRequest{Symbol: "ETHUSDT", Side: market.Short, QuoteSize: d("666")})
	require.NoError(t, err)
	assert.Equal(t, "0.333", fill.Quantity.String(), "quantity rounded down to the step")
	assert.Equal(t, "2001", fill.Price.String())
	assert.Equal(t, "1", fill.ID)

	fill, err = eng.ClosePosition(ctx, "ETHUSDT", "take profit", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, market.Short, fill.Side)
	assert.Equal(t, "0.333", fill.Quantity.String())
	assert.Equal(t, "33.3", fill.RealizedPnL.String())

	assert.Equal(t, []string{"SELL 0.333 ", "BUY 0.333 true"}, orders)
}
