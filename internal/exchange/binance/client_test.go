package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/fortress-bot/internal/market"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test_api_key", "test_secret_key", 5000, time.Second)
}

func TestKlines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","101.0","99.0","100.5","12.3",1700003599999,"1234",10,"1","2","0"],
			[1700003600000,"100.5","102.0","100.0","101.5","8.0",1700007199999,"808",7,"1","2","0"]
		]`))
	})
	c := newTestClient(t, mux)

	candles, err := c.Klines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.5, candles[1].Close)
	assert.Equal(t, 12.3, candles[0].Volume)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].OpenTime)
}

func TestTopByQuoteVolume(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"symbol": "ETHUSDT", "quoteVolume": "500"},
			{"symbol": "BTCUSDT", "quoteVolume": "900"},
			{"symbol": "ETHBTC", "quoteVolume": "10000"},
			{"symbol": "SOLUSDT", "quoteVolume": "100"},
		})
	})
	c := newTestClient(t, mux)

	got, err := c.TopByQuoteVolume(context.Background(), "USDT", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
}

func TestSignedRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/balance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test_api_key", r.Header.Get("X-MBX-APIKEY"))
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		require.Positive(t, idx)
		mac := hmac.New(sha256.New, []byte("test_secret_key"))
		mac.Write([]byte(raw[:idx]))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), raw[idx+len("&signature="):])
		assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))

		_, _ = w.Write([]byte(`[{"asset":"BNB","balance":"1"},{"asset":"USDT","balance":"1234.5","availableBalance":"1000"}]`))
	})
	c := newTestClient(t, mux)

	bal, err := c.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.RequireFromString("1234.5")))
}

func TestSignedRequestNeedsKeys(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "", "", 0, time.Second)
	_, err := c.Balance(context.Background(), "USDT")
	assert.Error(t, err)
}

func TestMarketOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "0.5", q.Get("quantity"))
		assert.Equal(t, "true", q.Get("reduceOnly"))
		_, _ = w.Write([]byte(`{"orderId":42,"symbol":"ETHUSDT","status":"FILLED","side":"SELL","avgPrice":"2000.10","executedQty":"0.5","updateTime":1700000000000}`))
	})
	c := newTestClient(t, mux)

	resp, err := c.MarketOrder(context.Background(), OrderRequest{Symbol: "ETHUSDT", Side: "SELL", Quantity: decimal.RequireFromString("0.5"), ReduceOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.OrderID)
	assert.True(t, resp.AvgPrice.Equal(decimal.RequireFromString("2000.10")))
}

func TestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})
	c := newTestClient(t, mux)

	_, err := c.MarketOrder(context.Background(), OrderRequest{Symbol: "ETHUSDT", Side: "BUY", Quantity: decimal.NewFromInt(1)})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -2019, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestPositionUnknown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0"}]`))
	})
	c := newTestClient(t, mux)
	_, err := c.Position(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, market.ErrUnknownPosition)
}

func TestStepSizeAndRounding(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER"},{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`))
	})
	c := newTestClient(t, mux)

	step, err := c.StepSize(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.001", step.String())
	_, err = c.StepSize(context.Background(), "NOPEUSDT")
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "exchange info is cached")

	assert.Equal(t, "1.234", RoundStep(decimal.RequireFromString("1.23456"), step).String())
	assert.Equal(t, "1.23456", RoundStep(decimal.RequireFromString("1.23456"), decimal.Zero).String())
}
