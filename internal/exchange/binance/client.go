package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/internal/market"
	"github.com/your-org/fortress-bot/pkg/logger"
)

// Client provides methods to interact with the futures REST API.
type Client struct {
	baseURL    string
	apiKey     string
	secretKey  string
	recvWindow int
	httpClient *http.Client

	stepMu    sync.RWMutex
	stepSizes map[string]decimal.Decimal
}

// NewClient creates a new API client. Public endpoints work without keys.
func NewClient(baseURL, apiKey, secretKey string, recvWindowMs int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		secretKey:  secretKey,
		recvWindow: recvWindowMs,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// sign appends timestamp, recvWindow and the HMAC-SHA256 signature of the
// encoded query.
func (c *Client) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	}
	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, signed bool, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		if c.apiKey == "" || c.secretKey == "" {
			return errors.New("binance: signed endpoint requires API credentials")
		}
		query = c.sign(params)
	}

	target := c.baseURL + endpoint
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body (status: %d): %w", endpoint, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response (status: %d, body: %s): %w", endpoint, resp.StatusCode, string(body), err)
	}
	return nil
}

// Klines returns up to limit candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var raw [][]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %s: %w", symbol, err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseKline(row []json.RawMessage) (market.Candle, error) {
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return market.Candle{}, err
	}
	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return market.Candle{}, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, err
		}
		vals[i] = f
	}
	return market.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// TickerPrice returns the last traded price of symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var tp TickerPrice
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", url.Values{"symbol": {symbol}}, false, &tp); err != nil {
		return decimal.Zero, err
	}
	return tp.Price, nil
}

// TopByQuoteVolume returns up to limit symbols quoted in quoteAsset, ordered
// by descending 24h quote volume.
func (c *Client) TopByQuoteVolume(ctx context.Context, quoteAsset string, limit int) ([]string, error) {
	var tickers []Ticker24h
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", nil, false, &tickers); err != nil {
		return nil, err
	}
	filtered := tickers[:0]
	for _, t := range tickers {
		if strings.HasSuffix(t.Symbol, quoteAsset) {
			filtered = append(filtered, t)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].QuoteVolume.GreaterThan(filtered[j].QuoteVolume)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	out := make([]string, len(filtered))
	for i, t := range filtered {
		out[i] = t.Symbol
	}
	return out, nil
}

// Balance returns the wallet balance of asset.
func (c *Client) Balance(ctx context.Context, asset string) (AssetBalance, error) {
	var balances []AssetBalance
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &balances); err != nil {
		return AssetBalance{}, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b, nil
		}
	}
	logger.Debugf("binance: no %s balance entry in response", asset)
	return AssetBalance{Asset: asset}, nil
}

// Position returns the position risk entry of symbol.
func (c *Client) Position(ctx context.Context, symbol string) (PositionRisk, error) {
	var risks []PositionRisk
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{"symbol": {symbol}}, true, &risks); err != nil {
		return PositionRisk{}, err
	}
	for _, r := range risks {
		if r.Symbol == symbol && !r.PositionAmt.IsZero() {
			return r, nil
		}
	}
	return PositionRisk{}, fmt.Errorf("%w: %s", market.ErrUnknownPosition, symbol)
}

// MarketOrder sends a market order and returns its execution result.
func (c *Client) MarketOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	params := url.Values{
		"symbol":           {req.Symbol},
		"side":             {req.Side},
		"type":             {"MARKET"},
		"quantity":         {req.Quantity.String()},
		"newOrderRespType": {"RESULT"},
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StepSize returns the quantity increment of symbol, loading exchange info on
// first use.
func (c *Client) StepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.stepMu.RLock()
	step, ok := c.stepSizes[symbol]
	loaded := c.stepSizes != nil
	c.stepMu.RUnlock()
	if ok {
		return step, nil
	}
	if loaded {
		return decimal.Zero, fmt.Errorf("unknown symbol %s", symbol)
	}

	var info exchangeInfo
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return decimal.Zero, err
	}
	sizes := make(map[string]decimal.Decimal, len(info.Symbols))
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			if d, err := decimal.NewFromString(f.StepSize); err == nil {
				sizes[s.Symbol] = d
			}
		}
	}
	c.stepMu.Lock()
	c.stepSizes = sizes
	c.stepMu.Unlock()

	if step, ok := sizes[symbol]; ok {
		return step, nil
	}
	return decimal.Zero, fmt.Errorf("unknown symbol %s", symbol)
}

// RoundStep truncates qty down to a multiple of step.
func RoundStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}
