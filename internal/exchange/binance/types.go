// Package binance handles interactions with the Binance USDⓈ-M futures API.
package binance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// APIError is the error body returned by the REST API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API error %d (status %d): %s", e.Code, e.Status, e.Message)
}

// TickerPrice is the body of /fapi/v1/ticker/price.
type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Ticker24h is one entry of /fapi/v1/ticker/24hr.
type Ticker24h struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
}

// AssetBalance is one entry of /fapi/v2/balance.
type AssetBalance struct {
	Asset            string          `json:"asset"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// PositionRisk is one entry of /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnRealizedProfit decimal.Decimal `json:"unRealizedProfit"`
}

// OrderRequest describes a market order.
type OrderRequest struct {
	Symbol     string
	Side       string // BUY or SELL
	Quantity   decimal.Decimal
	ReduceOnly bool
}

// OrderResponse is the body of POST /fapi/v1/order with newOrderRespType=RESULT.
type OrderResponse struct {
	OrderID     int64           `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	Side        string          `json:"side"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	UpdateTime  int64           `json:"updateTime"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// MarkPriceUpdate is one element of the !markPrice@arr stream.
type MarkPriceUpdate struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	MarkPrice decimal.Decimal `json:"p"`
}
