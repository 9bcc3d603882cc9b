package binance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/your-org/fortress-bot/pkg/logger"
)

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceCache keeps the latest mark price per symbol.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]cachedPrice)}
}

// Set stores a price observed at at.
func (c *PriceCache) Set(symbol string, price decimal.Decimal, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = cachedPrice{price: price, at: at}
}

// Get returns the cached price if it is positive and no older than maxAge
// relative to now.
func (c *PriceCache) Get(symbol string, maxAge time.Duration, now time.Time) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok || !p.price.IsPositive() || now.Sub(p.at) > maxAge {
		return decimal.Zero, false
	}
	return p.price, true
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// PriceStream feeds a PriceCache from the all-market mark price stream.
type PriceStream struct {
	url    string
	cache  *PriceCache
	dialer *websocket.Dialer
}

// NewPriceStream creates a stream for url writing into cache.
func NewPriceStream(url string, cache *PriceCache) *PriceStream {
	return &PriceStream{url: url, cache: cache, dialer: websocket.DefaultDialer}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff capped at one minute.
func (s *PriceStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Errorf("price stream: %v. Reconnecting in %v...", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

func (s *PriceStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	logger.Infof("price stream: connected to %s", s.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(message)
	}
}

// handle accepts both the array form of !markPrice@arr and single updates.
func (s *PriceStream) handle(message []byte) {
	var updates []MarkPriceUpdate
	if err := json.Unmarshal(message, &updates); err != nil {
		var single MarkPriceUpdate
		if err := json.Unmarshal(message, &single); err != nil {
			logger.Debugf("price stream: unparseable message: %s", message)
			return
		}
		updates = []MarkPriceUpdate{single}
	}
	for _, u := range updates {
		if u.Symbol == "" {
			continue
		}
		at := time.UnixMilli(u.EventTime)
		if u.EventTime == 0 {
			at = time.Now()
		}
		s.cache.Set(u.Symbol, u.MarkPrice, at)
	}
}
