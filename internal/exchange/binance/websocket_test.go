package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCache_Staleness(t *testing.T) {
	c := NewPriceCache()
	now := time.Now()
	c.Set("BTCUSDT", decimal.NewFromInt(60000), now.Add(-10*time.Second))
	c.Set("ETHUSDT", decimal.Zero, now)

	_, ok := c.Get("BTCUSDT", 5*time.Second, now)
	assert.False(t, ok, "too old")
	p, ok := c.Get("BTCUSDT", 15*time.Second, now)
	require.True(t, ok)
	assert.Equal(t, "60000", p.String())
	_, ok = c.Get("ETHUSDT", time.Minute, now)
	assert.False(t, ok, "zero price is never served")
	_, ok = c.Get("XRPUSDT", time.Minute, now)
	assert.False(t, ok)
}

func TestPriceStream_FeedsCache(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"60000.5"},{"e":"markPriceUpdate","E":1700000000000,"s":"ETHUSDT","p":"3000"}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"markPriceUpdate","E":1700000000000,"s":"SOLUSDT","p":"150"}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cache := NewPriceCache()
	stream := NewPriceStream("ws"+strings.TrimPrefix(server.URL, "http"), cache)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- stream.Run(ctx) }()

	require.Eventually(t, func() bool { return cache.Len() == 3 }, 2*time.Second, 10*time.Millisecond)
	at := time.UnixMilli(1700000000000)
	p, ok := cache.Get("BTCUSDT", time.Minute, at)
	require.True(t, ok)
	assert.Equal(t, "60000.5", p.String())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
