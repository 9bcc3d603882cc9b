package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/your-org/fortress-bot/internal/report"
)

// InMemRepository is an in-memory TradeSource for testing.
type InMemRepository struct {
	mu     sync.RWMutex
	trades []report.Trade
}

// NewInMemRepository creates a new InMemRepository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{}
}

// SeedTrades allows adding trades for test setup.
func (r *InMemRepository) SeedTrades(trades []report.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trades...)
	sort.SliceStable(r.trades, func(i, j int) bool { return r.trades[i].Time.Before(r.trades[j].Time) })
}

// FetchTrades returns the seeded trades at or after since.
func (r *InMemRepository) FetchTrades(_ context.Context, since time.Time) ([]report.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []report.Trade
	for _, t := range r.trades {
		if !t.Time.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
