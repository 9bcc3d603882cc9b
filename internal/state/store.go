// Package state persists the position ledger in Redis so open positions
// survive a restart. When Redis is unavailable it keeps an in-memory copy
// and trading continues.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/your-org/fortress-bot/internal/position"
)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "fortress"

// PositionTTL bounds how long an orphaned position key survives.
const PositionTTL = 7 * 24 * time.Hour

// Store implements position.Store over Redis with an in-memory fallback.
type Store struct {
	client         *redis.Client
	prefix         string
	logger         *zap.Logger
	redisAvailable atomic.Bool

	cacheMu sync.RWMutex
	cache   map[string]position.Position
}

// New creates a Store. A nil client runs in memory-only mode.
func New(ctx context.Context, client *redis.Client, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		cache:  make(map[string]position.Position),
	}
	if client == nil {
		logger.Info("No Redis client provided, using in-memory position store only")
		return s
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unavailable at startup, using in-memory position store", zap.Error(err))
		return s
	}
	s.redisAvailable.Store(true)
	logger.Info("Redis position store connected", zap.String("prefix", prefix))
	return s
}

// Available reports whether writes currently reach Redis.
func (s *Store) Available() bool {
	return s.client != nil && s.redisAvailable.Load()
}

func (s *Store) positionKey(symbol string) string {
	return fmt.Sprintf("%s:position:%s", s.prefix, symbol)
}

func (s *Store) listKey() string {
	return s.prefix + ":positions"
}

func (s *Store) markDown(op string, err error) {
	if s.redisAvailable.CompareAndSwap(true, false) {
		s.logger.Warn("Redis error, falling back to in-memory position store", zap.String("op", op), zap.Error(err))
	}
}

// Save stores p under its symbol.
func (s *Store) Save(ctx context.Context, p position.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position %s: %w", p.Symbol, err)
	}

	s.cacheMu.Lock()
	s.cache[p.Symbol] = p
	s.cacheMu.Unlock()

	if !s.Available() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.positionKey(p.Symbol), data, PositionTTL)
	pipe.SAdd(ctx, s.listKey(), p.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown("save", err)
		return nil
	}
	s.logger.Debug("Saved position", zap.String("symbol", p.Symbol), zap.String("size", p.Size.String()))
	return nil
}

// Delete removes the position of symbol.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	s.cacheMu.Lock()
	delete(s.cache, symbol)
	s.cacheMu.Unlock()

	if !s.Available() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.positionKey(symbol))
	pipe.SRem(ctx, s.listKey(), symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown("delete", err)
	}
	return nil
}

// LoadAll returns every stored position ordered by symbol. Entries that no
// longer decode are dropped with a warning.
func (s *Store) LoadAll(ctx context.Context) ([]position.Position, error) {
	if !s.Available() {
		return s.fromCache(), nil
	}

	symbols, err := s.client.SMembers(ctx, s.listKey()).Result()
	if err != nil {
		s.markDown("load", err)
		return s.fromCache(), nil
	}
	sort.Strings(symbols)

	out := make([]position.Position, 0, len(symbols))
	for _, symbol := range symbols {
		data, err := s.client.Get(ctx, s.positionKey(symbol)).Bytes()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, s.listKey(), symbol)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load position %s: %w", symbol, err)
		}
		var p position.Position
		if err := json.Unmarshal(data, &p); err != nil {
			s.logger.Warn("Dropping undecodable position", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out = append(out, p)
	}

	s.cacheMu.Lock()
	for _, p := range out {
		s.cache[p.Symbol] = p
	}
	s.cacheMu.Unlock()
	return out, nil
}

func (s *Store) fromCache() []position.Position {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make([]position.Position, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
