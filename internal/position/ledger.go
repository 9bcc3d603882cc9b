package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicate is returned when inserting a symbol that is already open.
	ErrDuplicate = errors.New("position already open for symbol")
	// ErrNotFound is returned when a symbol has no open position.
	ErrNotFound = errors.New("no open position for symbol")
)

// Store persists ledger entries so that open positions survive a restart.
type Store interface {
	Save(ctx context.Context, p Position) error
	Delete(ctx context.Context, symbol string) error
	LoadAll(ctx context.Context) ([]Position, error)
}

// Ledger is the set of open positions keyed by symbol. Every method holds the
// lock only for the in-memory work; callers never hold it across I/O.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]Position)}
}

// Insert adds a validated position.
func (l *Ledger) Insert(p Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[p.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.Symbol)
	}
	l.positions[p.Symbol] = p
	return nil
}

// Get returns a copy of the position for symbol.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Contains reports whether symbol is open.
func (l *Ledger) Contains(symbol string) bool {
	_, ok := l.Get(symbol)
	return ok
}

// Update runs fn on a copy of the position as one critical section. The copy
// is committed only if fn returns nil and the result still validates, so an
// aborted mutation leaves the ledger untouched.
func (l *Ledger) Update(symbol string, fn func(*Position) error) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.positions[symbol]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	if err := next.Validate(); err != nil {
		return cur, err
	}
	l.positions[symbol] = next
	return next, nil
}

// Remove deletes and returns the position for symbol.
func (l *Ledger) Remove(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if ok {
		delete(l.positions, symbol)
	}
	return p, ok
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Symbols returns the open symbols in sorted order.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns copies of every open position sorted by symbol.
func (l *Ledger) Snapshot() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Restore loads persisted positions into the ledger, skipping entries that no
// longer validate or are already present. It returns how many were loaded.
func (l *Ledger) Restore(ctx context.Context, store Store) (int, error) {
	saved, err := store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load positions: %w", err)
	}
	n := 0
	for _, p := range saved {
		if err := l.Insert(p); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
