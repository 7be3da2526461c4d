package execution

import (
	"fmt"
	"sync"

	"perp_exec/internal/domain"
)

// SymbolGuard allows at most one reconciliation loop per symbol.
// A nil guard never blocks.
type SymbolGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewSymbolGuard() *SymbolGuard {
	return &SymbolGuard{held: make(map[string]struct{})}
}

// TryAcquire claims symbol without blocking. The returned release is idempotent.
func (g *SymbolGuard) TryAcquire(symbol string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[symbol]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolBusy, symbol)
	}
	g.held[symbol] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, symbol)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether symbol is currently claimed.
func (g *SymbolGuard) Held(symbol string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[symbol]
	return ok
}
