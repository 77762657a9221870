package feed

import (
	"sync"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// TradeHistory keeps the most recent public trades per symbol.
type TradeHistory struct {
	rings map[string]*ring[domain.Trade]
}

// NewTradeHistory creates per-symbol bounded trade buffers.
func NewTradeHistory(symbols []string, limit int) *TradeHistory {
	rings := make(map[string]*ring[domain.Trade], len(symbols))
	for _, s := range symbols {
		rings[s] = newRing[domain.Trade](limit)
	}
	return &TradeHistory{rings: rings}
}

// Seed replaces the buffer for symbol with historical trades.
func (h *TradeHistory) Seed(symbol string, trades []domain.Trade) {
	if r, ok := h.rings[symbol]; ok {
		r.Replace(trades)
	}
}

// Record appends one trade, dropping the oldest when full. Trades for
// untracked symbols are ignored.
func (h *TradeHistory) Record(t domain.Trade) {
	if r, ok := h.rings[t.Symbol]; ok {
		r.Push(t)
	}
}

// Recent returns the buffered trades for symbol, oldest first.
func (h *TradeHistory) Recent(symbol string) []domain.Trade {
	if r, ok := h.rings[symbol]; ok {
		return r.Items()
	}
	return nil
}

// OrderHistory keeps the most recent account orders per symbol, updated in
// place as execution reports arrive.
type OrderHistory struct {
	rings map[string]*ring[domain.Order]
}

// NewOrderHistory creates per-symbol bounded order buffers.
func NewOrderHistory(symbols []string, limit int) *OrderHistory {
	rings := make(map[string]*ring[domain.Order], len(symbols))
	for _, s := range symbols {
		rings[s] = newRing[domain.Order](limit)
	}
	return &OrderHistory{rings: rings}
}

// Seed replaces the buffer for symbol with historical orders.
func (h *OrderHistory) Seed(symbol string, orders []domain.Order) {
	if r, ok := h.rings[symbol]; ok {
		r.Replace(orders)
	}
}

// Record folds one order update in: an existing order with the same ID is
// updated in place, otherwise the order is appended.
func (h *OrderHistory) Record(o domain.Order) {
	r, ok := h.rings[o.Symbol]
	if !ok {
		return
	}
	r.mu.Lock()
	for i := range r.items {
		if r.items[i].OrderID == o.OrderID {
			r.items[i] = o
			r.mu.Unlock()
			return
		}
	}
	r.mu.Unlock()
	r.Push(o)
}

// Recent returns the buffered orders for symbol, oldest first.
func (h *OrderHistory) Recent(symbol string) []domain.Order {
	if r, ok := h.rings[symbol]; ok {
		return r.Items()
	}
	return nil
}

// ring is a bounded FIFO that drops the oldest entry once full.
type ring[T any] struct {
	mu    sync.Mutex
	limit int
	items []T
}

func newRing[T any](limit int) *ring[T] {
	return &ring[T]{limit: limit}
}

// Push appends v, evicting the oldest entry when the ring is full.
func (r *ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, v)
	if len(r.items) > r.limit {
		r.items = append(r.items[:0], r.items[len(r.items)-r.limit:]...)
	}
}

// Replace swaps the whole contents, keeping at most the limit newest.
func (r *ring[T]) Replace(items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(items) > r.limit {
		items = items[len(items)-r.limit:]
	}
	r.items = append(r.items[:0], items...)
}

// Items returns a copy of the contents, oldest first.
func (r *ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}
