// Package feed maintains local replicas of exchange state: order books
// reconciled from snapshot plus deltas, candle series, account balances,
// and bounded trade/order history.
package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// maxBufferedDeltas bounds the pre-seed delta buffer. A snapshot fetch that
// takes long enough to overflow this is treated as a failed sync.
const maxBufferedDeltas = 4096

// BookReconciler maintains a local order book for one symbol from a REST
// snapshot plus a stream of incremental deltas.
//
// Deltas that arrive before the snapshot is seeded are buffered and
// replayed against the snapshot. A delta whose sequence range is entirely
// at or below the book's last applied update is stale and dropped. A delta
// that starts beyond the next expected update is a gap: the book is
// invalidated and must be re-seeded from a fresh snapshot before its top
// is served again.
type BookReconciler struct {
	mu sync.Mutex

	symbol string
	logger *slog.Logger

	bids map[float64]float64
	asks map[float64]float64

	lastUpdateID int64
	seeded       bool
	resyncNeeded bool

	buffer []domain.DepthDelta

	top    domain.BookTop
	topSet bool
}

// NewBookReconciler creates a reconciler for symbol.
func NewBookReconciler(symbol string, logger *slog.Logger) *BookReconciler {
	return &BookReconciler{
		symbol: symbol,
		logger: logger.With(slog.String("component", "book"), slog.String("symbol", symbol)),
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// Seed installs a REST snapshot and replays any buffered deltas against it.
// Buffered deltas entirely covered by the snapshot are discarded; a gap
// between the snapshot and the buffered stream leaves the book invalid and
// returns ErrSequenceGap, in which case the caller should fetch a newer
// snapshot and Seed again.
func (b *BookReconciler) Seed(snap domain.BookSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap.Symbol != b.symbol {
		return fmt.Errorf("feed: %w: snapshot for %s on book %s", domain.ErrTriangleMismatch, snap.Symbol, b.symbol)
	}

	b.bids = make(map[float64]float64, len(snap.Bids))
	b.asks = make(map[float64]float64, len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Quantity > 0 {
			b.bids[lvl.Price] = lvl.Quantity
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Quantity > 0 {
			b.asks[lvl.Price] = lvl.Quantity
		}
	}
	b.lastUpdateID = snap.LastUpdateID
	b.seeded = true
	b.resyncNeeded = false

	buffered := b.buffer
	b.buffer = nil
	for _, delta := range buffered {
		if err := b.applyLocked(delta); err != nil {
			b.logger.Warn("gap while draining buffered deltas",
				slog.Int64("last_update_id", b.lastUpdateID),
				slog.Int64("first_update_id", delta.FirstUpdateID))
			return err
		}
	}

	b.recomputeTopLocked(time.Now().UTC())
	b.logger.Info("book seeded",
		slog.Int64("last_update_id", b.lastUpdateID),
		slog.Int("bids", len(b.bids)),
		slog.Int("asks", len(b.asks)))
	return nil
}

// Apply folds one incremental delta into the book.
//
// Before the first Seed the delta is buffered. Stale deltas are dropped
// silently. A sequence gap invalidates the book and returns
// ErrSequenceGap; the book top is then unavailable until re-seeded.
func (b *BookReconciler) Apply(delta domain.DepthDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if delta.Symbol != b.symbol {
		return fmt.Errorf("feed: %w: delta for %s on book %s", domain.ErrTriangleMismatch, delta.Symbol, b.symbol)
	}

	if !b.seeded || b.resyncNeeded {
		if len(b.buffer) >= maxBufferedDeltas {
			b.buffer = nil
			return fmt.Errorf("feed: %s: delta buffer overflow: %w", b.symbol, domain.ErrSequenceGap)
		}
		b.buffer = append(b.buffer, delta)
		return nil
	}

	if err := b.applyLocked(delta); err != nil {
		return err
	}
	b.recomputeTopLocked(delta.EventTime)
	return nil
}

// Invalidate marks the book as requiring a fresh snapshot, e.g. after a
// WebSocket reconnect. Deltas arriving afterwards are buffered for the
// next Seed.
func (b *BookReconciler) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resyncNeeded = true
	b.buffer = nil
	b.topSet = false
}

// NeedsResync reports whether the book must be re-seeded before use.
func (b *BookReconciler) NeedsResync() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.seeded || b.resyncNeeded
}

// Top returns the current best bid/ask. ok is false until the book has
// been seeded, has both sides populated, and is not awaiting a resync.
func (b *BookReconciler) Top() (top domain.BookTop, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.seeded || b.resyncNeeded || !b.topSet {
		return domain.BookTop{}, false
	}
	return b.top, true
}

// applyLocked enforces sequencing and folds the delta's levels in.
// Caller must hold b.mu.
func (b *BookReconciler) applyLocked(delta domain.DepthDelta) error {
	// Entirely covered by state we already have.
	if delta.FinalUpdateID <= b.lastUpdateID {
		return nil
	}

	// The delta must overlap or directly extend the applied sequence.
	if delta.FirstUpdateID > b.lastUpdateID+1 {
		b.resyncNeeded = true
		b.topSet = false
		b.logger.Warn("sequence gap, book invalidated",
			slog.Int64("last_update_id", b.lastUpdateID),
			slog.Int64("first_update_id", delta.FirstUpdateID))
		return fmt.Errorf("feed: %s: expected <=%d got %d: %w",
			b.symbol, b.lastUpdateID+1, delta.FirstUpdateID, domain.ErrSequenceGap)
	}

	applyLevels(b.bids, delta.Bids)
	applyLevels(b.asks, delta.Asks)
	b.lastUpdateID = delta.FinalUpdateID
	return nil
}

// applyLevels folds delta levels into a side. A zero quantity removes the
// price level.
func applyLevels(side map[float64]float64, levels []domain.PriceLevel) {
	for _, lvl := range levels {
		if lvl.Quantity == 0 {
			delete(side, lvl.Price)
		} else {
			side[lvl.Price] = lvl.Quantity
		}
	}
}

// recomputeTopLocked rescans both sides for the best levels. Caller must
// hold b.mu.
func (b *BookReconciler) recomputeTopLocked(at time.Time) {
	var bestBid, bestBidQty, bestAsk, bestAskQty float64
	for price, qty := range b.bids {
		if price > bestBid {
			bestBid, bestBidQty = price, qty
		}
	}
	for price, qty := range b.asks {
		if bestAsk == 0 || price < bestAsk {
			bestAsk, bestAskQty = price, qty
		}
	}

	if bestBid == 0 || bestAsk == 0 {
		b.topSet = false
		return
	}

	b.top = domain.BookTop{
		Symbol:    b.symbol,
		AskPrice:  bestAsk,
		AskQty:    bestAskQty,
		BidPrice:  bestBid,
		BidQty:    bestBidQty,
		UpdatedAt: at,
	}
	b.topSet = true
}
