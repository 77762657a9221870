// Package triangle joins per-leg market state into whole-triangle
// snapshots for evaluation.
package triangle

import (
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// legState accumulates the latest value of each input field for one leg.
type legState struct {
	top      domain.BookTop
	topSet   bool
	close    float64
	closeSet bool
	ind      domain.IndicatorSnapshot
}

func (l *legState) ready() bool {
	return l.topSet && l.closeSet && l.ind.Ready
}

// Aggregator joins book tops, candle closes, and indicator snapshots for
// the three triangle legs into TriangleSnapshot emissions.
//
// Nothing is emitted until every field of every leg has produced at least
// one value; after this cold-start gate, any single field update triggers
// an emission carrying the latest value of all fields. Emissions are
// throttled to at most one per minInterval; updates inside the window are
// absorbed into leg state and surface with the next emission.
type Aggregator struct {
	mu sync.Mutex

	symbols     [3]string
	legs        [3]legState
	minInterval time.Duration
	lastEmit    time.Time
	emitted     bool

	emit func(domain.TriangleSnapshot)
	now  func() time.Time
}

// NewAggregator creates an aggregator for the triangle's legs in order.
// emit is called synchronously from whichever update goroutine completes
// the snapshot.
func NewAggregator(tri domain.Triangle, minInterval time.Duration, emit func(domain.TriangleSnapshot)) *Aggregator {
	a := &Aggregator{
		minInterval: minInterval,
		emit:        emit,
		now:         time.Now,
	}
	for i, leg := range tri.Legs {
		a.symbols[i] = leg.Name
	}
	return a
}

// UpdateTop records a new best bid/ask for the leg's symbol.
func (a *Aggregator) UpdateTop(top domain.BookTop) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.legIndex(top.Symbol)
	if !ok {
		return
	}
	a.legs[i].top = top
	a.legs[i].topSet = true
	a.maybeEmitLocked()
}

// InvalidateTop drops the leg's book top, re-arming the cold-start gate
// until a fresh top arrives. Used while a book awaits resync.
func (a *Aggregator) InvalidateTop(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.legIndex(symbol); ok {
		a.legs[i].topSet = false
	}
}

// UpdateClose records the latest candle close for the leg's symbol.
func (a *Aggregator) UpdateClose(symbol string, close float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.legIndex(symbol)
	if !ok {
		return
	}
	a.legs[i].close = close
	a.legs[i].closeSet = true
	a.maybeEmitLocked()
}

// UpdateIndicator records a new indicator snapshot for the leg's symbol.
// Not-ready snapshots are recorded but keep the gate closed for that leg.
func (a *Aggregator) UpdateIndicator(snap domain.IndicatorSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.legIndex(snap.Symbol)
	if !ok {
		return
	}
	a.legs[i].ind = snap
	a.maybeEmitLocked()
}

func (a *Aggregator) legIndex(symbol string) (int, bool) {
	for i, s := range a.symbols {
		if s == symbol {
			return i, true
		}
	}
	return 0, false
}

// maybeEmitLocked emits a snapshot when all legs are ready and the
// throttle window has elapsed. Caller must hold a.mu.
func (a *Aggregator) maybeEmitLocked() {
	for i := range a.legs {
		if !a.legs[i].ready() {
			return
		}
	}

	now := a.now()
	if a.emitted && now.Sub(a.lastEmit) < a.minInterval {
		return
	}
	a.lastEmit = now
	a.emitted = true

	var snap domain.TriangleSnapshot
	snap.EmittedAt = now
	for i := range a.legs {
		leg := &a.legs[i]
		snap.Legs[i] = domain.LegQuote{
			Symbol: a.symbols[i],
			Ask:    leg.top.AskPrice,
			Bid:    leg.top.BidPrice,
			Close:  leg.close,
			Band:   leg.ind.Band,
			ROC:    leg.ind.ROC,
		}
	}

	a.emit(snap)
}
