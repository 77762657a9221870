package domain

import "time"

// PriceLevel is a single price+quantity entry in an order book. A quantity of
// zero means the level is removed.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// BookSnapshot is the REST depth snapshot used to seed the local book. The
// LastUpdateID marks the sequence position the snapshot reflects; buffered
// deltas ending at or before it are stale.
type BookSnapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthDelta is one incremental depth event from the stream. FirstUpdateID
// and FinalUpdateID bound the sequence range the delta covers.
type DepthDelta struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
	EventTime     time.Time
}

// BookTop is the continuously maintained top-of-book view per symbol.
type BookTop struct {
	Symbol    string
	AskPrice  float64
	AskQty    float64
	BidPrice  float64
	BidQty    float64
	UpdatedAt time.Time
}

// Mid returns the ask/bid midpoint, or zero while either side is missing.
func (b BookTop) Mid() float64 {
	if b.AskPrice <= 0 || b.BidPrice <= 0 {
		return 0
	}
	return (b.AskPrice + b.BidPrice) / 2
}
