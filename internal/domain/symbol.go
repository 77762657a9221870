// Package domain defines the core value types shared by the feed, indicator,
// triangle, arbitrage, and executor layers.
package domain

import "math"

// Symbol is an exchange-traded pair together with its precision filters.
// Symbols are loaded once at startup from exchange info and are read-only
// afterwards.
type Symbol struct {
	Name           string
	BaseAsset      string
	QuoteAsset     string
	TickSize       float64 // price increment
	StepSize       float64 // quantity increment
	TradingEnabled bool
}

// TruncatePrice floors p to the symbol's tick size. Truncation, not rounding:
// the result never exceeds the input.
func (s Symbol) TruncatePrice(p float64) float64 {
	return truncateStep(p, s.TickSize)
}

// TruncateQuantity floors q to the symbol's step size.
func (s Symbol) TruncateQuantity(q float64) float64 {
	return truncateStep(q, s.StepSize)
}

func truncateStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := math.Floor(v / step)
	r := n * step
	// Guard against float error pushing the result above the input.
	if r > v {
		r = (n - 1) * step
	}
	if r < 0 {
		r = 0
	}
	return r
}

// Triangle is the validated three-leg loop. Leg A trades base X against quote
// Z, leg B trades X against Y, leg C trades Y against Z, so the assets close a
// cycle Z -> X -> Y -> Z.
type Triangle struct {
	Legs [3]Symbol
}

// Assets returns the three distinct assets in canonical order:
// base of leg A, quote of leg A, quote of leg B.
func (t Triangle) Assets() [3]string {
	return [3]string{t.Legs[0].BaseAsset, t.Legs[0].QuoteAsset, t.Legs[1].QuoteAsset}
}

// NewTriangle validates that the three symbols form a closed loop and that
// every leg is enabled for trading.
func NewTriangle(a, b, c Symbol) (Triangle, error) {
	closed := a.BaseAsset == b.BaseAsset &&
		b.QuoteAsset == c.BaseAsset &&
		a.QuoteAsset == c.QuoteAsset
	if !closed {
		return Triangle{}, ErrTriangleMismatch
	}
	for _, s := range []Symbol{a, b, c} {
		if !s.TradingEnabled {
			return Triangle{}, ErrTriangleMismatch
		}
	}
	return Triangle{Legs: [3]Symbol{a, b, c}}, nil
}
