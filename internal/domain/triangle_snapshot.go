package domain

import "time"

// Band is one Bollinger band triple.
type Band struct {
	Lower  float64 `json:"lower"`
	Middle float64 `json:"middle"`
	Upper  float64 `json:"upper"`
}

// IndicatorSnapshot is the latest derived indicator state for one symbol.
// Ready is false until the candle window covers the largest lookback.
type IndicatorSnapshot struct {
	Symbol string
	Band   Band
	ROC    float64
	Ready  bool
}

// LegQuote joins the latest known market state for one triangle leg.
type LegQuote struct {
	Symbol string  `json:"symbol"`
	Ask    float64 `json:"ask"`
	Bid    float64 `json:"bid"`
	Close  float64 `json:"close"` // latest candle close
	Band   Band    `json:"band"`
	ROC    float64 `json:"roc"`
}

// Mid returns the ask/bid midpoint for the leg.
func (q LegQuote) Mid() float64 {
	return (q.Ask + q.Bid) / 2
}

// TriangleSnapshot is the joined state of all three legs, valid only once
// every constituent field has produced at least one value.
type TriangleSnapshot struct {
	Legs      [3]LegQuote `json:"legs"`
	EmittedAt time.Time   `json:"emitted_at"`
}
