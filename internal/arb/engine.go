// Package arb evaluates triangle snapshots for executable arbitrage
// opportunities.
package arb

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/google/uuid"
)

// Params are the tunables of the decision function.
type Params struct {
	// ProfitMarginPct is the base profit margin in percent, before the
	// band modifier is applied.
	ProfitMarginPct float64

	// PriceGapPct skews limit prices away from the top of book in
	// percent: ask prices up, bid prices down.
	PriceGapPct float64

	// ReferencePrice selects the per-leg reference price: "mid" for the
	// ask/bid midpoint, "close" for the latest candle close.
	ReferencePrice string

	// SanityLow and SanityHigh bound the plausible mid-price ratio
	// pA / (pB * pC). A ratio outside the band means mispriced or
	// mismatched inputs and rejects the cycle.
	SanityLow  float64
	SanityHigh float64
}

// Engine evaluates triangle snapshots against account balances. Decide is
// pure apart from the decision ID and timestamp.
type Engine struct {
	tri    domain.Triangle
	params Params
}

// New creates an engine for the given triangle.
func New(tri domain.Triangle, params Params) *Engine {
	return &Engine{tri: tri, params: params}
}

// Decide evaluates one snapshot. The returned decision always carries the
// scenario ratios and threshold that were computed; invariant violations
// surface in Decision.Err and never produce a plan. An insufficient
// balance yields an empty plan with the reason recorded.
func (e *Engine) Decide(snap domain.TriangleSnapshot, acct domain.AccountSnapshot, inFlight bool) domain.Decision {
	d := domain.Decision{
		ID:          uuid.NewString(),
		RefLeg:      -1,
		EvaluatedAt: time.Now().UTC(),
	}

	if inFlight {
		d.Err = domain.ErrBusy.Error()
		return d
	}

	legA, legB, legC := snap.Legs[0], snap.Legs[1], snap.Legs[2]
	d.ScenarioLow = legA.Bid / legB.Ask / legC.Ask
	d.ScenarioHigh = legA.Ask / legB.Bid / legC.Bid

	pA, pB, pC := e.referencePrice(legA), e.referencePrice(legB), e.referencePrice(legC)

	// Dimensional sanity: the triangle identity makes pA ~= pB * pC.
	ratio := pA / (pB * pC)
	if ratio < e.params.SanityLow || ratio > e.params.SanityHigh {
		d.Err = fmt.Errorf("%w: %.6f", domain.ErrImplausibleRatio, ratio).Error()
		return d
	}

	modifier, err := maxBandModifier(snap, [3]float64{pA, pB, pC})
	if err != nil {
		d.Err = err.Error()
		return d
	}
	d.Threshold = e.params.ProfitMarginPct / 100 * modifier

	refLeg, err := referenceLeg(snap)
	if err != nil {
		d.Err = err.Error()
		return d
	}
	d.RefLeg = refLeg

	var plan domain.ArbitragePlan
	switch {
	case d.ScenarioLow < 1-d.Threshold:
		plan, err = e.buildPlan(snap, acct, refLeg, pA, pB, pC, false)
	case d.ScenarioHigh > 1+d.Threshold:
		plan, err = e.buildPlan(snap, acct, refLeg, pA, pB, pC, true)
	default:
		return d
	}
	if err != nil {
		d.Err = err.Error()
		return d
	}

	d.Plan = plan
	return d
}

// referencePrice returns the configured per-leg reference price.
func (e *Engine) referencePrice(leg domain.LegQuote) float64 {
	if e.params.ReferencePrice == "close" {
		return leg.Close
	}
	return leg.Mid()
}

// BandModifier computes the band-position threshold modifier
// 1 + 2*|((p - lower) / (upper - lower)) - 0.5| for a price within its
// Bollinger band: 1.0 at the middle, 2.0 at either edge.
func BandModifier(price float64, band domain.Band) (float64, error) {
	width := band.Upper - band.Lower
	if width <= 0 {
		return 0, fmt.Errorf("arb: degenerate band [%.8f, %.8f]", band.Lower, band.Upper)
	}
	pos := (price - band.Lower) / width
	return 1 + 2*math.Abs(pos-0.5), nil
}

// maxBandModifier returns the strictly largest per-leg band modifier. Two
// legs sharing the maximum is an error, not a silent pick.
func maxBandModifier(snap domain.TriangleSnapshot, prices [3]float64) (float64, error) {
	var mods [3]float64
	for i := range snap.Legs {
		m, err := BandModifier(prices[i], snap.Legs[i].Band)
		if err != nil {
			return 0, err
		}
		mods[i] = m
	}

	maxIdx := 0
	for i := 1; i < 3; i++ {
		if mods[i] > mods[maxIdx] {
			maxIdx = i
		}
	}
	for i := range mods {
		if i != maxIdx && mods[i] == mods[maxIdx] {
			return 0, fmt.Errorf("arb: %w: legs %d and %d at %.8f",
				domain.ErrBandModifierTie, maxIdx, i, mods[maxIdx])
		}
	}
	return mods[maxIdx], nil
}

// referenceLeg returns the index of the leg whose rate-of-change is
// strictly below both others.
func referenceLeg(snap domain.TriangleSnapshot) (int, error) {
	minIdx := 0
	for i := 1; i < 3; i++ {
		if snap.Legs[i].ROC < snap.Legs[minIdx].ROC {
			minIdx = i
		}
	}
	for i := range snap.Legs {
		if i != minIdx && snap.Legs[i].ROC == snap.Legs[minIdx].ROC {
			return -1, fmt.Errorf("arb: %w: legs %d and %d at %.6f",
				domain.ErrNoReferenceLeg, minIdx, i, snap.Legs[minIdx].ROC)
		}
	}
	return minIdx, nil
}

// buildPlan sizes and prices the three legs for one scenario.
//
// The triangle's assets are X = base of leg A, Z = quote of leg A, Y =
// quote of leg B. The tradable size q is expressed in leg-A base units
// (X). Each leg consumes one asset; its available balance caps q:
//
//	scenarioLow  (buy A, sell B, sell C):  A: balZ/pA   B: balX       C: balY/pB
//	scenarioHigh (sell A, buy B, buy C):   A: balX      B: balY/pB    C: balZ/(pB*pC)
//
// The reference leg anchors pricing and is excluded; q is the minimum of
// the two remaining constraints.
func (e *Engine) buildPlan(snap domain.TriangleSnapshot, acct domain.AccountSnapshot, refLeg int, pA, pB, pC float64, high bool) (domain.ArbitragePlan, error) {
	assets := e.tri.Assets()
	balX := acct.Available(assets[0])
	balZ := acct.Available(assets[1])
	balY := acct.Available(assets[2])

	var constraints [3]float64
	if high {
		constraints = [3]float64{balX, balY / pB, balZ / (pB * pC)}
	} else {
		constraints = [3]float64{balZ / pA, balX, balY / pB}
	}

	q := math.Inf(1)
	for i, c := range constraints {
		if i == refLeg {
			continue
		}
		if c < q {
			q = c
		}
	}
	if q <= 0 || math.IsInf(q, 1) {
		return domain.ArbitragePlan{}, fmt.Errorf("arb: %w", domain.ErrInsufficientSize)
	}

	gap := e.params.PriceGapPct / 100
	skewAsk := func(p float64) float64 { return p * (1 + gap) }
	skewBid := func(p float64) float64 { return p * (1 - gap) }

	legA, legB, legC := snap.Legs[0], snap.Legs[1], snap.Legs[2]
	symA, symB, symC := e.tri.Legs[0], e.tri.Legs[1], e.tri.Legs[2]

	var plan domain.ArbitragePlan
	if high {
		// A is rich against B*C: sell A at the ask, buy it back through
		// B and C at their bids.
		plan.Legs = [3]domain.PlanLeg{
			{Symbol: symA.Name, Side: domain.SideSell, Price: symA.TruncatePrice(skewAsk(legA.Ask)), Quantity: symA.TruncateQuantity(q)},
			{Symbol: symB.Name, Side: domain.SideBuy, Price: symB.TruncatePrice(skewBid(legB.Bid)), Quantity: symB.TruncateQuantity(q)},
			{Symbol: symC.Name, Side: domain.SideBuy, Price: symC.TruncatePrice(skewBid(legC.Bid)), Quantity: symC.TruncateQuantity(q * pB)},
		}
	} else {
		// A is cheap against B*C: buy A at the bid, unwind through B and
		// C at their asks.
		plan.Legs = [3]domain.PlanLeg{
			{Symbol: symA.Name, Side: domain.SideBuy, Price: symA.TruncatePrice(skewBid(legA.Bid)), Quantity: symA.TruncateQuantity(q)},
			{Symbol: symB.Name, Side: domain.SideSell, Price: symB.TruncatePrice(skewAsk(legB.Ask)), Quantity: symB.TruncateQuantity(q)},
			{Symbol: symC.Name, Side: domain.SideSell, Price: symC.TruncatePrice(skewAsk(legC.Ask)), Quantity: symC.TruncateQuantity(q * pB)},
		}
	}

	for _, leg := range plan.Legs {
		if leg.Quantity <= 0 || leg.Price <= 0 {
			return domain.ArbitragePlan{}, fmt.Errorf("arb: %s: %w", leg.Symbol, domain.ErrInsufficientSize)
		}
	}

	return plan, nil
}
