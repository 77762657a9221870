package arb

import (
	"math"
	"strings"
	"testing"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func testTriangle(t *testing.T) domain.Triangle {
	t.Helper()
	a := domain.Symbol{Name: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", TickSize: 0.01, StepSize: 0.000001, TradingEnabled: true}
	b := domain.Symbol{Name: "BTCBUSD", BaseAsset: "BTC", QuoteAsset: "BUSD", TickSize: 0.01, StepSize: 0.000001, TradingEnabled: true}
	c := domain.Symbol{Name: "BUSDUSDT", BaseAsset: "BUSD", QuoteAsset: "USDT", TickSize: 0.0001, StepSize: 0.000001, TradingEnabled: true}
	tri, err := domain.NewTriangle(a, b, c)
	if err != nil {
		t.Fatalf("NewTriangle: %v", err)
	}
	return tri
}

func testParams() Params {
	return Params{
		ProfitMarginPct: 0.1,
		PriceGapPct:     0.01,
		ReferencePrice:  "mid",
		SanityLow:       0.95,
		SanityHigh:      1.5,
	}
}

func testAccount(btc, usdt, busd float64) domain.AccountSnapshot {
	return domain.AccountSnapshot{Balances: map[string]domain.Balance{
		"BTC":  {Asset: "BTC", Free: btc},
		"USDT": {Asset: "USDT", Free: usdt},
		"BUSD": {Asset: "BUSD", Free: busd},
	}}
}

// highSnapshot builds a snapshot where only the sell-A scenario crosses the
// threshold. Leg B carries the unique maximum band modifier (~1.5167) and
// leg A the strictly lowest ROC.
func highSnapshot() domain.TriangleSnapshot {
	return domain.TriangleSnapshot{Legs: [3]domain.LegQuote{
		{Symbol: "BTCUSDT", Ask: 7060, Bid: 7050, Close: 7055,
			Band: domain.Band{Lower: 7000, Upper: 7110}, ROC: -1.2},
		{Symbol: "BTCBUSD", Ask: 7050, Bid: 7041, Close: 7045.5,
			Band: domain.Band{Lower: 7000, Upper: 7060}, ROC: 0.4},
		{Symbol: "BUSDUSDT", Ask: 0.9995, Bid: 0.9990, Close: 0.99925,
			Band: domain.Band{Lower: 0.9980, Upper: 1.0006}, ROC: 0.1},
	}}
}

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestDecide_SellScenario(t *testing.T) {
	e := New(testTriangle(t), testParams())

	d := e.Decide(highSnapshot(), testAccount(1, 1, 1), false)
	if d.Err != "" {
		t.Fatalf("unexpected error: %s", d.Err)
	}
	if !d.Opportunity() {
		t.Fatalf("expected opportunity, got %+v", d)
	}
	if d.RefLeg != 0 {
		t.Fatalf("RefLeg=%d want 0", d.RefLeg)
	}

	// Threshold = margin/100 * leg-B modifier 1.516667.
	if !approx(d.Threshold, 0.1/100*(1+2*(0.758333333-0.5)), 1e-6) {
		t.Fatalf("Threshold=%v", d.Threshold)
	}
	if !approx(d.ScenarioHigh, 7060.0/7041/0.9990, 1e-9) {
		t.Fatalf("ScenarioHigh=%v", d.ScenarioHigh)
	}

	legA, legB, legC := d.Plan.Legs[0], d.Plan.Legs[1], d.Plan.Legs[2]
	if legA.Side != domain.SideSell || legB.Side != domain.SideBuy || legC.Side != domain.SideBuy {
		t.Fatalf("sides = %s %s %s, want SELL BUY BUY", legA.Side, legB.Side, legC.Side)
	}

	// Prices are top-of-book skewed by the gap and floored to the tick.
	if !approx(legA.Price, 7060.70, 1e-9) {
		t.Fatalf("legA.Price=%v want 7060.70", legA.Price)
	}
	if !approx(legB.Price, 7040.29, 1e-9) {
		t.Fatalf("legB.Price=%v want 7040.29", legB.Price)
	}
	if !approx(legC.Price, 0.9989, 1e-9) {
		t.Fatalf("legC.Price=%v want 0.9989", legC.Price)
	}

	// q is capped by the BUSD balance through leg B: 1/pB floored to the
	// step. Leg C converts q back through pB, so its size is ~1 BUSD.
	if !approx(legA.Quantity, 0.000141, 1e-9) {
		t.Fatalf("legA.Quantity=%v want 0.000141", legA.Quantity)
	}
	if legB.Quantity != legA.Quantity {
		t.Fatalf("legB.Quantity=%v want %v", legB.Quantity, legA.Quantity)
	}
	if legC.Quantity > 1.0 || legC.Quantity < 0.999998 {
		t.Fatalf("legC.Quantity=%v want ~1.0", legC.Quantity)
	}
}

func TestDecide_BuyScenario(t *testing.T) {
	snap := domain.TriangleSnapshot{Legs: [3]domain.LegQuote{
		{Symbol: "BTCUSDT", Ask: 7040, Bid: 7030, Close: 7035,
			Band: domain.Band{Lower: 6980, Upper: 7090}, ROC: -1.2},
		{Symbol: "BTCBUSD", Ask: 7050, Bid: 7045, Close: 7047.5,
			Band: domain.Band{Lower: 7000, Upper: 7060}, ROC: 0.4},
		{Symbol: "BUSDUSDT", Ask: 0.9995, Bid: 0.9990, Close: 0.99925,
			Band: domain.Band{Lower: 0.9980, Upper: 1.0006}, ROC: 0.1},
	}}

	e := New(testTriangle(t), testParams())
	d := e.Decide(snap, testAccount(1, 1, 1), false)
	if !d.Opportunity() {
		t.Fatalf("expected opportunity: %+v", d)
	}

	legA, legB, legC := d.Plan.Legs[0], d.Plan.Legs[1], d.Plan.Legs[2]
	if legA.Side != domain.SideBuy || legB.Side != domain.SideSell || legC.Side != domain.SideSell {
		t.Fatalf("sides = %s %s %s, want BUY SELL SELL", legA.Side, legB.Side, legC.Side)
	}
	if !approx(legA.Price, 7029.29, 1e-9) {
		t.Fatalf("legA.Price=%v want 7029.29", legA.Price)
	}
	if !approx(legB.Price, 7050.70, 1e-9) {
		t.Fatalf("legB.Price=%v want 7050.70", legB.Price)
	}
	if !approx(legC.Price, 0.9995, 1e-9) {
		t.Fatalf("legC.Price=%v want 0.9995", legC.Price)
	}
	if !approx(legA.Quantity, 0.000141, 1e-9) {
		t.Fatalf("legA.Quantity=%v want 0.000141", legA.Quantity)
	}
}

func TestDecide_NoOpportunityInsideThreshold(t *testing.T) {
	snap := domain.TriangleSnapshot{Legs: [3]domain.LegQuote{
		{Symbol: "BTCUSDT", Ask: 7045.60, Bid: 7045.50, Close: 7045.55,
			Band: domain.Band{Lower: 7000, Upper: 7091.1}, ROC: -1.2},
		{Symbol: "BTCBUSD", Ask: 7045.65, Bid: 7045.45, Close: 7045.55,
			Band: domain.Band{Lower: 7000, Upper: 7061}, ROC: 0.4},
		{Symbol: "BUSDUSDT", Ask: 1.00005, Bid: 0.99995, Close: 1.0,
			Band: domain.Band{Lower: 0.99, Upper: 1.01}, ROC: 0.1},
	}}

	e := New(testTriangle(t), testParams())
	d := e.Decide(snap, testAccount(1, 1, 1), false)
	if d.Err != "" {
		t.Fatalf("unexpected error: %s", d.Err)
	}
	if d.Opportunity() {
		t.Fatalf("expected no opportunity, got plan %+v", d.Plan)
	}
	if !d.Plan.None() {
		t.Fatalf("plan should be empty")
	}
	if d.RefLeg != 0 {
		t.Fatalf("RefLeg=%d want 0", d.RefLeg)
	}
}

func TestDecide_InFlightShortCircuits(t *testing.T) {
	e := New(testTriangle(t), testParams())
	d := e.Decide(highSnapshot(), testAccount(1, 1, 1), true)
	if d.Err != domain.ErrBusy.Error() {
		t.Fatalf("Err=%q want %q", d.Err, domain.ErrBusy.Error())
	}
	if !d.Plan.None() {
		t.Fatalf("busy decision must not carry a plan")
	}
	if d.RefLeg != -1 {
		t.Fatalf("RefLeg=%d want -1", d.RefLeg)
	}
}

func TestDecide_ImplausibleRatio(t *testing.T) {
	snap := highSnapshot()
	// Leg C priced as if the bridge were worth double: pA/(pB*pC) ~ 0.5.
	snap.Legs[2].Ask, snap.Legs[2].Bid, snap.Legs[2].Close = 2.0, 1.999, 2.0

	e := New(testTriangle(t), testParams())
	d := e.Decide(snap, testAccount(1, 1, 1), false)
	if !strings.Contains(d.Err, domain.ErrImplausibleRatio.Error()) {
		t.Fatalf("Err=%q want implausible ratio", d.Err)
	}
	if !d.Plan.None() {
		t.Fatalf("rejected cycle must not carry a plan")
	}
}

func TestDecide_BandModifierTie(t *testing.T) {
	snap := highSnapshot()
	// Put every reference price exactly at its band middle: all modifiers 1.0.
	for i := range snap.Legs {
		mid := snap.Legs[i].Mid()
		snap.Legs[i].Band = domain.Band{Lower: mid - 1, Upper: mid + 1}
	}

	e := New(testTriangle(t), testParams())
	d := e.Decide(snap, testAccount(1, 1, 1), false)
	if !strings.Contains(d.Err, domain.ErrBandModifierTie.Error()) {
		t.Fatalf("Err=%q want band modifier tie", d.Err)
	}
}

func TestDecide_ReferenceLegTie(t *testing.T) {
	snap := highSnapshot()
	snap.Legs[1].ROC = snap.Legs[0].ROC

	e := New(testTriangle(t), testParams())
	d := e.Decide(snap, testAccount(1, 1, 1), false)
	if !strings.Contains(d.Err, domain.ErrNoReferenceLeg.Error()) {
		t.Fatalf("Err=%q want no reference leg", d.Err)
	}
	if d.RefLeg != -1 {
		t.Fatalf("RefLeg=%d want -1", d.RefLeg)
	}
}

func TestDecide_InsufficientBalance(t *testing.T) {
	e := New(testTriangle(t), testParams())
	d := e.Decide(highSnapshot(), testAccount(0, 0, 0), false)
	if !strings.Contains(d.Err, domain.ErrInsufficientSize.Error()) {
		t.Fatalf("Err=%q want insufficient size", d.Err)
	}
	if d.Opportunity() {
		t.Fatalf("insufficient balance must not be an opportunity")
	}
}

func TestDecide_CloseReferencePrice(t *testing.T) {
	params := testParams()
	params.ReferencePrice = "close"
	snap := highSnapshot()
	// Shift closes so the close-based modifier differs from the mid-based
	// one; leg B stays the unique maximum.
	snap.Legs[1].Close = 7050

	e := New(testTriangle(t), params)
	d := e.Decide(snap, testAccount(1, 1, 1), false)
	if d.Err != "" {
		t.Fatalf("unexpected error: %s", d.Err)
	}
	want := 0.1 / 100 * (1 + 2*((7050.0-7000)/60-0.5))
	if !approx(d.Threshold, want, 1e-9) {
		t.Fatalf("Threshold=%v want %v", d.Threshold, want)
	}
}

func TestBandModifier(t *testing.T) {
	band := domain.Band{Lower: 100, Upper: 200}

	cases := []struct {
		price float64
		want  float64
	}{
		{150, 1.0}, // middle
		{100, 2.0}, // lower edge
		{200, 2.0}, // upper edge
		{125, 1.5},
		{175, 1.5},
		{250, 3.0}, // outside the band keeps scaling
	}
	for _, tc := range cases {
		got, err := BandModifier(tc.price, band)
		if err != nil {
			t.Fatalf("BandModifier(%v): %v", tc.price, err)
		}
		if !approx(got, tc.want, 1e-12) {
			t.Fatalf("BandModifier(%v)=%v want %v", tc.price, got, tc.want)
		}
	}

	if _, err := BandModifier(1, domain.Band{Lower: 5, Upper: 5}); err == nil {
		t.Fatalf("degenerate band must error")
	}
}

func TestPlanQuantitiesNeverExceedConstraints(t *testing.T) {
	e := New(testTriangle(t), testParams())
	snap := highSnapshot()

	for _, busd := range []float64{0.5, 1, 3, 10} {
		d := e.Decide(snap, testAccount(1, 1, busd), false)
		if !d.Opportunity() {
			t.Fatalf("busd=%v: expected opportunity: %+v", busd, d)
		}
		pB := snap.Legs[1].Mid()
		if d.Plan.Legs[1].Quantity*pB > busd {
			t.Fatalf("busd=%v: leg B consumes %v BUSD", busd, d.Plan.Legs[1].Quantity*pB)
		}
		if d.Plan.Legs[0].Quantity > 1 {
			t.Fatalf("busd=%v: leg A consumes %v BTC", busd, d.Plan.Legs[0].Quantity)
		}
	}
}
