package domain

import "time"

// PlanLeg is one priced, sized order of an arbitrage plan.
type PlanLeg struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
}

// ArbitragePlan is a fully priced three-leg order plan. The zero value is
// not a valid plan; use None to represent "no opportunity".
type ArbitragePlan struct {
	Legs [3]PlanLeg `json:"legs"`
}

// None reports whether the plan is empty (no opportunity).
func (p ArbitragePlan) None() bool {
	return p == ArbitragePlan{}
}

// Equal reports structural equality with q. Two consecutive equal plans must
// not both be submitted.
func (p ArbitragePlan) Equal(q ArbitragePlan) bool {
	return p == q
}

// Decision records the outcome of one evaluation cycle, opportunity or not.
type Decision struct {
	ID           string        `json:"id"`
	Plan         ArbitragePlan `json:"plan"`
	ScenarioLow  float64       `json:"scenario_low"`
	ScenarioHigh float64       `json:"scenario_high"`
	Threshold    float64       `json:"threshold"`
	RefLeg       int           `json:"ref_leg"` // index of the reference leg, -1 when undecided
	Err          string        `json:"error,omitempty"`
	EvaluatedAt  time.Time     `json:"evaluated_at"`
}

// Opportunity reports whether the cycle produced a submittable plan.
func (d Decision) Opportunity() bool {
	return d.Err == "" && !d.Plan.None()
}
