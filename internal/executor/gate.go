// Package executor serializes plan submission behind a single-flight gate.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/google/uuid"
)

// OrderPlacer is the interface through which the gate submits orders to
// the exchange. When test is true the order must be validated without
// committing capital.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest, test bool) (domain.OrderResult, error)
}

// Gate is the Idle -> Submitting -> Idle execution state machine. At most
// one plan is in flight at a time; admission and release happen under one
// mutex, and release is unconditional on both success and failure. A plan
// structurally equal to the previously submitted one is suppressed.
type Gate struct {
	placer   OrderPlacer
	testMode bool
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight bool
	lastPlan domain.ArbitragePlan
	hasLast  bool
}

// NewGate creates a gate that submits through placer. In test mode orders
// are routed to the exchange's validate-only endpoint.
func NewGate(placer OrderPlacer, testMode bool, logger *slog.Logger) *Gate {
	return &Gate{
		placer:   placer,
		testMode: testMode,
		logger:   logger.With(slog.String("component", "gate")),
	}
}

// InFlight reports whether a submission is currently in progress. The
// decision function reads this to short-circuit evaluation cycles.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Submit admits and executes one plan: each leg becomes a limit order with
// a fresh client order ID. It returns ErrBusy when a submission is already
// in flight and ErrDuplicatePlan when the plan equals the previously
// submitted one. Leg results for successfully placed orders are returned
// even when a later leg fails.
func (g *Gate) Submit(ctx context.Context, decisionID string, plan domain.ArbitragePlan) ([]domain.OrderResult, error) {
	if plan.None() {
		return nil, nil
	}

	g.mu.Lock()
	if g.hasLast && plan.Equal(g.lastPlan) {
		g.mu.Unlock()
		g.logger.Debug("plan suppressed", slog.String("decision_id", decisionID))
		return nil, domain.ErrDuplicatePlan
	}
	if g.inFlight {
		g.mu.Unlock()
		return nil, domain.ErrBusy
	}
	g.inFlight = true
	g.lastPlan = plan
	g.hasLast = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight = false
		g.mu.Unlock()
	}()

	results := make([]domain.OrderResult, 0, len(plan.Legs))
	for _, leg := range plan.Legs {
		req := domain.OrderRequest{
			Symbol:        leg.Symbol,
			Side:          leg.Side,
			Price:         leg.Price,
			Quantity:      leg.Quantity,
			ClientOrderID: uuid.NewString(),
		}
		res, err := g.placer.PlaceOrder(ctx, req, g.testMode)
		if err != nil {
			g.logger.Error("plan submission failed",
				slog.String("decision_id", decisionID),
				slog.String("symbol", leg.Symbol),
				slog.String("side", string(leg.Side)),
				slog.String("error", err.Error()))
			return results, fmt.Errorf("executor: %s %s: %w", leg.Side, leg.Symbol, err)
		}
		results = append(results, res)
	}

	g.logger.Info("plan submitted",
		slog.String("decision_id", decisionID),
		slog.Bool("test_mode", g.testMode),
		slog.Int("legs", len(results)))
	return results, nil
}
