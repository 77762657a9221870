package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlacer records requests and serves canned responses. An optional
// release channel blocks PlaceOrder so tests can hold a submission in
// flight.
type fakePlacer struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	failAt   int // 1-based leg index to fail at, 0 for never
	started  chan struct{}
	release  chan struct{}
}

func (f *fakePlacer) PlaceOrder(ctx context.Context, req domain.OrderRequest, test bool) (domain.OrderResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if f.started != nil && n == 1 {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.failAt != 0 && n == f.failAt {
		return domain.OrderResult{}, errors.New("rejected")
	}
	return domain.OrderResult{
		OrderID:       int64(n),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        "NEW",
		Test:          test,
	}, nil
}

func testPlan(price float64) domain.ArbitragePlan {
	return domain.ArbitragePlan{Legs: [3]domain.PlanLeg{
		{Symbol: "BTCUSDT", Side: domain.SideSell, Price: price, Quantity: 0.001},
		{Symbol: "BTCBUSD", Side: domain.SideBuy, Price: price - 10, Quantity: 0.001},
		{Symbol: "BUSDUSDT", Side: domain.SideBuy, Price: 0.999, Quantity: 7},
	}}
}

func TestGateSubmitsAllLegs(t *testing.T) {
	placer := &fakePlacer{}
	g := NewGate(placer, true, testLogger())

	results, err := g.Submit(context.Background(), "d1", testPlan(7000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results=%d want 3", len(results))
	}
	for i, res := range results {
		if !res.Test {
			t.Fatalf("leg %d not routed to the test endpoint", i)
		}
		if res.ClientOrderID == "" {
			t.Fatalf("leg %d missing client order ID", i)
		}
	}
	if placer.requests[0].Side != domain.SideSell || placer.requests[1].Side != domain.SideBuy {
		t.Fatalf("legs submitted out of order: %+v", placer.requests)
	}
	if g.InFlight() {
		t.Fatalf("gate still in flight after completion")
	}
}

func TestGateEmptyPlanIsNoop(t *testing.T) {
	placer := &fakePlacer{}
	g := NewGate(placer, true, testLogger())

	results, err := g.Submit(context.Background(), "d1", domain.ArbitragePlan{})
	if err != nil || results != nil {
		t.Fatalf("empty plan: results=%v err=%v", results, err)
	}
	if len(placer.requests) != 0 {
		t.Fatalf("empty plan reached the placer")
	}
}

func TestGateSuppressesDuplicatePlan(t *testing.T) {
	placer := &fakePlacer{}
	g := NewGate(placer, true, testLogger())

	if _, err := g.Submit(context.Background(), "d1", testPlan(7000)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := g.Submit(context.Background(), "d2", testPlan(7000)); !errors.Is(err, domain.ErrDuplicatePlan) {
		t.Fatalf("err = %v want ErrDuplicatePlan", err)
	}
	if len(placer.requests) != 3 {
		t.Fatalf("duplicate plan reached the placer")
	}

	// A structurally different plan passes.
	if _, err := g.Submit(context.Background(), "d3", testPlan(7001)); err != nil {
		t.Fatalf("Submit new plan: %v", err)
	}
}

func TestGateSingleFlight(t *testing.T) {
	placer := &fakePlacer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	g := NewGate(placer, true, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), "d1", testPlan(7000))
		done <- err
	}()

	<-placer.started
	if !g.InFlight() {
		t.Fatalf("gate not in flight during submission")
	}
	if _, err := g.Submit(context.Background(), "d2", testPlan(7001)); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("err = %v want ErrBusy", err)
	}

	close(placer.release)
	if err := <-done; err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if g.InFlight() {
		t.Fatalf("gate still in flight after release")
	}
}

func TestGateReleasesOnFailure(t *testing.T) {
	placer := &fakePlacer{failAt: 2}
	g := NewGate(placer, false, testLogger())

	results, err := g.Submit(context.Background(), "d1", testPlan(7000))
	if err == nil {
		t.Fatalf("expected leg failure")
	}
	if len(results) != 1 {
		t.Fatalf("results=%d want the 1 leg placed before the failure", len(results))
	}
	if g.InFlight() {
		t.Fatalf("gate must release on failure")
	}

	// The gate stays open for the next, different plan.
	placer.failAt = 0
	if _, err := g.Submit(context.Background(), "d2", testPlan(7001)); err != nil {
		t.Fatalf("Submit after failure: %v", err)
	}
}
