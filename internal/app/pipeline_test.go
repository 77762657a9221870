package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/triarb/internal/config"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/exchange"
)

const exchangeInfoBody = `{"symbols":[
	{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
	 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","stepSize":"0.000001"}]},
	{"symbol":"BTCBUSD","status":"TRADING","baseAsset":"BTC","quoteAsset":"BUSD",
	 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","stepSize":"0.000001"}]},
	{"symbol":"BUSDUSDT","status":"TRADING","baseAsset":"BUSD","quoteAsset":"USDT",
	 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.0001"},{"filterType":"LOT_SIZE","stepSize":"1"}]}
]}`

func testPipeline(t *testing.T, depthCalls *atomic.Int64) *Pipeline {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	})
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		depthCalls.Add(1)
		fmt.Fprint(w, `{"lastUpdateId":200,"bids":[["7000.00","1.0"]],"asks":[["7001.00","2.0"]]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	deps := &Dependencies{
		Exchange: exchange.NewClient(srv.URL, nil, 0),
		WS:       exchange.NewWSClient("wss://example.invalid"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := NewPipeline(context.Background(), &cfg, deps, logger)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func seededBook(t *testing.T, p *Pipeline, symbol string) {
	t.Helper()
	err := p.books[symbol].Seed(domain.BookSnapshot{
		Symbol:       symbol,
		LastUpdateID: 100,
		Bids:         []domain.PriceLevel{{Price: 7000, Quantity: 1}},
		Asks:         []domain.PriceLevel{{Price: 7001, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
}

func TestGappedDeltaTriggersSnapshotRefetch(t *testing.T) {
	var depthCalls atomic.Int64
	p := testPipeline(t, &depthCalls)
	seededBook(t, p, "BTCUSDT")

	// A delta that skips ahead of the applied sequence must invalidate the
	// book and queue a fresh snapshot fetch.
	p.onDepthDelta(domain.DepthDelta{
		Symbol:        "BTCUSDT",
		FirstUpdateID: 150,
		FinalUpdateID: 151,
		EventTime:     time.Now().UTC(),
	})
	if !p.books["BTCUSDT"].NeedsResync() {
		t.Fatalf("book not invalidated after gapped delta")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.resyncLoop(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return depthCalls.Load() >= 1 && !p.books["BTCUSDT"].NeedsResync()
	})

	top, ok := p.books["BTCUSDT"].Top()
	if !ok {
		t.Fatalf("book top unavailable after resync")
	}
	if top.BidPrice != 7000 || top.AskPrice != 7001 {
		t.Fatalf("top = %+v", top)
	}
}

func TestContiguousDeltaDoesNotRefetch(t *testing.T) {
	var depthCalls atomic.Int64
	p := testPipeline(t, &depthCalls)
	seededBook(t, p, "BTCUSDT")

	p.onDepthDelta(domain.DepthDelta{
		Symbol:        "BTCUSDT",
		FirstUpdateID: 101,
		FinalUpdateID: 102,
		Bids:          []domain.PriceLevel{{Price: 7000.5, Quantity: 1}},
		EventTime:     time.Now().UTC(),
	})

	if p.books["BTCUSDT"].NeedsResync() {
		t.Fatalf("contiguous delta invalidated the book")
	}
	select {
	case sym := <-p.resyncCh:
		t.Fatalf("unexpected resync request for %s", sym)
	default:
	}

	top, ok := p.books["BTCUSDT"].Top()
	if !ok || top.BidPrice != 7000.5 {
		t.Fatalf("top = %+v ok=%v", top, ok)
	}
}

func TestDecisionCycleEmitsOneEventPerOutcome(t *testing.T) {
	var depthCalls atomic.Int64
	p := testPipeline(t, &depthCalls)
	ctx := context.Background()

	rejected := domain.Decision{
		ID:          "d-1",
		Err:         "book stale",
		EvaluatedAt: time.Now().UTC(),
	}
	p.publishDecision(ctx, rejected)

	plan := domain.ArbitragePlan{Legs: [3]domain.PlanLeg{
		{Symbol: "BTCUSDT", Side: domain.SideBuy, Price: 7001, Quantity: 0.01},
		{Symbol: "BTCBUSD", Side: domain.SideSell, Price: 7002, Quantity: 0.01},
		{Symbol: "BUSDUSDT", Side: domain.SideSell, Price: 1.0, Quantity: 70},
	}}
	opportunity := domain.Decision{ID: "d-2", Plan: plan, EvaluatedAt: time.Now().UTC()}
	p.publishDecision(ctx, opportunity)

	// Recent is newest first: the opportunity event precedes the rejection.
	events := p.Events.Recent(10)
	if len(events) != 2 {
		t.Fatalf("events = %d, want one per cycle", len(events))
	}
	if events[1].Level != domain.EventWarn || !strings.Contains(events[1].Message, "d-1") {
		t.Fatalf("rejected cycle event = %+v", events[1])
	}
	if events[0].Level != domain.EventInfo || !strings.Contains(events[0].Message, "BTCUSDT") {
		t.Fatalf("opportunity event = %+v", events[0])
	}
	if got := len(p.Decisions.Recent(10)); got != 2 {
		t.Fatalf("decision replay = %d, want 2", got)
	}
}

func TestStateStreamsPublishOnUpdates(t *testing.T) {
	var depthCalls atomic.Int64
	p := testPipeline(t, &depthCalls)

	p.onAccountUpdate([]domain.Balance{{Asset: "USDT", Free: 100}}, time.Now().UTC())
	acct, ok := p.Balances.Latest()
	if !ok || acct.Available("USDT") != 100 {
		t.Fatalf("balances latest = %+v ok=%v", acct, ok)
	}

	p.onExecutionReport(domain.Order{OrderID: 7, Symbol: "BTCUSDT", Side: domain.SideBuy, Status: "FILLED"})
	order, ok := p.Orders.Latest()
	if !ok || order.OrderID != 7 {
		t.Fatalf("orders latest = %+v ok=%v", order, ok)
	}

	open := time.Now().UTC().Truncate(time.Minute)
	p.onKline(domain.Candle{Symbol: "BTCUSDT", OpenTime: open, CloseTime: open.Add(time.Minute), Close: 7000}, true)
	candle, ok := p.Candles.Latest()
	if !ok || candle.Close != 7000 {
		t.Fatalf("candles latest = %+v ok=%v", candle, ok)
	}
	ind, ok := p.Indicators.Latest()
	if !ok || ind.Symbol != "BTCUSDT" {
		t.Fatalf("indicators latest = %+v ok=%v", ind, ok)
	}

	seededBook(t, p, "BTCUSDT")
	p.onDepthDelta(domain.DepthDelta{
		Symbol:        "BTCUSDT",
		FirstUpdateID: 101,
		FinalUpdateID: 101,
		Bids:          []domain.PriceLevel{{Price: 6999, Quantity: 2}},
		EventTime:     time.Now().UTC(),
	})
	top, ok := p.Books.Latest()
	if !ok || top.Symbol != "BTCUSDT" {
		t.Fatalf("books latest = %+v ok=%v", top, ok)
	}
}
