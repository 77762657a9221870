package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/triarb/internal/arb"
	"github.com/alanyoungcy/triarb/internal/cache/redis"
	"github.com/alanyoungcy/triarb/internal/config"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/exchange"
	"github.com/alanyoungcy/triarb/internal/executor"
	"github.com/alanyoungcy/triarb/internal/feed"
	"github.com/alanyoungcy/triarb/internal/indicator"
	"github.com/alanyoungcy/triarb/internal/stream"
	"github.com/alanyoungcy/triarb/internal/triangle"
	"golang.org/x/sync/errgroup"
)

// listenKeyKeepAlive is how often the user data stream is extended. The
// exchange expires idle listen keys after 60 minutes.
const listenKeyKeepAlive = 30 * time.Minute

// Pipeline owns the whole evaluation path: feed replicas, indicators, the
// triangle aggregator, the decision engine, and the execution gate. One
// Pipeline instance serves one triangle.
type Pipeline struct {
	cfg    *config.Config
	deps   *Dependencies
	logger *slog.Logger

	tri     domain.Triangle
	symbols []string

	books      map[string]*feed.BookReconciler
	candles    map[string]*feed.CandleSeries
	indicators map[string]*indicator.Engine
	account    *feed.AccountState
	trades     *feed.TradeHistory
	orders     *feed.OrderHistory

	aggregator *triangle.Aggregator
	engine     *arb.Engine
	gate       *executor.Gate

	// Decision loop plumbing.
	emissions chan domain.TriangleSnapshot
	resyncCh  chan string

	// Published read-only streams, one per reconciled state kind plus the
	// evaluation output and the textual event log.
	Triangles  *stream.Stream[domain.TriangleSnapshot]
	Decisions  *stream.Stream[domain.Decision]
	Balances   *stream.Stream[domain.AccountSnapshot]
	Orders     *stream.Stream[domain.Order]
	Books      *stream.Stream[domain.BookTop]
	Candles    *stream.Stream[domain.Candle]
	Indicators *stream.Stream[domain.IndicatorSnapshot]
	Events     *stream.Stream[domain.Event]

	submitEnabled bool
	listenKey     string
	startedAt     time.Time

	decisionCount    atomic.Int64
	opportunityCount atomic.Int64
}

// NewPipeline resolves the triangle against exchange metadata and builds
// the full evaluation path. It fails fast when the configured symbols do
// not form a closed, trading-enabled triangle.
func NewPipeline(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Pipeline, error) {
	symbols := cfg.Triangle.Symbols()

	meta, err := deps.Exchange.ExchangeInfo(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("app: exchange info: %w", err)
	}
	bySymbol := make(map[string]domain.Symbol, len(meta))
	for _, s := range meta {
		bySymbol[s.Name] = s
	}
	var legs [3]domain.Symbol
	for i, name := range symbols {
		s, ok := bySymbol[name]
		if !ok {
			return nil, fmt.Errorf("app: %w: symbol %s", domain.ErrNotFound, name)
		}
		legs[i] = s
	}
	tri, err := domain.NewTriangle(legs[0], legs[1], legs[2])
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	p := &Pipeline{
		cfg:           cfg,
		deps:          deps,
		logger:        logger.With(slog.String("component", "pipeline")),
		tri:           tri,
		symbols:       symbols,
		books:         make(map[string]*feed.BookReconciler, 3),
		candles:       make(map[string]*feed.CandleSeries, 3),
		indicators:    make(map[string]*indicator.Engine, 3),
		account:       feed.NewAccountState(),
		trades:        feed.NewTradeHistory(symbols, cfg.Feed.TradeHistory),
		orders:        feed.NewOrderHistory(symbols, cfg.Feed.OrderHistory),
		emissions:     make(chan domain.TriangleSnapshot, 1),
		resyncCh:      make(chan string, 8),
		Triangles:     stream.New[domain.TriangleSnapshot](1),
		Decisions:     stream.New[domain.Decision](256),
		Balances:      stream.New[domain.AccountSnapshot](1),
		Orders:        stream.New[domain.Order](64),
		Books:         stream.New[domain.BookTop](3),
		Candles:       stream.New[domain.Candle](3),
		Indicators:    stream.New[domain.IndicatorSnapshot](3),
		Events:        stream.New[domain.Event](256),
		submitEnabled: cfg.Mode == "trade",
		startedAt:     time.Now().UTC(),
	}

	interval := cfg.Indicator.CandleInterval.Duration
	for _, name := range symbols {
		p.books[name] = feed.NewBookReconciler(name, logger)
		p.candles[name] = feed.NewCandleSeries(name, interval, cfg.Indicator.WindowCap())
		p.indicators[name] = indicator.NewEngine(name, cfg.Indicator.BandPeriod, cfg.Indicator.BandStdDev, cfg.Indicator.RocPeriod)
	}

	p.aggregator = triangle.NewAggregator(tri, cfg.Arbitrage.EmitInterval.Duration, p.onEmit)
	p.engine = arb.New(tri, arb.Params{
		ProfitMarginPct: cfg.Arbitrage.ProfitMarginPct,
		PriceGapPct:     cfg.Arbitrage.PriceGapPct,
		ReferencePrice:  cfg.Arbitrage.ReferencePrice,
		SanityLow:       cfg.Arbitrage.SanityLow,
		SanityHigh:      cfg.Arbitrage.SanityHigh,
	})
	p.gate = executor.NewGate(deps.Exchange, cfg.Arbitrage.TestMode, logger)

	p.registerHandlers()

	return p, nil
}

// registerHandlers attaches the stream callbacks that keep the local
// replicas current and drive the aggregator.
func (p *Pipeline) registerHandlers() {
	ws := p.deps.WS
	ws.OnDepthDelta(p.onDepthDelta)
	ws.OnKline(p.onKline)
	ws.OnTrade(p.onTrade)
	ws.OnAccountUpdate(p.onAccountUpdate)
	ws.OnExecutionReport(p.onExecutionReport)
	ws.OnReconnect(p.onStreamReconnect)
}

func (p *Pipeline) onDepthDelta(delta domain.DepthDelta) {
	book, ok := p.books[delta.Symbol]
	if !ok {
		return
	}
	if err := book.Apply(delta); err != nil {
		if errors.Is(err, domain.ErrSequenceGap) {
			p.aggregator.InvalidateTop(delta.Symbol)
			p.requestResync(delta.Symbol)
		}
		return
	}
	if top, ok := book.Top(); ok {
		p.aggregator.UpdateTop(top)
		p.Books.Publish(top)
	}
}

func (p *Pipeline) onKline(candle domain.Candle, closed bool) {
	series, ok := p.candles[candle.Symbol]
	if !ok {
		return
	}
	if err := series.Update(candle); err != nil {
		p.logger.Debug("candle update rejected",
			slog.String("symbol", candle.Symbol),
			slog.String("error", err.Error()))
		return
	}
	p.Candles.Publish(candle)

	snap := p.indicators[candle.Symbol].Compute(series.Closes())
	p.aggregator.UpdateIndicator(snap)
	p.aggregator.UpdateClose(candle.Symbol, candle.Close)
	p.Indicators.Publish(snap)
}

func (p *Pipeline) onTrade(t domain.Trade) {
	p.trades.Record(t)
}

func (p *Pipeline) onAccountUpdate(balances []domain.Balance, at time.Time) {
	p.account.ApplyUpdate(balances, at)
	p.Balances.Publish(p.account.Snapshot())
}

func (p *Pipeline) onExecutionReport(o domain.Order) {
	p.orders.Record(o)
	p.Orders.Publish(o)
}

// onStreamReconnect runs after a transport-level reconnect. The delta
// sequence is broken for every book; all three need a fresh snapshot.
func (p *Pipeline) onStreamReconnect() {
	p.logger.Warn("stream reconnected, invalidating books")
	p.event(domain.EventWarn, "stream reconnected, re-seeding all books")
	for _, name := range p.symbols {
		p.books[name].Invalidate()
		p.aggregator.InvalidateTop(name)
		p.requestResync(name)
	}
}

// event appends one line to the textual event log stream.
func (p *Pipeline) event(level, message string) {
	p.Events.Publish(domain.Event{Level: level, Message: message, At: time.Now().UTC()})
}

// onEmit receives joined snapshots from the aggregator. Latest wins: an
// unconsumed snapshot is replaced rather than queued.
func (p *Pipeline) onEmit(snap domain.TriangleSnapshot) {
	for {
		select {
		case p.emissions <- snap:
			return
		default:
			select {
			case <-p.emissions:
			default:
			}
		}
	}
}

// requestResync queues a snapshot refresh for symbol without blocking the
// stream callback.
func (p *Pipeline) requestResync(symbol string) {
	select {
	case p.resyncCh <- symbol:
	default:
	}
}

// Run executes the pipeline under a restart budget: each attempt performs
// the cold start and runs the loops until failure or shutdown. Transient
// attempt failures consume the budget; exceeding it is fatal.
func (p *Pipeline) Run(ctx context.Context) error {
	backoff := p.cfg.Supervisor.RestartBackoff.Duration
	var attempt int

	for {
		err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt > p.cfg.Supervisor.MaxRestarts {
			return fmt.Errorf("app: pipeline restart budget exhausted after %d attempts: %w", attempt, err)
		}

		p.logger.Error("pipeline attempt failed, restarting",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// runOnce performs one cold start and runs the decision, resync, and
// keepalive loops until one fails or the context is cancelled.
func (p *Pipeline) runOnce(ctx context.Context) error {
	if err := p.coldStart(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.decisionLoop(gctx) })
	g.Go(func() error { return p.resyncLoop(gctx) })
	g.Go(func() error { return p.keepAliveLoop(gctx) })
	return g.Wait()
}

// coldStart connects the stream, subscribes to all feeds, and seeds every
// local replica so the aggregator's gate can open. Any failure aborts the
// attempt with no partial state served.
func (p *Pipeline) coldStart(ctx context.Context) error {
	ex := p.deps.Exchange
	ws := p.deps.WS
	interval := p.cfg.Indicator.CandleInterval.Duration

	if err := ws.Connect(ctx); err != nil {
		return err
	}

	listenKey, err := ex.CreateListenKey(ctx)
	if err != nil {
		return err
	}
	p.listenKey = listenKey

	streams := []string{listenKey}
	for _, name := range p.symbols {
		kline, err := exchange.KlineStream(name, interval)
		if err != nil {
			return err
		}
		streams = append(streams, exchange.DepthStream(name), kline, exchange.TradeStream(name))
	}
	if err := ws.Subscribe(ctx, streams); err != nil {
		return err
	}

	// Seed order: books after the subscription so buffered deltas bridge
	// the snapshot fetch; then candles, account, and history.
	for _, name := range p.symbols {
		snap, err := ex.DepthSnapshot(ctx, name, p.cfg.Feed.SnapshotDepth)
		if err != nil {
			return fmt.Errorf("seed book %s: %w", name, err)
		}
		if err := p.books[name].Seed(snap); err != nil {
			return fmt.Errorf("seed book %s: %w", name, err)
		}
		if top, ok := p.books[name].Top(); ok {
			p.aggregator.UpdateTop(top)
			p.Books.Publish(top)
		}

		candles, err := ex.Klines(ctx, name, interval, p.cfg.Indicator.CandleSeed)
		if err != nil {
			return fmt.Errorf("seed candles %s: %w", name, err)
		}
		p.candles[name].Seed(candles)
		ind := p.indicators[name].Compute(p.candles[name].Closes())
		p.aggregator.UpdateIndicator(ind)
		p.Indicators.Publish(ind)
		if last, ok := p.candles[name].Last(); ok {
			p.aggregator.UpdateClose(name, last.Close)
			p.Candles.Publish(last)
		}

		trades, err := ex.RecentTrades(ctx, name, p.cfg.Feed.TradeHistory)
		if err != nil {
			return fmt.Errorf("seed trades %s: %w", name, err)
		}
		p.trades.Seed(name, trades)

		orders, err := ex.AllOrders(ctx, name, p.cfg.Feed.OrderHistory)
		if err != nil {
			return fmt.Errorf("seed orders %s: %w", name, err)
		}
		p.orders.Seed(name, orders)
	}

	acct, err := ex.Account(ctx)
	if err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	p.account.Seed(acct)
	p.Balances.Publish(p.account.Snapshot())

	p.event(domain.EventInfo, "cold start complete, all replicas seeded")
	p.logger.Info("cold start complete",
		slog.String("triangle", fmt.Sprintf("%s/%s/%s", p.symbols[0], p.symbols[1], p.symbols[2])),
		slog.Bool("test_mode", p.cfg.Arbitrage.TestMode),
		slog.Bool("submit_enabled", p.submitEnabled))
	return nil
}

// decisionLoop evaluates each emitted triangle snapshot and routes the
// outcome to the streams, the signal bus, the journal, and the gate.
func (p *Pipeline) decisionLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-p.emissions:
			p.Triangles.Publish(snap)

			decision := p.engine.Decide(snap, p.account.Snapshot(), p.gate.InFlight())
			p.decisionCount.Add(1)
			if decision.Opportunity() {
				p.opportunityCount.Add(1)
			}

			p.publishDecision(ctx, decision)

			if decision.Opportunity() && p.submitEnabled {
				go p.submit(ctx, decision)
			}
		}
	}
}

// submit runs one plan through the gate and journals the leg results.
func (p *Pipeline) submit(ctx context.Context, decision domain.Decision) {
	results, err := p.gate.Submit(ctx, decision.ID, decision.Plan)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) || errors.Is(err, domain.ErrDuplicatePlan) {
			return
		}
		p.logger.Error("submission failed",
			slog.String("decision_id", decision.ID),
			slog.String("error", err.Error()))
		p.event(domain.EventError, fmt.Sprintf("submission %s failed: %s", decision.ID, err))
	}

	for i, res := range results {
		if p.deps.Journal != nil {
			if err := p.deps.Journal.InsertSubmission(ctx, decision.ID, decision.Plan.Legs[i], res); err != nil {
				p.logger.Error("journal submission failed", slog.String("error", err.Error()))
			}
		}
		if p.deps.SignalBus != nil {
			payload, err := json.Marshal(res)
			if err != nil {
				continue
			}
			if err := p.deps.SignalBus.Publish(ctx, redis.ChannelExecutions, payload); err != nil {
				p.logger.Warn("signal bus publish failed", slog.String("error", err.Error()))
			}
			if err := p.deps.SignalBus.StreamAppend(ctx, redis.StreamExecutions, payload); err != nil {
				p.logger.Warn("signal bus append failed", slog.String("error", err.Error()))
			}
		}
	}
}

// publishDecision logs one line for the cycle and fans the decision out to
// every configured sink. Sink failures are logged, never fatal to the
// pipeline.
func (p *Pipeline) publishDecision(ctx context.Context, d domain.Decision) {
	p.logDecision(d)
	p.Decisions.Publish(d)

	if p.deps.Archiver != nil {
		p.deps.Archiver.Add(d)
	}

	if p.deps.Journal != nil {
		if err := p.deps.Journal.InsertDecision(ctx, d); err != nil {
			p.logger.Error("journal decision failed", slog.String("error", err.Error()))
		}
	}

	if p.deps.SignalBus != nil {
		payload, err := json.Marshal(d)
		if err != nil {
			return
		}
		if err := p.deps.SignalBus.Publish(ctx, redis.ChannelDecisions, payload); err != nil {
			p.logger.Warn("signal bus publish failed", slog.String("error", err.Error()))
		}
		if err := p.deps.SignalBus.StreamAppend(ctx, redis.StreamDecisions, payload); err != nil {
			p.logger.Warn("signal bus append failed", slog.String("error", err.Error()))
		}
	}
}

// logDecision emits exactly one log line and one event per evaluation
// cycle, with rejected cycles surfaced at warn level.
func (p *Pipeline) logDecision(d domain.Decision) {
	switch {
	case d.Err != "":
		p.logger.Warn("cycle rejected",
			slog.String("decision_id", d.ID),
			slog.Float64("scenario_low", d.ScenarioLow),
			slog.Float64("scenario_high", d.ScenarioHigh),
			slog.Float64("threshold", d.Threshold),
			slog.String("error", d.Err))
		p.event(domain.EventWarn, fmt.Sprintf("cycle %s rejected: %s", d.ID, d.Err))
	case d.Opportunity():
		summary := planSummary(d.Plan)
		p.logger.Info("opportunity detected",
			slog.String("decision_id", d.ID),
			slog.Float64("scenario_low", d.ScenarioLow),
			slog.Float64("scenario_high", d.ScenarioHigh),
			slog.Float64("threshold", d.Threshold),
			slog.Int("ref_leg", d.RefLeg),
			slog.String("plan", summary))
		p.event(domain.EventInfo, fmt.Sprintf("opportunity %s: %s", d.ID, summary))
	default:
		p.logger.Info("cycle evaluated, no opportunity",
			slog.String("decision_id", d.ID),
			slog.Float64("scenario_low", d.ScenarioLow),
			slog.Float64("scenario_high", d.ScenarioHigh),
			slog.Float64("threshold", d.Threshold))
		p.event(domain.EventInfo, fmt.Sprintf(
			"cycle %s: no opportunity (low %.6f high %.6f threshold %.6f)",
			d.ID, d.ScenarioLow, d.ScenarioHigh, d.Threshold))
	}
}

// planSummary renders the three legs of a plan on one line.
func planSummary(plan domain.ArbitragePlan) string {
	parts := make([]string, 0, len(plan.Legs))
	for _, leg := range plan.Legs {
		parts = append(parts, fmt.Sprintf("%s %s %g@%g", leg.Side, leg.Symbol, leg.Quantity, leg.Price))
	}
	return strings.Join(parts, ", ")
}

// resyncLoop re-seeds books whose delta sequence broke. A snapshot that is
// already stale against the buffered deltas is retried.
func (p *Pipeline) resyncLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case symbol := <-p.resyncCh:
			book, ok := p.books[symbol]
			if !ok {
				continue
			}
			snap, err := p.deps.Exchange.DepthSnapshot(ctx, symbol, p.cfg.Feed.SnapshotDepth)
			if err != nil {
				p.logger.Error("resync snapshot failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
				p.requestResync(symbol)
				continue
			}
			if err := book.Seed(snap); err != nil {
				p.logger.Warn("resync seed failed, retrying",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()))
				p.requestResync(symbol)
				continue
			}
			if top, ok := book.Top(); ok {
				p.aggregator.UpdateTop(top)
				p.Books.Publish(top)
			}
			p.logger.Info("book resynced", slog.String("symbol", symbol))
			p.event(domain.EventInfo, "book resynced: "+symbol)
		}
	}
}

// keepAliveLoop extends the user data stream's listen key periodically.
func (p *Pipeline) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.deps.Exchange.KeepAliveListenKey(ctx, p.listenKey); err != nil {
				return err
			}
		}
	}
}

// booksReady reports whether every book currently serves a top.
func (p *Pipeline) booksReady() bool {
	for _, name := range p.symbols {
		if _, ok := p.books[name].Top(); !ok {
			return false
		}
	}
	return true
}
