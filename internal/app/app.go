// Package app wires the configuration into a running engine: the exchange
// clients, the evaluation pipeline, the optional sinks, and the read-only
// API surface.
package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/triarb/internal/config"
	"github.com/alanyoungcy/triarb/internal/server"
	"github.com/alanyoungcy/triarb/internal/server/ws"
	"golang.org/x/sync/errgroup"
)

// App is the top-level application container.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	cleanup func()
}

// New wires the application dependencies from the configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, logger: logger, deps: deps, cleanup: cleanup}, nil
}

// Run builds the pipeline and the API surface and runs everything until the
// context is cancelled or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	p, err := NewPipeline(ctx, a.cfg, a.deps, a.logger)
	if err != nil {
		return err
	}
	defer p.Triangles.Close()
	defer p.Decisions.Close()
	defer p.Balances.Close()
	defer p.Orders.Close()
	defer p.Books.Close()
	defer p.Candles.Close()
	defer p.Indicators.Close()
	defer p.Events.Close()

	a.logger.Info("starting",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Bool("redis", a.deps.SignalBus != nil),
		slog.Bool("journal", a.deps.Journal != nil),
		slog.Bool("archiver", a.deps.Archiver != nil))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.Run(gctx) })

	if a.deps.Archiver != nil {
		g.Go(func() error { return a.deps.Archiver.Run(gctx) })
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(a.cfg.Mode, a.logger)
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(func() error { return a.bridgeStreams(gctx, p, hub) })

		srv := server.NewServer(server.Config{Port: a.cfg.Server.Port},
			a.statusFunc(p), p.Decisions.Recent, hub, a.logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// statusFunc builds the /api/status supplier over the live pipeline.
func (a *App) statusFunc(p *Pipeline) server.StatusFunc {
	return func() server.Status {
		return server.Status{
			Mode:          a.cfg.Mode,
			UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
			Symbols:       p.symbols,
			BooksReady:    p.booksReady(),
			InFlight:      p.gate.InFlight(),
			Decisions:     p.decisionCount.Load(),
			Opportunities: p.opportunityCount.Load(),
		}
	}
}

// bridgeStreams forwards pipeline output to dashboard WebSocket clients.
func (a *App) bridgeStreams(ctx context.Context, p *Pipeline, hub *ws.Hub) error {
	decisions, cancelDecisions := p.Decisions.Subscribe(64)
	defer cancelDecisions()
	triangles, cancelTriangles := p.Triangles.Subscribe(8)
	defer cancelTriangles()
	events, cancelEvents := p.Events.Subscribe(64)
	defer cancelEvents()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-decisions:
			if !ok {
				return nil
			}
			if payload, err := json.Marshal(d); err == nil {
				hub.Publish(ws.ChannelDecisions, payload)
			}
		case t, ok := <-triangles:
			if !ok {
				return nil
			}
			if payload, err := json.Marshal(t); err == nil {
				hub.Publish(ws.ChannelTriangle, payload)
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if payload, err := json.Marshal(e); err == nil {
				hub.Publish(ws.ChannelEvents, payload)
			}
		}
	}
}

// Close releases all wired resources in reverse construction order.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}
