// Package engine is the central orchestrator of the market-data aggregator.
//
// It wires together all subsystems:
//
//  1. One venue Adapter per enabled venue streams normalized snapshots,
//     deltas, and trades over channels.
//  2. Dispatch goroutines drain those channels into the OrderbookEngine and
//     TradeEngine.
//  3. Book updates fan out to the AggregationEngine and, as synthetic
//     midpoint ticks, to the ChartEngine; trades feed the ChartEngine as
//     real ticks.
//  4. Completed candles flow to the cross-venue candle merger and the
//     cold-store batcher.
//  5. An optional gateway exposes the bus to downstream WebSocket clients.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"perpagg/internal/agg"
	"perpagg/internal/book"
	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/internal/chart"
	"perpagg/internal/config"
	"perpagg/internal/gateway"
	"perpagg/internal/metrics"
	"perpagg/internal/store"
	"perpagg/internal/trade"
	"perpagg/internal/venue"
	"perpagg/pkg/types"
)

// Engine orchestrates all components of the aggregation pipeline. It owns
// the lifecycle of every goroutine and the shutdown ordering.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	bus   *bus.Bus
	cache cache.Cache
	cold  store.ColdStore

	adapters  []venue.Adapter
	refresher *venue.Refresher // non-nil only when Lighter is enabled

	books     *book.Engine
	trades    *trade.Engine
	charts    *chart.Engine
	aggCharts *chart.AggregatedEngine
	aggs      *agg.Engine
	batcher   *chart.Batcher

	gw            *gateway.Server
	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all components from the configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	b := bus.New(logger)

	var hot cache.Cache
	if cfg.Cache.RedisAddr != "" {
		r, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		hot = r
		logger.Info("using redis cache", "addr", cfg.Cache.RedisAddr)
	} else {
		hot = cache.NewMemory()
		logger.Info("using in-memory cache")
	}

	var cold store.ColdStore = store.Nop{}
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("cold store: %w", err)
		}
		cold = pg
		logger.Info("cold store enabled")
	}

	batcher := chart.NewBatcher(cold, cfg.Candles.BatchSize, cfg.Candles.BatchInterval, logger)

	books := book.New(b, hot, cfg.Cache.TTL.Orderbook, cfg.Cache.TTL.Snapshot, logger)
	trades := trade.New(b, hot, cfg.Cache.TTL.Trades, cfg.Trades.MaxRecent, cfg.Trades.RetentionMultiplier, logger)
	charts := chart.New(b, hot, cfg.Cache.TTL.Candles, batcher, logger)
	aggCharts := chart.NewAggregatedEngine(b, logger)
	aggs := agg.New(b, hot, cfg.Aggregation.Throttle, cfg.Aggregation.MaxLevels,
		cfg.Cache.TTL.AggBook, cfg.Cache.TTL.AggRouting, logger)

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		bus:       b,
		cache:     hot,
		cold:      cold,
		books:     books,
		trades:    trades,
		charts:    charts,
		aggCharts: aggCharts,
		aggs:      aggs,
		batcher:   batcher,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	// Callbacks register before any event flows.
	books.OnUpdate(e.onBookUpdate)
	charts.OnCompleted(aggCharts.OnCandleCompleted)

	if err := e.buildAdapters(); err != nil {
		return nil, err
	}

	if cfg.Gateway.Enabled {
		hub := gateway.NewHub(b, logger)
		e.gw = gateway.NewServer(cfg.Gateway.Listen, hub, logger)
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		e.metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	return e, nil
}

// buildAdapters constructs one adapter per enabled venue.
func (e *Engine) buildAdapters() error {
	opts := venue.Options{
		HeartbeatInterval:    e.cfg.Feed.HeartbeatInterval,
		ReconnectInitial:     e.cfg.Feed.ReconnectInitial,
		ReconnectMax:         e.cfg.Feed.ReconnectMax,
		MaxReconnectAttempts: e.cfg.Feed.MaxReconnectAttempts,
	}

	if vc := e.cfg.Venues.Hyperliquid; vc.Enabled {
		e.adapters = append(e.adapters, venue.NewHyperliquid(vc.WSURL, opts, e.logger))
	}
	if vc := e.cfg.Venues.Aster; vc.Enabled {
		e.adapters = append(e.adapters, venue.NewAster(vc.WSURL, opts, e.logger))
	}
	if vc := e.cfg.Venues.Lighter; vc.Enabled {
		markets := venue.NewMarketMap()
		e.adapters = append(e.adapters, venue.NewLighter(vc.WSURL, markets, opts, e.logger))
		if vc.RestURL != "" {
			meta := venue.NewMetaClient(vc.RestURL, e.logger)
			e.refresher = venue.NewRefresher(meta, markets, e.cfg.Feed.MetadataRefresh, e.logger)
		} else {
			e.logger.Warn("lighter enabled without rest_url, market ids cannot resolve")
		}
	}
	if vc := e.cfg.Venues.Avantis; vc.Enabled {
		e.adapters = append(e.adapters, venue.NewAvantis(vc.WSURL, opts, e.logger))
	}

	if len(e.adapters) == 0 {
		return fmt.Errorf("no venues enabled")
	}
	return nil
}

// Start brings up the pipeline: background loops, venue connections, and the
// optional servers. Returns after all adapters report their first connect
// attempt outcome.
func (e *Engine) Start() error {
	e.logger.Info("starting",
		"symbols", e.cfg.Symbols, "venues", len(e.adapters))

	e.wg.Add(3)
	go func() { defer e.wg.Done(); e.books.Run(e.ctx) }()
	go func() { defer e.wg.Done(); e.trades.Run(e.ctx) }()
	go func() { defer e.wg.Done(); e.batcher.Run(e.ctx) }()

	if e.refresher != nil {
		e.wg.Add(1)
		go func() { defer e.wg.Done(); e.refresher.Run(e.ctx) }()
	}

	if e.gw != nil {
		go func() {
			if err := e.gw.Start(); err != nil {
				e.logger.Error("gateway stopped", "error", err)
			}
		}()
	}
	if e.metricsServer != nil {
		go func() {
			e.logger.Info("metrics listening", "addr", e.metricsServer.Addr)
			if err := e.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	for _, a := range e.adapters {
		e.startDispatch(a)
	}

	// Connect in parallel; a venue that cannot connect logs and keeps
	// retrying per its policy without holding the others back.
	var connectWG sync.WaitGroup
	for _, a := range e.adapters {
		connectWG.Add(1)
		go func(a venue.Adapter) {
			defer connectWG.Done()
			if err := a.Connect(e.ctx); err != nil {
				e.logger.Error("venue connect failed", "venue", a.Name(), "error", err)
				return
			}
			if err := a.Subscribe(e.ctx, e.cfg.Symbols); err != nil {
				e.logger.Error("venue subscribe failed", "venue", a.Name(), "error", err)
			}
		}(a)
	}
	connectWG.Wait()

	e.logger.Info("started")
	return nil
}

// startDispatch drains one adapter's event channels into the engines.
func (e *Engine) startDispatch(a venue.Adapter) {
	e.wg.Add(4)

	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case snap, ok := <-a.Snapshots():
				if !ok {
					return
				}
				e.books.ProcessSnapshot(e.ctx, snap)
			}
		}
	}()

	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case d, ok := <-a.Deltas():
				if !ok {
					return
				}
				e.books.ProcessUpdate(e.ctx, d)
			}
		}
	}()

	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case batch, ok := <-a.Trades():
				if !ok {
					return
				}
				e.trades.Ingest(e.ctx, batch)
				for _, t := range batch {
					e.charts.ProcessTickData(e.ctx, types.TickData{
						Symbol:    t.Symbol,
						Venue:     t.Venue,
						Price:     t.Price,
						Size:      t.Size,
						Side:      t.Side,
						Timestamp: t.Timestamp,
						TradeID:   t.ID,
					})
				}
			}
		}
	}()

	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case st, ok := <-a.Status():
				if !ok {
					return
				}
				e.logger.Info("venue status", "venue", st.Venue, "status", st.Kind, "detail", st.Detail)
			}
		}
	}()
}

// onBookUpdate fans a book projection out to aggregation and, when a mid
// price exists, to the chart engine as a synthetic zero-size tick.
func (e *Engine) onBookUpdate(ob types.Orderbook) {
	e.aggs.ProcessOrderbookUpdate(e.ctx, ob)

	if ob.MidPrice <= 0 {
		return
	}
	e.charts.ProcessTickData(e.ctx, types.TickData{
		Symbol:    ob.Symbol,
		Venue:     ob.Venue,
		Price:     strconv.FormatFloat(ob.MidPrice, 'f', -1, 64),
		Size:      "0",
		Timestamp: ob.Timestamp,
	})
}

// Stop tears the pipeline down: stop intake and drain the workers, complete
// and flush the final candles, then close the venue sockets, servers, and
// backends. Bounded by a soft 10s deadline.
func (e *Engine) Stop() {
	e.logger.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		e.logger.Warn("shutdown deadline hit, abandoning workers")
	}

	// The bus and cold store are still up here, so the last in-flight
	// candles complete and flush before anything external goes away.
	e.charts.ForceCompleteAllCandles(shutdownCtx)
	e.aggCharts.ForceCompleteAll()
	e.batcher.Flush(shutdownCtx)

	for _, a := range e.adapters {
		if err := a.Disconnect(); err != nil {
			e.logger.Warn("venue disconnect failed", "venue", a.Name(), "error", err)
		}
	}

	if e.gw != nil {
		if err := e.gw.Stop(shutdownCtx); err != nil {
			e.logger.Warn("gateway shutdown failed", "error", err)
		}
	}
	if e.metricsServer != nil {
		if err := e.metricsServer.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("metrics shutdown failed", "error", err)
		}
	}

	e.bus.Close()
	if err := e.cache.Close(); err != nil {
		e.logger.Warn("cache close failed", "error", err)
	}
	if err := e.cold.Close(); err != nil {
		e.logger.Warn("cold store close failed", "error", err)
	}

	e.logger.Info("stopped")
}

// Books exposes the order book engine for read surfaces.
func (e *Engine) Books() *book.Engine { return e.books }

// TradeHistory exposes the trade engine for read surfaces.
func (e *Engine) TradeHistory() *trade.Engine { return e.trades }

// Aggregation exposes the aggregation engine for read surfaces.
func (e *Engine) Aggregation() *agg.Engine { return e.aggs }
