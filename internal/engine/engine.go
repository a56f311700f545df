// Package engine implements the central limit order-matching engine.
//
// One Engine serves many independent trading pairs. Each pair owns an order
// book, a stop-order trigger index, a rolling statistics window and a
// bounded trade history, all created lazily on the first valid submission
// for that pair. Every mutation (submit, cancel, modify) and every query
// runs under one engine-wide mutex, so the observable order of matches is
// exactly the serialization order of the calls.
//
// State changes are published to a channel-scoped event sink. Order and
// trade events go out synchronously inside the mutation; book snapshots and
// market statistics are debounced by background tickers so each pair emits
// at most one of either per interval.
//
// Lifecycle: New() → Start() → [runs until Stop] → Stop().
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"invoicex/internal/book"
	"invoicex/internal/config"
	"invoicex/internal/metrics"
	"invoicex/internal/sink"
	"invoicex/internal/stats"
	"invoicex/pkg/types"
)

// Journal receives every accepted order and every executed trade for
// write-behind logging. Calls are made while the engine lock is held, so
// implementations must hand off and return; the engine never reads the
// journal back.
type Journal interface {
	RecordOrder(o types.Order)
	RecordTrade(t types.Trade)
}

// pairState bundles everything the engine owns for one trading pair.
type pairState struct {
	book   *book.Book
	stops  *book.StopIndex
	window *stats.Window

	// history holds the pair's retained trades in execution order. The
	// sweep prunes it to the configured age and count caps.
	history []types.Trade
}

// Engine is the order-matching authority. All fields behind mu are owned
// exclusively by it; subscribers only ever see copies.
type Engine struct {
	cfg       config.EngineConfig
	logger    *slog.Logger
	sink      *sink.Sink
	clock     Clock
	journal   Journal
	collector *metrics.Collector

	mu          sync.Mutex
	pairs       map[string]*pairState
	orders      map[uint64]*types.Order
	userOrders  map[string][]uint64 // submitter → order ids, oldest first
	recent      *tradeRing
	nextOrderID uint64
	nextTradeID uint64

	// dirtyBooks and dirtyStats collect pairs touched since the last flush;
	// the flush loop turns them into debounced stream events.
	dirtyBooks map[string]struct{}
	dirtyStats map[string]struct{}

	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts an Engine at construction.
type Option func(*Engine)

// WithClock replaces the wall clock. Tests use this to drive expiry and
// window roll-off deterministically.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithJournal attaches a write-behind journal.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// New creates an engine that publishes state changes to snk.
func New(cfg config.EngineConfig, logger *slog.Logger, snk *sink.Sink, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		sink:       snk,
		clock:      systemClock{},
		pairs:      make(map[string]*pairState),
		orders:     make(map[uint64]*types.Order),
		userOrders: make(map[string][]uint64),
		recent:     newTradeRing(cfg.TradeRingSize),
		dirtyBooks: make(map[string]struct{}),
		dirtyStats: make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the background loops: the expiry/retention sweep and the
// debounced book and statistics publishers.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.flushLoop()
	}()

	e.logger.Info("engine started",
		"sweep_interval", e.cfg.SweepInterval,
		"book_update_interval", e.cfg.BookUpdateInterval,
		"stats_update_interval", e.cfg.StatsUpdateInterval,
	)
	return nil
}

// Stop refuses new mutations, waits for the background loops, flushes any
// pending book and statistics updates, and emits a final engine_shutdown
// event on trading_updates. A submission already holding the lock completes
// before the refusal takes effect.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.flushBooksLocked()
	e.flushStatsLocked()
	e.publishLocked(types.ChannelTradingUpdates, types.EventEngineShutdown, nil)
	e.mu.Unlock()

	e.logger.Info("engine stopped")
}

// pairLocked returns the pair's state, creating it on first use.
func (e *Engine) pairLocked(pair string) *pairState {
	ps, ok := e.pairs[pair]
	if !ok {
		ps = &pairState{
			book:   book.New(pair),
			stops:  book.NewStopIndex(),
			window: stats.New(pair, e.cfg.PairHistoryWindow),
		}
		e.pairs[pair] = ps
		e.logger.Info("pair registered", "pair", pair)
	}
	return ps
}

// publishLocked broadcasts one event. The sink's enqueue is non-blocking,
// so holding the engine lock here is safe and keeps channel order aligned
// with the engine's serialization order.
func (e *Engine) publishLocked(channel string, typ types.EventType, payload any) {
	e.sink.Broadcast(channel, types.Event{
		Type:      typ,
		Timestamp: e.clock.Now(),
		Payload:   payload,
	})
	if e.collector != nil {
		e.collector.EventsPublished.WithLabelValues(string(typ)).Inc()
	}
}

// openOrdersAdd tracks the resting-plus-parked gauge for one pair.
func (e *Engine) openOrdersAdd(pair string, delta float64) {
	if e.collector != nil {
		e.collector.OpenOrders.WithLabelValues(pair).Add(delta)
	}
}

func (e *Engine) flushLoop() {
	bookTick := time.NewTicker(e.cfg.BookUpdateInterval)
	defer bookTick.Stop()
	statsTick := time.NewTicker(e.cfg.StatsUpdateInterval)
	defer statsTick.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-bookTick.C:
			e.mu.Lock()
			e.flushBooksLocked()
			e.mu.Unlock()
		case <-statsTick.C:
			e.mu.Lock()
			e.flushStatsLocked()
			e.mu.Unlock()
		}
	}
}

// flushBooksLocked emits one order_book_update per pair touched since the
// previous flush.
func (e *Engine) flushBooksLocked() {
	for pair := range e.dirtyBooks {
		ps := e.pairs[pair]
		e.publishLocked(types.ChannelOrderBook(pair), types.EventOrderBookUpdate, types.OrderBookUpdatePayload{
			Pair:      pair,
			Bids:      ps.book.Aggregate(types.BUY, e.cfg.BookDepth),
			Asks:      ps.book.Aggregate(types.SELL, e.cfg.BookDepth),
			LastPrice: ps.window.LastPrice(),
		})
		delete(e.dirtyBooks, pair)
	}
}

// flushStatsLocked emits one market_stats_update per pair that traded since
// the previous flush.
func (e *Engine) flushStatsLocked() {
	now := e.clock.Now()
	for pair := range e.dirtyStats {
		ps := e.pairs[pair]
		e.publishLocked(types.ChannelTradingUpdates, types.EventMarketStatsUpdate, types.MarketStatsUpdatePayload{
			Pair:  pair,
			Stats: ps.window.Snapshot(now),
		})
		delete(e.dirtyStats, pair)
	}
}

// tradeRing is the engine-wide bounded buffer of the most recent trades.
type tradeRing struct {
	buf  []types.Trade
	next int
	full bool
}

func newTradeRing(size int) *tradeRing {
	if size <= 0 {
		size = 1
	}
	return &tradeRing{buf: make([]types.Trade, size)}
}

func (r *tradeRing) push(t types.Trade) {
	r.buf[r.next] = t
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// newestFirst returns up to limit trades, most recent first.
func (r *tradeRing) newestFirst(limit int) []types.Trade {
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.Trade, 0, limit)
	idx := r.next - 1
	for len(out) < limit {
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		out = append(out, r.buf[idx])
		idx--
	}
	return out
}
