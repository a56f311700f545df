// Package stats maintains rolling 24-hour market statistics per trading pair.
//
// Every trade is recorded as a (timestamp, price, quantity) point. Points
// older than the window are evicted lazily on read and during the engine's
// cleanup sweep; the newest evicted price is kept as the anchor for the
// "24h ago" change comparison.
//
// Windows are owned by the engine, which serializes all access.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"invoicex/pkg/types"
)

type point struct {
	ts    time.Time
	price decimal.Decimal
	qty   decimal.Decimal
}

// Window is one pair's rolling statistics state.
type Window struct {
	pair   string
	window time.Duration
	points []point

	// Cached aggregates over points, kept in sync on record and eviction.
	volume decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal

	last    decimal.Decimal
	hasLast bool

	// anchor is the price of the most recent trade at or before the start
	// of the window; zero change is reported until one exists.
	anchor    decimal.Decimal
	hasAnchor bool
}

// New creates an empty window. A window of 24h matches the engine default.
func New(pair string, window time.Duration) *Window {
	return &Window{
		pair:   pair,
		window: window,
		volume: decimal.Zero,
	}
}

// Record adds a trade and rolls off anything the new time pushes out.
func (w *Window) Record(ts time.Time, price, qty decimal.Decimal) {
	w.points = append(w.points, point{ts: ts, price: price, qty: qty})
	w.volume = w.volume.Add(qty)
	if len(w.points) == 1 || price.GreaterThan(w.high) {
		w.high = price
	}
	if len(w.points) == 1 || price.LessThan(w.low) {
		w.low = price
	}
	w.last = price
	w.hasLast = true
	w.Evict(ts)
}

// Evict drops points at or before now minus the window, remembering the
// newest dropped price as the change anchor. Aggregates are recomputed only
// when something actually left.
func (w *Window) Evict(now time.Time) {
	if len(w.points) == 0 {
		return
	}
	cutoff := now.Add(-w.window)

	keep := len(w.points)
	for i, p := range w.points {
		if p.ts.After(cutoff) {
			keep = i
			break
		}
	}
	if keep == 0 {
		return
	}

	w.anchor = w.points[keep-1].price
	w.hasAnchor = true
	w.points = w.points[keep:]
	w.recompute()
}

func (w *Window) recompute() {
	w.volume = decimal.Zero
	w.high = decimal.Zero
	w.low = decimal.Zero
	for i, p := range w.points {
		w.volume = w.volume.Add(p.qty)
		if i == 0 || p.price.GreaterThan(w.high) {
			w.high = p.price
		}
		if i == 0 || p.price.LessThan(w.low) {
			w.low = p.price
		}
	}
}

// LastPrice returns the most recent trade price, zero if the pair has never
// traded.
func (w *Window) LastPrice() decimal.Decimal {
	if !w.hasLast {
		return decimal.Zero
	}
	return w.last
}

// Snapshot rolls the window forward to now and returns the aggregates.
func (w *Window) Snapshot(now time.Time) types.PairStats {
	w.Evict(now)

	s := types.PairStats{
		Pair:       w.pair,
		LastPrice:  w.LastPrice(),
		Volume24h:  w.volume,
		High24h:    w.high,
		Low24h:     w.low,
		Change24h:  decimal.Zero,
		TradeCount: len(w.points),
	}
	s.ChangePct24h = decimal.Zero
	if w.hasLast && w.hasAnchor && w.anchor.IsPositive() {
		s.Change24h = w.last.Sub(w.anchor)
		s.ChangePct24h = s.Change24h.Div(w.anchor).Mul(decimal.NewFromInt(100))
	}
	return s
}
