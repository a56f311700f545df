package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"invoicex/pkg/types"
)

// defaultTradeLimit bounds trade queries that do not name a limit.
const defaultTradeLimit = 100

// Book returns the aggregated snapshot for one pair. Depth 0 yields empty
// sides; a negative depth selects the configured default. Queries stay
// available after Stop.
func (e *Engine) Book(pair string, depth int) (types.BookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[pair]
	if !ok {
		return types.BookSnapshot{}, fmt.Errorf("%w: %s", ErrPairUnknown, pair)
	}
	if depth < 0 {
		depth = e.cfg.BookDepth
	}
	return types.BookSnapshot{
		Pair:      pair,
		Bids:      ps.book.Aggregate(types.BUY, depth),
		Asks:      ps.book.Aggregate(types.SELL, depth),
		LastPrice: ps.window.LastPrice(),
	}, nil
}

// Trades returns one pair's retained trades, most recent first. limit <= 0
// selects the default.
func (e *Engine) Trades(pair string, limit int) ([]types.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairUnknown, pair)
	}
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	if limit > len(ps.history) {
		limit = len(ps.history)
	}
	out := make([]types.Trade, 0, limit)
	for i := len(ps.history) - 1; i >= len(ps.history)-limit; i-- {
		out = append(out, ps.history[i])
	}
	return out, nil
}

// RecentTrades returns the engine-wide ring of most recent trades across all
// pairs, most recent first. limit <= 0 selects the default.
func (e *Engine) RecentTrades(limit int) []types.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 {
		limit = defaultTradeLimit
	}
	return e.recent.newestFirst(limit)
}

// UserOrders returns copies of every order the user has submitted, newest
// first. An unknown user yields an empty slice.
func (e *Engine) UserOrders(userID string) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.userOrders[userID]
	out := make([]types.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *e.orders[ids[i]])
	}
	return out
}

// MarketStats rolls every pair's window forward and returns per-pair
// statistics with engine-wide totals.
func (e *Engine) MarketStats() types.StatsReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	report := types.StatsReport{
		Pairs:          make(map[string]types.PairStats, len(e.pairs)),
		TotalPairs:     len(e.pairs),
		TotalVolume24h: decimal.Zero,
	}
	for pair, ps := range e.pairs {
		s := ps.window.Snapshot(now)
		report.Pairs[pair] = s
		report.TotalVolume24h = report.TotalVolume24h.Add(s.Volume24h)
	}
	return report
}
