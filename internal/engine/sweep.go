package engine

import (
	"time"

	"invoicex/pkg/types"
)

func (e *Engine) sweepLoop() {
	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.Sweep()
		}
	}
}

// Sweep expires overdue GTD orders, prunes trade history past the age and
// count caps, and rolls every statistics window forward. It runs on the
// sweep ticker; tests drive it directly together with a fake clock.
func (e *Engine) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	expired := 0
	for _, ps := range e.pairs {
		expired += e.expirePairLocked(ps, now)
		e.pruneHistoryLocked(ps, now)
		ps.window.Evict(now)
	}
	if expired > 0 {
		e.logger.Info("expiry sweep", "expired", expired)
	}
}

// expirePairLocked removes every GTD order on the pair whose expiry has
// passed, from the book and from the stop index alike.
func (e *Engine) expirePairLocked(ps *pairState, now time.Time) int {
	var due []*types.Order
	collect := func(o *types.Order) bool {
		if o.TimeInForce == types.GTD && !o.ExpiresAt.After(now) {
			due = append(due, o)
		}
		return true
	}
	ps.book.Each(collect)
	ps.stops.Each(collect)

	for _, o := range due {
		e.unrestLocked(o)
		o.Status = types.StatusExpired
		e.cancelEventsLocked(o, types.ReasonExpired)
		if e.collector != nil {
			e.collector.OrdersExpired.Inc()
		}
		e.logger.Debug("order expired", "id", o.ID, "pair", o.Pair, "expires_at", o.ExpiresAt)
	}
	return len(due)
}

// pruneHistoryLocked drops trades at or before the retention cutoff, then
// trims the history to its count cap, oldest first.
func (e *Engine) pruneHistoryLocked(ps *pairState, now time.Time) {
	cutoff := now.Add(-e.cfg.PairHistoryWindow)
	drop := 0
	for drop < len(ps.history) && !ps.history[drop].ExecutedAt.After(cutoff) {
		drop++
	}
	if over := len(ps.history) - drop - e.cfg.PairHistoryMax; over > 0 {
		drop += over
	}
	if drop == 0 {
		return
	}
	kept := make([]types.Trade, len(ps.history)-drop)
	copy(kept, ps.history[drop:])
	ps.history = kept
}
