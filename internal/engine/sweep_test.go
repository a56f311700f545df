package engine

import (
	"testing"
	"time"

	"invoicex/internal/config"
	"invoicex/internal/sink"
	"invoicex/pkg/types"
)

// Scenario: an unmatched GTD order is expired by the first sweep after its
// deadline, with an order_cancelled event on the submitter's channel.
func TestExpirySweep(t *testing.T) {
	t.Parallel()

	e, clock, snk := newTestEngine(t)
	sub := subscribeTo(t, snk, "c1", types.ChannelUser("alice"))

	gtd := limitDraft("alice", types.BUY, "4", "99")
	gtd.TimeInForce = types.GTD
	gtd.ExpiresAt = clock.Now().Add(30 * time.Second)
	res := mustSubmit(t, e, gtd)
	drainEvents(sub)

	// Before the deadline the sweep leaves it alone.
	clock.Advance(29 * time.Second)
	e.Sweep()
	if snap, _ := e.Book(testPair, -1); len(snap.Bids) != 1 {
		t.Fatal("sweep removed an order before its expiry")
	}

	clock.Advance(2 * time.Second)
	e.Sweep()

	snap, _ := e.Book(testPair, -1)
	if len(snap.Bids) != 0 {
		t.Errorf("bids after expiry sweep = %+v, want empty", snap.Bids)
	}
	var now types.Order
	for _, o := range e.UserOrders("alice") {
		if o.ID == res.Order.ID {
			now = o
		}
	}
	if now.Status != types.StatusExpired {
		t.Errorf("status = %s, want EXPIRED", now.Status)
	}

	evs := eventsOfType(drainEvents(sub), types.EventOrderCancelled)
	if len(evs) != 1 {
		t.Fatalf("order_cancelled events = %d, want 1", len(evs))
	}
	if p := evs[0].Payload.(types.OrderCancelledPayload); p.Reason != types.ReasonExpired {
		t.Errorf("reason = %q, want %q", p.Reason, types.ReasonExpired)
	}

	// Expiry is terminal.
	if _, err := e.Cancel(res.Order.ID, "alice"); err == nil {
		t.Error("Cancel on expired order did not error")
	}
}

func TestExpirySweepCoversParkedStops(t *testing.T) {
	t.Parallel()

	e, clock, _ := newTestEngine(t)

	stop := types.OrderDraft{
		UserID:      "sam",
		Pair:        testPair,
		Side:        types.SELL,
		Type:        types.OrderTypeStop,
		Quantity:    d("2"),
		StopPrice:   d("90"),
		TimeInForce: types.GTD,
		ExpiresAt:   clock.Now().Add(time.Minute),
	}
	res := mustSubmit(t, e, stop)

	clock.Advance(2 * time.Minute)
	e.Sweep()

	if got := e.pairs[testPair].stops.Len(); got != 0 {
		t.Errorf("parked stops after sweep = %d, want 0", got)
	}
	for _, o := range e.UserOrders("sam") {
		if o.ID == res.Order.ID && o.Status != types.StatusExpired {
			t.Errorf("status = %s, want EXPIRED", o.Status)
		}
	}
}

func TestHistoryCountRetention(t *testing.T) {
	t.Parallel()

	logger := testLogger()
	snk := sink.New(64, logger, nil)
	cfg := config.Default().Engine
	cfg.PairHistoryMax = 5
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	e := New(cfg, logger, snk, WithClock(clock))

	mustSubmit(t, e, limitDraft("alice", types.SELL, "8", "100"))
	for i := 0; i < 8; i++ {
		mustSubmit(t, e, limitDraft("bob", types.BUY, "1", "100"))
		clock.Advance(time.Second)
	}

	e.Sweep()

	trades, err := e.Trades(testPair, 100)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 5 {
		t.Fatalf("retained trades = %d, want cap 5", len(trades))
	}
	if trades[0].ID != 8 || trades[len(trades)-1].ID != 4 {
		t.Errorf("retained ids = %d..%d, want newest 8..4", trades[0].ID, trades[len(trades)-1].ID)
	}
}

func TestHistoryAgeRetention(t *testing.T) {
	t.Parallel()

	e, clock, _ := newTestEngine(t)

	mustSubmit(t, e, limitDraft("alice", types.SELL, "2", "100"))
	mustSubmit(t, e, limitDraft("bob", types.BUY, "2", "100"))

	clock.Advance(25 * time.Hour)
	e.Sweep()

	trades, err := e.Trades(testPair, 100)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("trades older than the window survived: %d", len(trades))
	}

	// The statistics window rolled off too, but the last price survives.
	report := e.MarketStats()
	s := report.Pairs[testPair]
	if !s.Volume24h.IsZero() || s.TradeCount != 0 {
		t.Errorf("stats after roll-off = volume %s count %d, want zeros", s.Volume24h, s.TradeCount)
	}
	if !s.LastPrice.Equal(d("100")) {
		t.Errorf("last price after roll-off = %s, want 100", s.LastPrice)
	}
}
