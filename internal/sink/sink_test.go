package sink

import (
	"io"
	"log/slog"
	"testing"

	"invoicex/pkg/types"
)

func newTestSink(queueSize int) *Sink {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(queueSize, logger, nil)
}

func drain(s *Subscriber, n int) []types.Event {
	out := make([]types.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, <-s.Events())
	}
	return out
}

func TestBroadcastSequencesPerChannel(t *testing.T) {
	t.Parallel()

	k := newTestSink(16)
	sub, err := k.Register("c1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := k.Subscribe("c1", "trades:invoice-1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := k.Subscribe("c1", "trades:invoice-2"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		k.Broadcast("trades:invoice-1", types.Event{Type: types.EventTradeExecuted})
	}
	k.Broadcast("trades:invoice-2", types.Event{Type: types.EventTradeExecuted})

	got := drain(sub, 4)
	for i, ev := range got[:3] {
		if ev.Channel != "trades:invoice-1" {
			t.Errorf("event %d channel = %q, want trades:invoice-1", i, ev.Channel)
		}
		if ev.Sequence != uint64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, ev.Sequence, i+1)
		}
	}
	if got[3].Channel != "trades:invoice-2" || got[3].Sequence != 1 {
		t.Errorf("second channel event = {%q, %d}, want {trades:invoice-2, 1}", got[3].Channel, got[3].Sequence)
	}
}

func TestBroadcastReachesOnlySubscribedChannels(t *testing.T) {
	t.Parallel()

	k := newTestSink(16)
	a, _ := k.Register("a")
	b, _ := k.Register("b")
	k.Subscribe("a", "orderbook:invoice-1")
	k.Subscribe("b", "orderbook:invoice-2")

	k.Broadcast("orderbook:invoice-1", types.Event{Type: types.EventOrderBookUpdate})

	if ev := <-a.Events(); ev.Channel != "orderbook:invoice-1" {
		t.Errorf("subscriber a got channel %q", ev.Channel)
	}
	select {
	case ev := <-b.Events():
		t.Errorf("subscriber b unexpectedly received %v", ev)
	default:
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	t.Parallel()

	k := newTestSink(2)
	slow, _ := k.Register("slow")
	fast, _ := k.Register("fast")
	k.Subscribe("slow", "trading_updates")
	k.Subscribe("fast", "trading_updates")

	// Two fit the slow queue, the third overflows it.
	for i := 0; i < 3; i++ {
		k.Broadcast("trading_updates", types.Event{Type: types.EventMarketStatsUpdate})
		drain(fast, 1)
	}

	drain(slow, 2)
	if _, open := <-slow.Events(); open {
		t.Fatal("slow subscriber queue still open after overflow")
	}
	if got := slow.DropReason(); got != ReasonSlowConsumer {
		t.Errorf("DropReason = %q, want %q", got, ReasonSlowConsumer)
	}
	if got := k.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}

	// The survivor keeps receiving with an uninterrupted sequence.
	k.Broadcast("trading_updates", types.Event{Type: types.EventMarketStatsUpdate})
	if ev := drain(fast, 1)[0]; ev.Sequence != 4 {
		t.Errorf("sequence after drop = %d, want 4", ev.Sequence)
	}
}

func TestSendIsDirectedAndUnsequenced(t *testing.T) {
	t.Parallel()

	k := newTestSink(16)
	sub, _ := k.Register("c1")
	k.Register("c2")

	if ok := k.Send("c1", types.Event{Type: types.EventPong}); !ok {
		t.Fatal("Send to registered subscriber failed")
	}
	ev := <-sub.Events()
	if ev.Type != types.EventPong {
		t.Errorf("event type = %q, want %q", ev.Type, types.EventPong)
	}
	if ev.Sequence != 0 {
		t.Errorf("directed event sequence = %d, want 0", ev.Sequence)
	}
	if ok := k.Send("ghost", types.Event{Type: types.EventPong}); ok {
		t.Error("Send to unknown subscriber reported success")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	k := newTestSink(16)
	sub, _ := k.Register("c1")
	k.Subscribe("c1", "user:alice")
	k.Broadcast("user:alice", types.Event{Type: types.EventOrderUpdate})

	if err := k.Unsubscribe("c1", "user:alice"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	k.Broadcast("user:alice", types.Event{Type: types.EventOrderUpdate})

	drain(sub, 1)
	select {
	case ev := <-sub.Events():
		t.Errorf("received after unsubscribe: %v", ev)
	default:
	}

	if err := k.Unsubscribe("ghost", "user:alice"); err == nil {
		t.Error("Unsubscribe for unknown subscriber did not error")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	k := newTestSink(16)
	if _, err := k.Register("c1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := k.Register("c1"); err == nil {
		t.Error("duplicate Register did not error")
	}
}

func TestCloseAndShutdown(t *testing.T) {
	t.Parallel()

	k := newTestSink(16)
	sub, _ := k.Register("c1")
	k.Subscribe("c1", "trading_updates")

	k.Close("c1")
	if _, open := <-sub.Events(); open {
		t.Fatal("queue still open after Close")
	}
	if got := sub.DropReason(); got != "" {
		t.Errorf("DropReason after Close = %q, want empty", got)
	}
	k.Close("c1") // second close is a no-op

	other, _ := k.Register("c2")
	k.Shutdown()
	if _, open := <-other.Events(); open {
		t.Fatal("queue still open after Shutdown")
	}
	if _, err := k.Register("c3"); err == nil {
		t.Error("Register after Shutdown did not error")
	}
}
