package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Event stream
// ————————————————————————————————————————————————————————————————————————
// Every engine state change is published to named channels on the event
// sink. An Event is the wire envelope; Payload is one of the fixed payload
// structs below, selected by Type. Sequence is assigned by the sink per
// channel and is strictly increasing from 1. Directed control replies
// (subscription_confirmed, pong, slow_consumer) carry no sequence.

// EventType names one kind of stream message.
type EventType string

const (
	EventOrderAccepted     EventType = "order_accepted"
	EventOrderUpdate       EventType = "order_update"
	EventTradeExecuted     EventType = "trade_executed"
	EventOrderBookUpdate   EventType = "order_book_update"
	EventMarketStatsUpdate EventType = "market_stats_update"
	EventOrderCancelled    EventType = "order_cancelled"
	EventEngineShutdown    EventType = "engine_shutdown"

	// Control replies pushed by the stream layer.
	EventSubscriptionConfirmed EventType = "subscription_confirmed"
	EventPong                  EventType = "pong"
	EventSlowConsumer          EventType = "slow_consumer"
)

// Event is the envelope for every message pushed to a subscriber.
type Event struct {
	Type      EventType `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// OrderAcceptedPayload carries the accepted order snapshot.
type OrderAcceptedPayload struct {
	Order Order `json:"order"`
}

// OrderUpdatePayload reports a status or fill change on one order.
type OrderUpdatePayload struct {
	OrderID uint64          `json:"order_id"`
	Status  OrderStatus     `json:"status"`
	Filled  decimal.Decimal `json:"filled"`
}

// TradeExecutedPayload carries one fill.
type TradeExecutedPayload struct {
	Trade Trade `json:"trade"`
}

// OrderBookUpdatePayload is the debounced aggregated book snapshot.
type OrderBookUpdatePayload struct {
	Pair      string          `json:"pair"`
	Bids      []BookLevel     `json:"bids"`
	Asks      []BookLevel     `json:"asks"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// MarketStatsUpdatePayload carries refreshed 24h statistics for one pair.
type MarketStatsUpdatePayload struct {
	Pair  string    `json:"pair"`
	Stats PairStats `json:"stats"`
}

// OrderCancelledPayload reports a cancellation and why it happened.
type OrderCancelledPayload struct {
	OrderID uint64 `json:"order_id"`
	Reason  string `json:"reason"`
}

// ————————————————————————————————————————————————————————————————————————
// Channels
// ————————————————————————————————————————————————————————————————————————

// ChannelTradingUpdates carries engine-wide trades, stats refreshes, and the
// final engine_shutdown message.
const ChannelTradingUpdates = "trading_updates"

// ChannelOrderBook names the per-pair book snapshot channel.
func ChannelOrderBook(pair string) string { return "orderbook:" + pair }

// ChannelTrades names the per-pair trade channel.
func ChannelTrades(pair string) string { return "trades:" + pair }

// ChannelUser names a user's order lifecycle channel.
func ChannelUser(userID string) string { return "user:" + userID }

// ChannelUserOrders names a user's order acceptance channel.
func ChannelUserOrders(userID string) string { return "user_orders:" + userID }

// ————————————————————————————————————————————————————————————————————————
// Stream control messages
// ————————————————————————————————————————————————————————————————————————

// Control message types accepted from stream clients.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
)

// ControlMessage is the duplex message a stream client sends to manage its
// subscriptions or probe liveness.
type ControlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}
