// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange: order and trade
// records, book snapshots, market statistics, and event stream payloads.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"     // execute immediately at best available prices
	OrderTypeLimit     OrderType = "LIMIT"      // execute at the limit price or better
	OrderTypeStop      OrderType = "STOP"       // becomes MARKET once the stop price trades
	OrderTypeStopLimit OrderType = "STOP_LIMIT" // becomes LIMIT once the stop price trades
)

// TimeInForce controls how long an order remains eligible for matching.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // good till cancelled
	IOC TimeInForce = "IOC" // immediate or cancel: fill what crosses, cancel the rest
	FOK TimeInForce = "FOK" // fill or kill: fill completely or not at all
	GTD TimeInForce = "GTD" // good till date: expires at ExpiresAt
)

// OrderStatus is the lifecycle state of an order. Transitions are monotonic;
// terminal states are never left.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// Cancellation reasons carried on order_cancelled events.
const (
	ReasonUserRequest   = "user_request"
	ReasonModified      = "modified"
	ReasonExpired       = "expired"
	ReasonFOKUnfillable = "fok_unfillable"
	ReasonIOCUnfilled   = "ioc_unfilled"
)

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderDraft is the submission payload. The engine validates it, assigns an
// identifier and creation timestamp, and promotes it to an Order.
type OrderDraft struct {
	UserID      string          `json:"user_id"`
	Pair        string          `json:"pair"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`      // limit price, required for LIMIT and STOP_LIMIT
	StopPrice   decimal.Decimal `json:"stop_price"` // trigger price, required for STOP and STOP_LIMIT
	TimeInForce TimeInForce     `json:"time_in_force"`
	ExpiresAt   time.Time       `json:"expires_at"` // required for GTD
}

// Order is the engine's record of a submission. Identifiers are unique and
// monotonic within one engine. Quantity and prices are exact decimals;
// fractional share units are permitted.
type Order struct {
	ID          uint64          `json:"id"`
	UserID      string          `json:"user_id"`
	Pair        string          `json:"pair"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Filled      decimal.Decimal `json:"filled"`
	Price       decimal.Decimal `json:"price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      OrderStatus     `json:"status"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// Terminal reports whether the order has reached a final status.
func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}

// SubmitResult is returned by submit and modify. Order is a snapshot taken
// after synchronous matching; Trades are the fills executed during the call.
// Reason is set when the order terminated at acceptance (fok_unfillable,
// ioc_unfilled) and empty otherwise.
type SubmitResult struct {
	Order  Order   `json:"order"`
	Trades []Trade `json:"trades,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is the immutable record of a single fill. The price is always the
// resting (maker) order's price. Trade identifiers are monotonic within one
// engine.
type Trade struct {
	ID           uint64          `json:"id"`
	Pair         string          `json:"pair"`
	MakerOrderID uint64          `json:"maker_order_id"`
	TakerOrderID uint64          `json:"taker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book snapshots
// ————————————————————————————————————————————————————————————————————————

// BookLevel is one aggregated price level: the summed remaining quantity and
// the number of resting orders at that price.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot is a point-in-time aggregated view of one pair's book.
// Bids are sorted descending by price, asks ascending; both are truncated
// to the requested depth.
type BookSnapshot struct {
	Pair      string          `json:"pair"`
	Bids      []BookLevel     `json:"bids"`
	Asks      []BookLevel     `json:"asks"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// ————————————————————————————————————————————————————————————————————————
// Market statistics
// ————————————————————————————————————————————————————————————————————————

// PairStats is the rolling 24-hour view of one trading pair.
// ChangePct24h is expressed in percent; both change fields are zero when no
// trade at or before the start of the window anchors the comparison.
type PairStats struct {
	Pair         string          `json:"pair"`
	LastPrice    decimal.Decimal `json:"last_price"`
	Volume24h    decimal.Decimal `json:"volume_24h"`
	High24h      decimal.Decimal `json:"high_24h"`
	Low24h       decimal.Decimal `json:"low_24h"`
	Change24h    decimal.Decimal `json:"change_24h"`
	ChangePct24h decimal.Decimal `json:"change_pct_24h"`
	TradeCount   int             `json:"trade_count_24h"`
}

// StatsReport is the engine-wide statistics answer: per-pair stats plus
// totals across every pair the engine has seen.
type StatsReport struct {
	Pairs          map[string]PairStats `json:"pairs"`
	TotalPairs     int                  `json:"total_pairs"`
	TotalVolume24h decimal.Decimal      `json:"total_volume_24h"`
}
