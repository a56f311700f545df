// Package book implements the per-pair limit order book.
//
// Each side (bids, asks) is a btree of price levels; within a level orders
// queue FIFO in a doubly-linked list, which gives price-time priority and
// O(1) removal for cancels. An id index maps order ids to their node.
// A separate StopIndex holds untriggered STOP and STOP_LIMIT orders keyed
// by stop price.
//
// The book is not safe for concurrent use: the engine serializes all access.
package book

import (
	"github.com/shopspring/decimal"

	"invoicex/pkg/types"
)

// node is one resting order's slot in a level's FIFO queue. The back-pointer
// to its level makes cancellation O(1).
type node struct {
	order *types.Order
	prev  *node
	next  *node
	level *level
}

// level is all resting orders at one price, oldest first. totalQty tracks
// the summed remaining quantity so depth queries do not iterate orders.
type level struct {
	price    decimal.Decimal
	head     *node
	tail     *node
	count    int
	totalQty decimal.Decimal
}

func newLevel(price decimal.Decimal) *level {
	return &level{price: price, totalQty: decimal.Zero}
}

func (l *level) empty() bool {
	return l.count == 0
}

// append queues an order at the tail (lowest priority at this price) and
// returns its node for later O(1) removal.
func (l *level) append(o *types.Order) *node {
	n := &node{order: o, level: l}
	if l.tail == nil {
		l.head = n
		l.tail = n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.count++
	l.totalQty = l.totalQty.Add(o.Remaining())
	return n
}

// remove unlinks a node and deducts the order's current remaining quantity
// from the level total.
func (l *level) remove(n *node) {
	l.totalQty = l.totalQty.Sub(n.order.Remaining())
	l.count--

	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev = nil
	n.next = nil
	n.level = nil
}

// reduce deducts a filled quantity from the level total. The order itself is
// updated by the engine; this keeps the cached sum consistent.
func (l *level) reduce(qty decimal.Decimal) {
	l.totalQty = l.totalQty.Sub(qty)
}
