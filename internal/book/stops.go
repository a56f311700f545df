package book

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"invoicex/pkg/types"
)

// stopItem keys an untriggered stop order by (stop price, id) so entries at
// the same trigger price stay distinct and fire oldest id first.
type stopItem struct {
	price decimal.Decimal
	id    uint64
	order *types.Order
}

func (a *stopItem) Less(b btree.Item) bool {
	o := b.(*stopItem)
	if !a.price.Equal(o.price) {
		return a.price.LessThan(o.price)
	}
	return a.id < o.id
}

// StopIndex holds a pair's untriggered STOP and STOP_LIMIT orders. BUY stops
// trigger when the last trade price reaches or exceeds the stop price, SELL
// stops when it reaches or falls below it.
type StopIndex struct {
	buys  *btree.BTree
	sells *btree.BTree
	byID  map[uint64]*stopItem
}

// NewStopIndex creates an empty stop index.
func NewStopIndex() *StopIndex {
	return &StopIndex{
		buys:  btree.New(btreeDegree),
		sells: btree.New(btreeDegree),
		byID:  make(map[uint64]*stopItem),
	}
}

func (s *StopIndex) treeFor(side types.Side) *btree.BTree {
	if side == types.BUY {
		return s.buys
	}
	return s.sells
}

// Add indexes a stop order by its stop price.
func (s *StopIndex) Add(o *types.Order) error {
	if _, ok := s.byID[o.ID]; ok {
		return fmt.Errorf("order %d already in stop index", o.ID)
	}
	item := &stopItem{price: o.StopPrice, id: o.ID, order: o}
	s.treeFor(o.Side).ReplaceOrInsert(item)
	s.byID[o.ID] = item
	return nil
}

// Remove takes an order out of the index. Returns false if the id is not
// waiting here.
func (s *StopIndex) Remove(id uint64) (*types.Order, bool) {
	item, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	s.treeFor(item.order.Side).Delete(item)
	delete(s.byID, id)
	return item.order, true
}

// Contains reports whether an order is waiting in the index.
func (s *StopIndex) Contains(id uint64) bool {
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of waiting stop orders.
func (s *StopIndex) Len() int {
	return len(s.byID)
}

// Triggered removes and returns every stop the last trade price has reached:
// BUY stops with stop price at or below last, SELL stops at or above it.
// BUY stops fire lowest stop first, SELL stops highest first; ties fire in
// id order.
func (s *StopIndex) Triggered(last decimal.Decimal) []*types.Order {
	var fired []*stopItem

	s.buys.Ascend(func(it btree.Item) bool {
		item := it.(*stopItem)
		if item.price.GreaterThan(last) {
			return false
		}
		fired = append(fired, item)
		return true
	})
	s.sells.Descend(func(it btree.Item) bool {
		item := it.(*stopItem)
		if item.price.LessThan(last) {
			return false
		}
		fired = append(fired, item)
		return true
	})

	orders := make([]*types.Order, 0, len(fired))
	for _, item := range fired {
		s.treeFor(item.order.Side).Delete(item)
		delete(s.byID, item.id)
		orders = append(orders, item.order)
	}
	return orders
}

// Each visits every waiting stop order. fn must not mutate the index;
// returning false stops the walk.
func (s *StopIndex) Each(fn func(*types.Order) bool) {
	stopped := false
	walk := func(it btree.Item) bool {
		if !fn(it.(*stopItem).order) {
			stopped = true
			return false
		}
		return true
	}
	s.buys.Ascend(walk)
	if !stopped {
		s.sells.Ascend(walk)
	}
}
