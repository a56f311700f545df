package book

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"invoicex/pkg/types"
)

const btreeDegree = 32

// levelItem wraps a price level for the btree. Ordering is ascending by
// price; the side decides the iteration direction.
type levelItem struct {
	price decimal.Decimal
	level *level
}

func (a *levelItem) Less(b btree.Item) bool {
	return a.price.LessThan(b.(*levelItem).price)
}

// side is one half of the book. desc is true for bids, whose best price is
// the tree maximum and whose display order is descending.
type side struct {
	tree   *btree.BTree
	desc   bool
	orders int
}

func newSide(desc bool) *side {
	return &side{tree: btree.New(btreeDegree), desc: desc}
}

func (s *side) get(price decimal.Decimal) *level {
	item := s.tree.Get(&levelItem{price: price})
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

func (s *side) getOrCreate(price decimal.Decimal) *level {
	if l := s.get(price); l != nil {
		return l
	}
	l := newLevel(price)
	s.tree.ReplaceOrInsert(&levelItem{price: price, level: l})
	return l
}

func (s *side) drop(price decimal.Decimal) {
	s.tree.Delete(&levelItem{price: price})
}

// best returns the level at the side's best price: highest for bids, lowest
// for asks.
func (s *side) best() *level {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

// iterate walks levels from best to worst. fn must not mutate the tree;
// returning false stops the walk.
func (s *side) iterate(fn func(*level) bool) {
	wrap := func(item btree.Item) bool {
		return fn(item.(*levelItem).level)
	}
	if s.desc {
		s.tree.Descend(wrap)
	} else {
		s.tree.Ascend(wrap)
	}
}

// Book holds the resting orders of one trading pair.
type Book struct {
	pair string
	bids *side
	asks *side
	byID map[uint64]*node
}

// New creates an empty book for a pair.
func New(pair string) *Book {
	return &Book{
		pair: pair,
		bids: newSide(true),
		asks: newSide(false),
		byID: make(map[uint64]*node),
	}
}

// Pair returns the pair identifier this book serves.
func (b *Book) Pair() string {
	return b.pair
}

func (b *Book) sideFor(s types.Side) *side {
	if s == types.BUY {
		return b.bids
	}
	return b.asks
}

// Insert rests an order on its side at its limit price.
func (b *Book) Insert(o *types.Order) error {
	if o.Pair != b.pair {
		return fmt.Errorf("order %d pair %q does not match book %q", o.ID, o.Pair, b.pair)
	}
	if _, ok := b.byID[o.ID]; ok {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	sd := b.sideFor(o.Side)
	b.byID[o.ID] = sd.getOrCreate(o.Price).append(o)
	sd.orders++
	return nil
}

// Remove takes a resting order out of the book, dropping its level if it
// became empty. Returns false if the id is not resting here.
func (b *Book) Remove(id uint64) (*types.Order, bool) {
	n, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	o := n.order
	lvl := n.level
	lvl.remove(n)
	sd := b.sideFor(o.Side)
	sd.orders--
	if lvl.empty() {
		sd.drop(lvl.price)
	}
	delete(b.byID, id)
	return o, true
}

// Contains reports whether an order currently rests in the book.
func (b *Book) Contains(id uint64) bool {
	_, ok := b.byID[id]
	return ok
}

// PeekHead returns the resting order with the highest priority on a side:
// best price, earliest arrival. Nil when the side is empty.
func (b *Book) PeekHead(s types.Side) *types.Order {
	lvl := b.sideFor(s).best()
	if lvl == nil || lvl.head == nil {
		return nil
	}
	return lvl.head.order
}

// Reduce records a fill of qty against a resting order whose Filled was just
// advanced by the caller. When the order has no remainder it leaves the book.
func (b *Book) Reduce(id uint64, qty decimal.Decimal) {
	n, ok := b.byID[id]
	if !ok {
		return
	}
	n.level.reduce(qty)
	if n.order.Remaining().IsZero() {
		lvl := n.level
		sd := b.sideFor(n.order.Side)
		lvl.remove(n)
		sd.orders--
		if lvl.empty() {
			sd.drop(lvl.price)
		}
		delete(b.byID, id)
	}
}

// BestPrice returns a side's best price. ok is false when the side is empty.
func (b *Book) BestPrice(s types.Side) (decimal.Decimal, bool) {
	lvl := b.sideFor(s).best()
	if lvl == nil {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// Len returns the number of resting orders on a side.
func (b *Book) Len(s types.Side) int {
	return b.sideFor(s).orders
}

// Aggregate walks up to depth distinct prices from the best, summing
// remaining quantity and counting orders per level. depth <= 0 yields no
// levels.
func (b *Book) Aggregate(s types.Side, depth int) []types.BookLevel {
	out := []types.BookLevel{}
	if depth <= 0 {
		return out
	}
	b.sideFor(s).iterate(func(l *level) bool {
		out = append(out, types.BookLevel{
			Price:    l.price,
			Quantity: l.totalQty,
			Orders:   l.count,
		})
		return len(out) < depth
	})
	return out
}

// CanFill walks a side non-destructively and reports whether need can be
// fully covered at acceptable prices: any price when market is true,
// otherwise ask levels at or below limit (for a buyer) or bid levels at or
// above limit (for a seller).
func (b *Book) CanFill(s types.Side, need decimal.Decimal, limit decimal.Decimal, market bool) bool {
	if need.Sign() <= 0 {
		return true
	}
	avail := decimal.Zero
	filled := false
	b.sideFor(s).iterate(func(l *level) bool {
		if !market {
			if s == types.SELL && l.price.GreaterThan(limit) {
				return false
			}
			if s == types.BUY && l.price.LessThan(limit) {
				return false
			}
		}
		avail = avail.Add(l.totalQty)
		if avail.GreaterThanOrEqual(need) {
			filled = true
			return false
		}
		return true
	})
	return filled
}

// Each visits every resting order, best bids first then best asks. fn must
// not mutate the book; returning false stops the walk.
func (b *Book) Each(fn func(*types.Order) bool) {
	stopped := false
	walk := func(l *level) bool {
		for n := l.head; n != nil; n = n.next {
			if !fn(n.order) {
				stopped = true
				return false
			}
		}
		return true
	}
	b.bids.iterate(walk)
	if !stopped {
		b.asks.iterate(walk)
	}
}

// Validate checks the book's structural invariants. Intended for tests.
func (b *Book) Validate() error {
	bid, hasBid := b.BestPrice(types.BUY)
	ask, hasAsk := b.BestPrice(types.SELL)
	if hasBid && hasAsk && bid.GreaterThanOrEqual(ask) {
		return fmt.Errorf("book %s crossed: best bid %s >= best ask %s", b.pair, bid, ask)
	}

	seen := 0
	var err error
	check := func(s types.Side) func(*level) bool {
		return func(l *level) bool {
			sum := decimal.Zero
			count := 0
			for n := l.head; n != nil; n = n.next {
				o := n.order
				if o.Pair != b.pair {
					err = fmt.Errorf("order %d pair %q in book %q", o.ID, o.Pair, b.pair)
					return false
				}
				if o.Side != s {
					err = fmt.Errorf("order %d side %s on %s side", o.ID, o.Side, s)
					return false
				}
				if o.Status != types.StatusPending && o.Status != types.StatusPartiallyFilled {
					err = fmt.Errorf("order %d rests with status %s", o.ID, o.Status)
					return false
				}
				if !o.Price.Equal(l.price) {
					err = fmt.Errorf("order %d price %s at level %s", o.ID, o.Price, l.price)
					return false
				}
				if ref, ok := b.byID[o.ID]; !ok || ref != n {
					err = fmt.Errorf("order %d missing from id index", o.ID)
					return false
				}
				sum = sum.Add(o.Remaining())
				count++
				seen++
			}
			if !sum.Equal(l.totalQty) {
				err = fmt.Errorf("level %s total %s, orders sum %s", l.price, l.totalQty, sum)
				return false
			}
			if count != l.count {
				err = fmt.Errorf("level %s count %d, found %d", l.price, l.count, count)
				return false
			}
			return true
		}
	}
	b.bids.iterate(check(types.BUY))
	if err != nil {
		return err
	}
	b.asks.iterate(check(types.SELL))
	if err != nil {
		return err
	}
	if seen != len(b.byID) {
		return fmt.Errorf("id index holds %d orders, sides hold %d", len(b.byID), seen)
	}
	return nil
}
