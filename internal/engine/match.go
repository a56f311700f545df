package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"invoicex/pkg/types"
)

// Submit validates a draft, assigns an id and creation timestamp, and runs
// the matching loop to completion, including any stop orders the resulting
// trades trigger. The result snapshots the order after all synchronous fills
// and lists every trade the call executed. Rejected drafts return
// ErrInvalidParams and enter nothing.
func (e *Engine) Submit(draft types.OrderDraft) (types.SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return types.SubmitResult{}, ErrEngineClosed
	}
	if err := e.validateLocked(&draft); err != nil {
		if e.collector != nil {
			e.collector.OrdersRejected.WithLabelValues("invalid_params").Inc()
		}
		return types.SubmitResult{}, err
	}
	return e.executeLocked(e.acceptLocked(draft)), nil
}

// Cancel removes a resting or parked order and marks it CANCELLED.
func (e *Engine) Cancel(orderID uint64, userID string) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return types.Order{}, ErrEngineClosed
	}
	o, err := e.authorizeLocked(orderID, userID)
	if err != nil {
		return types.Order{}, err
	}
	e.unrestLocked(o)
	o.Status = types.StatusCancelled
	e.cancelEventsLocked(o, types.ReasonUserRequest)
	e.logger.Info("order cancelled", "id", o.ID, "user", userID)
	return *o, nil
}

// Modify cancels a live order and resubmits it with the requested changes.
// The replacement gets a fresh id and timestamp, so it loses its time
// priority. A zero newPrice or newQuantity keeps the current limit price or
// the remaining quantity; newQuantity counts cumulatively, so a value at or
// below the filled total is rejected. Validation failures leave the original
// order untouched.
func (e *Engine) Modify(orderID uint64, userID string, newPrice, newQuantity decimal.Decimal) (types.SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return types.SubmitResult{}, ErrEngineClosed
	}
	o, err := e.authorizeLocked(orderID, userID)
	if err != nil {
		return types.SubmitResult{}, err
	}

	draft := types.OrderDraft{
		UserID:      o.UserID,
		Pair:        o.Pair,
		Side:        o.Side,
		Type:        o.Type,
		Quantity:    o.Remaining(),
		Price:       o.Price,
		StopPrice:   o.StopPrice,
		TimeInForce: o.TimeInForce,
		ExpiresAt:   o.ExpiresAt,
	}
	if !newPrice.IsZero() {
		if o.Type != types.OrderTypeLimit && o.Type != types.OrderTypeStopLimit {
			return types.SubmitResult{}, fmt.Errorf("%w: %s orders carry no limit price", ErrInvalidParams, o.Type)
		}
		draft.Price = newPrice
	}
	if !newQuantity.IsZero() {
		if newQuantity.LessThanOrEqual(o.Filled) {
			return types.SubmitResult{}, fmt.Errorf("%w: new quantity %s does not exceed filled %s",
				ErrInvalidParams, newQuantity, o.Filled)
		}
		draft.Quantity = newQuantity.Sub(o.Filled)
	}
	if err := e.validateLocked(&draft); err != nil {
		return types.SubmitResult{}, err
	}

	e.unrestLocked(o)
	o.Status = types.StatusCancelled
	e.cancelEventsLocked(o, types.ReasonModified)

	replacement := e.acceptLocked(draft)
	e.logger.Info("order modified", "old_id", o.ID, "new_id", replacement.ID, "user", userID)
	return e.executeLocked(replacement), nil
}

// validateLocked checks a draft against the rejection conditions and
// normalizes it: the time-in-force defaults to GTC and fields the order type
// does not use are cleared.
func (e *Engine) validateLocked(d *types.OrderDraft) error {
	if d.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidParams)
	}
	if d.Pair == "" {
		return fmt.Errorf("%w: pair is required", ErrInvalidParams)
	}
	switch d.Side {
	case types.BUY, types.SELL:
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidParams, d.Side)
	}
	switch d.Type {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStop, types.OrderTypeStopLimit:
	default:
		return fmt.Errorf("%w: order type %q", ErrInvalidParams, d.Type)
	}
	if d.TimeInForce == "" {
		d.TimeInForce = types.GTC
	}
	switch d.TimeInForce {
	case types.GTC, types.IOC, types.FOK, types.GTD:
	default:
		return fmt.Errorf("%w: time_in_force %q", ErrInvalidParams, d.TimeInForce)
	}
	if !d.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidParams)
	}
	if d.Price.IsNegative() || d.StopPrice.IsNegative() {
		return fmt.Errorf("%w: prices must be > 0", ErrInvalidParams)
	}

	needsLimit := d.Type == types.OrderTypeLimit || d.Type == types.OrderTypeStopLimit
	if needsLimit && !d.Price.IsPositive() {
		return fmt.Errorf("%w: %s requires a limit price", ErrInvalidParams, d.Type)
	}
	if !needsLimit {
		d.Price = decimal.Zero
	}
	needsStop := d.Type == types.OrderTypeStop || d.Type == types.OrderTypeStopLimit
	if needsStop && !d.StopPrice.IsPositive() {
		return fmt.Errorf("%w: %s requires a stop price", ErrInvalidParams, d.Type)
	}
	if !needsStop {
		d.StopPrice = decimal.Zero
	}

	if d.TimeInForce == types.GTD {
		if d.ExpiresAt.IsZero() {
			return fmt.Errorf("%w: GTD requires expires_at", ErrInvalidParams)
		}
		if !d.ExpiresAt.After(e.clock.Now()) {
			return fmt.Errorf("%w: expires_at is in the past", ErrInvalidParams)
		}
	} else {
		d.ExpiresAt = time.Time{}
	}
	return nil
}

// acceptLocked promotes a validated draft to an Order, registers it and
// announces the acceptance.
func (e *Engine) acceptLocked(d types.OrderDraft) *types.Order {
	e.nextOrderID++
	o := &types.Order{
		ID:          e.nextOrderID,
		UserID:      d.UserID,
		Pair:        d.Pair,
		Side:        d.Side,
		Type:        d.Type,
		Quantity:    d.Quantity,
		Filled:      decimal.Zero,
		Price:       d.Price,
		StopPrice:   d.StopPrice,
		TimeInForce: d.TimeInForce,
		ExpiresAt:   d.ExpiresAt,
		CreatedAt:   e.clock.Now(),
		Status:      types.StatusPending,
	}
	e.orders[o.ID] = o
	e.userOrders[o.UserID] = append(e.userOrders[o.UserID], o.ID)

	if e.journal != nil {
		e.journal.RecordOrder(*o)
	}
	if e.collector != nil {
		e.collector.OrdersSubmitted.WithLabelValues(o.Pair, string(o.Side), string(o.Type)).Inc()
	}
	e.publishLocked(types.ChannelUser(o.UserID), types.EventOrderAccepted, types.OrderAcceptedPayload{Order: *o})
	e.publishLocked(types.ChannelUserOrders(o.UserID), types.EventOrderAccepted, types.OrderAcceptedPayload{Order: *o})
	return o
}

// executeLocked routes a freshly accepted order: stop types park in the
// trigger index, market and limit orders match immediately. Any trades the
// call produces are followed by a stop-trigger drain, so cascades complete
// before the call returns and their fills are part of the result.
func (e *Engine) executeLocked(o *types.Order) types.SubmitResult {
	ps := e.pairLocked(o.Pair)

	if o.Type == types.OrderTypeStop || o.Type == types.OrderTypeStopLimit {
		// Stops are evaluated when a trade moves the last price, never at
		// submission time.
		if err := ps.stops.Add(o); err != nil {
			e.logger.Error("stop index add failed", "id", o.ID, "error", err)
		} else {
			e.openOrdersAdd(o.Pair, 1)
		}
		e.logger.Debug("stop order parked", "id", o.ID, "pair", o.Pair, "stop_price", o.StopPrice)
		return types.SubmitResult{Order: *o}
	}

	trades, reason := e.matchLocked(ps, o)
	if len(trades) > 0 {
		trades = append(trades, e.drainStopsLocked(ps)...)
	}
	return types.SubmitResult{Order: *o, Trades: trades, Reason: reason}
}

// matchLocked runs the matching loop for a market or limit taker and
// finalizes its status. The returned reason is non-empty when the order
// terminated at acceptance: fok_unfillable, or ioc_unfilled for a taker that
// matched nothing and could not rest.
func (e *Engine) matchLocked(ps *pairState, taker *types.Order) ([]types.Trade, string) {
	// Fill-or-kill decides on the whole quantity before touching the book.
	if taker.TimeInForce == types.FOK {
		fillable := ps.book.CanFill(taker.Side.Opposite(), taker.Remaining(), taker.Price,
			taker.Type == types.OrderTypeMarket)
		if !fillable {
			taker.Status = types.StatusCancelled
			e.cancelEventsLocked(taker, types.ReasonFOKUnfillable)
			e.logger.Debug("fok unfillable", "id", taker.ID, "pair", taker.Pair)
			return nil, types.ReasonFOKUnfillable
		}
	}

	var trades []types.Trade
	opposite := taker.Side.Opposite()
	for taker.Remaining().IsPositive() {
		maker := ps.book.PeekHead(opposite)
		if maker == nil {
			break
		}
		if taker.Type == types.OrderTypeLimit && !crosses(taker, maker) {
			break
		}
		trades = append(trades, e.fillLocked(ps, taker, maker))
	}

	var reason string
	switch {
	case taker.Remaining().IsZero():
		// FILLED, set by the last fill.
	case taker.Type == types.OrderTypeLimit && (taker.TimeInForce == types.GTC || taker.TimeInForce == types.GTD):
		if err := ps.book.Insert(taker); err != nil {
			e.logger.Error("book insert failed", "id", taker.ID, "error", err)
		} else {
			e.openOrdersAdd(taker.Pair, 1)
		}
		e.dirtyBooks[taker.Pair] = struct{}{}
	default:
		// MARKET remainders and LIMIT IOC remainders are cancelled. A FOK
		// reaching here filled completely, the pre-check guaranteed it.
		taker.Status = types.StatusCancelled
		if len(trades) == 0 {
			reason = types.ReasonIOCUnfilled
		}
		e.cancelEventsLocked(taker, types.ReasonIOCUnfilled)
	}

	if len(trades) > 0 {
		e.publishLocked(types.ChannelUser(taker.UserID), types.EventOrderUpdate, types.OrderUpdatePayload{
			OrderID: taker.ID,
			Status:  taker.Status,
			Filled:  taker.Filled,
		})
	}
	return trades, reason
}

// crosses reports whether a limit taker's price is compatible with the head
// maker's resting price.
func crosses(taker, maker *types.Order) bool {
	if taker.Side == types.BUY {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

// fillLocked executes one fill at the maker's resting price, records the
// trade everywhere it lives (history, ring, statistics, journal) and
// publishes the trade and the maker's progress.
func (e *Engine) fillLocked(ps *pairState, taker, maker *types.Order) types.Trade {
	qty := decimal.Min(taker.Remaining(), maker.Remaining())
	price := maker.Price
	now := e.clock.Now()

	taker.Filled = taker.Filled.Add(qty)
	maker.Filled = maker.Filled.Add(qty)
	ps.book.Reduce(maker.ID, qty)

	if maker.Remaining().IsZero() {
		maker.Status = types.StatusFilled
		e.openOrdersAdd(maker.Pair, -1)
	} else {
		maker.Status = types.StatusPartiallyFilled
	}
	if taker.Remaining().IsZero() {
		taker.Status = types.StatusFilled
	} else {
		taker.Status = types.StatusPartiallyFilled
	}

	e.nextTradeID++
	t := types.Trade{
		ID:           e.nextTradeID,
		Pair:         taker.Pair,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		Price:        price,
		Quantity:     qty,
		ExecutedAt:   now,
	}
	ps.history = append(ps.history, t)
	e.recent.push(t)
	ps.window.Record(now, price, qty)
	e.dirtyBooks[t.Pair] = struct{}{}
	e.dirtyStats[t.Pair] = struct{}{}

	if e.journal != nil {
		e.journal.RecordTrade(t)
	}
	if e.collector != nil {
		e.collector.TradesExecuted.WithLabelValues(t.Pair).Inc()
		e.collector.TradeVolume.WithLabelValues(t.Pair).Add(qty.InexactFloat64())
	}

	e.publishLocked(types.ChannelTrades(t.Pair), types.EventTradeExecuted, types.TradeExecutedPayload{Trade: t})
	e.publishLocked(types.ChannelTradingUpdates, types.EventTradeExecuted, types.TradeExecutedPayload{Trade: t})
	e.publishLocked(types.ChannelUser(maker.UserID), types.EventOrderUpdate, types.OrderUpdatePayload{
		OrderID: maker.ID,
		Status:  maker.Status,
		Filled:  maker.Filled,
	})

	e.logger.Debug("trade executed",
		"trade_id", t.ID,
		"pair", t.Pair,
		"price", price,
		"qty", qty,
		"maker", maker.ID,
		"taker", taker.ID,
	)
	return t
}

// drainStopsLocked converts and matches every stop order triggered by the
// current last price, repeating until a pass triggers none. Triggered orders
// take a fresh creation timestamp, so they queue behind existing orders at
// their price.
func (e *Engine) drainStopsLocked(ps *pairState) []types.Trade {
	var trades []types.Trade
	for {
		last := ps.window.LastPrice()
		if last.IsZero() {
			return trades
		}
		triggered := ps.stops.Triggered(last)
		if len(triggered) == 0 {
			return trades
		}
		for _, o := range triggered {
			e.openOrdersAdd(o.Pair, -1)
			o.CreatedAt = e.clock.Now()
			if o.Type == types.OrderTypeStop {
				o.Type = types.OrderTypeMarket
			} else {
				o.Type = types.OrderTypeLimit
			}
			if e.collector != nil {
				e.collector.StopsTriggered.Inc()
			}
			e.logger.Info("stop triggered", "id", o.ID, "pair", o.Pair, "stop_price", o.StopPrice, "last_price", last)
			fills, _ := e.matchLocked(ps, o)
			trades = append(trades, fills...)
		}
	}
}

// cancelEventsLocked announces a cancellation on the submitter's channel.
func (e *Engine) cancelEventsLocked(o *types.Order, reason string) {
	e.publishLocked(types.ChannelUser(o.UserID), types.EventOrderCancelled, types.OrderCancelledPayload{
		OrderID: o.ID,
		Reason:  reason,
	})
}

// authorizeLocked resolves an order id for a mutation by its submitter.
func (e *Engine) authorizeLocked(orderID uint64, userID string) (*types.Order, error) {
	o, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: order %d belongs to another user", ErrForbidden, orderID)
	}
	if o.Terminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrAlreadyTerminal, orderID, o.Status)
	}
	return o, nil
}

// unrestLocked removes a live order from its book or stop index.
func (e *Engine) unrestLocked(o *types.Order) {
	ps := e.pairs[o.Pair]
	if _, ok := ps.book.Remove(o.ID); ok {
		e.dirtyBooks[o.Pair] = struct{}{}
		e.openOrdersAdd(o.Pair, -1)
		return
	}
	if _, ok := ps.stops.Remove(o.ID); ok {
		e.openOrdersAdd(o.Pair, -1)
	}
}
