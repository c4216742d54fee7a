// Package matching implements the per-instruction state machine:
// Validate -> Match -> Settle-or-Post -> Emit. The engine mutates the
// market state it is given and reports errors synchronously; the host
// is responsible for discarding all effects of a failed invocation, so
// nothing here attempts partial rollback.
package matching

import (
	"github.com/dvrvsimi/openbook-dex/domain/instruction"
	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/domain/queue"
)

// Engine executes instructions against one market state. It holds no
// state of its own between instructions.
type Engine struct {
	st *market.State
}

// NewEngine wraps a market state.
func NewEngine(st *market.State) *Engine {
	return &Engine{st: st}
}

// State exposes the wrapped market state.
func (e *Engine) State() *market.State { return e.st }

// Apply dispatches one decoded instruction. Used by request draining
// and journal replay; the typed methods below are the direct API.
func (e *Engine) Apply(ins instruction.Instruction) error {
	switch ix := ins.(type) {
	case instruction.NewOrder:
		return e.NewOrder(ix)
	case instruction.CancelOrder:
		return e.CancelOrder(ix)
	case instruction.ConsumeEvents:
		_, err := e.ConsumeEvents(ix.Limit)
		return err
	case instruction.SettleFunds:
		_, _, err := e.SettleFunds(ix.OwnerSlot)
		return err
	case instruction.InitMarket:
		return market.Statef("market already initialized")
	default:
		return market.Validationf("unknown instruction %T", ins)
	}
}

// NewOrder validates an incoming order, matches it against the
// opposite side under price-time priority, and posts any remainder the
// order type allows to rest.
func (e *Engine) NewOrder(ix instruction.NewOrder) error {
	st := e.st
	if ix.Price == 0 {
		return market.Validationf("price must be nonzero")
	}
	if ix.Quantity == 0 {
		return market.Validationf("quantity must be nonzero")
	}
	limit := int(ix.Limit)
	if limit == 0 {
		limit = instruction.DefaultMatchLimit
	}
	slot, err := st.Slot(ix.OwnerSlot)
	if err != nil {
		return err
	}
	if !slot.Initialized {
		if ix.Owner.IsZero() {
			return market.Validationf("cannot claim slot %d for the zero owner", ix.OwnerSlot)
		}
		slot.Claim(ix.Owner, 0)
	} else if slot.Owner != ix.Owner {
		return market.Validationf("slot %d owned by %s", ix.OwnerSlot, slot.Owner)
	}
	takerBps := st.Fees.TakerBps(slot.FeeTier)

	// Balance check up front, at worst case: every fill at the limit
	// price plus the taker fee on the full quantity.
	if err := checkFunds(slot, ix, takerBps); err != nil {
		return err
	}

	if ix.Type == instruction.PostOnly {
		if best, ok := st.Book.Best(ix.Side.Opposite()); ok && crosses(ix.Side, ix.Price, best.Price()) {
			return market.Validationf("post-only order would cross at %d", best.Price())
		}
	}

	orderID := orderbook.NewKey(ix.Side, ix.Price, st.NextSeq())
	remaining := ix.Quantity
	opposite := ix.Side.Opposite()
	aborted := false

	for iter := 0; remaining > 0; {
		best, ok := st.Book.Best(opposite)
		if !ok || !crosses(ix.Side, ix.Price, best.Price()) {
			break
		}
		iter++
		if iter > limit {
			return market.Budgetf("match loop exceeded %d iterations", limit)
		}

		if best.OwnerSlot == ix.OwnerSlot {
			done, err := e.selfTrade(ix, slot, best, &remaining)
			if err != nil {
				return err
			}
			if done {
				aborted = true
				break
			}
			continue
		}

		fill := min64(remaining, best.Quantity)
		if err := e.fill(ix.Side, slot, best, orderID, fill, takerBps); err != nil {
			return err
		}
		remaining -= fill
	}

	if remaining > 0 && !aborted && ix.Type != instruction.ImmediateOrCancel {
		if err := e.post(ix, slot, orderID, remaining); err != nil {
			return err
		}
	} else if remaining > 0 {
		// Unposted remainder leaves the engine with an Out event.
		st.Events.Push(queue.Event{
			Tag:       queue.EventOut,
			Side:      ix.Side,
			OwnerSlot: ix.OwnerSlot,
			OrderID:   orderID,
			Quantity:  remaining,
		})
	}

	if st.Book.Crossed() {
		return market.Statef("book left crossed after matching")
	}
	return nil
}

// fill crosses one resting order: the taker settles immediately, the
// maker's deltas travel through the event queue.
func (e *Engine) fill(takerSide orderbook.Side, taker *market.OpenOrders, resting orderbook.Order, takerID orderbook.Key, fill uint64, takerBps uint16) error {
	st := e.st
	quote, err := market.MulU64(fill, resting.Price())
	if err != nil {
		return err
	}
	fee, err := market.FeeOn(quote, takerBps)
	if err != nil {
		return err
	}
	if takerSide == orderbook.Bid {
		debit, err := market.AddU64(quote, fee)
		if err != nil {
			return err
		}
		if taker.QuoteFree, err = market.SubU64(taker.QuoteFree, debit); err != nil {
			return err
		}
		if taker.BaseFree, err = market.AddU64(taker.BaseFree, fill); err != nil {
			return err
		}
	} else {
		if taker.BaseFree, err = market.SubU64(taker.BaseFree, fill); err != nil {
			return err
		}
		credit, err := market.SubU64(quote, fee)
		if err != nil {
			return err
		}
		if taker.QuoteFree, err = market.AddU64(taker.QuoteFree, credit); err != nil {
			return err
		}
	}
	if st.QuoteFeesAccrued, err = market.AddU64(st.QuoteFeesAccrued, fee); err != nil {
		return err
	}

	makerSide := takerSide.Opposite()
	if fill == resting.Quantity {
		st.Book.Remove(makerSide, resting.Key)
	} else {
		st.Book.Tree(makerSide).UpdateQuantity(resting.Key, resting.Quantity-fill)
	}
	st.Events.Push(queue.Event{
		Tag:       queue.EventFill,
		Side:      makerSide,
		OwnerSlot: resting.OwnerSlot,
		OrderID:   resting.Key,
		TakerID:   takerID,
		Price:     resting.Price(),
		Quantity:  fill,
	})
	return nil
}

// selfTrade applies the instruction's policy to a crossing resting
// order of the same owner. Returns done=true when the incoming order
// must stop matching (its remainder is discarded, never posted: posting
// would leave the book crossed against the owner's own order).
func (e *Engine) selfTrade(ix instruction.NewOrder, slot *market.OpenOrders, resting orderbook.Order, remaining *uint64) (done bool, err error) {
	switch ix.SelfTrade {
	case instruction.CancelOldest:
		return false, e.cancelResting(ix.Side.Opposite(), slot, resting, resting.Quantity)
	case instruction.CancelNewest:
		return true, nil
	case instruction.DecrementAndCancel:
		m := min64(*remaining, resting.Quantity)
		*remaining -= m
		if m == resting.Quantity {
			return false, e.cancelResting(ix.Side.Opposite(), slot, resting, m)
		}
		// Resting side is larger: reduce it and release the locked
		// funds for the decrement. No fill is produced.
		e.st.Book.Tree(ix.Side.Opposite()).UpdateQuantity(resting.Key, resting.Quantity-m)
		if err := releaseLocked(ix.Side.Opposite(), slot, resting.Price(), m); err != nil {
			return false, err
		}
		e.st.Events.Push(queue.Event{
			Tag:       queue.EventOut,
			Side:      ix.Side.Opposite(),
			OwnerSlot: resting.OwnerSlot,
			OrderID:   resting.Key,
			Quantity:  m,
		})
		return false, nil
	case instruction.AbortTransaction:
		return false, market.Validationf("order would self-trade against %s", resting.Key)
	default:
		return false, market.Validationf("unknown self-trade policy %d", ix.SelfTrade)
	}
}

// cancelResting removes a resting order, releases its locked funds,
// clears its owner-slot entry, and emits an Out event.
func (e *Engine) cancelResting(side orderbook.Side, slot *market.OpenOrders, resting orderbook.Order, release uint64) error {
	if _, ok := e.st.Book.Remove(side, resting.Key); !ok {
		return market.Statef("resting order %s vanished", resting.Key)
	}
	if err := releaseLocked(side, slot, resting.Price(), release); err != nil {
		return err
	}
	slot.RemoveOrder(resting.Key)
	e.st.Events.Push(queue.Event{
		Tag:       queue.EventOut,
		Side:      side,
		OwnerSlot: resting.OwnerSlot,
		OrderID:   resting.Key,
		Quantity:  release,
	})
	return nil
}

// post rests the unfilled remainder: lock funds, record the order in
// the owner slot, insert into the side's index.
func (e *Engine) post(ix instruction.NewOrder, slot *market.OpenOrders, orderID orderbook.Key, remaining uint64) error {
	st := e.st
	if ix.Side == orderbook.Bid {
		lock, err := market.MulU64(remaining, ix.Price)
		if err != nil {
			return err
		}
		if slot.QuoteFree, err = market.SubU64(slot.QuoteFree, lock); err != nil {
			return err
		}
		if slot.QuoteLocked, err = market.AddU64(slot.QuoteLocked, lock); err != nil {
			return err
		}
	} else {
		var err error
		if slot.BaseFree, err = market.SubU64(slot.BaseFree, remaining); err != nil {
			return err
		}
		if slot.BaseLocked, err = market.AddU64(slot.BaseLocked, remaining); err != nil {
			return err
		}
	}
	if err := slot.AddOrder(orderID, ix.ClientID); err != nil {
		return err
	}
	if err := st.Book.Insert(ix.Side, orderbook.Order{
		Key:       orderID,
		OwnerSlot: ix.OwnerSlot,
		FeeTier:   slot.FeeTier,
		Quantity:  remaining,
		ClientID:  ix.ClientID,
	}); err != nil {
		slot.RemoveOrder(orderID)
		if err == orderbook.ErrSlabFull {
			return market.Capacityf("order book side full")
		}
		return err
	}
	return nil
}

// CancelOrder removes a resting order by ID, releases its locked funds,
// and emits an Out event. A stale or already-filled ID is a state error.
func (e *Engine) CancelOrder(ix instruction.CancelOrder) error {
	st := e.st
	slot, err := st.Slot(ix.OwnerSlot)
	if err != nil {
		return err
	}
	if !slot.Initialized || !slot.HasOrder(ix.OrderID) {
		return market.Statef("order %s not found in slot %d", ix.OrderID, ix.OwnerSlot)
	}
	ord, ok := st.Book.Remove(ix.Side, ix.OrderID)
	if !ok {
		// The slot still lists it but the book does not: already
		// filled, pending event consumption.
		return market.Statef("order %s already filled", ix.OrderID)
	}
	if err := releaseLocked(ix.Side, slot, ord.Price(), ord.Quantity); err != nil {
		return err
	}
	slot.RemoveOrder(ix.OrderID)
	st.Events.Push(queue.Event{
		Tag:       queue.EventOut,
		Side:      ix.Side,
		OwnerSlot: ix.OwnerSlot,
		OrderID:   ix.OrderID,
		Quantity:  ord.Quantity,
	})
	return nil
}

// ConsumeEvents drains up to limit events, applying maker balance
// deltas for fills. Each event is consumed exactly once; the queue
// position is the only consumption state. The drained events are
// returned for the settlement layer to forward.
func (e *Engine) ConsumeEvents(limit uint16) ([]queue.Event, error) {
	st := e.st
	out := make([]queue.Event, 0, limit)
	for len(out) < int(limit) {
		ev, ok := st.Events.Pop()
		if !ok {
			break
		}
		if ev.Tag == queue.EventFill {
			if err := e.applyMakerFill(ev); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// applyMakerFill credits the maker side of a fill: locked funds on the
// posted side convert into free funds on the received side. Once the
// order has fully left the book its slot entry is cleared.
func (e *Engine) applyMakerFill(ev queue.Event) error {
	st := e.st
	slot, err := st.Slot(ev.OwnerSlot)
	if err != nil {
		return err
	}
	quote, err := market.MulU64(ev.Quantity, ev.Price)
	if err != nil {
		return err
	}
	if ev.Side == orderbook.Ask {
		if slot.BaseLocked, err = market.SubU64(slot.BaseLocked, ev.Quantity); err != nil {
			return err
		}
		if slot.QuoteFree, err = market.AddU64(slot.QuoteFree, quote); err != nil {
			return err
		}
	} else {
		if slot.QuoteLocked, err = market.SubU64(slot.QuoteLocked, quote); err != nil {
			return err
		}
		if slot.BaseFree, err = market.AddU64(slot.BaseFree, ev.Quantity); err != nil {
			return err
		}
	}
	if _, stillResting := st.Book.Tree(ev.Side).Find(ev.OrderID); !stillResting {
		slot.RemoveOrder(ev.OrderID)
	}
	return nil
}

// SettleFunds zeroes an owner's free balances and returns the settled
// amounts for the external transfer.
func (e *Engine) SettleFunds(slotIdx uint32) (base, quote uint64, err error) {
	st := e.st
	slot, err := st.Slot(slotIdx)
	if err != nil {
		return 0, 0, err
	}
	if !slot.Initialized {
		return 0, 0, market.Statef("slot %d not initialized", slotIdx)
	}
	base, quote = slot.BaseFree, slot.QuoteFree
	slot.BaseFree, slot.QuoteFree = 0, 0
	if st.BaseDepositsTotal, err = market.SubU64(st.BaseDepositsTotal, base); err != nil {
		return 0, 0, err
	}
	if st.QuoteDepositsTotal, err = market.SubU64(st.QuoteDepositsTotal, quote); err != nil {
		return 0, 0, err
	}
	return base, quote, nil
}

// checkFunds validates the worst-case funds the order can consume.
func checkFunds(slot *market.OpenOrders, ix instruction.NewOrder, takerBps uint16) error {
	if ix.Side == orderbook.Ask {
		if slot.BaseFree < ix.Quantity {
			return market.Validationf("insufficient base: have %d, need %d", slot.BaseFree, ix.Quantity)
		}
		return nil
	}
	quote, err := market.MulU64(ix.Quantity, ix.Price)
	if err != nil {
		return err
	}
	fee, err := market.FeeOn(quote, takerBps)
	if err != nil {
		return err
	}
	need, err := market.AddU64(quote, fee)
	if err != nil {
		return err
	}
	if slot.QuoteFree < need {
		return market.Validationf("insufficient quote: have %d, need %d", slot.QuoteFree, need)
	}
	return nil
}

// releaseLocked converts a resting order's locked funds back to free
// when quantity leaves the book without a fill.
func releaseLocked(side orderbook.Side, slot *market.OpenOrders, price, quantity uint64) error {
	if side == orderbook.Bid {
		quote, err := market.MulU64(quantity, price)
		if err != nil {
			return err
		}
		if slot.QuoteLocked, err = market.SubU64(slot.QuoteLocked, quote); err != nil {
			return err
		}
		if slot.QuoteFree, err = market.AddU64(slot.QuoteFree, quote); err != nil {
			return err
		}
		return nil
	}
	var err error
	if slot.BaseLocked, err = market.SubU64(slot.BaseLocked, quantity); err != nil {
		return err
	}
	if slot.BaseFree, err = market.AddU64(slot.BaseFree, quantity); err != nil {
		return err
	}
	return nil
}

// crosses reports whether an incoming order at limitPrice crosses a
// resting order at restingPrice.
func crosses(side orderbook.Side, limitPrice, restingPrice uint64) bool {
	if side == orderbook.Bid {
		return limitPrice >= restingPrice
	}
	return limitPrice <= restingPrice
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
