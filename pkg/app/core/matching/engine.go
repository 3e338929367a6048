// Package matching runs new, cancel and replace commands for one instrument
// at one venue against a price-time order book.
package matching

import (
	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/orderflow/pkg/util"
)

type order struct {
	ref     core.VenueRef
	side    core.Side
	ordType core.OrdType
	tif     core.TimeInForce
	px      int64
	qty     int64
	cum     int64
	handle  orderbook.Handle
}

func (o *order) leaves() int64 {
	if o.qty <= o.cum {
		return 0
	}
	return o.qty - o.cum
}

func (o *order) market() bool { return o.ordType == core.Market }

// Engine is single-threaded: the venue that owns it serializes every call.
type Engine struct {
	venueID    string
	instrument string
	book       *orderbook.OrderBook
	orders     map[string]*order // child id -> live order
	clock      util.Clock
	ids        util.IDAllocator
}

func NewEngine(venueID, instrument string, clock util.Clock, ids util.IDAllocator) *Engine {
	return &Engine{
		venueID:    venueID,
		instrument: instrument,
		book:       orderbook.NewOrderBook(),
		orders:     make(map[string]*order),
		clock:      clock,
		ids:        ids,
	}
}

func (e *Engine) Instrument() string { return e.instrument }

func (e *Engine) Book() *orderbook.OrderBook { return e.book }

func (e *Engine) stamp(o *order) core.VenueRef {
	ref := o.ref
	ref.TsNanos = e.clock.MonoNanos()
	return ref
}

func (e *Engine) fill(o *order, qty, px int64, liq core.Liquidity) core.Fill {
	return core.Fill{
		VenueRef:  e.stamp(o),
		ExecID:    e.ids.Next(),
		LastQty:   qty,
		LastPx:    px,
		CumQty:    o.cum,
		LeavesQty: o.leaves(),
		IsFinal:   o.leaves() == 0,
		Liquidity: liq,
	}
}

func (e *Engine) done(o *order, reason string, qty int64) core.CancelDone {
	return core.CancelDone{VenueRef: e.stamp(o), Reason: reason, CanceledQty: qty}
}

// New records the order, acks it and crosses whatever is marketable.
// A limit remainder rests; an IOC, FOK or market remainder is canceled.
func (e *Engine) New(cmd core.NewChild) []core.VenueEvent {
	if _, dup := e.orders[cmd.ChildID]; dup {
		return nil
	}
	o := &order{
		ref: core.VenueRef{
			VenueID:      e.venueID,
			VenueOrderID: e.ids.Next(),
			ChildClOrdID: cmd.ChildClOrdID,
			ChildID:      cmd.ChildID,
			ParentID:     cmd.ParentID,
		},
		side:    cmd.Side,
		ordType: cmd.OrdType,
		tif:     cmd.TIF,
		px:      cmd.PriceMicros,
		qty:     cmd.Qty,
	}
	if o.market() {
		o.px = 0
	}
	e.orders[cmd.ChildID] = o
	events := []core.VenueEvent{core.Ack{VenueRef: e.stamp(o)}}

	if o.tif == core.FOK && e.AvailableImmediately(o.side, o.px, o.market()) < o.qty {
		delete(e.orders, cmd.ChildID)
		return append(events, e.done(o, core.ReasonUnfilled, o.qty))
	}

	events = append(events, e.cross(o, core.Taker)...)
	e.settle(o, &events)
	return events
}

// settle rests or cancels what is left after crossing.
func (e *Engine) settle(o *order, events *[]core.VenueEvent) {
	left := o.leaves()
	switch {
	case left == 0:
		delete(e.orders, o.ref.ChildID)
	case o.market():
		delete(e.orders, o.ref.ChildID)
		*events = append(*events, e.done(o, core.ReasonNoLiquidity, left))
	case o.tif == core.IOC || o.tif == core.FOK:
		delete(e.orders, o.ref.ChildID)
		*events = append(*events, e.done(o, core.ReasonIOC, left))
	default:
		o.handle = e.book.Insert(o.side, o.px, left, o.ref.ChildID, e.clock.MonoNanos())
	}
}

// cross takes liquidity from the contra side while o is marketable. Every
// pass re-reads the touch and resolves the maker before anything changes.
func (e *Engine) cross(o *order, liq core.Liquidity) []core.VenueEvent {
	var events []core.VenueEvent
	contra := o.side.Opposite()
	for o.leaves() > 0 {
		h, best, ok := e.book.Best(contra)
		if !ok || !orderbook.Crosses(contra, best.Price, o.px, o.market()) {
			break
		}
		maker := e.orders[best.Owner]
		execPx := best.Price
		execQty := min(o.leaves(), best.Qty)

		makerLeft, err := e.book.Reduce(h, execQty)
		if err != nil {
			break
		}
		o.cum += execQty
		events = append(events, e.fill(o, execQty, execPx, liq))

		if maker == nil {
			continue
		}
		maker.cum += execQty
		events = append(events, e.fill(maker, execQty, execPx, core.Maker))
		if makerLeft == 0 {
			maker.handle = orderbook.Handle{}
			delete(e.orders, maker.ref.ChildID)
		}
	}
	return events
}

// Cancel pulls a resting order. Unknown or already consumed orders are a no-op.
func (e *Engine) Cancel(cmd core.CancelChild) []core.VenueEvent {
	o, ok := e.orders[cmd.ChildID]
	if !ok || o.leaves() == 0 {
		return nil
	}
	left := o.leaves()
	if !o.handle.IsZero() {
		if _, err := e.book.Remove(o.handle); err != nil {
			return nil
		}
		o.handle = orderbook.Handle{}
	}
	o.qty = o.cum
	delete(e.orders, cmd.ChildID)
	return []core.VenueEvent{e.done(o, core.ReasonCanceled, left)}
}

// Replace re-prices and re-sizes a resting order. Executed quantity is kept,
// time priority is not: any remainder re-rests behind the current queue.
func (e *Engine) Replace(cmd core.ReplaceChild) []core.VenueEvent {
	o, ok := e.orders[cmd.ChildID]
	if !ok {
		return []core.VenueEvent{core.ReplaceReject{
			VenueRef: core.VenueRef{
				VenueID:      e.venueID,
				VenueOrderID: cmd.VenueOrderID,
				ChildClOrdID: cmd.ChildClOrdID,
				ChildID:      cmd.ChildID,
				ParentID:     cmd.ParentID,
				TsNanos:      e.clock.MonoNanos(),
			},
			Reason: "unknown_order",
			Text:   "order not resting at venue",
		}}
	}
	if !o.handle.IsZero() {
		if _, err := e.book.Remove(o.handle); err != nil {
			return nil
		}
		o.handle = orderbook.Handle{}
	}
	if cmd.NewPxMicros > 0 && !o.market() {
		o.px = cmd.NewPxMicros
	}
	o.qty = max(cmd.NewQty, o.cum)

	events := []core.VenueEvent{core.ReplaceAck{
		VenueRef:    e.stamp(o),
		NewPxMicros: o.px,
		NewQty:      cmd.NewQty,
		NewLeaves:   o.leaves(),
	}}
	if o.leaves() == 0 {
		delete(e.orders, cmd.ChildID)
		return events
	}
	events = append(events, e.cross(o, core.Maker)...)
	if o.leaves() == 0 {
		delete(e.orders, cmd.ChildID)
		return events
	}
	o.handle = e.book.Insert(o.side, o.px, o.leaves(), o.ref.ChildID, e.clock.MonoNanos())
	return events
}

// AvailableImmediately is the quantity a taker on side with limit px could
// execute against the book as it stands.
func (e *Engine) AvailableImmediately(side core.Side, px int64, market bool) int64 {
	return e.book.Available(side.Opposite(), px, market, 0)
}

// Rest places passive liquidity that belongs to no parent, e.g. simulated
// market makers. It never crosses; a marketable price is rejected.
func (e *Engine) Rest(owner string, side core.Side, px, qty int64) (string, bool) {
	if qty <= 0 || px <= 0 {
		return "", false
	}
	if _, dup := e.orders[owner]; dup {
		return "", false
	}
	if best, ok := e.book.BestPrice(side.Opposite()); ok && orderbook.Crosses(side.Opposite(), best, px, false) {
		return "", false
	}
	o := &order{
		ref:     core.VenueRef{VenueID: e.venueID, VenueOrderID: e.ids.Next(), ChildID: owner},
		side:    side,
		ordType: core.Limit,
		tif:     core.GTC,
		px:      px,
		qty:     qty,
	}
	o.handle = e.book.Insert(side, px, qty, owner, e.clock.MonoNanos())
	e.orders[owner] = o
	return o.ref.VenueOrderID, true
}

// Resting returns the live book entry for a child, if it is resting.
func (e *Engine) Resting(childID string) (orderbook.Entry, bool) {
	o, ok := e.orders[childID]
	if !ok || o.handle.IsZero() {
		return orderbook.Entry{}, false
	}
	ent, err := e.book.Get(o.handle)
	return ent, err == nil
}
