package matching

import (
	"math"
	"testing"
	"time"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/util"
)

func px(units float64) int64 { return int64(math.Round(units * core.MicrosPerUnit)) }

func newTestEngine() *Engine {
	clk := util.NewManualClock(time.Unix(0, 0), time.Microsecond)
	return NewEngine("XNAS", "AAPL", clk, util.NewSequenceIDs("V"))
}

func limit(child string, side core.Side, price int64, qty int64, tif core.TimeInForce) core.NewChild {
	return core.NewChild{
		ParentID: "P-" + child, ChildID: child, ChildClOrdID: "cl-" + child,
		Instrument: "AAPL", Side: side, Qty: qty, OrdType: core.Limit,
		PriceMicros: price, TIF: tif, VenueID: "XNAS",
	}
}

func market(child string, side core.Side, qty int64, tif core.TimeInForce) core.NewChild {
	c := limit(child, side, 0, qty, tif)
	c.OrdType = core.Market
	return c
}

func fills(events []core.VenueEvent) []core.Fill {
	var out []core.Fill
	for _, ev := range events {
		if f, ok := ev.(core.Fill); ok {
			out = append(out, f)
		}
	}
	return out
}

func cancels(events []core.VenueEvent) []core.CancelDone {
	var out []core.CancelDone
	for _, ev := range events {
		if c, ok := ev.(core.CancelDone); ok {
			out = append(out, c)
		}
	}
	return out
}

func TestPriceTimePriority(t *testing.T) {
	e := newTestEngine()
	e.New(limit("s0", core.Sell, px(101.00), 10, core.GTC))
	e.New(limit("s1", core.Sell, px(100.50), 40, core.GTC))
	e.New(limit("s2", core.Sell, px(100.50), 60, core.GTC))

	events := e.New(market("b1", core.Buy, 50, core.Day))
	if _, ok := events[0].(core.Ack); !ok {
		t.Fatalf("first event must be the ack, got %T", events[0])
	}

	var taker []core.Fill
	var makers []core.Fill
	for _, f := range fills(events) {
		if f.Liquidity == core.Taker {
			taker = append(taker, f)
		} else {
			makers = append(makers, f)
		}
	}
	if len(taker) != 2 || taker[0].LastQty != 40 || taker[1].LastQty != 10 {
		t.Fatalf("taker fills: %+v", taker)
	}
	for _, f := range taker {
		if f.LastPx != px(100.50) {
			t.Fatalf("touched wrong level: %+v", f)
		}
	}
	if makers[0].ChildID != "s1" || !makers[0].IsFinal {
		t.Fatalf("first maker: %+v", makers[0])
	}
	if makers[1].ChildID != "s2" || makers[1].IsFinal || makers[1].LeavesQty != 50 {
		t.Fatalf("second maker: %+v", makers[1])
	}
	if !taker[1].IsFinal || taker[1].CumQty != 50 {
		t.Fatalf("taker final: %+v", taker[1])
	}
	if ent, ok := e.Resting("s0"); !ok || ent.Qty != 10 {
		t.Fatalf("101.00 must be untouched: %+v", ent)
	}
	if len(cancels(events)) != 0 {
		t.Fatalf("fully filled market order must not cancel")
	}
}

func TestFOKAllOrNothing(t *testing.T) {
	e := newTestEngine()
	e.New(limit("s1", core.Sell, px(100), 100, core.GTC))

	events := e.New(limit("b1", core.Buy, px(100), 120, core.FOK))
	if len(fills(events)) != 0 {
		t.Fatalf("FOK short of depth must not fill: %+v", events)
	}
	c := cancels(events)
	if len(c) != 1 || c[0].Reason != core.ReasonUnfilled || c[0].CanceledQty != 120 {
		t.Fatalf("FOK cancel: %+v", c)
	}
	if ent, _ := e.Resting("s1"); ent.Qty != 100 {
		t.Fatalf("book must be untouched, got %d", ent.Qty)
	}

	e.New(limit("s2", core.Sell, px(100), 20, core.GTC))
	events = e.New(limit("b2", core.Buy, px(100), 120, core.FOK))
	var got int64
	for _, f := range fills(events) {
		if f.ChildID == "b2" {
			got += f.LastQty
		}
	}
	if got != 120 || len(cancels(events)) != 0 {
		t.Fatalf("FOK with depth: filled %d, events %+v", got, events)
	}
}

func TestIOCAndMarketRemainderCanceled(t *testing.T) {
	e := newTestEngine()
	e.New(limit("s1", core.Sell, px(10), 5, core.GTC))

	events := e.New(limit("b1", core.Buy, px(10), 8, core.IOC))
	c := cancels(events)
	if len(c) != 1 || c[0].CanceledQty != 3 || c[0].Reason != core.ReasonIOC {
		t.Fatalf("IOC remainder: %+v", c)
	}
	if _, ok := e.Resting("b1"); ok {
		t.Fatalf("IOC must not rest")
	}

	events = e.New(market("b2", core.Buy, 4, core.Day))
	c = cancels(events)
	if len(c) != 1 || c[0].CanceledQty != 4 || c[0].Reason != core.ReasonNoLiquidity {
		t.Fatalf("market on empty book: %+v", events)
	}
}

func TestLimitRemainderRests(t *testing.T) {
	e := newTestEngine()
	e.New(limit("s1", core.Sell, px(10), 5, core.GTC))
	events := e.New(limit("b1", core.Buy, px(11), 8, core.Day))
	f := fills(events)
	if len(f) != 2 || f[0].LastPx != px(10) {
		t.Fatalf("crossed at maker price: %+v", f)
	}
	ent, ok := e.Resting("b1")
	if !ok || ent.Qty != 3 || ent.Price != px(11) {
		t.Fatalf("remainder: %+v ok=%v", ent, ok)
	}
	if e.AvailableImmediately(core.Sell, px(11), false) != 3 {
		t.Fatalf("available to a seller at 11")
	}
}

func TestCancel(t *testing.T) {
	e := newTestEngine()
	e.New(limit("b1", core.Buy, px(9), 10, core.GTC))

	events := e.Cancel(core.CancelChild{ChildID: "b1", VenueID: "XNAS"})
	c := cancels(events)
	if len(c) != 1 || c[0].CanceledQty != 10 || c[0].ChildClOrdID != "cl-b1" {
		t.Fatalf("cancel: %+v", events)
	}
	if e.Book().Len() != 0 {
		t.Fatalf("entry still resting")
	}
	if ev := e.Cancel(core.CancelChild{ChildID: "b1"}); ev != nil {
		t.Fatalf("second cancel must be a no-op: %+v", ev)
	}
	if ev := e.Cancel(core.CancelChild{ChildID: "nope"}); ev != nil {
		t.Fatalf("unknown cancel must be a no-op: %+v", ev)
	}
}

func TestReplaceLosesPriorityAndKeepsFills(t *testing.T) {
	e := newTestEngine()
	e.New(limit("b1", core.Buy, px(10), 10, core.GTC))
	e.New(limit("b2", core.Buy, px(10), 10, core.GTC))
	e.New(limit("s1", core.Sell, px(10), 4, core.GTC)) // takes 4 from b1

	events := e.Replace(core.ReplaceChild{ChildID: "b1", NewQty: 12, NewPxMicros: px(10)})
	ack, ok := events[0].(core.ReplaceAck)
	if !ok || ack.NewLeaves != 8 || ack.NewPxMicros != px(10) {
		t.Fatalf("replace ack: %+v", events)
	}
	_, best, _ := e.Book().Best(core.Buy)
	if best.Owner != "b2" {
		t.Fatalf("replaced order kept priority: front is %s", best.Owner)
	}

	// shrink below executed quantity: nothing left to rest
	events = e.Replace(core.ReplaceChild{ChildID: "b1", NewQty: 3})
	if ack := events[0].(core.ReplaceAck); ack.NewLeaves != 0 {
		t.Fatalf("leaves floor at zero: %+v", ack)
	}
	if _, ok := e.Resting("b1"); ok {
		t.Fatalf("fully executed replace must clear the entry")
	}
}

func TestReplaceCrossesAtNewPrice(t *testing.T) {
	e := newTestEngine()
	e.New(limit("s1", core.Sell, px(11), 5, core.GTC))
	e.New(limit("b1", core.Buy, px(10), 8, core.GTC))

	events := e.Replace(core.ReplaceChild{ChildID: "b1", NewQty: 8, NewPxMicros: px(11)})
	f := fills(events)
	if len(f) != 2 || f[0].ChildID != "b1" || f[0].Liquidity != core.Maker || f[0].LastQty != 5 {
		t.Fatalf("replace cross: %+v", f)
	}
	if ent, _ := e.Resting("b1"); ent.Qty != 3 || ent.Price != px(11) {
		t.Fatalf("remainder after replace: %+v", ent)
	}
}

func TestReplaceUnknownRejected(t *testing.T) {
	e := newTestEngine()
	events := e.Replace(core.ReplaceChild{ChildID: "ghost", ChildClOrdID: "cl", NewQty: 1})
	if _, ok := events[0].(core.ReplaceReject); !ok || len(events) != 1 {
		t.Fatalf("want ReplaceReject, got %+v", events)
	}
}

func TestRestRejectsCrossingLiquidity(t *testing.T) {
	e := newTestEngine()
	if _, ok := e.Rest("LP-1", core.Sell, px(10), 5); !ok {
		t.Fatalf("rest ask")
	}
	if _, ok := e.Rest("LP-2", core.Buy, px(10), 5); ok {
		t.Fatalf("crossing bid must be refused")
	}
	events := e.New(market("b1", core.Buy, 5, core.IOC))
	f := fills(events)
	if len(f) != 2 || f[1].ParentID != "" || f[1].ChildID != "LP-1" {
		t.Fatalf("maker fill for liquidity provider: %+v", f)
	}
}
