package sor

import (
	"errors"
	"testing"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/util"
	"pgregory.net/rapid"
)

func newIntent() NewChildIntent {
	return NewChildIntent{
		ParentID: "P-1", ChildID: "C-1", ChildClOrdID: "C-1.0", AccountID: "ACC",
		Instrument: "AAPL", Side: core.Buy, Qty: 100, OrdType: core.Limit,
		PriceMicros: 100_000_000, TIF: core.Day, VenueID: "XNAS", TsNanos: 1,
	}
}

func ref(venueOrderID string) core.VenueRef {
	return core.VenueRef{VenueID: "XNAS", VenueOrderID: venueOrderID, ChildClOrdID: "C-1.0", ChildID: "C-1", ParentID: "P-1", TsNanos: 5}
}

func acked(t *testing.T) ChildState {
	t.Helper()
	s := ReduceIntent(ChildState{}, newIntent()).Next
	r := ReduceVenueEvent(s, core.Ack{VenueRef: ref("V-1")})
	if r.Next.Status != core.StatusAcked {
		t.Fatalf("setup ack: %s", r.Next.Status)
	}
	return r.Next
}

func TestNewChildIntent(t *testing.T) {
	r := ReduceIntent(ChildState{}, newIntent())
	if r.Next.Status != core.StatusNewPending || len(r.Commands) != 1 || len(r.Events) != 0 {
		t.Fatalf("new child: %+v", r)
	}
	cmd, ok := r.Commands[0].(core.NewChild)
	if !ok || cmd.VenueID != "XNAS" || cmd.Qty != 100 || cmd.ChildClOrdID != "C-1.0" {
		t.Fatalf("command: %+v", r.Commands[0])
	}
	// routed children are never re-sent
	if again := ReduceIntent(r.Next, newIntent()); again.Applied || len(again.Commands) != 0 {
		t.Fatalf("duplicate new child emitted a command")
	}
	// an existing but unrouted child may be routed
	unrouted := r.Next
	unrouted.VenueID = ""
	if again := ReduceIntent(unrouted, newIntent()); len(again.Commands) != 1 {
		t.Fatalf("unrouted child must be routable")
	}
}

func TestMarketChildHasZeroPrice(t *testing.T) {
	in := newIntent()
	in.OrdType = core.Market
	r := ReduceIntent(ChildState{}, in)
	if r.Next.PriceMicros != 0 || r.Commands[0].(core.NewChild).PriceMicros != 0 {
		t.Fatalf("market child price must be 0")
	}
}

func TestCancelChildIntent(t *testing.T) {
	if r := ReduceIntent(ChildState{}, CancelChildIntent{ChildID: "C-1"}); r.Applied {
		t.Fatalf("cancel for absent child must be a no-op")
	}
	s := acked(t)
	r := ReduceIntent(s, CancelChildIntent{ParentID: "P-1", ChildID: "C-1", TsNanos: 9})
	if r.Next.Status != core.StatusPendingCancel || len(r.Commands) != 1 {
		t.Fatalf("cancel: %+v", r)
	}
	if c := r.Commands[0].(core.CancelChild); c.VenueOrderID != "V-1" {
		t.Fatalf("cancel command: %+v", c)
	}
	if again := ReduceIntent(r.Next, CancelChildIntent{ChildID: "C-1"}); again.Applied {
		t.Fatalf("second cancel must be a no-op")
	}
	done := ReduceVenueEvent(r.Next, core.CancelDone{VenueRef: ref("V-1"), CanceledQty: 100}).Next
	if again := ReduceIntent(done, CancelChildIntent{ChildID: "C-1"}); again.Applied {
		t.Fatalf("cancel for terminal child must be a no-op")
	}
}

func TestVenueEventTransitions(t *testing.T) {
	s := acked(t)

	r := ReduceVenueEvent(s, core.Fill{VenueRef: ref("V-1"), ExecID: "E1", LastQty: 30, LastPx: 7})
	if r.Next.Status != core.StatusPartiallyFilled || len(r.Events) != 1 {
		t.Fatalf("partial: %+v", r)
	}
	cf := r.Events[0].(oms.ChildFill)
	if cf.Qty != 30 || cf.ChildCum != 30 || cf.ChildLeaves != 70 || cf.ExecID != "E1" || cf.Parent() != "P-1" {
		t.Fatalf("child fill event: %+v", cf)
	}
	s = r.Next

	pc := ReduceIntent(s, CancelChildIntent{ChildID: "C-1"}).Next

	r = ReduceVenueEvent(pc, core.CancelAck{VenueRef: ref("V-1")})
	if r.Next.Status != core.StatusPendingCancel || len(r.Events) != 1 {
		t.Fatalf("cancel ack: %+v", r)
	}
	if _, ok := r.Events[0].(oms.CancelAck); !ok {
		t.Fatalf("cancel ack event: %T", r.Events[0])
	}

	r = ReduceVenueEvent(pc, core.CancelReject{VenueRef: ref("V-1"), Reason: "too_late"})
	if r.Next.Status != core.StatusPartiallyFilled {
		t.Fatalf("cancel reject rollback with fills: %s", r.Next.Status)
	}

	// a fill that completes the order wins over the pending cancel
	r = ReduceVenueEvent(pc, core.Fill{VenueRef: ref("V-1"), ExecID: "E2", LastQty: 70, LastPx: 7})
	if r.Next.Status != core.StatusFilled {
		t.Fatalf("fill during cancel: %s", r.Next.Status)
	}

	r = ReduceVenueEvent(pc, core.CancelDone{VenueRef: ref("V-1"), Reason: "canceled", CanceledQty: 70})
	if r.Next.Status != core.StatusCanceled || r.Next.LeavesQty != 0 {
		t.Fatalf("cancel done: %+v", r.Next)
	}
	if ev := r.Events[0].(oms.ChildCanceled); ev.CanceledQty != 70 {
		t.Fatalf("child canceled: %+v", ev)
	}
}

func TestCancelRejectWithoutFillsReturnsToAcked(t *testing.T) {
	pc := ReduceIntent(acked(t), CancelChildIntent{ChildID: "C-1"}).Next
	r := ReduceVenueEvent(pc, core.CancelReject{VenueRef: ref("V-1")})
	if r.Next.Status != core.StatusAcked {
		t.Fatalf("rollback: %s", r.Next.Status)
	}
	if ev := r.Events[0].(oms.ChildCancelRejected); ev.ChildStatus != core.StatusAcked {
		t.Fatalf("event: %+v", ev)
	}
}

func TestNewReject(t *testing.T) {
	s := ReduceIntent(ChildState{}, newIntent()).Next
	r := ReduceVenueEvent(s, core.NewReject{VenueRef: ref(""), Reason: "risk", Text: "halted"})
	if r.Next.Status != core.StatusRejected {
		t.Fatalf("reject: %s", r.Next.Status)
	}
	if ev := r.Events[0].(oms.Reject); ev.ChildID != "C-1" || ev.Text != "halted" {
		t.Fatalf("event: %+v", ev)
	}
}

func TestStaleIdentityIgnored(t *testing.T) {
	s := acked(t)
	cases := map[string]core.VenueRef{
		"venue":       {VenueID: "ARCA", VenueOrderID: "V-1", ChildClOrdID: "C-1.0"},
		"clordid":     {VenueID: "XNAS", VenueOrderID: "V-1", ChildClOrdID: "other"},
		"order id":    {VenueID: "XNAS", VenueOrderID: "V-9", ChildClOrdID: "C-1.0"},
		"no order id": {VenueID: "XNAS", ChildClOrdID: "C-1.0"},
		"no clordid":  {VenueID: "XNAS", VenueOrderID: "V-1"},
	}
	for name, r := range cases {
		if got := ReduceVenueEvent(s, core.Fill{VenueRef: r, LastQty: 1}); got.Applied || got.Next.CumQty != 0 {
			t.Errorf("%s mismatch applied", name)
		}
	}
}

func TestReplaceRoundTrip(t *testing.T) {
	s := acked(t)
	s = ReduceVenueEvent(s, core.Fill{VenueRef: ref("V-1"), LastQty: 10, LastPx: 1}).Next

	r := ReduceIntent(s, ReplaceChildIntent{ChildID: "C-1", NewQty: 50, NewPx: 101_000_000})
	if r.Next.Status != core.StatusPendingReplace || len(r.Commands) != 1 {
		t.Fatalf("replace intent: %+v", r)
	}
	pr := r.Next
	if again := ReduceIntent(pr, ReplaceChildIntent{ChildID: "C-1", NewQty: 60}); again.Applied {
		t.Fatalf("replace while pending must be a no-op")
	}

	ack := ReduceVenueEvent(pr, core.ReplaceAck{VenueRef: ref("V-1"), NewPxMicros: 101_000_000, NewQty: 50, NewLeaves: 40})
	if ack.Next.Status != core.StatusPartiallyFilled || ack.Next.LeavesQty != 40 || ack.Next.PriceMicros != 101_000_000 {
		t.Fatalf("replace ack: %+v", ack.Next)
	}
	if _, ok := ack.Events[0].(oms.ChildReplaced); !ok {
		t.Fatalf("event: %T", ack.Events[0])
	}

	rej := ReduceVenueEvent(pr, core.ReplaceReject{VenueRef: ref("V-1"), Text: "no"})
	if rej.Next.Status != core.StatusPartiallyFilled || rej.Next.Qty != 100 {
		t.Fatalf("replace reject: %+v", rej.Next)
	}
}

func TestTerminalChildImmutable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := ReduceIntent(ChildState{}, newIntent()).Next
		s = ReduceVenueEvent(s, core.Ack{VenueRef: ref("V-1")}).Next
		events := []core.VenueEvent{
			core.Ack{VenueRef: ref("V-1")},
			core.Fill{VenueRef: ref("V-1"), LastQty: 40, LastPx: 1},
			core.CancelAck{VenueRef: ref("V-1")},
			core.CancelDone{VenueRef: ref("V-1")},
			core.CancelReject{VenueRef: ref("V-1")},
			core.ReplaceAck{VenueRef: ref("V-1"), NewQty: 500, NewLeaves: 500},
			core.ReplaceReject{VenueRef: ref("V-1")},
			core.NewReject{VenueRef: ref("V-1")},
		}
		n := rapid.IntRange(1, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			var r Result
			if rapid.IntRange(0, 3).Draw(t, "intent") == 0 {
				r = ReduceIntent(s, CancelChildIntent{ChildID: "C-1"})
			} else {
				r = ReduceVenueEvent(s, events[rapid.IntRange(0, len(events)-1).Draw(t, "ev")])
			}
			if s.Status.IsTerminal() && (r.Applied || r.Next != s) {
				t.Fatalf("terminal child changed: %+v -> %+v", s, r.Next)
			}
			if r.Next.CumQty+r.Next.LeavesQty > r.Next.Qty && !r.Next.Status.IsTerminal() {
				t.Fatalf("leaves overshoot: %+v", r.Next)
			}
			if r.Applied && len(r.Events)+len(r.Commands) != 1 {
				t.Fatalf("one transition must yield exactly one output: %+v", r)
			}
			s = r.Next
		}
	})
}

func TestPlanner(t *testing.T) {
	p := NewPlanner([]string{"XNAS", "ARCA"}, "", util.NewSequenceIDs("C"))
	ri := core.RoutingIntent{ParentID: "P-1", Instrument: "AAPL", Side: core.Buy, Qty: 100, LeavesQty: 100, OrdType: core.Limit, LimitPx: 5, MaxParallelChildren: 1}

	out, err := p.Plan(ri, nil)
	if err != nil || len(out) != 1 || out[0].VenueID != "XNAS" || out[0].Qty != 100 || out[0].ChildID != "C-1" {
		t.Fatalf("default venue: %+v %v", out, err)
	}

	ri.ExDest = "ARCA"
	if out, _ := p.Plan(ri, nil); out[0].VenueID != "ARCA" {
		t.Fatalf("exDest hint ignored")
	}
	ri.ExDest = "UNKNOWN"
	ri.CandidateVenues = []string{"ARCA"}
	if out, _ := p.Plan(ri, nil); out[0].VenueID != "ARCA" {
		t.Fatalf("candidate venue ignored")
	}

	ri.TargetChildQty = 30
	ri.MaxParallelChildren = 3
	out, _ = p.Plan(ri, nil)
	if len(out) != 3 || out[0].Qty != 30 || out[2].Qty != 30 {
		t.Fatalf("sliced: %+v", out)
	}

	live := []ChildState{{ChildID: "X", Status: core.StatusAcked, LeavesQty: 100}}
	if out, _ := p.Plan(ri, live); len(out) != 0 {
		t.Fatalf("fully covered parent must not route more: %+v", out)
	}

	empty := NewPlanner(nil, "", util.NewSequenceIDs("C"))
	if _, err := empty.Plan(ri, nil); !errors.Is(err, ErrNoVenue) {
		t.Fatalf("want ErrNoVenue, got %v", err)
	}
}

func TestPlannerSlicing(t *testing.T) {
	p := NewPlanner([]string{"XNAS"}, "", util.NewSequenceIDs("C")).WithSlicing(40, 4)
	ri := core.RoutingIntent{ParentID: "P-1", Instrument: "AAPL", Side: core.Sell, Qty: 100, LeavesQty: 100, OrdType: core.Market, MaxParallelChildren: 1}

	out, err := p.Plan(ri, nil)
	if err != nil {
		t.Fatal(err)
	}
	var qtys []int64
	for _, c := range out {
		qtys = append(qtys, c.Qty)
	}
	if len(qtys) != 3 || qtys[0] != 40 || qtys[1] != 40 || qtys[2] != 20 {
		t.Fatalf("slices: %v", qtys)
	}
}

func TestPlannerCountsExecutedChildren(t *testing.T) {
	p := NewPlanner([]string{"XNAS"}, "", util.NewSequenceIDs("C")).WithSlicing(100, 2)
	ri := core.RoutingIntent{ParentID: "P-1", Instrument: "AAPL", Side: core.Buy, Qty: 300, LeavesQty: 200, OrdType: core.Limit, LimitPx: 5, TIF: core.Day, IntentRevision: 1}

	// the parent has only seen 100 of C-1's fill, the child store is ahead
	existing := []ChildState{
		{ChildID: "C-1", Status: core.StatusFilled, Qty: 100, CumQty: 100},
		{ChildID: "C-2", Status: core.StatusPartiallyFilled, Qty: 100, CumQty: 60, LeavesQty: 40},
	}
	out, err := p.Plan(ri, existing)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Qty != 100 || out[0].ChildClOrdID != "C-1.1" {
		t.Fatalf("replan: %+v", out)
	}

	existing = append(existing, ChildState{ChildID: "C-3", Status: core.StatusAcked, Qty: 100, LeavesQty: 100})
	if out, _ := p.Plan(ri, existing); len(out) != 0 {
		t.Fatalf("everything is placed: %+v", out)
	}
}

func TestPlannerNeverSlicesFOK(t *testing.T) {
	p := NewPlanner([]string{"XNAS"}, "", util.NewSequenceIDs("C")).WithSlicing(40, 4)
	ri := core.RoutingIntent{ParentID: "P-1", Instrument: "AAPL", Side: core.Buy, Qty: 100, LeavesQty: 100, OrdType: core.Limit, LimitPx: 5, TIF: core.FOK}

	out, err := p.Plan(ri, nil)
	if err != nil || len(out) != 1 || out[0].Qty != 100 {
		t.Fatalf("fok: %+v %v", out, err)
	}
}
