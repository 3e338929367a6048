package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/app/sor"
	"github.com/uhyunpark/orderflow/pkg/app/venue"
	"github.com/uhyunpark/orderflow/pkg/util"
)

func px(units float64) int64 { return int64(math.Round(units * core.MicrosPerUnit)) }

// tester is what the harness needs from a test, satisfied by both
// *testing.T and *rapid.T.
type tester interface {
	require.TestingT
	Helper()
}

type harness struct {
	t     tester
	p     *Pipeline
	clock *util.ManualClock
	venue *venue.Venue
}

func newHarness(t tester, router func(v *venue.Venue) VenueRouter, planner *sor.Planner) *harness {
	t.Helper()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0), time.Microsecond)

	reg := market.NewRegistry()
	params := market.DefaultEquity
	params.ReferencePx = px(100)
	in, err := market.NewInstrument("AAPL", params)
	require.NoError(t, err)
	require.NoError(t, reg.Register(in))

	v := venue.New(venue.Config{ID: "XNAS", Markets: reg, Clock: clock, IDs: util.NewSequenceIDs("X")})
	var r VenueRouter = venue.NewExchange(clock, v)
	if router != nil {
		r = router(v)
	}
	if planner == nil {
		planner = sor.NewPlanner([]string{"XNAS"}, "XNAS", util.NewSequenceIDs("C"))
	}
	p, err := New(DefaultConfig(), planner, r, clock, util.NewSequenceIDs("P"), util.NewSequenceIDs("I"), nil)
	require.NoError(t, err)
	return &harness{t: t, p: p, clock: clock, venue: v}
}

// send pushes payload through the inbound bus and processes it.
func (h *harness) send(payload any) error {
	h.t.Helper()
	seq, err := h.p.Submit(payload)
	require.NoError(h.t, err)
	env, ok := h.p.inbound.Poll(context.Background(), time.Second)
	require.True(h.t, ok)
	require.Equal(h.t, seq, env.Seq)
	return h.p.Process(env)
}

func (h *harness) reports() []core.ExecutionReport {
	var out []core.ExecutionReport
	for {
		select {
		case r := <-h.p.Reports().C():
			out = append(out, r)
		default:
			return out
		}
	}
}

func kinds(rs []core.ExecutionReport) []core.ExecKind {
	out := make([]core.ExecKind, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Kind)
	}
	return out
}

func buy(clOrdID string, ot core.OrdType, price, qty int64) core.BoundNew {
	return core.BoundNew{
		SessionKey: "S1", ClOrdID: clOrdID, AccountID: "ACC1", Instrument: "AAPL",
		Side: core.Buy, Qty: qty, OrdType: ot, LimitPx: price, TIF: core.Day,
	}
}

func TestMarketOrderSweepsBookWithVWAP(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.venue.Seed("AAPL", core.Sell, px(100.50), 40)
	require.NoError(t, err)
	_, err = h.venue.Seed("AAPL", core.Sell, px(101.00), 60)
	require.NoError(t, err)

	require.NoError(t, h.send(buy("c1", core.Market, 0, 50)))

	rs := h.reports()
	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecPartialFill, core.ExecFill}, kinds(rs))
	require.Equal(t, int64(40), rs[1].LastQty)
	require.Equal(t, px(100.50), rs[1].LastPx)

	s, ok := h.p.Parents().Lookup("P-1")
	require.True(t, ok)
	require.Equal(t, core.StatusFilled, s.Status)
	require.Equal(t, int64(50), s.CumQty)
	require.Equal(t, int64(0), s.LeavesQty)
	require.Equal(t, px(100.60), s.AvgPx)
	require.Equal(t, px(100.60), rs[2].AvgPx)

	d := h.venue.Depth("AAPL", 5)
	require.Len(t, d.Asks, 1)
	require.Equal(t, int64(50), d.Asks[0].Qty)
}

func TestMarketChildCarriesZeroPrice(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.venue.Seed("AAPL", core.Sell, px(100), 100)
	require.NoError(t, err)

	// a stray price on a market order never reaches the venue
	require.NoError(t, h.send(buy("c1", core.Market, px(250), 10)))

	children := h.p.Children().ByParent("P-1")
	require.Len(t, children, 1)
	require.Equal(t, int64(0), children[0].PriceMicros)
	require.Equal(t, core.StatusFilled, children[0].Status)

	s := h.p.Parents().Get("P-1")
	require.Equal(t, int64(0), s.LimitPx)
}

func TestDuplicateNewIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))

	require.Equal(t, 1, h.p.Parents().Len())
	require.Len(t, h.p.Children().ByParent("P-1"), 1)
	require.Equal(t, []core.ExecKind{core.ExecAck}, kinds(h.reports()))
	require.Equal(t, int64(100), h.venue.Depth("AAPL", 1).Bids[0].Qty)
}

func TestLimitCancel(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))
	require.NoError(t, h.send(core.BoundCancel{SessionKey: "S1", ClOrdID: "c2", OrigClOrdID: "c1"}))

	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecPendingCancel, core.ExecCanceled}, kinds(h.reports()))
	s := h.p.Parents().Get("P-1")
	require.Equal(t, core.StatusCanceled, s.Status)
	require.False(t, h.p.cancels.IsWanted("P-1"))
	require.Empty(t, h.venue.Depth("AAPL", 5).Bids)

	// the new client id resolves to the same parent
	id, ok := h.p.Sessions().Lookup("S1", "c2")
	require.True(t, ok)
	require.Equal(t, "P-1", id)

	// terminal parents absorb later requests
	require.NoError(t, h.send(core.BoundCancel{SessionKey: "S1", ClOrdID: "c3", OrigClOrdID: "c1"}))
	require.Empty(t, h.reports())
}

func TestPartialFillThenCancel(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.venue.Seed("AAPL", core.Sell, px(100), 30)
	require.NoError(t, err)

	require.NoError(t, h.send(buy("c1", core.Limit, px(100), 100)))
	require.NoError(t, h.send(core.BoundCancel{SessionKey: "S1", ClOrdID: "c1"}))

	rs := h.reports()
	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecPartialFill, core.ExecPendingCancel, core.ExecCanceled}, kinds(rs))
	last := rs[len(rs)-1]
	require.Equal(t, int64(30), last.CumQty)
	require.Equal(t, int64(0), last.LeavesQty)
}

// recorder acks new orders and holds cancels open, so a cancel episode
// stays pending.
type recorder struct {
	cmds []core.VenueCommand
	n    int
}

func (r *recorder) Execute(cmd core.VenueCommand) []core.VenueEvent {
	r.cmds = append(r.cmds, cmd)
	ref := core.VenueRef{VenueID: cmd.Venue(), ChildID: cmd.Child()}
	switch c := cmd.(type) {
	case core.NewChild:
		r.n++
		ref.ParentID, ref.ChildClOrdID = c.ParentID, c.ChildClOrdID
		ref.VenueOrderID = "V-" + c.ChildID
		return []core.VenueEvent{core.Ack{VenueRef: ref}}
	case core.CancelChild:
		ref.ParentID, ref.ChildClOrdID, ref.VenueOrderID = c.ParentID, c.ChildClOrdID, c.VenueOrderID
		return []core.VenueEvent{core.CancelAck{VenueRef: ref}}
	}
	return nil
}

func (r *recorder) cancels() map[string]int {
	out := map[string]int{}
	for _, c := range r.cmds {
		if _, ok := c.(core.CancelChild); ok {
			out[c.Child()]++
		}
	}
	return out
}

func TestCancelFanOutSendsOneCancelPerChild(t *testing.T) {
	rec := &recorder{}
	planner := sor.NewPlanner([]string{"XNAS"}, "XNAS", util.NewSequenceIDs("C")).WithSlicing(100, 3)
	h := newHarness(t, func(*venue.Venue) VenueRouter { return rec }, planner)

	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 300)))
	require.Equal(t, 3, rec.n)
	require.Equal(t, core.StatusWorking, h.p.Parents().Get("P-1").Status)

	require.NoError(t, h.send(core.BoundCancel{SessionKey: "S1", ClOrdID: "c2", OrigClOrdID: "c1"}))
	require.NoError(t, h.send(core.BoundCancel{SessionKey: "S1", ClOrdID: "c3", OrigClOrdID: "c1"}))

	require.Equal(t, map[string]int{"C-1": 1, "C-2": 1, "C-3": 1}, rec.cancels())
	require.Equal(t, core.StatusPendingCancel, h.p.Parents().Get("P-1").Status)
	require.True(t, h.p.cancels.IsWanted("P-1"))
	require.Equal(t,
		[]core.ExecKind{core.ExecAck, core.ExecPendingCancel, core.ExecPendingCancel},
		kinds(h.reports()))
}

// dupFiller acks and delivers every fill twice.
type dupFiller struct{}

func (dupFiller) Execute(cmd core.VenueCommand) []core.VenueEvent {
	c, ok := cmd.(core.NewChild)
	if !ok {
		return nil
	}
	ref := core.VenueRef{VenueID: c.VenueID, VenueOrderID: "V1", ChildClOrdID: c.ChildClOrdID, ChildID: c.ChildID, ParentID: c.ParentID}
	fill := core.Fill{VenueRef: ref, ExecID: "E1", LastQty: 10, LastPx: px(100), CumQty: 10, LeavesQty: c.Qty - 10, Liquidity: core.Taker}
	return []core.VenueEvent{core.Ack{VenueRef: ref}, fill, fill}
}

func TestDuplicateFillDropped(t *testing.T) {
	h := newHarness(t, func(*venue.Venue) VenueRouter { return dupFiller{} }, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(100), 30)))

	s := h.p.Parents().Get("P-1")
	require.Equal(t, int64(10), s.CumQty)
	require.Equal(t, int64(20), s.LeavesQty)
	require.Equal(t, core.StatusPartiallyFilled, s.Status)
	require.Equal(t, int64(10), h.p.Children().Get("C-1").CumQty)
	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecPartialFill}, kinds(h.reports()))
	require.Equal(t, 1.0, testutil.ToFloat64(h.p.Metrics.DuplicateFills))
}

func TestReplaceRestingOrder(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))
	require.NoError(t, h.send(core.BoundReplace{SessionKey: "S1", ClOrdID: "c2", OrigClOrdID: "c1", Qty: 150, LimitPx: px(99.50)}))

	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecPendingReplace, core.ExecReplaced}, kinds(h.reports()))
	s := h.p.Parents().Get("P-1")
	require.Equal(t, core.StatusReplaced, s.Status)
	require.Equal(t, int64(150), s.TargetQty)
	require.Equal(t, px(99.50), s.LimitPx)
	require.Equal(t, "c2", s.ClOrdID)

	bids := h.venue.Depth("AAPL", 5).Bids
	require.Len(t, bids, 1)
	require.Equal(t, px(99.50), bids[0].Price)
	require.Equal(t, int64(150), bids[0].Qty)
}

func TestReplaceRejectedByVenueRollsBack(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))
	// outside the reference collar
	require.NoError(t, h.send(core.BoundReplace{SessionKey: "S1", ClOrdID: "c2", OrigClOrdID: "c1", Qty: 100, LimitPx: px(150)}))

	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecPendingReplace, core.ExecReplaceRejected}, kinds(h.reports()))
	s := h.p.Parents().Get("P-1")
	require.Equal(t, core.StatusWorking, s.Status)
	require.Equal(t, px(99), s.LimitPx)
}

func TestExpireCancelsWorkingChildren(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))
	require.NoError(t, h.send(core.BoundExpire{SessionKey: "S1", ParentID: "P-1"}))

	require.Equal(t, []core.ExecKind{core.ExecAck, core.ExecExpired}, kinds(h.reports()))
	require.Equal(t, core.StatusExpired, h.p.Parents().Get("P-1").Status)
	require.Equal(t, core.StatusCanceled, h.p.Children().Get("C-1").Status)
	require.Empty(t, h.venue.Depth("AAPL", 5).Bids)
}

func TestInvalidOrderRejected(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, 0, 100)))

	rs := h.reports()
	require.Equal(t, []core.ExecKind{core.ExecRejected}, kinds(rs))
	require.NotEmpty(t, rs[0].Text)
	require.Empty(t, h.p.Children().ByParent("P-1"))
}

func TestNoRouteRejectsParent(t *testing.T) {
	h := newHarness(t, nil, sor.NewPlanner(nil, "", util.NewSequenceIDs("C")))
	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))

	require.Equal(t, []core.ExecKind{core.ExecRejected}, kinds(h.reports()))
	require.Equal(t, core.StatusRejected, h.p.Parents().Get("P-1").Status)
}

func TestVenueRejectRejectsParent(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.send(buy("c1", core.Limit, px(99.005), 100)))

	rs := h.reports()
	require.Equal(t, []core.ExecKind{core.ExecRejected}, kinds(rs))
	require.Equal(t, core.StatusRejected, h.p.Children().Get("C-1").Status)
}

func TestBadInputNeverReachesFSM(t *testing.T) {
	h := newHarness(t, nil, nil)

	require.ErrorIs(t, h.send("not an order"), ErrMalformed)
	require.ErrorIs(t, h.send(core.BoundCancel{SessionKey: "S1", ClOrdID: "nope"}), ErrUnknownOrder)
	require.Equal(t, 0, h.p.Parents().Len())
	require.Equal(t, 2.0, testutil.ToFloat64(h.p.Metrics.Malformed))
}

func TestFollowUpChainIsCapped(t *testing.T) {
	h := newHarness(t, nil, nil)
	calls := 0
	h.p.apply = func(s oms.State, ev oms.Event) oms.Result {
		calls++
		s.ParentID = ev.Parent()
		return oms.Result{Next: s, Applied: true, FollowUps: []oms.Event{oms.Ack{Header: oms.Header{ParentID: ev.Parent()}}}}
	}

	require.NoError(t, h.send(buy("c1", core.Limit, px(99), 100)))
	require.Equal(t, HardFollowUpCap+1, calls)
	require.Equal(t, 1.0, testutil.ToFloat64(h.p.Metrics.FollowUpCapHit))
}

func TestFollowUpCapClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFollowUps = 50
	p, err := New(cfg, sor.NewPlanner([]string{"XNAS"}, "", util.NewSequenceIDs("C")), nil, util.RealClock{}, util.NewSequenceIDs("P"), util.NewSequenceIDs("I"), nil)
	require.NoError(t, err)
	require.Equal(t, HardFollowUpCap, p.cfg.MaxFollowUps)
}

func TestSubmitShedsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboundCapacity = 1
	p, err := New(cfg, sor.NewPlanner([]string{"XNAS"}, "", util.NewSequenceIDs("C")), nil, util.RealClock{}, util.NewSequenceIDs("P"), util.NewSequenceIDs("I"), nil)
	require.NoError(t, err)

	_, err = p.Submit(buy("c1", core.Market, 0, 1))
	require.NoError(t, err)
	_, err = p.Submit(buy("c2", core.Market, 0, 1))
	require.ErrorIs(t, err, ErrInboundFull)
	require.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.InboundDropped))
}

type lines []string

func (l *lines) Append(line string) { *l = append(*l, line) }

func TestRunProcessesUntilCanceled(t *testing.T) {
	h := newHarness(t, nil, nil)
	var wal lines
	h.p.WAL = &wal

	_, err := h.p.Submit(buy("c1", core.Limit, px(99), 100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.p.Parents().Get("P-1").Status == core.StatusWorking
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Len(t, wal, 1)
	require.Contains(t, wal[0], "seq=1 created:+0")
	require.Contains(t, wal[0], "drained:+")
}

func TestSweepExpiresGTD(t *testing.T) {
	h := newHarness(t, nil, nil)
	order := buy("c1", core.Limit, px(99), 100)
	order.TIF = core.GTD
	order.ExpireAt = h.clock.NowMillis() + 1000
	require.NoError(t, h.send(order))
	require.NoError(t, h.send(buy("c2", core.Limit, px(98), 100)))

	require.Equal(t, 0, h.p.Sweep())
	h.clock.Advance(2 * time.Second)
	require.Equal(t, 1, h.p.Sweep())

	ok, err := h.p.Step(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.StatusExpired, h.p.Parents().Get("P-1").Status)
	require.Equal(t, core.StatusWorking, h.p.Parents().Get("P-2").Status)
}
