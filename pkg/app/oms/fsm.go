// Package oms holds the parent order state machine.
package oms

import (
	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// Result is everything one Apply produced. The caller stores Next before
// acting on any of the lists.
type Result struct {
	Next      State
	Reports   []core.ExecutionReport
	Intents   []core.RoutingIntent
	FollowUps []Event
	Actions   []Action
	Applied   bool // false for no-ops; Next equals the input state
}

// FSM is pure apart from the injected intent id allocator.
type FSM struct {
	ids util.IDAllocator
}

func NewFSM(ids util.IDAllocator) *FSM {
	return &FSM{ids: ids}
}

func noop(s State) Result { return Result{Next: s} }

// Apply advances s by ev. Terminal parents absorb everything.
func (f *FSM) Apply(s State, ev Event) Result {
	if n, ok := ev.(New); ok {
		if s.Exists() {
			return noop(s)
		}
		return f.onNew(n)
	}
	if !s.Exists() || s.IsDone() {
		return noop(s)
	}

	var r Result
	switch e := ev.(type) {
	case Ack:
		r = onAck(s, e)
	case ChildRouted:
		r = onChildRouted(s, e)
	case ChildAck:
		r = onChildAck(s, e)
	case ChildFill:
		r = onChildFill(s, e)
	case Fill:
		r = onFill(s, e)
	case CancelRequest:
		r = onCancelRequest(s, e)
	case CancelAck:
		r = onCancelAck(s, e)
	case ChildCanceled:
		r = onChildCanceled(s, e)
	case ChildCancelRejected:
		r = onChildCancelRejected(s, e)
	case Reject:
		r = onReject(s, e)
	case ReplaceRequest:
		r = onReplaceRequest(s, e)
	case ChildReplaced:
		r = onChildReplaced(s, e)
	case ChildReplaceRejected:
		r = onChildReplaceRejected(s, e)
	case Expire:
		r = onExpire(s, e)
	default:
		return noop(s)
	}
	if r.Applied {
		r.Next.LastEventNs = ev.Ts()
	}
	return r
}

func report(s State, kind core.ExecKind, ts int64) core.ExecutionReport {
	leaves := s.LeavesQty
	if s.IsDone() {
		leaves = 0
	}
	return core.ExecutionReport{
		ParentID:   s.ParentID,
		SessionKey: s.SessionKey,
		ClOrdID:    s.ClOrdID,
		Instrument: s.Instrument,
		Side:       s.Side,
		Kind:       kind,
		Status:     s.Status,
		CumQty:     s.CumQty,
		LeavesQty:  leaves,
		AvgPx:      s.AvgPx,
		TsNanos:    ts,
	}
}

func reportText(s State, kind core.ExecKind, ts int64, text string) core.ExecutionReport {
	r := report(s, kind, ts)
	r.Text = text
	return r
}

func applied(s State, reports ...core.ExecutionReport) Result {
	return Result{Next: s, Reports: reports, Applied: true}
}

func (f *FSM) onNew(e New) Result {
	s := State{
		ParentID:   e.ParentID,
		ClOrdID:    e.ClOrdID,
		SessionKey: e.SessionKey,
		AccountID:  e.AccountID,
		Instrument: e.Instrument,
		Side:       e.Side,
		OrdType:    e.OrdType,
		LimitPx:    e.LimitPx,
		TIF:        e.TIF,
		ExpireAt:   e.ExpireAt,
		ExDest:     e.ExDest,
		TargetQty:  e.Qty,
		Status:     core.StatusNewPending,
		Children:   map[string]ChildView{},
		IntentID:   f.ids.Next(),
	}
	if s.OrdType == core.Market {
		s.LimitPx = 0
	}
	s = s.recompute()
	s.LastEventNs = e.TsNanos

	intent, err := s.routingIntent(e.TsNanos)
	if err != nil {
		s.Status = core.StatusRejected
		return applied(s, reportText(s, core.ExecRejected, e.TsNanos, err.Error()))
	}
	return Result{Next: s, Intents: []core.RoutingIntent{intent}, Applied: true}
}

// routingIntent asks the router to work the parent's current leaves.
func (s State) routingIntent(ts int64) (core.RoutingIntent, error) {
	return core.NewRoutingIntent(core.IntentParams{
		ParentID:   s.ParentID,
		ClOrdID:    s.ClOrdID,
		AccountID:  s.AccountID,
		Instrument: s.Instrument,
		Side:       s.Side,
		Qty:        s.TargetQty,
		LeavesQty:  s.LeavesQty,
		OrdType:    s.OrdType,
		LimitPx:    s.LimitPx,
		TIF:        s.TIF,
		ExpireAt:   s.ExpireAt,
		ExDest:     s.ExDest,
		IntentID:   s.IntentID,
		Revision:   s.IntentRevision,
		TsNanos:    ts,
	})
}

func onAck(s State, e Ack) Result {
	if s.Status != core.StatusNewPending {
		return noop(s)
	}
	s.Status = core.StatusAcked
	if s.LiveChildren() > 0 {
		s.Status = core.StatusWorking
	}
	return applied(s, report(s, core.ExecAck, e.TsNanos))
}

func onChildRouted(s State, e ChildRouted) Result {
	if _, ok := s.Children[e.ChildID]; ok {
		return noop(s)
	}
	return applied(s.withChild(ChildView{
		ChildID:   e.ChildID,
		VenueID:   e.VenueID,
		Status:    core.StatusNewPending,
		LeavesQty: e.Qty,
	}))
}

func onChildAck(s State, e ChildAck) Result {
	c := s.child(e.ChildID)
	c.VenueID = e.VenueID
	if !c.Status.IsTerminal() {
		c.Status = e.Status
	}
	s = s.withChild(c)

	r := applied(s)
	switch s.Status {
	case core.StatusNewPending:
		r.FollowUps = []Event{Ack{Header: e.Header}}
	case core.StatusPendingCancel:
		// the cancel may have gone out before this child was known
		r.Actions = []Action{{Kind: CancelChild, ParentID: s.ParentID, ChildID: e.ChildID}}
	}
	return r
}

// fill books qty at px and moves the status forward. Quantity beyond leaves
// is ignored, so cum never passes target.
func fill(s State, qty, px, ts int64) (State, []core.ExecutionReport, bool) {
	delta := min(qty, s.LeavesQty)
	if delta <= 0 {
		return s, nil, false
	}
	s.CumQty += delta
	s.Notional += px * delta
	s = s.recompute()

	kind := core.ExecPartialFill
	switch {
	case s.LeavesQty == 0:
		s.Status = core.StatusFilled
		s.Replace = nil
		kind = core.ExecFill
	case isPending(s.Status):
		s.PrevStatus = core.StatusPartiallyFilled
	default:
		s.Status = core.StatusPartiallyFilled
	}
	r := report(s, kind, ts)
	r.LastQty = delta
	r.LastPx = px
	return s, []core.ExecutionReport{r}, true
}

func onChildFill(s State, e ChildFill) Result {
	prev := s.Status
	c := s.child(e.ChildID)
	c.CumQty = e.ChildCum
	c.LeavesQty = e.ChildLeaves
	c.Status = e.ChildStatus
	s = s.withChild(c)

	s, reports, _ := fill(s, e.Qty, e.Px, e.TsNanos)
	r := applied(s, reports...)
	switch {
	case s.Status == core.StatusFilled:
		if prev == core.StatusPendingCancel {
			r.Actions = []Action{{Kind: CancelEpisodeDone, ParentID: s.ParentID}}
		}
	case e.ChildStatus == core.StatusFilled:
		return childDone(r, e.TsNanos, true, core.ReasonUnfilled)
	case e.ChildStatus.IsTerminal():
		return childDone(r, e.TsNanos, false, core.ReasonUnfilled)
	}
	return r
}

// unplaced is the part of leaves no live child is working.
func (s State) unplaced() int64 {
	n := s.LeavesQty
	for _, c := range s.Children {
		if !c.Status.IsTerminal() {
			n -= c.LeavesQty
		}
	}
	return max(n, 0)
}

// childDone settles a live parent after one of its children finished. While
// other children are live the parent waits for them. A filled child frees
// room to route unplaced leaves again, except for IOC and FOK parents whose
// remainder lapses. With nothing live and nothing routed the parent closes.
func childDone(r Result, ts int64, replan bool, text string) Result {
	s := r.Next
	if s.IsDone() {
		return r
	}
	if isPending(s.Status) {
		if s.LiveChildren() > 0 {
			return r
		}
		return finishCancel(s, r.Reports, ts, text)
	}
	if replan && s.TIF != core.IOC && s.TIF != core.FOK && s.unplaced() > 0 {
		s.IntentRevision++
		if ri, err := s.routingIntent(ts); err == nil {
			r.Next = s
			r.Intents = append(r.Intents, ri)
			return r
		}
		s.IntentRevision--
	}
	if s.LiveChildren() > 0 {
		return r
	}
	return finishCancel(s, r.Reports, ts, text)
}

func onFill(s State, e Fill) Result {
	prev := s.Status
	s, reports, ok := fill(s, e.Qty, e.Px, e.TsNanos)
	if !ok {
		return noop(s)
	}
	r := applied(s, reports...)
	if s.Status == core.StatusFilled && prev == core.StatusPendingCancel {
		r.Actions = []Action{{Kind: CancelEpisodeDone, ParentID: s.ParentID}}
	}
	return r
}

// finishCancel closes a parent whose children are all done.
func finishCancel(s State, reports []core.ExecutionReport, ts int64, text string) Result {
	s.Status = core.StatusCanceled
	s.Replace = nil
	reports = append(reports, reportText(s, core.ExecCanceled, ts, text))
	return Result{
		Next:    s,
		Reports: reports,
		Actions: []Action{{Kind: CancelEpisodeDone, ParentID: s.ParentID}},
		Applied: true,
	}
}

func onCancelRequest(s State, e CancelRequest) Result {
	if s.Status != core.StatusPendingCancel {
		if s.Status != core.StatusPendingReplace {
			s.PrevStatus = s.Status
		}
		s.Status = core.StatusPendingCancel
	}
	r := applied(s, report(s, core.ExecPendingCancel, e.TsNanos))
	r.Actions = []Action{
		{Kind: MarkCancelWanted, ParentID: s.ParentID},
		{Kind: CancelActiveChildren, ParentID: s.ParentID},
	}
	return r
}

func onCancelAck(s State, e CancelAck) Result {
	if e.ChildID != "" {
		return noop(s)
	}
	if s.Status != core.StatusPendingCancel || s.LiveChildren() > 0 {
		return noop(s)
	}
	return finishCancel(s, nil, e.TsNanos, "")
}

func onChildCanceled(s State, e ChildCanceled) Result {
	c := s.child(e.ChildID)
	if c.Status.IsTerminal() {
		return noop(s)
	}
	c.Status = core.StatusCanceled
	c.LeavesQty = 0
	return childDone(applied(s.withChild(c)), e.TsNanos, false, e.Reason)
}

func onChildCancelRejected(s State, e ChildCancelRejected) Result {
	c := s.child(e.ChildID)
	c.Status = e.ChildStatus
	s = s.withChild(c)
	if s.Status != core.StatusPendingCancel {
		return applied(s)
	}
	s.Status = s.PrevStatus
	r := applied(s, reportText(s, core.ExecCancelRejected, e.TsNanos, e.Text))
	r.Actions = []Action{{Kind: CancelEpisodeDone, ParentID: s.ParentID}}
	return r
}

func onReject(s State, e Reject) Result {
	var actions []Action
	if e.ChildID != "" {
		c := s.child(e.ChildID)
		c.Status = core.StatusRejected
		c.LeavesQty = 0
		s = s.withChild(c)
		if s.LiveChildren() > 0 {
			return applied(s)
		}
	} else if s.LiveChildren() > 0 {
		actions = append(actions, Action{Kind: CancelActiveChildren, ParentID: s.ParentID})
	}
	if s.Status == core.StatusPendingCancel {
		actions = append(actions, Action{Kind: CancelEpisodeDone, ParentID: s.ParentID})
	}

	text := e.Text
	if text == "" {
		text = e.Reason
	}
	kind := core.ExecRejected
	s.Status = core.StatusRejected
	if s.CumQty > 0 {
		kind = core.ExecCanceled
		s.Status = core.StatusCanceled
	}
	s.Replace = nil
	r := applied(s, reportText(s, kind, e.TsNanos, text))
	r.Actions = actions
	return r
}

func onReplaceRequest(s State, e ReplaceRequest) Result {
	reject := func(text string) Result {
		return applied(s, reportText(s, core.ExecReplaceRejected, e.TsNanos, text))
	}
	switch {
	case isPending(s.Status):
		return reject("order has a pending cancel or replace")
	case e.NewQty <= 0:
		return reject("replace quantity must be positive")
	case e.NewQty < s.CumQty:
		return reject("replace quantity below executed quantity")
	case s.OrdType == core.Market && e.NewPx > 0:
		return reject("market order price cannot be replaced")
	}
	px := e.NewPx
	if px <= 0 {
		px = s.LimitPx
	}
	s.PrevStatus = s.Status
	s.Status = core.StatusPendingReplace
	s.Replace = &PendingReplace{ClOrdID: e.ClOrdID, NewQty: e.NewQty, NewPx: px}

	r := applied(s, report(s, core.ExecPendingReplace, e.TsNanos))
	r.Actions = []Action{{Kind: ReplaceActiveChildren, ParentID: s.ParentID, NewQty: e.NewQty, NewPx: px}}
	return r
}

func onChildReplaced(s State, e ChildReplaced) Result {
	c := s.child(e.ChildID)
	c.Status = e.ChildStatus
	c.LeavesQty = e.ChildLeaves
	s = s.withChild(c)
	if s.Replace == nil {
		return applied(s)
	}

	p := s.Replace
	s.Replace = nil
	// fills that landed while the replace was in flight still count
	s.TargetQty = max(p.NewQty, s.CumQty)
	s.LimitPx = p.NewPx
	if p.ClOrdID != "" {
		s.ClOrdID = p.ClOrdID
	}
	s.IntentRevision++
	s = s.recompute()

	switch {
	case s.LeavesQty == 0:
		s.Status = core.StatusFilled
	case s.Status == core.StatusPendingReplace:
		s.Status = core.StatusReplaced
	}
	return applied(s, report(s, core.ExecReplaced, e.TsNanos))
}

func onChildReplaceRejected(s State, e ChildReplaceRejected) Result {
	if e.ChildID != "" {
		c := s.child(e.ChildID)
		c.Status = e.ChildStatus
		s = s.withChild(c)
	}
	if s.Replace == nil {
		return applied(s)
	}
	s.Replace = nil
	if s.Status == core.StatusPendingReplace {
		s.Status = s.PrevStatus
	}
	text := e.Text
	if text == "" {
		text = e.Reason
	}
	return applied(s, reportText(s, core.ExecReplaceRejected, e.TsNanos, text))
}

func onExpire(s State, e Expire) Result {
	s.Status = core.StatusExpired
	s.Replace = nil
	r := applied(s, report(s, core.ExecExpired, e.TsNanos))
	r.Actions = []Action{
		{Kind: CancelActiveChildren, ParentID: s.ParentID},
		{Kind: CancelEpisodeDone, ParentID: s.ParentID},
	}
	return r
}
