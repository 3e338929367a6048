package sor

import (
	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
)

// ReduceVenueEvent folds one venue response into the child and produces the
// single order event the parent needs to hear about it. Events for finished
// children, or naming a different venue/order id, are dropped as stale.
func ReduceVenueEvent(s ChildState, ev core.VenueEvent) Result {
	if !s.Exists() || s.Status.IsTerminal() {
		return noop(s)
	}
	ref := ev.Ref()
	if s.stale(ref) {
		return noop(s)
	}
	h := oms.Header{ParentID: s.ParentID, TsNanos: ref.TsNanos}

	switch e := ev.(type) {
	case core.Ack:
		return onAck(s, e, h)
	case core.NewReject:
		return onNewReject(s, e, h)
	case core.Fill:
		return onFill(s, e, h)
	case core.CancelAck:
		if s.Status != core.StatusPendingCancel {
			return noop(s)
		}
		return emit(s, ref, oms.CancelAck{Header: h, ChildID: s.ChildID})
	case core.CancelDone:
		s.Status = core.StatusCanceled
		s.LeavesQty = 0
		return emit(s, ref, oms.ChildCanceled{Header: h, ChildID: s.ChildID, Reason: e.Reason, CanceledQty: e.CanceledQty})
	case core.CancelReject:
		if s.Status != core.StatusPendingCancel {
			return noop(s)
		}
		s.Status = s.working()
		return emit(s, ref, oms.ChildCancelRejected{Header: h, ChildID: s.ChildID, Reason: e.Reason, Text: e.Text, ChildStatus: s.Status})
	case core.ReplaceAck:
		return onReplaceAck(s, e, h)
	case core.ReplaceReject:
		if s.Status != core.StatusPendingReplace {
			return noop(s)
		}
		s.Status = s.working()
		return emit(s, ref, oms.ChildReplaceRejected{Header: h, ChildID: s.ChildID, Reason: e.Reason, Text: e.Text, ChildStatus: s.Status})
	default:
		return noop(s)
	}
}

func emit(s ChildState, ref core.VenueRef, ev oms.Event) Result {
	s.UpdatedNs = ref.TsNanos
	return Result{Next: s, Events: []oms.Event{ev}, Applied: true}
}

func onAck(s ChildState, e core.Ack, h oms.Header) Result {
	switch {
	case s.Status == core.StatusNewPending:
		s.Status = core.StatusAcked
	case pending(s.Status) && s.VenueOrderID == "":
		// cancel went out before the ack; keep the pending status
		s.PrevStatus = core.StatusAcked
	default:
		return noop(s)
	}
	s.VenueOrderID = e.VenueOrderID
	return emit(s, e.VenueRef, oms.ChildAck{
		Header:       h,
		ChildID:      s.ChildID,
		VenueID:      s.VenueID,
		VenueOrderID: s.VenueOrderID,
		Status:       s.Status,
	})
}

func onNewReject(s ChildState, e core.NewReject, h oms.Header) Result {
	if s.Status != core.StatusNewPending && !(pending(s.Status) && s.VenueOrderID == "") {
		return noop(s)
	}
	s.Status = core.StatusRejected
	s.LeavesQty = 0
	return emit(s, e.VenueRef, oms.Reject{Header: h, ChildID: s.ChildID, Reason: e.Reason, Text: e.Text})
}

func onFill(s ChildState, e core.Fill, h oms.Header) Result {
	switch s.Status {
	case core.StatusAcked, core.StatusPartiallyFilled, core.StatusPendingCancel, core.StatusPendingReplace:
	default:
		return noop(s)
	}
	delta := min(e.LastQty, s.LeavesQty)
	if delta <= 0 {
		return noop(s)
	}
	s.CumQty += delta
	s.LeavesQty = max(0, s.Qty-s.CumQty)
	s.LastPx = e.LastPx
	switch {
	case s.LeavesQty == 0:
		s.Status = core.StatusFilled
	case pending(s.Status):
		s.PrevStatus = core.StatusPartiallyFilled
	default:
		s.Status = core.StatusPartiallyFilled
	}
	return emit(s, e.VenueRef, oms.ChildFill{
		Header:      h,
		ChildID:     s.ChildID,
		ExecID:      e.ExecID,
		Qty:         delta,
		Px:          e.LastPx,
		ChildCum:    s.CumQty,
		ChildLeaves: s.LeavesQty,
		ChildStatus: s.Status,
	})
}

func onReplaceAck(s ChildState, e core.ReplaceAck, h oms.Header) Result {
	if s.Status != core.StatusPendingReplace {
		return noop(s)
	}
	s.Qty = max(e.NewQty, s.CumQty)
	if e.NewPxMicros > 0 {
		s.PriceMicros = e.NewPxMicros
	}
	s.LeavesQty = max(0, s.Qty-s.CumQty)
	if s.LeavesQty == 0 {
		s.Status = core.StatusFilled
	} else {
		s.Status = s.working()
	}
	return emit(s, e.VenueRef, oms.ChildReplaced{
		Header:      h,
		ChildID:     s.ChildID,
		NewQty:      e.NewQty,
		NewPx:       s.PriceMicros,
		ChildLeaves: s.LeavesQty,
		ChildStatus: s.Status,
	})
}
