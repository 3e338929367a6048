package oms

import "github.com/uhyunpark/orderflow/pkg/app/core"

// ChildView is the parent's picture of one of its children, built only from
// upward order events.
type ChildView struct {
	ChildID   string
	VenueID   string
	Status    core.OrdStatus
	CumQty    int64
	LeavesQty int64
}

// PendingReplace holds the requested terms until the venue answers.
type PendingReplace struct {
	ClOrdID string
	NewQty  int64
	NewPx   int64
}

// State is an immutable snapshot of one parent order. Apply never modifies
// a State it was given; maps are copied before they change.
type State struct {
	ParentID    string
	ClOrdID     string
	SessionKey  string
	AccountID   string
	Instrument  string
	Side        core.Side
	OrdType     core.OrdType
	LimitPx     int64
	TIF         core.TimeInForce
	ExpireAt    int64
	ExDest      string
	TargetQty   int64
	CumQty      int64
	LeavesQty   int64
	Notional    int64 // sum of px*qty over fills, exact
	AvgPx       int64
	Status      core.OrdStatus
	PrevStatus  core.OrdStatus // rollback target for pending cancel/replace
	LastEventNs int64

	Children       map[string]ChildView
	IntentID       string
	IntentRevision int
	Replace        *PendingReplace
}

// Exists is false for the zero State handed in for an unknown parent.
func (s State) Exists() bool { return s.ParentID != "" }

// IsDone reports whether the parent reached an absorbing status.
func (s State) IsDone() bool { return s.Status.IsTerminal() }

// LiveChildren counts children the parent has not seen finish.
func (s State) LiveChildren() int {
	n := 0
	for _, c := range s.Children {
		if !c.Status.IsTerminal() {
			n++
		}
	}
	return n
}

func (s State) withChild(v ChildView) State {
	next := make(map[string]ChildView, len(s.Children)+1)
	for k, c := range s.Children {
		next[k] = c
	}
	next[v.ChildID] = v
	s.Children = next
	return s
}

func (s State) child(id string) ChildView {
	if c, ok := s.Children[id]; ok {
		return c
	}
	return ChildView{ChildID: id}
}

func (s State) recompute() State {
	s.LeavesQty = max(0, s.TargetQty-s.CumQty)
	s.AvgPx = core.VWAP(s.Notional, s.CumQty)
	return s
}

func isPending(st core.OrdStatus) bool {
	return st == core.StatusPendingCancel || st == core.StatusPendingReplace
}
