package sor

import (
	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
)

// Intent is the closed set of child-level routing decisions.
type Intent interface {
	Child() string
	intent()
}

type NewChildIntent struct {
	ParentID     string
	ChildID      string
	ChildClOrdID string
	AccountID    string
	Instrument   string
	Side         core.Side
	Qty          int64
	OrdType      core.OrdType
	PriceMicros  int64
	TIF          core.TimeInForce
	VenueID      string
	TsNanos      int64
}

type CancelChildIntent struct {
	ParentID string
	ChildID  string
	TsNanos  int64
}

type ReplaceChildIntent struct {
	ParentID string
	ChildID  string
	NewQty   int64
	NewPx    int64
	TsNanos  int64
}

func (i NewChildIntent) Child() string     { return i.ChildID }
func (i CancelChildIntent) Child() string  { return i.ChildID }
func (i ReplaceChildIntent) Child() string { return i.ChildID }

func (NewChildIntent) intent()     {}
func (CancelChildIntent) intent()  {}
func (ReplaceChildIntent) intent() {}

// Result of either reducer. Next is stored before Commands or Events are used.
type Result struct {
	Next     ChildState
	Commands []core.VenueCommand
	Events   []oms.Event
	Applied  bool
}

func noop(s ChildState) Result { return Result{Next: s} }

// ReduceIntent turns a routing decision into at most one venue command.
func ReduceIntent(s ChildState, in Intent) Result {
	switch i := in.(type) {
	case NewChildIntent:
		return reduceNew(s, i)
	case CancelChildIntent:
		return reduceCancel(s, i)
	case ReplaceChildIntent:
		return reduceReplace(s, i)
	default:
		return noop(s)
	}
}

func reduceNew(s ChildState, i NewChildIntent) Result {
	if s.Exists() && (s.Status.IsTerminal() || s.Routed()) {
		return noop(s)
	}
	px := i.PriceMicros
	if i.OrdType == core.Market {
		px = 0
	}
	next := ChildState{
		ParentID:     i.ParentID,
		ChildID:      i.ChildID,
		ChildClOrdID: i.ChildClOrdID,
		VenueID:      i.VenueID,
		AccountID:    i.AccountID,
		Instrument:   i.Instrument,
		Side:         i.Side,
		Qty:          i.Qty,
		OrdType:      i.OrdType,
		PriceMicros:  px,
		TIF:          i.TIF,
		LeavesQty:    i.Qty,
		Status:       core.StatusNewPending,
		UpdatedNs:    i.TsNanos,
	}
	cmd := core.NewChild{
		ParentID:     next.ParentID,
		ChildID:      next.ChildID,
		ChildClOrdID: next.ChildClOrdID,
		AccountID:    next.AccountID,
		Instrument:   next.Instrument,
		Side:         next.Side,
		Qty:          next.Qty,
		OrdType:      next.OrdType,
		PriceMicros:  px,
		TIF:          next.TIF,
		VenueID:      next.VenueID,
		TsNanos:      i.TsNanos,
	}
	return Result{Next: next, Commands: []core.VenueCommand{cmd}, Applied: true}
}

func reduceCancel(s ChildState, i CancelChildIntent) Result {
	if !s.Exists() || s.Status.IsTerminal() || s.Status == core.StatusPendingCancel {
		return noop(s)
	}
	if s.Status != core.StatusPendingReplace {
		s.PrevStatus = s.Status
	}
	s.Status = core.StatusPendingCancel
	s.UpdatedNs = i.TsNanos
	cmd := core.CancelChild{
		ParentID:     s.ParentID,
		ChildID:      s.ChildID,
		ChildClOrdID: s.ChildClOrdID,
		Instrument:   s.Instrument,
		VenueID:      s.VenueID,
		VenueOrderID: s.VenueOrderID,
		TsNanos:      i.TsNanos,
	}
	return Result{Next: s, Commands: []core.VenueCommand{cmd}, Applied: true}
}

func reduceReplace(s ChildState, i ReplaceChildIntent) Result {
	if !s.IsLive() || pending(s.Status) || s.Status == core.StatusNewPending || i.NewQty <= 0 {
		return noop(s)
	}
	s.PrevStatus = s.Status
	s.Status = core.StatusPendingReplace
	s.UpdatedNs = i.TsNanos
	px := i.NewPx
	if px <= 0 || s.OrdType == core.Market {
		px = s.PriceMicros
	}
	cmd := core.ReplaceChild{
		ParentID:     s.ParentID,
		ChildID:      s.ChildID,
		ChildClOrdID: s.ChildClOrdID,
		Instrument:   s.Instrument,
		VenueID:      s.VenueID,
		VenueOrderID: s.VenueOrderID,
		NewQty:       i.NewQty,
		NewPxMicros:  px,
		TsNanos:      i.TsNanos,
	}
	return Result{Next: s, Commands: []core.VenueCommand{cmd}, Applied: true}
}
