// Package sor routes parent intents into child orders and folds venue
// responses back into child state.
package sor

import "github.com/uhyunpark/orderflow/pkg/app/core"

// ChildState is an immutable snapshot of one routed child order.
type ChildState struct {
	ParentID     string
	ChildID      string
	ChildClOrdID string
	VenueID      string // "" until routed
	VenueOrderID string // "" until acked
	AccountID    string
	Instrument   string
	Side         core.Side
	Qty          int64
	OrdType      core.OrdType
	PriceMicros  int64
	TIF          core.TimeInForce
	CumQty       int64
	LeavesQty    int64
	LastPx       int64
	Status       core.OrdStatus
	PrevStatus   core.OrdStatus
	UpdatedNs    int64
}

func (c ChildState) Exists() bool { return c.ChildID != "" }

// Routed reports whether a new-child command has gone out for c.
func (c ChildState) Routed() bool { return c.VenueID != "" }

func (c ChildState) IsLive() bool { return c.Exists() && !c.Status.IsTerminal() }

// working is the status a child returns to when a cancel or replace fails.
func (c ChildState) working() core.OrdStatus {
	if c.CumQty > 0 {
		return core.StatusPartiallyFilled
	}
	return core.StatusAcked
}

func pending(st core.OrdStatus) bool {
	return st == core.StatusPendingCancel || st == core.StatusPendingReplace
}

// stale reports whether ref names a different order than c. Every id the
// child already holds must be echoed exactly; an event leaving one out does
// not match. Ids the child does not have yet (the venue order id before the
// ack) are not compared.
func (c ChildState) stale(ref core.VenueRef) bool {
	differ := func(mine, theirs string) bool {
		return mine != "" && mine != theirs
	}
	return differ(c.VenueID, ref.VenueID) ||
		differ(c.ChildClOrdID, ref.ChildClOrdID) ||
		differ(c.VenueOrderID, ref.VenueOrderID)
}
