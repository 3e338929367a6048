package oms

import "github.com/uhyunpark/orderflow/pkg/app/core"

// Event is the closed set of inputs to the parent FSM. The unexported
// marker keeps other packages from adding variants.
type Event interface {
	Parent() string
	Ts() int64
	event()
}

// Header carries the fields every event has.
type Header struct {
	ParentID string
	TsNanos  int64
}

func (h Header) Parent() string { return h.ParentID }
func (h Header) Ts() int64       { return h.TsNanos }

type New struct {
	Header
	ClOrdID    string
	SessionKey string
	AccountID  string
	Instrument string
	Side       core.Side
	OrdType    core.OrdType
	LimitPx    int64
	TIF        core.TimeInForce
	ExpireAt   int64
	Qty        int64
	ExDest     string
}

// Ack moves a new parent to working. Generated as a follow-up of the first ChildAck.
type Ack struct {
	Header
}

// Reject with a ChildID is a venue rejection of that child; without one it
// rejects the parent itself.
type Reject struct {
	Header
	ChildID string
	Reason  string
	Text    string
}

type CancelRequest struct {
	Header
	ClOrdID string
}

// CancelAck with a ChildID is informational. Without one it closes a cancel
// episode that found nothing live to cancel.
type CancelAck struct {
	Header
	ChildID string
}

// ChildRouted registers a child with its parent the moment its new-child
// command is sent, before any venue response for it is seen.
type ChildRouted struct {
	Header
	ChildID string
	VenueID string
	Qty     int64
}

type ChildAck struct {
	Header
	ChildID      string
	VenueID      string
	VenueOrderID string
	Status       core.OrdStatus
}

type ChildFill struct {
	Header
	ChildID     string
	ExecID      string
	Qty         int64
	Px          int64
	ChildCum    int64
	ChildLeaves int64
	ChildStatus core.OrdStatus
}

type ChildCanceled struct {
	Header
	ChildID     string
	Reason      string
	CanceledQty int64
}

type ChildCancelRejected struct {
	Header
	ChildID     string
	Reason      string
	Text        string
	ChildStatus core.OrdStatus
}

// Fill is an execution booked directly against the parent.
type Fill struct {
	Header
	ExecID string
	Qty    int64
	Px     int64
}

type ReplaceRequest struct {
	Header
	ClOrdID string
	NewQty  int64
	NewPx   int64
}

type ChildReplaced struct {
	Header
	ChildID     string
	NewQty      int64
	NewPx       int64
	ChildLeaves int64
	ChildStatus core.OrdStatus
}

type ChildReplaceRejected struct {
	Header
	ChildID     string
	Reason      string
	Text        string
	ChildStatus core.OrdStatus
}

// Expire is injected by an expiry sweeper.
type Expire struct {
	Header
}

func (New) event()                  {}
func (Ack) event()                  {}
func (Reject) event()               {}
func (CancelRequest) event()        {}
func (CancelAck) event()            {}
func (ChildRouted) event()          {}
func (ChildAck) event()             {}
func (ChildFill) event()            {}
func (ChildCanceled) event()        {}
func (ChildCancelRejected) event()  {}
func (Fill) event()                 {}
func (ReplaceRequest) event()       {}
func (ChildReplaced) event()        {}
func (ChildReplaceRejected) event() {}
func (Expire) event()               {}
