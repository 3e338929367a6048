package core

// VenueCommand is a closed set: NewChild, CancelChild, ReplaceChild.
type VenueCommand interface {
	Venue() string
	Child() string
	venueCommand()
}

type NewChild struct {
	ParentID     string
	ChildID      string
	ChildClOrdID string
	AccountID    string
	Instrument   string
	Side         Side
	Qty          int64
	OrdType      OrdType
	PriceMicros  int64 // 0 for market
	TIF          TimeInForce
	VenueID      string
	TsNanos      int64
}

type CancelChild struct {
	ParentID     string
	ChildID      string
	ChildClOrdID string
	Instrument   string
	VenueID      string
	VenueOrderID string
	TsNanos      int64
}

type ReplaceChild struct {
	ParentID     string
	ChildID      string
	ChildClOrdID string
	Instrument   string
	VenueID      string
	VenueOrderID string
	NewQty       int64
	NewPxMicros  int64
	TsNanos      int64
}

func (c NewChild) Venue() string     { return c.VenueID }
func (c CancelChild) Venue() string  { return c.VenueID }
func (c ReplaceChild) Venue() string { return c.VenueID }

func (c NewChild) Child() string     { return c.ChildID }
func (c CancelChild) Child() string  { return c.ChildID }
func (c ReplaceChild) Child() string { return c.ChildID }

func (NewChild) venueCommand()     {}
func (CancelChild) venueCommand()  {}
func (ReplaceChild) venueCommand() {}

// VenueRef identifies the child order a venue event belongs to. The SOR
// compares every non-empty field against its own record before applying.
type VenueRef struct {
	VenueID      string
	VenueOrderID string
	ChildClOrdID string
	ChildID      string
	ParentID     string
	TsNanos      int64
}

func (r VenueRef) Ref() VenueRef { return r }

// VenueEvent is a closed set of venue responses.
type VenueEvent interface {
	Ref() VenueRef
	venueEvent()
}

type Ack struct {
	VenueRef
}

type Fill struct {
	VenueRef
	ExecID    string
	LastQty   int64
	LastPx    int64
	CumQty    int64
	LeavesQty int64
	IsFinal   bool
	Liquidity Liquidity
}

type NewReject struct {
	VenueRef
	Reason string
	Text   string
}

type CancelAck struct {
	VenueRef
}

type CancelDone struct {
	VenueRef
	Reason      string
	CanceledQty int64
}

type CancelReject struct {
	VenueRef
	Reason string
	Text   string
}

type ReplaceAck struct {
	VenueRef
	NewPxMicros int64
	NewQty      int64
	NewLeaves   int64
}

type ReplaceReject struct {
	VenueRef
	Reason string
	Text   string
}

func (Ack) venueEvent()           {}
func (Fill) venueEvent()          {}
func (NewReject) venueEvent()     {}
func (CancelAck) venueEvent()     {}
func (CancelDone) venueEvent()    {}
func (CancelReject) venueEvent()  {}
func (ReplaceAck) venueEvent()    {}
func (ReplaceReject) venueEvent() {}

// Cancel reasons emitted by venues.
const (
	ReasonUnfilled    = "unfilled"
	ReasonCanceled    = "canceled"
	ReasonIOC         = "ioc_remainder"
	ReasonNoLiquidity = "no_liquidity"
)
