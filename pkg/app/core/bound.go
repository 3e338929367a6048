package core

// BoundEvent is an inbound message already bound to a client session.
type BoundEvent interface {
	Session() string
	boundEvent()
}

type BoundNew struct {
	SessionKey  string
	ClOrdID     string
	AccountID   string
	AccountType string
	Instrument  string
	Side        Side
	Qty         int64
	OrdType     OrdType
	LimitPx     int64 // micros; 0 for market
	TIF         TimeInForce
	ExpireAt    int64 // wall millis, GTD only
	ExDest      string
	IngressNs   int64
}

type BoundCancel struct {
	SessionKey  string
	ClOrdID     string
	OrigClOrdID string
	Instrument  string
	Side        Side
	IngressNs   int64
}

type BoundReplace struct {
	SessionKey  string
	ClOrdID     string
	OrigClOrdID string
	Instrument  string
	Side        Side
	Qty         int64
	LimitPx     int64
	IngressNs   int64
}

// BoundExpire is injected by an expiry sweeper, not by a client.
type BoundExpire struct {
	SessionKey string
	ParentID   string
	IngressNs  int64
}

func (e BoundNew) Session() string     { return e.SessionKey }
func (e BoundCancel) Session() string  { return e.SessionKey }
func (e BoundReplace) Session() string { return e.SessionKey }
func (e BoundExpire) Session() string  { return e.SessionKey }

func (BoundNew) boundEvent()     {}
func (BoundCancel) boundEvent()  {}
func (BoundReplace) boundEvent() {}
func (BoundExpire) boundEvent()  {}

// ExecutionReport is the parent-level record sent back toward the client.
type ExecutionReport struct {
	ParentID   string    `json:"parent_id"`
	SessionKey string    `json:"session"`
	ClOrdID    string    `json:"cl_ord_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Kind       ExecKind  `json:"exec_kind"`
	Status     OrdStatus `json:"status"`
	CumQty     int64     `json:"cum_qty"`
	LeavesQty  int64     `json:"leaves_qty"`
	AvgPx      int64     `json:"avg_px"`
	LastQty    int64     `json:"last_qty,omitempty"`
	LastPx     int64     `json:"last_px,omitempty"`
	Text       string    `json:"text,omitempty"`
	TsNanos    int64     `json:"ts"`
}
