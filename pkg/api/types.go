package api

import (
	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/app/sor"
)

// API request/response types. Prices cross the wire as decimal strings
// ("100.25"); quantities as integers.

// ==============================
// REST Response Types
// ==============================

// MarketInfo is an instrument's reference data.
type MarketInfo struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"` // "Active", "Halted", "Closed"
	TickSize     string `json:"tickSize"`
	LotSize      int64  `json:"lotSize"`
	MinOrderSize int64  `json:"minOrderSize"`
	MaxOrderSize int64  `json:"maxOrderSize"`
	ReferencePx  string `json:"referencePx,omitempty"`
	CollarBps    int64  `json:"collarBps"`
}

func marketInfo(in market.Instrument) MarketInfo {
	m := MarketInfo{
		Symbol:       in.Symbol,
		Status:       in.Status.String(),
		TickSize:     core.FormatPrice(in.TickSize),
		LotSize:      in.LotSize,
		MinOrderSize: in.MinOrderSize,
		MaxOrderSize: in.MaxOrderSize,
		CollarBps:    in.CollarBps,
	}
	if in.ReferencePx > 0 {
		m.ReferencePx = core.FormatPrice(in.ReferencePx)
	}
	return m
}

// BookSnapshot is one venue's aggregated depth for an instrument.
type BookSnapshot struct {
	Venue     string       `json:"venue"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // best first
	Asks      []PriceLevel `json:"asks"`      // best first
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

type PriceLevel struct {
	Price  string `json:"price"`
	Qty    int64  `json:"qty"`
	Orders int    `json:"orders"`
}

// VenueInfo identifies a venue and the digest of its books.
type VenueInfo struct {
	ID        string `json:"id"`
	StateHash string `json:"stateHash"`
}

// OrderInfo is the parent order as the OMS sees it.
type OrderInfo struct {
	ParentID   string      `json:"parentId"`
	Session    string      `json:"session"`
	ClOrdID    string      `json:"clOrdId"`
	Account    string      `json:"account"`
	Symbol     string      `json:"symbol"`
	Side       string      `json:"side"`
	Type       string      `json:"type"`
	Price      string      `json:"price,omitempty"`
	TIF        string      `json:"tif"`
	ExpireAt   int64       `json:"expireAt,omitempty"`
	Qty        int64       `json:"qty"`
	CumQty     int64       `json:"cumQty"`
	LeavesQty  int64       `json:"leavesQty"`
	AvgPx      string      `json:"avgPx"`
	Status     string      `json:"status"`
	Children   []ChildInfo `json:"children,omitempty"`
	LastUpdate int64       `json:"lastUpdate"` // monotonic ns
}

func orderInfo(s oms.State) OrderInfo {
	o := OrderInfo{
		ParentID:   s.ParentID,
		Session:    s.SessionKey,
		ClOrdID:    s.ClOrdID,
		Account:    s.AccountID,
		Symbol:     s.Instrument,
		Side:       s.Side.String(),
		Type:       s.OrdType.String(),
		TIF:        s.TIF.String(),
		ExpireAt:   s.ExpireAt,
		Qty:        s.TargetQty,
		CumQty:     s.CumQty,
		LeavesQty:  s.LeavesQty,
		AvgPx:      core.FormatPrice(s.AvgPx),
		Status:     s.Status.String(),
		LastUpdate: s.LastEventNs,
	}
	if s.OrdType == core.Limit {
		o.Price = core.FormatPrice(s.LimitPx)
	}
	return o
}

// ChildInfo is a routed child order.
type ChildInfo struct {
	ChildID      string `json:"childId"`
	ChildClOrdID string `json:"childClOrdId"`
	Venue        string `json:"venue"`
	VenueOrderID string `json:"venueOrderId,omitempty"`
	Qty          int64  `json:"qty"`
	Price        string `json:"price,omitempty"`
	CumQty       int64  `json:"cumQty"`
	LeavesQty    int64  `json:"leavesQty"`
	LastPx       string `json:"lastPx,omitempty"`
	Status       string `json:"status"`
}

func childInfo(c sor.ChildState) ChildInfo {
	ci := ChildInfo{
		ChildID:      c.ChildID,
		ChildClOrdID: c.ChildClOrdID,
		Venue:        c.VenueID,
		VenueOrderID: c.VenueOrderID,
		Qty:          c.Qty,
		CumQty:       c.CumQty,
		LeavesQty:    c.LeavesQty,
		Status:       c.Status.String(),
	}
	if c.PriceMicros > 0 {
		ci.Price = core.FormatPrice(c.PriceMicros)
	}
	if c.LastPx > 0 {
		ci.LastPx = core.FormatPrice(c.LastPx)
	}
	return ci
}

// ReportInfo is an execution report as sent to API clients.
type ReportInfo struct {
	ParentID  string `json:"parentId"`
	Session   string `json:"session"`
	ClOrdID   string `json:"clOrdId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ExecKind  string `json:"execKind"`
	Status    string `json:"status"`
	CumQty    int64  `json:"cumQty"`
	LeavesQty int64  `json:"leavesQty"`
	AvgPx     string `json:"avgPx"`
	LastQty   int64  `json:"lastQty,omitempty"`
	LastPx    string `json:"lastPx,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"ts"`
}

func reportInfo(r core.ExecutionReport) ReportInfo {
	ri := ReportInfo{
		ParentID:  r.ParentID,
		Session:   r.SessionKey,
		ClOrdID:   r.ClOrdID,
		Symbol:    r.Instrument,
		Side:      r.Side.String(),
		ExecKind:  r.Kind.String(),
		Status:    r.Status.String(),
		CumQty:    r.CumQty,
		LeavesQty: r.LeavesQty,
		AvgPx:     core.FormatPrice(r.AvgPx),
		LastQty:   r.LastQty,
		Text:      r.Text,
		Timestamp: r.TsNanos,
	}
	if r.LastQty > 0 {
		ri.LastPx = core.FormatPrice(r.LastPx)
	}
	return ri
}

// Status is the node summary served by /api/v1/status.
type Status struct {
	LiveParents  int      `json:"liveParents"`
	TotalParents int      `json:"totalParents"`
	Venues       []string `json:"venues"`
	Markets      int      `json:"markets"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope for every server push.
type WSMessage struct {
	Type    string      `json:"type"` // "report"
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["reports", "reports:sess-1", "orders:P-7"]
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders
type SubmitOrderRequest struct {
	Session  string `json:"session"`
	ClOrdID  string `json:"clOrdId"`
	Account  string `json:"account"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // "BUY" or "SELL"
	Type     string `json:"type"` // "LIMIT" or "MARKET"
	Qty      int64  `json:"qty"`
	Price    string `json:"price,omitempty"` // required for LIMIT
	TIF      string `json:"tif,omitempty"`   // default DAY
	ExpireAt int64  `json:"expireAt,omitempty"`
	ExDest   string `json:"exDest,omitempty"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	Session     string `json:"session"`
	ClOrdID     string `json:"clOrdId"`
	OrigClOrdID string `json:"origClOrdId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
}

// ReplaceOrderRequest is the payload for POST /api/v1/orders/replace
type ReplaceOrderRequest struct {
	Session     string `json:"session"`
	ClOrdID     string `json:"clOrdId"`
	OrigClOrdID string `json:"origClOrdId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         int64  `json:"qty"`
	Price       string `json:"price"`
}

// SubmitOrderResponse acknowledges acceptance onto the inbound bus. The
// outcome arrives later as execution reports.
type SubmitOrderResponse struct {
	Status  string `json:"status"` // "accepted"
	Seq     uint64 `json:"seq"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
