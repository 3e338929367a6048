package core

import (
	"fmt"
	"time"
)

// RoutingIntent is what the parent FSM asks the router to do with a parent's
// open quantity. The router decides venues and child sizing.
type RoutingIntent struct {
	ParentID            string
	ClOrdID             string
	AccountID           string
	Instrument          string
	Side                Side
	Qty                 int64
	LeavesQty           int64
	OrdType             OrdType
	LimitPx             int64 // micros, 0 for market
	TIF                 TimeInForce
	ExpireAt            int64 // wall millis, 0 when none
	ExDest              string
	CandidateVenues     []string
	TargetChildQty      int64 // 0 lets the router size the child
	MaxParallelChildren int
	PostOnly            bool
	IOCOnly             bool
	IntentID            string
	IntentRevision      int
	TsNanos             int64
}

// IntentParams are the inputs NewRoutingIntent validates.
type IntentParams struct {
	ParentID   string
	ClOrdID    string
	AccountID  string
	Instrument string
	Side       Side
	Qty        int64
	LeavesQty  int64
	OrdType    OrdType
	LimitPx    int64
	TIF        TimeInForce
	ExpireAt   int64
	ExDest     string
	IntentID   string
	Revision   int
	TsNanos    int64
}

// NewRoutingIntent builds a single-child intent with an empty candidate list.
// Market orders always carry LimitPx 0, whatever was supplied.
func NewRoutingIntent(p IntentParams) (RoutingIntent, error) {
	if !p.Side.Valid() {
		return RoutingIntent{}, fmt.Errorf("%w: side %d", ErrInvalidOrder, p.Side)
	}
	if p.Qty <= 0 {
		return RoutingIntent{}, fmt.Errorf("%w: quantity %d must be positive", ErrInvalidOrder, p.Qty)
	}
	if p.Instrument == "" {
		return RoutingIntent{}, fmt.Errorf("%w: missing instrument", ErrInvalidOrder)
	}
	px := p.LimitPx
	switch p.OrdType {
	case Market:
		px = 0
	case Limit:
		if px <= 0 {
			return RoutingIntent{}, fmt.Errorf("%w: limit order requires a price", ErrInvalidOrder)
		}
	default:
		return RoutingIntent{}, fmt.Errorf("%w: order type %d", ErrInvalidOrder, p.OrdType)
	}
	if p.TIF == GTD && p.ExpireAt == 0 {
		return RoutingIntent{}, fmt.Errorf("%w: GTD order requires an expiry", ErrInvalidOrder)
	}
	leaves := p.LeavesQty
	if leaves <= 0 || leaves > p.Qty {
		leaves = p.Qty
	}
	return RoutingIntent{
		ParentID:            p.ParentID,
		ClOrdID:             p.ClOrdID,
		AccountID:           p.AccountID,
		Instrument:          p.Instrument,
		Side:                p.Side,
		Qty:                 p.Qty,
		LeavesQty:           leaves,
		OrdType:             p.OrdType,
		LimitPx:             px,
		TIF:                 p.TIF,
		ExpireAt:            p.ExpireAt,
		ExDest:              p.ExDest,
		CandidateVenues:     []string{},
		MaxParallelChildren: 1,
		IOCOnly:             p.TIF == IOC,
		IntentID:            p.IntentID,
		IntentRevision:      p.Revision,
		TsNanos:             p.TsNanos,
	}, nil
}

// ComputeExpireAt returns the wall-clock millis at which an order with the
// given time in force lapses, or 0 if it never does. DAY orders lapse at the
// next UTC midnight after nowMillis. Nothing schedules the expiry; a sweeper
// compares this value and injects an expire event.
func ComputeExpireAt(tif TimeInForce, expireAt, nowMillis int64) int64 {
	switch tif {
	case GTD:
		return expireAt
	case Day:
		now := time.UnixMilli(nowMillis).UTC()
		y, m, d := now.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).UnixMilli()
	default:
		return 0
	}
}
