package core

import (
	"errors"
	"fmt"
)

// ErrInvalidOrder is returned when an order fails domain validation
// (missing limit price, non-positive quantity, unknown side).
var ErrInvalidOrder = errors.New("invalid order")

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) Opposite() Side { return -s }

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func ParseSide(s string) (Side, bool) {
	switch s {
	case "BUY", "buy", "B", "1":
		return Buy, true
	case "SELL", "sell", "S", "2":
		return Sell, true
	}
	return 0, false
}

type OrdType int8

const (
	Market OrdType = iota + 1
	Limit
)

func (t OrdType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

func ParseOrdType(s string) (OrdType, bool) {
	switch s {
	case "MARKET", "market", "1":
		return Market, true
	case "LIMIT", "limit", "2":
		return Limit, true
	}
	return 0, false
}

type TimeInForce int8

const (
	Day TimeInForce = iota
	GTC
	IOC
	FOK
	GTD
)

func (t TimeInForce) String() string {
	switch t {
	case Day:
		return "DAY"
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case GTD:
		return "GTD"
	default:
		return "UNKNOWN"
	}
}

func ParseTimeInForce(s string) (TimeInForce, bool) {
	switch s {
	case "", "DAY", "day", "0":
		return Day, true
	case "GTC", "gtc", "1":
		return GTC, true
	case "IOC", "ioc", "3":
		return IOC, true
	case "FOK", "fok", "4":
		return FOK, true
	case "GTD", "gtd", "6":
		return GTD, true
	}
	return 0, false
}

// OrdStatus is shared by parent and child orders. Children never use
// WORKING or REPLACED; parents never use a venue-only status.
type OrdStatus int8

const (
	StatusNewPending OrdStatus = iota
	StatusAcked
	StatusWorking
	StatusPartiallyFilled
	StatusPendingCancel
	StatusPendingReplace
	StatusReplaced
	StatusFilled
	StatusCanceled
	StatusRejected
	StatusExpired
)

var statusNames = [...]string{
	StatusNewPending:      "NEW_PENDING",
	StatusAcked:           "ACKED",
	StatusWorking:         "WORKING",
	StatusPartiallyFilled: "PARTIALLY_FILLED",
	StatusPendingCancel:   "PENDING_CANCEL",
	StatusPendingReplace:  "PENDING_REPLACE",
	StatusReplaced:        "REPLACED",
	StatusFilled:          "FILLED",
	StatusCanceled:        "CANCELED",
	StatusRejected:        "REJECTED",
	StatusExpired:         "EXPIRED",
}

func (s OrdStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// IsTerminal reports whether s is absorbing.
func (s OrdStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ExecKind is the execution type carried on an execution report.
type ExecKind int8

const (
	ExecAck ExecKind = iota + 1
	ExecPartialFill
	ExecFill
	ExecPendingCancel
	ExecCanceled
	ExecCancelRejected
	ExecPendingReplace
	ExecReplaced
	ExecReplaceRejected
	ExecRejected
	ExecExpired
)

var execNames = [...]string{
	ExecAck:             "ACK",
	ExecPartialFill:     "PARTIAL_FILL",
	ExecFill:            "FILL",
	ExecPendingCancel:   "PENDING_CANCEL",
	ExecCanceled:        "CANCELED",
	ExecCancelRejected:  "CANCEL_REJECTED",
	ExecPendingReplace:  "PENDING_REPLACE",
	ExecReplaced:        "REPLACED",
	ExecReplaceRejected: "REPLACE_REJECTED",
	ExecRejected:        "REJECTED",
	ExecExpired:         "EXPIRED",
}

func (k ExecKind) String() string {
	if k <= 0 || int(k) >= len(execNames) {
		return "UNKNOWN"
	}
	return execNames[k]
}

type Liquidity int8

const (
	LiquidityNone Liquidity = iota
	Maker
	Taker
)

func (l Liquidity) String() string {
	switch l {
	case Maker:
		return "MAKER"
	case Taker:
		return "TAKER"
	default:
		return ""
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, ok := ParseSide(string(b))
	if !ok {
		return fmt.Errorf("unknown side %q", b)
	}
	*s = v
	return nil
}

func (s OrdStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrdStatus) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = OrdStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

func (k ExecKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ExecKind) UnmarshalText(b []byte) error {
	for i, name := range execNames {
		if name != "" && name == string(b) {
			*k = ExecKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown exec kind %q", b)
}
