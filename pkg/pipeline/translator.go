package pipeline

import (
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/util"
)

var (
	// ErrMalformed wraps boundary input the translator cannot map.
	ErrMalformed = errors.New("malformed inbound event")
	// ErrUnknownOrder means a cancel or replace named no known order.
	ErrUnknownOrder = errors.New("unknown order")
)

type fillKey struct {
	childID string
	execID  string
}

// Translator turns session-bound events into parent FSM events. It owns
// parent identity and the venue fill dedup window.
type Translator struct {
	sessions *SessionIndex
	cancels  *CancelRegistry
	ids      util.IDAllocator
	clock    util.Clock
	fills    *simplelru.LRU[fillKey, struct{}]
	log      *zap.SugaredLogger
}

func NewTranslator(sessions *SessionIndex, cancels *CancelRegistry, ids util.IDAllocator, clock util.Clock, dedupWindow int, log *zap.SugaredLogger) (*Translator, error) {
	fills, err := simplelru.NewLRU[fillKey, struct{}](dedupWindow, nil)
	if err != nil {
		return nil, fmt.Errorf("fill dedup window: %w", err)
	}
	return &Translator{
		sessions: sessions,
		cancels:  cancels,
		ids:      ids,
		clock:    clock,
		fills:    fills,
		log:      util.OrNop(log),
	}, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func (t *Translator) ts(ingress int64) int64 {
	if ingress > 0 {
		return ingress
	}
	return t.clock.MonoNanos()
}

// Translate maps one inbound payload. Errors never reach the FSM.
func (t *Translator) Translate(payload any) (oms.Event, error) {
	switch b := payload.(type) {
	case core.BoundNew:
		return t.onNew(b)
	case core.BoundCancel:
		parentID, err := t.resolve(b.SessionKey, b.ClOrdID, b.OrigClOrdID)
		if err != nil {
			return nil, err
		}
		// marked before the FSM runs so a child ack racing the cancel
		// is paired with it
		t.cancels.MarkWanted(parentID)
		return oms.CancelRequest{Header: oms.Header{ParentID: parentID, TsNanos: t.ts(b.IngressNs)}, ClOrdID: b.ClOrdID}, nil
	case core.BoundReplace:
		parentID, err := t.resolve(b.SessionKey, b.ClOrdID, b.OrigClOrdID)
		if err != nil {
			return nil, err
		}
		return oms.ReplaceRequest{
			Header:  oms.Header{ParentID: parentID, TsNanos: t.ts(b.IngressNs)},
			ClOrdID: b.ClOrdID,
			NewQty:  b.Qty,
			NewPx:   b.LimitPx,
		}, nil
	case core.BoundExpire:
		if b.ParentID == "" {
			return nil, malformed("expire without parent id")
		}
		return oms.Expire{Header: oms.Header{ParentID: b.ParentID, TsNanos: t.ts(b.IngressNs)}}, nil
	default:
		return nil, malformed("unsupported payload %T", payload)
	}
}

func (t *Translator) onNew(b core.BoundNew) (oms.Event, error) {
	switch {
	case b.SessionKey == "" || b.ClOrdID == "":
		return nil, malformed("new order without session or cl_ord_id")
	case b.Instrument == "":
		return nil, malformed("new order %s without instrument", b.ClOrdID)
	case !b.Side.Valid():
		return nil, malformed("new order %s with side %d", b.ClOrdID, b.Side)
	case b.OrdType != core.Market && b.OrdType != core.Limit:
		return nil, malformed("new order %s with ord type %d", b.ClOrdID, b.OrdType)
	}

	parentID, ok := t.sessions.Lookup(b.SessionKey, b.ClOrdID)
	if !ok {
		parentID, ok = t.sessions.PutIfAbsent(b.SessionKey, b.ClOrdID, t.ids.Next())
		if !ok {
			t.log.Debugw("parent_id_race_lost", "session", b.SessionKey, "cl_ord_id", b.ClOrdID, "parent", parentID)
		}
	}

	px := b.LimitPx
	if b.OrdType == core.Market {
		px = 0
	}
	return oms.New{
		Header:     oms.Header{ParentID: parentID, TsNanos: t.ts(b.IngressNs)},
		ClOrdID:    b.ClOrdID,
		SessionKey: b.SessionKey,
		AccountID:  b.AccountID,
		Instrument: b.Instrument,
		Side:       b.Side,
		OrdType:    b.OrdType,
		LimitPx:    px,
		TIF:        b.TIF,
		ExpireAt:   core.ComputeExpireAt(b.TIF, b.ExpireAt, t.clock.NowMillis()),
		Qty:        b.Qty,
		ExDest:     b.ExDest,
	}, nil
}

// resolve finds the parent for a cancel or replace through the original
// client order id, falling back to the request's own id, and indexes the
// new id against the same parent.
func (t *Translator) resolve(session, clOrdID, origClOrdID string) (string, error) {
	if session == "" || clOrdID == "" {
		return "", malformed("request without session or cl_ord_id")
	}
	key := origClOrdID
	if key == "" {
		key = clOrdID
	}
	parentID, ok := t.sessions.Lookup(session, key)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownOrder, session, key)
	}
	if clOrdID != key {
		t.sessions.PutIfAbsent(session, clOrdID, parentID)
	}
	return parentID, nil
}

// AdmitVenueFill reports whether (child, exec) is new to the window. A
// false answer means the fill is a redelivery and must be dropped before
// it reaches the child reducer.
func (t *Translator) AdmitVenueFill(childID, execID string) bool {
	k := fillKey{childID, execID}
	if t.fills.Contains(k) {
		return false
	}
	t.fills.Add(k, struct{}{})
	return true
}
