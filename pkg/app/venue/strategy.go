package venue

import (
	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// Strategy gets a look at every command reaching a venue. Returning no
// events passes the command to the next strategy.
type Strategy interface {
	Name() string
	Handle(cmd core.VenueCommand) []core.VenueEvent
}

// Chain runs strategies in order; the first non-empty answer wins.
type Chain []Strategy

func (c Chain) Execute(cmd core.VenueCommand) (string, []core.VenueEvent) {
	for _, s := range c {
		if events := s.Handle(cmd); len(events) > 0 {
			return s.Name(), events
		}
	}
	return "", nil
}

func refFor(cmd core.VenueCommand, venueID string, ts int64) core.VenueRef {
	r := core.VenueRef{VenueID: venueID, ChildID: cmd.Child(), TsNanos: ts}
	switch c := cmd.(type) {
	case core.NewChild:
		r.ParentID, r.ChildClOrdID = c.ParentID, c.ChildClOrdID
	case core.CancelChild:
		r.ParentID, r.ChildClOrdID, r.VenueOrderID = c.ParentID, c.ChildClOrdID, c.VenueOrderID
	case core.ReplaceChild:
		r.ParentID, r.ChildClOrdID, r.VenueOrderID = c.ParentID, c.ChildClOrdID, c.VenueOrderID
	}
	return r
}

// rejectFor builds the rejection matching the command's kind.
func rejectFor(cmd core.VenueCommand, venueID string, ts int64, reason, text string) core.VenueEvent {
	ref := refFor(cmd, venueID, ts)
	switch cmd.(type) {
	case core.CancelChild:
		return core.CancelReject{VenueRef: ref, Reason: reason, Text: text}
	case core.ReplaceChild:
		return core.ReplaceReject{VenueRef: ref, Reason: reason, Text: text}
	default:
		return core.NewReject{VenueRef: ref, Reason: reason, Text: text}
	}
}

// RiskCheck rejects orders the instrument's reference data does not allow.
type RiskCheck struct {
	venueID string
	markets *market.Registry
	clock   util.Clock
}

func NewRiskCheck(venueID string, markets *market.Registry, clock util.Clock) *RiskCheck {
	return &RiskCheck{venueID: venueID, markets: markets, clock: clock}
}

func (*RiskCheck) Name() string { return "risk_check" }

func (r *RiskCheck) Handle(cmd core.VenueCommand) []core.VenueEvent {
	reject := func(reason string, err error) []core.VenueEvent {
		return []core.VenueEvent{rejectFor(cmd, r.venueID, r.clock.MonoNanos(), reason, err.Error())}
	}
	switch c := cmd.(type) {
	case core.NewChild:
		in, err := r.markets.Get(c.Instrument)
		if err != nil {
			return reject("unknown_instrument", err)
		}
		if !c.Side.Valid() {
			return reject("invalid_side", core.ErrInvalidOrder)
		}
		if err := in.ValidateOrder(c.OrdType, c.PriceMicros, c.Qty); err != nil {
			return reject("risk", err)
		}
	case core.CancelChild:
		if _, err := r.markets.Get(c.Instrument); err != nil {
			return reject("unknown_instrument", err)
		}
	case core.ReplaceChild:
		in, err := r.markets.Get(c.Instrument)
		if err != nil {
			return reject("unknown_instrument", err)
		}
		if err := in.ValidateOrder(core.Limit, c.NewPxMicros, c.NewQty); err != nil {
			return reject("risk", err)
		}
	}
	return nil
}

// ReferenceFill fills a marketable new order in full at the instrument's
// reference price when the book has nothing on the contra side. It stands
// in for liquidity the simulated venue does not model.
type ReferenceFill struct {
	venueID   string
	markets   *market.Registry
	hasContra func(instrument string, side core.Side) bool
	clock     util.Clock
	ids       util.IDAllocator
}

func (*ReferenceFill) Name() string { return "reference_fill" }

func (f *ReferenceFill) Handle(cmd core.VenueCommand) []core.VenueEvent {
	c, ok := cmd.(core.NewChild)
	if !ok {
		return nil
	}
	in, err := f.markets.Get(c.Instrument)
	if err != nil || in.ReferencePx <= 0 {
		return nil
	}
	if f.hasContra(c.Instrument, c.Side) {
		return nil
	}
	ref := in.ReferencePx
	marketable := c.OrdType == core.Market ||
		(c.Side == core.Buy && c.PriceMicros >= ref) ||
		(c.Side == core.Sell && c.PriceMicros <= ref)
	if !marketable {
		return nil
	}

	r := refFor(cmd, f.venueID, f.clock.MonoNanos())
	r.VenueOrderID = f.ids.Next()
	return []core.VenueEvent{
		core.Ack{VenueRef: r},
		core.Fill{
			VenueRef:  r,
			ExecID:    f.ids.Next(),
			LastQty:   c.Qty,
			LastPx:    ref,
			CumQty:    c.Qty,
			IsFinal:   true,
			Liquidity: core.Taker,
		},
	}
}

// engineStrategy hands everything left to the instrument's matching engine.
type engineStrategy struct {
	v *Venue
}

func (engineStrategy) Name() string { return "matching_engine" }

func (s engineStrategy) Handle(cmd core.VenueCommand) []core.VenueEvent {
	switch c := cmd.(type) {
	case core.NewChild:
		return s.v.engine(c.Instrument).New(c)
	case core.CancelChild:
		return s.v.engine(c.Instrument).Cancel(c)
	case core.ReplaceChild:
		return s.v.engine(c.Instrument).Replace(c)
	}
	return nil
}
