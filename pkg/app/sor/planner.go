package sor

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// ErrNoVenue means neither the intent nor configuration names a venue.
var ErrNoVenue = errors.New("no venue available")

// Planner sizes and places children for a routing intent.
type Planner struct {
	venues       map[string]bool
	defaultVenue string
	ids          util.IDAllocator

	sliceQty    int64
	maxChildren int
}

func NewPlanner(venues []string, defaultVenue string, ids util.IDAllocator) *Planner {
	known := make(map[string]bool, len(venues))
	for _, v := range venues {
		known[v] = true
	}
	if defaultVenue == "" && len(venues) > 0 {
		defaultVenue = venues[0]
	}
	return &Planner{venues: known, defaultVenue: defaultVenue, ids: ids}
}

// WithSlicing splits parents into children of at most sliceQty, up to
// maxChildren live at once, when the intent does not size them itself.
func (p *Planner) WithSlicing(sliceQty int64, maxChildren int) *Planner {
	p.sliceQty = sliceQty
	p.maxChildren = maxChildren
	return p
}

// pickVenue prefers the client's destination hint, then the intent's
// candidates in order, then the configured default.
func (p *Planner) pickVenue(ri core.RoutingIntent) (string, error) {
	if ri.ExDest != "" && p.venues[ri.ExDest] {
		return ri.ExDest, nil
	}
	for _, v := range ri.CandidateVenues {
		if p.venues[v] {
			return v, nil
		}
	}
	if p.defaultVenue != "" {
		return p.defaultVenue, nil
	}
	return "", ErrNoVenue
}

// Plan returns the new-child intents needed to work ri's open quantity,
// given the children the parent already has. Every child's executed
// quantity and every live child's leaves count against the quantity still to
// place; live children also count against MaxParallelChildren. FOK intents
// are never sliced.
func (p *Planner) Plan(ri core.RoutingIntent, existing []ChildState) ([]NewChildIntent, error) {
	venue, err := p.pickVenue(ri)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", ri.ParentID, err)
	}

	live := 0
	remaining := ri.Qty
	for _, c := range existing {
		remaining -= c.CumQty
		if c.IsLive() {
			live++
			remaining -= c.LeavesQty
		}
	}
	remaining = min(remaining, ri.LeavesQty)
	maxChildren := max(ri.MaxParallelChildren, p.maxChildren, 1)
	size := remaining
	slice := ri.TargetChildQty
	if slice <= 0 {
		slice = p.sliceQty
	}
	if slice > 0 && slice < size && ri.TIF != core.FOK {
		size = slice
	}

	var out []NewChildIntent
	for remaining > 0 && live < maxChildren {
		q := min(size, remaining)
		childID := p.ids.Next()
		out = append(out, NewChildIntent{
			ParentID:     ri.ParentID,
			ChildID:      childID,
			ChildClOrdID: childID + "." + strconv.Itoa(ri.IntentRevision),
			AccountID:    ri.AccountID,
			Instrument:   ri.Instrument,
			Side:         ri.Side,
			Qty:          q,
			OrdType:      ri.OrdType,
			PriceMicros:  ri.LimitPx,
			TIF:          ri.TIF,
			VenueID:      venue,
			TsNanos:      ri.TsNanos,
		})
		remaining -= q
		live++
	}
	return out, nil
}
