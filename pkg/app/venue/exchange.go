package venue

import (
	"sort"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// Exchange routes commands to the venue they name.
type Exchange struct {
	venues map[string]*Venue
	clock  util.Clock
}

func NewExchange(clock util.Clock, venues ...*Venue) *Exchange {
	x := &Exchange{venues: make(map[string]*Venue, len(venues)), clock: clock}
	for _, v := range venues {
		x.venues[v.ID()] = v
	}
	return x
}

// Execute answers a command for an unknown venue with the matching reject.
func (x *Exchange) Execute(cmd core.VenueCommand) []core.VenueEvent {
	v, ok := x.venues[cmd.Venue()]
	if !ok {
		return []core.VenueEvent{rejectFor(cmd, cmd.Venue(), x.clock.MonoNanos(), "unknown_venue", "no venue "+cmd.Venue())}
	}
	return v.Execute(cmd)
}

func (x *Exchange) Venue(id string) (*Venue, bool) {
	v, ok := x.venues[id]
	return v, ok
}

func (x *Exchange) IDs() []string {
	ids := make([]string, 0, len(x.venues))
	for id := range x.venues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
