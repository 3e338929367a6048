// Package venue simulates execution venues. Each venue runs commands through
// a strategy chain (risk check, reference fill, matching engine) and answers
// with venue events.
package venue

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/app/core/matching"
	"github.com/uhyunpark/orderflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/orderflow/pkg/util"
)

type Config struct {
	ID      string
	Markets *market.Registry
	Clock   util.Clock
	IDs     util.IDAllocator
	Logger  *zap.SugaredLogger

	// ReferenceFill enables fills at the instrument reference price when
	// the book is empty on the contra side.
	ReferenceFill bool
}

type Venue struct {
	id      string
	markets *market.Registry
	clock   util.Clock
	ids     util.IDAllocator
	log     *zap.SugaredLogger
	chain   Chain

	// The pipeline is the only writer; mu exists so API readers can take
	// depth snapshots while it runs.
	mu      sync.RWMutex
	engines map[string]*matching.Engine
}

func New(cfg Config) *Venue {
	v := &Venue{
		id:      cfg.ID,
		markets: cfg.Markets,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		log:     util.OrNop(cfg.Logger).With("venue", cfg.ID),
		engines: make(map[string]*matching.Engine),
	}
	v.chain = Chain{NewRiskCheck(cfg.ID, cfg.Markets, cfg.Clock)}
	if cfg.ReferenceFill {
		v.chain = append(v.chain, &ReferenceFill{
			venueID:   cfg.ID,
			markets:   cfg.Markets,
			hasContra: v.hasContra,
			clock:     cfg.Clock,
			ids:       cfg.IDs,
		})
	}
	v.chain = append(v.chain, engineStrategy{v: v})
	return v
}

func (v *Venue) ID() string { return v.id }

func (v *Venue) engine(instrument string) *matching.Engine {
	if e, ok := v.engines[instrument]; ok {
		return e
	}
	e := matching.NewEngine(v.id, instrument, v.clock, v.ids)
	v.engines[instrument] = e
	return e
}

// hasContra reports resting liquidity opposite side. Callers hold mu.
func (v *Venue) hasContra(instrument string, side core.Side) bool {
	e, ok := v.engines[instrument]
	if !ok {
		return false
	}
	_, ok = e.Book().BestPrice(side.Opposite())
	return ok
}

// Execute runs one command through the chain. Events for seeded liquidity
// have no parent and are dropped here.
func (v *Venue) Execute(cmd core.VenueCommand) []core.VenueEvent {
	v.mu.Lock()
	defer v.mu.Unlock()

	by, events := v.chain.Execute(cmd)
	out := events[:0]
	for _, ev := range events {
		if ev.Ref().ParentID == "" {
			continue
		}
		out = append(out, ev)
	}
	v.log.Debugw("venue_execute", "strategy", by, "child", cmd.Child(), "events", len(out))
	return out
}

// Seed rests passive liquidity that belongs to no parent order.
func (v *Venue) Seed(instrument string, side core.Side, px, qty int64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.markets.Exists(instrument) {
		return "", fmt.Errorf("seed %s: unknown instrument", instrument)
	}
	owner := "lp-" + v.ids.Next()
	id, ok := v.engine(instrument).Rest(owner, side, px, qty)
	if !ok {
		return "", fmt.Errorf("seed %s %s %d@%d: rejected", instrument, side, qty, px)
	}
	return id, nil
}

type Depth struct {
	Venue      string                 `json:"venue"`
	Instrument string                 `json:"instrument"`
	Bids       []orderbook.PriceLevel `json:"bids"`
	Asks       []orderbook.PriceLevel `json:"asks"`
}

func (v *Venue) Depth(instrument string, levels int) Depth {
	v.mu.RLock()
	defer v.mu.RUnlock()

	d := Depth{Venue: v.id, Instrument: instrument, Bids: []orderbook.PriceLevel{}, Asks: []orderbook.PriceLevel{}}
	if e, ok := v.engines[instrument]; ok {
		d.Bids = e.Book().Levels(core.Buy, levels)
		d.Asks = e.Book().Levels(core.Sell, levels)
	}
	return d
}

// StateHash digests every book on the venue: instruments sorted, then bid
// levels best first, then ask levels best first.
func (v *Venue) StateHash() [32]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()

	h := sha256.New()
	h.Write([]byte(v.id))

	syms := make([]string, 0, len(v.engines))
	for s := range v.engines {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	var buf [8]byte
	put := func(n int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	for _, s := range syms {
		h.Write([]byte(s))
		book := v.engines[s].Book()
		for _, side := range []core.Side{core.Buy, core.Sell} {
			for _, lvl := range book.Levels(side, 0) {
				put(lvl.Price)
				put(lvl.Qty)
			}
			h.Write([]byte{0})
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
