// Package feeder produces synthetic order flow for the demo daemon and
// seeds venue books with passive liquidity.
package feeder

import (
	"fmt"
	"math/rand"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
)

// maxOpen bounds how many recent client ids the generator remembers as
// cancel/replace targets.
const maxOpen = 256

type openOrder struct {
	session  string
	clOrdID  string
	symbol   string
	side     core.Side
	qty      int64
	ordType  core.OrdType
	limitPx  int64
	revision int
}

// Generator creates random client requests against a fixed instrument set.
// Not safe for concurrent use.
type Generator struct {
	accounts    []string
	instruments []market.Instrument
	orderID     int
	rng         *rand.Rand
	open        []openOrder

	orders   int
	cancels  int
	replaces int
}

// NewGenerator builds a generator for numAccounts simulated traders. Only
// instruments with a reference price are traded. seed fixes the sequence.
func NewGenerator(numAccounts int, instruments []market.Instrument, seed int64) (*Generator, error) {
	var tradable []market.Instrument
	for _, in := range instruments {
		if in.ReferencePx > 0 {
			tradable = append(tradable, in)
		}
	}
	if len(tradable) == 0 {
		return nil, fmt.Errorf("no instrument has a reference price")
	}
	if numAccounts <= 0 {
		numAccounts = 1
	}

	accounts := make([]string, numAccounts)
	for i := 0; i < numAccounts; i++ {
		accounts[i] = fmt.Sprintf("trader_%d", i+1)
	}

	return &Generator{
		accounts:    accounts,
		instruments: tradable,
		orderID:     1,
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

// GenerateOrder creates a random new order. Limit prices sit within 2% of
// the reference price on the instrument's tick grid, inside the default
// collar.
func (g *Generator) GenerateOrder() core.BoundNew {
	account := g.accounts[g.rng.Intn(len(g.accounts))]
	in := g.instruments[g.rng.Intn(len(g.instruments))]

	side := core.Buy
	if g.rng.Intn(2) == 1 {
		side = core.Sell
	}

	// 75% LIMIT, 25% MARKET
	ordType := core.Limit
	if g.rng.Intn(100) >= 75 {
		ordType = core.Market
	}

	// 70% DAY, 20% IOC, 10% GTC
	tif := core.Day
	switch r := g.rng.Intn(100); {
	case r >= 90:
		tif = core.GTC
	case r >= 70:
		tif = core.IOC
	}

	var px int64
	if ordType == core.Limit {
		px = g.price(in)
	}
	lot := max(in.LotSize, 1)
	qty := (int64(g.rng.Intn(100)) + 1) * lot
	qty = max(qty, in.MinOrderSize)

	clOrdID := fmt.Sprintf("%s_o%d", account, g.orderID)
	g.orderID++
	g.orders++

	o := core.BoundNew{
		SessionKey:  "feed-" + account,
		ClOrdID:     clOrdID,
		AccountID:   account,
		AccountType: "synthetic",
		Instrument:  in.Symbol,
		Side:        side,
		Qty:         qty,
		OrdType:     ordType,
		LimitPx:     px,
		TIF:         tif,
	}
	if ordType == core.Limit && tif != core.IOC {
		g.remember(openOrder{session: o.SessionKey, clOrdID: clOrdID, symbol: in.Symbol, side: side, qty: qty, ordType: ordType, limitPx: px})
	}
	return o
}

// price draws a tick-aligned price within ±2% of the reference.
func (g *Generator) price(in market.Instrument) int64 {
	tick := max(in.TickSize, 1)
	band := in.ReferencePx / 50 / tick
	if band < 1 {
		band = 1
	}
	ref := in.ReferencePx / tick * tick
	px := ref + (g.rng.Int63n(2*band+1)-band)*tick
	if px < tick {
		px = tick
	}
	return px
}

func (g *Generator) remember(o openOrder) {
	if len(g.open) == maxOpen {
		g.open = g.open[1:]
	}
	g.open = append(g.open, o)
}

// pick removes and returns a random remembered order.
func (g *Generator) pick() (openOrder, bool) {
	if len(g.open) == 0 {
		return openOrder{}, false
	}
	i := g.rng.Intn(len(g.open))
	o := g.open[i]
	g.open = append(g.open[:i], g.open[i+1:]...)
	return o, true
}

// GenerateCancel cancels a previously generated resting order. ok is false
// when none is remembered.
func (g *Generator) GenerateCancel() (core.BoundCancel, bool) {
	o, ok := g.pick()
	if !ok {
		return core.BoundCancel{}, false
	}
	g.cancels++
	return core.BoundCancel{
		SessionKey:  o.session,
		ClOrdID:     fmt.Sprintf("%s_c%d", o.clOrdID, o.revision+1),
		OrigClOrdID: o.clOrdID,
		Instrument:  o.symbol,
		Side:        o.side,
	}, true
}

// GenerateReplace moves a previously generated order by one tick and
// grows it by up to 50%. The replaced order stays a target under its new id.
func (g *Generator) GenerateReplace() (core.BoundReplace, bool) {
	o, ok := g.pick()
	if !ok {
		return core.BoundReplace{}, false
	}
	in := g.instrument(o.symbol)
	tick := max(in.TickSize, 1)
	newPx := o.limitPx + tick*int64(g.rng.Intn(3)-1)
	if newPx < tick {
		newPx = tick
	}
	newQty := o.qty + o.qty*int64(g.rng.Intn(51))/100

	o.revision++
	r := core.BoundReplace{
		SessionKey:  o.session,
		ClOrdID:     fmt.Sprintf("%s_r%d", o.clOrdID, o.revision),
		OrigClOrdID: o.clOrdID,
		Instrument:  o.symbol,
		Side:        o.side,
		Qty:         newQty,
		LimitPx:     newPx,
	}
	g.replaces++
	g.remember(openOrder{session: o.session, clOrdID: r.ClOrdID, symbol: o.symbol, side: o.side, qty: newQty, ordType: o.ordType, limitPx: newPx, revision: o.revision})
	return r, true
}

func (g *Generator) instrument(symbol string) market.Instrument {
	for _, in := range g.instruments {
		if in.Symbol == symbol {
			return in
		}
	}
	return market.Instrument{}
}

// GenerateMix creates one request: 85% new orders, 10% cancels, 5%
// replaces. Falls back to a new order when nothing is open.
func (g *Generator) GenerateMix() any {
	switch r := g.rng.Intn(100); {
	case r >= 95:
		if rp, ok := g.GenerateReplace(); ok {
			return rp
		}
	case r >= 85:
		if c, ok := g.GenerateCancel(); ok {
			return c
		}
	}
	return g.GenerateOrder()
}

// GenerateBatch creates count requests; mixed selects GenerateMix over
// plain new orders.
func (g *Generator) GenerateBatch(count int, mixed bool) []any {
	batch := make([]any, count)
	for i := 0; i < count; i++ {
		if mixed {
			batch[i] = g.GenerateMix()
		} else {
			batch[i] = g.GenerateOrder()
		}
	}
	return batch
}

type Stats struct {
	Orders   int
	Cancels  int
	Replaces int
}

func (g *Generator) Stats() Stats {
	return Stats{Orders: g.orders, Cancels: g.cancels, Replaces: g.replaces}
}
