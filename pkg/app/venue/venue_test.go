package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/util"
)

const ref = 100_000_000 // 100.00

func newMarkets(t *testing.T) *market.Registry {
	t.Helper()
	reg := market.NewRegistry()
	p := market.DefaultEquity
	p.ReferencePx = ref
	in, err := market.NewInstrument("AAPL", p)
	require.NoError(t, err)
	require.NoError(t, reg.Register(in))
	return reg
}

func newVenue(t *testing.T, referenceFill bool) *Venue {
	return New(Config{
		ID:            "XNAS",
		Markets:       newMarkets(t),
		Clock:         util.NewManualClock(time.Unix(0, 0), time.Microsecond),
		IDs:           util.NewSequenceIDs("X"),
		ReferenceFill: referenceFill,
	})
}

func newChild(id string, side core.Side, ot core.OrdType, price, qty int64) core.NewChild {
	return core.NewChild{
		ParentID: "P-" + id, ChildID: id, ChildClOrdID: id + ".0",
		Instrument: "AAPL", Side: side, Qty: qty, OrdType: ot,
		PriceMicros: price, TIF: core.Day, VenueID: "XNAS",
	}
}

func TestRiskCheckRejects(t *testing.T) {
	v := newVenue(t, false)

	events := v.Execute(newChild("c1", core.Buy, core.Limit, 100_005_000, 10))
	require.Len(t, events, 1)
	rej, ok := events[0].(core.NewReject)
	require.True(t, ok)
	require.Equal(t, "risk", rej.Reason)
	require.Equal(t, "P-c1", rej.ParentID)

	unknown := newChild("c2", core.Buy, core.Market, 0, 10)
	unknown.Instrument = "MSFT"
	events = v.Execute(unknown)
	require.Len(t, events, 1)
	require.Equal(t, "unknown_instrument", events[0].(core.NewReject).Reason)

	events = v.Execute(core.ReplaceChild{ParentID: "P-c3", ChildID: "c3", Instrument: "MSFT", VenueID: "XNAS", NewQty: 5, NewPxMicros: ref})
	require.Len(t, events, 1)
	_, ok = events[0].(core.ReplaceReject)
	require.True(t, ok)
}

func TestHaltedInstrumentRejects(t *testing.T) {
	v := newVenue(t, false)
	require.NoError(t, v.markets.UpdateStatus("AAPL", market.Halted))

	events := v.Execute(newChild("c1", core.Buy, core.Market, 0, 10))
	require.Len(t, events, 1)
	_, ok := events[0].(core.NewReject)
	require.True(t, ok)
}

func TestReferenceFillOnEmptyBook(t *testing.T) {
	v := newVenue(t, true)

	events := v.Execute(newChild("c1", core.Buy, core.Market, 0, 25))
	require.Len(t, events, 2)
	ack, ok := events[0].(core.Ack)
	require.True(t, ok)
	fill, ok := events[1].(core.Fill)
	require.True(t, ok)
	require.Equal(t, ack.VenueOrderID, fill.VenueOrderID)
	require.Equal(t, int64(25), fill.LastQty)
	require.Equal(t, int64(ref), fill.LastPx)
	require.True(t, fill.IsFinal)

	// a limit below the reference price is not marketable and rests
	events = v.Execute(newChild("c2", core.Buy, core.Limit, 99_000_000, 10))
	require.Len(t, events, 1)
	_, ok = events[0].(core.Ack)
	require.True(t, ok)
	require.Len(t, v.Depth("AAPL", 5).Bids, 1)
}

func TestSeededLiquidityMatchesAndHidesMakerEvents(t *testing.T) {
	v := newVenue(t, true)
	_, err := v.Seed("AAPL", core.Sell, 100_500_000, 40)
	require.NoError(t, err)
	_, err = v.Seed("AAPL", core.Sell, 101_000_000, 60)
	require.NoError(t, err)

	events := v.Execute(newChild("c1", core.Buy, core.Market, 0, 50))
	var filled, notional int64
	for _, ev := range events {
		require.Equal(t, "P-c1", ev.Ref().ParentID)
		if f, ok := ev.(core.Fill); ok {
			filled += f.LastQty
			notional += f.LastQty * f.LastPx
		}
	}
	require.Equal(t, int64(50), filled)
	require.Equal(t, int64(100_600_000), core.VWAP(notional, filled))

	d := v.Depth("AAPL", 5)
	require.Empty(t, d.Bids)
	require.Len(t, d.Asks, 1)
	require.Equal(t, int64(50), d.Asks[0].Qty)
}

func TestSeedRefusesCrossingAndUnknown(t *testing.T) {
	v := newVenue(t, false)
	_, err := v.Seed("AAPL", core.Sell, 100_000_000, 10)
	require.NoError(t, err)
	_, err = v.Seed("AAPL", core.Buy, 100_000_000, 10)
	require.Error(t, err)
	_, err = v.Seed("MSFT", core.Buy, 100_000_000, 10)
	require.Error(t, err)
}

func TestStateHashTracksBook(t *testing.T) {
	a, b := newVenue(t, false), newVenue(t, false)
	require.Equal(t, a.StateHash(), b.StateHash())

	_, err := a.Seed("AAPL", core.Buy, 99_000_000, 10)
	require.NoError(t, err)
	require.NotEqual(t, a.StateHash(), b.StateHash())

	_, err = b.Seed("AAPL", core.Buy, 99_000_000, 10)
	require.NoError(t, err)
	require.Equal(t, a.StateHash(), b.StateHash())
}

func TestExchangeUnknownVenue(t *testing.T) {
	clk := util.NewManualClock(time.Unix(0, 0), time.Microsecond)
	x := NewExchange(clk, newVenue(t, false))
	require.Equal(t, []string{"XNAS"}, x.IDs())

	cmd := newChild("c1", core.Buy, core.Market, 0, 10)
	cmd.VenueID = "BATS"
	events := x.Execute(cmd)
	require.Len(t, events, 1)
	rej := events[0].(core.NewReject)
	require.Equal(t, "unknown_venue", rej.Reason)
	require.Equal(t, "c1", rej.ChildID)

	events = x.Execute(core.CancelChild{ParentID: "P-c1", ChildID: "c1", VenueID: "BATS"})
	_, ok := events[0].(core.CancelReject)
	require.True(t, ok)
}
