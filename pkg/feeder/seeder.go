package feeder

import (
	"fmt"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
)

// Seedable accepts passive liquidity outside the order path.
type Seedable interface {
	ID() string
	Seed(instrument string, side core.Side, px, qty int64) (string, error)
}

// Ladder describes the resting liquidity placed around the reference price.
type Ladder struct {
	Levels      int   // per side
	SpacingTick int64 // ticks between levels; the first level sits one spacing away
	QtyPerLevel int64
}

func DefaultLadder() Ladder {
	return Ladder{Levels: 5, SpacingTick: 5, QtyPerLevel: 500}
}

// SeedBooks places a symmetric ladder on every venue for every instrument
// with a reference price. It returns how many orders rested.
func SeedBooks(l Ladder, instruments []market.Instrument, venues ...Seedable) (int, error) {
	n := 0
	for _, v := range venues {
		for _, in := range instruments {
			if in.ReferencePx <= 0 {
				continue
			}
			tick := max(in.TickSize, 1)
			ref := in.ReferencePx / tick * tick
			for k := int64(1); k <= int64(l.Levels); k++ {
				off := k * l.SpacingTick * tick
				if ref-off > 0 {
					if _, err := v.Seed(in.Symbol, core.Buy, ref-off, l.QtyPerLevel); err != nil {
						return n, fmt.Errorf("venue %s: %w", v.ID(), err)
					}
					n++
				}
				if _, err := v.Seed(in.Symbol, core.Sell, ref+off, l.QtyPerLevel); err != nil {
					return n, fmt.Errorf("venue %s: %w", v.ID(), err)
				}
				n++
			}
		}
	}
	return n, nil
}
