package market

import (
	"fmt"

	"github.com/uhyunpark/orderflow/pkg/app/core"
)

// Status is the trading state of an instrument.
type Status int8

const (
	Active Status = iota // Trading enabled
	Halted               // No new orders; cancels still accepted
	Closed               // Delisted / session over
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Halted:
		return "Halted"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Instrument is static reference data for one tradable symbol.
type Instrument struct {
	Symbol string
	Status Status

	// TickSize is the minimum price increment in micros (10_000 = $0.01).
	TickSize int64
	// LotSize is the share increment; quantities must be multiples of it.
	LotSize int64

	MinOrderSize int64
	MaxOrderSize int64

	// ReferencePx anchors the price collar and the reference-fill strategy.
	// 0 disables both.
	ReferencePx int64
	// CollarBps rejects limit prices further than this from ReferencePx.
	// 0 disables the collar.
	CollarBps int64
}

// Params configures a new instrument.
type Params struct {
	TickSize     int64
	LotSize      int64
	MinOrderSize int64
	MaxOrderSize int64
	ReferencePx  int64
	CollarBps    int64
}

// DefaultEquity is a US-equity style instrument: penny ticks, single shares.
var DefaultEquity = Params{
	TickSize:     10_000,
	LotSize:      1,
	MinOrderSize: 1,
	MaxOrderSize: 1_000_000,
	CollarBps:    1_000, // 10%
}

func NewInstrument(symbol string, p Params) (*Instrument, error) {
	in := &Instrument{
		Symbol:       symbol,
		Status:       Active,
		TickSize:     p.TickSize,
		LotSize:      p.LotSize,
		MinOrderSize: p.MinOrderSize,
		MaxOrderSize: p.MaxOrderSize,
		ReferencePx:  p.ReferencePx,
		CollarBps:    p.CollarBps,
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument params: %w", err)
	}
	return in, nil
}

// Validate checks parameter sanity.
func (in *Instrument) Validate() error {
	if in.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if in.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive")
	}
	if in.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	if in.MinOrderSize <= 0 || in.MaxOrderSize <= 0 {
		return fmt.Errorf("order size limits must be positive")
	}
	if in.MinOrderSize > in.MaxOrderSize {
		return fmt.Errorf("min order size cannot exceed max order size")
	}
	if in.ReferencePx < 0 || in.CollarBps < 0 {
		return fmt.Errorf("reference price and collar cannot be negative")
	}
	return nil
}

// ValidateOrderSize checks lot alignment and size limits.
func (in *Instrument) ValidateOrderSize(qty int64) error {
	if qty%in.LotSize != 0 {
		return fmt.Errorf("order size %d not a multiple of lot %d", qty, in.LotSize)
	}
	if qty < in.MinOrderSize {
		return fmt.Errorf("order size %d below minimum %d", qty, in.MinOrderSize)
	}
	if qty > in.MaxOrderSize {
		return fmt.Errorf("order size %d exceeds maximum %d", qty, in.MaxOrderSize)
	}
	return nil
}

// ValidatePrice checks tick alignment and the reference collar.
func (in *Instrument) ValidatePrice(px int64) error {
	if px <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if px%in.TickSize != 0 {
		return fmt.Errorf("price %s not on tick %s", core.FormatPrice(px), core.FormatPrice(in.TickSize))
	}
	if in.ReferencePx > 0 && in.CollarBps > 0 {
		band := in.ReferencePx * in.CollarBps / 10_000
		if px < in.ReferencePx-band || px > in.ReferencePx+band {
			return fmt.Errorf("price %s outside collar %s±%dbps",
				core.FormatPrice(px), core.FormatPrice(in.ReferencePx), in.CollarBps)
		}
	}
	return nil
}

// ValidateOrder performs all order validations. Market orders skip price checks.
func (in *Instrument) ValidateOrder(ordType core.OrdType, px, qty int64) error {
	if in.Status != Active {
		return fmt.Errorf("instrument %s is not active (status: %s)", in.Symbol, in.Status)
	}
	if err := in.ValidateOrderSize(qty); err != nil {
		return err
	}
	if ordType == core.Market {
		return nil
	}
	return in.ValidatePrice(px)
}
