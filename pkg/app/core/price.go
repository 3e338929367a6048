package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Prices are int64 micros: 1 currency unit = 1_000_000.
const MicrosPerUnit = 1_000_000

var microsScale = decimal.New(1, 6)

// ParsePrice converts a decimal string ("100.50") into micros. Precision
// finer than one micro is rejected rather than rounded.
func ParsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	m := d.Mul(microsScale)
	if !m.Equal(m.Truncate(0)) {
		return 0, fmt.Errorf("price %q finer than 1e-6", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("price %q is negative", s)
	}
	return m.IntPart(), nil
}

// FormatPrice renders micros as a decimal string with trailing zeros trimmed.
func FormatPrice(micros int64) string {
	return decimal.New(micros, -6).String()
}

// VWAP returns notional/qty rounded half-up. notional is the exact sum of
// px*qty over all fills, so repeated averaging never drifts.
func VWAP(notional, qty int64) int64 {
	if qty <= 0 {
		return 0
	}
	return (2*notional + qty) / (2 * qty)
}
