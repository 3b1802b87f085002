// Package pnl is the single source of truth for position and portfolio
// arithmetic. Every component that needs equity, position value, or
// unrealized P&L calls into this package; no caller recomputes the math
// inline.
package pnl

import (
	"math"

	"github.com/propdesk/propdesk/internal/domain"
)

// RawYesPrice is a YES-side probability exactly as read from the price
// cache, before any direction adjustment.
type RawYesPrice float64

// AdjustedPrice is a price expressed in a position's own direction-space:
// equal to the raw YES price for YES positions and 1 - raw for NO positions.
// Stored entry prices are always AdjustedPrice. The two types exist so the
// compiler rejects accidental mixing of the two spaces.
type AdjustedPrice float64

// Adjust converts a raw YES-side price into the given direction's space.
// Out-of-range input is passed through unchanged; validation is the
// caller's contract.
func Adjust(raw RawYesPrice, d domain.Direction) AdjustedPrice {
	if d == domain.DirectionNo {
		return AdjustedPrice(1 - float64(raw))
	}
	return AdjustedPrice(raw)
}

// SafeFloat maps NaN and infinities to the given fallback so an invalid
// float can never corrupt a monetary computation.
func SafeFloat(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
