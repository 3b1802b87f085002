package domain

import "time"

// Direction is the side of a prediction market a position is exposed to.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is one open or closed exposure to a single market in a single
// direction.
//
// EntryPrice is stored in the position's own direction-space: for NO
// positions it is 1 - yesPriceAtEntry, not the raw YES price. Every P&L
// computation relies on this convention; mixing raw and adjusted prices
// inverts the sign of NO-side P&L.
type Position struct {
	ID          string
	ChallengeID string
	MarketID    string
	Direction   Direction
	Shares      float64
	EntryPrice  float64 // direction-adjusted
	// CurrentPrice is the last observed direction-adjusted price,
	// informational only.
	CurrentPrice float64
	// SizeAmount is the cash committed to the position.
	SizeAmount float64
	Status     PositionStatus
	// PnL is realized profit, booked on partial and full closes.
	PnL         float64
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ClosedPrice *float64
}
