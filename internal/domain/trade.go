package domain

import "time"

// TradeType is the order action.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// Trade is an immutable execution record. Rows are never mutated after
// insert and serve as the ground truth for reconciliation.
type Trade struct {
	ID          string
	ChallengeID string
	PositionID  string
	MarketID    string
	Type        TradeType
	Direction   Direction
	// Price is the direction-adjusted fill price.
	Price      float64
	CashAmount float64
	Shares     float64
	// RealizedPnL is set on SELL fills only.
	RealizedPnL float64
	// BalanceAfter is the challenge cash balance after the fill settled.
	BalanceAfter float64
	CreatedAt    time.Time
}

// Fill is the executor's computed result of simulating one order, handed to
// the execution ledger to be applied atomically.
type Fill struct {
	ChallengeID string
	UserID      string
	MarketID    string
	Type        TradeType
	Direction   Direction
	// Price is the volume-weighted, slippage-adjusted fill price in the
	// trade's direction-space.
	Price float64
	// Shares bought or sold at Price.
	Shares float64
	// CashAmount is the cash debited (BUY) or notional requested (SELL).
	CashAmount float64
}
