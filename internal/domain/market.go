package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is the metadata the risk engine needs about a prediction market.
// The price itself lives in the price cache, not here.
type Market struct {
	ID       string
	Question string
	// EventID groups sibling markets that settle on the same real-world
	// event, for aggregate exposure limits.
	EventID string
	// Category is the upstream classification; empty means the risk engine
	// infers one from the question text.
	Category    string
	Volume24h   float64
	VolumeTotal float64
	Status      MarketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
