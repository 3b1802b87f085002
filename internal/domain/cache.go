package domain

import (
	"context"
	"time"
)

// PriceSource reads live YES-side probabilities from the price cache that an
// out-of-scope ingestion worker keeps populated. Prices are raw YES
// probabilities in (0,1). A missing price is signalled by absence from the
// batch result (GetPrices) or ok=false (GetPrice), never by an error.
type PriceSource interface {
	GetPrice(ctx context.Context, marketID string) (price float64, ok bool, err error)
	// GetPrices batch-fetches prices for many markets in one round trip.
	// Markets with no cached price are omitted from the result map.
	GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error)
}

// PriceWriter is the ingestion-side interface, exposed so tests and backfill
// tooling can seed the cache.
type PriceWriter interface {
	SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error
}

// BookLevel is a single price+size entry in an order book.
type BookLevel struct {
	Price float64 // raw YES-side price
	Size  float64 // shares available at Price
}

// BookSnapshot is the YES-side order book for a market. Prediction markets
// have one native book; NO-side orders are expressed against it.
type BookSnapshot struct {
	MarketID  string
	Bids      []BookLevel // descending price
	Asks      []BookLevel // ascending price
	Timestamp time.Time
}

// BookCache stores live order book snapshots.
type BookCache interface {
	SetSnapshot(ctx context.Context, marketID string, snap BookSnapshot) error
	// GetSnapshot returns ok=false when no book is cached for the market.
	GetSnapshot(ctx context.Context, marketID string) (BookSnapshot, bool, error)
}
