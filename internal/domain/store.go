package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionClose describes the force-close of one open position during a
// breach or pass transition. Prices are direction-adjusted.
type PositionClose struct {
	PositionID  string
	ClosePrice  float64
	Proceeds    float64
	RealizedPnL float64
}

// ChallengeStore persists challenge accounts and applies their state
// transitions.
//
// MarkFailed and Promote are conditional: the status/phase write carries a
// "WHERE status='active'" guard so that concurrent writers (trade-path
// evaluator vs background monitor) produce exactly one transition. Both
// return false when the guard did not match, which callers treat as a
// harmless no-op. Both force-close the given positions, credit proceeds,
// and append the audit entry inside the same transaction.
type ChallengeStore interface {
	Create(ctx context.Context, ch Challenge) error
	GetByID(ctx context.Context, id string) (Challenge, error)
	ListActive(ctx context.Context) ([]Challenge, error)

	// EnsureDailyReset idempotently rolls start_of_day_balance forward when
	// a new UTC day has begun, and returns the fresh row.
	EnsureDailyReset(ctx context.Context, id string, now time.Time) (Challenge, error)

	// UpdateHighWaterMark advances the high-water mark, never lowering it.
	UpdateHighWaterMark(ctx context.Context, id string, equity float64) error

	MarkFailed(ctx context.Context, id string, closes []PositionClose, detail map[string]any) (bool, error)
	Promote(ctx context.Context, id string, closes []PositionClose, detail map[string]any) (bool, error)
}

// ExecutionLedger applies a simulated fill atomically: position open /
// average-in / partial close, cash balance mutation, and the immutable trade
// record, all inside a single transaction serialized on the challenge row.
type ExecutionLedger interface {
	ApplyFill(ctx context.Context, f Fill) (Trade, error)
}

// PositionStore persists positions.
type PositionStore interface {
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenByChallenge(ctx context.Context, challengeID string) ([]Position, error)
	ListHistory(ctx context.Context, challengeID string, opts ListOpts) ([]Position, error)
}

// TradeStore persists the immutable trade ledger.
type TradeStore interface {
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByChallenge(ctx context.Context, challengeID string, opts ListOpts) ([]Trade, error)
	// CountSince counts a challenge's trades in the sliding window starting
	// at since, for the trade-frequency limit.
	CountSince(ctx context.Context, challengeID string, since time.Time) (int, error)
	// ListBefore returns trades older than the cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// MarketStore persists market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// ListByEvent returns all sibling markets sharing the given event.
	ListByEvent(ctx context.Context, eventID string) ([]Market, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	TargetID  string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event, targetID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListBefore returns entries older than the cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
