package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propdesk/propdesk/internal/domain"
)

// fundedProfitSplit is the trader's share of funded-phase profits.
const fundedProfitSplit = 0.80

const challengeColumns = `
	id, user_id, phase, status,
	starting_balance, current_balance, start_of_day_balance, last_daily_reset,
	high_water_mark, rules, profit_split, payout_cap, payout_cycle_start,
	active_trading_days, last_activity_at, created_at, updated_at`

// ChallengeStore implements domain.ChallengeStore on PostgreSQL.
type ChallengeStore struct {
	pool *pgxpool.Pool
}

// NewChallengeStore creates a ChallengeStore backed by the given pool.
func NewChallengeStore(client *Client) *ChallengeStore {
	return &ChallengeStore{pool: client.Pool()}
}

// Create inserts a new challenge row.
func (s *ChallengeStore) Create(ctx context.Context, ch domain.Challenge) error {
	rules, err := json.Marshal(ch.Rules)
	if err != nil {
		return fmt.Errorf("postgres: marshal rules: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO challenges (
			id, user_id, phase, status,
			starting_balance, current_balance, start_of_day_balance, last_daily_reset,
			high_water_mark, rules, profit_split, payout_cap,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`,
		ch.ID, ch.UserID, ch.Phase, ch.Status,
		ch.StartingBalance, ch.CurrentBalance, ch.StartOfDayBalance, ch.LastDailyReset,
		ch.HighWaterMark, rules, ch.ProfitSplit, ch.PayoutCap,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert challenge: %w", err)
	}
	return nil
}

// GetByID fetches a single challenge.
func (s *ChallengeStore) GetByID(ctx context.Context, id string) (domain.Challenge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)

	ch, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Challenge{}, domain.ErrNotFound
		}
		return domain.Challenge{}, fmt.Errorf("postgres: get challenge: %w", err)
	}
	return ch, nil
}

// ListActive returns every challenge the monitor must evaluate.
func (s *ChallengeStore) ListActive(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE status = $1 ORDER BY created_at`,
		domain.ChallengeStatusActive)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan challenge: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// EnsureDailyReset rolls start_of_day_balance forward to the current cash
// balance when a new UTC day has begun. The WHERE guard makes concurrent
// callers idempotent; the fresh row is returned either way.
func (s *ChallengeStore) EnsureDailyReset(ctx context.Context, id string, now time.Time) (domain.Challenge, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET start_of_day_balance = current_balance,
		    last_daily_reset = date_trunc('day', $2::timestamptz),
		    updated_at = NOW()
		WHERE id = $1
		  AND date_trunc('day', last_daily_reset) < date_trunc('day', $2::timestamptz)`,
		id, now.UTC(),
	)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("postgres: daily reset: %w", err)
	}
	return s.GetByID(ctx, id)
}

// UpdateHighWaterMark advances the funded-phase high-water mark. The guard
// ensures it only ever moves up.
func (s *ChallengeStore) UpdateHighWaterMark(ctx context.Context, id string, equity float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET high_water_mark = $2, updated_at = NOW()
		WHERE id = $1 AND high_water_mark < $2`,
		id, equity,
	)
	if err != nil {
		return fmt.Errorf("postgres: update high-water mark: %w", err)
	}
	return nil
}

// MarkFailed transitions an active challenge to failed, force-closes the
// given positions, credits their proceeds, and appends the audit entry, all
// in one transaction. Returns false when another writer already transitioned
// the challenge.
func (s *ChallengeStore) MarkFailed(ctx context.Context, id string, closes []domain.PositionClose, detail map[string]any) (bool, error) {
	return s.transition(ctx, id, closes, "challenge_failed", detail, func(tx pgx.Tx) (bool, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE challenges
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3`,
			id, domain.ChallengeStatusFailed, domain.ChallengeStatusActive,
		)
		if err != nil {
			return false, fmt.Errorf("postgres: mark failed: %w", err)
		}
		return tag.RowsAffected() > 0, nil
	})
}

// Promote transitions an active challenge-phase account to the funded phase:
// positions are force-closed, then balances, start-of-day anchor, and
// high-water mark all reset to the starting balance and a payout cycle
// opens. Returns false when the guard did not match.
func (s *ChallengeStore) Promote(ctx context.Context, id string, closes []domain.PositionClose, detail map[string]any) (bool, error) {
	return s.transition(ctx, id, closes, "challenge_passed", detail, func(tx pgx.Tx) (bool, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE challenges
			SET phase = $2,
			    current_balance = starting_balance,
			    start_of_day_balance = starting_balance,
			    high_water_mark = starting_balance,
			    profit_split = $3,
			    payout_cycle_start = NOW(),
			    active_trading_days = 0,
			    updated_at = NOW()
			WHERE id = $1 AND status = $4 AND phase <> $2`,
			id, domain.PhaseFunded, fundedProfitSplit, domain.ChallengeStatusActive,
		)
		if err != nil {
			return false, fmt.Errorf("postgres: promote: %w", err)
		}
		return tag.RowsAffected() > 0, nil
	})
}

// transition runs a guarded status/phase write plus its side effects in a
// single transaction. apply performs the guarded update and reports whether
// the guard matched; on false the whole transaction rolls back untouched.
func (s *ChallengeStore) transition(
	ctx context.Context,
	id string,
	closes []domain.PositionClose,
	event string,
	detail map[string]any,
	apply func(tx pgx.Tx) (bool, error),
) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin transition: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	applied, err := apply(tx)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if err := closePositions(ctx, tx, id, closes, event == "challenge_failed"); err != nil {
		return false, err
	}

	if err := insertAudit(ctx, tx, event, id, detail); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit transition: %w", err)
	}
	return true, nil
}

// closePositions force-closes the listed positions at their computed close
// prices. The caller's snapshot may be stale: a concurrent fill can close or
// resize a position between the evaluator's read and this transaction, with
// its proceeds already settled into the cash balance by the ledger. Each
// position is therefore re-read under the row lock, skipped when no longer
// open, and valued at its current share count, never at the snapshot's. On
// failure the proceeds are credited to the cash balance so the final balance
// reflects the detecting equity; on promotion the balance is reset
// separately, so no credit happens here.
func closePositions(ctx context.Context, tx pgx.Tx, challengeID string, closes []domain.PositionClose, creditProceeds bool) error {
	var proceeds float64
	for _, c := range closes {
		var shares, entry float64
		err := tx.QueryRow(ctx, `
			SELECT shares, entry_price FROM positions
			WHERE id = $1 AND status = $2
			FOR UPDATE`,
			c.PositionID, domain.PositionStatusOpen,
		).Scan(&shares, &entry)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("postgres: lock position %s for close: %w", c.PositionID, err)
		}

		realized := shares * (c.ClosePrice - entry)
		_, err = tx.Exec(ctx, `
			UPDATE positions
			SET status = $2, shares = 0, size_amount = 0, pnl = pnl + $3,
			    current_price = $4, closed_price = $4, closed_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			c.PositionID, domain.PositionStatusClosed, realized, c.ClosePrice,
		)
		if err != nil {
			return fmt.Errorf("postgres: force-close position %s: %w", c.PositionID, err)
		}
		proceeds += shares * c.ClosePrice
	}

	if creditProceeds && proceeds != 0 {
		_, err := tx.Exec(ctx, `
			UPDATE challenges
			SET current_balance = current_balance + $2, updated_at = NOW()
			WHERE id = $1`,
			challengeID, proceeds,
		)
		if err != nil {
			return fmt.Errorf("postgres: credit close proceeds: %w", err)
		}
	}
	return nil
}

// insertAudit appends an audit row inside the caller's transaction.
func insertAudit(ctx context.Context, tx pgx.Tx, event, targetID string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_log (event, target_id, detail) VALUES ($1, $2, $3)`,
		event, targetID, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert audit entry: %w", err)
	}
	return nil
}

// scanChallenge maps one challenges row. Rules are stored as JSONB and
// unmarshalled into the snapshot struct.
func scanChallenge(row pgx.Row) (domain.Challenge, error) {
	var (
		ch    domain.Challenge
		rules []byte
	)
	err := row.Scan(
		&ch.ID, &ch.UserID, &ch.Phase, &ch.Status,
		&ch.StartingBalance, &ch.CurrentBalance, &ch.StartOfDayBalance, &ch.LastDailyReset,
		&ch.HighWaterMark, &rules, &ch.ProfitSplit, &ch.PayoutCap, &ch.PayoutCycleStart,
		&ch.ActiveTradingDays, &ch.LastActivityAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return domain.Challenge{}, err
	}
	if err := json.Unmarshal(rules, &ch.Rules); err != nil {
		return domain.Challenge{}, fmt.Errorf("unmarshal rules: %w", err)
	}
	return ch, nil
}
