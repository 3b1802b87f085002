package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propdesk/propdesk/internal/domain"
)

const positionColumns = `
	id, challenge_id, market_id, direction, shares, entry_price,
	current_price, size_amount, status, pnl, opened_at, closed_at, closed_price`

// PositionStore implements domain.PositionStore on PostgreSQL. Writes happen
// through the execution ledger and challenge transitions; this store is the
// read side.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{pool: client.Pool()}
}

// GetByID fetches a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)

	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return pos, nil
}

// GetOpenByChallenge returns every open position for one challenge.
func (s *PositionStore) GetOpenByChallenge(ctx context.Context, challengeID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE challenge_id = $1 AND status = $2
		 ORDER BY opened_at`,
		challengeID, domain.PositionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListHistory returns a challenge's positions, newest first, with optional
// time bounds and pagination.
func (s *PositionStore) ListHistory(ctx context.Context, challengeID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE challenge_id = $1`
	args := []any{challengeID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND opened_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND opened_at < $%d", len(args))
	}
	query += " ORDER BY opened_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var pos domain.Position
	err := row.Scan(
		&pos.ID, &pos.ChallengeID, &pos.MarketID, &pos.Direction,
		&pos.Shares, &pos.EntryPrice, &pos.CurrentPrice, &pos.SizeAmount,
		&pos.Status, &pos.PnL, &pos.OpenedAt, &pos.ClosedAt, &pos.ClosedPrice,
	)
	return pos, err
}
