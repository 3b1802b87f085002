package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propdesk/propdesk/internal/domain"
)

const marketColumns = `
	id, question, event_id, category, volume_24h, volume_total, status,
	created_at, updated_at`

// MarketStore implements domain.MarketStore on PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given pool.
func NewMarketStore(client *Client) *MarketStore {
	return &MarketStore{pool: client.Pool()}
}

// Upsert inserts or refreshes one market's metadata.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO markets (id, question, event_id, category, volume_24h, volume_total, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			event_id = EXCLUDED.event_id,
			category = EXCLUDED.category,
			volume_24h = EXCLUDED.volume_24h,
			volume_total = EXCLUDED.volume_total,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		m.ID, m.Question, m.EventID, m.Category, m.Volume24h, m.VolumeTotal, m.Status,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market: %w", err)
	}
	return nil
}

// GetByID fetches one market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market: %w", err)
	}
	return m, nil
}

// ListByEvent returns all markets under the given event, for per-event
// exposure checks.
func (s *MarketStore) ListByEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by event: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ID, &m.Question, &m.EventID, &m.Category,
		&m.Volume24h, &m.VolumeTotal, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}
