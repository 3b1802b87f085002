package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propdesk/propdesk/internal/domain"
)

// shareEpsilon absorbs float accumulation when deciding whether a position
// is fully closed.
const shareEpsilon = 1e-9

// Ledger implements domain.ExecutionLedger. Every fill runs in one
// transaction serialized on the challenge row, so two concurrent trades on
// the same account settle one after the other against a consistent balance.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given pool.
func NewLedger(client *Client) *Ledger {
	return &Ledger{pool: client.Pool()}
}

// ApplyFill settles a simulated fill: position upsert, cash mutation, and
// the immutable trade row, atomically.
func (l *Ledger) ApplyFill(ctx context.Context, f domain.Fill) (domain.Trade, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: begin fill: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Row lock on the challenge serializes concurrent fills per account.
	var (
		status  domain.ChallengeStatus
		balance float64
	)
	err = tx.QueryRow(ctx,
		`SELECT status, current_balance FROM challenges WHERE id = $1 FOR UPDATE`,
		f.ChallengeID,
	).Scan(&status, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: lock challenge: %w", err)
	}
	if status != domain.ChallengeStatusActive {
		return domain.Trade{}, domain.ErrChallengeNotActive
	}

	var (
		positionID string
		realized   float64
		newBalance float64
	)
	switch f.Type {
	case domain.TradeTypeBuy:
		if balance < f.CashAmount {
			return domain.Trade{}, domain.ErrInsufficientBalance
		}
		positionID, err = applyBuy(ctx, tx, f)
		if err != nil {
			return domain.Trade{}, err
		}
		newBalance = balance - f.CashAmount

	case domain.TradeTypeSell:
		var proceeds float64
		positionID, realized, proceeds, err = applySell(ctx, tx, f)
		if err != nil {
			return domain.Trade{}, err
		}
		newBalance = balance + proceeds

	default:
		return domain.Trade{}, fmt.Errorf("postgres: %w: trade type %q", domain.ErrInvalidAmount, f.Type)
	}

	trade := domain.Trade{
		ID:           uuid.NewString(),
		ChallengeID:  f.ChallengeID,
		PositionID:   positionID,
		MarketID:     f.MarketID,
		Type:         f.Type,
		Direction:    f.Direction,
		Price:        f.Price,
		CashAmount:   f.CashAmount,
		Shares:       f.Shares,
		RealizedPnL:  realized,
		BalanceAfter: newBalance,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO trades (
			id, challenge_id, position_id, market_id, type, direction,
			price, cash_amount, shares, realized_pnl, balance_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		trade.ID, trade.ChallengeID, trade.PositionID, trade.MarketID,
		trade.Type, trade.Direction, trade.Price, trade.CashAmount,
		trade.Shares, trade.RealizedPnL, trade.BalanceAfter,
	).Scan(&trade.CreatedAt)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: insert trade: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE challenges
		SET current_balance = $2, last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		f.ChallengeID, newBalance,
	)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: settle balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: commit fill: %w", err)
	}
	return trade, nil
}

// applyBuy opens a new position or averages into the existing open position
// on the same market and direction. The entry price stays cash-weighted so
// size_amount / shares always recovers it.
func applyBuy(ctx context.Context, tx pgx.Tx, f domain.Fill) (string, error) {
	pos, found, err := lockOpenPosition(ctx, tx, f)
	if err != nil {
		return "", err
	}

	if !found {
		id := uuid.NewString()
		_, err := tx.Exec(ctx, `
			INSERT INTO positions (
				id, challenge_id, market_id, direction, shares,
				entry_price, current_price, size_amount, status, opened_at
			) VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8, NOW())`,
			id, f.ChallengeID, f.MarketID, f.Direction, f.Shares,
			f.Price, f.CashAmount, domain.PositionStatusOpen,
		)
		if err != nil {
			return "", fmt.Errorf("postgres: open position: %w", err)
		}
		return id, nil
	}

	newShares := pos.Shares + f.Shares
	newSize := pos.SizeAmount + f.CashAmount
	newEntry := (pos.EntryPrice*pos.Shares + f.Price*f.Shares) / newShares

	_, err = tx.Exec(ctx, `
		UPDATE positions
		SET shares = $2, entry_price = $3, current_price = $4,
		    size_amount = $5, updated_at = NOW()
		WHERE id = $1`,
		pos.ID, newShares, newEntry, f.Price, newSize,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: average into position: %w", err)
	}
	return pos.ID, nil
}

// applySell reduces or fully closes the open position, realizing PnL against
// the cash-weighted entry price. The share count is re-checked under the row
// lock: the executor sized the order from an unlocked read.
func applySell(ctx context.Context, tx pgx.Tx, f domain.Fill) (positionID string, realized, proceeds float64, err error) {
	pos, found, err := lockOpenPosition(ctx, tx, f)
	if err != nil {
		return "", 0, 0, err
	}
	if !found {
		return "", 0, 0, fmt.Errorf("postgres: %w: no open position on market %s", domain.ErrNotFound, f.MarketID)
	}
	if f.Shares > pos.Shares+shareEpsilon {
		return "", 0, 0, fmt.Errorf("postgres: %w: sell %.6f shares exceeds held %.6f", domain.ErrInvalidAmount, f.Shares, pos.Shares)
	}

	shares := math.Min(f.Shares, pos.Shares)
	realized = shares * (f.Price - pos.EntryPrice)
	proceeds = shares * f.Price
	costReleased := shares * pos.EntryPrice

	newShares := pos.Shares - shares
	newSize := math.Max(pos.SizeAmount-costReleased, 0)

	if newShares <= shareEpsilon {
		_, err = tx.Exec(ctx, `
			UPDATE positions
			SET shares = 0, size_amount = 0, status = $2, pnl = pnl + $3,
			    current_price = $4, closed_price = $4, closed_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			pos.ID, domain.PositionStatusClosed, realized, f.Price,
		)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE positions
			SET shares = $2, size_amount = $3, pnl = pnl + $4,
			    current_price = $5, updated_at = NOW()
			WHERE id = $1`,
			pos.ID, newShares, newSize, realized, f.Price,
		)
	}
	if err != nil {
		return "", 0, 0, fmt.Errorf("postgres: reduce position: %w", err)
	}
	return pos.ID, realized, proceeds, nil
}

// lockOpenPosition fetches and locks the single open position for the fill's
// market and direction, if one exists.
func lockOpenPosition(ctx context.Context, tx pgx.Tx, f domain.Fill) (domain.Position, bool, error) {
	var pos domain.Position
	err := tx.QueryRow(ctx, `
		SELECT id, shares, entry_price, size_amount
		FROM positions
		WHERE challenge_id = $1 AND market_id = $2 AND direction = $3 AND status = $4
		FOR UPDATE`,
		f.ChallengeID, f.MarketID, f.Direction, domain.PositionStatusOpen,
	).Scan(&pos.ID, &pos.Shares, &pos.EntryPrice, &pos.SizeAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("postgres: lock position: %w", err)
	}
	return pos, true, nil
}
