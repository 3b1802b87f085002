// Package engine implements trade execution for challenge accounts: risk
// validation, order simulation against the market's order book, and the
// transactional position/balance mutation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/pnl"
	"github.com/propdesk/propdesk/internal/risk"
)

// Markets priced at or beyond these bounds are treated as effectively
// resolved and untradeable, so a closing mispricing cannot be farmed.
const (
	extremePriceLow  = 0.01
	extremePriceHigh = 0.99
)

// Config holds the tunable execution parameters.
type Config struct {
	// SlippagePct worsens every simulated fill by this fraction.
	SlippagePct float64
	// SyntheticDepth is the per-level share depth of the fabricated book
	// used when a market has no live snapshot.
	SyntheticDepth  float64
	SyntheticLevels int
	SyntheticStep   float64
}

// Engine executes trades for challenge accounts. It validates through the
// risk engine, simulates the fill, and applies the result through the
// execution ledger. It never performs a pass/fail check; that is the
// evaluator's job, invoked by the caller afterwards.
type Engine struct {
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	markets    domain.MarketStore
	ledger     domain.ExecutionLedger
	prices     domain.PriceSource
	books      domain.BookCache
	audit      domain.AuditStore
	cfg        Config
	logger     *slog.Logger
}

// New creates an Engine with all required dependencies.
func New(
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	markets domain.MarketStore,
	ledger domain.ExecutionLedger,
	prices domain.PriceSource,
	books domain.BookCache,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		challenges: challenges,
		positions:  positions,
		trades:     trades,
		markets:    markets,
		ledger:     ledger,
		prices:     prices,
		books:      books,
		audit:      audit,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "engine")),
	}
}

// CreateChallenge opens a new evaluation account, snapshotting the given
// rules so later rule changes never retroactively affect it.
func (e *Engine) CreateChallenge(ctx context.Context, userID string, startingBalance float64, rules domain.RulesConfig) (domain.Challenge, error) {
	startingBalance = pnl.SafeFloat(startingBalance, 0)
	if startingBalance <= 0 {
		return domain.Challenge{}, fmt.Errorf("engine: create challenge: %w", domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	ch := domain.Challenge{
		ID:                uuid.New().String(),
		UserID:            userID,
		Phase:             domain.PhaseChallenge,
		Status:            domain.ChallengeStatusActive,
		StartingBalance:   startingBalance,
		CurrentBalance:    startingBalance,
		StartOfDayBalance: startingBalance,
		LastDailyReset:    now.Truncate(24 * time.Hour),
		HighWaterMark:     startingBalance,
		Rules:             rules,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := e.challenges.Create(ctx, ch); err != nil {
		return domain.Challenge{}, fmt.Errorf("engine: create challenge: %w", err)
	}

	if auditErr := e.audit.Log(ctx, "challenge_created", ch.ID, map[string]any{
		"user_id":          userID,
		"starting_balance": startingBalance,
	}); auditErr != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("challenge_id", ch.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	e.logger.InfoContext(ctx, "challenge created",
		slog.String("challenge_id", ch.ID),
		slog.String("user_id", userID),
		slog.Float64("starting_balance", startingBalance),
	)
	return ch, nil
}

// ExecuteTrade runs one trade end to end: load state, validate through the
// risk engine, simulate the fill, and apply the mutation atomically. All
// rejections happen before any state change; a returned Trade means the
// mutation committed.
func (e *Engine) ExecuteTrade(
	ctx context.Context,
	userID, challengeID, marketID string,
	tradeType domain.TradeType,
	cashAmount float64,
	direction domain.Direction,
) (domain.Trade, error) {
	log := e.logger.With(
		slog.String("challenge_id", challengeID),
		slog.String("market_id", marketID),
		slog.String("type", string(tradeType)),
		slog.String("direction", string(direction)),
	)

	cashAmount = pnl.SafeFloat(cashAmount, 0)
	if cashAmount <= 0 {
		return domain.Trade{}, fmt.Errorf("engine: cash amount must be positive: %w", domain.ErrInvalidAmount)
	}
	if direction != domain.DirectionYes && direction != domain.DirectionNo {
		return domain.Trade{}, fmt.Errorf("engine: unknown direction %q: %w", direction, domain.ErrInvalidAmount)
	}
	if tradeType != domain.TradeTypeBuy && tradeType != domain.TradeTypeSell {
		return domain.Trade{}, fmt.Errorf("engine: unknown trade type %q: %w", tradeType, domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()

	// Daily reset is idempotent and returns the fresh row, so the
	// start-of-day balance is correct before any rule comparison.
	ch, err := e.challenges.EnsureDailyReset(ctx, challengeID, now)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: load challenge: %w", err)
	}
	if ch.UserID != userID {
		return domain.Trade{}, fmt.Errorf("engine: challenge %s: %w", challengeID, domain.ErrNotFound)
	}
	if !ch.IsTradable() {
		return domain.Trade{}, fmt.Errorf("engine: challenge %s: %w", challengeID, domain.ErrChallengeNotActive)
	}

	market, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("engine: market %s: %w", marketID, domain.ErrMarketUnavailable)
		}
		return domain.Trade{}, fmt.Errorf("engine: load market: %w", err)
	}

	raw, ok, err := e.prices.GetPrice(ctx, marketID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: price lookup: %w", err)
	}
	if !ok {
		return domain.Trade{}, fmt.Errorf("engine: no price for market %s: %w", marketID, domain.ErrMarketUnavailable)
	}
	if raw <= extremePriceLow || raw >= extremePriceHigh {
		return domain.Trade{}, fmt.Errorf("engine: price %.4f outside tradable range: %w", raw, domain.ErrMarketResolved)
	}

	open, err := e.positions.GetOpenByChallenge(ctx, challengeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: load open positions: %w", err)
	}

	input, err := e.buildRiskInput(ctx, ch, market, open, raw, tradeType, direction, cashAmount, now)
	if err != nil {
		return domain.Trade{}, err
	}
	if err := risk.ValidateTrade(input); err != nil {
		log.WarnContext(ctx, "trade rejected", slog.String("error", err.Error()))
		return domain.Trade{}, err
	}

	fill, err := e.simulate(ctx, marketID, tradeType, direction, cashAmount, pnl.RawYesPrice(raw), open, log)
	if err != nil {
		return domain.Trade{}, err
	}
	fill.ChallengeID = challengeID
	fill.UserID = userID

	trade, err := e.ledger.ApplyFill(ctx, fill)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: apply fill: %w", err)
	}

	if auditErr := e.audit.Log(ctx, "trade_executed", challengeID, map[string]any{
		"trade_id":  trade.ID,
		"market_id": marketID,
		"type":      string(tradeType),
		"direction": string(direction),
		"price":     trade.Price,
		"shares":    trade.Shares,
		"cash":      trade.CashAmount,
	}); auditErr != nil {
		log.WarnContext(ctx, "audit log failed", slog.String("error", auditErr.Error()))
	}

	log.InfoContext(ctx, "trade executed",
		slog.String("trade_id", trade.ID),
		slog.Float64("price", trade.Price),
		slog.Float64("shares", trade.Shares),
		slog.Float64("balance_after", trade.BalanceAfter),
	)
	return trade, nil
}

// buildRiskInput assembles everything the pure risk engine needs: live
// prices for the whole portfolio, sibling markets for the event cap, and
// category classifications for the open positions' markets.
func (e *Engine) buildRiskInput(
	ctx context.Context,
	ch domain.Challenge,
	market domain.Market,
	open []domain.Position,
	raw float64,
	tradeType domain.TradeType,
	direction domain.Direction,
	cashAmount float64,
	now time.Time,
) (risk.Input, error) {
	marketIDs := make([]string, 0, len(open)+1)
	seen := map[string]bool{market.ID: true}
	marketIDs = append(marketIDs, market.ID)
	for _, pos := range open {
		if !seen[pos.MarketID] {
			seen[pos.MarketID] = true
			marketIDs = append(marketIDs, pos.MarketID)
		}
	}

	priceMap, err := e.prices.GetPrices(ctx, marketIDs)
	if err != nil {
		return risk.Input{}, fmt.Errorf("engine: batch price lookup: %w", err)
	}
	prices := make(map[string]pnl.RawYesPrice, len(priceMap)+1)
	for id, p := range priceMap {
		prices[id] = pnl.RawYesPrice(p)
	}
	prices[market.ID] = pnl.RawYesPrice(raw)

	tradesLastHour, err := e.trades.CountSince(ctx, ch.ID, now.Add(-time.Hour))
	if err != nil {
		return risk.Input{}, fmt.Errorf("engine: count recent trades: %w", err)
	}

	siblings := []string{market.ID}
	lookupFailed := false
	if market.EventID != "" {
		eventMarkets, lookupErr := e.markets.ListByEvent(ctx, market.EventID)
		if lookupErr != nil {
			// Fail closed: the risk engine caps this market's own exposure
			// instead of skipping the event check.
			lookupFailed = true
			e.logger.WarnContext(ctx, "sibling market lookup failed",
				slog.String("event_id", market.EventID),
				slog.String("error", lookupErr.Error()),
			)
		} else {
			siblings = siblings[:0]
			for _, m := range eventMarkets {
				siblings = append(siblings, m.ID)
			}
		}
	}

	categories := make(map[string]string, len(open))
	for _, pos := range open {
		if _, done := categories[pos.MarketID]; done {
			continue
		}
		if pos.MarketID == market.ID {
			categories[pos.MarketID] = risk.Classify(market)
			continue
		}
		posMarket, mErr := e.markets.GetByID(ctx, pos.MarketID)
		if mErr != nil {
			// Unknown markets land in the shared catch-all bucket, the
			// more restrictive outcome.
			categories[pos.MarketID] = risk.CategoryOther
			continue
		}
		categories[pos.MarketID] = risk.Classify(posMarket)
	}

	return risk.Input{
		Challenge: ch,
		Limits:    ch.Rules.Normalize(ch.StartingBalance),
		Proposal: risk.Proposal{
			MarketID:   market.ID,
			Type:       tradeType,
			Direction:  direction,
			CashAmount: cashAmount,
		},
		Market:              market,
		OpenPositions:       open,
		Prices:              prices,
		SiblingMarketIDs:    siblings,
		SiblingLookupFailed: lookupFailed,
		MarketCategories:    categories,
		TradesLastHour:      tradesLastHour,
	}, nil
}

// simulate walks the effective order-book side to a volume-weighted fill and
// applies the configured slippage.
func (e *Engine) simulate(
	ctx context.Context,
	marketID string,
	tradeType domain.TradeType,
	direction domain.Direction,
	cashAmount float64,
	raw pnl.RawYesPrice,
	open []domain.Position,
	log *slog.Logger,
) (domain.Fill, error) {
	book, ok, err := e.books.GetSnapshot(ctx, marketID)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("engine: book lookup: %w", err)
	}

	side := effectiveBookSide(tradeType, direction)
	lvls := sideLevels(book, side)
	if !ok || len(lvls) == 0 {
		log.WarnContext(ctx, "no live order book, simulating against synthetic depth",
			slog.Float64("price", float64(raw)),
		)
		book = syntheticBook(marketID, raw, e.cfg.SyntheticDepth, e.cfg.SyntheticLevels, e.cfg.SyntheticStep)
		lvls = sideLevels(book, side)
	}

	fill := domain.Fill{
		MarketID:  marketID,
		Type:      tradeType,
		Direction: direction,
	}

	switch tradeType {
	case domain.TradeTypeBuy:
		vwap, _, fillErr := fillBuy(lvls, direction, cashAmount)
		if fillErr != nil {
			return domain.Fill{}, fmt.Errorf("engine: simulate buy: %w", fillErr)
		}
		price := applySlippage(vwap, tradeType, e.cfg.SlippagePct)
		fill.Price = float64(price)
		fill.Shares = cashAmount / float64(price)
		fill.CashAmount = cashAmount

	case domain.TradeTypeSell:
		pos, found := findOpen(open, marketID, direction)
		if !found {
			return domain.Fill{}, fmt.Errorf("engine: no open %s position in market %s: %w", direction, marketID, domain.ErrNotFound)
		}
		estimate := float64(pnl.Adjust(raw, direction))
		shares := cashAmount / estimate
		if shares > pos.Shares {
			shares = pos.Shares
		}
		if shares <= 0 {
			return domain.Fill{}, fmt.Errorf("engine: nothing to sell: %w", domain.ErrInvalidAmount)
		}
		vwap, fillErr := fillSell(lvls, direction, shares)
		if fillErr != nil {
			return domain.Fill{}, fmt.Errorf("engine: simulate sell: %w", fillErr)
		}
		price := applySlippage(vwap, tradeType, e.cfg.SlippagePct)
		fill.Price = float64(price)
		fill.Shares = shares
		fill.CashAmount = shares * float64(price)
	}

	return fill, nil
}

func findOpen(positions []domain.Position, marketID string, d domain.Direction) (domain.Position, bool) {
	for _, pos := range positions {
		if pos.MarketID == marketID && pos.Direction == d && pos.Status == domain.PositionStatusOpen {
			return pos, true
		}
	}
	return domain.Position{}, false
}
