// Package monitor enforces the challenge rules continuously: a background
// loop re-evaluates every active account against live prices, and an
// on-demand evaluator runs the identical check synchronously after a trade.
// Both share the pnl package for all equity math and the store's conditional
// updates for at-most-once transitions.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/pnl"
)

// Assessment is the outcome of evaluating one challenge: its equity at the
// detecting prices and the (possibly just-transitioned) status and phase.
type Assessment struct {
	ChallengeID string
	Equity      float64
	Status      domain.ChallengeStatus
	Phase       domain.Phase
}

// Evaluator computes a challenge's equity and applies breach or pass
// transitions. The monitor runs it per cycle; Evaluate exposes the same path
// synchronously for fast post-trade feedback.
type Evaluator struct {
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	prices     domain.PriceSource
	logger     *slog.Logger
}

// NewEvaluator creates an Evaluator with all required dependencies.
func NewEvaluator(
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	prices domain.PriceSource,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		challenges: challenges,
		positions:  positions,
		prices:     prices,
		logger:     logger.With(slog.String("component", "evaluator")),
	}
}

// Evaluate loads the challenge, marks it to market, and applies at most one
// transition. Racing the background monitor is safe: the store's conditional
// update makes the loser's write a no-op.
func (ev *Evaluator) Evaluate(ctx context.Context, challengeID string) (Assessment, error) {
	ch, err := ev.challenges.EnsureDailyReset(ctx, challengeID, time.Now().UTC())
	if err != nil {
		return Assessment{}, fmt.Errorf("evaluator: load challenge: %w", err)
	}

	open, err := ev.positions.GetOpenByChallenge(ctx, challengeID)
	if err != nil {
		return Assessment{}, fmt.Errorf("evaluator: load positions: %w", err)
	}

	marketIDs := make([]string, 0, len(open))
	seen := make(map[string]bool, len(open))
	for _, pos := range open {
		if !seen[pos.MarketID] {
			seen[pos.MarketID] = true
			marketIDs = append(marketIDs, pos.MarketID)
		}
	}

	priceMap, err := ev.prices.GetPrices(ctx, marketIDs)
	if err != nil {
		return Assessment{}, fmt.Errorf("evaluator: batch price lookup: %w", err)
	}
	prices := make(map[string]pnl.RawYesPrice, len(priceMap))
	for id, p := range priceMap {
		prices[id] = pnl.RawYesPrice(p)
	}

	return ev.assess(ctx, ch, open, prices)
}

// assess is the single shared rule evaluation: max drawdown, then daily
// drawdown, then profit target (skipped once funded). Exactly one transition
// can result.
func (ev *Evaluator) assess(ctx context.Context, ch domain.Challenge, open []domain.Position, prices map[string]pnl.RawYesPrice) (Assessment, error) {
	limits := ch.Rules.Normalize(ch.StartingBalance)
	equity := pnl.Equity(ch.CurrentBalance, open, prices)

	out := Assessment{
		ChallengeID: ch.ID,
		Equity:      equity,
		Status:      ch.Status,
		Phase:       ch.Phase,
	}
	if ch.Status != domain.ChallengeStatusActive {
		return out, nil
	}

	maxFloor := ch.StartingBalance - limits.MaxDrawdown
	dailyFloor := ch.StartOfDayBalance - limits.DailyDrawdown

	switch {
	case equity < maxFloor:
		return ev.fail(ctx, ch, open, prices, out, domain.RuleMaxDrawdown, maxFloor)

	case equity < dailyFloor:
		return ev.fail(ctx, ch, open, prices, out, domain.RuleDailyDrawdown, dailyFloor)

	case ch.Phase != domain.PhaseFunded && equity >= ch.StartingBalance+limits.ProfitTarget:
		return ev.pass(ctx, ch, open, prices, out, ch.StartingBalance+limits.ProfitTarget)

	case ch.Phase == domain.PhaseFunded && equity > ch.HighWaterMark:
		if err := ev.challenges.UpdateHighWaterMark(ctx, ch.ID, equity); err != nil {
			ev.logger.WarnContext(ctx, "high-water mark update failed",
				slog.String("challenge_id", ch.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return out, nil
}

func (ev *Evaluator) fail(
	ctx context.Context,
	ch domain.Challenge,
	open []domain.Position,
	prices map[string]pnl.RawYesPrice,
	out Assessment,
	reason string,
	limit float64,
) (Assessment, error) {
	closes := buildCloses(open, prices)

	applied, err := ev.challenges.MarkFailed(ctx, ch.ID, closes, map[string]any{
		"reason": reason,
		"equity": out.Equity,
		"limit":  limit,
	})
	if err != nil {
		return out, fmt.Errorf("evaluator: mark failed: %w", err)
	}
	if !applied {
		// Lost the race to a concurrent writer; report whatever it did.
		return ev.refresh(ctx, out)
	}

	out.Status = domain.ChallengeStatusFailed
	ev.logger.InfoContext(ctx, "challenge failed",
		slog.String("challenge_id", ch.ID),
		slog.String("reason", reason),
		slog.Float64("equity", out.Equity),
		slog.Float64("limit", limit),
		slog.Int("positions_closed", len(closes)),
	)
	return out, nil
}

func (ev *Evaluator) pass(
	ctx context.Context,
	ch domain.Challenge,
	open []domain.Position,
	prices map[string]pnl.RawYesPrice,
	out Assessment,
	target float64,
) (Assessment, error) {
	closes := buildCloses(open, prices)

	applied, err := ev.challenges.Promote(ctx, ch.ID, closes, map[string]any{
		"equity": out.Equity,
		"target": target,
	})
	if err != nil {
		return out, fmt.Errorf("evaluator: promote: %w", err)
	}
	if !applied {
		return ev.refresh(ctx, out)
	}

	out.Phase = domain.PhaseFunded
	out.Status = domain.ChallengeStatusActive
	ev.logger.InfoContext(ctx, "challenge passed, promoted to funded",
		slog.String("challenge_id", ch.ID),
		slog.Float64("equity", out.Equity),
		slog.Float64("target", target),
		slog.Int("positions_closed", len(closes)),
	)
	return out, nil
}

// refresh re-reads the challenge after losing a transition race so the
// assessment reflects the winner's write.
func (ev *Evaluator) refresh(ctx context.Context, out Assessment) (Assessment, error) {
	fresh, err := ev.challenges.GetByID(ctx, out.ChallengeID)
	if err != nil {
		return out, fmt.Errorf("evaluator: reload after lost race: %w", err)
	}
	out.Status = fresh.Status
	out.Phase = fresh.Phase
	return out, nil
}

// buildCloses values every open position for force-closing: at the live
// price when available, at the stored entry price otherwise. All math goes
// through the pnl kernel.
func buildCloses(open []domain.Position, prices map[string]pnl.RawYesPrice) []domain.PositionClose {
	_, details := pnl.PortfolioValue(open, prices)

	closes := make([]domain.PositionClose, 0, len(details))
	for _, d := range details {
		closes = append(closes, domain.PositionClose{
			PositionID:  d.Position.ID,
			ClosePrice:  float64(d.Metrics.EffectivePrice),
			Proceeds:    d.Metrics.Value,
			RealizedPnL: d.Metrics.UnrealizedPnL,
		})
	}
	return closes
}
