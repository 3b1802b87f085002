package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/pnl"
)

// Monitor is the authoritative enforcement loop. The evaluator only runs on
// trade events, but prices move continuously, so every active challenge is
// re-checked on a fixed interval.
type Monitor struct {
	challenges  domain.ChallengeStore
	positions   domain.PositionStore
	prices      domain.PriceSource
	evaluator   *Evaluator
	interval    time.Duration
	maxParallel int
	logger      *slog.Logger
}

// New creates a Monitor. interval defaults to 30s and maxParallel to 8 when
// non-positive.
func New(
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	prices domain.PriceSource,
	evaluator *Evaluator,
	interval time.Duration,
	maxParallel int,
	logger *slog.Logger,
) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Monitor{
		challenges:  challenges,
		positions:   positions,
		prices:      prices,
		evaluator:   evaluator,
		interval:    interval,
		maxParallel: maxParallel,
		logger:      logger.With(slog.String("component", "monitor")),
	}
}

// Run executes cycles until the context is cancelled. The first cycle runs
// immediately rather than waiting out a full interval.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "risk monitor started", slog.Duration("interval", m.interval))
	defer m.logger.Info("risk monitor stopped")

	m.RunCycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every active challenge once. Prices for all referenced
// markets are batch-fetched a single time and fanned out, so cache reads do
// not scale with position count. A single challenge failing never aborts the
// cycle.
func (m *Monitor) RunCycle(ctx context.Context) {
	started := time.Now()

	challenges, err := m.challenges.ListActive(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "list active challenges failed", slog.String("error", err.Error()))
		return
	}
	if len(challenges) == 0 {
		return
	}

	now := time.Now().UTC()

	// Load positions per challenge and union the referenced markets.
	type loaded struct {
		challenge domain.Challenge
		open      []domain.Position
	}
	batch := make([]loaded, 0, len(challenges))
	seen := make(map[string]bool)
	var marketIDs []string

	for _, ch := range challenges {
		fresh, resetErr := m.challenges.EnsureDailyReset(ctx, ch.ID, now)
		if resetErr != nil {
			m.logger.WarnContext(ctx, "daily reset failed, skipping challenge",
				slog.String("challenge_id", ch.ID),
				slog.String("error", resetErr.Error()),
			)
			continue
		}

		open, posErr := m.positions.GetOpenByChallenge(ctx, ch.ID)
		if posErr != nil {
			m.logger.WarnContext(ctx, "position load failed, skipping challenge",
				slog.String("challenge_id", ch.ID),
				slog.String("error", posErr.Error()),
			)
			continue
		}

		batch = append(batch, loaded{challenge: fresh, open: open})
		for _, pos := range open {
			if !seen[pos.MarketID] {
				seen[pos.MarketID] = true
				marketIDs = append(marketIDs, pos.MarketID)
			}
		}
	}

	priceMap, err := m.prices.GetPrices(ctx, marketIDs)
	if err != nil {
		// Positions fall back to entry-price valuation; the next cycle
		// retries naturally.
		m.logger.WarnContext(ctx, "batch price fetch failed, valuing at entry",
			slog.String("error", err.Error()),
		)
		priceMap = map[string]float64{}
	}
	prices := make(map[string]pnl.RawYesPrice, len(priceMap))
	for id, p := range priceMap {
		prices[id] = pnl.RawYesPrice(p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxParallel)
	for _, item := range batch {
		g.Go(func() error {
			if _, assessErr := m.evaluator.assess(gctx, item.challenge, item.open, prices); assessErr != nil {
				m.logger.WarnContext(gctx, "challenge evaluation failed",
					slog.String("challenge_id", item.challenge.ID),
					slog.String("error", assessErr.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.DebugContext(ctx, "monitor cycle complete",
		slog.Int("challenges", len(batch)),
		slog.Int("markets", len(marketIDs)),
		slog.Duration("elapsed", time.Since(started)),
	)
}
