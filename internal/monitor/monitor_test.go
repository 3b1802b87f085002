package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/domain"
)

// casChallenges is an in-memory challenge store whose MarkFailed and Promote
// apply the same compare-and-swap guard as the SQL implementation, so races
// between evaluators resolve to exactly one transition.
type casChallenges struct {
	mu         sync.Mutex
	challenges map[string]*domain.Challenge

	// closedPositions mirrors the positions table's status guard: a
	// force-close only settles proceeds for positions still open, since a
	// concurrent fill may have closed one and credited its cash already.
	closedPositions map[string]bool

	transitions []string // event log: "failed:<id>", "promoted:<id>"
	lastDetail  map[string]any
	hwmUpdates  []float64
}

func newCASChallenges(chs ...domain.Challenge) *casChallenges {
	s := &casChallenges{
		challenges:      map[string]*domain.Challenge{},
		closedPositions: map[string]bool{},
	}
	for i := range chs {
		ch := chs[i]
		s.challenges[ch.ID] = &ch
	}
	return s
}

// creditSell settles a fill outside any evaluation, the way the execution
// ledger would: cash credited and the position marked closed.
func (s *casChallenges) creditSell(id, positionID string, proceeds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[id].CurrentBalance += proceeds
	s.closedPositions[positionID] = true
}

func (s *casChallenges) Create(_ context.Context, ch domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.ID] = &ch
	return nil
}

func (s *casChallenges) GetByID(_ context.Context, id string) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, domain.ErrNotFound
	}
	return *ch, nil
}

func (s *casChallenges) ListActive(context.Context) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Challenge
	for _, ch := range s.challenges {
		if ch.Status == domain.ChallengeStatusActive {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (s *casChallenges) EnsureDailyReset(_ context.Context, id string, now time.Time) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, domain.ErrNotFound
	}
	day := now.UTC().Truncate(24 * time.Hour)
	if ch.LastDailyReset.Before(day) {
		ch.StartOfDayBalance = ch.CurrentBalance
		ch.LastDailyReset = day
	}
	return *ch, nil
}

func (s *casChallenges) UpdateHighWaterMark(_ context.Context, id string, equity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	if equity > ch.HighWaterMark {
		ch.HighWaterMark = equity
		s.hwmUpdates = append(s.hwmUpdates, equity)
	}
	return nil
}

func (s *casChallenges) MarkFailed(_ context.Context, id string, closes []domain.PositionClose, detail map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.Status != domain.ChallengeStatusActive {
		return false, nil
	}
	ch.Status = domain.ChallengeStatusFailed
	for _, c := range closes {
		if s.closedPositions[c.PositionID] {
			continue
		}
		s.closedPositions[c.PositionID] = true
		ch.CurrentBalance += c.Proceeds
	}
	s.transitions = append(s.transitions, "failed:"+id)
	s.lastDetail = detail
	return true, nil
}

func (s *casChallenges) Promote(_ context.Context, id string, _ []domain.PositionClose, detail map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.Status != domain.ChallengeStatusActive || ch.Phase == domain.PhaseFunded {
		return false, nil
	}
	ch.Phase = domain.PhaseFunded
	ch.CurrentBalance = ch.StartingBalance
	ch.StartOfDayBalance = ch.StartingBalance
	ch.HighWaterMark = ch.StartingBalance
	s.transitions = append(s.transitions, "promoted:"+id)
	s.lastDetail = detail
	return true, nil
}

type stubPositions struct {
	mu      sync.Mutex
	open    map[string][]domain.Position
	failFor map[string]error
	// afterRead runs once after the first successful read, to interleave a
	// concurrent write between the snapshot and the transition.
	afterRead func()
}

func (s *stubPositions) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s *stubPositions) GetOpenByChallenge(_ context.Context, challengeID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[challengeID]; err != nil {
		return nil, err
	}
	open := s.open[challengeID]
	if s.afterRead != nil {
		hook := s.afterRead
		s.afterRead = nil
		hook()
	}
	return open, nil
}

func (s *stubPositions) ListHistory(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type stubPrices struct {
	prices map[string]float64
}

func (s *stubPrices) GetPrice(_ context.Context, marketID string) (float64, bool, error) {
	p, ok := s.prices[marketID]
	return p, ok, nil
}

func (s *stubPrices) GetPrices(_ context.Context, marketIDs []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, id := range marketIDs {
		if p, ok := s.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeChallenge(id string) domain.Challenge {
	return domain.Challenge{
		ID:                id,
		UserID:            "u1",
		Phase:             domain.PhaseChallenge,
		Status:            domain.ChallengeStatusActive,
		StartingBalance:   10_000,
		CurrentBalance:    10_000,
		StartOfDayBalance: 10_000,
		HighWaterMark:     10_000,
		LastDailyReset:    time.Now().UTC().Truncate(24 * time.Hour),
	}
}

func TestEvaluateMaxDrawdownBreachForceCloses(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	// Cash 800 plus an 18400-share position entered at 0.50 ($9200). The
	// price dropping to 0.30 leaves equity 800 + 5520 = 6320, far under the
	// 9200 floor.
	ch.CurrentBalance = 800
	ch.StartOfDayBalance = 800
	store := newCASChallenges(ch)

	positions := &stubPositions{open: map[string][]domain.Position{
		"ch1": {{
			ID:         "p1",
			MarketID:   "m1",
			Direction:  domain.DirectionYes,
			Shares:     18_400,
			EntryPrice: 0.50,
			SizeAmount: 9_200,
			Status:     domain.PositionStatusOpen,
		}},
	}}
	prices := &stubPrices{prices: map[string]float64{"m1": 0.30}}

	ev := NewEvaluator(store, positions, prices, discardLogger())
	out, err := ev.Evaluate(context.Background(), "ch1")
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeStatusFailed, out.Status)
	assert.InDelta(t, 6320, out.Equity, 1e-6)
	require.Equal(t, []string{"failed:ch1"}, store.transitions)
	assert.Equal(t, domain.RuleMaxDrawdown, store.lastDetail["reason"])

	// Force-close credited the position's mark-to-market proceeds.
	fresh, err := store.GetByID(context.Background(), "ch1")
	require.NoError(t, err)
	assert.InDelta(t, 6320, fresh.CurrentBalance, 1e-6)
}

func TestEvaluateDailyDrawdownBreach(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	// Equity 10050 clears the max floor (9200) but not the daily floor
	// (10500 - 400 = 10100).
	ch.CurrentBalance = 10_050
	ch.StartOfDayBalance = 10_500
	store := newCASChallenges(ch)

	ev := NewEvaluator(store, &stubPositions{}, &stubPrices{}, discardLogger())
	out, err := ev.Evaluate(context.Background(), "ch1")
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeStatusFailed, out.Status)
	assert.Equal(t, domain.RuleDailyDrawdown, store.lastDetail["reason"])
}

func TestEvaluateProfitTargetPromotes(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	ch.CurrentBalance = 11_050
	ch.StartOfDayBalance = 11_050
	store := newCASChallenges(ch)

	ev := NewEvaluator(store, &stubPositions{}, &stubPrices{}, discardLogger())
	out, err := ev.Evaluate(context.Background(), "ch1")
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseFunded, out.Phase)
	assert.Equal(t, domain.ChallengeStatusActive, out.Status)
	require.Equal(t, []string{"promoted:ch1"}, store.transitions)

	// Promotion resets the account to its starting balance.
	fresh, err := store.GetByID(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, fresh.CurrentBalance)
	assert.Equal(t, 10_000.0, fresh.HighWaterMark)
}

func TestEvaluateFundedSkipsProfitTargetAndAdvancesHWM(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	ch.Phase = domain.PhaseFunded
	ch.CurrentBalance = 11_500
	ch.StartOfDayBalance = 11_500
	store := newCASChallenges(ch)

	ev := NewEvaluator(store, &stubPositions{}, &stubPrices{}, discardLogger())
	out, err := ev.Evaluate(context.Background(), "ch1")
	require.NoError(t, err)

	// No promotion, no failure: the mark just advances.
	assert.Empty(t, store.transitions)
	assert.Equal(t, domain.ChallengeStatusActive, out.Status)
	require.Equal(t, []float64{11_500}, store.hwmUpdates)
}

func TestEvaluateMissingPriceFallsBackToEntry(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	ch.CurrentBalance = 800
	ch.StartOfDayBalance = 800
	store := newCASChallenges(ch)

	// No cached price: the $9200 position is valued at entry, so equity is
	// back at 10000 and nothing transitions.
	positions := &stubPositions{open: map[string][]domain.Position{
		"ch1": {{
			ID:         "p1",
			MarketID:   "m1",
			Direction:  domain.DirectionYes,
			Shares:     18_400,
			EntryPrice: 0.50,
			SizeAmount: 9_200,
			Status:     domain.PositionStatusOpen,
		}},
	}}

	ev := NewEvaluator(store, positions, &stubPrices{}, discardLogger())
	out, err := ev.Evaluate(context.Background(), "ch1")
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeStatusActive, out.Status)
	assert.InDelta(t, 10_000, out.Equity, 1e-6)
	assert.Empty(t, store.transitions)
}

func TestEvaluateBreachDoesNotDoubleCreditRacingSell(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	ch.CurrentBalance = 800
	ch.StartOfDayBalance = 800
	store := newCASChallenges(ch)

	pos := domain.Position{
		ID:         "p1",
		MarketID:   "m1",
		Direction:  domain.DirectionYes,
		Shares:     18_400,
		EntryPrice: 0.50,
		SizeAmount: 9_200,
		Status:     domain.PositionStatusOpen,
	}
	positions := &stubPositions{open: map[string][]domain.Position{"ch1": {pos}}}
	prices := &stubPrices{prices: map[string]float64{"m1": 0.30}}

	// A SELL of the whole position settles at 0.30 between the evaluator's
	// snapshot and the breach transition: $5520 is already in cash and the
	// position is closed. The transition must not credit it again.
	positions.afterRead = func() {
		store.creditSell("ch1", "p1", 5_520)
	}

	ev := NewEvaluator(store, positions, prices, discardLogger())
	out, err := ev.Evaluate(context.Background(), "ch1")
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeStatusFailed, out.Status)
	require.Equal(t, []string{"failed:ch1"}, store.transitions)

	fresh, err := store.GetByID(context.Background(), "ch1")
	require.NoError(t, err)
	assert.InDelta(t, 6_320, fresh.CurrentBalance, 1e-6)
}

func TestEvaluateConcurrentTransitionAppliesOnce(t *testing.T) {
	t.Parallel()

	ch := activeChallenge("ch1")
	ch.CurrentBalance = 9_000 // under the 9200 floor
	ch.StartOfDayBalance = 9_000
	store := newCASChallenges(ch)

	ev := NewEvaluator(store, &stubPositions{}, &stubPrices{}, discardLogger())

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			out, err := ev.Evaluate(context.Background(), "ch1")
			if err != nil {
				return err
			}
			if out.Status != domain.ChallengeStatusFailed {
				return errors.New("loser must still observe the failed status")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, []string{"failed:ch1"}, store.transitions)
}

func TestRunCycleIsolatesPerChallengeErrors(t *testing.T) {
	t.Parallel()

	healthy := activeChallenge("ok")
	healthy.CurrentBalance = 11_050 // will promote
	healthy.StartOfDayBalance = 11_050
	broken := activeChallenge("broken")
	store := newCASChallenges(healthy, broken)

	positions := &stubPositions{
		failFor: map[string]error{"broken": errors.New("connection reset")},
	}
	prices := &stubPrices{}

	ev := NewEvaluator(store, positions, prices, discardLogger())
	m := New(store, positions, prices, ev, time.Second, 4, discardLogger())

	m.RunCycle(context.Background())

	// The broken challenge is skipped; the healthy one still transitions.
	assert.Equal(t, []string{"promoted:ok"}, store.transitions)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := newCASChallenges()
	positions := &stubPositions{}
	prices := &stubPrices{}
	ev := NewEvaluator(store, positions, prices, discardLogger())
	m := New(store, positions, prices, ev, 10*time.Millisecond, 2, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
