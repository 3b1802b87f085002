package pnl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/domain"
)

func TestAdjust(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.62, float64(Adjust(0.62, domain.DirectionYes)), 1e-12)
	assert.InDelta(t, 0.38, float64(Adjust(0.62, domain.DirectionNo)), 1e-12)
}

func TestSafeFloat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.5, SafeFloat(1.5, 0))
	assert.Equal(t, 7.0, SafeFloat(math.NaN(), 7))
	assert.Equal(t, 7.0, SafeFloat(math.Inf(1), 7))
	assert.Equal(t, 7.0, SafeFloat(math.Inf(-1), 7))
}

func TestPositionMetricsDirectionSymmetry(t *testing.T) {
	t.Parallel()

	// A YES position entered at 0.40 and a NO position entered at 0.40
	// (raw YES 0.60) must show identical P&L for mirrored price moves.
	yes := PositionMetrics(100, 0.40, 0.50, domain.DirectionYes)
	no := PositionMetrics(100, 0.40, 0.50, domain.DirectionNo)

	assert.InDelta(t, 10.0, yes.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10.0, no.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 50.0, yes.Value, 1e-9)
	assert.InDelta(t, 50.0, no.Value, 1e-9)
}

func TestPositionMetricsNoSideLoss(t *testing.T) {
	t.Parallel()

	// Raw YES rises 0.50 -> 0.70: a NO position entered at 0.50 loses.
	m := PositionMetrics(200, 0.50, 0.70, domain.DirectionNo)

	assert.InDelta(t, 0.30, float64(m.EffectivePrice), 1e-12)
	assert.InDelta(t, 60.0, m.Value, 1e-9)
	assert.InDelta(t, -40.0, m.UnrealizedPnL, 1e-9)
}

func TestPortfolioValueSkipsClosedPositions(t *testing.T) {
	t.Parallel()

	positions := []domain.Position{
		{MarketID: "m1", Direction: domain.DirectionYes, Shares: 100, EntryPrice: 0.50, Status: domain.PositionStatusOpen},
		{MarketID: "m2", Direction: domain.DirectionYes, Shares: 100, EntryPrice: 0.50, Status: domain.PositionStatusClosed},
	}
	prices := map[string]RawYesPrice{"m1": 0.60, "m2": 0.60}

	total, details := PortfolioValue(positions, prices)

	assert.InDelta(t, 60.0, total, 1e-9)
	require.Len(t, details, 1)
	assert.Equal(t, "m1", details[0].Position.MarketID)
}

func TestPortfolioValueEntryFallback(t *testing.T) {
	t.Parallel()

	positions := []domain.Position{
		{MarketID: "m1", Direction: domain.DirectionNo, Shares: 100, EntryPrice: 0.40, Status: domain.PositionStatusOpen},
	}

	// No cached price: the position is valued at entry with zero P&L.
	total, details := PortfolioValue(positions, map[string]RawYesPrice{})

	assert.InDelta(t, 40.0, total, 1e-9)
	require.Len(t, details, 1)
	assert.False(t, details[0].PriceLive)
	assert.Zero(t, details[0].Metrics.UnrealizedPnL)
	assert.InDelta(t, 0.40, float64(details[0].Metrics.EffectivePrice), 1e-12)
}

func TestEquityAgreesWithComponents(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		cash := rng.Float64() * 10_000
		var positions []domain.Position
		prices := map[string]RawYesPrice{}
		var want float64

		for j := 0; j < rng.Intn(8); j++ {
			id := string(rune('a' + j))
			raw := 0.05 + rng.Float64()*0.9
			dir := domain.DirectionYes
			if rng.Intn(2) == 0 {
				dir = domain.DirectionNo
			}
			shares := 1 + rng.Float64()*500
			positions = append(positions, domain.Position{
				MarketID:   id,
				Direction:  dir,
				Shares:     shares,
				EntryPrice: 0.5,
				Status:     domain.PositionStatusOpen,
			})
			prices[id] = RawYesPrice(raw)
			want += shares * float64(Adjust(RawYesPrice(raw), dir))

			// The two direction-spaces of any price are complementary.
			sum := float64(Adjust(RawYesPrice(raw), domain.DirectionYes)) +
				float64(Adjust(RawYesPrice(raw), domain.DirectionNo))
			assert.InDelta(t, 1.0, sum, 1e-12)
		}

		got := Equity(cash, positions, prices)
		assert.InDelta(t, cash+want, got, 1e-6)
	}
}
