package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFractionsVsDollars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rc   RulesConfig
		want RuleLimits
	}{
		{
			name: "fractional percentages",
			rc: RulesConfig{
				ProfitTarget:  0.10,
				MaxDrawdown:   0.08,
				DailyDrawdown: 0.04,
			},
			want: RuleLimits{ProfitTarget: 1000, MaxDrawdown: 800, DailyDrawdown: 400},
		},
		{
			name: "absolute dollars",
			rc: RulesConfig{
				ProfitTarget:  1500,
				MaxDrawdown:   900,
				DailyDrawdown: 300,
			},
			want: RuleLimits{ProfitTarget: 1500, MaxDrawdown: 900, DailyDrawdown: 300},
		},
		{
			name: "zero values fall back to defaults",
			rc:   RulesConfig{},
			want: RuleLimits{ProfitTarget: 1000, MaxDrawdown: 800, DailyDrawdown: 400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.rc.Normalize(10_000)
			assert.InDelta(t, tt.want.ProfitTarget, got.ProfitTarget, 1e-9)
			assert.InDelta(t, tt.want.MaxDrawdown, got.MaxDrawdown, 1e-9)
			assert.InDelta(t, tt.want.DailyDrawdown, got.DailyDrawdown, 1e-9)
		})
	}
}

func TestNormalizeNonFiniteValues(t *testing.T) {
	t.Parallel()

	rc := RulesConfig{
		ProfitTarget:  math.NaN(),
		MaxDrawdown:   math.Inf(1),
		DailyDrawdown: -5,
	}
	got := rc.Normalize(10_000)

	assert.InDelta(t, 1000, got.ProfitTarget, 1e-9)
	assert.InDelta(t, 800, got.MaxDrawdown, 1e-9)
	assert.InDelta(t, 400, got.DailyDrawdown, 1e-9)
}

func TestNormalizeExposureAndDefaults(t *testing.T) {
	t.Parallel()

	got := RulesConfig{}.Normalize(10_000)

	assert.InDelta(t, 500, got.PerEventExposure, 1e-9)
	assert.InDelta(t, 1000, got.PerCategoryExposure, 1e-9)
	assert.InDelta(t, 100_000, got.MinMarketVolume, 1e-9)
	assert.InDelta(t, 0.10, got.LiquidityCapPct, 1e-9)
	assert.Equal(t, 10, got.MaxOpenPositions)
	assert.Equal(t, 60, got.MaxTradesPerHour)
}

func TestNormalizeOpenPositionsClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10, RulesConfig{MaxOpenPositions: 3}.Normalize(10_000).MaxOpenPositions)
	assert.Equal(t, 25, RulesConfig{MaxOpenPositions: 25}.Normalize(10_000).MaxOpenPositions)
	assert.Equal(t, 50, RulesConfig{MaxOpenPositions: 500}.Normalize(10_000).MaxOpenPositions)
}

func TestNormalizePctOutOfRange(t *testing.T) {
	t.Parallel()

	// A liquidity cap above 1 is nonsense and falls back to the default.
	got := RulesConfig{LiquidityCapPct: 12}.Normalize(10_000)
	assert.InDelta(t, 0.10, got.LiquidityCapPct, 1e-9)
}
