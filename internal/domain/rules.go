package domain

import "math"

// RulesConfig is the numeric limit set snapshotted onto a challenge at
// creation. ProfitTarget, MaxDrawdown, and DailyDrawdown have historically
// been stored either as fractional percentages (0.08) or as absolute dollar
// amounts (800) by different writers, so the raw values must never be
// compared directly: call Normalize first.
type RulesConfig struct {
	ProfitTarget  float64 `json:"profit_target"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	DailyDrawdown float64 `json:"daily_drawdown"`

	MaxOpenPositions       int     `json:"max_open_positions"`
	PerEventExposurePct    float64 `json:"per_event_exposure_pct"`
	PerCategoryExposurePct float64 `json:"per_category_exposure_pct"`
	MaxTradesPerHour       int     `json:"max_trades_per_hour"`
	MinMarketVolume        float64 `json:"min_market_volume"`
	LiquidityCapPct        float64 `json:"liquidity_cap_pct"`
}

// RuleLimits is the single normalized representation of a challenge's limits:
// every monetary field is an absolute dollar amount derived from the starting
// balance. All comparisons in the risk engine and monitor operate on this
// type, never on RulesConfig directly.
type RuleLimits struct {
	ProfitTarget        float64
	MaxDrawdown         float64
	DailyDrawdown       float64
	PerEventExposure    float64
	PerCategoryExposure float64
	MinMarketVolume     float64
	LiquidityCapPct     float64
	MaxOpenPositions    int
	MaxTradesPerHour    int
}

// Fallbacks applied when a stored rule value is missing or not a finite
// positive number.
const (
	defaultProfitTargetPct  = 0.10
	defaultMaxDrawdownPct   = 0.08
	defaultDailyDrawdownPct = 0.04

	defaultPerEventExposurePct    = 0.05
	defaultPerCategoryExposurePct = 0.10
	defaultMaxTradesPerHour       = 60
	defaultMinMarketVolume        = 100_000
	defaultLiquidityCapPct        = 0.10

	minOpenPositionsCap = 10
	maxOpenPositionsCap = 50
)

// Normalize converts the rules snapshot into absolute-dollar limits against
// the given starting balance. A stored value below 1 is treated as a
// fractional percentage of the starting balance; anything else is taken as
// dollars. Non-finite or non-positive values fall back to the defaults.
func (rc RulesConfig) Normalize(startingBalance float64) RuleLimits {
	if !isFinite(startingBalance) || startingBalance <= 0 {
		startingBalance = 0
	}

	limits := RuleLimits{
		ProfitTarget:        normalizeAmount(rc.ProfitTarget, startingBalance, defaultProfitTargetPct),
		MaxDrawdown:         normalizeAmount(rc.MaxDrawdown, startingBalance, defaultMaxDrawdownPct),
		DailyDrawdown:       normalizeAmount(rc.DailyDrawdown, startingBalance, defaultDailyDrawdownPct),
		PerEventExposure:    normalizePct(rc.PerEventExposurePct, defaultPerEventExposurePct) * startingBalance,
		PerCategoryExposure: normalizePct(rc.PerCategoryExposurePct, defaultPerCategoryExposurePct) * startingBalance,
		MinMarketVolume:     positiveOr(rc.MinMarketVolume, defaultMinMarketVolume),
		LiquidityCapPct:     normalizePct(rc.LiquidityCapPct, defaultLiquidityCapPct),
		MaxOpenPositions:    rc.MaxOpenPositions,
		MaxTradesPerHour:    rc.MaxTradesPerHour,
	}

	if limits.MaxOpenPositions < minOpenPositionsCap {
		limits.MaxOpenPositions = minOpenPositionsCap
	}
	if limits.MaxOpenPositions > maxOpenPositionsCap {
		limits.MaxOpenPositions = maxOpenPositionsCap
	}
	if limits.MaxTradesPerHour <= 0 {
		limits.MaxTradesPerHour = defaultMaxTradesPerHour
	}

	return limits
}

// normalizeAmount reconciles the percentage-vs-dollars ambiguity for a single
// limit: values in (0,1) are fractional percentages of the starting balance,
// values >= 1 are already dollars.
func normalizeAmount(v, startingBalance, fallbackPct float64) float64 {
	if !isFinite(v) || v <= 0 {
		return fallbackPct * startingBalance
	}
	if v < 1 {
		return v * startingBalance
	}
	return v
}

// normalizePct guards a fractional-percentage field. Values outside (0,1]
// fall back to the default.
func normalizePct(v, fallback float64) float64 {
	if !isFinite(v) || v <= 0 || v > 1 {
		return fallback
	}
	return v
}

func positiveOr(v, fallback float64) float64 {
	if !isFinite(v) || v <= 0 {
		return fallback
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
