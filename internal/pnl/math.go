package pnl

import "github.com/propdesk/propdesk/internal/domain"

// Metrics is the mark-to-market view of a single position.
type Metrics struct {
	EffectivePrice AdjustedPrice
	Value          float64
	UnrealizedPnL  float64
}

// PositionMetrics computes the mark-to-market metrics for one position.
// entry must already be direction-adjusted per the storage convention.
func PositionMetrics(shares float64, entry AdjustedPrice, rawLive RawYesPrice, d domain.Direction) Metrics {
	eff := Adjust(rawLive, d)
	shares = SafeFloat(shares, 0)
	price := SafeFloat(float64(eff), float64(entry))
	return Metrics{
		EffectivePrice: AdjustedPrice(price),
		Value:          shares * price,
		UnrealizedPnL:  shares * (price - SafeFloat(float64(entry), 0)),
	}
}

// PositionDetail pairs a position with its computed metrics in a portfolio
// valuation. PriceLive is false when the market had no cached price and the
// position was valued at its stored entry price (zero-PnL fallback).
type PositionDetail struct {
	Position  domain.Position
	Metrics   Metrics
	PriceLive bool
}

// PortfolioValue sums mark-to-market value over all OPEN positions.
// Positions whose market is missing from prices fall back to their stored
// entry price rather than failing the valuation.
func PortfolioValue(positions []domain.Position, prices map[string]RawYesPrice) (float64, []PositionDetail) {
	var total float64
	details := make([]PositionDetail, 0, len(positions))

	for _, pos := range positions {
		if pos.Status != domain.PositionStatusOpen {
			continue
		}

		raw, ok := prices[pos.MarketID]
		var m Metrics
		if ok {
			m = PositionMetrics(pos.Shares, AdjustedPrice(pos.EntryPrice), raw, pos.Direction)
		} else {
			m = Metrics{
				EffectivePrice: AdjustedPrice(pos.EntryPrice),
				Value:          SafeFloat(pos.Shares*pos.EntryPrice, 0),
				UnrealizedPnL:  0,
			}
		}

		total += m.Value
		details = append(details, PositionDetail{Position: pos, Metrics: m, PriceLive: ok})
	}

	return SafeFloat(total, 0), details
}

// Equity is cash plus the mark-to-market value of all open positions.
func Equity(cash float64, positions []domain.Position, prices map[string]RawYesPrice) float64 {
	value, _ := PortfolioValue(positions, prices)
	return SafeFloat(cash, 0) + value
}
