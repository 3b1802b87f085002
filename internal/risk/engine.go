// Package risk implements the pre-trade validation gate: nine ordered
// checks evaluated against a fully-assembled snapshot of the challenge, its
// portfolio, and the target market. The engine is pure; it reads nothing and
// mutates nothing, so the caller owns all I/O and acts on the verdict.
package risk

import (
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/pnl"
)

// volumeTiers caps position size as a fraction of starting balance by the
// market's 24h volume. Tiers are checked top-down; markets below the lowest
// tier are already excluded by the minimum-volume filter.
var volumeTiers = []struct {
	MinVolume24h   float64
	MaxPositionPct float64
}{
	{10_000_000, 0.05},
	{1_000_000, 0.025},
	{100_000, 0.02},
}

// Proposal is the trade under validation.
type Proposal struct {
	MarketID   string
	Type       domain.TradeType
	Direction  domain.Direction
	CashAmount float64
}

// Input is everything ValidateTrade needs, assembled by the caller so the
// engine itself stays free of I/O.
type Input struct {
	Challenge domain.Challenge
	// Limits is the challenge's rules snapshot, already normalized to
	// absolute dollars against the starting balance.
	Limits   domain.RuleLimits
	Proposal Proposal
	Market   domain.Market

	OpenPositions []domain.Position
	Prices        map[string]pnl.RawYesPrice

	// SiblingMarketIDs lists all markets in the proposal market's event,
	// including the proposal market itself. SiblingLookupFailed signals
	// that the lookup failed; the event check then fails closed by capping
	// the proposal market's own exposure instead of allowing unlimited
	// exposure.
	SiblingMarketIDs    []string
	SiblingLookupFailed bool

	// MarketCategories maps each open position's market to its category,
	// resolved by the caller via Classify.
	MarketCategories map[string]string

	// TradesLastHour is the challenge's trade count in the sliding
	// one-hour window of the trade ledger.
	TradesLastHour int
}

// ValidateTrade runs the nine ordered checks; the first failure wins and is
// returned as a *domain.RejectionError. A nil return accepts the trade.
//
// SELL orders reduce exposure, so only the liquidity, minimum-volume, and
// trade-frequency checks apply to them.
func ValidateTrade(in Input) error {
	cash := pnl.SafeFloat(in.Proposal.CashAmount, 0)
	isBuy := in.Proposal.Type == domain.TradeTypeBuy

	// 1. Max total drawdown: worst-case post-trade equity (the full new
	// stake lost) must stay above the floor.
	if isBuy {
		equity := pnl.Equity(in.Challenge.CurrentBalance, in.OpenPositions, in.Prices)
		floor := in.Challenge.StartingBalance - in.Limits.MaxDrawdown
		if equity-cash < floor {
			return domain.Reject(domain.RuleMaxDrawdown,
				"worst-case equity %.2f would breach max drawdown floor %.2f", equity-cash, floor)
		}

		// 2. Daily drawdown, against the start-of-day balance.
		dailyFloor := in.Challenge.StartOfDayBalance - in.Limits.DailyDrawdown
		if equity-cash < dailyFloor {
			return domain.Reject(domain.RuleDailyDrawdown,
				"worst-case equity %.2f would breach daily drawdown floor %.2f", equity-cash, dailyFloor)
		}

		// 3. Per-event exposure across sibling markets.
		if err := checkEventExposure(in, cash); err != nil {
			return err
		}

		// 4. Per-category exposure.
		if err := checkCategoryExposure(in, cash); err != nil {
			return err
		}

		// 5. Volume-tiered position size.
		if err := checkVolumeTier(in, cash); err != nil {
			return err
		}
	}

	// 6. Liquidity: trade notional capped relative to 24h volume so a
	// single order cannot impact the market it trades.
	if maxNotional := in.Limits.LiquidityCapPct * in.Market.Volume24h; cash > maxNotional {
		return domain.Reject(domain.RuleLiquidity,
			"notional %.2f exceeds %.0f%% of 24h volume (%.2f)", cash, in.Limits.LiquidityCapPct*100, maxNotional)
	}

	// 7. Minimum volume filter.
	if in.Market.VolumeTotal < in.Limits.MinMarketVolume {
		return domain.Reject(domain.RuleMinVolume,
			"market volume %.2f below minimum %.2f", in.Market.VolumeTotal, in.Limits.MinMarketVolume)
	}

	// 8. Position-count limit. Averaging into an existing position does not
	// add a slot.
	if isBuy && !hasOpenPosition(in.OpenPositions, in.Proposal.MarketID, in.Proposal.Direction) {
		if len(in.OpenPositions) >= in.Limits.MaxOpenPositions {
			return domain.Reject(domain.RulePositionCount,
				"open positions %d at limit %d", len(in.OpenPositions), in.Limits.MaxOpenPositions)
		}
	}

	// 9. Trade-frequency limit.
	if in.TradesLastHour >= in.Limits.MaxTradesPerHour {
		return domain.Reject(domain.RuleTradeFrequency,
			"%d trades in the last hour at limit %d", in.TradesLastHour, in.Limits.MaxTradesPerHour)
	}

	return nil
}

func checkEventExposure(in Input, cash float64) error {
	siblings := make(map[string]bool, len(in.SiblingMarketIDs))
	if in.SiblingLookupFailed || len(in.SiblingMarketIDs) == 0 {
		// Fail closed: cap this market's own exposure under the event limit.
		siblings[in.Proposal.MarketID] = true
	} else {
		for _, id := range in.SiblingMarketIDs {
			siblings[id] = true
		}
	}

	exposure := cash
	for _, pos := range in.OpenPositions {
		if siblings[pos.MarketID] {
			exposure += pos.SizeAmount
		}
	}
	if exposure > in.Limits.PerEventExposure {
		return domain.Reject(domain.RuleEventExposure,
			"event exposure %.2f exceeds limit %.2f", exposure, in.Limits.PerEventExposure)
	}
	return nil
}

func checkCategoryExposure(in Input, cash float64) error {
	category := Classify(in.Market)

	exposure := cash
	for _, pos := range in.OpenPositions {
		if in.MarketCategories[pos.MarketID] == category {
			exposure += pos.SizeAmount
		}
	}
	if exposure > in.Limits.PerCategoryExposure {
		return domain.Reject(domain.RuleCategoryExposure,
			"%s exposure %.2f exceeds limit %.2f", category, exposure, in.Limits.PerCategoryExposure)
	}
	return nil
}

func checkVolumeTier(in Input, cash float64) error {
	var tierPct float64
	for _, tier := range volumeTiers {
		if in.Market.Volume24h >= tier.MinVolume24h {
			tierPct = tier.MaxPositionPct
			break
		}
	}
	if tierPct == 0 {
		// Below the lowest tier; the minimum-volume filter will reject it,
		// but never allow an unbounded size in the meantime.
		tierPct = volumeTiers[len(volumeTiers)-1].MaxPositionPct
	}

	size := cash
	for _, pos := range in.OpenPositions {
		if pos.MarketID == in.Proposal.MarketID {
			size += pos.SizeAmount
		}
	}

	maxSize := tierPct * in.Challenge.StartingBalance
	if size > maxSize {
		return domain.Reject(domain.RuleVolumeTier,
			"position size %.2f exceeds tier limit %.2f (24h volume %.0f)", size, maxSize, in.Market.Volume24h)
	}
	return nil
}

func hasOpenPosition(positions []domain.Position, marketID string, d domain.Direction) bool {
	for _, pos := range positions {
		if pos.MarketID == marketID && pos.Direction == d {
			return true
		}
	}
	return false
}
