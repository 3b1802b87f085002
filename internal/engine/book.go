package engine

import (
	"time"

	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/pnl"
)

// bookSide identifies which side of the native YES order book an order
// consumes.
type bookSide string

const (
	sideAsks bookSide = "asks"
	sideBids bookSide = "bids"
)

// effectiveBookSide maps a (type, direction) pair onto the single native YES
// book. BUY-YES and SELL-YES consume asks and bids directly. BUY-NO consumes
// the YES bid side (a NO buyer is an implicit YES seller's counterparty) and
// SELL-NO consumes the YES ask side. This asymmetric mapping also renames
// the displayed price: a NO fill executes at 1 - matchedYesPrice.
func effectiveBookSide(t domain.TradeType, d domain.Direction) bookSide {
	if d == domain.DirectionNo {
		if t == domain.TradeTypeBuy {
			return sideBids
		}
		return sideAsks
	}
	if t == domain.TradeTypeBuy {
		return sideAsks
	}
	return sideBids
}

// sideLevels returns the chosen side's levels, best price first. Bids are
// stored descending and asks ascending, so both are already walk-ordered.
func sideLevels(book domain.BookSnapshot, s bookSide) []domain.BookLevel {
	if s == sideBids {
		return book.Bids
	}
	return book.Asks
}

// fillBuy walks the book consuming cash and returns the volume-weighted
// average fill price in the trade's direction-space plus the shares bought.
// It returns ErrInsufficientLiquidity when the book cannot absorb the cash.
func fillBuy(levels []domain.BookLevel, d domain.Direction, cash float64) (pnl.AdjustedPrice, float64, error) {
	remaining := cash
	var shares float64

	for _, lvl := range levels {
		price := float64(pnl.Adjust(pnl.RawYesPrice(lvl.Price), d))
		if price <= 0 || lvl.Size <= 0 {
			continue
		}

		levelCash := lvl.Size * price
		if levelCash >= remaining {
			shares += remaining / price
			remaining = 0
			break
		}
		shares += lvl.Size
		remaining -= levelCash
	}

	if remaining > 1e-9 || shares <= 0 {
		return 0, 0, domain.ErrInsufficientLiquidity
	}
	return pnl.AdjustedPrice(cash / shares), shares, nil
}

// fillSell walks the book selling the given shares and returns the
// volume-weighted average price in the trade's direction-space.
func fillSell(levels []domain.BookLevel, d domain.Direction, shares float64) (pnl.AdjustedPrice, error) {
	remaining := shares
	var proceeds float64

	for _, lvl := range levels {
		price := float64(pnl.Adjust(pnl.RawYesPrice(lvl.Price), d))
		if price <= 0 || lvl.Size <= 0 {
			continue
		}

		if lvl.Size >= remaining {
			proceeds += remaining * price
			remaining = 0
			break
		}
		proceeds += lvl.Size * price
		remaining -= lvl.Size
	}

	if remaining > 1e-9 {
		return 0, domain.ErrInsufficientLiquidity
	}
	return pnl.AdjustedPrice(proceeds / shares), nil
}

// syntheticBook fabricates a symmetric book around the cached price for
// markets with no live snapshot, so thin coverage degrades execution quality
// instead of blocking it. Callers log its use as a visibility warning.
func syntheticBook(marketID string, raw pnl.RawYesPrice, depth float64, numLevels int, step float64) domain.BookSnapshot {
	if numLevels <= 0 {
		numLevels = 5
	}
	if step <= 0 {
		step = 0.005
	}

	book := domain.BookSnapshot{
		MarketID:  marketID,
		Timestamp: time.Now().UTC(),
	}
	for i := 0; i < numLevels; i++ {
		bid := float64(raw) - float64(i)*step
		ask := float64(raw) + float64(i)*step
		if bid > 0 {
			book.Bids = append(book.Bids, domain.BookLevel{Price: bid, Size: depth})
		}
		if ask < 1 {
			book.Asks = append(book.Asks, domain.BookLevel{Price: ask, Size: depth})
		}
	}
	return book
}

// applySlippage worsens the fill price by the configured percentage: up for
// buys, down for sells, clamped inside (0,1).
func applySlippage(price pnl.AdjustedPrice, t domain.TradeType, slippagePct float64) pnl.AdjustedPrice {
	p := float64(price)
	if t == domain.TradeTypeBuy {
		p *= 1 + slippagePct
	} else {
		p *= 1 - slippagePct
	}
	if p <= 0 {
		p = 0.001
	}
	if p >= 1 {
		p = 0.999
	}
	return pnl.AdjustedPrice(p)
}
