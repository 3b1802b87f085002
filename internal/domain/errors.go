package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrChallengeNotActive    = errors.New("challenge is not active")
	ErrMarketUnavailable     = errors.New("market unavailable")
	ErrMarketResolved        = errors.New("market price is at resolution bounds")
	ErrInsufficientLiquidity = errors.New("insufficient order book liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// Rule identifiers for pre-trade risk rejections, in evaluation order.
const (
	RuleMaxDrawdown      = "max_drawdown"
	RuleDailyDrawdown    = "daily_drawdown"
	RuleEventExposure    = "event_exposure"
	RuleCategoryExposure = "category_exposure"
	RuleVolumeTier       = "volume_tier"
	RuleLiquidity        = "liquidity"
	RuleMinVolume        = "min_volume"
	RulePositionCount    = "position_count"
	RuleTradeFrequency   = "trade_frequency"
)

// RejectionError is returned when a proposed trade fails one of the ordered
// pre-trade risk checks. Rule identifies which check fired so callers can
// surface the specific reason.
type RejectionError struct {
	Rule   string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("trade rejected by %s: %s", e.Rule, e.Detail)
}

// Reject builds a RejectionError for the given rule.
func Reject(rule, format string, args ...any) error {
	return &RejectionError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a RejectionError if it is one.
func AsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
