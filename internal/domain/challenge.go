package domain

import "time"

// Phase is the evaluation stage a challenge account is in.
type Phase string

const (
	PhaseChallenge    Phase = "challenge"
	PhaseVerification Phase = "verification" // defined but currently bypassed
	PhaseFunded       Phase = "funded"
)

// ChallengeStatus tracks the lifecycle of a challenge account. Only active
// accounts may trade, and only active accounts may be transitioned by the
// risk monitor.
type ChallengeStatus string

const (
	ChallengeStatusActive ChallengeStatus = "active"
	ChallengeStatusPassed ChallengeStatus = "passed"
	ChallengeStatusFailed ChallengeStatus = "failed"
)

// Challenge is one funded-account evaluation. CurrentBalance is cash only;
// equity is cash plus the mark-to-market value of open positions.
type Challenge struct {
	ID              string
	UserID          string
	Phase           Phase
	Status          ChallengeStatus
	StartingBalance float64
	CurrentBalance  float64
	// StartOfDayBalance resets at 00:00 UTC and anchors daily-loss checks.
	StartOfDayBalance float64
	LastDailyReset    time.Time
	HighWaterMark     float64

	// Rules is the limits snapshot taken at creation. Later rule changes do
	// not affect in-flight accounts.
	Rules RulesConfig

	// Funded-phase bookkeeping.
	ProfitSplit       float64
	PayoutCap         float64
	PayoutCycleStart  *time.Time
	ActiveTradingDays int
	LastActivityAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTradable reports whether trading is permitted on the challenge.
func (c Challenge) IsTradable() bool {
	return c.Status == ChallengeStatusActive
}
