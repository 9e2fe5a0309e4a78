package domain

import "time"

// MarketState is the lifecycle state of a trading window.
type MarketState string

const (
	MarketStateScheduled MarketState = "scheduled"
	MarketStateActive    MarketState = "active"
	MarketStateClosing   MarketState = "closing"
	MarketStateSettled   MarketState = "settled"
	MarketStateArchived  MarketState = "archived"
)

// Terminal reports whether no further transitions are possible from s.
func (s MarketState) Terminal() bool {
	return s == MarketStateArchived
}

// Outcome is the resolution of a settled market.
type Outcome string

const (
	OutcomeUnresolved Outcome = ""
	OutcomeYes        Outcome = "yes"
	OutcomeNo         Outcome = "no"
)

// Market represents one fixed-duration binary prediction market window
// (e.g. "Bitcoin up or down, 14:00-14:15"). State transitions are the only
// mutation; they are owned by the lifecycle manager.
type Market struct {
	ID          string
	Question    string
	Slug        string
	WindowStart time.Time
	WindowEnd   time.Time
	YesTokenID  string
	NoTokenID   string
	State       MarketState
	Outcome     Outcome // set when State >= Settled
	Volume      float64
	Liquidity   float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenID returns the token identifier for the given side.
func (m Market) TokenID(side Side) string {
	if side == SideYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// TimeRemaining returns the time until the window ends relative to now,
// never negative.
func (m Market) TimeRemaining(now time.Time) time.Duration {
	d := m.WindowEnd.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Tradeable reports whether new positions may be opened on this market.
func (m Market) Tradeable() bool {
	return m.State == MarketStateActive
}

// StateChange is a lifecycle transition event published to subscribers.
type StateChange struct {
	MarketID string
	From     MarketState
	To       MarketState
	Outcome  Outcome // meaningful on transition to Settled
	At       time.Time
}

// validTransitions encodes the lifecycle state machine.
var validTransitions = map[MarketState]MarketState{
	MarketStateScheduled: MarketStateActive,
	MarketStateActive:    MarketStateClosing,
	MarketStateClosing:   MarketStateSettled,
	MarketStateSettled:   MarketStateArchived,
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
func CanTransition(from, to MarketState) bool {
	return validTransitions[from] == to
}
