package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func balanced() Position {
	return Position{
		MarketID: "m1",
		Yes:      SideHolding{Shares: 1266, Cost: 654.42},
		No:       SideHolding{Shares: 1294, Cost: 581.21},
	}
}

func TestSideHolding_AvgPrice(t *testing.T) {
	assert.InDelta(t, 0.517, SideHolding{Shares: 1266, Cost: 654.42}.AvgPrice(), 1e-3)
	assert.Zero(t, SideHolding{}.AvgPrice())
}

func TestPosition_PairCostAndProfit(t *testing.T) {
	p := balanced()

	assert.InDelta(t, 0.966, p.PairCost(), 1e-3)
	assert.InDelta(t, p.PairCost(), p.ProjectedPairCost(), 1e-12)
	assert.InDelta(t, 1235.63, p.TotalCost(), 1e-9)
	assert.InDelta(t, 1266, p.MatchedShares(), 1e-9)
	assert.InDelta(t, 1266-1235.63, p.LockedProfit(), 1e-9)

	// Payout if the larger (NO) side wins, and the smaller (YES) side.
	assert.InDelta(t, 1294-1235.63, p.MaxPotentialProfit(), 1e-9)
	assert.InDelta(t, p.LockedProfit(), p.MinPotentialProfit(), 1e-12)
}

func TestPosition_OneSidedHasNoProfit(t *testing.T) {
	p := Position{Yes: SideHolding{Shares: 100, Cost: 48}}

	assert.InDelta(t, 1.0, p.ProjectedPairCost(), 1e-12)
	assert.Zero(t, p.LockedProfit())
	assert.Zero(t, p.BalanceRatio())
}

func TestPosition_ImbalanceAndBalanceRatio(t *testing.T) {
	p := balanced()
	assert.InDelta(t, -28, p.Imbalance(), 1e-9)
	assert.InDelta(t, 1266.0/1294.0, p.BalanceRatio(), 1e-12)

	even := Position{
		Yes: SideHolding{Shares: 100, Cost: 48},
		No:  SideHolding{Shares: 100, Cost: 45},
	}
	assert.Zero(t, even.Imbalance())
	assert.InDelta(t, 1.0, even.BalanceRatio(), 1e-12)
}

func TestPosition_SimulateBuy(t *testing.T) {
	p := Position{No: SideHolding{Shares: 100, Cost: 45}} // NO avg 0.45

	// First YES buy: pair cost is the candidate price plus the NO average.
	assert.InDelta(t, 0.60+0.45, p.SimulateBuy(SideYes, 0.60, 50), 1e-12)

	// The position itself is untouched.
	assert.Zero(t, p.Yes.Shares)

	// Averaging down an existing side.
	p.Yes = SideHolding{Shares: 100, Cost: 60} // avg 0.60
	got := p.SimulateBuy(SideYes, 0.40, 100)   // new avg (60+40)/200 = 0.50
	assert.InDelta(t, 0.50+0.45, got, 1e-12)
}

func TestSide_OtherAndValid(t *testing.T) {
	assert.Equal(t, SideNo, SideYes.Other())
	assert.Equal(t, SideYes, SideNo.Other())
	assert.True(t, SideYes.Valid())
	assert.False(t, Side("MAYBE").Valid())
}

func TestOrderState_Terminal(t *testing.T) {
	for _, s := range []OrderState{OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateExpired} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []OrderState{OrderStateCreated, OrderStateSubmitted, OrderStatePartiallyFilled} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestOrder_Remaining(t *testing.T) {
	o := Order{Size: 100, FilledSize: 40}
	assert.InDelta(t, 60, o.Remaining(), 1e-12)

	o.FilledSize = 120 // overfill reported by the exchange clamps to zero
	assert.Zero(t, o.Remaining())
}
