// Package detector implements the arbitrage decision function. Given a quote
// snapshot and the current position it decides whether to buy, which side,
// and how much. It holds no state of its own: every call is a pure function
// of its inputs and the configured risk limits.
package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/gabagool/updownbot/internal/domain"
)

// Detector evaluates quote snapshots against risk limits.
type Detector struct {
	limits domain.RiskLimits
}

// New creates a Detector with the given risk limits.
func New(limits domain.RiskLimits) *Detector {
	return &Detector{limits: limits}
}

// profitLocked mirrors the ledger's stop condition from a raw position.
func (d *Detector) profitLocked(pos domain.Position) bool {
	return pos.LockedProfit() >= d.limits.MinProfitTarget &&
		pos.ProjectedPairCost() <= d.limits.MaxPairCost
}

// cappedSize returns the greedy maximum size for a buy at price: the full
// available size, shrunk only by the per-trade notional cap and the
// remaining exposure budget. reserved is notional already committed to
// unresolved orders, so two sides in flight cannot jointly overshoot the
// exposure cap. Zero when no size survives the caps.
func (d *Detector) cappedSize(pos domain.Position, reserved, price, available float64) float64 {
	if price <= 0 || available <= 0 {
		return 0
	}
	remaining := d.limits.MaxTotalExposure - pos.TotalCost() - reserved
	if remaining <= 0 {
		return 0
	}
	size := math.Min(available, d.limits.MaxTradeNotional/price)
	size = math.Min(size, remaining/price)
	if size <= 0 {
		return 0
	}
	return size
}

// Evaluate decides whether the snapshot is a buyable opportunity for the
// market in the given lifecycle state. It returns false when the market is
// not Active, profit is already locked, or no size passes every limit.
func (d *Detector) Evaluate(state domain.MarketState, pos domain.Position, reserved float64, snap domain.QuoteSnapshot) (domain.Opportunity, bool) {
	if state != domain.MarketStateActive {
		return domain.Opportunity{}, false
	}
	if d.profitLocked(pos) {
		return domain.Opportunity{}, false
	}

	size := d.cappedSize(pos, reserved, snap.BestAsk, snap.AskSize)
	if size <= 0 {
		return domain.Opportunity{}, false
	}

	pairCostAfter := pos.SimulateBuy(snap.Side, snap.BestAsk, size)
	if pairCostAfter > d.limits.MaxPairCost {
		return domain.Opportunity{}, false
	}
	if pos.TotalCost()+reserved+snap.BestAsk*size > d.limits.MaxTotalExposure+1e-9 {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		MarketID:      snap.MarketID,
		Side:          snap.Side,
		Price:         snap.BestAsk,
		Size:          size,
		PairCostAfter: pairCostAfter,
		Reason:        fmt.Sprintf("%s cheap at %.4f, pair cost after %.4f", snap.Side, snap.BestAsk, pairCostAfter),
		DetectedAt:    time.Now().UTC(),
	}, true
}

// EvaluateBoth handles the rare tick where snapshots for both sides qualify
// at once. Preference order: the side holding fewer shares (drive the
// imbalance toward zero), then the lower absolute price.
func (d *Detector) EvaluateBoth(state domain.MarketState, pos domain.Position, reserved float64, yes, no domain.QuoteSnapshot) (domain.Opportunity, bool) {
	yesOpp, yesOK := d.Evaluate(state, pos, reserved, yes)
	noOpp, noOK := d.Evaluate(state, pos, reserved, no)

	switch {
	case yesOK && noOK:
		imbalance := pos.Imbalance()
		if imbalance > 0 {
			return noOpp, true
		}
		if imbalance < 0 {
			return yesOpp, true
		}
		if yesOpp.Price <= noOpp.Price {
			return yesOpp, true
		}
		return noOpp, true
	case yesOK:
		return yesOpp, true
	case noOK:
		return noOpp, true
	default:
		return domain.Opportunity{}, false
	}
}

// MaxEntryPrice returns the highest price worth paying for side given the
// opposite side's average cost, clamped to [0.01, 0.95]. Exported for
// observability reports only; the accept decision always goes through
// Evaluate.
func (d *Detector) MaxEntryPrice(pos domain.Position, side domain.Side) float64 {
	other := pos.Holding(side.Other())
	max := d.limits.MaxPairCost
	if other.Shares > 0 {
		max = d.limits.MaxPairCost - other.AvgPrice()
	}
	if max > 0.95 {
		max = 0.95
	}
	if max < 0.01 {
		max = 0.01
	}
	return max
}
