package domain

import "math"

// RiskLimits is the process-wide, read-only risk configuration injected at
// startup.
type RiskLimits struct {
	// MaxPairCost is the highest acceptable blended cost of one YES share
	// plus one NO share (e.g. 0.99).
	MaxPairCost float64
	// MaxTradeNotional is the maximum USD committed by a single order.
	MaxTradeNotional float64
	// MaxTotalExposure is the maximum cumulative USD committed per market.
	MaxTotalExposure float64
	// MinProfitTarget is the locked profit at which the strategy stops
	// opening new positions for a market.
	MinProfitTarget float64
}

// SideHolding is the holdings on one side of a market.
type SideHolding struct {
	Shares float64
	Cost   float64 // cumulative USD paid for Shares
}

// AvgPrice returns the cost-weighted average purchase price, or 0 when no
// shares are held.
func (h SideHolding) AvgPrice() float64 {
	if h.Shares <= 0 {
		return 0
	}
	return h.Cost / h.Shares
}

// Position is the authoritative per-market holdings snapshot. It is owned
// exclusively by the ledger and mutated only by confirmed fills.
type Position struct {
	MarketID string
	Yes      SideHolding
	No       SideHolding
}

// Holding returns the holdings for the given side.
func (p Position) Holding(side Side) SideHolding {
	if side == SideYes {
		return p.Yes
	}
	return p.No
}

// TotalCost is the cumulative USD exposure committed to this market.
func (p Position) TotalCost() float64 {
	return p.Yes.Cost + p.No.Cost
}

// PairCost is the sum of the two average purchase prices. It is undefined
// while either side has zero shares; callers that need the "no profit yet"
// semantics should use ProjectedPairCost.
func (p Position) PairCost() float64 {
	return p.Yes.AvgPrice() + p.No.AvgPrice()
}

// ProjectedPairCost is PairCost with the undefined case pinned to 1.0 (no
// locked profit) while either side is still empty.
func (p Position) ProjectedPairCost() float64 {
	if p.Yes.Shares <= 0 || p.No.Shares <= 0 {
		return 1.0
	}
	return p.PairCost()
}

// MatchedShares is the hedged share count: min(YES, NO).
func (p Position) MatchedShares() float64 {
	return math.Min(p.Yes.Shares, p.No.Shares)
}

// Imbalance is sharesYES - sharesNO. Positive means YES-heavy.
func (p Position) Imbalance() float64 {
	return p.Yes.Shares - p.No.Shares
}

// BalanceRatio is min/max of the two share counts; 1.0 when perfectly
// balanced, 0 while either side is empty.
func (p Position) BalanceRatio() float64 {
	if p.Yes.Shares <= 0 || p.No.Shares <= 0 {
		return 0
	}
	return math.Min(p.Yes.Shares, p.No.Shares) / math.Max(p.Yes.Shares, p.No.Shares)
}

// LockedProfit is the profit guaranteed regardless of outcome: the matched
// shares pay out $1 each at settlement while unmatched shares are worth
// nothing in the worst case, so the whole cumulative cost is subtracted.
func (p Position) LockedProfit() float64 {
	matched := p.MatchedShares()
	if matched <= 0 {
		return 0
	}
	return matched - p.TotalCost()
}

// MaxPotentialProfit is the payout minus cost if the larger side wins.
func (p Position) MaxPotentialProfit() float64 {
	return math.Max(p.Yes.Shares, p.No.Shares) - p.TotalCost()
}

// MinPotentialProfit is the payout minus cost if the smaller side wins.
// Identical to LockedProfit when both sides hold shares.
func (p Position) MinPotentialProfit() float64 {
	return math.Min(p.Yes.Shares, p.No.Shares) - p.TotalCost()
}

// SimulateBuy returns the pair cost that would result from buying size
// shares of side at price, without mutating the position. An empty opposite
// side contributes zero, matching the detector's entry semantics.
func (p Position) SimulateBuy(side Side, price, size float64) float64 {
	h := p.Holding(side)
	newShares := h.Shares + size
	if newShares <= 0 {
		return p.PairCost()
	}
	newAvg := (h.Cost + price*size) / newShares
	return newAvg + p.Holding(side.Other()).AvgPrice()
}
