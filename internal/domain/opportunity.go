package domain

import "time"

// Opportunity is the detector's decision to buy size shares of one side.
// Size is always the maximum consistent with every limit; the detector never
// scales down arbitrarily.
type Opportunity struct {
	MarketID string
	Side     Side
	Price    float64
	Size     float64
	// PairCostAfter is the simulated pair cost once the buy fills in full.
	PairCostAfter float64
	// Reason is a short human-readable justification for observability.
	Reason     string
	DetectedAt time.Time
}

// Notional returns the USD committed if the opportunity fills in full.
func (o Opportunity) Notional() float64 {
	return o.Price * o.Size
}
