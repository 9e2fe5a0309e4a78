package domain

import "time"

// QuoteSnapshot is the latest known best ask for one side of a market.
// Snapshots are immutable; a snapshot is superseded only by a later one with
// a higher sequence number.
type QuoteSnapshot struct {
	MarketID   string
	Side       Side
	BestAsk    float64
	AskSize    float64 // shares available at BestAsk
	Sequence   uint64  // per (market, side), monotonically increasing
	ReceivedAt time.Time
}

// Notional returns the USD value available at the best ask.
func (q QuoteSnapshot) Notional() float64 {
	return q.BestAsk * q.AskSize
}

// StalenessSignal is raised by the quote monitor when a (market, side) has
// not received an update within the staleness timeout. Open orders on a
// stale side must not be trusted.
type StalenessSignal struct {
	MarketID string
	Side     Side
	LastSeen time.Time
	At       time.Time
}

// QuoteEvent is a raw update from the quote feed, before sequencing and
// staleness checks.
type QuoteEvent struct {
	MarketID  string
	Side      Side
	Price     float64
	Size      float64
	Sequence  uint64
	Timestamp time.Time
}
