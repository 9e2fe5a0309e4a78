// Package ledger holds the authoritative per-market position state. It is
// the single writer for holdings: positions change only through confirmed
// fills, applied exactly once per fill identifier.
package ledger

import (
	"log/slog"
	"sync"

	"github.com/gabagool/updownbot/internal/domain"
)

// entry is the ledger state for one market.
type entry struct {
	mu       sync.Mutex
	position domain.Position
	applied  map[string]struct{} // fill IDs already applied
}

// Ledger tracks positions for all live markets. Mutations for one market are
// serialized by a per-market lock; markets never block each other.
type Ledger struct {
	limits domain.RiskLimits
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty ledger with the given risk limits.
func New(limits domain.RiskLimits, logger *slog.Logger) *Ledger {
	return &Ledger{
		limits:  limits,
		logger:  logger.With(slog.String("component", "ledger")),
		entries: make(map[string]*entry),
	}
}

// Limits returns the risk limits the ledger was configured with.
func (l *Ledger) Limits() domain.RiskLimits { return l.limits }

func (l *Ledger) entryFor(marketID string) *entry {
	l.mu.RLock()
	e, ok := l.entries[marketID]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[marketID]; ok {
		return e
	}
	e = &entry{
		position: domain.Position{MarketID: marketID},
		applied:  make(map[string]struct{}),
	}
	l.entries[marketID] = e
	return e
}

// Current returns a read-only snapshot of the market's position.
func (l *Ledger) Current(marketID string) domain.Position {
	e := l.entryFor(marketID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// ApplyFill applies a confirmed fill to the market's position. A fill ID
// that has already been applied is a guaranteed no-op: the returned position
// is the current one and applied is false. This is what makes fill
// reconciliation safe against replays.
func (l *Ledger) ApplyFill(fill domain.Fill) (domain.Position, bool) {
	e := l.entryFor(fill.MarketID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.applied[fill.FillID]; dup {
		l.logger.Debug("duplicate fill ignored",
			slog.String("fill_id", fill.FillID),
			slog.String("market_id", fill.MarketID),
		)
		return e.position, false
	}
	e.applied[fill.FillID] = struct{}{}

	h := e.position.Holding(fill.Side)
	h.Shares += fill.Size
	h.Cost += fill.Price * fill.Size
	if fill.Side == domain.SideYes {
		e.position.Yes = h
	} else {
		e.position.No = h
	}

	l.logger.Info("fill applied",
		slog.String("market_id", fill.MarketID),
		slog.String("side", string(fill.Side)),
		slog.Float64("price", fill.Price),
		slog.Float64("size", fill.Size),
		slog.Float64("avg_price", h.AvgPrice()),
		slog.Float64("pair_cost", e.position.ProjectedPairCost()),
		slog.Float64("locked_profit", e.position.LockedProfit()),
	)
	return e.position, true
}

// ProjectedPairCost returns avg(YES) + avg(NO), pinned to 1.0 while either
// side has zero shares.
func (l *Ledger) ProjectedPairCost(marketID string) float64 {
	return l.Current(marketID).ProjectedPairCost()
}

// LockedProfit is the worst-case guaranteed profit for the market. It is the
// only profit figure used for stop decisions.
func (l *Ledger) LockedProfit(marketID string) float64 {
	return l.Current(marketID).LockedProfit()
}

// IsProfitLocked reports whether the market has reached its profit target
// with an acceptable pair cost, i.e. the strategy should stop adding.
func (l *Ledger) IsProfitLocked(marketID string) bool {
	pos := l.Current(marketID)
	return pos.LockedProfit() >= l.limits.MinProfitTarget &&
		pos.ProjectedPairCost() <= l.limits.MaxPairCost
}

// RemainingBudget returns the USD exposure still available for the market.
func (l *Ledger) RemainingBudget(marketID string) float64 {
	remaining := l.limits.MaxTotalExposure - l.Current(marketID).TotalCost()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FillCount returns how many distinct fills have been applied to the market.
func (l *Ledger) FillCount(marketID string) int {
	e := l.entryFor(marketID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.applied)
}

// Release drops the market's ledger entry after settlement bookkeeping and
// returns the final position.
func (l *Ledger) Release(marketID string) domain.Position {
	l.mu.Lock()
	e, ok := l.entries[marketID]
	delete(l.entries, marketID)
	l.mu.Unlock()
	if !ok {
		return domain.Position{MarketID: marketID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}
