// Package quote turns the raw exchange quote stream into sequenced,
// staleness-checked snapshots per market side.
package quote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabagool/updownbot/internal/domain"
)

// sideKey identifies one (market, side) stream.
type sideKey struct {
	marketID string
	side     domain.Side
}

// sideState is the latest known quote for one stream.
type sideState struct {
	snap  domain.QuoteSnapshot
	seen  bool
	stale bool
}

// marketSub is the pair of channels delivered to a market's worker.
type marketSub struct {
	quotes chan domain.QuoteSnapshot
	stale  chan domain.StalenessSignal
}

// Monitor consumes the shared quote feed and maintains the freshest best-ask
// snapshot per (market, side). Updates with a sequence number at or below
// the last accepted one are discarded; a side is never rolled back to an
// older snapshot. When a tracked side goes quiet for longer than the
// staleness timeout, a staleness signal is raised once per quiet period.
type Monitor struct {
	feed    domain.QuoteFeed
	cache   domain.QuoteCache // optional mirror, best-effort
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	states map[sideKey]*sideState
	subs   map[string]*marketSub
}

// NewMonitor creates a Monitor reading from feed. cache may be nil.
func NewMonitor(feed domain.QuoteFeed, cache domain.QuoteCache, staleTimeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		feed:    feed,
		cache:   cache,
		timeout: staleTimeout,
		logger:  logger.With(slog.String("component", "quote_monitor")),
		states:  make(map[sideKey]*sideState),
		subs:    make(map[string]*marketSub),
	}
}

// Track subscribes the monitor to both sides of the market and returns the
// channels its worker should consume: fresh snapshots and staleness signals.
func (m *Monitor) Track(ctx context.Context, market domain.Market) (<-chan domain.QuoteSnapshot, <-chan domain.StalenessSignal, error) {
	if err := m.feed.Subscribe(ctx, market); err != nil {
		return nil, nil, fmt.Errorf("quote: subscribe %s: %w", market.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[market.ID]
	if !ok {
		sub = &marketSub{
			quotes: make(chan domain.QuoteSnapshot, 64),
			stale:  make(chan domain.StalenessSignal, 8),
		}
		m.subs[market.ID] = sub
	}
	return sub.quotes, sub.stale, nil
}

// Untrack stops tracking the market and closes its channels.
func (m *Monitor) Untrack(ctx context.Context, market domain.Market) {
	if err := m.feed.Unsubscribe(ctx, market); err != nil {
		m.logger.Warn("unsubscribe failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[market.ID]; ok {
		close(sub.quotes)
		close(sub.stale)
		delete(m.subs, market.ID)
	}
	for _, side := range domain.Sides {
		delete(m.states, sideKey{marketID: market.ID, side: side})
	}
}

// Latest returns the freshest snapshot for (marketID, side). It returns
// domain.ErrStaleQuote when the side has gone quiet past the timeout or has
// never been seen.
func (m *Monitor) Latest(marketID string, side domain.Side) (domain.QuoteSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sideKey{marketID: marketID, side: side}]
	if !ok || !st.seen || st.stale {
		return domain.QuoteSnapshot{}, domain.ErrStaleQuote
	}
	return st.snap, nil
}

// Run consumes the feed and drives the staleness ticker until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("quote monitor started", slog.Duration("stale_timeout", m.timeout))
	defer m.logger.Info("quote monitor stopped")

	ticker := time.NewTicker(m.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.feed.Events():
			if !ok {
				return nil
			}
			m.handle(ctx, ev)
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// handle applies one raw event, dropping duplicates and out-of-order updates.
func (m *Monitor) handle(ctx context.Context, ev domain.QuoteEvent) {
	m.mu.Lock()
	sub, tracked := m.subs[ev.MarketID]
	if !tracked {
		m.mu.Unlock()
		return
	}
	key := sideKey{marketID: ev.MarketID, side: ev.Side}
	st, ok := m.states[key]
	if !ok {
		st = &sideState{}
		m.states[key] = st
	}
	if st.seen && ev.Sequence <= st.snap.Sequence {
		m.mu.Unlock()
		m.logger.Debug("out-of-order quote dropped",
			slog.String("market_id", ev.MarketID),
			slog.String("side", string(ev.Side)),
			slog.Uint64("sequence", ev.Sequence),
		)
		return
	}
	snap := domain.QuoteSnapshot{
		MarketID:   ev.MarketID,
		Side:       ev.Side,
		BestAsk:    ev.Price,
		AskSize:    ev.Size,
		Sequence:   ev.Sequence,
		ReceivedAt: time.Now().UTC(),
	}
	st.snap = snap
	st.seen = true
	st.stale = false

	// Deliver while still holding the lock. The send is non-blocking, and
	// Untrack closes sub.quotes under the same lock, so delivering here is
	// what keeps the send from racing the close.
	delivered := true
	select {
	case sub.quotes <- snap:
	default:
		delivered = false
	}
	m.mu.Unlock()

	if !delivered {
		// Worker is behind; it will catch up from a later snapshot.
		m.logger.Debug("quote channel full, snapshot dropped",
			slog.String("market_id", ev.MarketID),
			slog.String("side", string(ev.Side)),
		)
	}
	if m.cache != nil {
		if err := m.cache.SetQuote(ctx, snap); err != nil {
			m.logger.Debug("quote cache write failed", slog.String("error", err.Error()))
		}
	}
}

// sweep flags sides that have gone quiet. The signal fires once per quiet
// period, on the fresh-to-stale transition.
func (m *Monitor) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, st := range m.states {
		if !st.seen || st.stale {
			continue
		}
		if now.Sub(st.snap.ReceivedAt) <= m.timeout {
			continue
		}
		st.stale = true
		sig := domain.StalenessSignal{
			MarketID: key.marketID,
			Side:     key.side,
			LastSeen: st.snap.ReceivedAt,
			At:       now,
		}
		m.logger.Warn("quote went stale",
			slog.String("market_id", key.marketID),
			slog.String("side", string(key.side)),
			slog.Time("last_seen", st.snap.ReceivedAt),
		)
		if sub, ok := m.subs[key.marketID]; ok {
			select {
			case sub.stale <- sig:
			default:
			}
		}
	}
}
