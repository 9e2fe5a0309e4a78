// Package lifecycle discovers recurring market windows and drives each one
// through Scheduled -> Active -> Closing -> Settled -> Archived. It is the
// single owner of market state; everything else observes transitions through
// subscriptions.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabagool/updownbot/internal/domain"
)

// Config holds lifecycle tuning parameters.
type Config struct {
	// AssetClass is the market family to discover, e.g. "bitcoin".
	AssetClass string
	// WindowDuration is the market window length, e.g. 15 minutes.
	WindowDuration time.Duration
	// ClosingMargin is how long before window end new position opening is
	// suppressed (Active -> Closing).
	ClosingMargin time.Duration
	// DiscoveryInterval is how often the directory is polled for new
	// windows.
	DiscoveryInterval time.Duration
	// MinRemaining filters out windows too close to expiry to be worth
	// entering at discovery time.
	MinRemaining time.Duration
}

// Manager tracks all known markets and their lifecycle states.
type Manager struct {
	directory domain.MarketDirectory
	sink      domain.EventSink
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time // swapped in tests

	mu      sync.Mutex
	markets map[string]*domain.Market
	subs    []chan domain.StateChange
}

// NewManager creates a Manager polling the given directory.
func NewManager(directory domain.MarketDirectory, sink domain.EventSink, cfg Config, logger *slog.Logger) *Manager {
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 30 * time.Second
	}
	if cfg.ClosingMargin <= 0 {
		cfg.ClosingMargin = 30 * time.Second
	}
	return &Manager{
		directory: directory,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "lifecycle")),
		now:       func() time.Time { return time.Now().UTC() },
		markets:   make(map[string]*domain.Market),
	}
}

// Subscribe returns a channel of state-change events. Slow subscribers drop
// events rather than block the manager.
func (m *Manager) Subscribe() <-chan domain.StateChange {
	ch := make(chan domain.StateChange, 64)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// CurrentState returns the lifecycle state of a market.
func (m *Manager) CurrentState(marketID string) (domain.MarketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mkt, ok := m.markets[marketID]
	if !ok {
		return "", fmt.Errorf("lifecycle: market %s: %w", marketID, domain.ErrNotFound)
	}
	return mkt.State, nil
}

// Get returns a copy of the market.
func (m *Manager) Get(marketID string) (domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mkt, ok := m.markets[marketID]
	if !ok {
		return domain.Market{}, fmt.Errorf("lifecycle: market %s: %w", marketID, domain.ErrNotFound)
	}
	return *mkt, nil
}

// ListActiveMarkets returns copies of all markets currently in Active state.
func (m *Manager) ListActiveMarkets() []domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Market
	for _, mkt := range m.markets {
		if mkt.State == domain.MarketStateActive {
			out = append(out, *mkt)
		}
	}
	return out
}

// Archive moves a Settled market to Archived once the worker has finished
// settlement bookkeeping and the ledger entry is released.
func (m *Manager) Archive(marketID string) error {
	return m.transition(marketID, domain.MarketStateArchived, domain.OutcomeUnresolved)
}

// Run drives discovery and clock-based transitions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("lifecycle manager started",
		slog.String("asset_class", m.cfg.AssetClass),
		slog.Duration("window", m.cfg.WindowDuration),
		slog.Duration("closing_margin", m.cfg.ClosingMargin),
	)
	defer m.logger.Info("lifecycle manager stopped")

	m.discover(ctx)

	discoverTicker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer discoverTicker.Stop()
	clockTicker := time.NewTicker(time.Second)
	defer clockTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeSubs()
			return ctx.Err()
		case <-discoverTicker.C:
			m.discover(ctx)
		case <-clockTicker.C:
			m.tick(ctx)
		}
	}
}

// discover polls the directory and registers unseen windows as Scheduled.
func (m *Manager) discover(ctx context.Context) {
	candidates, err := m.directory.ListCandidateMarkets(ctx, m.cfg.AssetClass, m.cfg.WindowDuration)
	if err != nil {
		m.logger.Warn("market discovery failed", slog.String("error", err.Error()))
		return
	}
	now := m.now()
	added := 0
	m.mu.Lock()
	for i := range candidates {
		cand := candidates[i]
		if _, seen := m.markets[cand.ID]; seen {
			continue
		}
		if cand.WindowEnd.Sub(now) < m.cfg.MinRemaining {
			continue
		}
		cand.State = domain.MarketStateScheduled
		cand.CreatedAt = now
		cand.UpdatedAt = now
		m.markets[cand.ID] = &cand
		added++
	}
	m.mu.Unlock()
	if added > 0 {
		m.logger.Info("markets discovered", slog.Int("new", added), slog.Int("candidates", len(candidates)))
	}
}

// tick advances every market whose clock-based transition is due.
func (m *Manager) tick(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	type due struct {
		id string
		to domain.MarketState
	}
	var transitions []due
	var activating []string
	var settling []string
	for id, mkt := range m.markets {
		switch mkt.State {
		case domain.MarketStateScheduled:
			if now.After(mkt.WindowEnd) {
				// Never confirmed tradeable before its window ran out.
				delete(m.markets, id)
				m.logger.Warn("window missed, dropping market", slog.String("market_id", id))
				continue
			}
			if !now.Before(mkt.WindowStart) {
				activating = append(activating, id)
			}
		case domain.MarketStateActive:
			if now.After(mkt.WindowEnd.Add(-m.cfg.ClosingMargin)) {
				transitions = append(transitions, due{id: id, to: domain.MarketStateClosing})
			}
		case domain.MarketStateClosing:
			if now.After(mkt.WindowEnd) {
				settling = append(settling, id)
			}
		}
	}
	m.mu.Unlock()

	// Activation needs the exchange's confirmation that the market still
	// accepts orders; a window suspended since discovery stays Scheduled and
	// is retried on the next tick.
	for _, id := range activating {
		tradeable, err := m.directory.Tradeable(ctx, id)
		if err != nil {
			m.logger.Warn("tradeability check failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !tradeable {
			m.logger.Warn("market not accepting orders at window start",
				slog.String("market_id", id),
			)
			continue
		}
		transitions = append(transitions, due{id: id, to: domain.MarketStateActive})
	}

	for _, tr := range transitions {
		if err := m.transition(tr.id, tr.to, domain.OutcomeUnresolved); err != nil {
			m.logger.Warn("transition failed",
				slog.String("market_id", tr.id),
				slog.String("to", string(tr.to)),
				slog.String("error", err.Error()),
			)
		}
	}

	// Settlement needs the resolved outcome from the directory; a window
	// whose resolution is not yet observable stays in Closing.
	for _, id := range settling {
		outcome, resolved, err := m.directory.Resolution(ctx, id)
		if err != nil {
			m.logger.Warn("resolution lookup failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !resolved {
			continue
		}
		if err := m.transition(id, domain.MarketStateSettled, outcome); err != nil {
			m.logger.Warn("settlement transition failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// transition applies one legal state change and fans the event out.
func (m *Manager) transition(marketID string, to domain.MarketState, outcome domain.Outcome) error {
	m.mu.Lock()
	mkt, ok := m.markets[marketID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: market %s: %w", marketID, domain.ErrNotFound)
	}
	from := mkt.State
	if !domain.CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	mkt.State = to
	mkt.UpdatedAt = m.now()
	if to == domain.MarketStateSettled {
		mkt.Outcome = outcome
	}
	change := domain.StateChange{
		MarketID: marketID,
		From:     from,
		To:       to,
		Outcome:  mkt.Outcome,
		At:       mkt.UpdatedAt,
	}
	if to == domain.MarketStateArchived {
		delete(m.markets, marketID)
	}
	// Fan out under the lock: the sends never block, and closeSubs closes
	// the channels under this same lock, so a transition racing shutdown
	// cannot send on a closed channel.
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
	m.mu.Unlock()

	m.logger.Info("market state changed",
		slog.String("market_id", marketID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("outcome", string(change.Outcome)),
	)
	m.sink.Emit(context.Background(), "market_state_changed", map[string]any{
		"market_id": marketID,
		"from":      string(from),
		"to":        string(to),
		"outcome":   string(change.Outcome),
	})
	return nil
}

func (m *Manager) closeSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// SetClock overrides the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }
