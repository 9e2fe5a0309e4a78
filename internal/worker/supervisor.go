package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gabagool/updownbot/internal/detector"
	"github.com/gabagool/updownbot/internal/domain"
	"github.com/gabagool/updownbot/internal/executor"
	"github.com/gabagool/updownbot/internal/ledger"
	"github.com/gabagool/updownbot/internal/lifecycle"
	"github.com/gabagool/updownbot/internal/quote"
)

// Supervisor watches lifecycle transitions and runs one Worker per market
// window. Worker failures are contained: a panic or error in one market's
// loop stops that market only.
type Supervisor struct {
	lifecycle *lifecycle.Manager
	monitor   *quote.Monitor
	ledger    *ledger.Ledger
	detector  *detector.Detector
	exec      *executor.Coordinator
	journal   domain.Journal // optional
	sink      domain.EventSink
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]chan domain.StateChange // market ID -> worker's state queue
	wg      sync.WaitGroup
}

// NewSupervisor wires a Supervisor over the shared components. journal may be
// nil.
func NewSupervisor(
	lm *lifecycle.Manager,
	monitor *quote.Monitor,
	lgr *ledger.Ledger,
	det *detector.Detector,
	exec *executor.Coordinator,
	journal domain.Journal,
	sink domain.EventSink,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		lifecycle: lm,
		monitor:   monitor,
		ledger:    lgr,
		detector:  det,
		exec:      exec,
		journal:   journal,
		sink:      sink,
		logger:    logger.With(slog.String("component", "supervisor")),
		running:   make(map[string]chan domain.StateChange),
	}
}

// Run consumes lifecycle transitions until ctx is done, then waits for all
// workers to drain.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started")
	defer s.logger.Info("supervisor stopped")

	changes := s.lifecycle.Subscribe()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				s.wg.Wait()
				return nil
			}
			s.dispatch(ctx, change)
		}
	}
}

// dispatch routes one transition: activations spawn a worker, everything else
// is forwarded to the market's worker if one is running.
func (s *Supervisor) dispatch(ctx context.Context, change domain.StateChange) {
	if change.To == domain.MarketStateActive {
		if err := s.spawn(ctx, change.MarketID); err != nil {
			s.logger.Error("worker spawn failed",
				slog.String("market_id", change.MarketID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	s.mu.Lock()
	ch, ok := s.running[change.MarketID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- change:
	default:
		s.logger.Warn("worker state queue full, transition dropped",
			slog.String("market_id", change.MarketID),
			slog.String("to", string(change.To)),
		)
	}
}

// spawn starts a Worker goroutine for a newly active market.
func (s *Supervisor) spawn(ctx context.Context, marketID string) error {
	market, err := s.lifecycle.Get(marketID)
	if err != nil {
		return fmt.Errorf("worker: spawn %s: %w", marketID, err)
	}

	s.mu.Lock()
	if _, exists := s.running[marketID]; exists {
		s.mu.Unlock()
		return nil
	}
	states := make(chan domain.StateChange, 8)
	s.running[marketID] = states
	s.mu.Unlock()

	w := NewWorker(market, s.lifecycle, s.monitor, s.ledger, s.detector, s.exec,
		s.journal, s.sink, states, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, marketID)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("worker panicked",
					slog.String("market_id", marketID),
					slog.Any("panic", r),
				)
				s.exec.CancelMarket(context.WithoutCancel(ctx), marketID)
			}
		}()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("worker exited with error",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// ActiveWorkers returns the number of markets currently being traded.
func (s *Supervisor) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
