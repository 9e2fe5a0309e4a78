// Package worker runs the per-market trading pipeline: one goroutine per
// market consuming quotes, staleness signals and lifecycle transitions from
// a single serialized queue, so detection, execution and ledger mutation for
// a market never race each other. Markets are fully independent; one
// misbehaving market is stopped without touching the rest.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gabagool/updownbot/internal/detector"
	"github.com/gabagool/updownbot/internal/domain"
	"github.com/gabagool/updownbot/internal/executor"
	"github.com/gabagool/updownbot/internal/ledger"
	"github.com/gabagool/updownbot/internal/lifecycle"
	"github.com/gabagool/updownbot/internal/quote"
)

// Worker trades one market window from activation to archival.
type Worker struct {
	market    domain.Market
	lifecycle *lifecycle.Manager
	monitor   *quote.Monitor
	ledger    *ledger.Ledger
	detector  *detector.Detector
	exec      *executor.Coordinator
	journal   domain.Journal // optional
	sink      domain.EventSink
	logger    *slog.Logger

	states <-chan domain.StateChange
}

// NewWorker creates a Worker for the given market. states delivers the
// lifecycle transitions for this market only.
func NewWorker(
	market domain.Market,
	lm *lifecycle.Manager,
	monitor *quote.Monitor,
	lgr *ledger.Ledger,
	det *detector.Detector,
	exec *executor.Coordinator,
	journal domain.Journal,
	sink domain.EventSink,
	states <-chan domain.StateChange,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		market:    market,
		lifecycle: lm,
		monitor:   monitor,
		ledger:    lgr,
		detector:  det,
		exec:      exec,
		journal:   journal,
		sink:      sink,
		states:    states,
		logger: logger.With(
			slog.String("component", "worker"),
			slog.String("market_id", market.ID),
		),
	}
}

// Run processes the market until it settles or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		slog.String("question", w.market.Question),
		slog.Time("window_end", w.market.WindowEnd),
	)
	defer w.logger.Info("worker stopped")

	quotes, stale, err := w.monitor.Track(ctx, w.market)
	if err != nil {
		return err
	}
	defer w.monitor.Untrack(context.WithoutCancel(ctx), w.market)

	suppressed := false
	for {
		select {
		case <-ctx.Done():
			w.exec.CancelMarket(context.WithoutCancel(ctx), w.market.ID)
			return ctx.Err()

		case snap, ok := <-quotes:
			if !ok {
				return nil
			}
			if suppressed {
				continue
			}
			w.onQuote(ctx, snap)

		case sig, ok := <-stale:
			if !ok {
				return nil
			}
			w.exec.OnStaleness(ctx, sig)

		case change, ok := <-w.states:
			if !ok {
				return nil
			}
			switch change.To {
			case domain.MarketStateClosing:
				// Stop opening positions; in-flight orders may still
				// resolve until settlement.
				suppressed = true
				w.logger.Info("market closing, decisions suppressed")
			case domain.MarketStateSettled:
				w.settle(ctx, change.Outcome)
				return nil
			}
		}
	}
}

// onQuote runs the decision function for one fresh snapshot. When the
// opposite side also has a fresh quote both sides are weighed together so
// the tie-break policy applies.
func (w *Worker) onQuote(ctx context.Context, snap domain.QuoteSnapshot) {
	if w.exec.InFlight(w.market.ID, snap.Side) {
		// An unresolved order already occupies this side; by the time it
		// resolves the market will have moved, so the tick is dropped.
		return
	}

	state, err := w.lifecycle.CurrentState(w.market.ID)
	if err != nil {
		return
	}
	pos := w.ledger.Current(w.market.ID)
	reserved := w.reservedNotional()

	var opp domain.Opportunity
	var ok bool
	other, otherErr := w.monitor.Latest(w.market.ID, snap.Side.Other())
	if otherErr == nil && !w.exec.InFlight(w.market.ID, snap.Side.Other()) {
		yes, no := snap, other
		if snap.Side == domain.SideNo {
			yes, no = other, snap
		}
		opp, ok = w.detector.EvaluateBoth(state, pos, reserved, yes, no)
	} else {
		opp, ok = w.detector.Evaluate(state, pos, reserved, snap)
	}
	if !ok {
		return
	}

	w.sink.Emit(ctx, "opportunity_detected", map[string]any{
		"market_id":       opp.MarketID,
		"side":            string(opp.Side),
		"price":           opp.Price,
		"size":            opp.Size,
		"pair_cost_after": opp.PairCostAfter,
		"reason":          opp.Reason,
	})

	if err := w.exec.Execute(ctx, opp); err != nil {
		if errors.Is(err, domain.ErrOrderInFlight) {
			return
		}
		w.logger.Warn("execution failed",
			slog.String("side", string(opp.Side)),
			slog.String("error", err.Error()),
		)
	}
}

// reservedNotional sums the unfilled notional of this market's open orders.
func (w *Worker) reservedNotional() float64 {
	var reserved float64
	for _, o := range w.exec.OpenOrders(w.market.ID) {
		reserved += o.Remaining() * o.LimitPrice
	}
	return reserved
}

// settle reconciles the finished window: cancel leftovers, report, release
// the ledger entry, and archive the market.
func (w *Worker) settle(ctx context.Context, outcome domain.Outcome) {
	// Use a context that survives shutdown so bookkeeping completes.
	ctx = context.WithoutCancel(ctx)
	w.exec.CancelMarket(ctx, w.market.ID)

	pos := w.ledger.Current(w.market.ID)
	report := domain.WindowReport{
		MarketID:     w.market.ID,
		Question:     w.market.Question,
		Outcome:      outcome,
		YesShares:    pos.Yes.Shares,
		YesAvgPrice:  pos.Yes.AvgPrice(),
		NoShares:     pos.No.Shares,
		NoAvgPrice:   pos.No.AvgPrice(),
		TotalCost:    pos.TotalCost(),
		PairCost:     pos.ProjectedPairCost(),
		LockedProfit: pos.LockedProfit(),
		BalanceRatio: pos.BalanceRatio(),
		FillCount:    w.ledger.FillCount(w.market.ID),
		WindowStart:  w.market.WindowStart,
		WindowEnd:    w.market.WindowEnd,
	}

	if w.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := w.journal.RecordWindow(jctx, report); err != nil {
			w.logger.Warn("window journal failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	w.sink.Emit(ctx, "window_settled", map[string]any{
		"market_id":     report.MarketID,
		"outcome":       string(report.Outcome),
		"yes_shares":    report.YesShares,
		"no_shares":     report.NoShares,
		"total_cost":    report.TotalCost,
		"pair_cost":     report.PairCost,
		"locked_profit": report.LockedProfit,
		"balance_ratio": report.BalanceRatio,
		"fills":         report.FillCount,
	})

	w.ledger.Release(w.market.ID)
	w.exec.Forget(w.market.ID)
	if err := w.lifecycle.Archive(w.market.ID); err != nil {
		w.logger.Warn("archive failed", slog.String("error", err.Error()))
	}
	w.logger.Info("window settled",
		slog.String("outcome", string(outcome)),
		slog.Float64("locked_profit", report.LockedProfit),
		slog.Float64("pair_cost", report.PairCost),
	)
}
