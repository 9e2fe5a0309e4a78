// Package executor converts detector opportunities into exchange orders,
// tracks their lifecycle, and reconciles fills back into the ledger.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabagool/updownbot/internal/domain"
	"github.com/gabagool/updownbot/internal/ledger"
)

// Alerter surfaces operator-facing alerts. Implemented by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the tunable execution parameters.
type Config struct {
	// ValidityWindow is how long a submitted price is trusted. An order with
	// no terminal response within the window is treated as Expired.
	ValidityWindow time.Duration
	// MaxSubmitRetries bounds retries of transient submission failures.
	MaxSubmitRetries int
	// RetryBackoff is the pause between submission retries.
	RetryBackoff time.Duration
}

// sideKey identifies the one in-flight slot per (market, side).
type sideKey struct {
	marketID string
	side     domain.Side
}

// tracked is the coordinator's view of one order.
type tracked struct {
	order domain.Order
	timer *time.Timer // validity window timer, nil once terminal
}

// Coordinator owns order submission and fill reconciliation. It enforces the
// at-most-one-in-flight-per-(market,side) rule: an opportunity arriving
// while that side's slot is occupied is dropped, not queued, because the
// market has likely already moved.
type Coordinator struct {
	gateway domain.OrderGateway
	ledger  *ledger.Ledger
	journal domain.Journal // optional, best-effort
	sink    domain.EventSink
	alerter Alerter // optional
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[sideKey]string   // (market, side) -> order ID
	orders   map[string]*tracked  // order ID -> state
	byMarket map[string][]string  // market ID -> order IDs (all, for reporting)
}

// New creates a Coordinator. journal and alerter may be nil.
func New(gateway domain.OrderGateway, lgr *ledger.Ledger, journal domain.Journal, sink domain.EventSink, alerter Alerter, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = 1500 * time.Millisecond
	}
	if cfg.MaxSubmitRetries <= 0 {
		cfg.MaxSubmitRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Coordinator{
		gateway:  gateway,
		ledger:   lgr,
		journal:  journal,
		sink:     sink,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		inflight: make(map[sideKey]string),
		orders:   make(map[string]*tracked),
		byMarket: make(map[string][]string),
	}
}

// InFlight reports whether an unresolved order occupies the (market, side)
// slot.
func (c *Coordinator) InFlight(marketID string, side domain.Side) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[sideKey{marketID: marketID, side: side}]
	return busy
}

// Execute submits an order for the opportunity. It returns
// domain.ErrOrderInFlight when the side's slot is occupied; the caller drops
// the opportunity in that case.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity) error {
	key := sideKey{marketID: opp.MarketID, side: opp.Side}

	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return domain.ErrOrderInFlight
	}
	order := domain.Order{
		ID:         uuid.New().String(),
		MarketID:   opp.MarketID,
		Side:       opp.Side,
		LimitPrice: opp.Price,
		Size:       opp.Size,
		State:      domain.OrderStateCreated,
		CreatedAt:  time.Now().UTC(),
	}
	c.inflight[key] = order.ID
	c.orders[order.ID] = &tracked{order: order}
	c.byMarket[opp.MarketID] = append(c.byMarket[opp.MarketID], order.ID)
	c.mu.Unlock()

	c.journalOrder(ctx, order)

	result, err := c.submitWithRetry(ctx, order)
	if err != nil || !result.Accepted {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = result.Message
		}
		c.reject(ctx, order.ID, msg)
		if err != nil {
			return fmt.Errorf("executor: submit order %s: %w", order.ID, err)
		}
		return nil
	}

	c.mu.Lock()
	t, ok := c.orders[order.ID]
	submitted := ok && !t.order.State.Terminal()
	if submitted {
		t.order.ExchangeID = result.ExchangeID
		t.order.State = domain.OrderStateSubmitted
		t.order.SubmittedAt = time.Now().UTC()
		id := order.ID
		t.timer = time.AfterFunc(c.cfg.ValidityWindow, func() { c.expire(id) })
	}
	c.mu.Unlock()

	// The order can reach a terminal state during the submit round-trip
	// (cancelled on settlement, for example). The terminal event has already
	// been reported; a trailing Submitted event would misstate the order.
	if !submitted {
		return nil
	}

	c.journalState(ctx, order.ID, domain.OrderStateSubmitted, 0)
	c.sink.Emit(ctx, "order_submitted", map[string]any{
		"order_id":    order.ID,
		"exchange_id": result.ExchangeID,
		"market_id":   opp.MarketID,
		"side":        string(opp.Side),
		"price":       opp.Price,
		"size":        opp.Size,
		"reason":      opp.Reason,
	})
	c.logger.Info("order submitted",
		slog.String("order_id", order.ID),
		slog.String("market_id", opp.MarketID),
		slog.String("side", string(opp.Side)),
		slog.Float64("price", opp.Price),
		slog.Float64("size", opp.Size),
	)
	return nil
}

// submitWithRetry retries transient submission failures a bounded number of
// times with a short backoff. Non-transient rejections return immediately.
func (c *Coordinator) submitWithRetry(ctx context.Context, order domain.Order) (domain.SubmitResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxSubmitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.SubmitResult{}, ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		result, err := c.gateway.Submit(ctx, order)
		if err == nil {
			if result.Accepted || !result.Transient {
				return result, nil
			}
			lastErr = fmt.Errorf("transient rejection: %s", result.Message)
		} else {
			lastErr = err
		}
		c.logger.Warn("order submission attempt failed",
			slog.String("order_id", order.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	return domain.SubmitResult{}, fmt.Errorf("executor: retries exhausted: %w", lastErr)
}

// Run consumes the gateway's fill stream until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("executor started",
		slog.Duration("validity_window", c.cfg.ValidityWindow),
		slog.Int("max_retries", c.cfg.MaxSubmitRetries),
	)
	defer c.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fill, ok := <-c.gateway.Fills():
			if !ok {
				return nil
			}
			c.HandleFill(ctx, fill)
		}
	}
}

// HandleFill applies a fill to the ledger (exactly once per fill ID) and
// advances the order state machine. A fill for an already-terminal order
// still reaches the ledger -- the shares are real -- but the order record is
// immutable once terminal.
func (c *Coordinator) HandleFill(ctx context.Context, fill domain.Fill) {
	pos, applied := c.ledger.ApplyFill(fill)
	if applied && c.journal != nil {
		if err := c.journal.RecordFill(ctx, fill); err != nil {
			c.logger.Warn("fill journal failed", slog.String("fill_id", fill.FillID), slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	t, ok := c.orders[fill.OrderID]
	if !ok || t.order.State.Terminal() {
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("fill for unknown order", slog.String("order_id", fill.OrderID))
		}
		return
	}
	if applied {
		t.order.FilledSize += fill.Size
	}
	full := fill.IsFinal || t.order.FilledSize >= t.order.Size-1e-9
	if full {
		t.order.State = domain.OrderStateFilled
		t.order.ResolvedAt = time.Now().UTC()
		c.stopTimerLocked(t)
		c.releaseSlotLocked(t.order)
	} else {
		t.order.State = domain.OrderStatePartiallyFilled
	}
	order := t.order
	c.mu.Unlock()

	c.journalState(ctx, order.ID, order.State, order.FilledSize)
	c.sink.Emit(ctx, "order_fill", map[string]any{
		"order_id":    order.ID,
		"fill_id":     fill.FillID,
		"market_id":   fill.MarketID,
		"side":        string(fill.Side),
		"price":       fill.Price,
		"size":        fill.Size,
		"state":       string(order.State),
		"filled_size": order.FilledSize,
	})
	if c.ledger.IsProfitLocked(fill.MarketID) {
		c.sink.Emit(ctx, "profit_locked", map[string]any{
			"market_id":     fill.MarketID,
			"locked_profit": pos.LockedProfit(),
			"pair_cost":     pos.ProjectedPairCost(),
		})
		if c.alerter != nil {
			_ = c.alerter.Notify(ctx, "profit_locked", "Profit locked",
				fmt.Sprintf("market %s locked $%.2f at pair cost %.4f",
					fill.MarketID, pos.LockedProfit(), pos.ProjectedPairCost()))
		}
	}
}

// OnStaleness cancels any submitted order on the stale (market, side):
// a price that is no longer being refreshed must not be trusted.
func (c *Coordinator) OnStaleness(ctx context.Context, sig domain.StalenessSignal) {
	c.mu.Lock()
	id, busy := c.inflight[sideKey{marketID: sig.MarketID, side: sig.Side}]
	c.mu.Unlock()
	if !busy {
		return
	}
	c.cancel(ctx, id, "stale quote")
}

// CancelMarket cancels every unresolved order for the market. Called on
// settlement and worker shutdown; Closing alone lets in-flight orders
// resolve.
func (c *Coordinator) CancelMarket(ctx context.Context, marketID string) {
	c.mu.Lock()
	var ids []string
	for _, side := range domain.Sides {
		if id, busy := c.inflight[sideKey{marketID: marketID, side: side}]; busy {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.cancel(ctx, id, "market closed")
	}
}

// OpenOrders returns non-terminal orders for the market.
func (c *Coordinator) OpenOrders(marketID string) []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Order
	for _, id := range c.byMarket[marketID] {
		if t, ok := c.orders[id]; ok && !t.order.State.Terminal() {
			out = append(out, t.order)
		}
	}
	return out
}

// Forget drops bookkeeping for a market after settlement reconciliation.
func (c *Coordinator) Forget(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.byMarket[marketID] {
		if t, ok := c.orders[id]; ok {
			c.stopTimerLocked(t)
			delete(c.orders, id)
		}
	}
	delete(c.byMarket, marketID)
	for _, side := range domain.Sides {
		delete(c.inflight, sideKey{marketID: marketID, side: side})
	}
}

// expire fires when the validity window elapses without a terminal
// response. Residual quantity is not assumed filled; the slot frees up for a
// new opportunity.
func (c *Coordinator) expire(orderID string) {
	ctx := context.Background()

	c.mu.Lock()
	t, ok := c.orders[orderID]
	if !ok || t.order.State.Terminal() {
		c.mu.Unlock()
		return
	}
	t.order.State = domain.OrderStateExpired
	t.order.ResolvedAt = time.Now().UTC()
	t.timer = nil
	c.releaseSlotLocked(t.order)
	order := t.order
	c.mu.Unlock()

	// Best-effort exchange-side cancel so a zombie order cannot fill later
	// at a price we no longer trust.
	if order.ExchangeID != "" {
		if err := c.gateway.Cancel(ctx, order.ExchangeID); err != nil {
			c.logger.Warn("cancel after expiry failed",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.journalState(ctx, order.ID, domain.OrderStateExpired, order.FilledSize)
	c.sink.Emit(ctx, "order_expired", map[string]any{
		"order_id":    order.ID,
		"market_id":   order.MarketID,
		"side":        string(order.Side),
		"filled_size": order.FilledSize,
	})
	c.logger.Warn("order expired",
		slog.String("order_id", order.ID),
		slog.String("market_id", order.MarketID),
		slog.String("side", string(order.Side)),
	)
}

// cancel moves a non-terminal order to Cancelled and releases its slot.
func (c *Coordinator) cancel(ctx context.Context, orderID, reason string) {
	c.mu.Lock()
	t, ok := c.orders[orderID]
	if !ok || t.order.State.Terminal() {
		c.mu.Unlock()
		return
	}
	t.order.State = domain.OrderStateCancelled
	t.order.ResolvedAt = time.Now().UTC()
	c.stopTimerLocked(t)
	c.releaseSlotLocked(t.order)
	order := t.order
	c.mu.Unlock()

	if order.ExchangeID != "" {
		if err := c.gateway.Cancel(ctx, order.ExchangeID); err != nil {
			c.logger.Warn("exchange cancel failed",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.journalState(ctx, order.ID, domain.OrderStateCancelled, order.FilledSize)
	c.sink.Emit(ctx, "order_cancelled", map[string]any{
		"order_id":  order.ID,
		"market_id": order.MarketID,
		"side":      string(order.Side),
		"reason":    reason,
	})
	c.logger.Info("order cancelled",
		slog.String("order_id", order.ID),
		slog.String("reason", reason),
	)
}

// reject marks the order Rejected and raises an operator alert. Rejections
// never mutate the ledger.
func (c *Coordinator) reject(ctx context.Context, orderID, message string) {
	c.mu.Lock()
	t, ok := c.orders[orderID]
	if !ok || t.order.State.Terminal() {
		c.mu.Unlock()
		return
	}
	t.order.State = domain.OrderStateRejected
	t.order.ResolvedAt = time.Now().UTC()
	c.stopTimerLocked(t)
	c.releaseSlotLocked(t.order)
	order := t.order
	c.mu.Unlock()

	c.journalState(ctx, order.ID, domain.OrderStateRejected, order.FilledSize)
	c.sink.Emit(ctx, "order_rejected", map[string]any{
		"order_id":  order.ID,
		"market_id": order.MarketID,
		"side":      string(order.Side),
		"message":   message,
	})
	if c.alerter != nil {
		_ = c.alerter.Notify(ctx, "order_rejected", "Order rejected",
			fmt.Sprintf("order %s (%s %s) rejected: %s", order.ID, order.MarketID, order.Side, message))
	}
	c.logger.Error("order rejected",
		slog.String("order_id", order.ID),
		slog.String("market_id", order.MarketID),
		slog.String("message", message),
	)
}

func (c *Coordinator) releaseSlotLocked(order domain.Order) {
	key := sideKey{marketID: order.MarketID, side: order.Side}
	if c.inflight[key] == order.ID {
		delete(c.inflight, key)
	}
}

func (c *Coordinator) stopTimerLocked(t *tracked) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (c *Coordinator) journalOrder(ctx context.Context, order domain.Order) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordOrder(ctx, order); err != nil {
		c.logger.Warn("order journal failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) journalState(ctx context.Context, orderID string, state domain.OrderState, filled float64) {
	if c.journal == nil {
		return
	}
	if err := c.journal.UpdateOrderState(ctx, orderID, state, filled); err != nil {
		c.logger.Warn("order state journal failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
