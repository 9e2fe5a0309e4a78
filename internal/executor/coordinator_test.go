package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabagool/updownbot/internal/domain"
	"github.com/gabagool/updownbot/internal/ledger"
)

// fakeGateway is a scriptable domain.OrderGateway. onSubmit, when set, runs
// during the submit round-trip, after the order is recorded but before the
// result returns.
type fakeGateway struct {
	mu        sync.Mutex
	submits   []domain.Order
	cancelled []string
	results   []domain.SubmitResult
	errs      []error
	onSubmit  func(order domain.Order)
	fills     chan domain.Fill
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fills: make(chan domain.Fill, 16)}
}

func (g *fakeGateway) Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error) {
	g.mu.Lock()
	g.submits = append(g.submits, order)
	i := len(g.submits) - 1
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	var res domain.SubmitResult
	if i < len(g.results) {
		res = g.results[i]
	}
	hook := g.onSubmit
	g.mu.Unlock()
	if hook != nil {
		hook(order)
	}
	return res, err
}

func (g *fakeGateway) Cancel(ctx context.Context, exchangeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, exchangeID)
	return nil
}

func (g *fakeGateway) Fills() <-chan domain.Fill { return g.fills }

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *fakeGateway) cancelledIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(ctx context.Context, event string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLedger() *ledger.Ledger {
	return ledger.New(domain.RiskLimits{
		MaxPairCost:      0.99,
		MaxTradeNotional: 50,
		MaxTotalExposure: 1000,
		MinProfitTarget:  1.0,
	}, testLogger())
}

func testOpp(side domain.Side) domain.Opportunity {
	return domain.Opportunity{
		MarketID: "m1",
		Side:     side,
		Price:    0.48,
		Size:     100,
	}
}

func newCoordinator(g *fakeGateway, lgr *ledger.Ledger, sink domain.EventSink, cfg Config) *Coordinator {
	return New(g, lgr, nil, sink, nil, cfg, testLogger())
}

func TestExecute_SubmitsAndOccupiesSlot(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	sink := &recordingSink{}
	c := newCoordinator(g, testLedger(), sink, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))

	assert.Equal(t, 1, g.submitCount())
	assert.True(t, c.InFlight("m1", domain.SideYes))
	assert.False(t, c.InFlight("m1", domain.SideNo))
	assert.True(t, sink.has("order_submitted"))

	orders := c.OpenOrders("m1")
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStateSubmitted, orders[0].State)
	assert.Equal(t, "ex1", orders[0].ExchangeID)
}

func TestExecute_SecondOpportunitySameSideIsDropped(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	c := newCoordinator(g, testLedger(), &recordingSink{}, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	err := c.Execute(context.Background(), testOpp(domain.SideYes))
	assert.ErrorIs(t, err, domain.ErrOrderInFlight)
	assert.Equal(t, 1, g.submitCount())
}

func TestExecute_BothSidesMayBeInFlight(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{
		{ExchangeID: "ex1", Accepted: true},
		{ExchangeID: "ex2", Accepted: true},
	}
	c := newCoordinator(g, testLedger(), &recordingSink{}, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideNo)))
	assert.True(t, c.InFlight("m1", domain.SideYes))
	assert.True(t, c.InFlight("m1", domain.SideNo))
}

// Scenario: the validity window elapses with no terminal response. The order
// expires, the slot frees up, and the ledger is untouched.
func TestExpiry_FreesSlotWithoutTouchingLedger(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	lgr := testLedger()
	sink := &recordingSink{}
	c := newCoordinator(g, lgr, sink, Config{ValidityWindow: 20 * time.Millisecond})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))

	assert.Eventually(t, func() bool {
		return !c.InFlight("m1", domain.SideYes)
	}, time.Second, 5*time.Millisecond)

	assert.True(t, sink.has("order_expired"))
	assert.Zero(t, lgr.Current("m1").Yes.Shares)
	assert.Contains(t, g.cancelledIDs(), "ex1")
	assert.Empty(t, c.OpenOrders("m1"))

	// Slot is free for a new attempt.
	g.mu.Lock()
	g.results = append(g.results, domain.SubmitResult{ExchangeID: "ex2", Accepted: true})
	g.mu.Unlock()
	assert.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
}

// Scenario: the market settles while the submit round-trip is in the air and
// the order is cancelled before the exchange's acceptance comes back. The
// cancellation is the order's final word; no Submitted event may follow it.
func TestExecute_NoSubmittedEventWhenOrderCancelledMidSubmit(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	sink := &recordingSink{}
	c := newCoordinator(g, testLedger(), sink, Config{ValidityWindow: time.Minute})
	g.onSubmit = func(order domain.Order) {
		c.CancelMarket(context.Background(), order.MarketID)
	}

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))

	assert.True(t, sink.has("order_cancelled"))
	assert.False(t, sink.has("order_submitted"))
	assert.False(t, c.InFlight("m1", domain.SideYes))
	assert.Empty(t, c.OpenOrders("m1"))
}

func TestSubmit_TransientFailureRetriesThenRejects(t *testing.T) {
	g := newFakeGateway()
	g.errs = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}
	sink := &recordingSink{}
	c := newCoordinator(g, testLedger(), sink, Config{
		ValidityWindow:   time.Minute,
		MaxSubmitRetries: 2,
		RetryBackoff:     time.Millisecond,
	})

	err := c.Execute(context.Background(), testOpp(domain.SideYes))
	assert.Error(t, err)
	assert.Equal(t, 3, g.submitCount()) // initial try + 2 retries
	assert.True(t, sink.has("order_rejected"))
	assert.False(t, c.InFlight("m1", domain.SideYes))
}

func TestSubmit_NonTransientRejectionDoesNotRetry(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{Accepted: false, Message: "insufficient balance", Transient: false}}
	sink := &recordingSink{}
	c := newCoordinator(g, testLedger(), sink, Config{
		ValidityWindow:   time.Minute,
		MaxSubmitRetries: 3,
		RetryBackoff:     time.Millisecond,
	})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	assert.Equal(t, 1, g.submitCount())
	assert.True(t, sink.has("order_rejected"))
	assert.False(t, c.InFlight("m1", domain.SideYes))
}

func TestHandleFill_FullFillResolvesOrderAndLedger(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	lgr := testLedger()
	c := newCoordinator(g, lgr, &recordingSink{}, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	orderID := c.OpenOrders("m1")[0].ID

	c.HandleFill(context.Background(), domain.Fill{
		FillID:   "f1",
		OrderID:  orderID,
		MarketID: "m1",
		Side:     domain.SideYes,
		Price:    0.48,
		Size:     100,
		IsFinal:  true,
	})

	assert.False(t, c.InFlight("m1", domain.SideYes))
	assert.Empty(t, c.OpenOrders("m1"))
	assert.InDelta(t, 100, lgr.Current("m1").Yes.Shares, 1e-9)
}

func TestHandleFill_PartialKeepsSlotOccupied(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	lgr := testLedger()
	c := newCoordinator(g, lgr, &recordingSink{}, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	orderID := c.OpenOrders("m1")[0].ID

	c.HandleFill(context.Background(), domain.Fill{
		FillID: "f1", OrderID: orderID, MarketID: "m1",
		Side: domain.SideYes, Price: 0.48, Size: 40,
	})

	assert.True(t, c.InFlight("m1", domain.SideYes))
	orders := c.OpenOrders("m1")
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatePartiallyFilled, orders[0].State)
	assert.InDelta(t, 40, orders[0].FilledSize, 1e-9)
}

// A fill arriving after the order expired still reaches the ledger: the
// shares are real even though the order record is immutable.
func TestHandleFill_LateFillAfterExpiryStillHitsLedger(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	lgr := testLedger()
	c := newCoordinator(g, lgr, &recordingSink{}, Config{ValidityWindow: 10 * time.Millisecond})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	orderID := c.OpenOrders("m1")[0].ID

	require.Eventually(t, func() bool {
		return !c.InFlight("m1", domain.SideYes)
	}, time.Second, 5*time.Millisecond)

	c.HandleFill(context.Background(), domain.Fill{
		FillID: "late", OrderID: orderID, MarketID: "m1",
		Side: domain.SideYes, Price: 0.48, Size: 25,
	})
	assert.InDelta(t, 25, lgr.Current("m1").Yes.Shares, 1e-9)
}

func TestOnStaleness_CancelsInFlightSide(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	sink := &recordingSink{}
	c := newCoordinator(g, testLedger(), sink, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))

	c.OnStaleness(context.Background(), domain.StalenessSignal{MarketID: "m1", Side: domain.SideYes})

	assert.False(t, c.InFlight("m1", domain.SideYes))
	assert.True(t, sink.has("order_cancelled"))
	assert.Contains(t, g.cancelledIDs(), "ex1")
}

func TestOnStaleness_NoOpWithoutInFlightOrder(t *testing.T) {
	g := newFakeGateway()
	c := newCoordinator(g, testLedger(), &recordingSink{}, Config{ValidityWindow: time.Minute})

	c.OnStaleness(context.Background(), domain.StalenessSignal{MarketID: "m1", Side: domain.SideNo})
	assert.Empty(t, g.cancelledIDs())
}

func TestCancelMarket_CancelsBothSides(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{
		{ExchangeID: "ex1", Accepted: true},
		{ExchangeID: "ex2", Accepted: true},
	}
	c := newCoordinator(g, testLedger(), &recordingSink{}, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideNo)))

	c.CancelMarket(context.Background(), "m1")

	assert.False(t, c.InFlight("m1", domain.SideYes))
	assert.False(t, c.InFlight("m1", domain.SideNo))
	assert.ElementsMatch(t, []string{"ex1", "ex2"}, g.cancelledIDs())
}

func TestRun_ConsumesFillStream(t *testing.T) {
	g := newFakeGateway()
	g.results = []domain.SubmitResult{{ExchangeID: "ex1", Accepted: true}}
	lgr := testLedger()
	c := newCoordinator(g, lgr, &recordingSink{}, Config{ValidityWindow: time.Minute})

	require.NoError(t, c.Execute(context.Background(), testOpp(domain.SideYes)))
	orderID := c.OpenOrders("m1")[0].ID

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	g.fills <- domain.Fill{
		FillID: "f1", OrderID: orderID, MarketID: "m1",
		Side: domain.SideYes, Price: 0.48, Size: 100, IsFinal: true,
	}

	assert.Eventually(t, func() bool {
		return lgr.Current("m1").Yes.Shares > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
