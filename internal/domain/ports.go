package domain

import (
	"context"
	"io"
	"time"
)

// MarketDirectory discovers candidate trading windows. It is implemented by
// the Gamma REST adapter; the core never talks HTTP directly.
type MarketDirectory interface {
	// ListCandidateMarkets returns metadata for upcoming and live windows of
	// the given asset class (e.g. "bitcoin") and duration.
	ListCandidateMarkets(ctx context.Context, assetClass string, windowDuration time.Duration) ([]Market, error)
	// Tradeable reports whether the exchange is currently accepting orders
	// on the market. Checked again at window start; a market can be
	// suspended between discovery and activation.
	Tradeable(ctx context.Context, marketID string) (bool, error)
	// Resolution returns the outcome of a market once it has settled.
	Resolution(ctx context.Context, marketID string) (Outcome, bool, error)
}

// QuoteFeed streams raw best-ask updates for subscribed tokens. Sequence
// numbers are per (market, side) and monotonically increasing; gaps imply
// the consumer should keep only the newest value.
type QuoteFeed interface {
	// Subscribe starts streaming updates for both sides of the market into
	// the feed's event channel. Unsubscribe stops them.
	Subscribe(ctx context.Context, market Market) error
	Unsubscribe(ctx context.Context, market Market) error
	// Events is the shared stream of raw quote events.
	Events() <-chan QuoteEvent
}

// OrderGateway submits and cancels orders and streams asynchronous fill
// notifications. Implemented by the CLOB adapter.
type OrderGateway interface {
	Submit(ctx context.Context, order Order) (SubmitResult, error)
	Cancel(ctx context.Context, exchangeID string) error
	// Fills is the shared stream of fill notifications, keyed by order ID.
	Fills() <-chan Fill
}

// EventSink receives structured observability events: state transitions,
// decisions, fills, and locked-profit milestones. The core only emits; it
// never reads back.
type EventSink interface {
	Emit(ctx context.Context, event string, fields map[string]any)
}

// QuoteCache mirrors the latest quote per (market, side) for external
// consumers (dashboards, other processes). Best-effort.
type QuoteCache interface {
	SetQuote(ctx context.Context, snap QuoteSnapshot) error
	GetQuote(ctx context.Context, marketID string, side Side) (QuoteSnapshot, error)
}

// WindowReport summarizes one finished trading window for journaling and
// archival.
type WindowReport struct {
	MarketID     string
	Question     string
	Outcome      Outcome
	YesShares    float64
	YesAvgPrice  float64
	NoShares     float64
	NoAvgPrice   float64
	TotalCost    float64
	PairCost     float64
	LockedProfit float64
	BalanceRatio float64
	FillCount    int
	WindowStart  time.Time
	WindowEnd    time.Time
}

// Journal persists orders, fills and window reports for later analysis. All
// writes are best-effort: in-process state stays authoritative and a journal
// failure never blocks trading.
type Journal interface {
	RecordOrder(ctx context.Context, order Order) error
	UpdateOrderState(ctx context.Context, orderID string, state OrderState, filledSize float64) error
	RecordFill(ctx context.Context, fill Fill) error
	RecordWindow(ctx context.Context, report WindowReport) error
	WindowsBefore(ctx context.Context, cutoff time.Time) ([]WindowReport, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves settled window reports to cold storage.
type Archiver interface {
	ArchiveWindows(ctx context.Context, before time.Time) (int64, error)
}
