package domain

import "time"

// OrderState tracks the order lifecycle. Rejected, Cancelled, Expired and
// Filled are terminal; a terminal order is never mutated again.
type OrderState string

const (
	OrderStateCreated         OrderState = "created"
	OrderStateSubmitted       OrderState = "submitted"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateRejected        OrderState = "rejected"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateExpired         OrderState = "expired"
)

// Terminal reports whether the state is final.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateExpired:
		return true
	}
	return false
}

// Order is one submitted trade intent: a limit buy of Size shares of Side at
// LimitPrice or better.
type Order struct {
	ID          string // client-generated UUID
	ExchangeID  string // assigned by the exchange on submit
	MarketID    string
	Side        Side
	LimitPrice  float64
	Size        float64
	FilledSize  float64
	State       OrderState
	CreatedAt   time.Time
	SubmittedAt time.Time
	ResolvedAt  time.Time // set when the order reaches a terminal state
}

// Remaining returns the unfilled share quantity.
func (o Order) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Fill is an asynchronous fill notification from the exchange. FillID is
// unique per fill event and is the idempotency key for ledger application.
type Fill struct {
	FillID   string
	OrderID  string
	MarketID string
	Side     Side
	Price    float64
	Size     float64
	IsFinal  bool // true when the order is fully resolved by this fill
	At       time.Time
}

// SubmitResult is the synchronous response to an order submission.
type SubmitResult struct {
	ExchangeID string
	Accepted   bool
	Message    string
	Transient  bool // true when the failure is worth retrying
}
