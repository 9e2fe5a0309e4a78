package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrStaleQuote        = errors.New("quote is stale")
	ErrExposureExceeded  = errors.New("exposure limit exceeded")
	ErrMarketNotActive   = errors.New("market is not active")
	ErrOrderInFlight     = errors.New("order already in flight for side")
	ErrOrderTerminal     = errors.New("order is in a terminal state")
	ErrInvalidTransition = errors.New("invalid market state transition")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)
