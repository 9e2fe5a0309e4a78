package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gabagool/updownbot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// tokenBinding maps a CLOB asset ID back to the market side it quotes.
type tokenBinding struct {
	marketID string
	side     domain.Side
}

// Feed implements domain.QuoteFeed over the CLOB market WebSocket. It keeps
// a per-token ask book rebuilt from snapshots and incremental updates, and
// emits one best-ask event per change. Sequence numbers come from the
// exchange's millisecond timestamps, which are monotonic per token.
type Feed struct {
	wsURL  string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	bindings map[string]tokenBinding
	books    map[string]map[string]float64 // assetID -> ask price -> size

	events chan domain.QuoteEvent
	done   chan struct{}
}

// NewFeed creates a Feed for the market data endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:    wsURL,
		logger:   logger.With(slog.String("component", "polymarket_feed")),
		bindings: make(map[string]tokenBinding),
		books:    make(map[string]map[string]float64),
		events:   make(chan domain.QuoteEvent, 256),
		done:     make(chan struct{}),
	}
}

// Events returns the shared stream of raw quote events.
func (f *Feed) Events() <-chan domain.QuoteEvent { return f.events }

// Connect dials the WebSocket and starts the read and ping loops. Existing
// subscriptions are restored, so it also serves reconnection.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	f.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop(conn)
	go f.pingLoop(conn)

	if len(f.bindings) > 0 {
		assets := make([]string, 0, len(f.bindings))
		for id := range f.bindings {
			assets = append(assets, id)
		}
		if err := f.sendCommandLocked(wsCommand{Type: "subscribe", Channel: "market", Assets: assets}); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe starts streaming both of the market's tokens.
func (f *Feed) Subscribe(ctx context.Context, market domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}
	f.bindings[market.YesTokenID] = tokenBinding{marketID: market.ID, side: domain.SideYes}
	f.bindings[market.NoTokenID] = tokenBinding{marketID: market.ID, side: domain.SideNo}

	cmd := wsCommand{
		Type:    "subscribe",
		Channel: "market",
		Assets:  []string{market.YesTokenID, market.NoTokenID},
	}
	if err := f.sendCommandLocked(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe %s: %w", market.ID, err)
	}
	return nil
}

// Unsubscribe stops streaming the market's tokens and drops their books.
func (f *Feed) Unsubscribe(ctx context.Context, market domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.bindings, market.YesTokenID)
	delete(f.bindings, market.NoTokenID)
	delete(f.books, market.YesTokenID)
	delete(f.books, market.NoTokenID)

	if f.conn == nil {
		return nil
	}
	cmd := wsCommand{
		Type:    "unsubscribe",
		Channel: "market",
		Assets:  []string{market.YesTokenID, market.NoTokenID},
	}
	if err := f.sendCommandLocked(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: unsubscribe %s: %w", market.ID, err)
	}
	return nil
}

// Close shuts the feed down and closes the event stream.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)
	close(f.events)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

// sendCommandLocked writes a JSON command. Caller holds f.mu.
func (f *Feed) sendCommandLocked(cmd wsCommand) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			conn.Close()
			f.reconnect()
			return
		}
		f.handleMessage(message)
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes one raw frame. The market channel sends single
// objects and arrays of objects; both shapes are accepted.
func (f *Feed) handleMessage(raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			f.handleMessage(item)
		}
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var book bookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		f.applyBook(&book)
	case "price_change":
		var pc priceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		f.applyPriceChange(&pc)
	}
}

// applyBook replaces the token's ask book with the snapshot.
func (f *Feed) applyBook(book *bookMessage) {
	f.mu.Lock()
	binding, tracked := f.bindings[book.AssetID]
	if !tracked {
		f.mu.Unlock()
		return
	}
	asks := make(map[string]float64, len(book.Asks))
	for _, lvl := range book.Asks {
		if size := parsePrice(lvl.Size); size > 0 {
			asks[lvl.Price] = size
		}
	}
	f.books[book.AssetID] = asks
	price, size := bestAsk(asks)
	f.mu.Unlock()

	f.emit(binding, price, size, parseSequence(book.Timestamp))
}

// applyPriceChange folds one level update into the token's ask book. BUY
// side changes only move bids and are ignored.
func (f *Feed) applyPriceChange(pc *priceChangeMessage) {
	if pc.Side != "SELL" {
		return
	}
	f.mu.Lock()
	binding, tracked := f.bindings[pc.AssetID]
	if !tracked {
		f.mu.Unlock()
		return
	}
	asks, ok := f.books[pc.AssetID]
	if !ok {
		asks = make(map[string]float64)
		f.books[pc.AssetID] = asks
	}
	if size := parsePrice(pc.Size); size > 0 {
		asks[pc.Price] = size
	} else {
		delete(asks, pc.Price)
	}
	price, size := bestAsk(asks)
	f.mu.Unlock()

	f.emit(binding, price, size, parseSequence(pc.Timestamp))
}

// emit publishes one best-ask event. A full books-worth of consumers behind
// means the oldest information is the least valuable, so the event is
// dropped rather than blocking the read loop. The send happens under f.mu,
// where Close also closes the channel, so a late frame during shutdown is
// dropped instead of hitting a closed channel.
func (f *Feed) emit(binding tokenBinding, price, size float64, seq uint64) {
	if price <= 0 {
		return
	}
	ev := domain.QuoteEvent{
		MarketID: binding.marketID,
		Side:     binding.side,
		Price:    price,
		Size:     size,
		Sequence: seq,
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	delivered := true
	select {
	case f.events <- ev:
	default:
		delivered = false
	}
	f.mu.Unlock()

	if !delivered {
		f.logger.Debug("event channel full, quote dropped",
			slog.String("market_id", ev.MarketID),
			slog.String("side", string(ev.Side)),
		)
	}
}

// bestAsk scans the ask map for the lowest price.
func bestAsk(asks map[string]float64) (price, size float64) {
	for p, s := range asks {
		v := parsePrice(p)
		if v <= 0 {
			continue
		}
		if price == 0 || v < price {
			price, size = v, s
		}
	}
	return price, size
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the feed is closed.
func (f *Feed) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-f.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()
		if err == nil {
			f.logger.Info("feed reconnected")
			return
		}
		f.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
