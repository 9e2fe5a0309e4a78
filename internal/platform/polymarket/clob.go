package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gabagool/updownbot/internal/crypto"
	"github.com/gabagool/updownbot/internal/domain"
)

// zeroAddress is the public taker for open CLOB orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcDecimals converts human prices and sizes to the 6-decimal fixed point
// the exchange contracts use.
const usdcDecimals = 1e6

// MarketResolver looks up market metadata for token routing. Satisfied by
// lifecycle.Manager.
type MarketResolver interface {
	Get(marketID string) (domain.Market, error)
}

// trackedOrder is the gateway's record of one submitted order, used to
// translate exchange fill notifications back to internal order IDs.
type trackedOrder struct {
	orderID  string
	marketID string
	side     domain.Side
	size     float64
	filled   float64
}

// Gateway implements domain.OrderGateway against the CLOB REST API, with
// fills streamed from the authenticated user WebSocket channel.
type Gateway struct {
	baseURL    string
	userWSURL  string
	httpClient *http.Client
	signer     *crypto.Signer
	markets    MarketResolver
	logger     *slog.Logger

	mu         sync.Mutex
	hmacAuth   *crypto.HMACAuth
	byExchange map[string]*trackedOrder

	fills chan domain.Fill
	done  chan struct{}
	once  sync.Once
}

// NewGateway creates a Gateway.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// userWSURL is the user channel endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/user".
func NewGateway(baseURL, userWSURL string, signer *crypto.Signer, markets MarketResolver, logger *slog.Logger) *Gateway {
	return &Gateway{
		baseURL:    baseURL,
		userWSURL:  userWSURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		markets:    markets,
		logger:     logger.With(slog.String("component", "polymarket_clob")),
		byExchange: make(map[string]*trackedOrder),
		fills:      make(chan domain.Fill, 128),
		done:       make(chan struct{}),
	}
}

// Fills returns the stream of fill notifications.
func (g *Gateway) Fills() <-chan domain.Fill { return g.fills }

// Submit signs and posts a buy order. Prices and sizes are converted to the
// exchange's fixed-point amounts; for a BUY the maker amount is collateral
// spent and the taker amount is shares received.
func (g *Gateway) Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error) {
	market, err := g.markets.Get(order.MarketID)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: resolve market %s: %w", order.MarketID, err)
	}
	tokenID := market.TokenID(order.Side)
	if tokenID == "" {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: market %s has no token for side %s", order.MarketID, order.Side)
	}

	makerAmount := big.NewInt(int64(order.LimitPrice * order.Size * usdcDecimals))
	takerAmount := big.NewInt(int64(order.Size * usdcDecimals))

	salt, err := randomSalt()
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: salt: %w", err)
	}
	address := g.signer.Address().Hex()

	payload := crypto.OrderPayload{
		Salt:          salt,
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: 0, // EOA
	}
	signature, err := g.signer.SignOrder(payload)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          salt,
			"tokenID":       tokenID,
			"makerAmount":   makerAmount.String(),
			"takerAmount":   takerAmount.String(),
			"side":          "BUY",
			"feeRateBps":    "0",
			"nonce":         "0",
			"expiration":    "0",
			"signatureType": 0,
			"signature":     signature,
			"maker":         address,
			"signer":        address,
			"taker":         zeroAddress,
		},
		"owner":     address,
		"orderType": "GTC",
	}

	respBody, err := g.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: decode order response: %w", err)
	}
	result := resp.toSubmitResult()

	if result.Accepted && result.ExchangeID != "" {
		g.mu.Lock()
		g.byExchange[result.ExchangeID] = &trackedOrder{
			orderID:  order.ID,
			marketID: order.MarketID,
			side:     order.Side,
			size:     order.Size,
		}
		g.mu.Unlock()
	}
	return result, nil
}

// Cancel cancels one order by its exchange ID.
func (g *Gateway) Cancel(ctx context.Context, exchangeID string) error {
	body := map[string]any{"orderID": exchangeID}
	respBody, err := g.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", exchangeID, err)
	}
	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// DeriveAPIKey performs the L1 auth flow: sign a ClobAuth EIP-712 message
// and exchange it for HMAC credentials used on every later request.
func (g *Gateway) DeriveAPIKey(ctx context.Context) error {
	address := g.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := g.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	g.mu.Lock()
	g.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	g.mu.Unlock()
	return nil
}

// Close stops the fill stream.
func (g *Gateway) Close() error {
	g.once.Do(func() {
		close(g.done)
		close(g.fills)
	})
	return nil
}

// RunUserFeed consumes the authenticated user channel and converts trade
// notifications into fills until ctx is done. It reconnects on failure.
func (g *Gateway) RunUserFeed(ctx context.Context) error {
	g.logger.Info("user feed started")
	defer g.logger.Info("user feed stopped")

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.done:
			return nil
		default:
		}

		if err := g.consumeUserFeed(ctx); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-g.done:
				return nil
			case <-time.After(delay):
			}
			g.logger.Warn("user feed reconnecting", slog.String("error", err.Error()))
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		delay = reconnectDelay
	}
}

// consumeUserFeed runs one connection: dial, authenticate, read trades.
func (g *Gateway) consumeUserFeed(ctx context.Context) error {
	g.mu.Lock()
	auth := g.hmacAuth
	g.mu.Unlock()
	if auth == nil {
		return fmt.Errorf("polymarket/clob: %w: no API credentials, call DeriveAPIKey first", domain.ErrUnauthorized)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, g.userWSURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: user ws connect: %w", err)
	}
	defer conn.Close()

	sub := wsCommand{
		Type:    "subscribe",
		Channel: "user",
		Auth: &wsAuth{
			APIKey:     auth.Key,
			Secret:     auth.Secret,
			Passphrase: auth.Passphrase,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("polymarket/clob: user ws subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.done:
			return nil
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket/clob: user ws read: %w", err)
		}
		g.handleUserMessage(raw)
	}
}

// handleUserMessage parses one user channel frame and dispatches trades.
func (g *Gateway) handleUserMessage(raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			g.handleUserMessage(item)
		}
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.EventType != "trade" {
		return
	}
	var trade tradeMessage
	if err := json.Unmarshal(raw, &trade); err != nil {
		return
	}
	// The same trade is re-broadcast as it moves MATCHED -> MINED ->
	// CONFIRMED; only the first sighting carries new information. The
	// ledger's fill ID dedup catches stragglers anyway.
	if trade.Status != "MATCHED" {
		return
	}
	g.dispatchTrade(&trade)
}

// dispatchTrade maps exchange order IDs in the trade back to internal orders
// and emits one fill per matched order of ours.
func (g *Gateway) dispatchTrade(trade *tradeMessage) {
	at := time.UnixMilli(int64(parseSequence(trade.Timestamp))).UTC()

	emit := func(exchangeID string, price, size float64) {
		g.mu.Lock()
		tr, ours := g.byExchange[exchangeID]
		if !ours {
			g.mu.Unlock()
			return
		}
		tr.filled += size
		fill := domain.Fill{
			FillID:   trade.ID + ":" + exchangeID,
			OrderID:  tr.orderID,
			MarketID: tr.marketID,
			Side:     tr.side,
			Price:    price,
			Size:     size,
			IsFinal:  tr.filled >= tr.size-1e-9,
			At:       at,
		}
		g.mu.Unlock()

		select {
		case g.fills <- fill:
		default:
			g.logger.Error("fill channel full, fill dropped",
				slog.String("fill_id", fill.FillID),
				slog.String("order_id", fill.OrderID),
			)
		}
	}

	emit(trade.TakerOrderID, parsePrice(trade.Price), parsePrice(trade.Size))
	for _, maker := range trade.MakerOrders {
		emit(maker.OrderID, parsePrice(maker.Price), parsePrice(maker.MatchedAmount))
	}
}

// doAuthenticatedRequest builds, signs, and sends an HMAC-authenticated
// request, returning the raw response body.
func (g *Gateway) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	g.mu.Lock()
	auth := g.hmacAuth
	g.mu.Unlock()
	if auth == nil {
		return nil, fmt.Errorf("polymarket/clob: %w: no API credentials, call DeriveAPIKey first", domain.ErrUnauthorized)
	}
	for k, v := range auth.L2Headers(g.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// randomSalt returns a random uint64 as a decimal string.
func randomSalt() (string, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}
