package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gabagool/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false"), since the
// Gamma API sends either depending on the endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// gammaMarket is a market as returned by the Gamma API. The recurring
// up-or-down series encodes the window in gameStartTime/endDate and the
// asset in the slug, e.g. "bitcoin-up-or-down-august-23-3pm-et".
type gammaMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	Slug            string   `json:"slug"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	AcceptingOrders bool     `json:"acceptingOrders"`
	Outcomes        string   `json:"outcomes"`      // JSON-encoded, e.g. "[\"Up\",\"Down\"]"
	OutcomePrices   string   `json:"outcomePrices"` // JSON-encoded, "1"/"0" once resolved
	ClobTokenIDs    string   `json:"clobTokenIds"`  // JSON-encoded pair, YES first
	Volume          string   `json:"volume"`
	Liquidity       string   `json:"liquidity"`
	StartDateISO    string   `json:"startDate"`
	EndDateISO      string   `json:"endDate"`
	GameStartTime   string   `json:"gameStartTime"`
}

// windowBounds returns the market's trading window. gameStartTime is
// preferred when present; older windows only carry startDate.
func (m *gammaMarket) windowBounds() (start, end time.Time, ok bool) {
	end, err := time.Parse(time.RFC3339, m.EndDateISO)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if m.GameStartTime != "" {
		if t, err := time.Parse(time.RFC3339, m.GameStartTime); err == nil {
			return t, end, true
		}
	}
	start, err = time.Parse(time.RFC3339, m.StartDateISO)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// jsonStringPair decodes Gamma's doubly-encoded two-element arrays.
func jsonStringPair(encoded string) (a, b string, ok bool) {
	var pair []string
	if err := json.Unmarshal([]byte(encoded), &pair); err != nil || len(pair) < 2 {
		return "", "", false
	}
	return pair[0], pair[1], true
}

// upOutcomeIndex returns which outcome slot means "price went up". The
// up-or-down series labels outcomes "Up"/"Down"; ordinary binaries use
// "Yes"/"No".
func upOutcomeIndex(outcomes string) int {
	a, _, ok := jsonStringPair(outcomes)
	if !ok {
		return 0
	}
	switch strings.ToLower(a) {
	case "up", "yes":
		return 0
	default:
		return 1
	}
}

// toDomain converts the Gamma payload into a domain.Market. The YES token is
// the one backing the "Up" outcome.
func (m *gammaMarket) toDomain() (domain.Market, bool) {
	start, end, ok := m.windowBounds()
	if !ok {
		return domain.Market{}, false
	}
	tokenA, tokenB, ok := jsonStringPair(m.ClobTokenIDs)
	if !ok {
		return domain.Market{}, false
	}
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		WindowStart: start,
		WindowEnd:   end,
	}
	if upOutcomeIndex(m.Outcomes) == 0 {
		dm.YesTokenID, dm.NoTokenID = tokenA, tokenB
	} else {
		dm.YesTokenID, dm.NoTokenID = tokenB, tokenA
	}
	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}
	if l, err := strconv.ParseFloat(m.Liquidity, 64); err == nil {
		dm.Liquidity = l
	}
	return dm, true
}

// resolution reads the settled outcome from outcomePrices. A resolved binary
// reports "1" for the winner and "0" for the loser.
func (m *gammaMarket) resolution() (domain.Outcome, bool) {
	if !m.Closed {
		return domain.OutcomeUnresolved, false
	}
	priceA, priceB, ok := jsonStringPair(m.OutcomePrices)
	if !ok {
		return domain.OutcomeUnresolved, false
	}
	upIdx := upOutcomeIndex(m.Outcomes)
	upPrice := priceA
	if upIdx == 1 {
		upPrice = priceB
	}
	switch upPrice {
	case "1", "1.0":
		return domain.OutcomeYes, true
	case "0", "0.0":
		return domain.OutcomeNo, true
	}
	return domain.OutcomeUnresolved, false
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// orderResponse is the CLOB's reply to an order placement.
type orderResponse struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

func (r *orderResponse) toSubmitResult() domain.SubmitResult {
	return domain.SubmitResult{
		ExchangeID: r.OrderID,
		Accepted:   r.Success,
		Message:    r.ErrorMsg,
		Transient:  r.ShouldRetry,
	}
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsCommand is the JSON payload sent to subscribe or unsubscribe.
type wsCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
	Auth    *wsAuth  `json:"auth,omitempty"`
}

// wsAuth carries L2 credentials for the authenticated user channel.
type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// wsPriceLevel is one bid/ask level in book data.
type wsPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookMessage is a full orderbook snapshot for one token.
type bookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Asks      []wsPriceLevel `json:"asks"`
	Bids      []wsPriceLevel `json:"bids"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// priceChangeMessage is an incremental level update for one token.
type priceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" removes the level
	Timestamp string `json:"timestamp"`
}

// tradeMessage is a fill notification from the authenticated user channel.
type tradeMessage struct {
	ID           string `json:"id"`
	TakerOrderID string `json:"taker_order_id"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Status       string `json:"status"` // "MATCHED", "MINED", "CONFIRMED"
	MakerOrders  []struct {
		OrderID       string `json:"order_id"`
		MatchedAmount string `json:"matched_amount"`
		Price         string `json:"price"`
	} `json:"maker_orders"`
	Timestamp string `json:"timestamp"`
}

// parseSequence converts the exchange's millisecond timestamp into the
// per-side sequence number used for ordering.
func parseSequence(ts string) uint64 {
	n, err := strconv.ParseUint(ts, 10, 64)
	if err != nil {
		return uint64(time.Now().UnixMilli())
	}
	return n
}
