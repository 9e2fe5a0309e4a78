package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabagool/updownbot/internal/domain"
)

const sampleGammaMarket = `{
	"id": "554123",
	"question": "Bitcoin Up or Down - August 23, 3PM ET",
	"slug": "bitcoin-up-or-down-august-23-3pm-et",
	"active": true,
	"closed": false,
	"acceptingOrders": true,
	"outcomes": "[\"Up\", \"Down\"]",
	"outcomePrices": "[\"0.52\", \"0.48\"]",
	"clobTokenIds": "[\"111222333\", \"444555666\"]",
	"volume": "15342.77",
	"liquidity": "8921.04",
	"startDate": "2026-08-23T18:45:00Z",
	"endDate": "2026-08-23T19:15:00Z",
	"gameStartTime": "2026-08-23T19:00:00Z"
}`

func TestGammaMarket_ToDomain(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(sampleGammaMarket), &gm))

	m, ok := gm.toDomain()
	require.True(t, ok)

	assert.Equal(t, "554123", m.ID)
	assert.Equal(t, "bitcoin-up-or-down-august-23-3pm-et", m.Slug)
	// Up outcome is first, so the first token backs YES.
	assert.Equal(t, "111222333", m.YesTokenID)
	assert.Equal(t, "444555666", m.NoTokenID)
	// gameStartTime wins over startDate.
	assert.Equal(t, time.Date(2026, 8, 23, 19, 0, 0, 0, time.UTC), m.WindowStart)
	assert.Equal(t, time.Date(2026, 8, 23, 19, 15, 0, 0, time.UTC), m.WindowEnd)
	assert.InDelta(t, 15342.77, m.Volume, 1e-9)
	assert.InDelta(t, 8921.04, m.Liquidity, 1e-9)
}

func TestGammaMarket_ToDomain_DownListedFirst(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(sampleGammaMarket), &gm))
	gm.Outcomes = `["Down", "Up"]`

	m, ok := gm.toDomain()
	require.True(t, ok)
	assert.Equal(t, "444555666", m.YesTokenID)
	assert.Equal(t, "111222333", m.NoTokenID)
}

func TestGammaMarket_ToDomain_FallsBackToStartDate(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(sampleGammaMarket), &gm))
	gm.GameStartTime = ""

	m, ok := gm.toDomain()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 23, 18, 45, 0, 0, time.UTC), m.WindowStart)
}

func TestGammaMarket_ToDomain_RejectsMalformedTokenIDs(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(sampleGammaMarket), &gm))
	gm.ClobTokenIDs = `["only-one"]`

	_, ok := gm.toDomain()
	assert.False(t, ok)
}

func TestFlexBool_AcceptsBoolAndString(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(`{"active": "true"}`), &gm))
	assert.True(t, bool(gm.Active))

	require.NoError(t, json.Unmarshal([]byte(`{"active": false}`), &gm))
	assert.False(t, bool(gm.Active))
}

func TestGammaMarket_Resolution(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(sampleGammaMarket), &gm))

	// Still trading: unresolved.
	_, resolved := gm.resolution()
	assert.False(t, resolved)

	// Closed with Up at 1: YES won.
	gm.Closed = true
	gm.OutcomePrices = `["1", "0"]`
	outcome, resolved := gm.resolution()
	require.True(t, resolved)
	assert.Equal(t, domain.OutcomeYes, outcome)

	// Closed with Up at 0: NO won.
	gm.OutcomePrices = `["0", "1"]`
	outcome, resolved = gm.resolution()
	require.True(t, resolved)
	assert.Equal(t, domain.OutcomeNo, outcome)

	// Down listed first flips the slot to read.
	gm.Outcomes = `["Down", "Up"]`
	gm.OutcomePrices = `["0", "1"]`
	outcome, resolved = gm.resolution()
	require.True(t, resolved)
	assert.Equal(t, domain.OutcomeYes, outcome)

	// Closed but prices not yet pinned: unresolved.
	gm.OutcomePrices = `["0.52", "0.48"]`
	_, resolved = gm.resolution()
	assert.False(t, resolved)
}

func TestOrderResponse_ToSubmitResult(t *testing.T) {
	r := orderResponse{Success: true, OrderID: "0xabc", Status: "live"}
	res := r.toSubmitResult()
	assert.True(t, res.Accepted)
	assert.Equal(t, "0xabc", res.ExchangeID)

	r = orderResponse{Success: false, ErrorMsg: "not enough balance", ShouldRetry: false}
	res = r.toSubmitResult()
	assert.False(t, res.Accepted)
	assert.False(t, res.Transient)
	assert.Equal(t, "not enough balance", res.Message)

	r = orderResponse{Success: false, ErrorMsg: "overloaded", ShouldRetry: true}
	assert.True(t, r.toSubmitResult().Transient)
}

func TestParseSequence(t *testing.T) {
	assert.Equal(t, uint64(1766516400123), parseSequence("1766516400123"))

	// Unparseable timestamps fall back to wall clock, which is still a
	// plausible millisecond sequence.
	now := uint64(time.Now().UnixMilli())
	got := parseSequence("garbage")
	assert.GreaterOrEqual(t, got, now)
}
