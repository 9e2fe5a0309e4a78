// Package polymarket adapts the Polymarket Gamma and CLOB APIs to the
// domain ports: market discovery, the real-time quote feed, and order
// submission with fill streaming.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabagool/updownbot/internal/domain"
)

// seriesSlug returns the Gamma series slug for an asset class, e.g.
// "bitcoin" -> "bitcoin-up-or-down".
func seriesSlug(assetClass string) string {
	return strings.ToLower(assetClass) + "-up-or-down"
}

// GammaClient implements domain.MarketDirectory against the Gamma REST API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma client.
//
// baseURL is the API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListCandidateMarkets returns open up-or-down windows of the requested
// asset class and duration. Markets whose metadata does not parse into a
// usable window are skipped.
func (g *GammaClient) ListCandidateMarkets(ctx context.Context, assetClass string, windowDuration time.Duration) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("slug_contains", seriesSlug(assetClass))
	params.Set("closed", "false")
	params.Set("limit", "100")
	params.Set("order", "endDate")
	params.Set("ascending", "true")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var raw []gammaMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	var out []domain.Market
	for i := range raw {
		m := &raw[i]
		if !m.AcceptingOrders && !bool(m.Active) {
			continue
		}
		dm, ok := m.toDomain()
		if !ok {
			continue
		}
		if !matchesDuration(dm.WindowEnd.Sub(dm.WindowStart), windowDuration) {
			continue
		}
		out = append(out, dm)
	}
	return out, nil
}

// Tradeable reports whether the market is still open and accepting orders.
// The lifecycle manager asks again at window start; a window listed at
// discovery can be suspended before it opens.
func (g *GammaClient) Tradeable(ctx context.Context, marketID string) (bool, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(marketID))
	if err != nil {
		return false, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}
	var m gammaMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return false, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return m.AcceptingOrders && bool(m.Active) && !m.Closed, nil
}

// Resolution reports the settled outcome of a market. resolved is false
// while the oracle has not finalized the window.
func (g *GammaClient) Resolution(ctx context.Context, marketID string) (domain.Outcome, bool, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(marketID))
	if err != nil {
		return domain.OutcomeUnresolved, false, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}
	var m gammaMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.OutcomeUnresolved, false, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	outcome, resolved := m.resolution()
	return outcome, resolved, nil
}

// matchesDuration allows a one-minute tolerance; Gamma's listed start times
// drift a few seconds around the nominal window boundary.
func matchesDuration(got, want time.Duration) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Minute
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// parsePrice is a small shared helper for decimal string prices.
func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
