package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gabagool/updownbot/internal/domain"
)

// quoteTTL expires mirrored quotes well after any 15-minute window ends so
// stale keys never accumulate.
const quoteTTL = 30 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Each (market,
// side) pair lives at "updownbot:quote:{marketID}:{side}" with fields ask,
// size, seq and ts.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.rdb}
}

func quoteKey(marketID string, side domain.Side) string {
	return "updownbot:quote:" + marketID + ":" + string(side)
}

// SetQuote mirrors one snapshot.
func (qc *QuoteCache) SetQuote(ctx context.Context, snap domain.QuoteSnapshot) error {
	key := quoteKey(snap.MarketID, snap.Side)
	fields := map[string]interface{}{
		"ask":  strconv.FormatFloat(snap.BestAsk, 'f', -1, 64),
		"size": strconv.FormatFloat(snap.AskSize, 'f', -1, 64),
		"seq":  strconv.FormatUint(snap.Sequence, 10),
		"ts":   strconv.FormatInt(snap.ReceivedAt.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", snap.MarketID, snap.Side, err)
	}
	return nil
}

// GetQuote reads back the mirrored snapshot. It returns domain.ErrNotFound
// when the key is missing or expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, marketID string, side domain.Side) (domain.QuoteSnapshot, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(marketID, side)).Result()
	if err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: get quote %s/%s: %w", marketID, side, err)
	}
	if len(vals) == 0 {
		return domain.QuoteSnapshot{}, domain.ErrNotFound
	}

	snap := domain.QuoteSnapshot{MarketID: marketID, Side: side}
	if ask, err := strconv.ParseFloat(vals["ask"], 64); err == nil {
		snap.BestAsk = ask
	}
	if size, err := strconv.ParseFloat(vals["size"], 64); err == nil {
		snap.AskSize = size
	}
	if seq, err := strconv.ParseUint(vals["seq"], 10, 64); err == nil {
		snap.Sequence = seq
	}
	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		snap.ReceivedAt = time.Unix(0, tsNano).UTC()
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
