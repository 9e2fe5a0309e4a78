package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool/updownbot/internal/domain"
)

// Journal implements domain.Journal. Every write is an upsert keyed on the
// natural ID so retries and replays are harmless.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// RecordOrder inserts a freshly created order.
func (j *Journal) RecordOrder(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (id, exchange_id, market_id, side, limit_price, size, filled_size, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		o.ID, o.ExchangeID, o.MarketID, string(o.Side),
		o.LimitPrice, o.Size, o.FilledSize, string(o.State), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderState advances a journaled order's state and filled size.
func (j *Journal) UpdateOrderState(ctx context.Context, orderID string, state domain.OrderState, filledSize float64) error {
	const query = `
		UPDATE orders SET state = $1, filled_size = $2, updated_at = NOW()
		WHERE id = $3`

	tag, err := j.pool.Exec(ctx, query, string(state), filledSize, orderID)
	if err != nil {
		return fmt.Errorf("postgres: update order state %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %s: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

// RecordFill inserts one fill, ignoring replays of the same fill ID.
func (j *Journal) RecordFill(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (fill_id, order_id, market_id, side, price, size, is_final, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fill_id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		f.FillID, f.OrderID, f.MarketID, string(f.Side),
		f.Price, f.Size, f.IsFinal, f.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: record fill %s: %w", f.FillID, err)
	}
	return nil
}

// RecordWindow upserts the settlement summary of one finished window.
func (j *Journal) RecordWindow(ctx context.Context, r domain.WindowReport) error {
	const query = `
		INSERT INTO windows (
			market_id, question, outcome,
			yes_shares, yes_avg_price, no_shares, no_avg_price,
			total_cost, pair_cost, locked_profit, balance_ratio,
			fill_count, window_start, window_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (market_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			yes_shares = EXCLUDED.yes_shares,
			yes_avg_price = EXCLUDED.yes_avg_price,
			no_shares = EXCLUDED.no_shares,
			no_avg_price = EXCLUDED.no_avg_price,
			total_cost = EXCLUDED.total_cost,
			pair_cost = EXCLUDED.pair_cost,
			locked_profit = EXCLUDED.locked_profit,
			balance_ratio = EXCLUDED.balance_ratio,
			fill_count = EXCLUDED.fill_count,
			recorded_at = NOW()`

	_, err := j.pool.Exec(ctx, query,
		r.MarketID, r.Question, string(r.Outcome),
		r.YesShares, r.YesAvgPrice, r.NoShares, r.NoAvgPrice,
		r.TotalCost, r.PairCost, r.LockedProfit, r.BalanceRatio,
		r.FillCount, r.WindowStart, r.WindowEnd,
	)
	if err != nil {
		return fmt.Errorf("postgres: record window %s: %w", r.MarketID, err)
	}
	return nil
}

// WindowsBefore returns window reports that ended before the cutoff, oldest
// first. Used by the archiver to pick candidates for cold storage.
func (j *Journal) WindowsBefore(ctx context.Context, cutoff time.Time) ([]domain.WindowReport, error) {
	const query = `
		SELECT market_id, question, outcome,
		       yes_shares, yes_avg_price, no_shares, no_avg_price,
		       total_cost, pair_cost, locked_profit, balance_ratio,
		       fill_count, window_start, window_end
		FROM windows
		WHERE window_end < $1
		ORDER BY window_end ASC`

	rows, err := j.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: windows before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []domain.WindowReport
	for rows.Next() {
		var r domain.WindowReport
		var outcome string
		err := rows.Scan(
			&r.MarketID, &r.Question, &outcome,
			&r.YesShares, &r.YesAvgPrice, &r.NoShares, &r.NoAvgPrice,
			&r.TotalCost, &r.PairCost, &r.LockedProfit, &r.BalanceRatio,
			&r.FillCount, &r.WindowStart, &r.WindowEnd,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan window: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate windows: %w", err)
	}
	return out, nil
}

// DeleteWindowsBefore removes archived window rows. Called by the archiver
// after a successful upload.
func (j *Journal) DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, `DELETE FROM windows WHERE window_end < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete windows before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.Journal = (*Journal)(nil)
