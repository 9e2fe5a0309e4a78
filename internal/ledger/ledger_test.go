package ledger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabagool/updownbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPairCost:      0.99,
		MaxTradeNotional: 700,
		MaxTotalExposure: 2000,
		MinProfitTarget:  1.0,
	}
}

func fill(id, market string, side domain.Side, price, size float64) domain.Fill {
	return domain.Fill{
		FillID:   id,
		OrderID:  "order-" + id,
		MarketID: market,
		Side:     side,
		Price:    price,
		Size:     size,
		At:       time.Now().UTC(),
	}
}

func TestApplyFill_AccumulatesBothSides(t *testing.T) {
	l := New(testLimits(), testLogger())

	pos, applied := l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.517, 1266))
	require.True(t, applied)
	assert.InDelta(t, 1266, pos.Yes.Shares, 1e-9)
	assert.InDelta(t, 0.517, pos.Yes.AvgPrice(), 1e-9)

	pos, applied = l.ApplyFill(fill("f2", "m1", domain.SideNo, 0.449, 1294))
	require.True(t, applied)
	assert.InDelta(t, 1294, pos.No.Shares, 1e-9)
	assert.InDelta(t, 0.449, pos.No.AvgPrice(), 1e-9)
}

// A balanced book bought below $1 per pair locks profit equal to
// min(yes, no) shares minus everything spent: 1266 YES @ $0.517 plus
// 1294 NO @ $0.449 locks 1266 - 654.42 - 581.01 ~= $30.
func TestLockedProfit_BalancedPosition(t *testing.T) {
	l := New(testLimits(), testLogger())

	l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.517, 1266))
	l.ApplyFill(fill("f2", "m1", domain.SideNo, 0.449, 1294))

	pos := l.Current("m1")
	want := 1266.0 - 0.517*1266 - 0.449*1294

	assert.InDelta(t, want, pos.LockedProfit(), 1e-9)
	assert.InDelta(t, 30.47, l.LockedProfit("m1"), 0.05)
	assert.InDelta(t, 0.966, pos.ProjectedPairCost(), 0.001)
	assert.True(t, l.IsProfitLocked("m1"))
}

// The strategy only adds shares on the lagging side while the blended pair
// stays under the limit. Under that discipline every hedging fill raises the
// guaranteed floor, so locked profit must never decrease across fills.
func TestLockedProfit_MonotonicAcrossHedgingFills(t *testing.T) {
	l := New(testLimits(), testLogger())

	fills := []domain.Fill{
		fill("f1", "m1", domain.SideYes, 0.50, 1000),
		fill("f2", "m1", domain.SideNo, 0.44, 900),
		fill("f3", "m1", domain.SideNo, 0.45, 60),
		fill("f4", "m1", domain.SideNo, 0.46, 40),
	}

	prev := l.LockedProfit("m1")
	require.Zero(t, prev)
	for _, f := range fills {
		_, applied := l.ApplyFill(f)
		require.True(t, applied)

		locked := l.LockedProfit("m1")
		assert.GreaterOrEqual(t, locked, prev,
			"locked profit regressed after fill %s", f.FillID)
		prev = locked
	}

	pos := l.Current("m1")
	assert.InDelta(t, 58.6, prev, 1e-9)
	assert.InDelta(t, 0.9414, pos.ProjectedPairCost(), 1e-9)
	assert.LessOrEqual(t, pos.ProjectedPairCost(), testLimits().MaxPairCost)
}

func TestApplyFill_DuplicateFillIDIsNoOp(t *testing.T) {
	l := New(testLimits(), testLogger())

	f := fill("f1", "m1", domain.SideYes, 0.50, 100)
	_, applied := l.ApplyFill(f)
	require.True(t, applied)

	before := l.Current("m1")
	pos, applied := l.ApplyFill(f)
	assert.False(t, applied)
	assert.Equal(t, before, pos)
	assert.Equal(t, 1, l.FillCount("m1"))
}

func TestAvgPrice_CostWeighted(t *testing.T) {
	l := New(testLimits(), testLogger())

	l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.40, 100))
	l.ApplyFill(fill("f2", "m1", domain.SideYes, 0.60, 300))

	pos := l.Current("m1")
	// (0.40*100 + 0.60*300) / 400 = 0.55
	assert.InDelta(t, 0.55, pos.Yes.AvgPrice(), 1e-9)
}

func TestProjectedPairCost_PinnedWhileOneSided(t *testing.T) {
	l := New(testLimits(), testLogger())

	assert.InDelta(t, 1.0, l.ProjectedPairCost("m1"), 1e-9)

	l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.50, 100))
	assert.InDelta(t, 1.0, l.ProjectedPairCost("m1"), 1e-9)
	assert.Zero(t, l.LockedProfit("m1"))

	l.ApplyFill(fill("f2", "m1", domain.SideNo, 0.45, 100))
	assert.InDelta(t, 0.95, l.ProjectedPairCost("m1"), 1e-9)
}

func TestRemainingBudget(t *testing.T) {
	l := New(testLimits(), testLogger())

	assert.InDelta(t, 2000, l.RemainingBudget("m1"), 1e-9)

	l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.50, 1000)) // $500
	assert.InDelta(t, 1500, l.RemainingBudget("m1"), 1e-9)
}

func TestRelease_DropsEntryAndReturnsFinalPosition(t *testing.T) {
	l := New(testLimits(), testLogger())

	l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.50, 100))
	pos := l.Release("m1")
	assert.InDelta(t, 100, pos.Yes.Shares, 1e-9)

	// Fresh entry after release: the old fill ID applies again.
	_, applied := l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.50, 100))
	assert.True(t, applied)
}

func TestMarketsAreIsolated(t *testing.T) {
	l := New(testLimits(), testLogger())

	l.ApplyFill(fill("f1", "m1", domain.SideYes, 0.50, 100))
	l.ApplyFill(fill("f2", "m2", domain.SideNo, 0.45, 200))

	assert.InDelta(t, 100, l.Current("m1").Yes.Shares, 1e-9)
	assert.Zero(t, l.Current("m1").No.Shares)
	assert.InDelta(t, 200, l.Current("m2").No.Shares, 1e-9)
}
