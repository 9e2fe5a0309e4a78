package polymarket

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabagool/updownbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFeed_EmitPublishesBestAsk(t *testing.T) {
	f := NewFeed("wss://example.invalid/ws/market", testLogger())

	f.emit(tokenBinding{marketID: "m1", side: domain.SideYes}, 0.48, 200, 7)

	select {
	case ev := <-f.Events():
		assert.Equal(t, "m1", ev.MarketID)
		assert.Equal(t, domain.SideYes, ev.Side)
		assert.InDelta(t, 0.48, ev.Price, 1e-9)
		assert.Equal(t, uint64(7), ev.Sequence)
	default:
		t.Fatal("no event published")
	}
}

func TestFeed_EmitDropsNonPositivePrice(t *testing.T) {
	f := NewFeed("wss://example.invalid/ws/market", testLogger())

	f.emit(tokenBinding{marketID: "m1", side: domain.SideYes}, 0, 200, 1)

	select {
	case <-f.Events():
		t.Fatal("empty book must not produce an event")
	default:
	}
}

// A frame arriving after shutdown must be dropped, not sent on the closed
// event channel.
func TestFeed_EmitAfterCloseDoesNotPanic(t *testing.T) {
	f := NewFeed("wss://example.invalid/ws/market", testLogger())
	require.NoError(t, f.Close())

	assert.NotPanics(t, func() {
		f.emit(tokenBinding{marketID: "m1", side: domain.SideYes}, 0.48, 200, 1)
	})
}

func TestFeed_CloseIsIdempotent(t *testing.T) {
	f := NewFeed("wss://example.invalid/ws/market", testLogger())
	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}
