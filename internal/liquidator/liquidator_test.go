package liquidator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/state"
	"polymarket-mm/internal/venue/venuetest"
	"polymarket-mm/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMapping() types.IntervalMapping {
	return types.IntervalMapping{
		Key:              types.IntervalKey{StartTS: 1000, EndTS: 1900},
		PolymarketUpID:   "up-token",
		PolymarketDownID: "down-token",
		KalshiTicker:     "TICKER",
	}
}

func TestRunNoOpWhenBalanced(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	pos.RecordFill(types.Polymarket, types.Yes, types.Buy, decimal.NewFromInt(10), decimal.NewFromFloat(0.42), "up-token", time.Now())
	pos.RecordFill(types.Kalshi, types.No, types.Buy, decimal.NewFromInt(10), decimal.NewFromFloat(0.56), "TICKER", time.Now())

	poly := venuetest.New()
	kalshi := venuetest.New()
	l := New(st, pos, discardLogger())

	l.Run(context.Background(), testMapping(), Clients{Polymarket: poly, Kalshi: kalshi})

	if len(poly.PlacedOrders()) != 0 || len(kalshi.PlacedOrders()) != 0 {
		t.Fatal("expected no sells when total_yes == total_no")
	}
}

func TestRunSellsUnhedgedExcessPreferringPolymarket(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	// 10 YES on Polymarket, no NO anywhere: fully unhedged.
	pos.RecordFill(types.Polymarket, types.Yes, types.Buy, decimal.NewFromInt(10), decimal.NewFromFloat(0.42), "up-token", time.Now())

	poly := venuetest.New()
	// Balance comfortably covers the full position so the sell clears in a
	// single attempt and the test doesn't sit through the inter-retry delay.
	poly.SetConditionalTokenBalance("up-token", 11)
	poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "l1", FillQty: decimal.NewFromInt(10), FillPrice: decimal.NewFromFloat(0.01)},
	})
	kalshi := venuetest.New()

	l := New(st, pos, discardLogger())
	l.Run(context.Background(), testMapping(), Clients{Polymarket: poly, Kalshi: kalshi})

	placed := poly.PlacedOrders()
	if len(placed) == 0 {
		t.Fatal("expected a liquidation sell on polymarket")
	}
	if !placed[0].Qty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("sell qty = %s, want 10", placed[0].Qty)
	}
	if st.IsLiquidationInProgress() {
		t.Fatal("liquidation flag must be cleared after Run returns")
	}
}

func TestApportionPrefersPolymarketFirst(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	pos.RecordFill(types.Polymarket, types.Yes, types.Buy, decimal.NewFromInt(4), decimal.NewFromFloat(0.42), "up-token", time.Now())
	pos.RecordFill(types.Kalshi, types.Yes, types.Buy, decimal.NewFromInt(6), decimal.NewFromFloat(0.42), "TICKER", time.Now())

	l := New(st, pos, discardLogger())
	slices := l.apportion(types.Yes, decimal.NewFromInt(10), testMapping())

	if len(slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(slices))
	}
	if slices[0].venue != types.Polymarket {
		t.Fatal("expected polymarket slice first")
	}
	if !slices[0].qty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("polymarket slice qty = %s, want 4 (capped at its own position)", slices[0].qty)
	}
	if !slices[1].qty.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("kalshi slice qty = %s, want 6 (the remaining target)", slices[1].qty)
	}
}
