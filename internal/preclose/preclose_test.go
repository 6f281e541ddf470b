package preclose

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
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

// Scenario 5: position {poly yes: 10, kalshi no: 10}, Polymarket on-chain
// balance = 10. Expected: Polymarket sells 9, Kalshi sells 9; post-unwind
// position {poly yes: 1, kalshi no: 1}.
func TestRunSellsNinetyFivePercentPerVenue(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	pos.RecordFill(types.Polymarket, types.Yes, types.Buy, decimal.NewFromInt(10), decimal.NewFromFloat(0.42), "up-token", time.Now())
	pos.RecordFill(types.Kalshi, types.No, types.Buy, decimal.NewFromInt(10), decimal.NewFromFloat(0.56), "TICKER", time.Now())

	poly := venuetest.New()
	poly.SetConditionalTokenBalance("up-token", 10)
	poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "p1", FillQty: decimal.NewFromInt(9), FillPrice: decimal.NewFromFloat(0.01)},
	})
	kalshi := venuetest.New()
	kalshi.QueueOrder(types.Kalshi, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "k1", FillQty: decimal.NewFromInt(9), FillPrice: decimal.Zero},
	})

	cfg := config.PreCloseConfig{PreCloseWindow: time.Second, RetainPct: 0.05}
	u := New(st, pos, cfg, discardLogger())

	u.Run(context.Background(), testMapping(), Clients{Polymarket: poly, Kalshi: kalshi})

	polyPos := pos.Get(types.Polymarket, types.Yes)
	if !polyPos.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("polymarket yes qty = %s, want 1", polyPos.Qty)
	}
	kalshiPos := pos.Get(types.Kalshi, types.No)
	if !kalshiPos.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("kalshi no qty = %s, want 1", kalshiPos.Qty)
	}

	polyOrders := poly.PlacedOrders()
	if len(polyOrders) == 0 || !polyOrders[0].Qty.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected polymarket sell of 9, got %+v", polyOrders)
	}
	kalshiOrders := kalshi.PlacedOrders()
	if len(kalshiOrders) == 0 || !kalshiOrders[0].Qty.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected kalshi sell of 9, got %+v", kalshiOrders)
	}

	if !st.IsPreCloseActive() {
		t.Fatal("pre-close flag stays active until the rollover event clears it")
	}
}

func TestRunDefersWhenLiquidationInProgress(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	pos.RecordFill(types.Polymarket, types.Yes, types.Buy, decimal.NewFromInt(10), decimal.NewFromFloat(0.42), "up-token", time.Now())
	st.StartLiquidation()

	poly := venuetest.New()
	kalshi := venuetest.New()
	cfg := config.PreCloseConfig{PreCloseWindow: time.Second, RetainPct: 0.05}
	u := New(st, pos, cfg, discardLogger())

	u.Run(context.Background(), testMapping(), Clients{Polymarket: poly, Kalshi: kalshi})

	if len(poly.PlacedOrders()) != 0 {
		t.Fatal("expected pre-close to defer entirely to the in-progress liquidation")
	}
}

func TestRunNoOpWhenNoPositions(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	poly := venuetest.New()
	kalshi := venuetest.New()
	cfg := config.PreCloseConfig{PreCloseWindow: time.Second, RetainPct: 0.05}
	u := New(st, pos, cfg, discardLogger())

	u.Run(context.Background(), testMapping(), Clients{Polymarket: poly, Kalshi: kalshi})

	if len(poly.PlacedOrders()) != 0 || len(kalshi.PlacedOrders()) != 0 {
		t.Fatal("expected no sells with an empty position tracker")
	}
}
