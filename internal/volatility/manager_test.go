package volatility

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

func testCfg() config.VolatilityConfig {
	return config.VolatilityConfig{
		Enabled:               true,
		MonitoringWindow:      450 * time.Second,
		HaltWindow:            60 * time.Second,
		CrossingThreshold:     3,
		RangeThresholdMinUSD:  20,
		RangeThresholdMaxUSD:  200,
		PatientThreshold:      120 * time.Second,
		BreakevenThreshold:    60 * time.Second,
		MinProfitPerShare:     0.02,
		SellPriceOffset:       0.01,
		FailedTriggerCooldown: 10 * time.Second,
		RingBufferSize:        500,
	}
}

// Scenario 6: emergency zone, threshold=-inf, sell fires immediately.
func TestOnBTCTickEmergencySellFiresImmediately(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	pos.RecordFill(types.Kalshi, types.Yes, types.Buy, decimal.NewFromInt(5), decimal.NewFromFloat(0.55), "TICKER", time.Now())

	mgr := New(testCfg(), st, pos, discardLogger())
	mgr.currentState = StateMonitoring

	kalshi := venuetest.New()
	kalshi.SetQuote(types.Kalshi, types.NormalizedQuote{Venue: types.Kalshi, Bid: decimal.NewFromFloat(0.45), Ask: decimal.NewFromFloat(0.46)})
	kalshi.QueueOrder(types.Kalshi, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "v1", FillQty: decimal.NewFromInt(5), FillPrice: decimal.NewFromFloat(0.44), Status: types.StatusFilled},
	})
	poly := venuetest.New()
	clients := Clients{Polymarket: poly, Kalshi: kalshi}

	// Drive crossings >= threshold with a range inside [min, max].
	prices := []float64{100, 120, 90, 130, 85}
	for _, p := range prices {
		mgr.OnBTCTick(context.Background(), p, 30*1000, clients, testMapping())
	}

	if mgr.State() != StateDone {
		t.Fatalf("state = %s, want Done (only one hedged side, nothing left for a second sell)", mgr.State())
	}
	orders := kalshi.PlacedOrders()
	if len(orders) == 0 {
		t.Fatal("expected an emergency sell order on kalshi")
	}
}

func TestMonitoringNotEnteredWithoutPosition(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	mgr := New(testCfg(), st, pos, discardLogger())

	clients := Clients{Polymarket: venuetest.New(), Kalshi: venuetest.New()}
	mgr.OnBTCTick(context.Background(), 100, 30*1000, clients, testMapping())

	if mgr.State() != StateIdle {
		t.Fatalf("state = %s, want Idle with no position held", mgr.State())
	}
}

func TestCrossingCountResetOnMonitoringEntryBlocksImmediateTrigger(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	pos.RecordFill(types.Polymarket, types.Yes, types.Buy, decimal.NewFromInt(5), decimal.NewFromFloat(0.50), "up-token", time.Now())
	mgr := New(testCfg(), st, pos, discardLogger())

	clients := Clients{Polymarket: venuetest.New(), Kalshi: venuetest.New()}
	// First tick transitions Idle -> Monitoring and resets crossing_count,
	// so it cannot also register as a crossing on the same tick.
	mgr.OnBTCTick(context.Background(), 100, 100*1000, clients, testMapping())
	if mgr.State() != StateMonitoring {
		t.Fatalf("state = %s, want Monitoring", mgr.State())
	}
	if mgr.ring.crossings() != 0 {
		t.Fatalf("crossings = %d, want 0 immediately after Monitoring entry", mgr.ring.crossings())
	}
}

func TestReentrancyGuardDropsOverlappingTick(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	mgr := New(testCfg(), st, pos, discardLogger())

	mgr.mu.Lock()
	mgr.processing = true
	mgr.mu.Unlock()

	clients := Clients{Polymarket: venuetest.New(), Kalshi: venuetest.New()}
	mgr.OnBTCTick(context.Background(), 100, 30*1000, clients, testMapping())

	if mgr.ring.count != 0 {
		t.Fatal("expected the tick to be dropped entirely while processing another")
	}
}

func TestResetForIntervalClearsFailedSides(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	mgr := New(testCfg(), st, pos, discardLogger())
	mgr.failedSides[types.PositionKey{Venue: types.Polymarket, Side: types.Yes}] = true

	mgr.ResetForInterval()

	if len(mgr.failedSides) != 0 {
		t.Fatal("expected failed_sides cleared by reset_for_interval")
	}
	if mgr.State() != StateIdle {
		t.Fatal("expected Idle after reset_for_interval")
	}
}

func TestStopClearsFailedSides(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	mgr := New(testCfg(), st, pos, discardLogger())
	mgr.failedSides[types.PositionKey{Venue: types.Kalshi, Side: types.No}] = true

	mgr.Stop()

	if len(mgr.failedSides) != 0 {
		t.Fatal("expected failed_sides cleared by stop")
	}
}

func TestShouldHaltTradingRequiresAllThreeConditions(t *testing.T) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	mgr := New(testCfg(), st, pos, discardLogger())

	// Outside halt window: false regardless of crossings/range.
	if mgr.ShouldHaltTrading(120 * 1000) {
		t.Fatal("expected false outside halt_window_ms")
	}

	for _, p := range []float64{100, 120, 90, 130, 85} {
		mgr.ring.push(p, 100)
	}
	if !mgr.ShouldHaltTrading(30 * 1000) {
		t.Fatal("expected true: inside halt window, crossings and range both satisfied")
	}
}
