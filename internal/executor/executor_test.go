package executor

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

func testCfg() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			MinEdgeNet:        0.01,
			MaxNotional:       5000,
			MaxDailyLoss:      50,
			LegOrderTimeout:   50 * time.Millisecond,
			MinPartialFillQty: 1,
		},
		Executor: config.ExecutorConfig{PositionBalanceEpsilon: 0.01},
		Unwind: config.UnwindConfig{
			LadderSteps:           2,
			LadderStepSize:        0.01,
			LadderStepTimeout:     time.Millisecond,
			MaxTotalTime:          time.Second,
			MarketFallbackRetries: 1,
		},
	}
}

func testMapping(key types.IntervalKey) types.IntervalMapping {
	return types.IntervalMapping{
		Key:              key,
		PolymarketUpID:   "up-token",
		PolymarketDownID: "down-token",
		KalshiTicker:     "TICKER",
	}
}

func happyOpportunity(key types.IntervalKey) types.Opportunity {
	return types.Opportunity{
		IntervalKey: key,
		Legs: [2]types.ArbLeg{
			{Venue: types.Polymarket, Side: types.Yes, Price: decimal.NewFromFloat(0.42), Size: decimal.NewFromInt(50)},
			{Venue: types.Kalshi, Side: types.No, Price: decimal.NewFromFloat(0.56), Size: decimal.NewFromInt(50)},
		},
		Cost:      decimal.NewFromFloat(0.98),
		EdgeNet:   decimal.NewFromFloat(0.02),
		Qty:       decimal.NewFromInt(5),
	}
}

func newExecutor(cfg *config.Config) (*Executor, *state.Manager, *state.PositionTracker) {
	st := state.NewManager(time.Minute)
	pos := state.NewPositionTracker()
	return New(st, pos, cfg, discardLogger()), st, pos
}

// Scenario 1: happy path.
func TestExecuteHappyPath(t *testing.T) {
	cfg := testCfg()
	exec, _, _ := newExecutor(cfg)
	key := types.IntervalKey{StartTS: 1000, EndTS: 1900}
	opp := happyOpportunity(key)
	mapping := testMapping(key)

	clients := Clients{Polymarket: venuetest.New(), Kalshi: venuetest.New()}
	clients.Polymarket.(*venuetest.Fake).QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "a1", FillQty: decimal.NewFromInt(5), FillPrice: decimal.NewFromFloat(0.42), Status: types.StatusFilled},
	})
	clients.Kalshi.(*venuetest.Fake).QueueOrder(types.Kalshi, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "b1", FillQty: decimal.NewFromInt(5), FillPrice: decimal.NewFromFloat(0.56), Status: types.StatusFilled},
	})

	rec := exec.Execute(context.Background(), opp, mapping, clients)

	if rec.Status != types.ExecSuccess {
		t.Fatalf("status = %s, want Success", rec.Status)
	}
	unrealized := exec.state.GetUnrealizedPnL()
	want := decimal.NewFromFloat(0.10)
	if !unrealized.Equal(want) {
		t.Fatalf("unrealized pnl = %s, want %s", unrealized, want)
	}
	if !exec.state.GetDailyLoss(time.Now()).IsZero() {
		t.Fatal("record_pnl should not be called on the happy path until interval end")
	}
}

// Scenario 2: Leg A miss.
func TestExecuteLegAMiss(t *testing.T) {
	cfg := testCfg()
	exec, st, pos := newExecutor(cfg)
	key := types.IntervalKey{StartTS: 2000, EndTS: 2900}
	opp := happyOpportunity(key)
	mapping := testMapping(key)

	clients := Clients{Polymarket: venuetest.New(), Kalshi: venuetest.New()}
	clients.Polymarket.(*venuetest.Fake).QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: false, FillQty: decimal.Zero, Status: types.StatusRejected},
	})

	rec := exec.Execute(context.Background(), opp, mapping, clients)

	if rec.Status != types.ExecLegAFailed {
		t.Fatalf("status = %s, want LegAFailed", rec.Status)
	}
	if rec.RealizedPnL == nil || !rec.RealizedPnL.IsZero() {
		t.Fatal("realized_pnl should be 0")
	}
	if st.IsInCooldown(time.Now()) {
		t.Fatal("leg A miss must not trigger cooldown")
	}
	if st.IsBusy() {
		t.Fatal("busy lock must be released")
	}
	snap := pos.Snapshot()
	if len(snap) != 0 {
		t.Fatal("position tracker must be unchanged on leg A miss")
	}
}

// Scenario 3: hedge fail, successful ladder unwind.
func TestExecuteHedgeFailSuccessfulUnwind(t *testing.T) {
	cfg := testCfg()
	exec, st, _ := newExecutor(cfg)
	key := types.IntervalKey{StartTS: 3000, EndTS: 3900}
	opp := happyOpportunity(key)
	mapping := testMapping(key)

	poly := venuetest.New()
	kalshi := venuetest.New()
	clients := Clients{Polymarket: poly, Kalshi: kalshi}

	poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "a1", FillQty: decimal.NewFromInt(5), FillPrice: decimal.NewFromFloat(0.42), Status: types.StatusFilled},
	})
	kalshi.QueueOrder(types.Kalshi, venuetest.OrderScript{
		Result: types.OrderResult{Success: false, FillQty: decimal.Zero, Status: types.StatusRejected},
	})
	// Ladder unwind on the Polymarket leg: step1 fills 3@0.41, step2 fills 2@0.40.
	poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "u1", FillQty: decimal.NewFromInt(3), FillPrice: decimal.NewFromFloat(0.41)},
	})
	poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "u2", FillQty: decimal.NewFromInt(2), FillPrice: decimal.NewFromFloat(0.40)},
	})

	rec := exec.Execute(context.Background(), opp, mapping, clients)

	if rec.Status != types.ExecUnwound {
		t.Fatalf("status = %s, want Unwound", rec.Status)
	}
	want := decimal.NewFromFloat(0.07)
	if !rec.Unwind.RealizedLoss.Equal(want) {
		t.Fatalf("realized_loss = %s, want %s", rec.Unwind.RealizedLoss, want)
	}
	if !st.GetDailyLoss(time.Now()).Equal(want) {
		t.Fatalf("daily loss = %s, want %s", st.GetDailyLoss(time.Now()), want)
	}
	if st.IsKillSwitchTriggered() {
		t.Fatal("kill switch must not trigger when loss is below daily cap")
	}
	if !st.IsInCooldown(time.Now()) {
		t.Fatal("hedge failure must enter cooldown so subsequent attempts fast-fail")
	}
}

// Boundary: guards must evaluate against the post-capping qty, not
// opp.Qty. An opportunity sized so notional capping reduces it to exactly
// fit remaining headroom must pass NotionalHeadroom; checking the
// uncapped qty against the same headroom would wrongly reject it.
func TestExecuteGuardsRunAgainstCappedQtyNotOpportunityQty(t *testing.T) {
	cfg := testCfg()
	cfg.Risk.MaxNotional = 49.0 // exactly 50 contracts at 0.98/contract
	exec, _, _ := newExecutor(cfg)
	key := types.IntervalKey{StartTS: 5000, EndTS: 5900}
	opp := happyOpportunity(key)
	opp.Qty = decimal.NewFromInt(100) // far more than headroom allows uncapped
	mapping := testMapping(key)

	clients := Clients{Polymarket: venuetest.New(), Kalshi: venuetest.New()}
	clients.Polymarket.(*venuetest.Fake).QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "a1", FillQty: decimal.NewFromInt(50), FillPrice: decimal.NewFromFloat(0.42), Status: types.StatusFilled},
	})
	clients.Kalshi.(*venuetest.Fake).QueueOrder(types.Kalshi, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "b1", FillQty: decimal.NewFromInt(50), FillPrice: decimal.NewFromFloat(0.56), Status: types.StatusFilled},
	})

	rec := exec.Execute(context.Background(), opp, mapping, clients)

	if rec.Status != types.ExecSuccess {
		t.Fatalf("status = %s, want Success (capped qty of 50 exactly fits headroom)", rec.Status)
	}
}

// Scenario 4: hedge fail, unwind fails entirely, kill switch fires.
func TestExecuteHedgeFailUnwindFailsKillSwitch(t *testing.T) {
	cfg := testCfg()
	exec, st, _ := newExecutor(cfg)
	key := types.IntervalKey{StartTS: 4000, EndTS: 4900}
	opp := happyOpportunity(key)
	mapping := testMapping(key)

	poly := venuetest.New()
	kalshi := venuetest.New()
	clients := Clients{Polymarket: poly, Kalshi: kalshi}

	poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
		Result: types.OrderResult{Success: true, OrderID: "a1", FillQty: decimal.NewFromInt(5), FillPrice: decimal.NewFromFloat(0.42), Status: types.StatusFilled},
	})
	kalshi.QueueOrder(types.Kalshi, venuetest.OrderScript{
		Result: types.OrderResult{Success: false, FillQty: decimal.Zero, Status: types.StatusRejected},
	})
	// Ladder and market fallback both miss.
	for i := 0; i < 4; i++ {
		poly.QueueOrder(types.Polymarket, venuetest.OrderScript{
			Result: types.OrderResult{Success: false, FillQty: decimal.Zero},
		})
	}

	rec := exec.Execute(context.Background(), opp, mapping, clients)

	if rec.Status != types.ExecUnwound {
		t.Fatalf("status = %s, want Unwound (terminal even on unwind failure)", rec.Status)
	}
	want := decimal.NewFromFloat(2.10)
	if !rec.Unwind.RealizedLoss.Equal(want) {
		t.Fatalf("realized_loss = %s, want %s", rec.Unwind.RealizedLoss, want)
	}
	if !st.IsKillSwitchTriggered() {
		t.Fatal("expected kill switch triggered")
	}
	if got := st.KillSwitchReason(); got == "" {
		t.Fatal("expected a kill switch reason")
	}
}

func TestPolymarketMinQty(t *testing.T) {
	if got := polymarketMinQty(decimal.NewFromFloat(0.42)); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("min qty at 0.42 = %s, want 5 (1/0.42 rounds up to 3, floored to 5 minimum)", got)
	}
	if got := polymarketMinQty(decimal.NewFromFloat(0.05)); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("min qty at 0.05 = %s, want 20", got)
	}
}
