// Package executor implements the two-phase commit orchestrator: submit
// Polymarket (Leg A, IOC) first since it is the uncertain leg, then Kalshi
// (Leg B, FOK) only once Leg A's fill is known. A hedge failure triggers
// the unwinder; the busy lock and kill switch live in internal/state and
// are the only cross-cutting coordination the orchestrator touches.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/guards"
	"polymarket-mm/internal/planner"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/unwinder"
	"polymarket-mm/internal/venue"
	"polymarket-mm/pkg/types"
)

// ErrInsufficientNotionalHeadroom is returned when the notional-capped
// quantity falls below Polymarket's price-dependent minimum order size.
var ErrInsufficientNotionalHeadroom = errors.New("insufficient notional headroom for minimum order size")

// Clients bundles the two venue clients the executor drives. Polymarket is
// always Leg A, Kalshi is always Leg B — the roles are fixed, not derived
// from the opportunity, per §4.2 step 4.
type Clients struct {
	Polymarket venue.Client
	Kalshi     venue.Client
}

func (c Clients) forVenue(v types.Venue) venue.Client {
	if v == types.Polymarket {
		return c.Polymarket
	}
	return c.Kalshi
}

// Executor runs execute_opportunity against the shared execution state and
// position tracker.
type Executor struct {
	state     *state.Manager
	positions *state.PositionTracker
	cfg       *config.Config
	log       *slog.Logger
}

// New creates an Executor bound to the process-wide state singleton.
func New(st *state.Manager, positions *state.PositionTracker, cfg *config.Config, logger *slog.Logger) *Executor {
	return &Executor{state: st, positions: positions, cfg: cfg, log: logger.With("component", "executor")}
}

func legFor(opp types.Opportunity, v types.Venue) (types.ArbLeg, bool) {
	for _, leg := range opp.Legs {
		if leg.Venue == v {
			return leg, true
		}
	}
	return types.ArbLeg{}, false
}

// polymarketMinQty returns the smallest economically meaningful order size
// at a given price: max(5, ceil(1/price)) shares, per §4.2 step 2.
func polymarketMinQty(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.NewFromInt(5)
	}
	inv := decimal.NewFromInt(1).Div(price)
	ceil := inv.Ceil()
	five := decimal.NewFromInt(5)
	if ceil.GreaterThan(five) {
		return ceil
	}
	return five
}

// Execute runs the full two-phase commit flow for one opportunity and
// returns the completed ExecutionRecord.
func (e *Executor) Execute(ctx context.Context, opp types.Opportunity, mapping types.IntervalMapping, clients Clients) *types.ExecutionRecord {
	rec := &types.ExecutionRecord{
		ID:              uuid.NewString(),
		Opportunity:     opp,
		Status:          types.ExecPending,
		StartTS:         time.Now(),
		ExpectedEdgeNet: opp.EdgeNet,
	}
	log := e.log.With("execution_id", rec.ID, "interval", opp.IntervalKey)

	// 1. Pre-flight.
	if mapping.Key != opp.IntervalKey {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "mapping does not match opportunity interval")
		return rec
	}
	now := time.Now()
	if e.state.IsKillSwitchTriggered() {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "kill switch triggered: "+e.state.KillSwitchReason())
		return rec
	}
	if e.state.IsInCooldown(now) {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "executor in cooldown")
		return rec
	}
	if !e.state.AcquireBusyLock(rec.ID) {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "executor busy")
		return rec
	}
	defer e.state.ReleaseBusyLock()

	legA, okA := legFor(opp, types.Polymarket)
	legB, okB := legFor(opp, types.Kalshi)
	if !okA || !okB {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "opportunity missing a Polymarket or Kalshi leg")
		return rec
	}

	// 2. Notional capping.
	costPerContract := legA.Price.Add(legB.Price)
	currentNotional := e.state.GetTotalNotional()
	maxNotional := decimal.NewFromFloat(e.cfg.Risk.MaxNotional)
	headroom := maxNotional.Sub(currentNotional)
	qty := opp.Qty
	if headroom.LessThan(qty.Mul(costPerContract)) && costPerContract.IsPositive() {
		qty = headroom.Div(costPerContract).Floor()
	}
	minQty := polymarketMinQty(legA.Price)
	if qty.LessThan(minQty) {
		rec.Status = types.ExecAborted
		e.finish(rec, log, ErrInsufficientNotionalHeadroom.Error())
		return rec
	}
	legA.Size = qty
	legB.Size = qty

	// 3. Guards.
	totalYes, totalNo := e.positions.TotalYesNo()
	if err := guards.RunAll(opp, qty, costPerContract, currentNotional, totalYes, totalNo, e.cfg.Risk, e.cfg.Executor.PositionBalanceEpsilon); err != nil {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "guard failure: "+err.Error())
		return rec
	}

	// 4. Plan: Polymarket is always Leg A, Kalshi is always Leg B.
	nowUnix := now.Unix()
	legAParams, err := planner.BuildLegOrder(legA, planner.RoleLegA, mapping, nowUnix)
	if err != nil {
		rec.Status = types.ExecAborted
		e.finish(rec, log, "plan leg A: "+err.Error())
		return rec
	}

	// 5. Dry-run shortcut.
	if e.cfg.DryRun {
		rec.Status = types.ExecSuccess
		pnl := opp.EdgeNet
		rec.RealizedPnL = &pnl
		e.finish(rec, log, "dry run")
		return rec
	}

	// 6. Submit Leg A.
	rec.Status = types.ExecLegASubmitting
	legACtx, cancelA := context.WithTimeout(ctx, e.cfg.Risk.LegOrderTimeout)
	submitA := time.Now()
	resA, errA := clients.Polymarket.PlaceOrder(legACtx, legAParams)
	cancelA()
	rec.LegA = types.LegExecution{Leg: legA, Params: legAParams, Result: &resA, SubmitTS: &submitA}
	if errA != nil {
		resA.Err = errA
		resA.ErrKind = guards.ClassifyError(errA)
	}

	if !resA.Success || resA.FillQty.IsZero() {
		rec.Status = types.ExecLegAFailed
		zero := decimal.Zero
		rec.RealizedPnL = &zero
		e.finish(rec, log, "leg A did not fill")
		return rec
	}

	// 7. Partial-fill adequacy.
	filledA := resA.FillQty.Floor()
	minPartial := decimal.NewFromFloat(e.cfg.Risk.MinPartialFillQty)
	if filledA.LessThan(minPartial) {
		return e.unwindAndFinish(ctx, rec, log, "leg A fill too small to hedge economically", mapping, clients)
	}

	// 8. Record Leg A position + notional before submitting Leg B.
	e.positions.RecordFill(types.Polymarket, legA.Side, types.Buy, filledA, resA.FillPrice, legAParams.MarketID, time.Now())
	legANotional := filledA.Mul(resA.FillPrice)
	e.state.AddNotional(legANotional)

	// 9. Submit Leg B at the adjusted qty.
	legB.Size = filledA
	legBParams, err := planner.BuildLegOrder(legB, planner.RoleLegB, mapping, nowUnix)
	if err != nil {
		return e.unwindAndFinish(ctx, rec, log, "plan leg B: "+err.Error(), mapping, clients)
	}

	rec.Status = types.ExecLegBSubmitting
	legBCtx, cancelB := context.WithTimeout(ctx, e.cfg.Risk.LegOrderTimeout)
	submitB := time.Now()
	resB, errB := clients.Kalshi.PlaceOrder(legBCtx, legBParams)
	cancelB()
	if errB != nil {
		resB.Err = errB
		resB.ErrKind = guards.ClassifyError(errB)
	}

	// 10. Leg B timeout handling — cancel-then-verify.
	if resB.Status == types.StatusTimeout && resB.OrderID != "" {
		_, _ = clients.Kalshi.CancelOrder(ctx, types.Kalshi, resB.OrderID)
		time.Sleep(250 * time.Millisecond)
		statusCtx, cancelStatus := context.WithTimeout(ctx, e.cfg.Risk.LegOrderTimeout)
		liveStatus, statusErr := clients.Kalshi.GetOrderStatus(statusCtx, types.Kalshi, resB.OrderID)
		cancelStatus()
		if statusErr == nil && liveStatus == types.StatusFilled {
			resB.Status = types.StatusFilled
			resB.Success = true
			if resB.FillQty.IsZero() {
				resB.FillQty = legB.Size
				resB.FillPrice = legB.Price
			}
		}
	}
	rec.LegB = types.LegExecution{Leg: legB, Params: legBParams, Result: &resB, SubmitTS: &submitB}

	// 11. Outcome.
	if resB.Success && resB.FillQty.IsPositive() {
		e.recordSuccess(rec, legB, filledA, resA, resB)
		e.finish(rec, log, "success")
		return rec
	}

	return e.unwindAndFinish(ctx, rec, log, "leg B did not fill", mapping, clients)
}

// recordSuccess implements §4.2.1: expected_pnl = 1*filled_qty - total_cost.
func (e *Executor) recordSuccess(rec *types.ExecutionRecord, legB types.ArbLeg, qtyA decimal.Decimal, resA, resB types.OrderResult) {
	qtyB := resB.FillQty
	e.positions.RecordFill(types.Kalshi, legB.Side, types.Buy, qtyB, resB.FillPrice, rec.LegB.Params.MarketID, time.Now())
	e.state.AddNotional(qtyB.Mul(resB.FillPrice))

	totalCost := resA.FillPrice.Mul(qtyA).Add(resB.FillPrice.Mul(qtyB))
	filledQty := qtyA
	if qtyB.LessThan(filledQty) {
		filledQty = qtyB
	}
	expectedPnL := filledQty.Sub(totalCost)

	rec.Status = types.ExecSuccess
	e.state.AddPendingSettlement(types.PendingSettlement{
		ExecutionID: rec.ID,
		IntervalKey: rec.Opportunity.IntervalKey,
		SettlesAt:   time.Unix(rec.Opportunity.IntervalKey.EndTS, 0),
		ExpectedPnL: expectedPnL,
		ActualCost:  totalCost,
		Qty:         filledQty,
	})
}

// unwindAndFinish implements §4.2.2: unwind the filled leg, realize the
// loss immediately, and conditionally trigger the kill switch.
func (e *Executor) unwindAndFinish(ctx context.Context, rec *types.ExecutionRecord, log *slog.Logger, reason string, mapping types.IntervalMapping, clients Clients) *types.ExecutionRecord {
	rec.Status = types.ExecUnwinding
	e.state.EnterCooldown(time.Now())
	unwindClient := clients.forVenue(rec.LegA.Leg.Venue)
	unwindRec := unwinder.Unwind(ctx, unwindClient, rec.LegA, mapping, e.cfg.Unwind, reason, e.log, time.Now().Unix())
	rec.Unwind = unwindRec
	e.state.RemoveNotional(rec.LegA.Result.FillQty.Mul(rec.LegA.Result.FillPrice))
	e.state.RecordPnL(unwindRec.RealizedLoss.Neg(), time.Now())

	if !unwindRec.Result.Success {
		e.state.TriggerKillSwitch("Unwind failed — unhedged directional exposure")
	} else if e.state.GetDailyLoss(time.Now()).GreaterThanOrEqual(decimal.NewFromFloat(e.cfg.Risk.MaxDailyLoss)) {
		e.state.TriggerKillSwitch(fmt.Sprintf("daily loss %s reached max_daily_loss", e.state.GetDailyLoss(time.Now())))
	}

	rec.Status = types.ExecUnwound
	e.finish(rec, log, reason)
	return rec
}

func (e *Executor) finish(rec *types.ExecutionRecord, log *slog.Logger, note string) {
	end := time.Now()
	rec.EndTS = &end
	log.Info("execution finished", "status", rec.Status, "note", note)
}
