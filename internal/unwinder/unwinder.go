// Package unwinder implements the two-phase ladder-then-market algorithm
// that sells down a filled leg when its hedge on the other venue failed to
// fill. Phase 1 walks a limit-order ladder down in price steps; phase 2
// falls back to a marketable order with bounded retries. Both phases run
// against venue.Client, so every call here is already in scope of the
// caller's context deadline.
package unwinder

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/planner"
	"polymarket-mm/internal/venue"
	"polymarket-mm/pkg/types"
)

var centStep = decimal.NewFromFloat(0.01)

// Unwind executes the ladder-then-market sale of a filled leg that could
// not be hedged and returns the populated UnwindRecord.
func Unwind(ctx context.Context, client venue.Client, leg types.LegExecution, mapping types.IntervalMapping, cfg config.UnwindConfig, reason string, logger *slog.Logger, nowUnix int64) *types.UnwindRecord {
	log := logger.With("component", "unwinder", "venue", leg.Leg.Venue, "side", leg.Leg.Side)

	rec := &types.UnwindRecord{
		LegToUnwind: leg,
		StartTS:     time.Now(),
		Reason:      reason,
	}

	buyPrice := leg.Leg.Price
	remaining := leg.Result.FillQty
	var fills []types.Fill
	var params []types.OrderParams

	stepSize := decimal.NewFromFloat(cfg.LadderStepSize)
	if stepSize.IsZero() {
		stepSize = centStep
	}
	ladderPrice := buyPrice.Sub(stepSize)
	start := time.Now()

	for step := 0; step < cfg.LadderSteps && remaining.IsPositive(); step++ {
		if elapsed := time.Since(start); elapsed >= cfg.MaxTotalTime {
			log.Warn("unwind ladder hit max total time", "elapsed", elapsed)
			break
		}

		orderParams, err := planner.BuildLadderStep(leg.Leg, mapping, ladderPrice, remaining, nowUnix+int64(step))
		if err != nil {
			log.Error("build ladder step failed", "error", err)
			break
		}
		params = append(params, orderParams)

		res, err := client.PlaceOrder(ctx, orderParams)
		if err != nil {
			log.Warn("ladder step order error", "step", step, "error", err)
		} else if res.FillQty.IsPositive() {
			fills = append(fills, types.Fill{
				OrderID: res.OrderID,
				Price:   res.FillPrice,
				Qty:     res.FillQty,
				TS:      time.Now(),
			})
			remaining = remaining.Sub(res.FillQty)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
		}

		ladderPrice = ladderPrice.Sub(stepSize)

		if remaining.IsZero() {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(cfg.LadderStepTimeout):
		}
	}

	for attempt := 0; remaining.IsPositive() && attempt <= cfg.MarketFallbackRetries; attempt++ {
		orderParams, err := planner.BuildMarketFallback(leg.Leg, mapping, remaining, nowUnix+int64(attempt)+1000)
		if err != nil {
			log.Error("build market fallback failed", "error", err)
			break
		}
		params = append(params, orderParams)

		res, err := client.PlaceOrder(ctx, orderParams)
		if err != nil {
			log.Warn("market fallback order error", "attempt", attempt, "error", err)
		} else if res.FillQty.IsPositive() {
			fills = append(fills, types.Fill{
				OrderID: res.OrderID,
				Price:   res.FillPrice,
				Qty:     res.FillQty,
				TS:      time.Now(),
			})
			remaining = remaining.Sub(res.FillQty)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
		}

		if remaining.IsZero() || attempt == cfg.MarketFallbackRetries {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}

	filledQty := decimal.Zero
	weightedSum := decimal.Zero
	for _, f := range fills {
		filledQty = filledQty.Add(f.Qty)
		weightedSum = weightedSum.Add(f.Price.Mul(f.Qty))
	}

	vwap := decimal.Zero
	if filledQty.IsPositive() {
		vwap = weightedSum.Div(filledQty)
	}

	realizedLoss := decimal.Zero
	if filledQty.IsPositive() {
		perShareLoss := buyPrice.Sub(vwap)
		if perShareLoss.IsNegative() {
			perShareLoss = decimal.Zero
		}
		realizedLoss = perShareLoss.Mul(filledQty)
	}
	if remaining.IsPositive() {
		realizedLoss = realizedLoss.Add(buyPrice.Mul(remaining))
	}

	end := time.Now()
	rec.UnwindParams = params
	rec.EndTS = &end
	rec.RealizedLoss = realizedLoss
	rec.Result = &types.UnwindResult{
		Success:      remaining.IsZero(),
		FilledQty:    filledQty,
		RemainingQty: remaining,
		VWAP:         vwap,
		Fills:        fills,
	}

	log.Info("unwind complete",
		"success", rec.Result.Success,
		"filled_qty", filledQty,
		"remaining_qty", remaining,
		"vwap", vwap,
		"realized_loss", realizedLoss,
	)

	return rec
}
