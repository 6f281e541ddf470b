// Package liquidator implements the kill-switch-driven forced liquidation
// described in §4.5: once an unwind has failed and the kill switch is
// latched, this is what actually closes the unhedged exposure, running
// independently of the executor's busy lock.
package liquidator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/planner"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/venue"
	"polymarket-mm/pkg/types"
)

const (
	maxRetries    = 10
	maxRetryDelay = 30 * time.Second
	retryStep     = 5 * time.Second
	balanceCapPct = 0.95
	overshootCap  = 1.1
	fillVerifyWait = 200 * time.Millisecond
)

// Clients bundles the two venue clients the liquidator drives.
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

// Liquidator runs the forced liquidation algorithm against the live
// position tracker.
type Liquidator struct {
	state     *state.Manager
	positions *state.PositionTracker
	log       *slog.Logger
}

// New creates a Liquidator bound to the shared state singleton.
func New(st *state.Manager, positions *state.PositionTracker, logger *slog.Logger) *Liquidator {
	return &Liquidator{state: st, positions: positions, log: logger.With("component", "liquidator")}
}

// venueSlice is one venue's contribution to the dominant-side target.
type venueSlice struct {
	venue    types.Venue
	side     types.Side
	marketID string
	qty      decimal.Decimal
}

// SoldSlice reports how much of one venue's dominant-side position the
// liquidator actually closed during a Run.
type SoldSlice struct {
	Venue types.Venue
	Side  types.Side
	Qty   decimal.Decimal
}

// Run executes the full liquidation algorithm for one interval's mapping,
// blocks until the target is closed or retries are exhausted, and returns
// what was actually sold per venue for metrics/journaling.
func (l *Liquidator) Run(ctx context.Context, mapping types.IntervalMapping, clients Clients) []SoldSlice {
	l.state.StartLiquidation()
	defer l.state.StopLiquidation()

	totalYes, totalNo := l.positions.TotalYesNo()
	// hedged = min(totalYes, totalNo) settles on its own and is left alone;
	// only the unhedged excess on the dominant side needs liquidating.
	dominant := types.Yes
	target := totalYes.Sub(totalNo)
	if target.IsNegative() {
		dominant = types.No
		target = target.Neg()
	}
	if target.IsZero() {
		l.log.Info("liquidator found a balanced book, nothing to sell")
		return nil
	}

	originalTarget := target
	hardCap := originalTarget.Mul(decimal.NewFromFloat(overshootCap))
	sold := decimal.Zero

	slices := l.apportion(dominant, target, mapping)
	var results []SoldSlice

	for _, slice := range slices {
		if sold.GreaterThanOrEqual(hardCap) {
			l.log.Warn("liquidator hit hard overshoot cap, stopping", "sold", sold, "hard_cap", hardCap)
			break
		}
		filled := l.liquidateSlice(ctx, slice, mapping, clients, hardCap.Sub(sold))
		sold = sold.Add(filled)
		if filled.IsPositive() {
			results = append(results, SoldSlice{Venue: slice.venue, Side: slice.side, Qty: filled})
		}
	}

	l.log.Info("liquidation pass complete", "dominant", dominant, "original_target", originalTarget, "sold", sold)
	return results
}

// apportion splits the dominant-side target across venues holding it,
// preferring Polymarket first per §4.5 step 3.
func (l *Liquidator) apportion(dominant types.Side, target decimal.Decimal, mapping types.IntervalMapping) []venueSlice {
	var slices []venueSlice
	remaining := target

	polyPos := l.positions.Get(types.Polymarket, dominant)
	if polyPos.Qty.IsPositive() && remaining.IsPositive() {
		take := decimal.Min(polyPos.Qty, remaining)
		slices = append(slices, venueSlice{venue: types.Polymarket, side: dominant, marketID: polyPos.MarketID, qty: take})
		remaining = remaining.Sub(take)
	}
	kalshiPos := l.positions.Get(types.Kalshi, dominant)
	if kalshiPos.Qty.IsPositive() && remaining.IsPositive() {
		take := decimal.Min(kalshiPos.Qty, remaining)
		slices = append(slices, venueSlice{venue: types.Kalshi, side: dominant, marketID: kalshiPos.MarketID, qty: take})
	}
	return slices
}

// liquidateSlice retries selling down one venue's slice of the dominant
// side, refreshing live positions and the Polymarket on-chain cap before
// every attempt. Returns the quantity actually sold.
func (l *Liquidator) liquidateSlice(ctx context.Context, slice venueSlice, mapping types.IntervalMapping, clients Clients, budget decimal.Decimal) decimal.Decimal {
	client := clients.forVenue(slice.venue)
	sold := decimal.Zero

	for attempt := 1; attempt <= maxRetries; attempt++ {
		current := l.positions.Get(slice.venue, slice.side)
		remaining := current.Qty
		if remaining.IsZero() {
			return sold
		}

		sellQty := decimal.Min(remaining, slice.qty.Sub(sold))
		if slice.venue == types.Polymarket {
			bal, err := client.GetConditionalTokenBalance(ctx, slice.marketID)
			if err == nil {
				balCap := decimal.NewFromFloat(bal).Mul(decimal.NewFromFloat(balanceCapPct)).Floor()
				sellQty = decimal.Min(sellQty, balCap)
			}
		}
		remainingBudget := budget.Sub(sold)
		if remainingBudget.IsNegative() {
			remainingBudget = decimal.Zero
		}
		sellQty = decimal.Min(sellQty, remainingBudget)
		if sellQty.IsZero() || sellQty.IsNegative() {
			return sold
		}

		leg := types.ArbLeg{Venue: slice.venue, Side: slice.side, Price: decimal.Zero}
		params, err := planner.BuildMarketFallback(leg, mapping, sellQty, time.Now().Unix()+int64(attempt))
		if err != nil {
			l.log.Error("liquidator build order failed", "error", err)
			return sold
		}

		res, err := client.PlaceOrder(ctx, params)
		filled := decimal.Zero
		if err == nil && res.FillQty.IsPositive() {
			filled = res.FillQty
		}

		if slice.venue == types.Kalshi && res.OrderID != "" {
			select {
			case <-ctx.Done():
			case <-time.After(fillVerifyWait):
			}
			fills, ferr := client.GetFills(ctx, res.OrderID)
			if ferr == nil {
				var authoritative decimal.Decimal
				for _, f := range fills {
					authoritative = authoritative.Add(f.Qty)
				}
				if authoritative.GreaterThan(filled) {
					filled = authoritative
				}
			}
		}

		if filled.IsPositive() {
			l.positions.RecordFill(slice.venue, slice.side, types.Sell, filled, params.Price, slice.marketID, time.Now())
			sold = sold.Add(filled)
		}

		if l.positions.Get(slice.venue, slice.side).Qty.IsZero() || sold.GreaterThanOrEqual(slice.qty) {
			return sold
		}

		delay := time.Duration(attempt) * retryStep
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		select {
		case <-ctx.Done():
			return sold
		case <-time.After(delay):
		}
	}

	return sold
}
