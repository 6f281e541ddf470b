// Package preclose implements the pre-close safety unwind timer described
// in §4.6: in the final seconds before an interval's rollover, sell down
// 95% of every resting position so oracle divergence between venues can't
// leave a box ambiguous at settlement. The remaining 5% stays on to catch
// a clean settlement.
package preclose

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/planner"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/venue"
	"polymarket-mm/pkg/types"
)

const (
	busyWait      = 5 * time.Second
	busyPoll      = 50 * time.Millisecond
	retryDelay    = 2 * time.Second
	balanceCapPct = 0.95
)

// Clients bundles the two venue clients the unwind drives.
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

// Unwinder runs the pre-close safety sell for one interval's mapping.
type Unwinder struct {
	state     *state.Manager
	positions *state.PositionTracker
	cfg       config.PreCloseConfig
	log       *slog.Logger
}

// New creates a pre-close Unwinder bound to the shared singletons.
func New(st *state.Manager, positions *state.PositionTracker, cfg config.PreCloseConfig, logger *slog.Logger) *Unwinder {
	return &Unwinder{state: st, positions: positions, cfg: cfg, log: logger.With("component", "preclose")}
}

// slice is one (venue, side) position due for a partial sell-down.
type slice struct {
	venue    types.Venue
	side     types.Side
	marketID string
	sellQty  decimal.Decimal
}

// Run fires the full pre-close algorithm. Intended to be invoked by a
// timer scheduled pre_close_window before the interval's rollover.
func (u *Unwinder) Run(ctx context.Context, mapping types.IntervalMapping, clients Clients) {
	u.state.SetPreCloseActive(true)

	deadline := time.Now().Add(busyWait)
	for u.state.IsBusy() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(busyPoll):
		}
	}

	if u.state.IsLiquidationInProgress() {
		u.log.Info("pre-close deferring to in-progress liquidation")
		return
	}

	slices := u.buildSlices(mapping)
	if len(slices) == 0 {
		u.log.Info("pre-close found nothing to sell")
		return
	}

	var wg sync.WaitGroup
	failed := make([]slice, len(slices))
	failedMask := make([]bool, len(slices))
	for i, sl := range slices {
		wg.Add(1)
		go func(i int, sl slice) {
			defer wg.Done()
			sold := u.sellSlice(ctx, sl, mapping, clients)
			if sold.LessThan(sl.sellQty) {
				failed[i] = slice{venue: sl.venue, side: sl.side, marketID: sl.marketID, sellQty: sl.sellQty.Sub(sold)}
				failedMask[i] = true
			}
		}(i, sl)
	}
	wg.Wait()

	var anyFailed bool
	for _, ok := range failedMask {
		anyFailed = anyFailed || ok
	}
	if !anyFailed {
		u.log.Info("pre-close sell-down complete")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(retryDelay):
	}

	var retryWG sync.WaitGroup
	for i, ok := range failedMask {
		if !ok {
			continue
		}
		retryWG.Add(1)
		go func(sl slice) {
			defer retryWG.Done()
			u.sellSlice(ctx, sl, mapping, clients)
		}(failed[i])
	}
	retryWG.Wait()

	u.log.Info("pre-close sell-down complete")
}

// buildSlices computes the 95%-sell quantity for every position currently
// held across both venues.
func (u *Unwinder) buildSlices(mapping types.IntervalMapping) []slice {
	retain := decimal.NewFromFloat(u.cfg.RetainPct)
	sellFrac := decimal.NewFromInt(1).Sub(retain)

	var out []slice
	for _, v := range []types.Venue{types.Polymarket, types.Kalshi} {
		for _, side := range []types.Side{types.Yes, types.No} {
			pos := u.positions.Get(v, side)
			if !pos.Qty.IsPositive() {
				continue
			}
			sellQty := pos.Qty.Mul(sellFrac).Floor()
			if !sellQty.IsPositive() {
				continue
			}
			out = append(out, slice{venue: v, side: side, marketID: pos.MarketID, sellQty: sellQty})
		}
	}
	return out
}

// sellSlice places one market sell for the slice, capping at the
// Polymarket on-chain balance where applicable. Returns the filled qty.
func (u *Unwinder) sellSlice(ctx context.Context, sl slice, mapping types.IntervalMapping, clients Clients) decimal.Decimal {
	client := clients.forVenue(sl.venue)
	sellQty := sl.sellQty

	if sl.venue == types.Polymarket {
		bal, err := client.GetConditionalTokenBalance(ctx, sl.marketID)
		if err == nil {
			balCap := decimal.NewFromFloat(bal).Mul(decimal.NewFromFloat(balanceCapPct)).Floor()
			sellQty = decimal.Min(sellQty, balCap)
		}
	}
	if !sellQty.IsPositive() {
		return decimal.Zero
	}

	leg := types.ArbLeg{Venue: sl.venue, Side: sl.side, Price: decimal.Zero}
	params, err := planner.BuildMarketFallback(leg, mapping, sellQty, time.Now().Unix())
	if err != nil {
		u.log.Error("pre-close build order failed", "error", err)
		return decimal.Zero
	}

	res, err := client.PlaceOrder(ctx, params)
	if err != nil || !res.Success || !res.FillQty.IsPositive() {
		return decimal.Zero
	}

	u.positions.RecordFill(sl.venue, sl.side, types.Sell, res.FillQty, res.FillPrice, sl.marketID, time.Now())
	return res.FillQty
}
