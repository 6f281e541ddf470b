package main

import (
	"context"
	"log/slog"
	"time"

	"polymarket-mm/internal/liquidator"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/preclose"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/venue"
	"polymarket-mm/internal/volatility"
)

const killSwitchPollInterval = 2 * time.Second

// loopClients holds the two live venue adapters in the shape each
// component-specific Clients struct expects.
type loopClients struct {
	Polymarket venue.Client
	Kalshi     venue.Client
}

func (c loopClients) forLiquidator() liquidator.Clients {
	return liquidator.Clients{Polymarket: c.Polymarket, Kalshi: c.Kalshi}
}

func (c loopClients) forPreClose() preclose.Clients {
	return preclose.Clients{Polymarket: c.Polymarket, Kalshi: c.Kalshi}
}

func (c loopClients) forVolatility() volatility.Clients {
	return volatility.Clients{Polymarket: c.Polymarket, Kalshi: c.Kalshi}
}

// runKillSwitchWatcher polls the kill switch and hands control to the
// liquidator the moment it latches, per §4.5: liquidation runs independent
// of the executor's busy lock once triggered.
func runKillSwitchWatcher(ctx context.Context, st *state.Manager, liq *liquidator.Liquidator, clients loopClients, coord *coordinator, logger *slog.Logger) {
	ticker := time.NewTicker(killSwitchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !st.IsKillSwitchTriggered() {
				continue
			}
			mapping, ok := coord.CurrentMapping(currentIntervalKey())
			if !ok {
				logger.Warn("kill switch triggered but no interval mapping known, deferring liquidation")
				continue
			}
			logger.Error("kill switch triggered, running liquidator", "reason", st.KillSwitchReason())
			sold := liq.Run(ctx, mapping, clients.forLiquidator())
			for _, s := range sold {
				metrics.ObserveLiquidation(string(s.Venue), string(s.Side))
			}
		}
	}
}

// runPreCloseScheduler fires the pre-close safety unwind preCloseWindow
// before every interval's rollover, reusing the coordinator's rollover
// clock to know where the next boundary falls.
func runPreCloseScheduler(ctx context.Context, st *state.Manager, pre *preclose.Unwinder, clients loopClients, coord *coordinator, preCloseWindow time.Duration, logger *slog.Logger) {
	for {
		next := nextBoundary()
		fireAt := next.Add(-preCloseWindow)
		wait := time.Until(fireAt)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		mapping, ok := coord.CurrentMapping(currentIntervalKey())
		if !ok {
			logger.Warn("pre-close window reached but no interval mapping known, skipping")
		} else {
			pre.Run(ctx, mapping, clients.forPreClose())
		}

		// wait out the rest of the interval before scheduling the next window
		if d := time.Until(next.Add(time.Second)); d > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		}
		// the rollover has passed: clear the pre-close flag for the new interval
		st.SetPreCloseActive(false)
	}
}

// runVolatilityLoop feeds BTC ticks from the coordinator into the exit
// state machine and resets it on every rollover, per §4.7.
func runVolatilityLoop(ctx context.Context, vol *volatility.Manager, clients loopClients, coord *coordinator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-coord.Rollovers():
			vol.ResetForInterval()
		case tick := <-coord.BTCTicks():
			mapping, ok := coord.CurrentMapping(currentIntervalKey())
			if !ok {
				continue
			}
			msUntil := mapping.Key.EndTS*1000 - time.Now().UnixMilli()
			vol.OnBTCTick(ctx, tick.Price, msUntil, clients.forVolatility(), mapping)
		}
	}
}
