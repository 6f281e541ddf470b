package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/internal/clock"
	"polymarket-mm/internal/venue"
	"polymarket-mm/pkg/types"
)

// coordinator is the minimal, in-process MarketDataCoordinator this binary
// wires itself to. Interval discovery and BTC spot price normalization are
// out of scope (see internal/venue.MarketDataCoordinator's doc comment) —
// this type only tracks whatever mapping it's told about and emits clock
// rollover events, giving the executor, liquidator, and pre-close unwinder
// something real to run against. An external discovery process, not part
// of this module, is expected to call SetMapping as intervals come online.
type coordinator struct {
	poly   venue.Client
	kalshi venue.Client
	log    *slog.Logger

	mu      sync.RWMutex
	mapping types.IntervalMapping

	rollovers chan venue.RolloverEvent
	ticks     chan venue.BTCTick
}

func newCoordinator(poly, kalshi venue.Client, logger *slog.Logger) *coordinator {
	return &coordinator{
		poly: poly, kalshi: kalshi, log: logger.With("component", "coordinator"),
		rollovers: make(chan venue.RolloverEvent, 1),
		ticks:     make(chan venue.BTCTick, 64),
	}
}

// SetMapping installs the interval mapping an external discovery process
// has resolved for the currently active window.
func (c *coordinator) SetMapping(m types.IntervalMapping) {
	c.mu.Lock()
	c.mapping = m
	c.mu.Unlock()
	if p, ok := c.poly.(interface{ UpdateMapping(types.IntervalMapping) }); ok {
		p.UpdateMapping(m)
	}
	if k, ok := c.kalshi.(interface{ UpdateMapping(types.IntervalMapping) }); ok {
		k.UpdateMapping(m)
	}
}

// PushBTCTick feeds one spot-price observation to the volatility manager.
// An external price feed (out of scope here) is expected to call this.
func (c *coordinator) PushBTCTick(price float64) {
	select {
	case c.ticks <- venue.BTCTick{Price: price, TS: time.Now().Unix()}:
	default:
		c.log.Warn("btc tick channel full, dropping tick")
	}
}

func (c *coordinator) CurrentMapping(key types.IntervalKey) (types.IntervalMapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mapping.Key != key {
		return types.IntervalMapping{}, false
	}
	return c.mapping, true
}

func (c *coordinator) GetQuote(v types.Venue) (types.NormalizedQuote, bool) {
	if v == types.Polymarket {
		return c.poly.GetQuote(v)
	}
	return c.kalshi.GetQuote(v)
}

func (c *coordinator) Rollovers() <-chan venue.RolloverEvent {
	return c.rollovers
}

func (c *coordinator) BTCTicks() <-chan venue.BTCTick {
	return c.ticks
}

// currentIntervalKey returns the interval key containing now.
func currentIntervalKey() types.IntervalKey {
	return clock.IntervalKeyFor(time.Now())
}

// nextBoundary returns the wall-clock time of the next quarter-hour
// boundary strictly after now.
func nextBoundary() time.Time {
	return clock.NextBoundary(time.Now())
}

// runClock blocks until ctx is done, emitting a RolloverEvent on every
// 15-minute boundary crossing.
func (c *coordinator) runClock(ctx context.Context) {
	prev := clock.IntervalKeyFor(time.Now())
	for {
		next := clock.NextBoundary(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now()
		nextKey := clock.IntervalKeyFor(now)

		c.mu.Lock()
		c.mapping.Key = nextKey
		c.mapping.PolymarketUpID = ""
		c.mapping.PolymarketDownID = ""
		c.mapping.KalshiTicker = ""
		c.mu.Unlock()

		c.log.Info("interval rollover, mapping cleared pending external discovery",
			"previous_start", prev.StartTS, "next_start", nextKey.StartTS)

		select {
		case c.rollovers <- venue.RolloverEvent{Previous: prev, Next: nextKey}:
		case <-ctx.Done():
			return
		}
		prev = nextKey
	}
}
