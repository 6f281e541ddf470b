package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// PositionTracker maintains net quantity and weighted-average entry price
// per (venue, side), plus the last known market id so positions remain
// actionable after a rollover recreates the interval's listing.
type PositionTracker struct {
	mu  sync.RWMutex
	pos map[types.PositionKey]*types.Position
}

// NewPositionTracker creates an empty tracker.
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{pos: make(map[types.PositionKey]*types.Position)}
}

// RecordFill applies a fill to the tracked position for (venue, side).
// Buys increase quantity and recompute the weighted-average entry price;
// sells decrease quantity, clamped at zero — quantity is never negative.
func (t *PositionTracker) RecordFill(venue types.Venue, side types.Side, action types.Action, qty, price decimal.Decimal, marketID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := types.PositionKey{Venue: venue, Side: side}
	p, ok := t.pos[key]
	if !ok {
		p = &types.Position{}
		t.pos[key] = p
	}

	switch action {
	case types.Buy:
		totalCost := p.EntryVWAP.Mul(p.Qty).Add(price.Mul(qty))
		newQty := p.Qty.Add(qty)
		if !newQty.IsZero() {
			p.EntryVWAP = totalCost.Div(newQty)
		}
		p.Qty = newQty
	case types.Sell:
		p.Qty = p.Qty.Sub(qty)
		if p.Qty.IsNegative() {
			p.Qty = decimal.Zero
		}
	}

	if marketID != "" {
		p.MarketID = marketID
	}
	p.UpdatedAt = ts
}

// Get returns a copy of the tracked position for (venue, side).
func (t *PositionTracker) Get(venue types.Venue, side types.Side) types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.pos[types.PositionKey{Venue: venue, Side: side}]; ok {
		return *p
	}
	return types.Position{}
}

// Snapshot returns a copy of every tracked position.
func (t *PositionTracker) Snapshot() map[types.PositionKey]types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[types.PositionKey]types.Position, len(t.pos))
	for k, v := range t.pos {
		out[k] = *v
	}
	return out
}

// SetPosition restores a position directly, used when reconstructing state
// from a venue's reported portfolio on restart.
func (t *PositionTracker) SetPosition(venue types.Venue, side types.Side, p types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.pos[types.PositionKey{Venue: venue, Side: side}] = &cp
}

// TotalYesNo sums quantity across venues for each side, used by the
// liquidator and the executor's position-balance guard.
func (t *PositionTracker) TotalYesNo() (totalYes, totalNo decimal.Decimal) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, p := range t.pos {
		switch k.Side {
		case types.Yes:
			totalYes = totalYes.Add(p.Qty)
		case types.No:
			totalNo = totalNo.Add(p.Qty)
		}
	}
	return totalYes, totalNo
}
