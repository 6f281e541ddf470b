// Package venuetest provides an in-memory venue.Client double so executor,
// unwinder, and liquidator tests never touch the network.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// OrderScript is a scripted response for one PlaceOrder call, queued by
// test setup and consumed in call order per venue.
type OrderScript struct {
	Result types.OrderResult
	Err    error
	Delay  time.Duration // simulated latency before responding
}

// Fake is a scriptable venue.Client. Tests enqueue OrderScripts per venue
// with QueueOrder; calls beyond the queue return a generic fill at the
// order's own price for convenience.
type Fake struct {
	mu sync.Mutex

	queues     map[types.Venue][]OrderScript
	cancelOK   map[types.Venue]bool
	status     map[string]types.OrderStatus
	balances   map[string]float64
	collateral map[types.Venue]float64
	fills      map[string][]types.Fill
	positions  map[types.Venue]types.PositionsSnapshot
	quotes     map[types.Venue]types.NormalizedQuote
	placedLog  []types.OrderParams
}

// New creates an empty fake with permissive defaults: cancel always
// succeeds, collateral/balance default to a large figure.
func New() *Fake {
	return &Fake{
		queues:     make(map[types.Venue][]OrderScript),
		cancelOK:   map[types.Venue]bool{types.Polymarket: true, types.Kalshi: true},
		status:     make(map[string]types.OrderStatus),
		balances:   make(map[string]float64),
		collateral: make(map[types.Venue]float64),
		fills:      make(map[string][]types.Fill),
		positions:  make(map[types.Venue]types.PositionsSnapshot),
		quotes:     make(map[types.Venue]types.NormalizedQuote),
	}
}

// QueueOrder appends a scripted PlaceOrder response for venue.
func (f *Fake) QueueOrder(venue types.Venue, s OrderScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[venue] = append(f.queues[venue], s)
}

// SetCancelResult controls what CancelOrder returns for a venue.
func (f *Fake) SetCancelResult(venue types.Venue, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelOK[venue] = ok
}

// SetOrderStatus seeds the result GetOrderStatus returns for an order id.
func (f *Fake) SetOrderStatus(orderID string, status types.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[orderID] = status
}

// SetConditionalTokenBalance seeds the on-chain balance for a token id.
func (f *Fake) SetConditionalTokenBalance(tokenID string, bal float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[tokenID] = bal
}

// SetCollateralBalance seeds the free-collateral figure for a venue.
func (f *Fake) SetCollateralBalance(venue types.Venue, bal float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collateral[venue] = bal
}

// SetFills seeds what GetFills returns for an order id.
func (f *Fake) SetFills(orderID string, fills []types.Fill) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[orderID] = fills
}

// SetQuote seeds what GetQuote returns for a venue.
func (f *Fake) SetQuote(venue types.Venue, q types.NormalizedQuote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[venue] = q
}

// PlacedOrders returns every order submitted so far, in submission order.
func (f *Fake) PlacedOrders() []types.OrderParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.OrderParams, len(f.placedLog))
	copy(out, f.placedLog)
	return out
}

func (f *Fake) PlaceOrder(ctx context.Context, p types.OrderParams) (types.OrderResult, error) {
	f.mu.Lock()
	f.placedLog = append(f.placedLog, p)
	q := f.queues[p.Venue]
	var script OrderScript
	hasScript := len(q) > 0
	if hasScript {
		script = q[0]
		f.queues[p.Venue] = q[1:]
	}
	f.mu.Unlock()

	if hasScript && script.Delay > 0 {
		select {
		case <-ctx.Done():
			return types.OrderResult{}, ctx.Err()
		case <-time.After(script.Delay):
		}
	}

	if hasScript {
		return script.Result, script.Err
	}

	now := time.Now()
	return types.OrderResult{
		Success:     true,
		OrderID:     fmt.Sprintf("fake-%s-%d", p.Venue, now.UnixNano()),
		FillQty:     p.Qty,
		FillPrice:   p.Price,
		Venue:       p.Venue,
		Status:      types.StatusFilled,
		SubmittedAt: now,
		FilledAt:    &now,
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, venue types.Venue, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelOK[venue], nil
}

func (f *Fake) GetOrderStatus(ctx context.Context, venue types.Venue, orderID string) (types.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.status[orderID]; ok {
		return s, nil
	}
	return types.StatusPending, nil
}

func (f *Fake) GetConditionalTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[tokenID], nil
}

func (f *Fake) GetFills(ctx context.Context, orderID string) ([]types.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fills[orderID], nil
}

func (f *Fake) GetPortfolioPositions(ctx context.Context, filter types.PositionFilter) (types.PositionsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filter.Venue != "" {
		return f.positions[filter.Venue], nil
	}
	merged := make(types.PositionsSnapshot)
	for _, snap := range f.positions {
		for k, v := range snap {
			merged[k] = v
		}
	}
	return merged, nil
}

func (f *Fake) GetCollateralBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, v := range f.collateral {
		total += v
	}
	return total, nil
}

func (f *Fake) GetQuote(venue types.Venue) (types.NormalizedQuote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[venue]
	return q, ok
}
