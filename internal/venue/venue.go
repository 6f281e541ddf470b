// Package venue defines the contract every exchange adapter satisfies, so
// the execution core can be written once and driven by either a live
// venue client or a test double.
package venue

import (
	"context"

	"polymarket-mm/pkg/types"
)

// Client is the full surface the execution core needs from one venue:
// order entry, cancellation, status polling, balance reads for the
// liquidator's on-chain cap, fills for settlement verification, and a
// non-blocking quote read backed by a live feed cache.
type Client interface {
	PlaceOrder(ctx context.Context, p types.OrderParams) (types.OrderResult, error)
	CancelOrder(ctx context.Context, venue types.Venue, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, venue types.Venue, orderID string) (types.OrderStatus, error)
	GetConditionalTokenBalance(ctx context.Context, tokenID string) (float64, error)
	GetFills(ctx context.Context, orderID string) ([]types.Fill, error)
	GetPortfolioPositions(ctx context.Context, filter types.PositionFilter) (types.PositionsSnapshot, error)
	GetCollateralBalance(ctx context.Context) (float64, error)
	GetQuote(venue types.Venue) (types.NormalizedQuote, bool)
}

// RolloverEvent marks an interval boundary crossing.
type RolloverEvent struct {
	Previous types.IntervalKey
	Next     types.IntervalKey
}

// BTCTick is one external spot-price update driving the volatility manager.
type BTCTick struct {
	Price decimal64
	TS    int64
}

// decimal64 keeps BTCTick decoupled from shopspring/decimal at the feed
// boundary; callers convert once when constructing the tick.
type decimal64 = float64

// MarketDataCoordinator is the out-of-scope collaborator that resolves
// interval mappings, serves quotes, and emits rollover/BTC-tick events.
// Only a minimal in-memory reference implementation lives in this module
// (cmd/executor/coordinator.go); discovery and
// normalization business logic stay out of scope per spec §1.
type MarketDataCoordinator interface {
	CurrentMapping(key types.IntervalKey) (types.IntervalMapping, bool)
	GetQuote(venue types.Venue) (types.NormalizedQuote, bool)
	Rollovers() <-chan RolloverEvent
	BTCTicks() <-chan BTCTick
}
