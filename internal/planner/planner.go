// Package planner turns an ArbLeg plus an interval mapping into a concrete
// OrderParams. It is a pure module: no I/O, no state, just the venue-id and
// TIF wiring rules that would otherwise be scattered across the executor
// and unwinder.
package planner

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// LegRole distinguishes the two legs of a box for client-order-id naming
// and TIF assignment.
type LegRole string

const (
	RoleLegA LegRole = "LEG_A" // Polymarket, IOC
	RoleLegB LegRole = "LEG_B" // Kalshi, FOK
)

var (
	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromFloat(0.99)
)

// marketID resolves the venue-specific identifier for a leg's side.
func marketID(venue types.Venue, side types.Side, m types.IntervalMapping) (string, error) {
	switch venue {
	case types.Polymarket:
		if side == types.Yes {
			if m.PolymarketUpID == "" {
				return "", fmt.Errorf("planner: no polymarket up-token id for interval %v", m.Key)
			}
			return m.PolymarketUpID, nil
		}
		if m.PolymarketDownID == "" {
			return "", fmt.Errorf("planner: no polymarket down-token id for interval %v", m.Key)
		}
		return m.PolymarketDownID, nil
	case types.Kalshi:
		if m.KalshiTicker == "" {
			return "", fmt.Errorf("planner: no kalshi ticker for interval %v", m.Key)
		}
		return m.KalshiTicker, nil
	default:
		return "", fmt.Errorf("planner: unknown venue %q", venue)
	}
}

func clientOrderID(venue types.Venue, role LegRole, ts int64) string {
	return fmt.Sprintf("%s-%s-%d-%s", venue, role, ts, uuid.NewString()[:8])
}

// BuildLegOrder constructs the OrderParams for Leg A or Leg B of a fresh
// box. Leg A (Polymarket) always uses IOC; Leg B (Kalshi) always uses FOK,
// per §4.2 step 4.
func BuildLegOrder(leg types.ArbLeg, role LegRole, m types.IntervalMapping, nowUnix int64) (types.OrderParams, error) {
	id, err := marketID(leg.Venue, leg.Side, m)
	if err != nil {
		return types.OrderParams{}, err
	}

	tif := types.TIFFOK
	if role == RoleLegA {
		tif = types.TIFIOC
	}

	return types.OrderParams{
		Venue:         leg.Venue,
		Side:          leg.Side,
		Action:        types.Buy,
		Price:         leg.Price,
		Qty:           leg.Size,
		TIF:           tif,
		MarketID:      id,
		ClientOrderID: clientOrderID(leg.Venue, role, nowUnix),
	}, nil
}

// BuildLadderStep constructs one step of the unwind ladder: a limit sell at
// ladderPrice (clamped to [0.01, 0.99]), IOC on Kalshi or FOK on Polymarket.
func BuildLadderStep(leg types.ArbLeg, m types.IntervalMapping, ladderPrice, remainingQty decimal.Decimal, nowUnix int64) (types.OrderParams, error) {
	id, err := marketID(leg.Venue, leg.Side, m)
	if err != nil {
		return types.OrderParams{}, err
	}

	clamped := ladderPrice
	if clamped.LessThan(minPrice) {
		clamped = minPrice
	}
	if clamped.GreaterThan(maxPrice) {
		clamped = maxPrice
	}

	tif := types.TIFFOK
	if leg.Venue == types.Kalshi {
		tif = types.TIFIOC
	}

	return types.OrderParams{
		Venue:         leg.Venue,
		Side:          leg.Side,
		Action:        types.Sell,
		Price:         clamped,
		Qty:           remainingQty,
		TIF:           tif,
		MarketID:      id,
		ClientOrderID: clientOrderID(leg.Venue, "LADDER", nowUnix),
		ReduceOnly:    true,
	}, nil
}

// BuildVolatilityExitSell constructs a proactive exit sell for the
// volatility manager (§4.7): IOC on both venues, reduce-only, price
// clamped to [0.01, 0.99] and rounded down to the nearest cent for Kalshi.
func BuildVolatilityExitSell(leg types.ArbLeg, m types.IntervalMapping, price, qty decimal.Decimal, nowUnix int64) (types.OrderParams, error) {
	id, err := marketID(leg.Venue, leg.Side, m)
	if err != nil {
		return types.OrderParams{}, err
	}

	clamped := price
	if clamped.LessThan(minPrice) {
		clamped = minPrice
	}
	if clamped.GreaterThan(maxPrice) {
		clamped = maxPrice
	}
	if leg.Venue == types.Kalshi {
		clamped = clamped.Mul(decimal.NewFromInt(100)).Floor().Div(decimal.NewFromInt(100))
	}

	return types.OrderParams{
		Venue:         leg.Venue,
		Side:          leg.Side,
		Action:        types.Sell,
		Price:         clamped,
		Qty:           qty,
		TIF:           types.TIFIOC,
		MarketID:      id,
		ClientOrderID: clientOrderID(leg.Venue, "VOLEXIT", nowUnix),
		ReduceOnly:    true,
	}, nil
}

// BuildMarketFallback constructs the phase-2 market-order sell: price 0 for
// Kalshi (the venue ignores it) and 0.01 for Polymarket (the minimum
// tradable price, maximizing fill aggressiveness).
func BuildMarketFallback(leg types.ArbLeg, m types.IntervalMapping, remainingQty decimal.Decimal, nowUnix int64) (types.OrderParams, error) {
	id, err := marketID(leg.Venue, leg.Side, m)
	if err != nil {
		return types.OrderParams{}, err
	}

	price := minPrice
	if leg.Venue == types.Kalshi {
		price = decimal.Zero
	}

	return types.OrderParams{
		Venue:         leg.Venue,
		Side:          leg.Side,
		Action:        types.Sell,
		Price:         price,
		Qty:           remainingQty,
		TIF:           types.TIFMarket,
		MarketID:      id,
		ClientOrderID: clientOrderID(leg.Venue, "FALLBACK", nowUnix),
		ReduceOnly:    true,
	}, nil
}
