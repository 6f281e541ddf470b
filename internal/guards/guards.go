// Package guards holds the pure risk predicates evaluated before every
// execution: no channels, no mutexes, no I/O. Each guard takes the
// opportunity and the relevant slice of state and returns an error when the
// opportunity should be rejected. The executor runs RunAll (MinEdgeNet,
// NotionalHeadroom, PositionBalance) before committing to Leg A; a single
// failure aborts the attempt with no cooldown. MaxOpenOrdersPerVenue is not
// part of RunAll.
package guards

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// MinEdgeNet rejects an opportunity whose net edge doesn't clear the
// configured floor.
func MinEdgeNet(edgeNet decimal.Decimal, cfg config.RiskConfig) error {
	floor := decimal.NewFromFloat(cfg.MinEdgeNet)
	if edgeNet.LessThan(floor) {
		return fmt.Errorf("edge_net %s below min_edge_net %s", edgeNet, floor)
	}
	return nil
}

// NotionalHeadroom rejects an order whose notional would push total tracked
// exposure past max_notional.
func NotionalHeadroom(qty, costPerContract, currentNotional decimal.Decimal, cfg config.RiskConfig) error {
	maxNotional := decimal.NewFromFloat(cfg.MaxNotional)
	projected := currentNotional.Add(qty.Mul(costPerContract))
	if projected.GreaterThan(maxNotional) {
		return fmt.Errorf("projected notional %s exceeds max_notional %s", projected, maxNotional)
	}
	return nil
}

// PositionBalance enforces the invariant |total_yes - total_no| <= epsilon.
// A directional imbalance beyond epsilon means some prior execution left an
// unhedged leg outstanding, and no new box should be opened until it clears.
func PositionBalance(totalYes, totalNo decimal.Decimal, epsilon float64) error {
	diff := totalYes.Sub(totalNo).Abs()
	eps := decimal.NewFromFloat(epsilon)
	if diff.GreaterThan(eps) {
		return fmt.Errorf("position imbalance |%s - %s| = %s exceeds epsilon %s", totalYes, totalNo, diff, eps)
	}
	return nil
}

// MaxOpenOrdersPerVenue rejects submission if a venue already has
// max_open_orders_per_venue resting orders outstanding.
func MaxOpenOrdersPerVenue(openCount int, cfg config.RiskConfig) error {
	if cfg.MaxOpenOrdersPerVenue > 0 && openCount >= cfg.MaxOpenOrdersPerVenue {
		return fmt.Errorf("%d open orders already at max_open_orders_per_venue %d", openCount, cfg.MaxOpenOrdersPerVenue)
	}
	return nil
}

// RunAll evaluates MinEdgeNet, NotionalHeadroom and PositionBalance against
// the capped opportunity, returning the first failure encountered;
// MaxOpenOrdersPerVenue is not evaluated here. qty is the post-capping size (after §4.2 step 2
// notional capping), not opp.Qty, so NotionalHeadroom checks the order the
// executor will actually submit. Guard order does not matter for
// correctness — all are independent predicates — but checking cheap, purely
// local guards before ones that need live position data avoids unnecessary
// work.
func RunAll(opp types.Opportunity, qty, costPerContract, currentNotional, totalYes, totalNo decimal.Decimal, cfg config.RiskConfig, positionEpsilon float64) error {
	if err := MinEdgeNet(opp.EdgeNet, cfg); err != nil {
		return err
	}
	if err := NotionalHeadroom(qty, costPerContract, currentNotional, cfg); err != nil {
		return err
	}
	if err := PositionBalance(totalYes, totalNo, positionEpsilon); err != nil {
		return err
	}
	return nil
}

// permanentMarkers are matched case-insensitively against an unwrapped error
// string. A match disables retries for that (venue, side) until the
// interval resets.
var permanentMarkers = []string{
	"insufficient_balance",
	"insufficient balance",
	"market_closed",
	"trading_closed",
	"event_expired",
}

// ClassifyError is the string-matching fallback for venue adapters that
// surface only a free-text error body instead of a typed ErrorKind. Adapters
// that can determine the kind directly from a structured API response should
// set OrderResult.ErrKind themselves and skip this.
func ClassifyError(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return types.KindPermanent
		}
	}
	return types.KindTransient
}
