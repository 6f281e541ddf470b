// Package volatility implements the per-interval, BTC-tick-driven exit
// state machine described in §4.7: when price action whips across the
// strike in the final minutes of an interval, a hedged box is no longer a
// safe bet to hold to settlement, so this proactively sells down before
// the oracle resolves.
package volatility

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/guards"
	"polymarket-mm/internal/planner"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/venue"
	"polymarket-mm/pkg/types"
)

// State is one node of the per-interval exit state machine.
type State string

const (
	StateIdle                    State = "Idle"
	StateMonitoring              State = "Monitoring"
	StateSellingFirst            State = "SellingFirst"
	StateWaitingForProfitability State = "WaitingForProfitability"
	StateSellingSecond           State = "SellingSecond"
	StateDone                    State = "Done"
)

// IsActive reports whether this state must block new arb scanning, per the
// invariant `state ∈ {SellingFirst, WaitingForProfitability, SellingSecond,
// Done} ⇒ is_active = true`.
func (s State) IsActive() bool {
	switch s {
	case StateSellingFirst, StateWaitingForProfitability, StateSellingSecond, StateDone:
		return true
	default:
		return false
	}
}

// zone buckets how much time remains until rollover, gating how much
// profitability the manager insists on before selling.
type zone int

const (
	zonePatient zone = iota
	zoneBreakeven
	zoneEmergency
)

func zoneFor(msUntilRollover int64, cfg config.VolatilityConfig) zone {
	if msUntilRollover > cfg.PatientThreshold.Milliseconds() {
		return zonePatient
	}
	if msUntilRollover > cfg.BreakevenThreshold.Milliseconds() {
		return zoneBreakeven
	}
	return zoneEmergency
}

// emergencyThreshold stands in for -Inf: decimal.NewFromFloat panics on
// non-finite input, and the emergency zone must accept any profitability
// (including deeply negative) rather than compare against a real floor.
var emergencyThreshold = decimal.NewFromInt(-1_000_000_000)

func thresholdFor(z zone, cfg config.VolatilityConfig) decimal.Decimal {
	switch z {
	case zonePatient:
		return decimal.NewFromFloat(cfg.MinProfitPerShare)
	case zoneBreakeven:
		return decimal.Zero
	default:
		return emergencyThreshold
	}
}

// Clients bundles the two venue clients the manager sells through.
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

// target is one candidate (venue, side) the manager could sell down.
type target struct {
	key           types.PositionKey
	qty           decimal.Decimal
	entryVWAP     decimal.Decimal
	profitability decimal.Decimal
	marketID      string
}

// Manager owns one interval's worth of exit state. A fresh instance (or a
// call to ResetForInterval) is expected per interval.
type Manager struct {
	cfg       config.VolatilityConfig
	execState *state.Manager
	positions *state.PositionTracker
	log       *slog.Logger

	mu         sync.Mutex
	processing bool

	currentState State
	ring         *ringBuffer
	refPrice     float64
	hasRefPrice  bool

	failedSides   map[types.PositionKey]bool
	firstSoldSide types.PositionKey
	firstSoldQty  decimal.Decimal
	targets       []target

	cooldownUntil time.Time
	lastWaitLog   time.Time
}

// New creates a volatility exit manager for one interval.
func New(cfg config.VolatilityConfig, execState *state.Manager, positions *state.PositionTracker, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		execState:   execState,
		positions:   positions,
		log:         logger.With("component", "volatility"),
		currentState: StateIdle,
		ring:        newRingBuffer(cfg.RingBufferSize),
		failedSides: make(map[types.PositionKey]bool),
	}
}

// State returns the current node of the exit state machine.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}

// IsActive reports whether the manager is currently blocking new arb
// scanning.
func (m *Manager) IsActive() bool {
	return m.State().IsActive()
}

// ShouldHaltTrading is the read-only predicate other modules consult to
// decide whether new scanning should pause, independent of this manager's
// own sell state.
func (m *Manager) ShouldHaltTrading(msUntilRollover int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msUntilRollover > m.cfg.HaltWindow.Milliseconds() {
		return false
	}
	if m.ring.crossings() < m.cfg.CrossingThreshold {
		return false
	}
	r := m.ring.rangeUSD()
	return r >= m.cfg.RangeThresholdMinUSD && r <= m.cfg.RangeThresholdMaxUSD
}

// ResetForInterval restores the manager to Idle for a fresh interval,
// clearing failedSides so a venue that failed to sell last interval gets
// a clean retry this interval.
func (m *Manager) ResetForInterval() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = StateIdle
	m.failedSides = make(map[types.PositionKey]bool)
	m.firstSoldQty = decimal.Zero
	m.targets = nil
	m.hasRefPrice = false
	m.ring.resetWindow()
}

// Stop halts the manager, also clearing failedSides.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = StateIdle
	m.failedSides = make(map[types.PositionKey]bool)
}

// OnBTCTick is the entry point driving the state machine. A reentrancy
// guard drops any tick arriving while a previous one is still running.
func (m *Manager) OnBTCTick(ctx context.Context, price float64, msUntilRollover int64, clients Clients, mapping types.IntervalMapping) {
	m.mu.Lock()
	if m.processing {
		m.mu.Unlock()
		return
	}
	m.processing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.processing = false
		m.mu.Unlock()
	}()

	m.mu.Lock()
	if !m.hasRefPrice {
		m.refPrice = price
		m.hasRefPrice = true
	}
	m.ring.push(price, m.refPrice)
	cur := m.currentState
	m.mu.Unlock()

	switch cur {
	case StateIdle:
		m.tryEnterMonitoring(msUntilRollover)
	case StateMonitoring:
		m.tryTrigger(ctx, msUntilRollover, clients, mapping)
	case StateWaitingForProfitability:
		m.retryFirstSell(ctx, msUntilRollover, clients, mapping)
	case StateSellingSecond:
		m.attemptSecondSell(ctx, msUntilRollover, clients, mapping)
	case StateDone:
		m.mu.Lock()
		m.currentState = StateIdle
		m.mu.Unlock()
	}
}

func (m *Manager) tryEnterMonitoring(msUntilRollover int64) {
	totalYes, totalNo := m.positions.TotalYesNo()
	if totalYes.IsZero() && totalNo.IsZero() {
		return
	}
	if msUntilRollover > m.cfg.MonitoringWindow.Milliseconds() {
		return
	}
	m.mu.Lock()
	m.currentState = StateMonitoring
	m.ring.resetWindow()
	m.mu.Unlock()
	m.log.Info("volatility monitoring entered")
}

func (m *Manager) tryTrigger(ctx context.Context, msUntilRollover int64, clients Clients, mapping types.IntervalMapping) {
	m.mu.Lock()
	inCooldown := time.Now().Before(m.cooldownUntil)
	crossings := m.ring.crossings()
	rangeUSD := m.ring.rangeUSD()
	m.mu.Unlock()

	if inCooldown || m.execState.IsBusy() || m.execState.IsLiquidationInProgress() {
		return
	}
	if crossings < m.cfg.CrossingThreshold {
		return
	}
	if rangeUSD < m.cfg.RangeThresholdMinUSD || rangeUSD > m.cfg.RangeThresholdMaxUSD {
		return
	}

	m.beginSellingFirst(ctx, msUntilRollover, clients, mapping)
}

// beginSellingFirst walks profitability-sorted targets, attempting a sell
// on the first that clears the current zone's threshold.
func (m *Manager) beginSellingFirst(ctx context.Context, msUntilRollover int64, clients Clients, mapping types.IntervalMapping) {
	targets := m.buildTargets(ctx, clients)
	z := zoneFor(msUntilRollover, m.cfg)
	threshold := thresholdFor(z, m.cfg)

	anyAttempted := false
	for _, t := range targets {
		if t.profitability.LessThan(threshold) {
			continue
		}
		anyAttempted = true
		filled := m.trySell(ctx, t, clients, mapping)
		if filled.IsPositive() {
			m.mu.Lock()
			m.firstSoldSide = t.key
			m.firstSoldQty = filled
			m.targets = removeTarget(targets, t.key)
			m.currentState = StateSellingSecond
			m.mu.Unlock()
			m.log.Info("volatility first sell filled", "venue", t.key.Venue, "side", t.key.Side, "qty", filled)
			m.attemptSecondSell(ctx, msUntilRollover, clients, mapping)
			return
		}
		m.mu.Lock()
		m.failedSides[t.key] = true
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !anyAttempted {
		m.currentState = StateWaitingForProfitability
		m.targets = targets
		return
	}
	m.currentState = StateMonitoring
	m.cooldownUntil = time.Now().Add(m.cfg.FailedTriggerCooldown)
	m.log.Warn("volatility exit: all attempted targets failed, returning to monitoring with cooldown")
}

func (m *Manager) retryFirstSell(ctx context.Context, msUntilRollover int64, clients Clients, mapping types.IntervalMapping) {
	m.mu.Lock()
	shouldLog := time.Since(m.lastWaitLog) >= 15*time.Second
	if shouldLog {
		m.lastWaitLog = time.Now()
	}
	m.mu.Unlock()
	if shouldLog {
		m.log.Info("volatility exit: waiting for profitability")
	}
	m.beginSellingFirst(ctx, msUntilRollover, clients, mapping)
}

func (m *Manager) attemptSecondSell(ctx context.Context, msUntilRollover int64, clients Clients, mapping types.IntervalMapping) {
	m.mu.Lock()
	var candidate *target
	for i := range m.targets {
		if !m.failedSides[m.targets[i].key] && m.targets[i].key != m.firstSoldSide {
			candidate = &m.targets[i]
			break
		}
	}
	firstSoldQty := m.firstSoldQty
	m.mu.Unlock()

	if candidate == nil {
		m.mu.Lock()
		m.currentState = StateDone
		m.mu.Unlock()
		return
	}

	z := zoneFor(msUntilRollover, m.cfg)
	threshold := thresholdFor(z, m.cfg)
	if candidate.profitability.LessThan(threshold) {
		return
	}

	capped := *candidate
	capped.qty = decimal.Min(capped.qty, firstSoldQty)
	filled := m.trySell(ctx, capped, clients, mapping)

	m.mu.Lock()
	defer m.mu.Unlock()
	if filled.IsPositive() {
		m.currentState = StateDone
		m.log.Info("volatility second sell filled", "venue", candidate.key.Venue, "side", candidate.key.Side, "qty", filled)
		return
	}
	m.failedSides[candidate.key] = true
}

func removeTarget(targets []target, key types.PositionKey) []target {
	out := make([]target, 0, len(targets))
	for _, t := range targets {
		if t.key != key {
			out = append(out, t)
		}
	}
	return out
}

// buildTargets fetches live positions per venue (falling back to the
// tracker on a query failure), pairs each with a live quote, and sorts by
// descending profitability.
func (m *Manager) buildTargets(ctx context.Context, clients Clients) []target {
	m.mu.Lock()
	failed := make(map[types.PositionKey]bool, len(m.failedSides))
	for k, v := range m.failedSides {
		failed[k] = v
	}
	m.mu.Unlock()

	var out []target
	for _, v := range []types.Venue{types.Polymarket, types.Kalshi} {
		client := clients.forVenue(v)
		quote, hasQuote := client.GetQuote(v)
		if !hasQuote {
			continue
		}

		snap, err := client.GetPortfolioPositions(ctx, types.PositionFilter{Venue: v})
		var qtyBySide map[types.Side]decimal.Decimal
		if err == nil {
			qtyBySide = make(map[types.Side]decimal.Decimal, 2)
			for k, q := range snap {
				if k.Venue == v {
					qtyBySide[k.Side] = q
				}
			}
		}

		for _, side := range []types.Side{types.Yes, types.No} {
			key := types.PositionKey{Venue: v, Side: side}
			if failed[key] {
				continue
			}
			pos := m.positions.Get(v, side)
			qty := pos.Qty
			if qtyBySide != nil {
				if live, ok := qtyBySide[side]; ok {
					qty = live
				}
			}
			if !qty.IsPositive() {
				continue
			}
			profitability := quote.Bid.Sub(pos.EntryVWAP)
			out = append(out, target{key: key, qty: qty, entryVWAP: pos.EntryVWAP, profitability: profitability, marketID: pos.MarketID})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].profitability.GreaterThan(out[j].profitability)
	})
	return out
}

// trySell places the exit sell for one target, retrying up to 2 additional
// times at a progressively lower price on partial fill, and treats the
// Kalshi Fills API as authoritative per §4.7's "order response can
// mis-report partial fills" note.
func (m *Manager) trySell(ctx context.Context, t target, clients Clients, mapping types.IntervalMapping) decimal.Decimal {
	client := clients.forVenue(t.key.Venue)
	quote, ok := client.GetQuote(t.key.Venue)
	if !ok {
		return decimal.Zero
	}

	offset := decimal.NewFromFloat(m.cfg.SellPriceOffset)
	price := quote.Bid.Sub(offset)

	remaining := t.qty
	if t.key.Venue == types.Polymarket {
		if bal, err := client.GetConditionalTokenBalance(ctx, t.marketID); err == nil {
			balCap := decimal.NewFromFloat(bal).Mul(decimal.NewFromFloat(0.95)).Floor()
			remaining = decimal.Min(remaining, balCap)
		}
	}

	filled := decimal.Zero
	for attempt := 0; attempt <= 2 && remaining.IsPositive(); attempt++ {
		leg := types.ArbLeg{Venue: t.key.Venue, Side: t.key.Side, Price: price}
		params, err := planner.BuildVolatilityExitSell(leg, mapping, price, remaining, time.Now().Unix()+int64(attempt))
		if err != nil {
			m.log.Error("volatility exit build order failed", "error", err)
			return filled
		}

		res, placeErr := client.PlaceOrder(ctx, params)
		f := decimal.Zero
		if placeErr == nil && res.FillQty.IsPositive() {
			f = res.FillQty
		}

		if t.key.Venue == types.Kalshi && res.OrderID != "" {
			select {
			case <-ctx.Done():
			case <-time.After(200 * time.Millisecond):
			}
			if fills, ferr := client.GetFills(ctx, res.OrderID); ferr == nil {
				var authoritative decimal.Decimal
				for _, fill := range fills {
					authoritative = authoritative.Add(fill.Qty)
				}
				if authoritative.GreaterThan(f) {
					f = authoritative
				}
			}
		}

		if f.IsPositive() {
			m.positions.RecordFill(t.key.Venue, t.key.Side, types.Sell, f, params.Price, t.marketID, time.Now())
			filled = filled.Add(f)
			remaining = remaining.Sub(f)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
		}
		if remaining.IsZero() {
			break
		}
		if placeErr != nil && guards.ClassifyError(placeErr) == types.KindPermanent {
			break
		}

		price = price.Sub(offset)
		select {
		case <-ctx.Done():
			return filled
		case <-time.After(300 * time.Millisecond):
		}
	}

	return filled
}
