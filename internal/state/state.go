// Package state owns the two process-wide singletons the execution core
// mutates from a single logical actor: the execution state (busy lock,
// cooldown, daily PnL, kill switch, notional, pending settlements) and the
// position tracker. Every mutation happens inside a single synchronous
// region between suspension points, so one mutex per struct is sufficient
// even though async continuations may interleave.
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Manager is the execution-state singleton described in spec §4.1. It is
// owned by the top-level runtime and passed by reference to every
// component that needs it — never captured as an implicit global.
type Manager struct {
	mu sync.Mutex

	busy              bool
	currentExecution  string // ExecutionRecord.ID, empty when not busy
	lastFailureTS     *time.Time
	cooldownAfter     time.Duration

	dailyRealizedPnL  decimal.Decimal
	dailyUnwindLoss   decimal.Decimal
	dailyStartTS      time.Time

	killSwitchTriggered bool
	killSwitchReason    string

	totalNotional decimal.Decimal

	pendingSettlements map[string]types.PendingSettlement

	liquidationInProgress bool

	preCloseActive bool
}

// NewManager creates an execution-state singleton. cooldownAfter is the
// duration enter_cooldown holds subsequent attempts for after a failure.
func NewManager(cooldownAfter time.Duration) *Manager {
	return &Manager{
		cooldownAfter:       cooldownAfter,
		dailyStartTS:        time.Now().UTC(),
		pendingSettlements:  make(map[string]types.PendingSettlement),
	}
}

// AcquireBusyLock test-and-sets the busy flag. Returns false if an
// execution is already in flight.
func (m *Manager) AcquireBusyLock(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return false
	}
	m.busy = true
	m.currentExecution = executionID
	return true
}

// ReleaseBusyLock clears the busy flag and current execution pointer.
func (m *Manager) ReleaseBusyLock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	m.currentExecution = ""
}

// IsBusy reports whether an execution currently holds the lock.
func (m *Manager) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// EnterCooldown records a failure timestamp; subsequent attempts fail
// fast via IsInCooldown until cooldownAfter has elapsed.
func (m *Manager) EnterCooldown(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := ts
	m.lastFailureTS = &t
}

// IsInCooldown reports whether now falls within the post-failure cooldown.
func (m *Manager) IsInCooldown(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastFailureTS == nil {
		return false
	}
	return now.Before(m.lastFailureTS.Add(m.cooldownAfter))
}

// RecordPnL accumulates signed daily realized PnL. Crossing UTC midnight
// resets the accumulator on the next call, but the kill switch is
// untouched — it requires a manual reset.
func (m *Manager) RecordPnL(pnl decimal.Decimal, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverDailyLocked(now)
	m.dailyRealizedPnL = m.dailyRealizedPnL.Add(pnl)
	if pnl.IsNegative() {
		m.dailyUnwindLoss = m.dailyUnwindLoss.Add(pnl.Neg())
	}
}

// GetDailyLoss returns the magnitude of today's net loss (0 if net positive).
func (m *Manager) GetDailyLoss(now time.Time) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverDailyLocked(now)
	if m.dailyRealizedPnL.IsNegative() {
		return m.dailyRealizedPnL.Neg()
	}
	return decimal.Zero
}

// GetDailyUnwindLoss returns today's cumulative realized unwind loss.
func (m *Manager) GetDailyUnwindLoss(now time.Time) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverDailyLocked(now)
	return m.dailyUnwindLoss
}

// rolloverDailyLocked resets the daily accumulators at a UTC midnight
// crossing. Must be called with mu held.
func (m *Manager) rolloverDailyLocked(now time.Time) {
	u := now.UTC()
	lastDay := time.Date(m.dailyStartTS.Year(), m.dailyStartTS.Month(), m.dailyStartTS.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if today.After(lastDay) {
		m.dailyRealizedPnL = decimal.Zero
		m.dailyUnwindLoss = decimal.Zero
		m.dailyStartTS = u
	}
}

// TriggerKillSwitch latches the kill switch with a reason. Manual reset only.
func (m *Manager) TriggerKillSwitch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchTriggered = true
	m.killSwitchReason = reason
}

// IsKillSwitchTriggered reports the latched kill-switch state.
func (m *Manager) IsKillSwitchTriggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitchTriggered
}

// KillSwitchReason returns the reason the kill switch was last triggered.
func (m *Manager) KillSwitchReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitchReason
}

// ResetKillSwitch clears the latch. Only an operator should call this.
func (m *Manager) ResetKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchTriggered = false
	m.killSwitchReason = ""
}

// AddNotional increases tracked dollar exposure.
func (m *Manager) AddNotional(n decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalNotional = m.totalNotional.Add(n)
}

// RemoveNotional decreases tracked dollar exposure, floored at zero.
func (m *Manager) RemoveNotional(n decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalNotional = m.totalNotional.Sub(n)
	if m.totalNotional.IsNegative() {
		m.totalNotional = decimal.Zero
	}
}

// GetTotalNotional returns current tracked notional exposure.
func (m *Manager) GetTotalNotional() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalNotional
}

// AddPendingSettlement registers a completed box awaiting interval close.
func (m *Manager) AddPendingSettlement(ps types.PendingSettlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingSettlements[ps.ExecutionID] = ps
}

// SettlePending removes every pending settlement for the given interval,
// returning them so the caller can realize their PnL.
func (m *Manager) SettlePending(key types.IntervalKey) []types.PendingSettlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var settled []types.PendingSettlement
	for id, ps := range m.pendingSettlements {
		if ps.IntervalKey == key {
			settled = append(settled, ps)
			delete(m.pendingSettlements, id)
		}
	}
	return settled
}

// GetUnrealizedPnL sums ExpectedPnL across all pending settlements.
func (m *Manager) GetUnrealizedPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, ps := range m.pendingSettlements {
		sum = sum.Add(ps.ExpectedPnL)
	}
	return sum
}

// StartLiquidation sets the advisory flag that mutes pre-close unwind and
// volatility exit while the liquidator runs.
func (m *Manager) StartLiquidation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidationInProgress = true
}

// StopLiquidation clears the liquidation-in-progress flag.
func (m *Manager) StopLiquidation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidationInProgress = false
}

// IsLiquidationInProgress reports the advisory liquidation flag.
func (m *Manager) IsLiquidationInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liquidationInProgress
}

// SetPreCloseActive sets the process-wide flag that blocks new arb
// scanning while the pre-close safety unwind runs. Persists until the
// caller clears it on the next rollover event.
func (m *Manager) SetPreCloseActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preCloseActive = active
}

// IsPreCloseActive reports the pre-close flag.
func (m *Manager) IsPreCloseActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preCloseActive
}

// ResetAll restores the manager to its construction-time state. Exposed
// only for tests — production code never calls this.
func (m *Manager) ResetAll(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	m.currentExecution = ""
	m.lastFailureTS = nil
	m.dailyRealizedPnL = decimal.Zero
	m.dailyUnwindLoss = decimal.Zero
	m.dailyStartTS = now.UTC()
	m.killSwitchTriggered = false
	m.killSwitchReason = ""
	m.totalNotional = decimal.Zero
	m.pendingSettlements = make(map[string]types.PendingSettlement)
	m.liquidationInProgress = false
	m.preCloseActive = false
}
