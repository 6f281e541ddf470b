// Package journal is an append-only JSONL audit log of every execution,
// unwind, liquidation, and settlement the executor processes. Each line is
// a self-describing JSON object; the log is write-only from the executor's
// perspective and meant for offline reconciliation, not live querying.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// Journal is an append-only JSONL writer for execution events.
type Journal struct {
	f  *os.File
	mu sync.Mutex
}

// Open opens (or creates) the journal file in append mode.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f}, nil
}

// Log marshals event to JSON and appends it as a single line, fsyncing
// before returning so a crash immediately after Log can't lose the record.
func (j *Journal) Log(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err = j.f.Write(data); err != nil {
		return err
	}
	return j.f.Sync()
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// SessionStart records process startup.
type SessionStart struct {
	Type   string `json:"type"`
	Time   string `json:"time"`
	DryRun bool   `json:"dry_run"`
	Env    string `json:"env"`
}

func NewSessionStart(env string, dryRun bool) SessionStart {
	return SessionStart{Type: "session_start", Time: now(), DryRun: dryRun, Env: env}
}

// Execution records one execute_opportunity attempt end to end: both legs,
// any unwind, and the expected edge at decision time.
type Execution struct {
	Type            string                `json:"type"`
	Time            string                `json:"time"`
	ExecutionID     string                `json:"execution_id"`
	IntervalKey     string                `json:"interval_key"`
	Status          types.ExecutionStatus `json:"status"`
	ExpectedEdgeNet string                `json:"expected_edge_net"`
	LegAVenue       types.Venue           `json:"leg_a_venue"`
	LegAStatus      types.OrderStatus     `json:"leg_a_status"`
	LegBVenue       types.Venue           `json:"leg_b_venue"`
	LegBStatus      types.OrderStatus     `json:"leg_b_status"`
	Unwound         bool                  `json:"unwound"`
	RealizedPnL     *string               `json:"realized_pnl,omitempty"`
}

func NewExecution(rec types.ExecutionRecord) Execution {
	e := Execution{
		Type:            "execution",
		Time:            now(),
		ExecutionID:     rec.ID,
		IntervalKey:     intervalKeyString(rec.Opportunity.IntervalKey),
		Status:          rec.Status,
		ExpectedEdgeNet: rec.ExpectedEdgeNet.String(),
		LegAVenue:       rec.LegA.Leg.Venue,
		LegAStatus:      rec.LegA.Status(),
		LegBVenue:       rec.LegB.Leg.Venue,
		LegBStatus:      rec.LegB.Status(),
		Unwound:         rec.Unwind != nil,
	}
	if rec.RealizedPnL != nil {
		s := rec.RealizedPnL.String()
		e.RealizedPnL = &s
	}
	return e
}

// Unwind records the ladder/market-fallback attempt to offload a stranded
// leg after the other side of a box failed to fill.
type Unwind struct {
	Type         string      `json:"type"`
	Time         string      `json:"time"`
	ExecutionID  string      `json:"execution_id"`
	Venue        types.Venue `json:"venue"`
	Reason       string      `json:"reason"`
	Success      bool        `json:"success"`
	FilledQty    string      `json:"filled_qty"`
	RemainingQty string      `json:"remaining_qty"`
	VWAP         string      `json:"vwap"`
	RealizedLoss string      `json:"realized_loss"`
}

func NewUnwind(executionID string, rec types.UnwindRecord) Unwind {
	u := Unwind{
		Type:         "unwind",
		Time:         now(),
		ExecutionID:  executionID,
		Venue:        rec.LegToUnwind.Leg.Venue,
		Reason:       rec.Reason,
		RealizedLoss: rec.RealizedLoss.String(),
	}
	if rec.Result != nil {
		u.Success = rec.Result.Success
		u.FilledQty = rec.Result.FilledQty.String()
		u.RemainingQty = rec.Result.RemainingQty.String()
		u.VWAP = rec.Result.VWAP.String()
	}
	return u
}

// Liquidation records a forced pre-close or post-breach inventory
// unwind slice sold down outside the normal execution path.
type Liquidation struct {
	Type      string      `json:"type"`
	Time      string      `json:"time"`
	Venue     types.Venue `json:"venue"`
	Side      types.Side  `json:"side"`
	Qty       string      `json:"qty"`
	SoldQty   string      `json:"sold_qty"`
	Proceeds  string      `json:"proceeds"`
	Reason    string      `json:"reason"`
}

func NewLiquidation(v types.Venue, side types.Side, qty, soldQty, proceeds, reason string) Liquidation {
	return Liquidation{
		Type: "liquidation", Time: now(), Venue: v, Side: side,
		Qty: qty, SoldQty: soldQty, Proceeds: proceeds, Reason: reason,
	}
}

// Settlement records a completed box reaching its interval's resolution.
type Settlement struct {
	Type        string `json:"type"`
	Time        string `json:"time"`
	ExecutionID string `json:"execution_id"`
	IntervalKey string `json:"interval_key"`
	ExpectedPnL string `json:"expected_pnl"`
	Qty         string `json:"qty"`
}

func NewSettlement(s types.PendingSettlement) Settlement {
	return Settlement{
		Type:        "settlement",
		Time:        now(),
		ExecutionID: s.ExecutionID,
		IntervalKey: intervalKeyString(s.IntervalKey),
		ExpectedPnL: s.ExpectedPnL.String(),
		Qty:         s.Qty.String(),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func intervalKeyString(k types.IntervalKey) string {
	return fmt.Sprintf("%d-%d", k.StartTS, k.EndTS)
}
