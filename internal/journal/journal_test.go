package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening journal for read: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestLogAppendsOneLinePerEvent(t *testing.T) {
	j, path := openTestJournal(t)
	if err := j.Log(NewSessionStart("prod", false)); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := j.Log(NewSessionStart("prod", true)); err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first SessionStart
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Type != "session_start" || first.DryRun {
		t.Errorf("unexpected first event: %+v", first)
	}
}

func TestNewExecutionSummarizesBothLegsAndUnwindFlag(t *testing.T) {
	now := time.Now()
	rec := types.ExecutionRecord{
		ID:              "exec-1",
		Opportunity:     types.Opportunity{IntervalKey: types.IntervalKey{StartTS: 1000, EndTS: 1900}},
		Status:          types.ExecSuccess,
		ExpectedEdgeNet: decimal.NewFromFloat(0.02),
		LegA:            types.LegExecution{Leg: types.ArbLeg{Venue: types.Polymarket}, Result: &types.OrderResult{Status: types.StatusFilled}},
		LegB:            types.LegExecution{Leg: types.ArbLeg{Venue: types.Kalshi}, Result: &types.OrderResult{Status: types.StatusFilled}},
		StartTS:         now,
	}

	e := NewExecution(rec)
	if e.Unwound {
		t.Error("expected Unwound=false when rec.Unwind is nil")
	}
	if e.LegAStatus != types.StatusFilled || e.LegBStatus != types.StatusFilled {
		t.Errorf("expected both legs filled, got %s / %s", e.LegAStatus, e.LegBStatus)
	}
	if e.IntervalKey != "1000-1900" {
		t.Errorf("interval key = %s, want 1000-1900", e.IntervalKey)
	}
}

func TestNewExecutionSetsUnwoundWhenPresent(t *testing.T) {
	rec := types.ExecutionRecord{
		ID:     "exec-2",
		Status: types.ExecUnwound,
		Unwind: &types.UnwindRecord{Reason: "leg B rejected"},
	}
	e := NewExecution(rec)
	if !e.Unwound {
		t.Error("expected Unwound=true when rec.Unwind is set")
	}
}

func TestNewUnwindCapturesResultFields(t *testing.T) {
	rec := types.UnwindRecord{
		LegToUnwind:  types.LegExecution{Leg: types.ArbLeg{Venue: types.Polymarket}},
		Reason:       "leg B rejected",
		RealizedLoss: decimal.NewFromFloat(1.5),
		Result: &types.UnwindResult{
			Success: true, FilledQty: decimal.NewFromInt(10),
			RemainingQty: decimal.Zero, VWAP: decimal.NewFromFloat(0.48),
		},
	}
	u := NewUnwind("exec-2", rec)
	if !u.Success || u.FilledQty != "10" {
		t.Errorf("unexpected unwind event: %+v", u)
	}
}
