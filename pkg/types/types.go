// Package types defines the shared vocabulary for the box-arb execution
// core — interval keys, venues, orders, fills, and the execution record
// state machine. It has no dependencies on internal packages, so it can be
// imported by every layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the two exchanges this core trades across.
type Venue string

const (
	Polymarket Venue = "POLYMARKET"
	Kalshi     Venue = "KALSHI"
)

// Side is the outcome side of a binary interval contract.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Opposite returns the complementary side of a box leg.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Action is buy or sell.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// TimeInForce controls how an order is matched.
type TimeInForce string

const (
	TIFFOK    TimeInForce = "FOK"    // fill-or-kill, all-or-nothing
	TIFIOC    TimeInForce = "IOC"    // immediate-or-cancel
	TIFMarket TimeInForce = "MARKET" // market order, no limit price
)

// OrderStatus is the lifecycle state returned by a venue client.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusSubmitting OrderStatus = "SUBMITTING"
	StatusFilled     OrderStatus = "FILLED"
	StatusRejected   OrderStatus = "REJECTED"
	StatusTimeout    OrderStatus = "TIMEOUT"
)

// ErrorKind classifies a venue failure for retry/cooldown decisions.
// Venue adapters should emit a typed kind directly where the API exposes
// one; ClassifyError (internal/guards) supplies the string-matching
// fallback for adapters that only return free-text error bodies.
type ErrorKind string

const (
	KindTransient ErrorKind = "TRANSIENT"
	KindPermanent ErrorKind = "PERMANENT"
	KindTimeout   ErrorKind = "TIMEOUT"
	KindRejected  ErrorKind = "REJECTED"
)

// ExecutionStatus is the terminal (or in-flight) state of an ExecutionRecord.
type ExecutionStatus string

const (
	ExecPending         ExecutionStatus = "PENDING"
	ExecLegASubmitting  ExecutionStatus = "LEG_A_SUBMITTING"
	ExecLegAFailed      ExecutionStatus = "LEG_A_FAILED"
	ExecLegBSubmitting  ExecutionStatus = "LEG_B_SUBMITTING"
	ExecSuccess         ExecutionStatus = "SUCCESS"
	ExecUnwinding       ExecutionStatus = "UNWINDING"
	ExecUnwound         ExecutionStatus = "UNWOUND"
	ExecAborted         ExecutionStatus = "ABORTED"
)

// IsTerminal reports whether status is one of the four terminal states.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecSuccess, ExecLegAFailed, ExecUnwound, ExecAborted:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Interval & mapping
// ————————————————————————————————————————————————————————————————————————

// IntervalSeconds is the fixed window length of one binary contract.
const IntervalSeconds = 900

// IntervalKey is a half-open 15-minute UTC window: [StartTS, EndTS).
type IntervalKey struct {
	StartTS int64 // unix seconds, aligned to :00/:15/:30/:45
	EndTS   int64 // StartTS + IntervalSeconds
}

// Valid reports whether the interval has the required fixed length.
func (k IntervalKey) Valid() bool {
	return k.EndTS-k.StartTS == IntervalSeconds
}

// IntervalMapping carries the venue-specific identifiers for one interval.
// Either venue's fields may be zero-valued if that venue hasn't listed the
// interval yet, but never both — the executor requires both legs to act.
type IntervalMapping struct {
	Key              IntervalKey
	PolymarketUpID   string // CLOB token ID for the "up" (YES-BTC-up) outcome
	PolymarketDownID string // CLOB token ID for the "down" (NO-BTC-up) outcome
	KalshiTicker     string // Kalshi market ticker for this interval
}

// HasPolymarket reports whether the Polymarket side of the mapping is known.
func (m IntervalMapping) HasPolymarket() bool {
	return m.PolymarketUpID != "" && m.PolymarketDownID != ""
}

// HasKalshi reports whether the Kalshi side of the mapping is known.
func (m IntervalMapping) HasKalshi() bool {
	return m.KalshiTicker != ""
}

// ————————————————————————————————————————————————————————————————————————
// Opportunities
// ————————————————————————————————————————————————————————————————————————

// ArbLeg is one side of a two-venue box: buy Side on Venue at Price for Size.
type ArbLeg struct {
	Venue Venue
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Opportunity is a scanner-produced signal: two complementary legs on two
// distinct venues whose combined cost is below $1, evaluated at DecisionTS.
type Opportunity struct {
	IntervalKey IntervalKey
	DecisionTS  time.Time
	Legs        [2]ArbLeg
	Cost        decimal.Decimal // sum(leg.Price) per contract
	EdgeGross   decimal.Decimal
	EdgeNet     decimal.Decimal // 1 - Cost - frictions, >= 0 at construction
	Qty         decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderParams fully specifies one order submission to a venue.
type OrderParams struct {
	Venue         Venue
	Side          Side
	Action        Action
	Price         decimal.Decimal
	Qty           decimal.Decimal
	TIF           TimeInForce
	MarketID      string // Polymarket token ID, or Kalshi ticker
	ClientOrderID string // unique per submission: venue+role+timestamp+random
	ReduceOnly    bool
}

// OrderResult is what a venue client returns for a submitted order.
type OrderResult struct {
	Success    bool
	OrderID    string
	FillQty    decimal.Decimal
	FillPrice  decimal.Decimal
	Venue      Venue
	Status     OrderStatus
	SubmittedAt time.Time
	FilledAt   *time.Time
	Err        error
	ErrKind    ErrorKind
}

// LegExecution tracks one leg (A or B) of a two-phase commit execution.
type LegExecution struct {
	Leg       ArbLeg
	Params    OrderParams
	Result    *OrderResult
	SubmitTS  *time.Time
	FillTS    *time.Time
}

// Status derives the leg's lifecycle state from its result.
func (l LegExecution) Status() OrderStatus {
	if l.Result == nil {
		return StatusPending
	}
	return l.Result.Status
}

// UnwindRecord is the outcome of attempting to sell down a filled leg that
// failed to hedge.
type UnwindRecord struct {
	LegToUnwind  LegExecution
	UnwindParams []OrderParams // ladder steps + market fallback, in order attempted
	Result       *UnwindResult
	StartTS      time.Time
	EndTS        *time.Time
	RealizedLoss decimal.Decimal
	Reason       string
}

// UnwindResult synthesizes the fills collected across the ladder and the
// market fallback.
type UnwindResult struct {
	Success      bool // true iff RemainingQty == 0
	FilledQty    decimal.Decimal
	RemainingQty decimal.Decimal
	VWAP         decimal.Decimal
	Fills        []Fill
}

// ExecutionRecord is the full audit trail of one execute_opportunity call.
type ExecutionRecord struct {
	ID                string
	Opportunity       Opportunity
	Status            ExecutionStatus
	LegA              LegExecution
	LegB              LegExecution
	Unwind            *UnwindRecord
	StartTS           time.Time
	EndTS             *time.Time
	ExpectedEdgeNet   decimal.Decimal
	RealizedPnL       *decimal.Decimal
	PolyQuoteSnapshot NormalizedQuote
	KalshiQuoteSnapshot NormalizedQuote
}

// PendingSettlement tracks unrealized PnL for a completed box between the
// moment both legs fill and the interval boundary where it settles.
type PendingSettlement struct {
	ExecutionID  string
	IntervalKey  IntervalKey
	SettlesAt    time.Time
	ExpectedPnL  decimal.Decimal
	ActualCost   decimal.Decimal
	Qty          decimal.Decimal
	CompletedAt  *time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Positions & fills
// ————————————————————————————————————————————————————————————————————————

// PositionKey identifies one side of one venue's book.
type PositionKey struct {
	Venue Venue
	Side  Side
}

// Position is the net quantity and cost basis for one (venue, side).
type Position struct {
	Qty        decimal.Decimal // net quantity, never negative
	EntryVWAP  decimal.Decimal
	MarketID   string // last known market id, kept for post-rollover recovery
	UpdatedAt  time.Time
}

// PositionFilter narrows GetPortfolioPositions to a venue, or all venues
// when Venue is the empty string.
type PositionFilter struct {
	Venue Venue
}

// PositionsSnapshot is a venue's reported live positions, keyed the same
// way as the internal position tracker.
type PositionsSnapshot map[PositionKey]decimal.Decimal

// Fill is one execution fill, as reported by a venue's fills endpoint.
type Fill struct {
	OrderID string
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Fee     decimal.Decimal
	TS      time.Time
}

// NormalizedQuote is a venue's current top-of-book, read from a cache.
type NormalizedQuote struct {
	Venue Venue
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	TS    time.Time
}

// Mid returns the midpoint of the quote, or zero if either side is unset.
func (q NormalizedQuote) Mid() decimal.Decimal {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}
