package kalshi

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func TestDecimalToCentsRoundsToNearestCent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   decimal.Decimal
		want int
	}{
		{decimal.NewFromFloat(0.45), 45},
		{decimal.NewFromFloat(0.5), 50},
		{decimal.NewFromFloat(0.999), 100},
		{decimal.NewFromFloat(0.001), 0},
	}
	for _, tt := range tests {
		if got := decimalToCents(tt.in); got != tt.want {
			t.Errorf("decimalToCents(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetConditionalTokenBalanceReturnsUnboundedSentinel(t *testing.T) {
	c := &Client{}
	bal, err := c.GetConditionalTokenBalance(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal != unboundedBalance {
		t.Errorf("balance = %v, want sentinel %v", bal, unboundedBalance)
	}
}

func TestGetQuoteRejectsNonKalshiVenue(t *testing.T) {
	c := &Client{cache: newQuoteCache(), mapping: types.IntervalMapping{KalshiTicker: "TICKER"}}
	_, ok := c.GetQuote(types.Polymarket)
	if ok {
		t.Fatal("expected GetQuote to reject a non-Kalshi venue")
	}
}

func TestGetQuoteReturnsFalseWithoutMapping(t *testing.T) {
	c := &Client{cache: newQuoteCache()}
	_, ok := c.GetQuote(types.Kalshi)
	if ok {
		t.Fatal("expected GetQuote to return false before a mapping is set")
	}
}

func TestGetQuoteReadsFromCacheForMappedTicker(t *testing.T) {
	c := &Client{cache: newQuoteCache(), mapping: types.IntervalMapping{KalshiTicker: "TICKER"}}
	c.cache.applySnapshot("TICKER", [][]int{{40, 10}}, [][]int{{38, 3}})

	q, ok := c.GetQuote(types.Kalshi)
	if !ok {
		t.Fatal("expected a quote for the mapped ticker")
	}
	if q.Venue != types.Kalshi {
		t.Errorf("quote venue = %s, want kalshi", q.Venue)
	}
}
