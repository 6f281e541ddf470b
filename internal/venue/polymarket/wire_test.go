package polymarket

import (
	"math"
	"math/big"
	"testing"

	"polymarket-mm/pkg/types"
)

func TestRoundDown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		val      float64
		decimals int
		want     float64
	}{
		{"truncate 2 decimals", 1.2345, 2, 1.23},
		{"truncate 4 decimals", 0.55559, 4, 0.5555},
		{"exact value unchanged", 0.55, 2, 0.55},
		{"zero", 0.0, 2, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := roundDown(tt.val, tt.decimals)
			if math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("roundDown(%v, %d) = %v, want %v", tt.val, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestPriceToAmountsBuyAndSell(t *testing.T) {
	t.Parallel()
	mkr, tkr := priceToAmounts(0.50, 100.0, types.Buy)
	if mkr.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Errorf("BUY makerAmount = %s, want 50000000", mkr)
	}
	if tkr.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("BUY takerAmount = %s, want 100000000", tkr)
	}

	mkr, tkr = priceToAmounts(0.50, 100.0, types.Sell)
	if mkr.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("SELL makerAmount = %s, want 100000000", mkr)
	}
	if tkr.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Errorf("SELL takerAmount = %s, want 50000000", tkr)
	}
}

func TestPriceToAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()
	buyMkr, buyTkr := priceToAmounts(0.60, 50.0, types.Buy)
	sellMkr, sellTkr := priceToAmounts(0.60, 50.0, types.Sell)
	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}
