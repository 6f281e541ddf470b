package volatility

import "testing"

func TestRingBufferTracksHighLow(t *testing.T) {
	r := newRingBuffer(5)
	for _, p := range []float64{100, 105, 98, 110, 95} {
		r.push(p, 100)
	}
	if r.high != 110 {
		t.Fatalf("high = %v, want 110", r.high)
	}
	if r.low != 95 {
		t.Fatalf("low = %v, want 95", r.low)
	}
	if got := r.rangeUSD(); got != 15 {
		t.Fatalf("range = %v, want 15", got)
	}
}

func TestRingBufferCountsCrossings(t *testing.T) {
	r := newRingBuffer(10)
	ref := 100.0
	prices := []float64{101, 99, 102, 98, 103} // above, below, above, below, above = 4 crossings
	for _, p := range prices {
		r.push(p, ref)
	}
	if got := r.crossings(); got != 4 {
		t.Fatalf("crossings = %d, want 4", got)
	}
}

func TestRingBufferRescansOnEvictedExtreme(t *testing.T) {
	r := newRingBuffer(3)
	r.push(100, 100) // high=low=100
	r.push(150, 100) // high=150
	r.push(100, 100)
	// buffer full [100,150,100]; next push evicts the 100 at index 0, high stays
	r.push(90, 100)
	if r.high != 150 {
		t.Fatalf("high = %v, want 150 (still in window)", r.high)
	}
	// now evict the 150
	r.push(91, 100)
	r.push(92, 100)
	if r.high == 150 {
		t.Fatal("expected high to drop once 150 was evicted from the window")
	}
}

func TestResetWindowClearsCrossingsAndExtremes(t *testing.T) {
	r := newRingBuffer(5)
	r.push(90, 100)
	r.push(110, 100)
	if r.crossings() == 0 {
		t.Fatal("expected at least one crossing before reset")
	}
	r.resetWindow()
	if r.crossings() != 0 {
		t.Fatal("expected crossings reset to 0")
	}
	r.push(50, 100)
	if r.rangeUSD() != 0 {
		t.Fatalf("range after a single fresh push = %v, want 0", r.rangeUSD())
	}
}
