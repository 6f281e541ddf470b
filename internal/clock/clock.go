// Package clock computes 15-minute interval boundaries and rollover timing
// for BTC binary markets. Boundaries fall on the UTC quarter hour: :00,
// :15, :30, :45.
package clock

import (
	"time"

	"polymarket-mm/pkg/types"
)

// IntervalKeyFor returns the half-open interval containing now.
func IntervalKeyFor(now time.Time) types.IntervalKey {
	u := now.UTC()
	startOfHour := time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
	quarter := u.Minute() / 15
	start := startOfHour.Add(time.Duration(quarter) * 15 * time.Minute)
	return types.IntervalKey{
		StartTS: start.Unix(),
		EndTS:   start.Unix() + types.IntervalSeconds,
	}
}

// MsUntilRollover returns the milliseconds remaining until key's end
// boundary, as measured from now. Negative once the interval has closed.
func MsUntilRollover(now time.Time, key types.IntervalKey) int64 {
	end := time.Unix(key.EndTS, 0).UTC()
	return end.Sub(now.UTC()).Milliseconds()
}

// NextBoundary returns the wall-clock time of the next quarter-hour
// boundary strictly after now.
func NextBoundary(now time.Time) time.Time {
	key := IntervalKeyFor(now)
	return time.Unix(key.EndTS, 0).UTC()
}
