// Package window computes the time window scanned by an extraction run.
package window

import (
	"time"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

const day = 24 * time.Hour

// Compute returns the window covering lookbackDays full days before today plus
// all of today, anchored to UTC midnight. End is the midnight after now, so
// statements executed earlier today are always inside the window.
func Compute(lookbackDays int, now time.Time) (core.TimeWindow, error) {
	if lookbackDays < 0 {
		return core.TimeWindow{}, core.InvalidConfigf("lookback days must be >= 0, got %d", lookbackDays)
	}

	today := now.UTC().Truncate(day)
	return core.TimeWindow{
		Start: today.AddDate(0, 0, -lookbackDays),
		End:   today.AddDate(0, 0, 1),
	}, nil
}

// ComputeNow is Compute anchored to the current time.
func ComputeNow(lookbackDays int) (core.TimeWindow, error) {
	return Compute(lookbackDays, time.Now())
}
