// Package bucket maps instants to timeframe buckets.
//
// Buckets are half-open [start, end) intervals aligned to the Unix epoch in
// UTC, computed with integer millisecond arithmetic. Boundaries are therefore
// independent of the host timezone and of any per-candle state.
package bucket

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned for non-positive bucket intervals.
var ErrInvalidInterval = errors.New("invalid bucket interval")

const millisPerMinute = int64(60_000)

// Validate reports whether intervalMinutes can be used as a bucket length.
func Validate(intervalMinutes int) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("%w: %d minutes", ErrInvalidInterval, intervalMinutes)
	}
	return nil
}

// StartMillis floors ms to a multiple of intervalMillis, rounding toward
// negative infinity for pre-epoch instants. intervalMillis must be positive.
func StartMillis(ms, intervalMillis int64) int64 {
	r := ms % intervalMillis
	if r < 0 {
		r += intervalMillis
	}
	return ms - r
}

// Start returns the bucket start containing ts.
func Start(ts time.Time, intervalMinutes int) time.Time {
	ms := StartMillis(ts.UnixMilli(), int64(intervalMinutes)*millisPerMinute)
	return time.UnixMilli(ms).UTC()
}

// End returns the exclusive end of the bucket containing ts.
func End(ts time.Time, intervalMinutes int) time.Time {
	return Start(ts, intervalMinutes).Add(time.Duration(intervalMinutes) * time.Minute)
}

// Range returns the [start, end) bucket containing ts.
func Range(ts time.Time, intervalMinutes int) (time.Time, time.Time) {
	start := Start(ts, intervalMinutes)
	return start, start.Add(time.Duration(intervalMinutes) * time.Minute)
}

// Contains reports whether ts falls within [start, end).
func Contains(start, end, ts time.Time) bool {
	return !ts.Before(start) && ts.Before(end)
}

// DayRange returns the UTC calendar day [00:00, next 00:00) containing ts.
func DayRange(ts time.Time) (time.Time, time.Time) {
	return Range(ts, 24*60)
}
