package aggregation

import (
	"math"
	"sort"
	"time"

	"candle-engine/internal/domain"
)

// seedCandle builds a new candle for the bucket starting at start from ticks
// sorted by (timestamp, id). ticks must be non-empty.
func seedCandle(instrumentID string, timeframeID int64, start time.Time, ticks []*domain.Tick) *domain.Candle {
	first := ticks[0]
	c := &domain.Candle{
		InstrumentID: instrumentID,
		TimeframeID:  timeframeID,
		Timestamp:    start,
		Open:         first.LTP,
		High:         first.LTP,
		Low:          first.LTP,
		Close:        first.LTP,
		LastTickAt:   first.Timestamp,
	}
	for _, t := range ticks {
		c.High = math.Max(c.High, t.LTP)
		c.Low = math.Min(c.Low, t.LTP)
		c.Close = t.LTP
		c.Volume += t.Volume
		c.TickCount++
		c.LastTickAt = t.Timestamp
		if t.ID > c.LastTickID {
			c.LastTickID = t.ID
		}
	}
	c.Recompute()
	return c
}

// foldTick merges one tick into c. Close and LastTickAt move only when the
// tick is not older than the latest tick already folded.
func foldTick(c *domain.Candle, t *domain.Tick) {
	c.High = math.Max(c.High, t.LTP)
	c.Low = math.Min(c.Low, t.LTP)
	c.Volume += t.Volume
	c.TickCount++
	if !t.Timestamp.Before(c.LastTickAt) {
		c.Close = t.LTP
		c.LastTickAt = t.Timestamp
	}
	if t.ID > c.LastTickID {
		c.LastTickID = t.ID
	}
}

// sortTicks orders ticks by (timestamp, id); unpersisted ticks keep their
// relative position among equal timestamps.
func sortTicks(ticks []*domain.Tick) {
	sort.SliceStable(ticks, func(i, j int) bool {
		a, b := ticks[i], ticks[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.ID == 0 || b.ID == 0 {
			return false
		}
		return a.ID < b.ID
	})
}

// containsTick reports whether ticks already holds a tick with t's id.
func containsTick(ticks []*domain.Tick, t *domain.Tick) bool {
	if t.ID == 0 {
		return false
	}
	for _, x := range ticks {
		if x.ID == t.ID {
			return true
		}
	}
	return false
}
