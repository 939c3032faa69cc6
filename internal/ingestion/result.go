package ingestion

import (
	"fmt"
	"strings"
)

// TimeframeFailure records one timeframe that failed to absorb a tick.
type TimeframeFailure struct {
	Timeframe string
	Err       error
}

// Result summarizes one Ingest call.
type Result struct {
	Symbol       string
	InstrumentID string
	TickID       int64

	Updated int // timeframes applied without error
	Created int // of which created a new candle
	Total   int // active timeframes at ingest time
	Failed  []TimeframeFailure
}

// OK reports whether every timeframe was applied.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// Summary renders e.g. "3 of 4 timeframes updated (failed: 1hour)".
func (r *Result) Summary() string {
	s := fmt.Sprintf("%d of %d timeframes updated", r.Updated, r.Total)
	if len(r.Failed) == 0 {
		return s
	}
	names := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		names[i] = f.Timeframe
	}
	return s + " (failed: " + strings.Join(names, ", ") + ")"
}
