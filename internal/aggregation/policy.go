package aggregation

import "fmt"

// UpdatePolicy selects how an existing candle absorbs new ticks.
type UpdatePolicy string

const (
	// PolicyRangeFold folds every persisted tick of the bucket that the
	// candle has not seen yet (id > LastTickID), in (timestamp, id) order.
	// Late ticks extend high, low and volume but never rewind close.
	PolicyRangeFold UpdatePolicy = "range_fold"

	// PolicySingleTick folds only the incoming tick. Requires in-order
	// delivery with a single writer per instrument; an older tick is rejected.
	PolicySingleTick UpdatePolicy = "single_tick"
)

// ParsePolicy parses a policy name. Empty selects PolicyRangeFold.
func ParsePolicy(s string) (UpdatePolicy, error) {
	switch UpdatePolicy(s) {
	case "", PolicyRangeFold:
		return PolicyRangeFold, nil
	case PolicySingleTick:
		return PolicySingleTick, nil
	default:
		return "", fmt.Errorf("unknown update policy %q", s)
	}
}
