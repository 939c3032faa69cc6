package domain

// TimeframeConfig is a named aggregation interval.
// Corresponds to timeframes table in PostgreSQL.
type TimeframeConfig struct {
	ID              int64  // BIGSERIAL primary key
	Name            string // unique name, e.g. "5min"
	IntervalMinutes int    // bucket length in minutes
	Description     string
	IsActive        bool
	SortOrder       int // fan-out order within a tick
}

// IntervalMillis returns the bucket length in milliseconds.
func (tf TimeframeConfig) IntervalMillis() int64 {
	return int64(tf.IntervalMinutes) * 60_000
}

// Well-known timeframe names
const (
	Timeframe1Min  = "1min"
	Timeframe5Min  = "5min"
	Timeframe15Min = "15min"
	Timeframe1Hour = "1hour"
	Timeframe1Day  = "1day"
)
