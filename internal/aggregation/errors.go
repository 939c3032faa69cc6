package aggregation

import "errors"

var (
	// ErrInvalidTick is returned for ticks with a non-finite or non-positive
	// price, or a negative volume. Nothing is read or written.
	ErrInvalidTick = errors.New("invalid tick")

	// ErrConsistency is returned when applying a tick would corrupt a candle:
	// the tick lies outside the candle's bucket, arrives out of order under
	// the single-tick policy, or the result breaks the OHLC envelope.
	ErrConsistency = errors.New("candle consistency violation")
)
