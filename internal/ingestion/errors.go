package ingestion

import "errors"

var (
	// ErrValidation is returned for malformed raw ticks. Nothing is persisted.
	ErrValidation = errors.New("tick validation failed")

	// ErrPersistTick is returned when the raw tick cannot be stored. No candle
	// is touched for that tick.
	ErrPersistTick = errors.New("persist tick")

	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)
