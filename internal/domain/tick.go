package domain

import "time"

// Tick represents a single persisted price/volume update for an instrument.
// Corresponds to ticks table in PostgreSQL. Ticks are append-only.
type Tick struct {
	ID            int64     // BIGSERIAL primary key, assigned by the store
	InstrumentID  string    // FK to instruments
	Timestamp     time.Time // UTC, millisecond precision
	LTP           float64   // last traded price, the canonical tick price
	Volume        float64   // volume carried by this update, treated as additive
	Change        float64   // feed-reported absolute change
	ChangePercent float64   // feed-reported percent change
}

// RawTick is the feed-level tick shape before instrument resolution.
// Either LTP or Close carries the price; Price resolves which.
type RawTick struct {
	Symbol         string    `json:"symbol" validate:"required,max=64"`
	Exchange       string    `json:"exchange" validate:"omitempty,max=32"`
	InstrumentType string    `json:"instrument_type" validate:"omitempty,max=16"`
	Timestamp      time.Time `json:"-" validate:"required"`
	LTP            float64   `json:"ltp" validate:"gte=0"`
	Close          float64   `json:"close" validate:"gte=0"`
	Volume         float64   `json:"volume" validate:"gte=0"`
	Change         float64   `json:"change"`
	ChangePercent  float64   `json:"change_percent"`
}

// Price returns the canonical tick price: LTP, or Close when LTP is unset.
func (r RawTick) Price() float64 {
	if r.LTP > 0 {
		return r.LTP
	}
	return r.Close
}
