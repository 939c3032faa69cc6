package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Candle is one OHLCV bar for an instrument at one timeframe.
// Corresponds to candles table in PostgreSQL.
// Primary key: (instrument_id, timeframe_id, timestamp).
type Candle struct {
	InstrumentID string
	TimeframeID  int64
	Timestamp    time.Time // bucket start, UTC

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	TickCount  int64     // ticks folded into this candle
	LastTickAt time.Time // timestamp of the latest folded tick
	LastTickID int64     // highest tick id folded, 0 when unknown

	// Derived fields, always recomputed from OHLC by Recompute.
	TypicalPrice       float64
	WeightedPrice      float64
	PriceChange        float64
	PriceChangePercent float64
	UpperShadow        float64
	LowerShadow        float64
	BodySize           float64
	TotalRange         float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrInvalidCandle is returned by Validate when OHLC bounds do not hold.
var ErrInvalidCandle = errors.New("invalid candle")

// Recompute refreshes every derived field from the current OHLC values.
func (c *Candle) Recompute() {
	c.TypicalPrice = (c.High + c.Low + c.Close) / 3
	c.WeightedPrice = (c.High + c.Low + c.Close + c.Close) / 4
	c.PriceChange = c.Close - c.Open
	if c.Open != 0 {
		c.PriceChangePercent = c.PriceChange / c.Open * 100
	} else {
		c.PriceChangePercent = 0
	}
	c.UpperShadow = c.High - math.Max(c.Open, c.Close)
	c.LowerShadow = math.Min(c.Open, c.Close) - c.Low
	c.BodySize = math.Abs(c.PriceChange)
	c.TotalRange = c.High - c.Low
}

// Validate checks the OHLC envelope: high bounds open and close from above,
// low bounds them from below, volume is non-negative.
func (c *Candle) Validate() error {
	switch {
	case c.High < math.Max(c.Open, c.Close):
		return fmt.Errorf("%w: high %v below max(open %v, close %v)", ErrInvalidCandle, c.High, c.Open, c.Close)
	case c.Low > math.Min(c.Open, c.Close):
		return fmt.Errorf("%w: low %v above min(open %v, close %v)", ErrInvalidCandle, c.Low, c.Open, c.Close)
	case c.Volume < 0:
		return fmt.Errorf("%w: negative volume %v", ErrInvalidCandle, c.Volume)
	}
	return nil
}

// End returns the exclusive bucket end for the given interval.
func (c *Candle) End(interval time.Duration) time.Time {
	return c.Timestamp.Add(interval)
}

// Clone returns a copy safe to mutate independently.
func (c *Candle) Clone() *Candle {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
