package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCandle_Recompute(t *testing.T) {
	c := &Candle{Open: 100, High: 110, Low: 95, Close: 105}
	c.Recompute()

	if !approx(c.TypicalPrice, (110.0+95+105)/3) {
		t.Errorf("TypicalPrice: got %v", c.TypicalPrice)
	}
	if !approx(c.WeightedPrice, (110.0+95+105+105)/4) {
		t.Errorf("WeightedPrice: got %v", c.WeightedPrice)
	}
	if !approx(c.PriceChange, 5) {
		t.Errorf("PriceChange: got %v", c.PriceChange)
	}
	if !approx(c.PriceChangePercent, 5) {
		t.Errorf("PriceChangePercent: got %v", c.PriceChangePercent)
	}
	if !approx(c.UpperShadow, 5) {
		t.Errorf("UpperShadow: got %v", c.UpperShadow)
	}
	if !approx(c.LowerShadow, 5) {
		t.Errorf("LowerShadow: got %v", c.LowerShadow)
	}
	if !approx(c.BodySize, 5) {
		t.Errorf("BodySize: got %v", c.BodySize)
	}
	if !approx(c.TotalRange, 15) {
		t.Errorf("TotalRange: got %v", c.TotalRange)
	}
}

func TestCandle_Recompute_BearishBody(t *testing.T) {
	c := &Candle{Open: 105, High: 110, Low: 95, Close: 100}
	c.Recompute()

	if !approx(c.PriceChange, -5) || !approx(c.BodySize, 5) {
		t.Errorf("change/body: got %v/%v", c.PriceChange, c.BodySize)
	}
	if !approx(c.UpperShadow, 5) || !approx(c.LowerShadow, 5) {
		t.Errorf("shadows: got %v/%v", c.UpperShadow, c.LowerShadow)
	}
}

func TestCandle_Recompute_ZeroOpen(t *testing.T) {
	c := &Candle{Open: 0, High: 1, Low: 0, Close: 1}
	c.Recompute()

	if c.PriceChangePercent != 0 {
		t.Errorf("expected 0 percent for zero open, got %v", c.PriceChangePercent)
	}
}

func TestCandle_Validate(t *testing.T) {
	valid := Candle{Open: 100, High: 110, Low: 90, Close: 105, Volume: 10}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	c := valid
	c.High = 104
	if err := c.Validate(); !errors.Is(err, ErrInvalidCandle) {
		t.Errorf("expected ErrInvalidCandle for low high, got %v", err)
	}

	c = valid
	c.Low = 101
	if err := c.Validate(); !errors.Is(err, ErrInvalidCandle) {
		t.Errorf("expected ErrInvalidCandle for high low, got %v", err)
	}

	c = valid
	c.Volume = -1
	if err := c.Validate(); !errors.Is(err, ErrInvalidCandle) {
		t.Errorf("expected ErrInvalidCandle for negative volume, got %v", err)
	}
}

func TestCandle_CloneIsIndependent(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	c := &Candle{InstrumentID: "x", Timestamp: start, Close: 1}
	cp := c.Clone()
	cp.Close = 2

	if c.Close != 1 {
		t.Errorf("clone mutated original")
	}
	if !cp.End(5 * time.Minute).Equal(start.Add(5 * time.Minute)) {
		t.Errorf("unexpected end %v", cp.End(5*time.Minute))
	}
}

func TestRawTick_Price(t *testing.T) {
	if p := (RawTick{LTP: 10, Close: 9}).Price(); p != 10 {
		t.Errorf("expected LTP, got %v", p)
	}
	if p := (RawTick{Close: 9}).Price(); p != 9 {
		t.Errorf("expected close fallback, got %v", p)
	}
}

func TestInstrument_PriceStep(t *testing.T) {
	var nilInst *Instrument
	if nilInst.PriceStep() != DefaultPriceStep {
		t.Errorf("nil instrument should use default step")
	}
	ts := 0.05
	inst := &Instrument{TickSize: &ts}
	if inst.PriceStep() != 0.05 {
		t.Errorf("expected 0.05, got %v", inst.PriceStep())
	}
	zero := 0.0
	inst.TickSize = &zero
	if inst.PriceStep() != DefaultPriceStep {
		t.Errorf("zero tick size should use default step")
	}
}
