package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
	"candle-engine/internal/storage/memory"
	"candle-engine/internal/timeframe"
)

var day = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc         *Service
	instruments *memory.InstrumentStore
	ticks       *memory.TickStore
	candles     *memory.CandleStore
	registry    *timeframe.Registry
	inst        *domain.Instrument
}

func newFixture(t *testing.T, candles storage.CandleStore) *fixture {
	t.Helper()
	reg, err := timeframe.NewStaticRegistry(timeframe.DefaultTimeframes())
	require.NoError(t, err)

	f := &fixture{
		instruments: memory.NewInstrumentStore(),
		ticks:       memory.NewTickStore(),
		candles:     memory.NewCandleStore(),
		registry:    reg,
	}
	if candles == nil {
		candles = f.candles
	}
	f.inst = &domain.Instrument{Symbol: "NIFTY", Exchange: "NSE", InstrumentType: domain.InstrumentTypeIndex}
	require.NoError(t, f.instruments.Create(context.Background(), f.inst))
	f.svc = NewService(f.instruments, f.ticks, candles, reg, nil)
	return f
}

func (f *fixture) tf(t *testing.T, name string) domain.TimeframeConfig {
	t.Helper()
	tf, err := f.registry.ByName(name)
	require.NoError(t, err)
	return tf
}

func (f *fixture) candle(t *testing.T, tfName string, ts time.Time, open, closePrice, vol float64) *domain.Candle {
	t.Helper()
	c := &domain.Candle{
		InstrumentID: f.inst.ID,
		TimeframeID:  f.tf(t, tfName).ID,
		Timestamp:    ts,
		Open:         open,
		High:         max(open, closePrice),
		Low:          min(open, closePrice),
		Close:        closePrice,
		Volume:       vol,
		TickCount:    1,
		LastTickAt:   ts,
	}
	c.Recompute()
	require.NoError(t, f.candles.Insert(context.Background(), c))
	return c
}

func TestHistoricalRange_ScenarioC(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.candle(t, domain.Timeframe5Min, day.Add(time.Duration(i)*5*time.Minute), 100, 101, 1)
	}

	got, err := f.svc.HistoricalRange(ctx, "NIFTY", domain.Timeframe5Min, day, day.Add(24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day.Add(20*time.Minute), got[0].Timestamp)
	assert.Equal(t, day.Add(15*time.Minute), got[1].Timestamp)
}

func TestHistoricalRange_DefaultsAndErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.candle(t, domain.Timeframe1Min, day, 100, 101, 1)

	got, err := f.svc.HistoricalRange(ctx, "NIFTY", domain.Timeframe1Min, day, day.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.svc.HistoricalRange(ctx, "NIFTY", domain.Timeframe1Day, day, day.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.svc.HistoricalRange(ctx, "UNKNOWN", domain.Timeframe1Min, day, day.Add(time.Hour), 10)
	assert.ErrorIs(t, err, ErrInstrumentNotFound)

	_, err = f.svc.HistoricalRange(ctx, "NIFTY", "3min", day, day.Add(time.Hour), 10)
	assert.ErrorIs(t, err, timeframe.ErrUnknownTimeframe)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, clampLimit(0))
	assert.Equal(t, DefaultLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
}

// flakyCandleStore fails range reads for one timeframe id.
type flakyCandleStore struct {
	*memory.CandleStore
	failID int64
}

func (s flakyCandleStore) GetRange(ctx context.Context, instrumentID string, timeframeID int64, from, to time.Time, limit int) ([]*domain.Candle, error) {
	if timeframeID == s.failID {
		return nil, errors.New("replica lag")
	}
	return s.CandleStore.GetRange(ctx, instrumentID, timeframeID, from, to, limit)
}

func (s flakyCandleStore) GetLatest(ctx context.Context, instrumentID string, timeframeID int64) (*domain.Candle, error) {
	if timeframeID == s.failID {
		return nil, errors.New("store down")
	}
	return s.CandleStore.GetLatest(ctx, instrumentID, timeframeID)
}

func (s flakyCandleStore) Count(ctx context.Context, instrumentID string, timeframeID int64) (int64, error) {
	if timeframeID == s.failID {
		return 0, errors.New("store down")
	}
	return s.CandleStore.Count(ctx, instrumentID, timeframeID)
}

func TestMultiTimeframeRange_FailureYieldsEmpty(t *testing.T) {
	reg, err := timeframe.NewStaticRegistry(timeframe.DefaultTimeframes())
	require.NoError(t, err)
	hour, err := reg.ByName(domain.Timeframe1Hour)
	require.NoError(t, err)

	mem := memory.NewCandleStore()
	f := newFixture(t, flakyCandleStore{CandleStore: mem, failID: hour.ID})
	f.candles = mem
	ctx := context.Background()

	f.candle(t, domain.Timeframe1Min, day, 100, 101, 1)
	f.candle(t, domain.Timeframe5Min, day, 100, 101, 1)
	f.candle(t, domain.Timeframe1Hour, day, 100, 101, 1)

	got, err := f.svc.MultiTimeframeRange(ctx, "NIFTY",
		[]string{domain.Timeframe1Min, domain.Timeframe5Min, domain.Timeframe1Hour, "7min"},
		day, day.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, got[domain.Timeframe1Min], 1)
	assert.Len(t, got[domain.Timeframe5Min], 1)
	assert.NotNil(t, got[domain.Timeframe1Hour])
	assert.Empty(t, got[domain.Timeframe1Hour])
	assert.Empty(t, got["7min"])

	_, err = f.svc.MultiTimeframeRange(ctx, "UNKNOWN", []string{domain.Timeframe1Min}, day, day.Add(time.Hour), 10)
	assert.ErrorIs(t, err, ErrInstrumentNotFound)
}

func TestLatestPerTimeframe(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.candle(t, domain.Timeframe1Min, day, 100, 101, 1)
	latest := f.candle(t, domain.Timeframe1Min, day.Add(time.Minute), 101, 103, 1)

	got, err := f.svc.LatestPerTimeframe(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Len(t, got, 5)
	require.NotNil(t, got[domain.Timeframe1Min])
	assert.Equal(t, latest.Timestamp, got[domain.Timeframe1Min].Timestamp)

	c, ok := got[domain.Timeframe1Day]
	assert.True(t, ok)
	assert.Nil(t, c)
}

func TestPriceChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	summary, err := f.svc.PriceChange(ctx, "NIFTY", domain.Timeframe15Min)
	require.NoError(t, err)
	assert.Nil(t, summary)

	f.candle(t, domain.Timeframe15Min, day, 100, 110, 5)

	summary, err = f.svc.PriceChange(ctx, "NIFTY", domain.Timeframe15Min)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 100.0, summary.Open)
	assert.Equal(t, 110.0, summary.Close)
	assert.Equal(t, 10.0, summary.Change)
	assert.InDelta(t, 10.0, summary.ChangePercent, 1e-9)
}

func TestVolumeProfile_ScenarioD(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.candle(t, domain.Timeframe1Hour, day.Add(9*time.Hour), 99, 100, 20)
	f.candle(t, domain.Timeframe1Hour, day.Add(10*time.Hour), 100, 105, 120)
	f.candle(t, domain.Timeframe1Hour, day.Add(11*time.Hour), 105, 98, 30)
	f.candle(t, domain.Timeframe1Hour, day.Add(12*time.Hour), 98, 100.001, 30)
	// next day, excluded
	f.candle(t, domain.Timeframe1Hour, day.Add(25*time.Hour), 100, 105, 500)

	levels, err := f.svc.VolumeProfile(ctx, "NIFTY", domain.Timeframe1Hour, day.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.Equal(t, VolumeLevel{PriceLevel: 98, Volume: 30}, levels[0])
	assert.Equal(t, VolumeLevel{PriceLevel: 100, Volume: 50}, levels[1])
	assert.Equal(t, VolumeLevel{PriceLevel: 105, Volume: 120, IsPointOfControl: true}, levels[2])
}

func TestBuildProfile_TiesAndTickSize(t *testing.T) {
	candles := []*domain.Candle{
		{Close: 101.2, Volume: 10},
		{Close: 101.1, Volume: 10},
		{Close: 102.6, Volume: 20},
	}

	levels := buildProfile(candles, 0.5)
	require.Len(t, levels, 2)
	assert.Equal(t, 101.0, levels[0].PriceLevel)
	assert.Equal(t, 20.0, levels[0].Volume)
	assert.Equal(t, 102.5, levels[1].PriceLevel)
	assert.True(t, levels[0].IsPointOfControl)
	assert.True(t, levels[1].IsPointOfControl)

	assert.Empty(t, buildProfile(nil, 0.01))
}

func TestInstrumentStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stats, err := f.svc.InstrumentStats(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTicks)
	assert.True(t, stats.LastUpdate.IsZero())
	assert.Len(t, stats.TotalCandlesByTimeframe, 5)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.ticks.Insert(ctx, &domain.Tick{
			InstrumentID: f.inst.ID,
			Timestamp:    day.Add(time.Duration(i) * time.Second),
			LTP:          100,
			Volume:       1,
		}))
	}
	f.candle(t, domain.Timeframe1Min, day, 100, 100, 3)

	stats, err = f.svc.InstrumentStats(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTicks)
	assert.Equal(t, day.Add(2*time.Second), stats.LastUpdate)
	assert.Equal(t, int64(1), stats.TotalCandlesByTimeframe[domain.Timeframe1Min])
	assert.Zero(t, stats.TotalCandlesByTimeframe[domain.Timeframe5Min])

	_, err = f.svc.InstrumentStats(ctx, "UNKNOWN")
	assert.ErrorIs(t, err, ErrInstrumentNotFound)
}

func TestLatestPerTimeframe_FailureYieldsNil(t *testing.T) {
	reg, err := timeframe.NewStaticRegistry(timeframe.DefaultTimeframes())
	require.NoError(t, err)
	hour, err := reg.ByName(domain.Timeframe1Hour)
	require.NoError(t, err)

	mem := memory.NewCandleStore()
	f := newFixture(t, flakyCandleStore{CandleStore: mem, failID: hour.ID})
	f.candles = mem
	ctx := context.Background()

	five := f.candle(t, domain.Timeframe5Min, day, 100, 101, 1)
	f.candle(t, domain.Timeframe1Hour, day, 100, 101, 1)

	got, err := f.svc.LatestPerTimeframe(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Len(t, got, 5)
	require.NotNil(t, got[domain.Timeframe5Min])
	assert.Equal(t, five.Timestamp, got[domain.Timeframe5Min].Timestamp)

	c, ok := got[domain.Timeframe1Hour]
	assert.True(t, ok)
	assert.Nil(t, c)
}

func TestInstrumentStats_CountFailureYieldsZero(t *testing.T) {
	reg, err := timeframe.NewStaticRegistry(timeframe.DefaultTimeframes())
	require.NoError(t, err)
	hour, err := reg.ByName(domain.Timeframe1Hour)
	require.NoError(t, err)

	mem := memory.NewCandleStore()
	f := newFixture(t, flakyCandleStore{CandleStore: mem, failID: hour.ID})
	f.candles = mem
	ctx := context.Background()

	f.candle(t, domain.Timeframe1Min, day, 100, 101, 1)
	f.candle(t, domain.Timeframe1Hour, day, 100, 101, 1)

	stats, err := f.svc.InstrumentStats(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Len(t, stats.TotalCandlesByTimeframe, 5)
	assert.Equal(t, int64(1), stats.TotalCandlesByTimeframe[domain.Timeframe1Min])
	assert.Zero(t, stats.TotalCandlesByTimeframe[domain.Timeframe1Hour])
}
