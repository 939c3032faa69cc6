package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"candle-engine/internal/domain"
	"candle-engine/internal/query"
	"candle-engine/internal/storage/memory"
	"candle-engine/internal/timeframe"
)

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	from, to, err := parseRange("", "", now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-24*time.Hour), from)

	from, to, err = parseRange("2024-03-14T00:00:00Z", "2024-03-14T06:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, to.Sub(from))

	_, _, err = parseRange("yesterday", "", now)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"1min", "5min"}, splitList(" 1min, ,5min "))
	assert.Nil(t, splitList(""))
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	reg, err := timeframe.NewStaticRegistry(timeframe.DefaultTimeframes())
	require.NoError(t, err)
	instruments := memory.NewInstrumentStore()
	candles := memory.NewCandleStore()
	inst := &domain.Instrument{Symbol: "NIFTY"}
	require.NoError(t, instruments.Create(ctx, inst))

	tf, err := reg.ByName(domain.Timeframe1Min)
	require.NoError(t, err)
	c := &domain.Candle{InstrumentID: inst.ID, TimeframeID: tf.ID, Timestamp: now.Add(-time.Hour), Open: 1, High: 2, Low: 1, Close: 2, Volume: 3}
	c.Recompute()
	require.NoError(t, candles.Insert(ctx, c))

	svc := query.NewService(instruments, memory.NewTickStore(), candles, reg, zap.NewNop())

	got, err := execute(ctx, svc, options{op: "range", symbol: "NIFTY", timeframe: "1min", limit: 10}, now)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = execute(ctx, svc, options{op: "profile", symbol: "NIFTY", timeframe: "1min", date: "2024-03-15"}, now)
	require.NoError(t, err)
	assert.Equal(t, []query.VolumeLevel{{PriceLevel: 2, Volume: 3, IsPointOfControl: true}}, got)

	_, err = execute(ctx, svc, options{op: "explode", symbol: "NIFTY"}, now)
	assert.Error(t, err)
}
