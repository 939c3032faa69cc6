package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

func TestInstrumentStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewInstrumentStore(pool)
	ctx := context.Background()

	inst := &domain.Instrument{
		Symbol:         "NIFTY",
		Exchange:       "NSE",
		InstrumentType: domain.InstrumentTypeIndex,
		LotSize:        ptr(int64(50)),
		TickSize:       ptr(0.05),
	}
	require.NoError(t, store.Create(ctx, inst))
	require.NotEmpty(t, inst.ID)

	got, err := store.GetBySymbol(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, "NSE", got.Exchange)
	require.NotNil(t, got.LotSize)
	assert.Equal(t, int64(50), *got.LotSize)
	require.NotNil(t, got.TickSize)
	assert.InDelta(t, 0.05, *got.TickSize, 1e-12)

	err = store.Create(ctx, &domain.Instrument{Symbol: "NIFTY"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetBySymbol(ctx, "MISSING")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
