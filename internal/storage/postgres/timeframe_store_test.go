package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

func TestTimeframeStore_SeededAndInsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTimeframeStore(pool)
	ctx := context.Background()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 5)
	assert.Equal(t, domain.Timeframe1Min, active[0].Name)
	assert.Equal(t, domain.Timeframe1Day, active[4].Name)

	tf := &domain.TimeframeConfig{Name: "30min", IntervalMinutes: 30, IsActive: false, SortOrder: 6}
	require.NoError(t, store.Insert(ctx, tf))
	assert.NotZero(t, tf.ID)

	err = store.Insert(ctx, &domain.TimeframeConfig{Name: "30min", IntervalMinutes: 30})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 5)

	_, err = store.GetByName(ctx, "2min")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
