package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by instrument|timeframe|bucket ms
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

// candleKey generates the natural key for a candle.
func candleKey(instrumentID string, timeframeID int64, bucketStart time.Time) string {
	return fmt.Sprintf("%s|%d|%d", instrumentID, timeframeID, bucketStart.UnixMilli())
}

// Get retrieves the candle for a bucket.
func (s *CandleStore) Get(_ context.Context, instrumentID string, timeframeID int64, bucketStart time.Time) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[candleKey(instrumentID, timeframeID, bucketStart)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// Insert creates a candle. Returns ErrDuplicateKey if the bucket already has one.
func (s *CandleStore) Insert(_ context.Context, c *domain.Candle) error {
	if c == nil || c.InstrumentID == "" {
		return storage.ErrInvalidInput
	}

	key := candleKey(c.InstrumentID, c.TimeframeID, c.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.data[key] = c.Clone()
	return nil
}

// Upsert writes the candle under the store lock, preserving CreatedAt of an existing row.
func (s *CandleStore) Upsert(_ context.Context, c *domain.Candle) (*domain.Candle, error) {
	if c == nil || c.InstrumentID == "" {
		return nil, storage.ErrInvalidInput
	}

	key := candleKey(c.InstrumentID, c.TimeframeID, c.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := c.Clone()
	now := time.Now().UTC()
	if existing, ok := s.data[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.data[key] = stored
	return stored.Clone(), nil
}

// GetRange retrieves candles with bucket start in [from, to), newest first.
func (s *CandleStore) GetRange(_ context.Context, instrumentID string, timeframeID int64, from, to time.Time, limit int) ([]*domain.Candle, error) {
	s.mu.RLock()
	var result []*domain.Candle
	for _, c := range s.data {
		if c.InstrumentID != instrumentID || c.TimeframeID != timeframeID {
			continue
		}
		if c.Timestamp.Before(from) || !c.Timestamp.Before(to) {
			continue
		}
		result = append(result, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetLatest retrieves the candle with the greatest bucket start.
func (s *CandleStore) GetLatest(_ context.Context, instrumentID string, timeframeID int64) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Candle
	for _, c := range s.data {
		if c.InstrumentID != instrumentID || c.TimeframeID != timeframeID {
			continue
		}
		if latest == nil || c.Timestamp.After(latest.Timestamp) {
			latest = c
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest.Clone(), nil
}

// Count returns the number of candles for an instrument at a timeframe.
func (s *CandleStore) Count(_ context.Context, instrumentID string, timeframeID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.data {
		if c.InstrumentID == instrumentID && c.TimeframeID == timeframeID {
			n++
		}
	}
	return n, nil
}

// DeleteOlderThan removes candles of a timeframe with bucket start < cutoff.
func (s *CandleStore) DeleteOlderThan(_ context.Context, timeframeID int64, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, c := range s.data {
		if c.TimeframeID == timeframeID && c.Timestamp.Before(cutoff) {
			delete(s.data, key)
			deleted++
		}
	}
	return deleted, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
