package memory

import (
	"context"
	"sort"
	"sync"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// TimeframeStore is an in-memory implementation of storage.TimeframeStore.
type TimeframeStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[string]domain.TimeframeConfig // keyed by name
}

// NewTimeframeStore creates a new in-memory timeframe store.
func NewTimeframeStore() *TimeframeStore {
	return &TimeframeStore{
		data: make(map[string]domain.TimeframeConfig),
	}
}

// ListActive retrieves active timeframes ordered by sort order.
func (s *TimeframeStore) ListActive(_ context.Context) ([]domain.TimeframeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TimeframeConfig, 0, len(s.data))
	for _, tf := range s.data {
		if tf.IsActive {
			result = append(result, tf)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SortOrder != result[j].SortOrder {
			return result[i].SortOrder < result[j].SortOrder
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetByName retrieves a timeframe by name.
func (s *TimeframeStore) GetByName(_ context.Context, name string) (*domain.TimeframeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tf, ok := s.data[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &tf, nil
}

// Insert adds a timeframe and assigns its ID.
func (s *TimeframeStore) Insert(_ context.Context, tf *domain.TimeframeConfig) error {
	if tf == nil || tf.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[tf.Name]; exists {
		return storage.ErrDuplicateKey
	}
	s.nextID++
	tf.ID = s.nextID
	s.data[tf.Name] = *tf
	return nil
}

var _ storage.TimeframeStore = (*TimeframeStore)(nil)
