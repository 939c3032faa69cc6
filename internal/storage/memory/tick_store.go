package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// TickStore is an in-memory implementation of storage.TickStore.
type TickStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[string][]*domain.Tick // keyed by instrument ID, insertion order
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{
		data: make(map[string][]*domain.Tick),
	}
}

// Insert adds a tick and assigns a monotonically increasing ID.
func (s *TickStore) Insert(_ context.Context, t *domain.Tick) error {
	if t == nil || t.InstrumentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	cp := *t
	s.data[t.InstrumentID] = append(s.data[t.InstrumentID], &cp)
	return nil
}

// GetByTimeRange retrieves ticks within [from, to), ordered by (timestamp, id).
func (s *TickStore) GetByTimeRange(ctx context.Context, instrumentID string, from, to time.Time) ([]*domain.Tick, error) {
	return s.GetAfterID(ctx, instrumentID, from, to, 0)
}

// GetAfterID retrieves ticks within [from, to) with id > afterID, ordered by (timestamp, id).
func (s *TickStore) GetAfterID(_ context.Context, instrumentID string, from, to time.Time, afterID int64) ([]*domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Tick
	for _, t := range s.data[instrumentID] {
		if t.ID <= afterID || t.Timestamp.Before(from) || !t.Timestamp.Before(to) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}

	sortTicks(result)
	return result, nil
}

// GetLatest retrieves the tick with the greatest (timestamp, id).
func (s *TickStore) GetLatest(_ context.Context, instrumentID string) (*domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Tick
	for _, t := range s.data[instrumentID] {
		if latest == nil || tickLess(latest, t) {
			latest = t
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// Count returns the number of ticks for an instrument.
func (s *TickStore) Count(_ context.Context, instrumentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.data[instrumentID])), nil
}

// DeleteOlderThan removes ticks with timestamp < cutoff.
func (s *TickStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, ticks := range s.data {
		kept := ticks[:0]
		for _, t := range ticks {
			if t.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(s.data, id)
			continue
		}
		s.data[id] = kept
	}
	return deleted, nil
}

func tickLess(a, b *domain.Tick) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

func sortTicks(ticks []*domain.Tick) {
	sort.Slice(ticks, func(i, j int) bool {
		return tickLess(ticks[i], ticks[j])
	})
}

var _ storage.TickStore = (*TickStore)(nil)
