package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// TickArchive is an in-memory implementation of storage.TickArchive.
type TickArchive struct {
	mu   sync.RWMutex
	data map[string][]*domain.Tick // keyed by symbol
}

// NewTickArchive creates a new in-memory tick archive.
func NewTickArchive() *TickArchive {
	return &TickArchive{
		data: make(map[string][]*domain.Tick),
	}
}

// InsertBatch appends ticks for a symbol.
func (a *TickArchive) InsertBatch(_ context.Context, symbol string, ticks []*domain.Tick) error {
	if symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(ticks) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range ticks {
		if t == nil {
			return storage.ErrInvalidInput
		}
		cp := *t
		a.data[symbol] = append(a.data[symbol], &cp)
	}
	return nil
}

// GetByTimeRange retrieves archived ticks within [from, to), ordered by timestamp.
func (a *TickArchive) GetByTimeRange(_ context.Context, symbol string, from, to time.Time) ([]*domain.Tick, error) {
	a.mu.RLock()
	var result []*domain.Tick
	for _, t := range a.data[symbol] {
		if t.Timestamp.Before(from) || !t.Timestamp.Before(to) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	a.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// DeleteOlderThan removes archived ticks with timestamp < cutoff.
func (a *TickArchive) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var deleted int64
	for symbol, ticks := range a.data {
		kept := ticks[:0]
		for _, t := range ticks {
			if t.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, t)
		}
		a.data[symbol] = kept
	}
	return deleted, nil
}

var _ storage.TickArchive = (*TickArchive)(nil)
