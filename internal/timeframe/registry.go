// Package timeframe holds the set of candle timeframes the engine maintains.
package timeframe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"candle-engine/internal/bucket"
	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// ErrUnknownTimeframe is returned for names not present in the registry.
var ErrUnknownTimeframe = fmt.Errorf("unknown timeframe: %w", storage.ErrNotFound)

// DefaultTimeframes returns the administrative seed list.
func DefaultTimeframes() []domain.TimeframeConfig {
	return []domain.TimeframeConfig{
		{Name: domain.Timeframe1Min, IntervalMinutes: 1, Description: "1 minute", IsActive: true, SortOrder: 1},
		{Name: domain.Timeframe5Min, IntervalMinutes: 5, Description: "5 minutes", IsActive: true, SortOrder: 2},
		{Name: domain.Timeframe15Min, IntervalMinutes: 15, Description: "15 minutes", IsActive: true, SortOrder: 3},
		{Name: domain.Timeframe1Hour, IntervalMinutes: 60, Description: "1 hour", IsActive: true, SortOrder: 4},
		{Name: domain.Timeframe1Day, IntervalMinutes: 1440, Description: "1 day", IsActive: true, SortOrder: 5},
	}
}

// Registry is a read-mostly snapshot of active timeframes.
// Safe for concurrent use; Refresh swaps the snapshot atomically.
type Registry struct {
	store  storage.TimeframeStore
	logger *zap.Logger

	mu     sync.RWMutex
	active []domain.TimeframeConfig
	byName map[string]domain.TimeframeConfig
}

// NewRegistry creates a registry backed by store. Call Refresh to load it.
func NewRegistry(store storage.TimeframeStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		logger: logger,
		byName: make(map[string]domain.TimeframeConfig),
	}
}

// NewStaticRegistry creates a registry over a fixed list, with no backing store.
// Timeframes without an ID get their 1-based list position. Timeframes with
// invalid intervals are rejected.
func NewStaticRegistry(tfs []domain.TimeframeConfig) (*Registry, error) {
	r := NewRegistry(nil, nil)
	list := make([]domain.TimeframeConfig, len(tfs))
	for i, tf := range tfs {
		if tf.ID == 0 {
			tf.ID = int64(i + 1)
		}
		list[i] = tf
	}
	if err := r.load(list); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads active timeframes from the backing store.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	tfs, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active timeframes: %w", err)
	}
	if err := r.load(tfs); err != nil {
		return err
	}
	r.logger.Info("timeframes loaded", zap.Int("count", len(tfs)))
	return nil
}

func (r *Registry) load(tfs []domain.TimeframeConfig) error {
	active := make([]domain.TimeframeConfig, 0, len(tfs))
	byName := make(map[string]domain.TimeframeConfig, len(tfs))
	for _, tf := range tfs {
		if err := bucket.Validate(tf.IntervalMinutes); err != nil {
			return fmt.Errorf("timeframe %q: %w", tf.Name, err)
		}
		if !tf.IsActive {
			continue
		}
		if _, dup := byName[tf.Name]; dup {
			return fmt.Errorf("timeframe %q: %w", tf.Name, storage.ErrDuplicateKey)
		}
		active = append(active, tf)
		byName[tf.Name] = tf
	}

	sort.Slice(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if a.IntervalMinutes != b.IntervalMinutes {
			return a.IntervalMinutes < b.IntervalMinutes
		}
		return a.Name < b.Name
	})

	r.mu.Lock()
	r.active = active
	r.byName = byName
	r.mu.Unlock()
	return nil
}

// ListActive returns active timeframes in fan-out order.
func (r *Registry) ListActive() []domain.TimeframeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TimeframeConfig, len(r.active))
	copy(out, r.active)
	return out
}

// ByName resolves an active timeframe by name.
func (r *Registry) ByName(name string) (domain.TimeframeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tf, ok := r.byName[name]
	if !ok {
		return domain.TimeframeConfig{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, name)
	}
	return tf, nil
}

// Seed inserts any of tfs missing from store. Existing rows are left untouched.
func Seed(ctx context.Context, store storage.TimeframeStore, tfs []domain.TimeframeConfig) (int, error) {
	created := 0
	for i := range tfs {
		tf := tfs[i]
		if err := bucket.Validate(tf.IntervalMinutes); err != nil {
			return created, fmt.Errorf("seed timeframe %q: %w", tf.Name, err)
		}
		if _, err := store.GetByName(ctx, tf.Name); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return created, fmt.Errorf("get timeframe %q: %w", tf.Name, err)
		}
		if err := store.Insert(ctx, &tf); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			return created, fmt.Errorf("insert timeframe %q: %w", tf.Name, err)
		}
		created++
	}
	return created, nil
}
