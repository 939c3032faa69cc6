package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// InstrumentStore is an in-memory implementation of storage.InstrumentStore.
type InstrumentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Instrument // keyed by symbol
}

// NewInstrumentStore creates a new in-memory instrument store.
func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{
		data: make(map[string]*domain.Instrument),
	}
}

// GetBySymbol retrieves an instrument by symbol.
func (s *InstrumentStore) GetBySymbol(_ context.Context, symbol string) (*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.data[symbol]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

// Create adds a new instrument. Returns ErrDuplicateKey if the symbol exists.
func (s *InstrumentStore) Create(_ context.Context, inst *domain.Instrument) error {
	if inst == nil || inst.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[inst.Symbol]; exists {
		return storage.ErrDuplicateKey
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	cp := *inst
	s.data[inst.Symbol] = &cp
	return nil
}

var _ storage.InstrumentStore = (*InstrumentStore)(nil)
