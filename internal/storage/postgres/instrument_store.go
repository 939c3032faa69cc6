package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// InstrumentStore implements storage.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *Pool
}

// NewInstrumentStore creates a new InstrumentStore.
func NewInstrumentStore(pool *Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.InstrumentStore = (*InstrumentStore)(nil)

// GetBySymbol retrieves an instrument by symbol. Returns ErrNotFound if not exists.
func (s *InstrumentStore) GetBySymbol(ctx context.Context, symbol string) (*domain.Instrument, error) {
	query := `
		SELECT id, symbol, exchange, instrument_type, lot_size, tick_size, created_at
		FROM instruments
		WHERE symbol = $1
	`

	var inst domain.Instrument
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, symbol).Scan(
		&id,
		&inst.Symbol,
		&inst.Exchange,
		&inst.InstrumentType,
		&inst.LotSize,
		&inst.TickSize,
		&inst.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get instrument by symbol: %w", err)
	}
	inst.ID = id.String()
	inst.CreatedAt = inst.CreatedAt.UTC()
	return &inst, nil
}

// Create adds a new instrument. Returns ErrDuplicateKey if the symbol exists.
func (s *InstrumentStore) Create(ctx context.Context, inst *domain.Instrument) error {
	if inst == nil || inst.Symbol == "" {
		return storage.ErrInvalidInput
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	id, err := uuid.Parse(inst.ID)
	if err != nil {
		return fmt.Errorf("%w: instrument id: %v", storage.ErrInvalidInput, err)
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO instruments (id, symbol, exchange, instrument_type, lot_size, tick_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		id,
		inst.Symbol,
		inst.Exchange,
		inst.InstrumentType,
		inst.LotSize,
		inst.TickSize,
		inst.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert instrument: %w", err)
	}
	return nil
}
