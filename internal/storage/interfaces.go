package storage

import (
	"context"
	"time"

	"candle-engine/internal/domain"
)

// InstrumentStore provides access to instruments storage.
type InstrumentStore interface {
	// GetBySymbol retrieves an instrument by symbol. Returns ErrNotFound if not exists.
	GetBySymbol(ctx context.Context, symbol string) (*domain.Instrument, error)

	// Create adds a new instrument. Returns ErrDuplicateKey if the symbol exists.
	// Assigns ID and CreatedAt when unset.
	Create(ctx context.Context, inst *domain.Instrument) error
}

// TickStore provides access to ticks storage. Ticks are append-only.
type TickStore interface {
	// Insert adds a tick and assigns its ID.
	Insert(ctx context.Context, t *domain.Tick) error

	// GetByTimeRange retrieves ticks within [from, to), ordered by (timestamp, id) ASC.
	GetByTimeRange(ctx context.Context, instrumentID string, from, to time.Time) ([]*domain.Tick, error)

	// GetAfterID retrieves ticks within [from, to) with id > afterID,
	// ordered by (timestamp, id) ASC.
	GetAfterID(ctx context.Context, instrumentID string, from, to time.Time, afterID int64) ([]*domain.Tick, error)

	// GetLatest retrieves the most recent tick. Returns ErrNotFound if none.
	GetLatest(ctx context.Context, instrumentID string) (*domain.Tick, error)

	// Count returns the number of ticks stored for an instrument.
	Count(ctx context.Context, instrumentID string) (int64, error)

	// DeleteOlderThan removes ticks with timestamp < cutoff across all instruments.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CandleStore provides access to candles storage.
// Natural key: (instrument_id, timeframe_id, timestamp).
type CandleStore interface {
	// Get retrieves the candle for a bucket. Returns ErrNotFound if not exists.
	Get(ctx context.Context, instrumentID string, timeframeID int64, bucketStart time.Time) (*domain.Candle, error)

	// Insert creates a candle. Returns ErrDuplicateKey if the bucket already has one.
	Insert(ctx context.Context, c *domain.Candle) error

	// Upsert atomically writes the candle, replacing any existing row for its key.
	// Returns the stored candle.
	Upsert(ctx context.Context, c *domain.Candle) (*domain.Candle, error)

	// GetRange retrieves candles with bucket start within [from, to),
	// ordered by timestamp DESC and bounded by limit.
	GetRange(ctx context.Context, instrumentID string, timeframeID int64, from, to time.Time, limit int) ([]*domain.Candle, error)

	// GetLatest retrieves the candle with the greatest bucket start. Returns ErrNotFound if none.
	GetLatest(ctx context.Context, instrumentID string, timeframeID int64) (*domain.Candle, error)

	// Count returns the number of candles for an instrument at a timeframe.
	Count(ctx context.Context, instrumentID string, timeframeID int64) (int64, error)

	// DeleteOlderThan removes candles of a timeframe with bucket start < cutoff.
	DeleteOlderThan(ctx context.Context, timeframeID int64, cutoff time.Time) (int64, error)
}

// TimeframeStore provides access to timeframes storage.
type TimeframeStore interface {
	// ListActive retrieves active timeframes ordered by sort_order.
	ListActive(ctx context.Context) ([]domain.TimeframeConfig, error)

	// GetByName retrieves a timeframe by name. Returns ErrNotFound if not exists.
	GetByName(ctx context.Context, name string) (*domain.TimeframeConfig, error)

	// Insert adds a timeframe and assigns its ID. Returns ErrDuplicateKey if the name exists.
	Insert(ctx context.Context, tf *domain.TimeframeConfig) error
}

// TickArchive is an append-only secondary copy of raw ticks keyed by symbol.
type TickArchive interface {
	// InsertBatch appends ticks for a symbol.
	InsertBatch(ctx context.Context, symbol string, ticks []*domain.Tick) error

	// GetByTimeRange retrieves archived ticks within [from, to), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, from, to time.Time) ([]*domain.Tick, error)

	// DeleteOlderThan removes archived ticks with timestamp < cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
