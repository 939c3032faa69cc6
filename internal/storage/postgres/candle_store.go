package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
// Natural key is the primary key (instrument_id, timeframe_id, timestamp).
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

const candleColumns = `
	instrument_id::text, timeframe_id, timestamp,
	open, high, low, close, volume,
	tick_count, last_tick_at, last_tick_id,
	typical_price, weighted_price, price_change, price_change_percent,
	upper_shadow, lower_shadow, body_size, total_range,
	created_at, updated_at`

const candleInsertColumns = `
	instrument_id, timeframe_id, timestamp,
	open, high, low, close, volume,
	tick_count, last_tick_at, last_tick_id,
	typical_price, weighted_price, price_change, price_change_percent,
	upper_shadow, lower_shadow, body_size, total_range,
	created_at, updated_at`

const candlePlaceholders = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21`

func candleArgs(c *domain.Candle) []any {
	return []any{
		c.InstrumentID, c.TimeframeID, c.Timestamp,
		c.Open, c.High, c.Low, c.Close, c.Volume,
		c.TickCount, c.LastTickAt, c.LastTickID,
		c.TypicalPrice, c.WeightedPrice, c.PriceChange, c.PriceChangePercent,
		c.UpperShadow, c.LowerShadow, c.BodySize, c.TotalRange,
		c.CreatedAt, c.UpdatedAt,
	}
}

// Get retrieves the candle for a bucket. Returns ErrNotFound if not exists.
func (s *CandleStore) Get(ctx context.Context, instrumentID string, timeframeID int64, bucketStart time.Time) (*domain.Candle, error) {
	query := `
		SELECT ` + candleColumns + `
		FROM candles
		WHERE instrument_id = $1 AND timeframe_id = $2 AND timestamp = $3
	`

	rows, err := s.pool.Query(ctx, query, instrumentID, timeframeID, bucketStart)
	if err != nil {
		return nil, fmt.Errorf("get candle: %w", err)
	}
	defer rows.Close()

	return scanOneCandle(rows)
}

// Insert creates a candle. Returns ErrDuplicateKey if the bucket already has one.
func (s *CandleStore) Insert(ctx context.Context, c *domain.Candle) error {
	if c == nil || c.InstrumentID == "" {
		return storage.ErrInvalidInput
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `INSERT INTO candles (` + candleInsertColumns + `) VALUES (` + candlePlaceholders + `)`

	_, err := s.pool.Exec(ctx, query, candleArgs(c)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candle: %w", err)
	}
	return nil
}

// Upsert writes the candle in a single statement. An existing row keeps its
// created_at and takes every other column from c.
func (s *CandleStore) Upsert(ctx context.Context, c *domain.Candle) (*domain.Candle, error) {
	if c == nil || c.InstrumentID == "" {
		return nil, storage.ErrInvalidInput
	}
	now := time.Now().UTC()
	stored := c.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	query := `
		INSERT INTO candles (` + candleInsertColumns + `)
		VALUES (` + candlePlaceholders + `)
		ON CONFLICT (instrument_id, timeframe_id, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			tick_count = EXCLUDED.tick_count,
			last_tick_at = EXCLUDED.last_tick_at,
			last_tick_id = EXCLUDED.last_tick_id,
			typical_price = EXCLUDED.typical_price,
			weighted_price = EXCLUDED.weighted_price,
			price_change = EXCLUDED.price_change,
			price_change_percent = EXCLUDED.price_change_percent,
			upper_shadow = EXCLUDED.upper_shadow,
			lower_shadow = EXCLUDED.lower_shadow,
			body_size = EXCLUDED.body_size,
			total_range = EXCLUDED.total_range,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + candleColumns

	rows, err := s.pool.Query(ctx, query, candleArgs(stored)...)
	if err != nil {
		return nil, fmt.Errorf("upsert candle: %w", err)
	}
	defer rows.Close()

	return scanOneCandle(rows)
}

// GetRange retrieves candles with bucket start in [from, to), newest first.
func (s *CandleStore) GetRange(ctx context.Context, instrumentID string, timeframeID int64, from, to time.Time, limit int) ([]*domain.Candle, error) {
	query := `
		SELECT ` + candleColumns + `
		FROM candles
		WHERE instrument_id = $1 AND timeframe_id = $2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp DESC
		LIMIT $5
	`

	rows, err := s.pool.Query(ctx, query, instrumentID, timeframeID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("get candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLatest retrieves the candle with the greatest bucket start.
func (s *CandleStore) GetLatest(ctx context.Context, instrumentID string, timeframeID int64) (*domain.Candle, error) {
	query := `
		SELECT ` + candleColumns + `
		FROM candles
		WHERE instrument_id = $1 AND timeframe_id = $2
		ORDER BY timestamp DESC
		LIMIT 1
	`

	rows, err := s.pool.Query(ctx, query, instrumentID, timeframeID)
	if err != nil {
		return nil, fmt.Errorf("get latest candle: %w", err)
	}
	defer rows.Close()

	return scanOneCandle(rows)
}

// Count returns the number of candles for an instrument at a timeframe.
func (s *CandleStore) Count(ctx context.Context, instrumentID string, timeframeID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM candles WHERE instrument_id = $1 AND timeframe_id = $2`,
		instrumentID, timeframeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes candles of a timeframe with bucket start < cutoff.
func (s *CandleStore) DeleteOlderThan(ctx context.Context, timeframeID int64, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM candles WHERE timeframe_id = $1 AND timestamp < $2`,
		timeframeID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old candles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOneCandle(rows pgx.Rows) (*domain.Candle, error) {
	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return candles[0], nil
}

// scanCandles scans multiple rows into a slice of Candle.
func scanCandles(rows pgx.Rows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		err := rows.Scan(
			&c.InstrumentID, &c.TimeframeID, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.TickCount, &c.LastTickAt, &c.LastTickID,
			&c.TypicalPrice, &c.WeightedPrice, &c.PriceChange, &c.PriceChangePercent,
			&c.UpperShadow, &c.LowerShadow, &c.BodySize, &c.TotalRange,
			&c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		c.LastTickAt = c.LastTickAt.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
