package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// TickStore implements storage.TickStore using PostgreSQL.
type TickStore struct {
	pool *Pool
}

// NewTickStore creates a new TickStore.
func NewTickStore(pool *Pool) *TickStore {
	return &TickStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

const tickColumns = `id, instrument_id::text, timestamp, ltp, volume, change, change_percent`

// Insert adds a tick and assigns its ID from the sequence.
func (s *TickStore) Insert(ctx context.Context, t *domain.Tick) error {
	if t == nil || t.InstrumentID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ticks (instrument_id, timestamp, ltp, volume, change, change_percent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		t.InstrumentID,
		t.Timestamp,
		t.LTP,
		t.Volume,
		t.Change,
		t.ChangePercent,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves ticks within [from, to), ordered by (timestamp, id) ASC.
func (s *TickStore) GetByTimeRange(ctx context.Context, instrumentID string, from, to time.Time) ([]*domain.Tick, error) {
	query := `
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE instrument_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, instrumentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get ticks by time range: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

// GetAfterID retrieves ticks within [from, to) with id > afterID.
func (s *TickStore) GetAfterID(ctx context.Context, instrumentID string, from, to time.Time, afterID int64) ([]*domain.Tick, error) {
	query := `
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE instrument_id = $1 AND timestamp >= $2 AND timestamp < $3 AND id > $4
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, instrumentID, from, to, afterID)
	if err != nil {
		return nil, fmt.Errorf("get ticks after id: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

// GetLatest retrieves the most recent tick. Returns ErrNotFound if none.
func (s *TickStore) GetLatest(ctx context.Context, instrumentID string) (*domain.Tick, error) {
	query := `
		SELECT ` + tickColumns + `
		FROM ticks
		WHERE instrument_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	rows, err := s.pool.Query(ctx, query, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("get latest tick: %w", err)
	}
	defer rows.Close()

	ticks, err := scanTicks(rows)
	if err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return nil, storage.ErrNotFound
	}
	return ticks[0], nil
}

// Count returns the number of ticks for an instrument.
func (s *TickStore) Count(ctx context.Context, instrumentID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticks WHERE instrument_id = $1`, instrumentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes ticks with timestamp < cutoff.
func (s *TickStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanTicks scans multiple rows into a slice of Tick.
func scanTicks(rows pgx.Rows) ([]*domain.Tick, error) {
	var ticks []*domain.Tick

	for rows.Next() {
		var t domain.Tick
		err := rows.Scan(
			&t.ID,
			&t.InstrumentID,
			&t.Timestamp,
			&t.LTP,
			&t.Volume,
			&t.Change,
			&t.ChangePercent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tick row: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		ticks = append(ticks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tick rows: %w", err)
	}

	return ticks, nil
}
