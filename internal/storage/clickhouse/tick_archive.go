package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// TickArchive implements storage.TickArchive using ClickHouse.
// Rows live in a ReplacingMergeTree keyed by (symbol, timestamp, tick_id), so
// re-archiving the same tick collapses on merge and reads use FINAL.
type TickArchive struct {
	conn *Conn
}

// NewTickArchive creates a new TickArchive.
func NewTickArchive(conn *Conn) *TickArchive {
	return &TickArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.TickArchive = (*TickArchive)(nil)

// InsertBatch appends ticks for a symbol in a single native batch.
func (a *TickArchive) InsertBatch(ctx context.Context, symbol string, ticks []*domain.Tick) error {
	if symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(ticks) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO tick_archive (
			symbol, tick_id, instrument_id, timestamp, ltp, volume, change, change_percent
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		if t == nil {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			symbol, t.ID, t.InstrumentID, t.Timestamp.UTC(),
			t.LTP, t.Volume, t.Change, t.ChangePercent,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves archived ticks within [from, to), ordered by timestamp ASC.
func (a *TickArchive) GetByTimeRange(ctx context.Context, symbol string, from, to time.Time) ([]*domain.Tick, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT tick_id, instrument_id, timestamp, ltp, volume, change, change_percent
		FROM tick_archive FINAL
		WHERE symbol = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, tick_id ASC
	`, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query tick archive: %w", err)
	}
	defer rows.Close()

	var ticks []*domain.Tick
	for rows.Next() {
		var t domain.Tick
		if err := rows.Scan(&t.ID, &t.InstrumentID, &t.Timestamp, &t.LTP, &t.Volume, &t.Change, &t.ChangePercent); err != nil {
			return nil, fmt.Errorf("scan archived tick: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		ticks = append(ticks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived ticks: %w", err)
	}

	return ticks, nil
}

// DeleteOlderThan removes archived ticks with timestamp < cutoff.
// The delete mutation runs synchronously so the returned count is settled.
func (a *TickArchive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n uint64
	if err := a.conn.QueryRow(ctx,
		`SELECT count() FROM tick_archive WHERE timestamp < ?`, cutoff.UTC(),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived ticks: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	mctx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	if err := a.conn.Exec(mctx, `ALTER TABLE tick_archive DELETE WHERE timestamp < ?`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete archived ticks: %w", err)
	}

	return int64(n), nil
}
