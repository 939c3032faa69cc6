package postgres

import (
	"context"
	"fmt"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// TimeframeStore implements storage.TimeframeStore using PostgreSQL.
type TimeframeStore struct {
	pool *Pool
}

// NewTimeframeStore creates a new TimeframeStore.
func NewTimeframeStore(pool *Pool) *TimeframeStore {
	return &TimeframeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TimeframeStore = (*TimeframeStore)(nil)

// ListActive retrieves active timeframes ordered by sort_order.
func (s *TimeframeStore) ListActive(ctx context.Context) ([]domain.TimeframeConfig, error) {
	query := `
		SELECT id, name, interval_minutes, description, is_active, sort_order
		FROM timeframes
		WHERE is_active
		ORDER BY sort_order ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active timeframes: %w", err)
	}
	defer rows.Close()

	var result []domain.TimeframeConfig
	for rows.Next() {
		var tf domain.TimeframeConfig
		if err := rows.Scan(&tf.ID, &tf.Name, &tf.IntervalMinutes, &tf.Description, &tf.IsActive, &tf.SortOrder); err != nil {
			return nil, fmt.Errorf("scan timeframe row: %w", err)
		}
		result = append(result, tf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeframe rows: %w", err)
	}
	return result, nil
}

// GetByName retrieves a timeframe by name. Returns ErrNotFound if not exists.
func (s *TimeframeStore) GetByName(ctx context.Context, name string) (*domain.TimeframeConfig, error) {
	query := `
		SELECT id, name, interval_minutes, description, is_active, sort_order
		FROM timeframes
		WHERE name = $1
	`

	var tf domain.TimeframeConfig
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&tf.ID, &tf.Name, &tf.IntervalMinutes, &tf.Description, &tf.IsActive, &tf.SortOrder,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get timeframe by name: %w", err)
	}
	return &tf, nil
}

// Insert adds a timeframe and assigns its ID. Returns ErrDuplicateKey if the name exists.
func (s *TimeframeStore) Insert(ctx context.Context, tf *domain.TimeframeConfig) error {
	if tf == nil || tf.Name == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO timeframes (name, interval_minutes, description, is_active, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		tf.Name, tf.IntervalMinutes, tf.Description, tf.IsActive, tf.SortOrder,
	).Scan(&tf.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert timeframe: %w", err)
	}
	return nil
}
