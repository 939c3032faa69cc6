// Package query serves read-only candle views over the stores.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"candle-engine/internal/bucket"
	"candle-engine/internal/domain"
	"candle-engine/internal/observability"
	"candle-engine/internal/storage"
	"candle-engine/internal/timeframe"
)

// ErrInstrumentNotFound is returned when the symbol has never been ingested.
var ErrInstrumentNotFound = fmt.Errorf("instrument not found: %w", storage.ErrNotFound)

const (
	DefaultLimit = 500
	MaxLimit     = 10000
)

// PriceChangeSummary is the latest candle's stored change fields.
type PriceChangeSummary struct {
	Timeframe     string    `json:"timeframe"`
	Timestamp     time.Time `json:"timestamp"`
	Open          float64   `json:"open"`
	Close         float64   `json:"close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
}

// VolumeLevel is the volume traded at one price level.
type VolumeLevel struct {
	PriceLevel       float64 `json:"price_level"`
	Volume           float64 `json:"volume"`
	IsPointOfControl bool    `json:"is_point_of_control"`
}

// InstrumentStats summarizes what is stored for an instrument.
type InstrumentStats struct {
	Symbol                  string           `json:"symbol"`
	TotalTicks              int64            `json:"total_ticks"`
	TotalCandlesByTimeframe map[string]int64 `json:"total_candles_by_timeframe"`
	LastUpdate              time.Time        `json:"last_update"`
}

// Service answers candle queries. All methods are read-only.
type Service struct {
	instruments storage.InstrumentStore
	ticks       storage.TickStore
	candles     storage.CandleStore
	registry    *timeframe.Registry
	logger      *zap.Logger
}

// NewService creates a query service.
func NewService(instruments storage.InstrumentStore, ticks storage.TickStore, candles storage.CandleStore, registry *timeframe.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		instruments: instruments,
		ticks:       ticks,
		candles:     candles,
		registry:    registry,
		logger:      logger,
	}
}

// HistoricalRange returns candles with bucket start in [from, to), newest
// first, at most limit of them. limit <= 0 means DefaultLimit; larger values
// are capped at MaxLimit.
func (s *Service) HistoricalRange(ctx context.Context, symbol, tfName string, from, to time.Time, limit int) ([]*domain.Candle, error) {
	defer observe("historical_range", time.Now())

	inst, err := s.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	tf, err := s.registry.ByName(tfName)
	if err != nil {
		return nil, err
	}
	return s.candles.GetRange(ctx, inst.ID, tf.ID, from, to, clampLimit(limit))
}

// MultiTimeframeRange runs HistoricalRange for each timeframe concurrently.
// A timeframe that fails, or is unknown, maps to an empty slice.
func (s *Service) MultiTimeframeRange(ctx context.Context, symbol string, tfNames []string, from, to time.Time, limit int) (map[string][]*domain.Candle, error) {
	defer observe("multi_timeframe_range", time.Now())

	inst, err := s.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	var mu sync.Mutex
	out := make(map[string][]*domain.Candle, len(tfNames))
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range tfNames {
		out[name] = []*domain.Candle{}
		g.Go(func() error {
			tf, err := s.registry.ByName(name)
			if err != nil {
				s.logger.Warn("multi timeframe query: unknown timeframe", zap.String("timeframe", name))
				return nil
			}
			candles, err := s.candles.GetRange(gctx, inst.ID, tf.ID, from, to, limit)
			if err != nil {
				s.logger.Warn("multi timeframe query failed",
					zap.String("symbol", symbol),
					zap.String("timeframe", name),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			out[name] = candles
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// LatestPerTimeframe returns the newest candle of every active timeframe,
// with a nil value where none exists.
func (s *Service) LatestPerTimeframe(ctx context.Context, symbol string) (map[string]*domain.Candle, error) {
	defer observe("latest_per_timeframe", time.Now())

	inst, err := s.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}

	tfs := s.registry.ListActive()
	var mu sync.Mutex
	out := make(map[string]*domain.Candle, len(tfs))
	var g errgroup.Group
	for _, tf := range tfs {
		g.Go(func() error {
			c, err := s.candles.GetLatest(ctx, inst.ID, tf.ID)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					s.logger.Warn("latest candle query failed",
						zap.String("symbol", symbol),
						zap.String("timeframe", tf.Name),
						zap.Error(err),
					)
				}
				c = nil
			}
			mu.Lock()
			out[tf.Name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// PriceChange reports the latest candle's stored change fields, or nil when
// the timeframe has no candle yet.
func (s *Service) PriceChange(ctx context.Context, symbol, tfName string) (*PriceChangeSummary, error) {
	defer observe("price_change", time.Now())

	inst, err := s.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	tf, err := s.registry.ByName(tfName)
	if err != nil {
		return nil, err
	}

	c, err := s.candles.GetLatest(ctx, inst.ID, tf.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest candle: %w", err)
	}
	return &PriceChangeSummary{
		Timeframe:     tf.Name,
		Timestamp:     c.Timestamp,
		Open:          c.Open,
		Close:         c.Close,
		Change:        c.PriceChange,
		ChangePercent: c.PriceChangePercent,
	}, nil
}

// VolumeProfile attributes each candle's volume within date's UTC day to its
// close, rounded to the instrument's price step. Levels are ascending by
// price; every level holding the maximum volume is a point of control.
func (s *Service) VolumeProfile(ctx context.Context, symbol, tfName string, date time.Time) ([]VolumeLevel, error) {
	defer observe("volume_profile", time.Now())

	inst, err := s.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	tf, err := s.registry.ByName(tfName)
	if err != nil {
		return nil, err
	}

	from, to := bucket.DayRange(date)
	candles, err := s.candles.GetRange(ctx, inst.ID, tf.ID, from, to, MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("day candles: %w", err)
	}
	return buildProfile(candles, inst.PriceStep()), nil
}

// InstrumentStats counts stored ticks and candles per active timeframe.
func (s *Service) InstrumentStats(ctx context.Context, symbol string) (*InstrumentStats, error) {
	defer observe("instrument_stats", time.Now())

	inst, err := s.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}

	stats := &InstrumentStats{
		Symbol:                  inst.Symbol,
		TotalCandlesByTimeframe: make(map[string]int64),
	}
	if stats.TotalTicks, err = s.ticks.Count(ctx, inst.ID); err != nil {
		return nil, fmt.Errorf("count ticks: %w", err)
	}
	latest, err := s.ticks.GetLatest(ctx, inst.ID)
	switch {
	case err == nil:
		stats.LastUpdate = latest.Timestamp
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("latest tick: %w", err)
	}

	for _, tf := range s.registry.ListActive() {
		n, err := s.candles.Count(ctx, inst.ID, tf.ID)
		if err != nil {
			s.logger.Warn("count candles failed",
				zap.String("symbol", symbol),
				zap.String("timeframe", tf.Name),
				zap.Error(err),
			)
			n = 0
		}
		stats.TotalCandlesByTimeframe[tf.Name] = n
	}
	return stats, nil
}

func (s *Service) instrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	inst, err := s.instruments.GetBySymbol(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", symbol, err)
	}
	return inst, nil
}

func buildProfile(candles []*domain.Candle, step float64) []VolumeLevel {
	byLevel := make(map[int64]float64)
	for _, c := range candles {
		byLevel[int64(math.Round(c.Close/step))] += c.Volume
	}

	levels := make([]VolumeLevel, 0, len(byLevel))
	var maxVol float64
	for k, v := range byLevel {
		levels = append(levels, VolumeLevel{PriceLevel: roundTo(float64(k)*step, step), Volume: v})
		if v > maxVol {
			maxVol = v
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].PriceLevel < levels[j].PriceLevel })
	for i := range levels {
		levels[i].IsPointOfControl = levels[i].Volume == maxVol
	}
	return levels
}

// roundTo strips float noise from k*step products such as 0.1*3.
func roundTo(v, step float64) float64 {
	decimals := math.Max(0, math.Ceil(-math.Log10(step)))
	p := math.Pow(10, decimals)
	return math.Round(v*p) / p
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func observe(op string, began time.Time) {
	observability.RecordQuery(op, time.Since(began))
}
