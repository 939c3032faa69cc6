// Package aggregation maintains OHLCV candles from ticks, one timeframe at a time.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/bucket"
	"candle-engine/internal/domain"
	"candle-engine/internal/observability"
	"candle-engine/internal/storage"
)

// Outcome describes what Apply did to the bucket's candle.
type Outcome struct {
	Created bool
	Updated bool
	NoOp    bool
	Candle  *domain.Candle
}

func (o *Outcome) label() string {
	switch {
	case o.Created:
		return "created"
	case o.Updated:
		return "updated"
	default:
		return "noop"
	}
}

// Aggregator applies ticks to candles. It holds no per-candle state; every
// Apply reads the current candle from the store. Callers serialize Apply
// per instrument (see ingestion.Dispatcher).
type Aggregator struct {
	candles storage.CandleStore
	ticks   storage.TickStore
	policy  UpdatePolicy
	logger  *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPolicy sets the update policy. Defaults to PolicyRangeFold.
func WithPolicy(p UpdatePolicy) Option {
	return func(a *Aggregator) { a.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Aggregator over the given stores.
func New(candles storage.CandleStore, ticks storage.TickStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		candles: candles,
		ticks:   ticks,
		policy:  PolicyRangeFold,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the configured update policy.
func (a *Aggregator) Policy() UpdatePolicy {
	return a.policy
}

// Apply folds tick into the candle of tf's bucket containing tick.Timestamp,
// creating the candle if it does not exist yet.
func (a *Aggregator) Apply(ctx context.Context, instrumentID string, tf domain.TimeframeConfig, tick *domain.Tick) (*Outcome, error) {
	if err := validateTick(tick); err != nil {
		return nil, err
	}
	if err := bucket.Validate(tf.IntervalMinutes); err != nil {
		return nil, fmt.Errorf("timeframe %s: %w", tf.Name, err)
	}

	began := time.Now()
	start, end := bucket.Range(tick.Timestamp, tf.IntervalMinutes)

	existing, err := a.candles.Get(ctx, instrumentID, tf.ID, start)
	var out *Outcome
	switch {
	case errors.Is(err, storage.ErrNotFound):
		out, err = a.create(ctx, instrumentID, tf, start, end, tick)
	case err != nil:
		return nil, fmt.Errorf("get candle: %w", err)
	default:
		out, err = a.update(ctx, instrumentID, tf, existing, tick)
	}
	if err != nil {
		if errors.Is(err, ErrConsistency) {
			observability.RecordConsistencyError(tf.Name)
			a.logger.Error("candle consistency violation",
				zap.String("instrument_id", instrumentID),
				zap.String("timeframe", tf.Name),
				zap.Time("bucket_start", start),
				zap.Time("tick_ts", tick.Timestamp),
				zap.Int64("tick_id", tick.ID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	observability.RecordCandleOutcome(tf.Name, out.label(), time.Since(began))
	return out, nil
}

// create seeds a candle from the bucket's persisted ticks. Insert is
// first-writer-wins; a losing racer continues on the update path.
func (a *Aggregator) create(ctx context.Context, instrumentID string, tf domain.TimeframeConfig, start, end time.Time, tick *domain.Tick) (*Outcome, error) {
	ticks, err := a.ticks.GetByTimeRange(ctx, instrumentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get bucket ticks: %w", err)
	}
	if !containsTick(ticks, tick) {
		ticks = append(ticks, tick)
		sortTicks(ticks)
	}

	c := seedCandle(instrumentID, tf.ID, start, ticks)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConsistency, err)
	}

	err = a.candles.Insert(ctx, c)
	if errors.Is(err, storage.ErrDuplicateKey) {
		a.logger.Debug("candle created concurrently, updating",
			zap.String("instrument_id", instrumentID),
			zap.String("timeframe", tf.Name),
			zap.Time("bucket_start", start),
		)
		existing, gerr := a.candles.Get(ctx, instrumentID, tf.ID, start)
		if gerr != nil {
			return nil, fmt.Errorf("re-read candle after duplicate insert: %w", gerr)
		}
		return a.update(ctx, instrumentID, tf, existing, tick)
	}
	if err != nil {
		return nil, fmt.Errorf("insert candle: %w", err)
	}

	return &Outcome{Created: true, Candle: c}, nil
}

// update folds new ticks into an existing candle according to the policy.
func (a *Aggregator) update(ctx context.Context, instrumentID string, tf domain.TimeframeConfig, existing *domain.Candle, tick *domain.Tick) (*Outcome, error) {
	interval := time.Duration(tf.IntervalMinutes) * time.Minute
	end := existing.End(interval)
	if !bucket.Contains(existing.Timestamp, end, tick.Timestamp) {
		return nil, fmt.Errorf("%w: tick at %s outside bucket [%s, %s)",
			ErrConsistency, tick.Timestamp.Format(time.RFC3339Nano),
			existing.Timestamp.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var pending []*domain.Tick
	switch a.policy {
	case PolicySingleTick:
		if tick.ID != 0 && tick.ID <= existing.LastTickID {
			return &Outcome{NoOp: true, Candle: existing}, nil
		}
		if tick.Timestamp.Before(existing.LastTickAt) {
			return nil, fmt.Errorf("%w: tick at %s older than last folded tick at %s",
				ErrConsistency, tick.Timestamp.Format(time.RFC3339Nano),
				existing.LastTickAt.Format(time.RFC3339Nano))
		}
		pending = []*domain.Tick{tick}
	default:
		newer, err := a.ticks.GetAfterID(ctx, instrumentID, existing.Timestamp, end, existing.LastTickID)
		if err != nil {
			return nil, fmt.Errorf("get unfolded ticks: %w", err)
		}
		if (tick.ID == 0 || tick.ID > existing.LastTickID) && !containsTick(newer, tick) {
			newer = append(newer, tick)
			sortTicks(newer)
		}
		pending = newer
	}

	if len(pending) == 0 {
		return &Outcome{NoOp: true, Candle: existing}, nil
	}

	c := existing.Clone()
	for _, t := range pending {
		foldTick(c, t)
	}
	c.Recompute()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	if c.Volume < existing.Volume {
		return nil, fmt.Errorf("%w: volume decreased from %v to %v", ErrConsistency, existing.Volume, c.Volume)
	}

	stored, err := a.candles.Upsert(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("upsert candle: %w", err)
	}

	return &Outcome{Updated: true, Candle: stored}, nil
}

func validateTick(t *domain.Tick) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil tick", ErrInvalidTick)
	case math.IsNaN(t.LTP) || math.IsInf(t.LTP, 0) || t.LTP <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidTick, t.LTP)
	case math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0:
		return fmt.Errorf("%w: volume %v", ErrInvalidTick, t.Volume)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTick)
	}
	return nil
}
