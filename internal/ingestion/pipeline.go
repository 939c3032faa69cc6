// Package ingestion turns raw ticks into persisted ticks and candles.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/aggregation"
	"candle-engine/internal/domain"
	"candle-engine/internal/lock"
	"candle-engine/internal/observability"
	"candle-engine/internal/storage"
	"candle-engine/internal/timeframe"
)

// Applier applies one tick to one timeframe's candle.
type Applier interface {
	Apply(ctx context.Context, instrumentID string, tf domain.TimeframeConfig, tick *domain.Tick) (*aggregation.Outcome, error)
}

// Archiver receives a secondary copy of every persisted tick.
type Archiver interface {
	Archive(ctx context.Context, symbol string, t *domain.Tick) error
}

// Pipeline resolves the instrument, persists the tick, then fans it out to
// every active timeframe in registry order.
type Pipeline struct {
	instruments storage.InstrumentStore
	ticks       storage.TickStore
	registry    *timeframe.Registry
	aggregator  Applier
	archiver    Archiver
	locker      lock.Locker
	lockTTL     time.Duration
	logger      *zap.Logger
}

// PipelineOptions contains configuration for creating a Pipeline.
type PipelineOptions struct {
	Instruments storage.InstrumentStore
	Ticks       storage.TickStore
	Registry    *timeframe.Registry
	Aggregator  Applier

	// Archiver is optional; failures are logged and never fail Ingest.
	Archiver Archiver

	// Locker is optional. When set, instrument creation and the per-tick
	// fan-out run under per-symbol leases so several processes can share
	// one store.
	Locker  lock.Locker
	LockTTL time.Duration // Default: 10s

	Logger *zap.Logger
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		instruments: opts.Instruments,
		ticks:       opts.Ticks,
		registry:    opts.Registry,
		aggregator:  opts.Aggregator,
		archiver:    opts.Archiver,
		locker:      opts.Locker,
		lockTTL:     lockTTL,
		logger:      logger,
	}
}

// Ingest validates and persists raw, then applies it to every active
// timeframe. A timeframe failure is recorded in the Result and does not stop
// the others, and neither does a failed candle lease. Only validation,
// instrument resolution and tick persistence failures are returned as errors.
func (p *Pipeline) Ingest(ctx context.Context, raw domain.RawTick) (*Result, error) {
	began := time.Now()

	if err := ValidateRawTick(raw); err != nil {
		observability.RecordTickRejected("validation")
		return nil, err
	}
	raw.Symbol = strings.TrimSpace(raw.Symbol)

	inst, err := p.ResolveInstrument(ctx, raw)
	if err != nil {
		observability.RecordTickRejected("instrument")
		return nil, err
	}

	tick := &domain.Tick{
		InstrumentID:  inst.ID,
		Timestamp:     raw.Timestamp.UTC().Truncate(time.Millisecond),
		LTP:           raw.Price(),
		Volume:        raw.Volume,
		Change:        raw.Change,
		ChangePercent: raw.ChangePercent,
	}
	if err := p.ticks.Insert(ctx, tick); err != nil {
		observability.RecordTickRejected("persist")
		p.logger.Error("persist tick failed",
			zap.String("symbol", raw.Symbol),
			zap.Time("ts", tick.Timestamp),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistTick, err)
	}

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, raw.Symbol, tick); err != nil {
			p.logger.Warn("archive tick failed", zap.String("symbol", raw.Symbol), zap.Error(err))
		}
	}

	result := p.applyLocked(ctx, inst, tick)

	observability.RecordTickIngested(time.Since(began))
	if len(result.Failed) > 0 {
		p.logger.Warn("partial candle update",
			zap.String("symbol", raw.Symbol),
			zap.String("summary", result.Summary()),
		)
	}
	return result, nil
}

// ResolveInstrument returns the instrument for raw.Symbol, creating it on
// first sight. Concurrent creators converge on the first stored row.
func (p *Pipeline) ResolveInstrument(ctx context.Context, raw domain.RawTick) (*domain.Instrument, error) {
	inst, err := p.instruments.GetBySymbol(ctx, raw.Symbol)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get instrument %s: %w", raw.Symbol, err)
	}

	release, err := p.acquire(ctx, "instrument:"+raw.Symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	instrumentType := raw.InstrumentType
	if instrumentType == "" {
		instrumentType = domain.InstrumentTypeUnknown
	}
	inst = &domain.Instrument{
		Symbol:         raw.Symbol,
		Exchange:       raw.Exchange,
		InstrumentType: instrumentType,
	}
	err = p.instruments.Create(ctx, inst)
	switch {
	case err == nil:
		p.logger.Info("instrument created",
			zap.String("symbol", inst.Symbol),
			zap.String("instrument_id", inst.ID),
		)
		return inst, nil
	case errors.Is(err, storage.ErrDuplicateKey):
		existing, gerr := p.instruments.GetBySymbol(ctx, raw.Symbol)
		if gerr != nil {
			return nil, fmt.Errorf("re-read instrument %s: %w", raw.Symbol, gerr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("create instrument %s: %w", raw.Symbol, err)
	}
}

// applyLocked runs applyAll under the instrument's candle lease, if any.
// The tick is already stored, so a lease failure marks every active
// timeframe failed instead of failing the call. Under range-fold the next
// tick of each bucket folds it in.
func (p *Pipeline) applyLocked(ctx context.Context, inst *domain.Instrument, tick *domain.Tick) *Result {
	release, err := p.acquire(ctx, "candles:"+inst.Symbol)
	if err != nil {
		p.logger.Error("candle lease unavailable",
			zap.String("symbol", inst.Symbol),
			zap.Int64("tick_id", tick.ID),
			zap.Error(err),
		)
		return p.failAll(inst, tick, err)
	}
	defer release()

	return p.applyAll(ctx, inst, tick)
}

// failAll reports err against every active timeframe.
func (p *Pipeline) failAll(inst *domain.Instrument, tick *domain.Tick, err error) *Result {
	tfs := p.registry.ListActive()
	result := &Result{
		Symbol:       inst.Symbol,
		InstrumentID: inst.ID,
		TickID:       tick.ID,
		Total:        len(tfs),
	}
	for _, tf := range tfs {
		observability.RecordTimeframeFailure(tf.Name)
		result.Failed = append(result.Failed, TimeframeFailure{Timeframe: tf.Name, Err: err})
	}
	return result
}

// applyAll applies tick to every active timeframe, isolating failures.
func (p *Pipeline) applyAll(ctx context.Context, inst *domain.Instrument, tick *domain.Tick) *Result {
	tfs := p.registry.ListActive()
	result := &Result{
		Symbol:       inst.Symbol,
		InstrumentID: inst.ID,
		TickID:       tick.ID,
		Total:        len(tfs),
	}

	for _, tf := range tfs {
		out, err := p.aggregator.Apply(ctx, inst.ID, tf, tick)
		if err != nil {
			observability.RecordTimeframeFailure(tf.Name)
			p.logger.Error("apply tick to timeframe failed",
				zap.String("symbol", inst.Symbol),
				zap.String("timeframe", tf.Name),
				zap.Int64("tick_id", tick.ID),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, TimeframeFailure{Timeframe: tf.Name, Err: err})
			continue
		}
		result.Updated++
		if out.Created {
			result.Created++
		}
	}
	return result
}

// acquire takes a lease on key when a locker is configured. The returned
// release func is always non-nil.
func (p *Pipeline) acquire(ctx context.Context, key string) (func(), error) {
	if p.locker == nil {
		return func() {}, nil
	}
	lease, err := p.locker.Acquire(ctx, key, p.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func() {
		// release must not be skipped because the caller's ctx ended
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			p.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
