// Package retention deletes ticks and candles that fall out of their
// retention windows.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"candle-engine/internal/domain"
	"candle-engine/internal/observability"
	"candle-engine/internal/storage"
	"candle-engine/internal/timeframe"
)

// Policy defines how long each kind of data is kept.
type Policy struct {
	TickRetention   time.Duration
	CandleRetention time.Duration

	// CandleTimeframes lists the timeframes whose candles are swept.
	// Candles of any other timeframe are kept indefinitely.
	CandleTimeframes []string
}

// DefaultPolicy keeps ticks for 7 days and daily candles for 90 days.
func DefaultPolicy() Policy {
	return Policy{
		TickRetention:    7 * 24 * time.Hour,
		CandleRetention:  90 * 24 * time.Hour,
		CandleTimeframes: []string{domain.Timeframe1Day},
	}
}

// Target names used in SweepResult and metrics.
const (
	TargetTicks   = "ticks"
	TargetArchive = "archive"
)

// CandleTarget is the target name for one timeframe's candles.
func CandleTarget(tf string) string {
	return "candles:" + tf
}

// TargetFailure records a target that could not be swept.
type TargetFailure struct {
	Target string
	Err    error
}

// SweepResult reports what one sweep deleted.
type SweepResult struct {
	TickCutoff   time.Time
	CandleCutoff time.Time
	Deleted      map[string]int64 // rows deleted per target
	Failed       []TargetFailure
	Duration     time.Duration
}

// Total returns the number of rows deleted across all targets.
func (r *SweepResult) Total() int64 {
	var n int64
	for _, v := range r.Deleted {
		n += v
	}
	return n
}

// SweeperOptions contains configuration for creating a Sweeper.
type SweeperOptions struct {
	Ticks    storage.TickStore
	Candles  storage.CandleStore
	Archive  storage.TickArchive // optional
	Registry *timeframe.Registry
	Policy   Policy
	Logger   *zap.Logger

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Sweeper applies a retention Policy.
type Sweeper struct {
	ticks    storage.TickStore
	candles  storage.CandleStore
	archive  storage.TickArchive
	registry *timeframe.Registry
	policy   Policy
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(opts SweeperOptions) *Sweeper {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		ticks:    opts.Ticks,
		candles:  opts.Candles,
		archive:  opts.Archive,
		registry: opts.Registry,
		policy:   opts.Policy,
		logger:   logger,
		now:      now,
	}
}

// Sweep deletes everything strictly older than the policy cutoffs. Targets
// run concurrently; a failing target does not stop the others. The returned
// error joins every target failure and is nil when all targets succeeded.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	began := time.Now()
	now := s.now().UTC()
	result := &SweepResult{
		TickCutoff:   now.Add(-s.policy.TickRetention),
		CandleCutoff: now.Add(-s.policy.CandleRetention),
		Deleted:      make(map[string]int64),
	}

	var mu sync.Mutex
	record := func(target string, n int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed = append(result.Failed, TargetFailure{Target: target, Err: err})
			s.logger.Error("retention target failed", zap.String("target", target), zap.Error(err))
			return
		}
		result.Deleted[target] = n
	}

	var g errgroup.Group
	if s.policy.TickRetention > 0 {
		g.Go(func() error {
			n, err := s.ticks.DeleteOlderThan(ctx, result.TickCutoff)
			record(TargetTicks, n, err)
			return nil
		})
		if s.archive != nil {
			g.Go(func() error {
				n, err := s.archive.DeleteOlderThan(ctx, result.TickCutoff)
				record(TargetArchive, n, err)
				return nil
			})
		}
	}
	if s.policy.CandleRetention > 0 {
		for _, name := range s.policy.CandleTimeframes {
			target := CandleTarget(name)
			tf, err := s.registry.ByName(name)
			if err != nil {
				record(target, 0, err)
				continue
			}
			g.Go(func() error {
				n, err := s.candles.DeleteOlderThan(ctx, tf.ID, result.CandleCutoff)
				record(target, n, err)
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Target < result.Failed[j].Target })
	result.Duration = time.Since(began)

	failed := make([]string, len(result.Failed))
	errs := make([]error, len(result.Failed))
	for i, f := range result.Failed {
		failed[i] = f.Target
		errs[i] = fmt.Errorf("%s: %w", f.Target, f.Err)
	}
	observability.RecordSweep(result.Deleted, failed, result.Duration)

	s.logger.Info("retention sweep complete",
		zap.Time("tick_cutoff", result.TickCutoff),
		zap.Time("candle_cutoff", result.CandleCutoff),
		zap.Int64("deleted", result.Total()),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration),
	)
	return result, errors.Join(errs...)
}

// Run sweeps once immediately and then every interval until ctx is done.
// Failed targets are retried on the next sweep.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("retention sweep incomplete", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
