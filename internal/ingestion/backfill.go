package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/storage"
)

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	Symbol   string
	Ticks    int
	Created  int
	Updated  int
	NoOps    int
	Errors   int
	Duration time.Duration
}

// Backfill re-applies the persisted ticks of symbol within [from, to) to every
// active timeframe, in (timestamp, id) order. Candles already reflecting a
// tick are left unchanged, so running it twice is harmless.
func (p *Pipeline) Backfill(ctx context.Context, symbol string, from, to time.Time) (*BackfillResult, error) {
	start := time.Now()
	result := &BackfillResult{Symbol: symbol}

	inst, err := p.instruments.GetBySymbol(ctx, symbol)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("backfill %s: %w", symbol, err)
		}
		return nil, fmt.Errorf("get instrument %s: %w", symbol, err)
	}

	ticks, err := p.ticks.GetByTimeRange(ctx, inst.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load ticks %s: %w", symbol, err)
	}
	result.Ticks = len(ticks)

	p.logger.Info("backfill started",
		zap.String("symbol", symbol),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("ticks", len(ticks)),
	)

	release, err := p.acquire(ctx, "candles:"+inst.Symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	tfs := p.registry.ListActive()
	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, tf := range tfs {
			out, err := p.aggregator.Apply(ctx, inst.ID, tf, tick)
			if err != nil {
				result.Errors++
				p.logger.Warn("backfill apply failed",
					zap.String("symbol", symbol),
					zap.String("timeframe", tf.Name),
					zap.Int64("tick_id", tick.ID),
					zap.Error(err),
				)
				continue
			}
			switch {
			case out.Created:
				result.Created++
			case out.Updated:
				result.Updated++
			default:
				result.NoOps++
			}
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("backfill complete",
		zap.String("symbol", symbol),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("noops", result.NoOps),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
