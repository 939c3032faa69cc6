package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/aggregation"
	"candle-engine/internal/app"
	"candle-engine/internal/config"
	"candle-engine/internal/feed"
	"candle-engine/internal/ingestion"
	"candle-engine/internal/logging"
	"candle-engine/internal/observability"
	"candle-engine/internal/retention"
	chstore "candle-engine/internal/storage/clickhouse"
	"candle-engine/internal/timeframe"
)

func main() {
	mode := flag.String("mode", "live", "Ingestion mode: live or backfill")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	symbol := flag.String("symbol", "", "Symbol to backfill")
	fromTime := flag.String("from-time", "", "Start time for backfill (RFC3339)")
	toTime := flag.String("to-time", "", "End time for backfill (RFC3339)")
	metricsAddr := flag.String("metrics-addr", "", "Override METRICS_ADDR (\"-\" to disable)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr == "-" {
		cfg.Metrics.Enabled = false
	} else if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logger := logging.Must(cfg.Log, zap.String("service", "ingest"))
	defer func() { _ = logger.Sync() }()

	ctx, done := app.SignalContext(logger, 30*time.Second)
	defer done()

	if cfg.Metrics.Enabled {
		go app.ServeMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	switch *mode {
	case "live":
		err = runLive(ctx, cfg, logger)
	case "backfill":
		err = runBackfill(ctx, cfg, logger, *symbol, *fromTime, *toTime)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("ingest failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// engine holds everything both modes need.
type engine struct {
	stores   *app.Stores
	registry *timeframe.Registry
	pipeline *ingestion.Pipeline
	archiver *chstore.ArchiveWriter
	cleanup  func()
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := app.LoadRegistry(ctx, stores.Timeframes, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}
	locker, closeLocker, err := app.NewLocker(ctx, cfg)
	if err != nil {
		stores.Close()
		return nil, err
	}

	agg := aggregation.New(stores.Candles, stores.Ticks,
		aggregation.WithPolicy(cfg.UpdatePolicy()),
		aggregation.WithLogger(logger.Named("aggregation")),
	)

	opts := ingestion.PipelineOptions{
		Instruments: stores.Instruments,
		Ticks:       stores.Ticks,
		Registry:    registry,
		Aggregator:  agg,
		Locker:      locker,
		LockTTL:     cfg.Aggregation.LockTTL,
		Logger:      logger.Named("ingestion"),
	}

	e := &engine{stores: stores, registry: registry}
	if stores.Archive != nil {
		e.archiver = chstore.NewArchiveWriter(stores.Archive, cfg.ArchiveWriter(), logger.Named("archive"))
		e.archiver.OnFlush = func(_ string, n int, err error) {
			observability.RecordArchiveBatch(n, err)
		}
		opts.Archiver = e.archiver
	}
	e.pipeline = ingestion.NewPipeline(opts)
	e.cleanup = func() {
		closeLocker()
		stores.Close()
	}

	var names []string
	for _, tf := range registry.ListActive() {
		names = append(names, tf.Name)
	}
	logger.Info("engine ready",
		zap.String("policy", string(agg.Policy())),
		zap.Strings("timeframes", names),
		zap.String("lock", cfg.App.Lock),
	)
	return e, nil
}

// runLive consumes the configured feed until ctx is done.
func runLive(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.cleanup()

	dispatcher := ingestion.NewDispatcher(e.pipeline, ingestion.DispatcherConfig{
		Workers:   cfg.Aggregation.Workers,
		QueueSize: cfg.Aggregation.QueueSize,
	}, logger.Named("dispatcher"))

	var dispatcherDone sync.WaitGroup
	dispatcherDone.Add(1)
	go func() {
		defer dispatcherDone.Done()
		dispatcher.Run(ctx)
	}()

	// archive writer and sweeper stop with bg, not only on a signal
	bg := newBackground(ctx)
	if e.archiver != nil {
		bg.Go(e.archiver.Run)
	}
	if cfg.Retention.Enabled {
		sweeper := retention.NewSweeper(retention.SweeperOptions{
			Ticks:    e.stores.Ticks,
			Candles:  e.stores.Candles,
			Archive:  e.stores.Archive,
			Registry: e.registry,
			Policy:   cfg.RetentionPolicy(),
			Logger:   logger.Named("retention"),
		})
		bg.Go(func(ctx context.Context) {
			sweeper.Run(ctx, cfg.Retention.Interval)
		})
	}

	feedErr := make(chan error, 1)
	switch cfg.App.Feed {
	case "ws":
		listener := feed.NewWSListener(cfg.FeedWS(), dispatcher, logger.Named("ws"))
		go func() { feedErr <- listener.Run(bg.ctx) }()
	case "kafka":
		consumer, err := feed.NewKafkaConsumer(cfg.FeedKafka(), feed.NewKafkaHandler(dispatcher, logger.Named("kafka")), logger.Named("kafka"))
		if err != nil {
			dispatcher.Close()
			dispatcherDone.Wait()
			bg.Stop()
			return err
		}
		go func() { feedErr <- consumer.Run(bg.ctx) }()
	default:
		logger.Warn("no feed configured, waiting for shutdown")
	}

	logger.Info("starting live ingestion", zap.String("feed", cfg.App.Feed))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-feedErr:
		if runErr != nil {
			logger.Error("feed stopped", zap.Error(runErr))
		}
	}

	// drain queued ticks, stop background loops, then flush what was archived
	dispatcher.Close()
	dispatcherDone.Wait()
	bg.Stop()
	if e.archiver != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.archiver.Flush(flushCtx); err != nil {
			logger.Error("final archive flush failed", zap.Error(err))
		}
		cancel()
	}
	return runErr
}

// background runs loops that last until Stop or until the parent ctx ends.
type background struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBackground(parent context.Context) *background {
	ctx, cancel := context.WithCancel(parent)
	return &background{ctx: ctx, cancel: cancel}
}

func (b *background) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Stop cancels every loop and waits for them to return.
func (b *background) Stop() {
	b.cancel()
	b.wg.Wait()
}

// runBackfill rebuilds candles from persisted ticks for one symbol.
func runBackfill(ctx context.Context, cfg *config.Config, logger *zap.Logger, symbol, fromStr, toStr string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errors.New("--symbol is required for backfill mode")
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return fmt.Errorf("parse from-time: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return fmt.Errorf("parse to-time: %w", err)
		}
	}

	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.cleanup()

	res, err := e.pipeline.Backfill(ctx, symbol, from, to)
	if err != nil {
		return err
	}
	logger.Info("backfill finished",
		zap.String("symbol", res.Symbol),
		zap.Int("ticks", res.Ticks),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("errors", res.Errors),
	)
	return nil
}
