package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/app"
	"candle-engine/internal/config"
	"candle-engine/internal/logging"
	"candle-engine/internal/retention"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file")
	once := flag.Bool("once", false, "Run a single sweep and exit")
	interval := flag.Duration("interval", 0, "Override RETENTION_INTERVAL")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *interval > 0 {
		cfg.Retention.Interval = *interval
	}

	logger := logging.Must(cfg.Log, zap.String("service", "sweeper"))
	defer func() { _ = logger.Sync() }()

	ctx, done := app.SignalContext(logger, 30*time.Second)
	defer done()

	if err := run(ctx, cfg, logger, *once); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("sweeper failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, once bool) error {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry, err := app.LoadRegistry(ctx, stores.Timeframes, logger)
	if err != nil {
		return err
	}

	sweeper := retention.NewSweeper(retention.SweeperOptions{
		Ticks:    stores.Ticks,
		Candles:  stores.Candles,
		Archive:  stores.Archive,
		Registry: registry,
		Policy:   cfg.RetentionPolicy(),
		Logger:   logger,
	})

	if once {
		res, err := sweeper.Sweep(ctx)
		if res != nil {
			for target, n := range res.Deleted {
				logger.Info("swept", zap.String("target", target), zap.Int64("deleted", n))
			}
		}
		return err
	}

	if cfg.Metrics.Enabled {
		go app.ServeMetrics(ctx, cfg.Metrics.Addr, logger)
	}
	logger.Info("starting periodic sweeper", zap.Duration("interval", cfg.Retention.Interval))
	sweeper.Run(ctx, cfg.Retention.Interval)
	return nil
}
