package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/app"
	"candle-engine/internal/config"
	"candle-engine/internal/logging"
	"candle-engine/internal/query"
)

type options struct {
	op         string
	symbol     string
	timeframe  string
	timeframes string
	from       string
	to         string
	date       string
	limit      int
}

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file")
	var opts options
	flag.StringVar(&opts.op, "op", "range", "Query: range, multi, latest, change, profile, stats")
	flag.StringVar(&opts.symbol, "symbol", "", "Instrument symbol")
	flag.StringVar(&opts.timeframe, "timeframe", "1min", "Timeframe for range, change, profile")
	flag.StringVar(&opts.timeframes, "timeframes", "1min,5min,15min", "Comma-separated timeframes for multi")
	flag.StringVar(&opts.from, "from-time", "", "Range start (RFC3339); default 24h before to-time")
	flag.StringVar(&opts.to, "to-time", "", "Range end (RFC3339); default now")
	flag.StringVar(&opts.date, "date", "", "Day for profile (YYYY-MM-DD); default today UTC")
	flag.IntVar(&opts.limit, "limit", query.DefaultLimit, "Maximum candles per timeframe")
	timeout := flag.Duration("timeout", 30*time.Second, "Query timeout")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Postgres.Migrate = false

	// stdout carries the JSON result
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := logging.Must(cfg.Log, zap.String("service", "query"))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, opts, os.Stdout); err != nil {
		logger.Error("query failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts options, out io.Writer) error {
	if opts.symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry, err := app.LoadRegistry(ctx, stores.Timeframes, logger)
	if err != nil {
		return err
	}
	svc := query.NewService(stores.Instruments, stores.Ticks, stores.Candles, registry, logger)

	result, err := execute(ctx, svc, opts, time.Now().UTC())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func execute(ctx context.Context, svc *query.Service, opts options, now time.Time) (any, error) {
	from, to, err := parseRange(opts.from, opts.to, now)
	if err != nil {
		return nil, err
	}

	switch opts.op {
	case "range":
		return svc.HistoricalRange(ctx, opts.symbol, opts.timeframe, from, to, opts.limit)
	case "multi":
		return svc.MultiTimeframeRange(ctx, opts.symbol, splitList(opts.timeframes), from, to, opts.limit)
	case "latest":
		return svc.LatestPerTimeframe(ctx, opts.symbol)
	case "change":
		return svc.PriceChange(ctx, opts.symbol, opts.timeframe)
	case "profile":
		day := now
		if opts.date != "" {
			if day, err = time.Parse(time.DateOnly, opts.date); err != nil {
				return nil, fmt.Errorf("parse date: %w", err)
			}
		}
		return svc.VolumeProfile(ctx, opts.symbol, opts.timeframe, day)
	case "stats":
		return svc.InstrumentStats(ctx, opts.symbol)
	default:
		return nil, fmt.Errorf("unknown op: %s", opts.op)
	}
}

func parseRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse to-time: %w", err)
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse from-time: %w", err)
		}
		from = t
	}
	return from, to, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
