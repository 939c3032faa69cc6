package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/config"
	"candle-engine/internal/logging"
	"candle-engine/internal/storage/migrations"
	pgstore "candle-engine/internal/storage/postgres"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file")
	postgresDSN := flag.String("postgres-dsn", "", "Override POSTGRES_DSN")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "Override CLICKHOUSE_DSN; implies ClickHouse migrations")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.ClickHouse.DSN = *clickhouseDSN
		cfg.ClickHouse.Enabled = true
	}

	logger := logging.Must(cfg.Log, zap.String("service", "migrate"))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
	if err != nil {
		return err
	}
	logger.Info("postgres migrations complete", zap.Strings("applied", applied))

	if !cfg.ClickHouse.Enabled {
		return nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("clickhouse migrations complete")
	return nil
}
