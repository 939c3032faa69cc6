// Package app wires configuration into stores, lockers and servers shared by
// the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/config"
	"candle-engine/internal/lock"
	"candle-engine/internal/observability"
	"candle-engine/internal/storage"
	chstore "candle-engine/internal/storage/clickhouse"
	"candle-engine/internal/storage/memory"
	"candle-engine/internal/storage/migrations"
	pgstore "candle-engine/internal/storage/postgres"
	"candle-engine/internal/timeframe"
)

// Stores bundles the storage backends selected by configuration.
type Stores struct {
	Instruments storage.InstrumentStore
	Ticks       storage.TickStore
	Candles     storage.CandleStore
	Timeframes  storage.TimeframeStore

	// Archive is nil unless the ClickHouse archive is enabled.
	Archive storage.TickArchive

	closers []func()
}

// Close releases every backend connection, newest first.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores opens the backends named by cfg.App.Store. Postgres migrations
// run first when cfg.Postgres.Migrate is set.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if cfg.App.Store == "memory" {
		logger.Info("using in-memory stores")
		return &Stores{
			Instruments: memory.NewInstrumentStore(),
			Ticks:       memory.NewTickStore(),
			Candles:     memory.NewCandleStore(),
			Timeframes:  memory.NewTimeframeStore(),
		}, nil
	}

	pool, err := pgstore.NewPoolWithOptions(ctx, cfg.Postgres.DSN, pgstore.PoolOptions{
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		ObserveQuery: func(sql string, elapsed time.Duration, err error) {
			observability.RecordDBQuery("postgres", sqlOperation(sql), elapsed.Seconds(), err)
		},
	})
	if err != nil {
		return nil, err
	}
	s := &Stores{
		Instruments: pgstore.NewInstrumentStore(pool),
		Ticks:       pgstore.NewTickStore(pool),
		Candles:     pgstore.NewCandleStore(pool),
		Timeframes:  pgstore.NewTimeframeStore(pool),
		closers:     []func(){pool.Close},
	}

	if cfg.Postgres.Migrate {
		applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("postgres migrations applied", zap.Strings("files", applied))
	}

	if cfg.ClickHouse.Enabled {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Archive = chstore.NewTickArchive(conn)
		s.closers = append(s.closers, func() { _ = conn.Close() })
	}

	logger.Info("using postgres stores", zap.Bool("archive", s.Archive != nil))
	return s, nil
}

// LoadRegistry seeds the default timeframes when the store has none active,
// then loads the registry from the store.
func LoadRegistry(ctx context.Context, store storage.TimeframeStore, logger *zap.Logger) (*timeframe.Registry, error) {
	active, err := store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list timeframes: %w", err)
	}
	if len(active) == 0 {
		n, err := timeframe.Seed(ctx, store, timeframe.DefaultTimeframes())
		if err != nil {
			return nil, fmt.Errorf("seed timeframes: %w", err)
		}
		logger.Info("seeded default timeframes", zap.Int("count", n))
	}

	reg := timeframe.NewRegistry(store, logger)
	if err := reg.Refresh(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// NewLocker builds the locker named by cfg.App.Lock. The returned locker is
// nil for "none"; the cleanup func is always non-nil.
func NewLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	switch cfg.App.Lock {
	case "redis":
		client, err := lock.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, func() {}, err
		}
		return lock.NewRedisLocker(client, cfg.Redis), func() { _ = client.Close() }, nil
	case "local":
		return lock.NewLocalLocker(), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

// NewMetricsServer serves /metrics and /health on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// ServeMetrics runs the metrics server until ctx is done.
func ServeMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	srv := NewMetricsServer(addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", zap.Error(err))
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal, or a shutdown taking longer than grace, exits the process. Call
// the returned func once shutdown has completed.
func SignalContext(logger *zap.Logger, grace time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(grace):
			logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("grace", grace))
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}

// sqlOperation returns the leading SQL keyword, e.g. "select".
func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	for _, f := range fields {
		if strings.HasPrefix(f, "--") {
			continue
		}
		op := strings.ToLower(f)
		switch op {
		case "select", "insert", "update", "delete", "with", "create", "alter", "begin", "commit", "rollback":
			return op
		}
		return "other"
	}
	return "other"
}
