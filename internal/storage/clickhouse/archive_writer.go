package clickhouse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

// ArchiveWriterConfig holds buffering parameters for ArchiveWriter.
type ArchiveWriterConfig struct {
	BatchSize     int           // flush once this many ticks are buffered
	FlushInterval time.Duration // flush at least this often while running
}

// DefaultArchiveWriterConfig returns default buffering parameters.
func DefaultArchiveWriterConfig() ArchiveWriterConfig {
	return ArchiveWriterConfig{
		BatchSize:     1000,
		FlushInterval: 2 * time.Second,
	}
}

// ArchiveWriter buffers ticks per symbol and writes them to a TickArchive in
// batches. Archive never blocks on the archive backend unless the buffer is
// full. Write failures are logged and the batch is dropped; the archive is a
// secondary copy.
type ArchiveWriter struct {
	archive storage.TickArchive
	config  ArchiveWriterConfig
	logger  *zap.Logger

	// OnFlush, when set, is called after every batch write.
	OnFlush func(symbol string, n int, err error)

	mu      sync.Mutex
	pending map[string][]*domain.Tick
	count   int
}

// NewArchiveWriter creates a buffered writer over archive.
func NewArchiveWriter(archive storage.TickArchive, config ArchiveWriterConfig, logger *zap.Logger) *ArchiveWriter {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultArchiveWriterConfig().BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultArchiveWriterConfig().FlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveWriter{
		archive: archive,
		config:  config,
		logger:  logger,
		pending: make(map[string][]*domain.Tick),
	}
}

// Archive buffers a tick, flushing when the batch size is reached.
func (w *ArchiveWriter) Archive(ctx context.Context, symbol string, t *domain.Tick) error {
	cp := *t

	w.mu.Lock()
	w.pending[symbol] = append(w.pending[symbol], &cp)
	w.count++
	full := w.count >= w.config.BatchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered ticks. Returns the first write error.
func (w *ArchiveWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string][]*domain.Tick)
	w.count = 0
	w.mu.Unlock()

	var firstErr error
	for symbol, ticks := range pending {
		err := w.archive.InsertBatch(ctx, symbol, ticks)
		if w.OnFlush != nil {
			w.OnFlush(symbol, len(ticks), err)
		}
		if err != nil {
			w.logger.Warn("tick archive write failed",
				zap.String("symbol", symbol),
				zap.Int("ticks", len(ticks)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run flushes on FlushInterval until ctx is done, then flushes once more.
func (w *ArchiveWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = w.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = w.Flush(ctx)
		}
	}
}

// Pending returns the number of buffered ticks.
func (w *ArchiveWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
