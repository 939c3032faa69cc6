package ingestion

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"candle-engine/internal/domain"
	"candle-engine/internal/observability"
)

// Ingester ingests one raw tick. *Pipeline implements it.
type Ingester interface {
	Ingest(ctx context.Context, raw domain.RawTick) (*Result, error)
}

// DispatcherConfig controls worker fan-out and backpressure.
type DispatcherConfig struct {
	Workers   int // Default: 8
	QueueSize int // per worker; Default: 1024

	// OnResult, when set, is called from the worker after every Ingest.
	OnResult func(raw domain.RawTick, res *Result, err error)
}

// Dispatcher serializes ticks per symbol and runs different symbols in
// parallel. Each symbol hashes to exactly one worker, which ingests its
// queue in arrival order.
type Dispatcher struct {
	ingester Ingester
	config   DispatcherConfig
	logger   *zap.Logger
	queues   []chan domain.RawTick

	mu        sync.RWMutex
	closed    bool
	senders   sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher. Call Run to start the workers.
func NewDispatcher(ingester Ingester, config DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	queues := make([]chan domain.RawTick, config.Workers)
	for i := range queues {
		queues[i] = make(chan domain.RawTick, config.QueueSize)
	}
	return &Dispatcher{
		ingester: ingester,
		config:   config,
		logger:   logger,
		queues:   queues,
		done:     make(chan struct{}),
	}
}

// Submit enqueues raw on its symbol's worker. It blocks while that queue is
// full, until capacity frees up or ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, raw domain.RawTick) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	d.senders.Add(1)
	d.mu.RUnlock()
	defer d.senders.Done()

	q := d.queues[d.shard(raw.Symbol)]
	select {
	case q <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is done or Close is called.
// Queued ticks are drained before Run returns; in-flight ingests are not
// cancelled by ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, q := range d.queues {
		wg.Add(1)
		go func(worker string, q <-chan domain.RawTick) {
			defer wg.Done()
			d.work(workCtx, worker, q)
		}(strconv.Itoa(i), q)
	}

	select {
	case <-ctx.Done():
		d.Close()
	case <-d.done:
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Close stops accepting ticks. Workers exit once their queues are drained.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		// no sender can be mid-send once this returns
		d.senders.Wait()
		for _, q := range d.queues {
			close(q)
		}
		close(d.done)
	})
}

func (d *Dispatcher) work(ctx context.Context, worker string, q <-chan domain.RawTick) {
	for raw := range q {
		observability.UpdateQueueSize(worker, len(q))

		res, err := d.ingester.Ingest(ctx, raw)
		if err != nil {
			d.logger.Warn("ingest failed",
				zap.String("worker", worker),
				zap.String("symbol", raw.Symbol),
				zap.Error(err),
			)
		}
		if d.config.OnResult != nil {
			d.config.OnResult(raw, res, err)
		}
	}
	observability.UpdateQueueSize(worker, 0)
}

func (d *Dispatcher) shard(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(symbol)))
	return int(h.Sum32() % uint32(len(d.queues)))
}
