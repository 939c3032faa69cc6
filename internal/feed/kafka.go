package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"candle-engine/internal/domain"
	"candle-engine/internal/observability"
)

const sourceKafka = "kafka"

// KafkaConfig configures the consumer group reader.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

// KafkaHandler decodes one message and submits its ticks.
type KafkaHandler struct {
	sink   TickSink
	logger *zap.Logger
}

// NewKafkaHandler creates a handler.
func NewKafkaHandler(sink TickSink, logger *zap.Logger) *KafkaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaHandler{sink: sink, logger: logger}
}

// Handle submits the message's ticks. Malformed messages are dropped with a
// nil error so their offset is committed; a sink error is returned and the
// offset is left uncommitted.
func (h *KafkaHandler) Handle(ctx context.Context, msg kafka.Message) error {
	ticks, ok := h.decode(msg)
	if !ok {
		return nil
	}
	_, err := h.submit(ctx, ticks)
	return err
}

// decode returns the message's ticks, or false for a malformed message.
func (h *KafkaHandler) decode(msg kafka.Message) ([]domain.RawTick, bool) {
	ticks, err := Decode(msg.Value)
	if err != nil {
		observability.RecordFeedMessage(sourceKafka, "malformed")
		h.logger.Warn("dropping malformed kafka message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil, false
	}
	return ticks, true
}

// submit hands ticks to the sink in order and reports how many were
// accepted before the first error.
func (h *KafkaHandler) submit(ctx context.Context, ticks []domain.RawTick) (int, error) {
	for i, raw := range ticks {
		if err := h.sink.Submit(ctx, raw); err != nil {
			observability.RecordFeedMessage(sourceKafka, "rejected")
			return i, fmt.Errorf("submit %s: %w", raw.Symbol, err)
		}
		observability.RecordFeedMessage(sourceKafka, "ok")
	}
	return len(ticks), nil
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads a topic with a consumer group and commits each message
// after its ticks were accepted by the sink.
type KafkaConsumer struct {
	reader  messageReader
	handler *KafkaHandler
	logger  *zap.Logger
	backoff time.Duration

	maxAttempts int
}

// NewKafkaConsumer creates a consumer group reader for config.Topic.
func NewKafkaConsumer(config KafkaConfig, handler *KafkaHandler, logger *zap.Logger) (*KafkaConsumer, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "candle-engine"
	}
	if config.MinBytes <= 0 {
		config.MinBytes = 1
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 10e6
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		StartOffset: kafka.FirstOffset,
	})
	return newKafkaConsumer(reader, handler, logger), nil
}

func newKafkaConsumer(reader messageReader, handler *KafkaHandler, logger *zap.Logger) *KafkaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaConsumer{reader: reader, handler: handler, logger: logger, backoff: time.Second, maxAttempts: 3}
}

// Run consumes until ctx is done, then closes the reader. It returns an
// error when a message keeps failing so it is not silently skipped.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("close kafka reader", zap.Error(err))
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch kafka message", zap.Error(err))
			if !sleepCtx(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.logger.Error("commit kafka message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// handle retries msg until all of its ticks are accepted. A retry resumes
// after the last accepted tick. The offset stays uncommitted when every
// attempt fails.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	ticks, ok := c.handler.decode(msg)
	if !ok {
		return nil
	}

	next := 0
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var n int
		n, err = c.handler.submit(ctx, ticks[next:])
		next += n
		if err == nil {
			return nil
		}
		c.logger.Error("handle kafka message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Int("accepted", next),
			zap.Int("ticks", len(ticks)),
			zap.Error(err),
		)
		if attempt < c.maxAttempts && !sleepCtx(ctx, c.backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("kafka message %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
