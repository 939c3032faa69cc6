package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-engine/internal/domain"
)

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func msg(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "ticks", Partition: 0, Offset: offset, Value: []byte(value)}
}

func TestKafkaHandler_Handle(t *testing.T) {
	sink := &recordingSink{}
	h := NewKafkaHandler(sink, nil)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, msg(1, `{"symbol":"NIFTY","ts":1,"ltp":1,"volume":1}`)))
	require.NoError(t, h.Handle(ctx, msg(2, `{oops`)))
	assert.Equal(t, []string{"NIFTY"}, sink.symbols())

	sink.err = errors.New("dispatcher closed")
	assert.Error(t, h.Handle(ctx, msg(3, `{"symbol":"TCS","ts":1,"ltp":1,"volume":1}`)))
}

func TestKafkaConsumer_CommitsAfterSubmit(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		msg(10, `{"symbol":"NIFTY","ts":1,"ltp":1,"volume":1}`),
		msg(11, `not json`),
		msg(12, `{"symbol":"TCS","ts":2,"ltp":2,"volume":1}`),
	}}
	sink := &recordingSink{}
	c := newKafkaConsumer(reader, NewKafkaHandler(sink, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{10, 11, 12}, reader.commits())
	assert.Equal(t, []string{"NIFTY", "TCS"}, sink.symbols())

	cancel()
	require.NoError(t, <-done)
	assert.True(t, reader.closed)
}

func TestKafkaConsumer_LeavesFailedMessageUncommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		msg(20, `{"symbol":"NIFTY","ts":1,"ltp":1,"volume":1}`),
	}}
	sink := &recordingSink{err: errors.New("queue closed")}
	c := newKafkaConsumer(reader, NewKafkaHandler(sink, nil), nil)
	c.backoff = time.Millisecond

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticks/0@20")
	assert.Empty(t, reader.commits())
	assert.True(t, reader.closed)
}

// stallingSink accepts ticks until it has taken limit, then fails once.
type stallingSink struct {
	recordingSink
	limit  int
	failed bool
}

func (s *stallingSink) Submit(ctx context.Context, raw domain.RawTick) error {
	s.mu.Lock()
	stall := !s.failed && len(s.ticks) == s.limit
	if stall {
		s.failed = true
	}
	s.mu.Unlock()
	if stall {
		return errors.New("queue full")
	}
	return s.recordingSink.Submit(ctx, raw)
}

func TestKafkaConsumer_RetryResumesAfterAcceptedTicks(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		msg(30, `[{"symbol":"NIFTY","ts":1,"ltp":1,"volume":1},{"symbol":"TCS","ts":1,"ltp":2,"volume":1},{"symbol":"INFY","ts":1,"ltp":3,"volume":1}]`),
	}}
	sink := &stallingSink{limit: 1}
	c := newKafkaConsumer(reader, NewKafkaHandler(sink, nil), nil)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"NIFTY", "TCS", "INFY"}, sink.symbols())

	cancel()
	require.NoError(t, <-done)
}

func TestNewKafkaConsumer_RequiresBrokersAndTopic(t *testing.T) {
	h := NewKafkaHandler(&recordingSink{}, nil)

	_, err := NewKafkaConsumer(KafkaConfig{Topic: "ticks"}, h, nil)
	assert.Error(t, err)

	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, h, nil)
	assert.Error(t, err)

	c, err := NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "ticks"}, h, nil)
	require.NoError(t, err)
	assert.NoError(t, c.reader.Close())
}
