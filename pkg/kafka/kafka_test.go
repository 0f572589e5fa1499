package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
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
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type recordingHandler struct {
	topic string
	mu    sync.Mutex
	seen  []string
	fail  map[string]int
}

func (h *recordingHandler) Topic() string { return h.topic }

func (h *recordingHandler) Handle(_ context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(data)
	h.seen = append(h.seen, key)
	if h.fail[key] > 0 {
		h.fail[key]--
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHandler) Seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func newTestConsumer(t *testing.T, reader *fakeReader, opts ...ConsumerOption) *Consumer {
	t.Helper()
	base := []ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRegisterer(prometheus.NewRegistry()),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithReaderFactory(func(*ConsumerConfig, string) MessageReader { return reader }),
	}
	c, err := NewConsumer(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestConsumerHandlesInOrderAndCommits(t *testing.T) {
	t.Parallel()

	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("a")},
		kafka.Message{Offset: 2, Value: []byte("b")},
		kafka.Message{Offset: 3, Value: []byte("c")},
	)
	h := &recordingHandler{topic: "ticks", fail: map[string]int{"b": 1}}

	c := newTestConsumer(t, reader)
	c.RegisterHandler(h)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.Committed()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, []string{"a", "b", "b", "c"}, h.Seen())
	assert.Equal(t, []int64{1, 2, 3}, reader.Committed())
	assert.True(t, reader.closed)
}

func TestConsumerSendsExhaustedMessagesToDLQ(t *testing.T) {
	t.Parallel()

	reader := newFakeReader(kafka.Message{Offset: 7, Key: []byte("k"), Value: []byte("bad")})
	dlq := &fakeWriter{}
	h := &recordingHandler{topic: "ticks", fail: map[string]int{"bad": 10}}

	c := newTestConsumer(t, reader, WithConsumerDLQ("ticks.dlq"), WithDLQWriter(dlq))
	c.RegisterHandler(h)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Len(t, h.Seen(), 3)
	msgs := dlq.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ticks.dlq", msgs[0].Topic)
	assert.Equal(t, []byte("bad"), msgs[0].Value)
	assert.Equal(t, "source_topic", msgs[0].Headers[0].Key)
}

func TestConsumerLeavesFailuresUncommittedWithoutDLQ(t *testing.T) {
	t.Parallel()

	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("bad")},
		kafka.Message{Offset: 2, Value: []byte("ok")},
	)
	h := &recordingHandler{topic: "ticks", fail: map[string]int{"bad": 10}}

	c := newTestConsumer(t, reader)
	c.RegisterHandler(h)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []int64{2}, reader.Committed())
}

func TestConsumerRequiresHandlersAndBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer()
	assert.Error(t, err)

	c := newTestConsumer(t, newFakeReader())
	assert.Error(t, c.Start(context.Background()))
}

func TestHookChainOrderAndPanicSafety(t *testing.T) {
	t.Parallel()

	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				order = append(order, "after:"+name)
			},
		}
	}

	chain := NewHookChain(mk("a"), nil, mk("b"))
	ctx, _, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	chain.AfterHandle(ctx, "t", kafka.Message{}, data, nil)

	assert.Equal(t, "xab", string(data))
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)

	panicky := HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("nope")
	}}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestTraceIDFromHeaders(t *testing.T) {
	t.Parallel()

	msg := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	assert.Equal(t, "abc", ExtractTraceID(msg))
	assert.Equal(t, "abc", TraceID(WithTraceID(context.Background(), ExtractTraceID(msg))))
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestProducerEncodesValues(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p, err := NewProducer(WithWriter(w), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "candles", []byte("NIFTY"), map[string]int{"v": 1}))
	require.NoError(t, p.PublishBatch(context.Background(), "candles", []Message{{Value: "raw"}, {Value: []byte("bytes")}}))
	require.NoError(t, p.PublishBatch(context.Background(), "candles", nil))

	msgs := w.Messages()
	require.Len(t, msgs, 3)
	assert.JSONEq(t, `{"v":1}`, string(msgs[0].Value))
	assert.Equal(t, []byte("NIFTY"), msgs[0].Key)
	assert.Equal(t, "raw", string(msgs[1].Value))
	assert.Equal(t, "bytes", string(msgs[2].Value))
}

func TestProducerWrapsWriteErrors(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("broker down")}
	p, err := NewProducer(WithWriter(w), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	err = p.Publish(context.Background(), "candles", nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	_, err = NewProducer(WithProducerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
