package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-spatial/geom"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/logging"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
)

func sampleEvent() core.FeatureEvent {
	return core.FeatureEvent{
		Kind:       core.FeaturesChanged,
		TypeName:   "roads",
		TxHandle:   "tx-1",
		Bounds:     &geom.Extent{0, 1, 2, 3},
		FeatureIDs: []string{"roads.7"},
	}
}

func TestDispatcherSurvivesFailingListeners(t *testing.T) {
	d := NewDispatcher(logging.Discard())
	var got []string
	d.Add(core.ListenerFunc(func(context.Context, core.FeatureEvent) error { panic("boom") }))
	d.Add(core.ListenerFunc(func(context.Context, core.FeatureEvent) error { return errors.New("down") }))
	last := core.ListenerFunc(func(_ context.Context, ev core.FeatureEvent) error {
		got = append(got, ev.TypeName)
		return nil
	})
	d.Add(last)
	assert.Equal(t, 3, d.Len())

	assert.NotPanics(t, func() { d.Notify(context.Background(), sampleEvent()) })
	assert.Equal(t, []string{"roads"}, got)
}

func TestMessageEncoding(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := NewMessage(sampleEvent(), now).Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "changed", decoded["kind"])
	assert.Equal(t, "roads", decoded["type"])
	assert.Equal(t, []interface{}{0.0, 1.0, 2.0, 3.0}, decoded["bounds"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["timestamp"])

	data, err = NewMessage(core.FeatureEvent{Kind: core.FeaturesAdded, TypeName: "roads"}, now).Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "bounds")
}

func TestMemoryQueueBounds(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &Message{TypeName: "a"}))
	require.NoError(t, q.Enqueue(ctx, &Message{TypeName: "b"}))
	assert.ErrorIs(t, q.Enqueue(ctx, &Message{TypeName: "c"}), ErrQueueFull)

	batch := q.Dequeue(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].TypeName)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, &Message{}), ErrQueueClosed)
}

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeKafkaWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestKafkaPublisherPublishesInBackground(t *testing.T) {
	w := &fakeKafkaWriter{}
	m := metrics.New(nil)
	p := NewKafkaPublisher(w, KafkaConfig{PublishRate: 1000, BatchSize: 10}, logging.Discard(), m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.OnFeatureEvent(ctx, sampleEvent()))
	}
	assert.Eventually(t, func() bool { return w.count() == 5 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.True(t, w.closed)
	assert.Equal(t, "roads", string(w.msgs[0].Key))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("kafka", "ok")))
}

func TestKafkaPublisherFlushesOnStop(t *testing.T) {
	w := &fakeKafkaWriter{}
	p := NewKafkaPublisher(w, KafkaConfig{QueueSize: 3}, logging.Discard(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.OnFeatureEvent(ctx, sampleEvent()))
	}
	assert.Error(t, p.OnFeatureEvent(ctx, sampleEvent()), "queue is full")
	assert.Equal(t, 3, p.Pending())

	require.NoError(t, p.Stop())
	assert.Equal(t, 3, w.count())
}

func TestNewKafkaWriterValidates(t *testing.T) {
	_, err := NewKafkaWriter(KafkaConfig{Topic: "events"})
	assert.Error(t, err)
	_, err = NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	w, err := NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"})
	require.NoError(t, err)
	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, 100, w.BatchSize)
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher(t *testing.T) {
	client := &fakeRedis{}
	p := NewRedisPublisher(client, "", logging.Discard(), nil)

	require.NoError(t, p.OnFeatureEvent(context.Background(), sampleEvent()))
	assert.Equal(t, "featurestore:events:roads", client.channel)
	assert.Contains(t, string(client.payload), `"feature_ids":["roads.7"]`)

	client.err = errors.New("connection refused")
	assert.ErrorContains(t, p.OnFeatureEvent(context.Background(), sampleEvent()), "connection refused")
}
