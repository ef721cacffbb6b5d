package client

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/dialect"
	"github.com/rzpsarthak13/featurestore/internal/filter"
	"github.com/rzpsarthak13/featurestore/internal/registry"
)

type yamlProvider string

func (p yamlProvider) GetYAML() ([]byte, error) { return []byte(p), nil }

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

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
}

func (f *fakeRedis) Publish(_ context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return redis.NewIntResult(0, nil)
}

func newDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")
	db, err := database.Open(context.Background(), dialect.NewSQLite(), database.Config{Database: path})
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE parcels (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	return path
}

func sqliteConfig(path string, extra string) yamlProvider {
	return yamlProvider(fmt.Sprintf("database:\n  dialect: sqlite\n  database: %s\n%s", path, extra))
}

const eventsYAML = `events:
  kafka:
    enabled: true
    topic: parcel-events
  redis:
    enabled: true
    channel_prefix: "test:"
`

func insert(t *testing.T, c *ClientImpl, name string) {
	t.Helper()
	ctx := context.Background()
	s, err := c.Store()
	require.NoError(t, err)
	w, err := s.OpenWriter(ctx, "parcels", filter.None, nil)
	require.NoError(t, err)
	f, err := w.Next()
	require.NoError(t, err)
	require.NoError(t, f.Set("name", name))
	require.NoError(t, w.Write(ctx))
	require.NoError(t, w.Close())
}

func TestClientPublishesEvents(t *testing.T) {
	ctx := context.Background()
	kw := &fakeKafkaWriter{}
	rp := &fakeRedis{}
	c, err := NewClientImpl(ctx, sqliteConfig(newDatabase(t), eventsYAML),
		WithLogOutput(io.Discard), WithKafkaWriter(kw), WithRedisPublisher(rp))
	require.NoError(t, err)

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())
	require.NoError(t, c.Start(ctx), "second start is a no-op")

	insert(t, c, "A")
	assert.Equal(t, []string{"test:parcels"}, rp.channels)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	kw.mu.Lock()
	require.Len(t, kw.msgs, 1)
	assert.Equal(t, "parcels", string(kw.msgs[0].Key))
	assert.True(t, kw.closed)
	kw.mu.Unlock()

	assert.Error(t, c.Start(ctx), "a stopped client cannot restart")

	insert(t, c, "B")
	assert.Len(t, rp.channels, 2, "redis keeps publishing after Stop")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Store()
	assert.ErrorContains(t, err, "closed")
	assert.Error(t, c.Start(ctx))
}

func TestCloseFlushesUnstartedPublisher(t *testing.T) {
	ctx := context.Background()
	kw := &fakeKafkaWriter{}
	c, err := NewClientImpl(ctx, sqliteConfig(newDatabase(t), eventsYAML),
		WithLogOutput(io.Discard), WithKafkaWriter(kw), WithRedisPublisher(&fakeRedis{}))
	require.NoError(t, err)

	insert(t, c, "A")
	require.NoError(t, c.Close())
	assert.Len(t, kw.msgs, 1)
	assert.True(t, kw.closed)
}

func TestNewClientImplErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewClientImpl(ctx, nil)
	assert.Error(t, err)

	_, err = NewClientImpl(ctx, yamlProvider("database:\n  dialect: oracle\n"))
	assert.ErrorContains(t, err, "failed to load config")

	missing := filepath.Join(t.TempDir(), "missing", "dir", "x.db")
	_, err = NewClientImpl(ctx, sqliteConfig(missing, ""), WithLogOutput(io.Discard))
	assert.ErrorContains(t, err, "failed to open sqlite database")

	_, err = NewClientImpl(ctx, sqliteConfig(newDatabase(t), "logging:\n  level: loud\n"))
	assert.ErrorContains(t, err, "failed to build logger")
}

func TestLifecycleHooksAndMetrics(t *testing.T) {
	ctx := context.Background()
	c, err := NewClientImpl(ctx, sqliteConfig(newDatabase(t), ""), WithLogOutput(io.Discard))
	require.NoError(t, err)
	defer c.Close()

	var discovered []string
	c.LifecycleManager().RegisterHook(registry.LifecycleHookFunc{
		OnDiscoverFunc: func(_ context.Context, typeName string, _ *core.Schema) error {
			discovered = append(discovered, typeName)
			return nil
		},
	})

	insert(t, c, "A")
	assert.Equal(t, []string{"parcels"}, discovered)

	rec := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `featurestore_rows_written_total{op="insert",type="parcels"} 1`)
}
