package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/dialect"
	"github.com/rzpsarthak13/featurestore/internal/event"
	"github.com/rzpsarthak13/featurestore/internal/kvstore"
	"github.com/rzpsarthak13/featurestore/internal/logging"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
	"github.com/rzpsarthak13/featurestore/internal/registry"
	"github.com/rzpsarthak13/featurestore/internal/store"
)

// ConfigProvider is an interface to provide configuration as YAML without importing the public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// ClientImpl owns the connections named by the configuration and the Store
// built on top of them.
type ClientImpl struct {
	mu        sync.RWMutex
	configMgr *registry.ConfigManager
	lifecycle *registry.LifecycleManager
	types     *registry.TypeRegistry
	db        *sql.DB
	store     *store.Store
	sequences kvstore.Counter
	redis     *redis.Client
	kafka     *event.KafkaPublisher
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	state     state
	closed    bool
}

type options struct {
	logOutput   io.Writer
	logger      *slog.Logger
	kafkaWriter event.MessageWriter
	redisClient event.RedisPublisherClient
}

// Option customizes NewClientImpl.
type Option func(*options)

// WithLogOutput sends the configured logger's output to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithKafkaWriter publishes events through w instead of a writer dialed from
// the events.kafka section. The section must still be enabled.
func WithKafkaWriter(w event.MessageWriter) Option {
	return func(o *options) { o.kafkaWriter = w }
}

// WithRedisPublisher publishes events through c instead of a client dialed
// from the events.redis section. The section must still be enabled.
func WithRedisPublisher(c event.RedisPublisherClient) Option {
	return func(o *options) { o.redisClient = c }
}

// NewClientImpl creates a new feature store client implementation.
// It accepts a config provider to avoid import cycles.
func NewClientImpl(ctx context.Context, configProvider ConfigProvider, opts ...Option) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	configMgr := registry.NewConfigManager()
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config := configMgr.GetConfig()

	logger := o.logger
	if logger == nil {
		logger, err = logging.New(logging.Config{
			Level:   config.Logging.Level,
			Format:  config.Logging.Format,
			NoColor: config.Logging.NoColor,
		}, o.logOutput)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	lifecycle := registry.NewLifecycleManager()
	c := &ClientImpl{
		configMgr: configMgr,
		lifecycle: lifecycle,
		types:     registry.NewTypeRegistry(lifecycle),
		metrics:   metrics.New(reg),
		gatherer:  reg,
		logger:    logging.Component(logger, "client"),
	}

	if err := c.initializeConnections(ctx, logger, o); err != nil {
		_ = c.closeConnections()
		return nil, fmt.Errorf("failed to initialize connections: %w", err)
	}
	c.logger.Info("NewClientImpl() - client ready",
		"dialect", config.Database.Dialect, "sequences", config.Sequences.Type,
		"kafka", c.kafka != nil, "redis_events", config.Events.Redis.Enabled)
	return c, nil
}

// initializeConnections opens the database, the sequence counter and the
// event publishers, then builds the store.
func (c *ClientImpl) initializeConnections(ctx context.Context, logger *slog.Logger, o options) error {
	config := c.configMgr.GetConfig()

	d, err := dialect.Get(config.Database.Dialect)
	if err != nil {
		return err
	}
	c.db, err = database.Open(ctx, d, config.Database.Connection())
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", d.Name(), err)
	}

	if config.Sequences.Type != "" {
		c.sequences, err = kvstore.Create(config.Sequences.Counter())
		if err != nil {
			return fmt.Errorf("failed to create sequence counter: %w", err)
		}
	}

	c.store, err = store.New(store.Options{
		Dialect:   d,
		DB:        c.db,
		Config:    c.configMgr,
		Types:     c.types,
		Sequences: c.sequences,
		Logger:    logger,
		Metrics:   c.metrics,
	})
	if err != nil {
		return err
	}

	if kc := config.Events.Kafka; kc.Enabled {
		cfg := event.KafkaConfig{
			Brokers:      kc.Brokers,
			Topic:        kc.Topic,
			BatchSize:    kc.BatchSize,
			BatchTimeout: kc.BatchTimeout,
			WriteTimeout: kc.WriteTimeout,
			RequiredAcks: kc.RequiredAcks,
			QueueSize:    kc.QueueSize,
			PublishRate:  kc.PublishRate,
		}
		w := o.kafkaWriter
		if w == nil {
			if w, err = event.NewKafkaWriter(cfg); err != nil {
				return fmt.Errorf("failed to create Kafka writer: %w", err)
			}
		}
		c.kafka = event.NewKafkaPublisher(w, cfg, logging.Component(logger, "kafka"), c.metrics)
		c.store.AddListener(c.kafka)
	}

	if rc := config.Events.Redis; rc.Enabled {
		pub := o.redisClient
		if pub == nil {
			c.redis, err = kvstore.NewRedisClient(rc.Endpoints, rc.Password, rc.DB, 10, 0,
				5*time.Second, 3*time.Second, 3*time.Second)
			if err != nil {
				return fmt.Errorf("failed to create Redis publisher: %w", err)
			}
			pub = c.redis
		}
		c.store.AddListener(event.NewRedisPublisher(pub, rc.ChannelPrefix, logging.Component(logger, "redis"), c.metrics))
	}
	return nil
}

// Store returns the feature store.
func (c *ClientImpl) Store() (*store.Store, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	return c.store, nil
}

// ConfigManager returns the configuration the client was built from.
func (c *ClientImpl) ConfigManager() *registry.ConfigManager { return c.configMgr }

// LifecycleManager returns the manager whose hooks see every schema the
// store discovers or drops.
func (c *ClientImpl) LifecycleManager() *registry.LifecycleManager { return c.lifecycle }

// Logger returns the client's logger.
func (c *ClientImpl) Logger() *slog.Logger { return c.logger }

// MetricsHandler serves the client's Prometheus registry.
func (c *ClientImpl) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Start launches the Kafka publisher, if configured.
func (c *ClientImpl) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return fmt.Errorf("client is closed")
	case c.state == stateRunning:
		return nil
	case c.state == stateStopped:
		return fmt.Errorf("client was stopped and cannot be restarted")
	}
	if c.kafka != nil {
		c.kafka.Start(ctx)
	}
	c.state = stateRunning
	return nil
}

// Stop flushes and stops the Kafka publisher. Events written afterwards are
// no longer published to Kafka.
func (c *ClientImpl) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return nil
	}
	return c.stopPublisher()
}

func (c *ClientImpl) stopPublisher() error {
	c.state = stateStopped
	if c.kafka == nil {
		return nil
	}
	c.store.RemoveListener(c.kafka)
	if err := c.kafka.Stop(); err != nil {
		return fmt.Errorf("failed to stop Kafka publisher: %w", err)
	}
	return nil
}

// IsRunning reports whether Start was called and Stop was not.
func (c *ClientImpl) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateRunning
}

// Close stops the publisher and closes all connections.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.state != stateStopped {
		if err := c.stopPublisher(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.types.Clear(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear type registry: %w", err))
	}
	if err := c.closeConnections(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *ClientImpl) closeConnections() error {
	var errs []error
	if c.sequences != nil {
		if err := c.sequences.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sequence counter: %w", err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
