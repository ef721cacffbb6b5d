package featurestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/featurestore/internal/client"
	"github.com/rzpsarthak13/featurestore/internal/event"
)

// Client is the main interface of the feature store. It discovers the
// tables of one database as feature types and hands out FeatureType handles
// to read and write them.
//
// Typical usage:
//
//	client, _ := featurestore.NewClient(config)
//	defer client.Close()
//
//	roads, _ := client.RegisterType(ctx, "roads", featurestore.WithSRID(4326))
//	client.Start(ctx) // start the event publisher
//	defer client.Stop()
//
//	r, _ := roads.Features(ctx, featurestore.Eq("kind", "highway"))
//	defer r.Close()
type Client interface {
	// RegisterType applies opts on top of the configured overrides of
	// typeName, discovers the table and returns a handle to it. A type that
	// was already discovered is discovered again.
	RegisterType(ctx context.Context, typeName string, opts ...TypeOption) (FeatureType, error)

	// GetType returns a handle to typeName. The table is discovered on first
	// use; an unknown type fails with ErrSchemaNotFound.
	GetType(ctx context.Context, typeName string) (FeatureType, error)

	// TypeNames lists the feature types of the database schema.
	TypeNames(ctx context.Context) ([]string, error)

	// BeginTransaction starts a shared transaction. Pass it to FeatureType
	// calls with InTransaction, then commit or roll it back.
	BeginTransaction(ctx context.Context, handle string) (*Transaction, error)

	// AddListener subscribes l to the events fired by writers.
	AddListener(l Listener)

	// RemoveListener unsubscribes l and reports whether it was subscribed.
	RemoveListener(l Listener) bool

	// RegisterHook adds a hook that sees every schema entering or leaving
	// the cache.
	RegisterHook(hook LifecycleHook)

	// MetricsHandler serves the client's Prometheus metrics.
	MetricsHandler() http.Handler

	// Start starts the background Kafka publisher, when events.kafka is
	// enabled. It is non-blocking.
	Start(ctx context.Context) error

	// Stop flushes the queued events and stops the publisher. A stopped
	// client cannot be started again.
	Stop() error

	// IsRunning returns whether the client was started and not stopped.
	IsRunning() bool

	// Close closes all connections and releases resources. It flushes the
	// publisher if Stop was not called.
	Close() error
}

// configProvider implements client.ConfigProvider to provide config as YAML without import cycles.
type configProvider struct {
	config *Config
}

func (cp *configProvider) GetYAML() ([]byte, error) {
	return yaml.Marshal(cp.config)
}

// Option customizes NewClient.
type Option = client.Option

// WithLogOutput sends log output to w instead of stderr.
func WithLogOutput(w io.Writer) Option { return client.WithLogOutput(w) }

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger *slog.Logger) Option { return client.WithLogger(logger) }

// WithKafkaWriter publishes events through w instead of a writer built from
// events.kafka. *kafka.Writer satisfies the interface.
func WithKafkaWriter(w event.MessageWriter) Option { return client.WithKafkaWriter(w) }

// clientWrapper wraps the internal client implementation to provide the public Client interface.
type clientWrapper struct {
	mu     sync.RWMutex
	impl   *client.ClientImpl
	config *Config
	types  map[string]*typeWrapper
}

// NewClient creates a feature store client with the provided configuration.
// It connects to the database, the sequence counter and the event
// publishers the configuration enables.
func NewClient(config *Config, opts ...Option) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	impl, err := client.NewClientImpl(context.Background(), &configProvider{config: config}, opts...)
	if err != nil {
		return nil, err
	}
	return &clientWrapper{
		impl:   impl,
		config: config,
		types:  make(map[string]*typeWrapper),
	}, nil
}

// RegisterType configures and discovers typeName.
func (cw *clientWrapper) RegisterType(ctx context.Context, typeName string, opts ...TypeOption) (FeatureType, error) {
	if typeName == "" {
		return nil, fmt.Errorf("type name cannot be empty")
	}
	s, err := cw.impl.Store()
	if err != nil {
		return nil, err
	}

	cm := cw.impl.ConfigManager()
	tableConfig := cm.GetConfig().Tables[typeName]
	for _, opt := range opts {
		opt(&tableConfig)
	}
	if err := cm.SetTableConfig(typeName, tableConfig); err != nil {
		return nil, fmt.Errorf("failed to configure %q: %w", typeName, err)
	}
	if err := s.Invalidate(ctx, typeName); err != nil {
		return nil, err
	}
	return cw.GetType(ctx, typeName)
}

// GetType returns a handle to typeName.
func (cw *clientWrapper) GetType(ctx context.Context, typeName string) (FeatureType, error) {
	s, err := cw.impl.Store()
	if err != nil {
		return nil, err
	}
	if _, err := s.SchemaFor(ctx, typeName); err != nil {
		return nil, err
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	tw, ok := cw.types[typeName]
	if !ok {
		tw = &typeWrapper{name: typeName, client: cw}
		cw.types[typeName] = tw
	}
	return tw, nil
}

// TypeNames lists the feature types of the database schema.
func (cw *clientWrapper) TypeNames(ctx context.Context) ([]string, error) {
	s, err := cw.impl.Store()
	if err != nil {
		return nil, err
	}
	names, err := s.TypeNames(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// BeginTransaction starts a shared transaction.
func (cw *clientWrapper) BeginTransaction(ctx context.Context, handle string) (*Transaction, error) {
	s, err := cw.impl.Store()
	if err != nil {
		return nil, err
	}
	return s.BeginTransaction(ctx, handle)
}

// AddListener subscribes l to feature events.
func (cw *clientWrapper) AddListener(l Listener) {
	if s, err := cw.impl.Store(); err == nil {
		s.AddListener(l)
	}
}

// RemoveListener unsubscribes l.
func (cw *clientWrapper) RemoveListener(l Listener) bool {
	s, err := cw.impl.Store()
	if err != nil {
		return false
	}
	return s.RemoveListener(l)
}

// RegisterHook adds a lifecycle hook.
func (cw *clientWrapper) RegisterHook(hook LifecycleHook) {
	cw.impl.LifecycleManager().RegisterHook(hook)
}

// MetricsHandler serves the client's metrics.
func (cw *clientWrapper) MetricsHandler() http.Handler {
	return cw.impl.MetricsHandler()
}

// Start starts the event publisher.
func (cw *clientWrapper) Start(ctx context.Context) error {
	return cw.impl.Start(ctx)
}

// Stop stops the event publisher.
func (cw *clientWrapper) Stop() error {
	return cw.impl.Stop()
}

// IsRunning returns whether the client is started.
func (cw *clientWrapper) IsRunning() bool {
	return cw.impl.IsRunning()
}

// Close closes all connections.
func (cw *clientWrapper) Close() error {
	cw.mu.Lock()
	cw.types = make(map[string]*typeWrapper)
	cw.mu.Unlock()
	return cw.impl.Close()
}

// TypeOption is a function type for configuring feature type overrides.
type TypeOption func(*TableConfig)

// WithTable maps the type to a table with a different name.
func WithTable(table string) TypeOption {
	return func(config *TableConfig) {
		config.Table = table
	}
}

// WithDatabaseSchema reads the table from a database schema other than
// database.schema.
func WithDatabaseSchema(schema string) TypeOption {
	return func(config *TableConfig) {
		config.Schema = schema
	}
}

// WithKeyStrategy selects how the primary key maps to feature ids: "auto",
// "sequence", "uuid", "columns" or "null".
func WithKeyStrategy(strategy string) TypeOption {
	return func(config *TableConfig) {
		config.KeyStrategy = strategy
	}
}

// WithSequenceKey names the counter key used by an external sequence.
func WithSequenceKey(key string) TypeOption {
	return func(config *TableConfig) {
		config.SequenceKey = key
	}
}

// WithAllowVolatile lets writers open on the type even when its feature ids
// are not stable.
func WithAllowVolatile(allow bool) TypeOption {
	return func(config *TableConfig) {
		config.AllowVolatile = allow
	}
}

// WithSRID overrides the spatial reference of the geometry attributes.
func WithSRID(srid int) TypeOption {
	return func(config *TableConfig) {
		config.SRID = srid
	}
}

// WithColumnType forces the value type of a column, e.g. "geometry" for a
// blob column holding WKB.
func WithColumnType(column, valueType string) TypeOption {
	return func(config *TableConfig) {
		types := make(map[string]string, len(config.ColumnTypes)+1)
		for k, v := range config.ColumnTypes {
			types[k] = v
		}
		types[column] = valueType
		config.ColumnTypes = types
	}
}
