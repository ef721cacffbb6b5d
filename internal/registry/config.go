package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/kvstore"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FEATURESTORE_"

// ConfigValidator validates the dialect specific part of a configuration.
// Each dialect registers one from init.
type ConfigValidator interface {
	// Validate checks config for the dialect returned by Type.
	Validate(config *InternalConfig) error

	// Type returns the dialect name the validator applies to.
	Type() string
}

var (
	validatorRegistry      = make(map[string]ConfigValidator)
	validatorRegistryMutex sync.RWMutex
)

// RegisterValidator registers a config validator. It panics if validator is
// nil, has no type or its type is already registered.
func RegisterValidator(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// GetValidator retrieves the validator of a dialect.
func GetValidator(dialect string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[dialect]
	return validator, exists
}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	mu     sync.RWMutex
	config *InternalConfig
}

// NewConfigManager creates a configuration manager holding the defaults.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{config: DefaultConfig()}
}

// NewConfigManagerFrom validates config and wraps it.
func NewConfigManagerFrom(config *InternalConfig) (*ConfigManager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &ConfigManager{config: config}, nil
}

// DefaultConfig returns a configuration with sensible defaults. It is not
// valid on its own: the database name and credentials have to be supplied.
func DefaultConfig() *InternalConfig {
	return &InternalConfig{
		Database: InternalDatabaseConfig{
			Dialect:           "mysql",
			Host:              "localhost",
			Port:              3306,
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		Tables: make(map[string]InternalTableConfig),
		Events: InternalEventsConfig{
			Kafka: InternalKafkaConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "featurestore-events",
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				QueueSize:    10000,
				PublishRate:  500,
			},
			Redis: InternalRedisEventsConfig{
				Endpoints:     []string{"localhost:6379"},
				ChannelPrefix: "featurestore:events:",
			},
		},
		Sequences: InternalSequenceConfig{
			Redis: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 2,
			},
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Logging: InternalLoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: InternalMetricsConfig{
			Address: ":9090",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data on top of the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.replace(config)
}

// LoadFromJSON loads configuration from JSON data on top of the defaults.
// Durations are given in nanoseconds.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.replace(config)
}

// LoadFromEnv applies environment overrides to the current configuration.
// Variables follow the pattern FEATURESTORE_<SECTION>_<KEY>, for example:
//   - FEATURESTORE_DATABASE_DIALECT=postgis
//   - FEATURESTORE_DATABASE_HOST=db.internal
//   - FEATURESTORE_DATABASE_PORT=5432
//   - FEATURESTORE_SEQUENCES_TYPE=redis
//   - FEATURESTORE_EVENTS_KAFKA_BROKERS=kafka-1:9092,kafka-2:9092
//
// Unparsable numbers and durations are reported as errors.
func (cm *ConfigManager) LoadFromEnv() error {
	cm.mu.RLock()
	config := cm.config.clone()
	cm.mu.RUnlock()

	env := envReader{}
	db := &config.Database
	env.str("DATABASE_DIALECT", &db.Dialect)
	env.str("DATABASE_DSN", &db.DSN)
	env.str("DATABASE_HOST", &db.Host)
	env.integer("DATABASE_PORT", &db.Port)
	env.str("DATABASE_DATABASE", &db.Database)
	env.str("DATABASE_USERNAME", &db.Username)
	env.str("DATABASE_PASSWORD", &db.Password)
	env.str("DATABASE_SSL_MODE", &db.SSLMode)
	env.str("DATABASE_SCHEMA", &db.Schema)
	env.integer("DATABASE_MAX_OPEN_CONNS", &db.MaxOpenConns)
	env.integer("DATABASE_MAX_IDLE_CONNS", &db.MaxIdleConns)
	env.duration("DATABASE_CONN_MAX_LIFETIME", &db.ConnMaxLifetime)
	env.duration("DATABASE_CONNECTION_TIMEOUT", &db.ConnectionTimeout)

	seq := &config.Sequences
	env.str("SEQUENCES_TYPE", &seq.Type)
	env.list("SEQUENCES_REDIS_ENDPOINTS", &seq.Redis.Endpoints)
	env.str("SEQUENCES_REDIS_PASSWORD", &seq.Redis.Password)
	env.integer("SEQUENCES_REDIS_DB", &seq.Redis.DB)
	env.str("SEQUENCES_DYNAMODB_REGION", &seq.DynamoDB.Region)
	env.str("SEQUENCES_DYNAMODB_TABLE_NAME", &seq.DynamoDB.TableName)
	env.str("SEQUENCES_DYNAMODB_ENDPOINT", &seq.DynamoDB.Endpoint)
	env.str("SEQUENCES_BOLT_PATH", &seq.Bolt.Path)

	kafka := &config.Events.Kafka
	env.boolean("EVENTS_KAFKA_ENABLED", &kafka.Enabled)
	env.list("EVENTS_KAFKA_BROKERS", &kafka.Brokers)
	env.str("EVENTS_KAFKA_TOPIC", &kafka.Topic)
	env.integer("EVENTS_KAFKA_BATCH_SIZE", &kafka.BatchSize)
	env.integer("EVENTS_KAFKA_PUBLISH_RATE", &kafka.PublishRate)

	redisEvents := &config.Events.Redis
	env.boolean("EVENTS_REDIS_ENABLED", &redisEvents.Enabled)
	env.list("EVENTS_REDIS_ENDPOINTS", &redisEvents.Endpoints)
	env.str("EVENTS_REDIS_PASSWORD", &redisEvents.Password)
	env.str("EVENTS_REDIS_CHANNEL_PREFIX", &redisEvents.ChannelPrefix)

	env.str("LOGGING_LEVEL", &config.Logging.Level)
	env.str("LOGGING_FORMAT", &config.Logging.Format)
	env.boolean("LOGGING_NO_COLOR", &config.Logging.NoColor)

	env.boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	env.str("METRICS_ADDRESS", &config.Metrics.Address)

	if len(env.errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(env.errs, "; "))
	}
	return cm.replace(config)
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// GetTableConfig returns the overrides of a feature type, with the defaults
// filled in.
func (cm *ConfigManager) GetTableConfig(typeName string) InternalTableConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	tableConfig := cm.config.Tables[typeName]
	if tableConfig.Table == "" {
		tableConfig.Table = typeName
	}
	if tableConfig.Schema == "" {
		tableConfig.Schema = cm.config.Database.Schema
	}
	if tableConfig.SequenceKey == "" {
		tableConfig.SequenceKey = typeName
	}
	return tableConfig
}

// SetTableConfig replaces the overrides of one feature type. Cached schemas
// are not affected until they are invalidated.
func (cm *ConfigManager) SetTableConfig(typeName string, tableConfig InternalTableConfig) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := validateTable(typeName, tableConfig); err != nil {
		return err
	}
	if cm.config.Tables == nil {
		cm.config.Tables = make(map[string]InternalTableConfig)
	}
	cm.config.Tables[typeName] = tableConfig
	return nil
}

func (cm *ConfigManager) replace(config *InternalConfig) error {
	if err := ValidateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.mu.Lock()
	cm.config = config
	cm.mu.Unlock()
	return nil
}

// ValidateConfig checks config. The dialect specific checks are delegated to
// the validator registered for the dialect.
func ValidateConfig(config *InternalConfig) error {
	if config.Database.Dialect == "" {
		return fmt.Errorf("database.dialect is required")
	}
	validator, exists := GetValidator(config.Database.Dialect)
	if !exists {
		return fmt.Errorf("unsupported database dialect: %s", config.Database.Dialect)
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if config.Database.MaxOpenConns < 0 || config.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database pool sizes must be non-negative")
	}

	for name, table := range config.Tables {
		if err := validateTable(name, table); err != nil {
			return err
		}
	}

	if seq := config.Sequences; seq.Type != "" {
		if !kvstore.IsTypeRegistered(seq.Type) {
			return fmt.Errorf("unsupported sequences.type: %s (registered: %s)",
				seq.Type, strings.Join(kvstore.GetRegisteredTypes(), ", "))
		}
	}

	if kafka := config.Events.Kafka; kafka.Enabled {
		if len(kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required when kafka is enabled")
		}
		if kafka.Topic == "" {
			return fmt.Errorf("events.kafka.topic is required when kafka is enabled")
		}
		if kafka.PublishRate < 0 || kafka.BatchSize < 0 || kafka.QueueSize < 0 {
			return fmt.Errorf("events.kafka sizes and rates must be non-negative")
		}
	}
	if redisEvents := config.Events.Redis; redisEvents.Enabled && len(redisEvents.Endpoints) == 0 {
		return fmt.Errorf("events.redis.endpoints is required when redis events are enabled")
	}

	switch config.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	if config.Metrics.Enabled && config.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

func validateTable(name string, table InternalTableConfig) error {
	if name == "" {
		return fmt.Errorf("tables: type name cannot be empty")
	}
	if table.SRID < 0 {
		return fmt.Errorf("tables.%s.srid must be non-negative", name)
	}
	for column, typ := range table.ColumnTypes {
		if _, err := core.ParseValueType(typ); err != nil {
			return fmt.Errorf("tables.%s.column_types.%s: %w", name, column, err)
		}
	}
	return nil
}

func (c *InternalConfig) clone() *InternalConfig {
	out := *c
	out.Tables = make(map[string]InternalTableConfig, len(c.Tables))
	for k, v := range c.Tables {
		out.Tables[k] = v
	}
	return &out
}

// envReader collects FEATURESTORE_ overrides and the parse errors they cause.
type envReader struct {
	errs []string
}

func (e *envReader) lookup(key string) (string, bool) {
	val := os.Getenv(EnvPrefix + key)
	return val, val != ""
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.lookup(key); ok {
		*dst = val
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if val, ok := e.lookup(key); ok {
		*dst = strings.Split(val, ",")
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if val, ok := e.lookup(key); ok {
		*dst = val == "true" || val == "1"
	}
}

func (e *envReader) integer(key string, dst *int) {
	if val, ok := e.lookup(key); ok {
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, key, val))
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if val, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s%s=%q is not a duration", EnvPrefix, key, val))
			return
		}
		*dst = d
	}
}
