package featurestore

import (
	"fmt"

	"github.com/rzpsarthak13/featurestore/internal/registry"
)

// Config is the root configuration of a feature store client. It is loaded
// from YAML or JSON files, with FEATURESTORE_ environment overrides.
//
// A minimal file:
//
//	database:
//	  dialect: postgis
//	  host: db.internal
//	  database: gis
//	  username: reader
//	tables:
//	  roads:
//	    key_strategy: sequence
//	    srid: 4326
type Config = registry.InternalConfig

// DatabaseConfig selects the dialect and holds the connection settings.
type DatabaseConfig = registry.InternalDatabaseConfig

// TableConfig holds the per feature type overrides. Every field is optional.
type TableConfig = registry.InternalTableConfig

// EventsConfig configures the listeners that publish feature events.
type EventsConfig = registry.InternalEventsConfig

// KafkaConfig configures the Kafka event publisher.
type KafkaConfig = registry.InternalKafkaConfig

// RedisEventsConfig configures the Redis pub/sub event publisher.
type RedisEventsConfig = registry.InternalRedisEventsConfig

// SequenceConfig selects the external counter that feeds sequence keys.
type SequenceConfig = registry.InternalSequenceConfig

// RedisConfig configures a Redis sequence counter.
type RedisConfig = registry.InternalRedisConfig

// DynamoDBConfig configures a DynamoDB sequence counter.
type DynamoDBConfig = registry.InternalDynamoDBConfig

// BoltConfig configures a sequence counter kept in a local bbolt file.
type BoltConfig = registry.InternalBoltConfig

// LoggingConfig configures the logger.
type LoggingConfig = registry.InternalLoggingConfig

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig = registry.InternalMetricsConfig

// DefaultConfig returns a configuration with defaults for everything but the
// database name and credentials.
func DefaultConfig() *Config {
	return registry.DefaultConfig()
}

// LoadConfig reads the file at path, when path is not empty, and applies the
// FEATURESTORE_ environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cm := registry.NewConfigManager()
	if path != "" {
		if err := cm.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	if err := cm.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	return cm.GetConfig(), nil
}
