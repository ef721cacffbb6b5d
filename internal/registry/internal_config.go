package registry

import (
	"time"

	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/kvstore"
)

// InternalConfig represents the internal configuration structure.
// This is a copy of the public Config type to avoid import cycles.
type InternalConfig struct {
	Database  InternalDatabaseConfig         `yaml:"database" json:"database"`
	Tables    map[string]InternalTableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`
	Events    InternalEventsConfig           `yaml:"events,omitempty" json:"events,omitempty"`
	Sequences InternalSequenceConfig         `yaml:"sequences,omitempty" json:"sequences,omitempty"`
	Logging   InternalLoggingConfig          `yaml:"logging,omitempty" json:"logging,omitempty"`
	Metrics   InternalMetricsConfig          `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// InternalDatabaseConfig contains configuration for the feature database.
type InternalDatabaseConfig struct {
	// Dialect is a registered dialect name ("mysql", "postgis", "sqlite").
	Dialect string `yaml:"dialect" json:"dialect"`

	// DSN overrides the connection fields when set.
	DSN      string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// Schema is the database schema tables are looked up in.
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`

	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// Connection converts the section into the pool configuration.
func (c InternalDatabaseConfig) Connection() database.Config {
	return database.Config{
		DSN:               c.DSN,
		Host:              c.Host,
		Port:              c.Port,
		Database:          c.Database,
		Username:          c.Username,
		Password:          c.Password,
		SSLMode:           c.SSLMode,
		MaxOpenConns:      c.MaxOpenConns,
		MaxIdleConns:      c.MaxIdleConns,
		ConnMaxLifetime:   c.ConnMaxLifetime,
		ConnMaxIdleTime:   c.ConnMaxIdleTime,
		ConnectionTimeout: c.ConnectionTimeout,
	}
}

// InternalTableConfig contains per feature type overrides. Every field is
// optional.
type InternalTableConfig struct {
	// Table is the physical table name when it differs from the type name.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// Schema overrides database.schema for this table.
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`

	// KeyStrategy names a keymapper strategy. Empty picks one from the key
	// layout.
	KeyStrategy string `yaml:"key_strategy,omitempty" json:"key_strategy,omitempty"`

	// SequenceKey is the counter key used when sequences come from an
	// external counter. Defaults to the type name.
	SequenceKey string `yaml:"sequence_key,omitempty" json:"sequence_key,omitempty"`

	// AllowVolatile lets writers open on tables whose ids are not stable.
	AllowVolatile bool `yaml:"allow_volatile,omitempty" json:"allow_volatile,omitempty"`

	// SRID replaces the discovered spatial reference of geometry columns.
	SRID int `yaml:"srid,omitempty" json:"srid,omitempty"`

	// ColumnTypes forces the value type of columns, by column name.
	ColumnTypes map[string]string `yaml:"column_types,omitempty" json:"column_types,omitempty"`
}

// InternalEventsConfig configures the listeners that publish feature events.
type InternalEventsConfig struct {
	Kafka InternalKafkaConfig       `yaml:"kafka,omitempty" json:"kafka,omitempty"`
	Redis InternalRedisEventsConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// InternalKafkaConfig contains Kafka publisher configuration.
type InternalKafkaConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Brokers      []string      `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic        string        `yaml:"topic,omitempty" json:"topic,omitempty"`
	BatchSize    int           `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty" json:"batch_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	RequiredAcks int           `yaml:"required_acks,omitempty" json:"required_acks,omitempty"`
	QueueSize    int           `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`

	// PublishRate is the number of messages per second sent to the brokers.
	PublishRate int `yaml:"publish_rate,omitempty" json:"publish_rate,omitempty"`
}

// InternalRedisEventsConfig contains Redis pub/sub publisher configuration.
type InternalRedisEventsConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Endpoints     []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Password      string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB            int      `yaml:"db,omitempty" json:"db,omitempty"`
	ChannelPrefix string   `yaml:"channel_prefix,omitempty" json:"channel_prefix,omitempty"`
}

// InternalSequenceConfig selects the counter backend that feeds sequence
// keys. An empty Type allocates MAX(key)+1 in the database.
type InternalSequenceConfig struct {
	Type         string                 `yaml:"type,omitempty" json:"type,omitempty"`
	Redis        InternalRedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB     InternalDynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
	Bolt         InternalBoltConfig     `yaml:"bolt,omitempty" json:"bolt,omitempty"`
	DialTimeout  time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// Counter converts the section into the counter backend configuration.
func (c InternalSequenceConfig) Counter() kvstore.Config {
	return kvstore.Config{
		Type:            c.Type,
		Endpoints:       c.Redis.Endpoints,
		Password:        c.Redis.Password,
		DB:              c.Redis.DB,
		PoolSize:        c.Redis.PoolSize,
		MinIdleConns:    c.Redis.MinIdleConns,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		Region:          c.DynamoDB.Region,
		TableName:       c.DynamoDB.TableName,
		Endpoint:        c.DynamoDB.Endpoint,
		AccessKeyID:     c.DynamoDB.AccessKeyID,
		SecretAccessKey: c.DynamoDB.SecretAccessKey,
		Path:            c.Bolt.Path,
	}
}

// InternalBoltConfig points at the local file holding the counters.
type InternalBoltConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MinIdleConns int      `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalLoggingConfig contains logger configuration.
type InternalLoggingConfig struct {
	Level   string `yaml:"level,omitempty" json:"level,omitempty"`
	Format  string `yaml:"format,omitempty" json:"format,omitempty"`
	NoColor bool   `yaml:"no_color,omitempty" json:"no_color,omitempty"`
}

// InternalMetricsConfig contains the Prometheus endpoint configuration.
type InternalMetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}
