package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIncrementer is the part of *redis.Client a RedisCounter needs.
type RedisIncrementer interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// RedisCounter implements Counter with INCR.
type RedisCounter struct {
	client RedisIncrementer
	prefix string
	closed bool
}

// NewRedisClient connects to the first endpoint and pings it. Cluster mode is
// not supported.
func NewRedisClient(endpoints []string, password string, db int, poolSize int, minIdleConns int, dialTimeout, readTimeout, writeTimeout time.Duration) (*redis.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         endpoints[0],
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisCounter wraps client. Keys are stored as prefix+key.
func NewRedisCounter(client RedisIncrementer, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

// Next implements Counter.
func (r *RedisCounter) Next(ctx context.Context, key string) (int64, error) {
	if r.closed {
		return 0, fmt.Errorf("counter is closed")
	}
	n, err := r.client.Incr(ctx, r.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", r.prefix+key, err)
	}
	return n, nil
}

// Close implements Counter.
func (r *RedisCounter) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// RedisCounterFactory creates Redis counters.
type RedisCounterFactory struct{}

// Type returns "redis".
func (f *RedisCounterFactory) Type() string {
	return "redis"
}

// Validate checks the Redis settings.
func (f *RedisCounterFactory) Validate(config Config) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if config.DB < 0 || config.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	}
	if config.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	}
	if config.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", config.MinIdleConns)
	}
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", config.DialTimeout)
	}
	return nil
}

// Create connects to Redis.
func (f *RedisCounterFactory) Create(config Config) (Counter, error) {
	client, err := NewRedisClient(config.Endpoints, config.Password, config.DB, config.PoolSize,
		config.MinIdleConns, config.DialTimeout, config.ReadTimeout, config.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis counter: %w", err)
	}
	return NewRedisCounter(client, "featurestore:seq:"), nil
}

func init() {
	RegisterFactory(&RedisCounterFactory{})
}
