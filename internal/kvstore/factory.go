// Package kvstore holds the key-value backends the store uses outside the
// relational database: counters that hand out primary keys and the Redis
// client shared with the event publisher.
package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Counter is a named, atomically incremented integer.
type Counter interface {
	// Next increments the counter stored under key and returns the new value.
	Next(ctx context.Context, key string) (int64, error)

	// Close releases the backend connection.
	Close() error
}

// CounterFactory builds a Counter for one backend type.
type CounterFactory interface {
	// Type returns the backend name ("redis", "dynamodb", "bolt").
	Type() string

	// Validate checks the backend specific part of config.
	Validate(config Config) error

	// Create connects to the backend.
	Create(config Config) (Counter, error)
}

// Config selects and configures a counter backend.
type Config struct {
	Type string

	// Redis
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string // optional, the default credential chain is used otherwise
	SecretAccessKey string

	// Bolt
	Path string
}

var (
	factoryRegistry = make(map[string]CounterFactory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a counter factory. Implementations call it from
// init.
func RegisterFactory(factory CounterFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

// Create validates config and builds the counter of config.Type.
func Create(config Config) (Counter, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("counter type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported counter type: %s", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered backend names, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered reports whether a backend is registered.
func IsTypeRegistered(counterType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[counterType]
	return exists
}
