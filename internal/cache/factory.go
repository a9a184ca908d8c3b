// Package cache provides the pluggable result cache behind query
// reads. Backends register themselves through init(), so selecting one
// is purely a matter of configuration.
package cache

import (
	"fmt"
	"sync"

	"github.com/skothari-dev/loom/internal/core"
)

// Factory is the strategy interface for creating cache backends. Each
// backend (memory, Redis, DynamoDB) implements this interface and
// registers itself on package initialization.
type Factory interface {
	// Create creates a new cache instance from the provided configuration.
	Create(config Config) (core.Cache, error)

	// Type returns the type identifier for this factory (e.g. "redis").
	Type() string

	// Validate validates the configuration specific to this backend.
	Validate(config Config) error
}

// Config carries the settings needed to create any cache backend.
// Backend-specific fields are ignored by the others.
type Config struct {
	Type         string
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  int64 // nanoseconds
	ReadTimeout  int64 // nanoseconds
	WriteTimeout int64 // nanoseconds

	// DynamoDB-specific fields
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string // optional, can use IAM role instead
	SecretAccessKey string // optional, can use IAM role instead
}

var (
	factoryRegistry = make(map[string]Factory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a cache backend factory. Called by each
// implementation's init() function.
func RegisterFactory(factory Factory) {
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

// Create creates a cache instance using the factory registered for
// config.Type.
func Create(config Config) (core.Cache, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("cache type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}

	return factory.Create(config)
}

// RegisteredTypes returns the type identifiers of all registered
// backends.
func RegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	return types
}
