package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skothari-dev/loom/internal/core"
)

// RedisCache implements the core.Cache interface using Redis. It is
// the backend of choice when query results must be shared across
// processes.
type RedisCache struct {
	client *redis.Client
	closed bool
}

// NewRedisCache creates a Redis cache backend and verifies the
// connection before returning.
func NewRedisCache(endpoints []string, password string, db, poolSize, minIdleConns int, dialTimeout, readTimeout, writeTimeout time.Duration) (*RedisCache, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	// Single-node Redis only; cluster mode is not needed for a
	// per-site result cache.
	opts := &redis.Options{
		Addr:         endpoints[0],
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a cached value by key. Missing keys return
// core.ErrNotFound.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, core.ErrNoConnection
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		log.Printf("[CACHE] ERROR: Failed to get key %s: %v", key, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	log.Printf("[CACHE] Hit for key %s (%d bytes)", key, len(val))
	return val, nil
}

// Set stores a key-value pair with an optional TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed {
		return core.ErrNoConnection
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("[CACHE] ERROR: Failed to set key %s: %v", key, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	log.Printf("[CACHE] Stored key %s (%d bytes, ttl %v)", key, len(value), ttl)
	return nil
}

// Delete removes a key from the cache.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if r.closed {
		return core.ErrNoConnection
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Close closes the connection to Redis.
func (r *RedisCache) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true
	return r.client.Close()
}

// RedisCacheFactory creates Redis cache instances.
type RedisCacheFactory struct{}

func (f *RedisCacheFactory) Type() string { return "redis" }

// Validate validates the Redis-specific configuration.
func (f *RedisCacheFactory) Validate(config Config) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
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
		return fmt.Errorf("dial_timeout must be greater than 0, got: %d", config.DialTimeout)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %d", config.ReadTimeout)
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %d", config.WriteTimeout)
	}
	return nil
}

// Create creates a new Redis cache instance from the configuration.
func (f *RedisCacheFactory) Create(config Config) (core.Cache, error) {
	store, err := NewRedisCache(
		config.Endpoints,
		config.Password,
		config.DB,
		config.PoolSize,
		config.MinIdleConns,
		time.Duration(config.DialTimeout),
		time.Duration(config.ReadTimeout),
		time.Duration(config.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis cache: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&RedisCacheFactory{})
}
