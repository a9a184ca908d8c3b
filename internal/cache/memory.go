package cache

import (
	"context"
	"sync"
	"time"

	"github.com/skothari-dev/loom/internal/core"
)

// MemoryCache is the in-process cache backend. It is the default when
// no external backend is configured; entries live for the lifetime of
// the process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get retrieves a value by key. Missing or expired keys return
// core.ErrNotFound.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, core.ErrNoConnection
	}
	entry, ok := m.entries[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		return nil, core.ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a key-value pair with an optional TTL.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return core.ErrNoConnection
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Delete removes a key.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return core.ErrNoConnection
	}
	delete(m.entries, key)
	return nil
}

// Close drops all entries and rejects further operations.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	return nil
}

// MemoryCacheFactory creates in-process cache instances.
type MemoryCacheFactory struct{}

func (f *MemoryCacheFactory) Type() string { return "memory" }

func (f *MemoryCacheFactory) Validate(config Config) error {
	if config.Type != "memory" {
		return &core.ConfigError{Msg: "invalid type for memory factory: " + config.Type}
	}
	return nil
}

func (f *MemoryCacheFactory) Create(Config) (core.Cache, error) {
	return NewMemoryCache(), nil
}

func init() {
	RegisterFactory(&MemoryCacheFactory{})
}
