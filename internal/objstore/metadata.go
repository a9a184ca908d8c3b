package objstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Metadata is what the store remembers about one object between
// requests.
type Metadata struct {
	ModTime time.Time `json:"mtime"`
	Hash    string    `json:"hash,omitempty"`
}

// MetadataCache is a file-backed map of object path to metadata. It
// exists so media URL rendering does not hit the remote store for
// every image on every page; the file survives restarts and can be
// rebuilt from a full bucket listing at any time.
type MetadataCache struct {
	mu      sync.RWMutex
	entries map[string]Metadata
	path    string // empty disables persistence
	dirty   int
}

// flushEvery is how many writes accumulate before the cache persists
// itself to disk.
const flushEvery = 64

// NewMetadataCache loads the cache from path, starting empty when the
// file does not exist yet. An empty path keeps the cache memory-only.
func NewMetadataCache(path string) (*MetadataCache, error) {
	c := &MetadataCache{entries: make(map[string]Metadata), path: path}
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata cache %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		// A corrupt cache file is not fatal; it rebuilds lazily.
		c.entries = make(map[string]Metadata)
	}
	return c, nil
}

// Get returns the cached metadata for a path.
func (c *MetadataCache) Get(path string) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[normalizePath(path)]
	return entry, ok
}

// Put stores metadata for a path, persisting periodically.
func (c *MetadataCache) Put(path string, meta Metadata) {
	c.mu.Lock()
	c.entries[normalizePath(path)] = meta
	c.dirty++
	flush := c.dirty >= flushEvery
	if flush {
		c.dirty = 0
	}
	c.mu.Unlock()

	if flush {
		_ = c.Flush()
	}
}

// Invalidate forgets one path.
func (c *MetadataCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, normalizePath(path))
	c.mu.Unlock()
}

// Reset drops all entries.
func (c *MetadataCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]Metadata)
	c.dirty = 0
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *MetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush persists the cache to its backing file.
func (c *MetadataCache) Flush() error {
	if c.path == "" {
		return nil
	}

	c.mu.RLock()
	raw, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

func normalizePath(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}
