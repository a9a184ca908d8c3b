package objstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMetadataCacheRoundTrip(t *testing.T) {
	c, err := NewMetadataCache("")
	if err != nil {
		t.Fatalf("NewMetadataCache failed: %v", err)
	}

	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Put("media/users/ann.jpg", Metadata{ModTime: mod, Hash: "ab12"})

	entry, ok := c.Get("media/users/ann.jpg")
	if !ok || entry.Hash != "ab12" || !entry.ModTime.Equal(mod) {
		t.Errorf("entry = %+v, ok = %v", entry, ok)
	}

	// Leading slashes normalize to the same key.
	if _, ok := c.Get("/media/users/ann.jpg"); !ok {
		t.Error("leading slash must resolve to the same entry")
	}

	c.Invalidate("media/users/ann.jpg")
	if _, ok := c.Get("media/users/ann.jpg"); ok {
		t.Error("invalidated entry still present")
	}
}

func TestMetadataCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")

	c, err := NewMetadataCache(path)
	if err != nil {
		t.Fatalf("NewMetadataCache failed: %v", err)
	}
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Put("a.jpg", Metadata{ModTime: mod, Hash: "x1"})
	c.Put("b.jpg", Metadata{ModTime: mod})
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded, err := NewMetadataCache(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded %d entries, want 2", reloaded.Len())
	}
	entry, ok := reloaded.Get("a.jpg")
	if !ok || entry.Hash != "x1" {
		t.Errorf("entry = %+v, ok = %v", entry, ok)
	}
}

func TestMetadataCacheMissingFileStartsEmpty(t *testing.T) {
	c, err := NewMetadataCache(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("NewMetadataCache failed: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("cache not empty: %d entries", c.Len())
	}
}

func TestMetadataCacheReset(t *testing.T) {
	c, _ := NewMetadataCache("")
	c.Put("a.jpg", Metadata{})
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("reset left %d entries", c.Len())
	}
}
