package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skothari-dev/loom/internal/core"
)

// FSDocumentStore reads schema documents from JSON files under one or
// more root directories, searched in order. The first root containing
// <name>.json wins.
type FSDocumentStore struct {
	roots []string
}

// NewFSDocumentStore creates a document store over the given roots.
func NewFSDocumentStore(roots ...string) *FSDocumentStore {
	return &FSDocumentStore{roots: roots}
}

// Read returns the raw document for a model name, or core.ErrNotFound
// when no root contains it.
func (s *FSDocumentStore) Read(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	for _, root := range s.roots {
		path := filepath.Join(root, name+".json")
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read schema document %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("schema document %q: %w", name, core.ErrNotFound)
}

// checkName rejects model names that would escape the root directories.
func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("schema name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid schema name %q", name)
	}
	return nil
}

// MapDocumentStore serves documents from memory. Used by tests and by
// callers that embed their schemas.
type MapDocumentStore map[string][]byte

// Read returns the document for a model name, or core.ErrNotFound.
func (s MapDocumentStore) Read(name string) ([]byte, error) {
	doc, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("schema document %q: %w", name, core.ErrNotFound)
	}
	return doc, nil
}
