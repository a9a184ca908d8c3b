package core

import (
	"context"
	"time"
)

// DocumentStore reads schema documents by model name. Implementations
// search one or more root paths in order.
type DocumentStore interface {
	// Read returns the raw JSON document for a model name, or
	// ErrNotFound when no root path contains it.
	Read(name string) ([]byte, error)
}

// Cipher is the symmetric cipher applied to fields flagged with a hash
// key. The per-field salt is mixed into the key so two fields never
// share a keystream.
type Cipher interface {
	Encrypt(plaintext, fieldSalt string) (string, error)
	Decrypt(ciphertext, fieldSalt string) (string, error)
}

// Renderer renders a template against a context map. Used for virtual
// fields, URL templates and media filename patterns.
type Renderer interface {
	Render(template string, context map[string]any) (string, error)
}

// ObjectStore is the optional remote store backing media fields. The
// engine only consults it to decorate media URLs with cache-busting
// tokens and to relocate the public prefix to a CDN host.
type ObjectStore interface {
	// FileTime returns the modification time of an object, with ok
	// false when the object is absent.
	FileTime(ctx context.Context, path string) (time.Time, bool, error)

	// ContentHash returns a short content hash for an object, with ok
	// false when the object is absent.
	ContentHash(ctx context.Context, path string) (string, bool, error)

	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)

	// PublicURL rewrites a public path onto the store's CDN host.
	PublicURL(path string) string
}

// Cache is the session-scoped result cache. Entries carry no TTL of
// their own (ttl 0 means no expiry); they live until the session ends
// or the backend evicts them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ChangeOp is the kind of write behind a change event.
type ChangeOp string

const (
	ChangeCreate ChangeOp = "CREATE"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// ChangeEvent describes one committed write, published for downstream
// cache invalidation and synchronization.
type ChangeEvent struct {
	Table     string    `json:"table"`
	Op        ChangeOp  `json:"op"`
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes change events after successful writes. Publishing
// is best-effort; a failed publish never fails the write.
type Notifier interface {
	Publish(ctx context.Context, event ChangeEvent) error
	Close() error
}
