package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/skothari-dev/loom/internal/core"
)

// MemoryNotifier buffers change events on a channel. Useful for tests
// and for single-process deployments where no broker is configured.
type MemoryNotifier struct {
	events chan core.ChangeEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryNotifier creates an in-memory notifier. bufferSize is the
// maximum number of undelivered events.
func NewMemoryNotifier(bufferSize int) *MemoryNotifier {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &MemoryNotifier{events: make(chan core.ChangeEvent, bufferSize)}
}

// Publish appends an event to the buffer.
func (n *MemoryNotifier) Publish(ctx context.Context, event core.ChangeEvent) error {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return ErrNotifierClosed
	}
	n.mu.RUnlock()

	select {
	case n.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("notifier buffer is full")
	}
}

// Events exposes the buffered event stream for consumers.
func (n *MemoryNotifier) Events() <-chan core.ChangeEvent {
	return n.events
}

// Close closes the event stream. Pending events remain readable.
func (n *MemoryNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	close(n.events)
	return nil
}
