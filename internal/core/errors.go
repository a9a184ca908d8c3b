package core

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors shared across the engine.
var (
	// ErrNotFound marks an absent schema document, table or record.
	ErrNotFound = errors.New("not found")

	// ErrNoConnection marks an operation attempted without a database
	// connection. Always fatal for writes.
	ErrNoConnection = errors.New("no database connection")

	// ErrNoFields marks a write whose data resolved to zero columns.
	// Such a write is an error, never a no-op UPDATE.
	ErrNoFields = errors.New("no resolvable fields in write data")

	// ErrMissingKey marks an absent or unusable encryption key pair.
	// Continuing would return ciphertext as data, so this is fatal.
	ErrMissingKey = errors.New("encryption key missing or invalid")
)

// ConfigError is a fatal configuration problem: missing connection,
// missing keys, malformed schema. Continuing would silently corrupt or
// mis-scope data.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError is one schema-authoring problem. Validation collects
// every problem into a list so authoring tools can show them all at
// once; it never halts.
type ValidationError struct {
	Model string
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s.%s: %s", e.Model, e.Field, e.Msg)
	case e.Model != "":
		return fmt.Sprintf("%s: %s", e.Model, e.Msg)
	}
	return e.Msg
}

// ErrorLog is the engine's in-memory write-error log. Write failures
// surface to callers as falsy returns; the underlying causes are kept
// here for a LastError-style accessor.
type ErrorLog struct {
	mu      sync.Mutex
	entries []error
}

// Record appends an error to the log and returns it unchanged.
func (l *ErrorLog) Record(err error) error {
	if err == nil {
		return nil
	}
	l.mu.Lock()
	l.entries = append(l.entries, err)
	l.mu.Unlock()
	return err
}

// Recordf formats, records and returns an error.
func (l *ErrorLog) Recordf(format string, args ...any) error {
	return l.Record(fmt.Errorf(format, args...))
}

// Last returns the most recent error, or nil.
func (l *ErrorLog) Last() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1]
}

// All returns a copy of the logged errors, oldest first.
func (l *ErrorLog) All() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.entries))
	copy(out, l.entries)
	return out
}
