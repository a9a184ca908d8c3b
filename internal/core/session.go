package core

import "sync"

// Session is the request-scoped context threaded through every engine
// call. It replaces ambient global state: the active language, the
// skip-cache flag and the per-request schema cache all live here.
type Session struct {
	// Language is the active language for :lang field resolution.
	Language string

	// SkipCache bypasses the result cache for reads in this session.
	SkipCache bool

	// ReturnError makes not-found results come back as structured
	// errors instead of halting.
	ReturnError bool

	mu      sync.Mutex
	schemas map[string]*Schema
}

// NewSession creates a session for one logical request.
func NewSession(language string) *Session {
	return &Session{
		Language: language,
		schemas:  make(map[string]*Schema),
	}
}

// CachedSchema returns the schema previously resolved for a name
// combination within this session.
func (s *Session) CachedSchema(key string) (*Schema, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schemas[key]
	return sc, ok
}

// StoreSchema memoizes a resolved schema for the session's lifetime.
func (s *Session) StoreSchema(key string, schema *Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schemas == nil {
		s.schemas = make(map[string]*Schema)
	}
	s.schemas[key] = schema
}
