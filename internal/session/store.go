package session

import (
	"sync"
	"time"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// Store is the in-memory session registry. Sessions are addressed only by
// key, and a key is processed by at most one turn at a time: Acquire blocks
// until the previous turn for the same key has released its lease.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Acquire returns the session for key, creating it on first use, along with
// a release function the caller must invoke when the turn is done. Two
// concurrent turns for the same key serialize here rather than interleave.
func (s *Store) Acquire(key string) (*Session, func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		now := time.Now().UTC()
		e = &entry{sess: &Session{Key: key, CreatedAt: now, UpdatedAt: now}}
		s.entries[key] = e
		metrics.ActiveSessions.Inc()
	}
	s.mu.Unlock()

	e.mu.Lock()
	return e.sess, e.mu.Unlock
}

// Peek returns a read-only snapshot of the session, or false if the key is
// unknown. The snapshot is a shallow copy; callers must not mutate the
// turn slice.
func (s *Store) Peek(key string) (Session, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.sess, true
}

// Delete removes a session.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		metrics.ActiveSessions.Dec()
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
