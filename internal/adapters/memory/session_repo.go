// Package memory keeps live analysis sessions in process memory.
package memory

import (
	"sync"

	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/core/session"
)

// SessionRepo is a concurrency-safe in-memory session registry.
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewSessionRepo creates an empty SessionRepo.
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]*session.Session)}
}

// Save stores s under its id, replacing any previous entry.
func (r *SessionRepo) Save(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Get returns the session or domain.ErrSessionNotFound.
func (r *SessionRepo) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Delete removes and returns the session.
func (r *SessionRepo) Delete(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return s, nil
}

// List returns every live session in no particular order.
func (r *SessionRepo) List() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *SessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
