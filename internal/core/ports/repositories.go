package ports

import (
	"github.com/samirrijal/cropcover/internal/core/session"
)

// SessionRepository keeps the live analysis sessions. Sessions are never persisted.
type SessionRepository interface {
	Save(s *session.Session)
	Get(id string) (*session.Session, error)
	Delete(id string) (*session.Session, error)
	List() []*session.Session
	Len() int
}
