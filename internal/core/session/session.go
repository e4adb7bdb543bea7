// Package session holds the per-user analysis context: the point, date and
// result stores, the request state machine and its change notifications.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

// Session is the context object for one active user. All stores and the
// RequestState share mu; state transitions belong to the Orchestrator.
type Session struct {
	id  string
	now func() time.Time

	mu         sync.Mutex
	points     pointStore
	dates      dateStore
	results    resultStore
	state      domain.RequestState
	failure    *domain.AnalysisError
	generation uint64
	cancel     context.CancelFunc
	lastActive time.Time
	updatedAt  time.Time

	events *notifier
}

// New creates an idle session with the given initial dates.
// A nil clock means time.Now.
func New(id string, dates domain.DateParams, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Session{
		id:         id,
		now:        now,
		dates:      dateStore{summer: dates.Summer, winter: dates.Winter},
		state:      domain.StateIdle,
		lastActive: t,
		updatedAt:  t,
		events:     newNotifier(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SetPoint replaces the selected point and clears any result, boundary and
// error. A request still in flight is superseded. The returned version
// identifies this selection for SetPointLabel.
func (s *Session) SetPoint(p domain.GeoPoint) uint64 {
	s.mu.Lock()
	version := s.points.set(p)
	s.failure = nil
	cleared := s.results.clear()
	stateChanged := s.resetLocked()
	s.touchLocked()

	s.queueLocked(domain.EventPointChanged)
	if cleared {
		s.queueLocked(domain.EventResultChanged)
	}
	if stateChanged {
		s.queueLocked(domain.EventStateChanged)
	}
	s.mu.Unlock()

	s.events.flush()
	return version
}

// SetPointLabel attaches a label to the selection identified by version.
// It is dropped when the point has changed since.
func (s *Session) SetPointLabel(version uint64, label string) bool {
	s.mu.Lock()
	if s.points.version != version || s.points.current == nil {
		s.mu.Unlock()
		return false
	}
	s.points.label = label
	s.updatedAt = s.now()
	s.queueLocked(domain.EventLabelChanged)
	s.mu.Unlock()

	s.events.flush()
	return true
}

// SetSummerDate replaces the summer observation date. It never affects a
// request already in flight.
func (s *Session) SetSummerDate(d string) {
	s.mu.Lock()
	s.dates.summer = d
	s.touchLocked()
	s.queueLocked(domain.EventDatesChanged)
	s.mu.Unlock()

	s.events.flush()
}

// SetWinterDate replaces the winter observation date.
func (s *Session) SetWinterDate(d string) {
	s.mu.Lock()
	s.dates.winter = d
	s.touchLocked()
	s.queueLocked(domain.EventDatesChanged)
	s.mu.Unlock()

	s.events.flush()
}

// Dates returns the current observation dates.
func (s *Session) Dates() domain.DateParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.DateParams{Summer: s.dates.summer, Winter: s.dates.winter}
}

// State returns the current request state.
func (s *Session) State() domain.RequestState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	return s.State() == domain.StateInFlight
}

// LastActive is when the session last received a command.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// LastRequest returns the request behind the stored result.
func (s *Session) LastRequest() (domain.AnalysisRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results.result == nil {
		return domain.AnalysisRequest{}, false
	}
	return s.results.result.Request, true
}

// Boundary returns the stored polygon and parcel summary, if any.
func (s *Session) Boundary() (domain.BoundaryPolygon, *domain.Parcel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results.result == nil {
		return nil, nil, false
	}
	return append(domain.BoundaryPolygon(nil), s.results.boundary...), s.results.parcel, true
}

// Snapshot copies the session into its read model.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		ID:         s.id,
		PointLabel: s.points.label,
		SummerDate: s.dates.summer,
		WinterDate: s.dates.winter,
		State:      s.state,
		Busy:       s.state == domain.StateInFlight,
		Generation: s.generation,
		UpdatedAt:  s.updatedAt,
	}
	if p, ok := s.points.get(); ok {
		snap.Point = &p
	}
	if s.failure != nil {
		snap.ErrorMessage = s.failure.UserMessage()
		snap.ErrorKind = s.failure.Kind
	}
	if s.results.result != nil {
		res := *s.results.result
		snap.Result = &res
		snap.Boundary = append(domain.BoundaryPolygon(nil), s.results.boundary...)
		if s.results.parcel != nil {
			parcel := *s.results.parcel
			snap.Parcel = &parcel
		}
	}
	return snap
}

// Subscribe registers fn for change notifications and returns the unsubscribe func.
func (s *Session) Subscribe(fn func(domain.Event)) func() {
	return s.events.subscribe(fn)
}

// Close supersedes any request in flight. The session stays readable.
func (s *Session) Close() {
	s.mu.Lock()
	changed := s.resetLocked()
	if changed {
		s.queueLocked(domain.EventStateChanged)
	}
	s.mu.Unlock()

	s.events.flush()
}

// resetLocked abandons an in-flight request and returns the state to Idle.
// Bumping the generation makes the abandoned completion a no-op.
func (s *Session) resetLocked() bool {
	if s.state == domain.StateInFlight {
		s.generation++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	changed := s.state != domain.StateIdle
	s.state = domain.StateIdle
	return changed
}

func (s *Session) touchLocked() {
	t := s.now()
	s.lastActive = t
	s.updatedAt = t
}

func (s *Session) queueLocked(t domain.EventType) {
	s.events.queue(domain.Event{
		Type:       t,
		SessionID:  s.id,
		State:      s.state,
		Generation: s.generation,
		At:         s.now(),
	})
}
