package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/core/ports"
	"github.com/samirrijal/cropcover/internal/core/session"
	"github.com/samirrijal/cropcover/internal/pkg/geospatial"
	"github.com/samirrijal/cropcover/internal/pkg/metrics"
	"github.com/samirrijal/cropcover/internal/pkg/telemetry"
)

// SessionConfig tunes the session service.
type SessionConfig struct {
	AnalysisTimeout time.Duration
	IdleTTL         time.Duration
	GeocodeTimeout  time.Duration
	DefaultDates    domain.DateParams
	Now             func() time.Time
}

func (c *SessionConfig) withDefaults() {
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = session.DefaultTimeout
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.GeocodeTimeout <= 0 {
		c.GeocodeTimeout = 5 * time.Second
	}
	if c.DefaultDates.Summer == "" {
		c.DefaultDates.Summer = domain.DefaultSummerDate
	}
	if c.DefaultDates.Winter == "" {
		c.DefaultDates.Winter = domain.DefaultWinterDate
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// SessionService hosts the analysis sessions and runs their commands.
type SessionService struct {
	repo      ports.SessionRepository
	client    ports.AnalysisClient
	geocoder  ports.Geocoder
	publisher ports.EventPublisher
	orch      *session.Orchestrator
	cfg       SessionConfig

	bg sync.WaitGroup
}

// NewSessionService creates a new SessionService. geocoder and publisher may be nil.
func NewSessionService(
	repo ports.SessionRepository,
	client ports.AnalysisClient,
	geocoder ports.Geocoder,
	publisher ports.EventPublisher,
	cfg SessionConfig,
) *SessionService {
	cfg.withDefaults()
	s := &SessionService{
		repo:      repo,
		client:    client,
		geocoder:  geocoder,
		publisher: publisher,
		cfg:       cfg,
	}
	s.orch = session.NewOrchestrator(client, cfg.AnalysisTimeout, s.recordOutcome)
	return s
}

// Create starts a new session with the default dates.
func (s *SessionService) Create() domain.Snapshot {
	sess := session.New(uuid.NewString(), s.cfg.DefaultDates, s.cfg.Now)
	s.repo.Save(sess)
	metrics.ActiveSessions.Set(float64(s.repo.Len()))

	slog.Debug("session created", "session_id", sess.ID())
	return sess.Snapshot()
}

// Session returns the live session.
func (s *SessionService) Session(id string) (*session.Session, error) {
	return s.repo.Get(id)
}

// Snapshot returns the read model of a session.
func (s *SessionService) Snapshot(id string) (domain.Snapshot, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Delete removes a session and abandons its in-flight request.
func (s *SessionService) Delete(id string) error {
	sess, err := s.repo.Delete(id)
	if err != nil {
		return err
	}
	sess.Close()
	metrics.ActiveSessions.Set(float64(s.repo.Len()))
	return nil
}

// SelectPoint records a map click and starts a background label lookup.
func (s *SessionService) SelectPoint(id string, p domain.GeoPoint) (domain.Snapshot, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return domain.Snapshot{}, err
	}

	version := sess.SetPoint(p)
	if s.geocoder != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.lookupLabel(sess, version, p)
		}()
	}
	return sess.Snapshot(), nil
}

func (s *SessionService) lookupLabel(sess *session.Session, version uint64, p domain.GeoPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GeocodeTimeout)
	defer cancel()

	label, err := s.geocoder.Label(ctx, p)
	switch {
	case err != nil:
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		slog.Debug("reverse geocode failed", "session_id", sess.ID(), "error", err)
	case label == "":
		metrics.GeocodeLookups.WithLabelValues("empty").Inc()
	case !sess.SetPointLabel(version, label):
		metrics.GeocodeLookups.WithLabelValues("stale").Inc()
	default:
		metrics.GeocodeLookups.WithLabelValues("ok").Inc()
	}
}

// SetDates replaces whichever dates are non-nil.
func (s *SessionService) SetDates(id string, summer, winter *string) (domain.Snapshot, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if summer != nil {
		sess.SetSummerDate(*summer)
	}
	if winter != nil {
		sess.SetWinterDate(*winter)
	}
	return sess.Snapshot(), nil
}

// Trigger starts an analysis. Ignored triggers return domain.ErrNoTargetSelected
// or domain.ErrRequestInProgress and leave the session untouched.
func (s *SessionService) Trigger(ctx context.Context, id string) (*session.Run, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanTrigger)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrSessionID, id))

	run, err := s.orch.Trigger(ctx, sess)
	if err != nil {
		var ae *domain.AnalysisError
		if errors.As(err, &ae) {
			metrics.TriggersIgnored.WithLabelValues(string(ae.Kind)).Inc()
			span.SetAttributes(attribute.String(telemetry.AttrErrorKind, string(ae.Kind)))
		}
		span.AddEvent("trigger ignored")
		return nil, err
	}
	span.SetAttributes(attribute.Int64(telemetry.AttrGeneration, int64(run.Generation())))

	slog.Info("analysis started",
		"session_id", id,
		"generation", run.Generation(),
		"lat", run.Request().Point.Lat,
		"lng", run.Request().Point.Lng,
	)
	return run, nil
}

// Subscribe registers fn for change events of a session.
func (s *SessionService) Subscribe(id string, fn func(domain.Event)) (func(), error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Subscribe(fn), nil
}

// BoundaryGeoJSON renders the stored boundary as a GeoJSON FeatureCollection.
func (s *SessionService) BoundaryGeoJSON(id string) ([]byte, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	boundary, parcel, ok := sess.Boundary()
	if !ok {
		return nil, domain.ErrNoResult
	}

	props := map[string]interface{}{"session_id": id}
	if req, ok := sess.LastRequest(); ok {
		props["summer_date"] = req.SummerDate
		props["winter_date"] = req.WinterDate
	}
	if parcel != nil {
		props["area_acres"] = parcel.AreaAcres
	}
	return geospatial.BoundaryFeatureCollection(boundary, props)
}

// Thumbnail fetches the season preview for the request behind the stored result.
func (s *SessionService) Thumbnail(ctx context.Context, id, season string) ([]byte, string, error) {
	if season != "summer" && season != "winter" {
		return nil, "", domain.ErrUnknownSeason
	}
	sess, err := s.repo.Get(id)
	if err != nil {
		return nil, "", err
	}
	req, ok := sess.LastRequest()
	if !ok {
		return nil, "", domain.ErrNoResult
	}

	img, contentType, err := s.client.Thumbnail(ctx, season, req)
	if err != nil {
		return nil, "", fmt.Errorf("thumbnail %s: %w", season, err)
	}
	return img, contentType, nil
}

// SweepIdle removes sessions with no command since IdleTTL before now.
// Sessions with a request in flight are kept.
func (s *SessionService) SweepIdle(now time.Time) int {
	cutoff := now.Add(-s.cfg.IdleTTL)
	removed := 0
	for _, sess := range s.repo.List() {
		if sess.Busy() || sess.LastActive().After(cutoff) {
			continue
		}
		if _, err := s.repo.Delete(sess.ID()); err != nil {
			continue
		}
		sess.Close()
		removed++
	}
	if removed > 0 {
		metrics.SessionsExpired.Add(float64(removed))
		slog.Info("idle sessions swept", "removed", removed, "remaining", s.repo.Len())
	}
	metrics.ActiveSessions.Set(float64(s.repo.Len()))
	return removed
}

// ActiveSessions returns the number of live sessions.
func (s *SessionService) ActiveSessions() int {
	return s.repo.Len()
}

// Wait blocks until background lookups and publishes have finished.
func (s *SessionService) Wait() {
	s.bg.Wait()
}

func (s *SessionService) recordOutcome(out session.Outcome) {
	if !out.Applied {
		metrics.DiscardedCompletions.Inc()
		slog.Debug("superseded analysis discarded", "session_id", out.SessionID, "generation", out.Generation)
		return
	}

	state := out.State()
	kind := ""
	if out.Failure != nil {
		kind = string(out.Failure.Kind)
	}
	metrics.AnalysesTotal.WithLabelValues(string(state), kind).Inc()
	metrics.AnalysisDuration.WithLabelValues(string(state)).Observe(out.Duration.Seconds())

	if out.Failure != nil {
		slog.Warn("analysis failed",
			"session_id", out.SessionID,
			"generation", out.Generation,
			"kind", kind,
			"error", out.Failure,
			"duration_ms", out.Duration.Milliseconds(),
		)
	} else {
		slog.Info("analysis succeeded",
			"session_id", out.SessionID,
			"generation", out.Generation,
			"duration_ms", out.Duration.Milliseconds(),
		)
	}

	if s.publisher == nil {
		return
	}
	event := outcomeEvent(out, s.cfg.Now())
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishAnalysisOutcome(ctx, event); err != nil {
			metrics.EventsPublished.WithLabelValues("error").Inc()
			slog.Warn("publish analysis outcome", "session_id", event.SessionID, "error", err)
			return
		}
		metrics.EventsPublished.WithLabelValues("ok").Inc()
	}()
}

func outcomeEvent(out session.Outcome, at time.Time) *domain.AnalysisOutcome {
	ev := &domain.AnalysisOutcome{
		SessionID:  out.SessionID,
		Generation: out.Generation,
		Request:    out.Request,
		State:      out.State(),
		DurationMS: out.Duration.Milliseconds(),
		At:         at,
	}
	if out.Failure != nil {
		ev.ErrorKind = out.Failure.Kind
		ev.Error = out.Failure.UserMessage()
	}
	if out.Result != nil {
		summer, winter := out.Result.Summer, out.Result.Winter
		ev.Summer = &summer
		ev.Winter = &winter
	}
	return ev
}
