package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) record(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) states() []domain.RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RequestState
	for _, ev := range r.events {
		if ev.Type == domain.EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("abc", domain.DateParams{Summer: "2023-06-01", Winter: "2023-12-01"}, func() time.Time { return fixed })

	snap := s.Snapshot()
	if snap.ID != "abc" || snap.State != domain.StateIdle || snap.Busy {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Point != nil {
		t.Error("new session should have no point")
	}
	if snap.SummerDate != "2023-06-01" || snap.WinterDate != "2023-12-01" {
		t.Errorf("dates = %s / %s", snap.SummerDate, snap.WinterDate)
	}
	if !s.LastActive().Equal(fixed) {
		t.Errorf("LastActive = %v, want %v", s.LastActive(), fixed)
	}
}

func TestSetPoint_ClearsResultAndError(t *testing.T) {
	outcomes := []func() (*domain.AnalysisResult, error){
		func() (*domain.AnalysisResult, error) { return okResult(), nil },
		func() (*domain.AnalysisResult, error) {
			return nil, domain.NewRemoteRejected(400, "invalid date range")
		},
	}

	for _, next := range outcomes {
		client := &mockAnalyzer{analyzeFn: func(context.Context, domain.AnalysisRequest) (*domain.AnalysisResult, error) {
			return next()
		}}
		o := NewOrchestrator(client, time.Second, nil)
		s := newTestSession()
		s.SetPoint(domain.GeoPoint{Lat: 1, Lng: 2})

		run, _ := o.Trigger(context.Background(), s)
		waitRun(t, run)

		before := s.Snapshot()
		if before.Result == nil && before.ErrorMessage == "" {
			t.Fatal("expected a result or an error before re-selecting")
		}

		s.SetPoint(domain.GeoPoint{Lat: 3, Lng: 4})
		snap := s.Snapshot()
		if snap.Result != nil || snap.Boundary != nil || snap.Parcel != nil {
			t.Error("result not cleared by point change")
		}
		if snap.ErrorMessage != "" || snap.ErrorKind != "" {
			t.Errorf("error not cleared: %q", snap.ErrorMessage)
		}
		if snap.State != domain.StateIdle {
			t.Errorf("state = %s, want idle", snap.State)
		}
		if snap.Point == nil || *snap.Point != (domain.GeoPoint{Lat: 3, Lng: 4}) {
			t.Errorf("point = %+v", snap.Point)
		}
	}
}

func TestSetPoint_NoRangeValidation(t *testing.T) {
	s := newTestSession()
	s.SetPoint(domain.GeoPoint{Lat: 123, Lng: -500})
	if p := s.Snapshot().Point; p == nil || p.Lat != 123 || p.Lng != -500 {
		t.Errorf("point = %+v", p)
	}
}

func TestSetPointLabel_Versioned(t *testing.T) {
	s := newTestSession()
	v1 := s.SetPoint(domain.GeoPoint{Lat: 1, Lng: 2})
	v2 := s.SetPoint(domain.GeoPoint{Lat: 3, Lng: 4})

	if s.SetPointLabel(v1, "old place") {
		t.Error("label for a replaced point was applied")
	}
	if !s.SetPointLabel(v2, "Hyderabad, Telangana") {
		t.Fatal("label for the current point was rejected")
	}
	if got := s.Snapshot().PointLabel; got != "Hyderabad, Telangana" {
		t.Errorf("label = %q", got)
	}

	s.SetPoint(domain.GeoPoint{Lat: 5, Lng: 6})
	if got := s.Snapshot().PointLabel; got != "" {
		t.Errorf("label not cleared on point change: %q", got)
	}
}

func TestSetPointLabel_NoPoint(t *testing.T) {
	s := newTestSession()
	if s.SetPointLabel(0, "x") {
		t.Error("label applied with no point selected")
	}
}

func TestNotifier_StateTransitionsInOrder(t *testing.T) {
	client := &mockAnalyzer{analyzeFn: func(context.Context, domain.AnalysisRequest) (*domain.AnalysisResult, error) {
		return okResult(), nil
	}}
	o := NewOrchestrator(client, time.Second, nil)
	s := newTestSession()

	rec := &eventRecorder{}
	unsubscribe := s.Subscribe(rec.record)

	s.SetPoint(domain.GeoPoint{Lat: 1, Lng: 2})
	s.SetSummerDate("2023-07-01")
	run, _ := o.Trigger(context.Background(), s)
	waitRun(t, run)

	wantTypes := []domain.EventType{
		domain.EventPointChanged,
		domain.EventDatesChanged,
		domain.EventStateChanged,
		domain.EventResultChanged,
		domain.EventStateChanged,
	}
	gotTypes := rec.types()
	if len(gotTypes) != len(wantTypes) {
		t.Fatalf("events = %v, want %v", gotTypes, wantTypes)
	}
	for i := range wantTypes {
		if gotTypes[i] != wantTypes[i] {
			t.Errorf("event %d = %s, want %s", i, gotTypes[i], wantTypes[i])
		}
	}

	states := rec.states()
	if len(states) != 2 || states[0] != domain.StateInFlight || states[1] != domain.StateSucceeded {
		t.Errorf("state events = %v", states)
	}

	unsubscribe()
	unsubscribe()
	s.SetWinterDate("2024-01-01")
	if n := len(rec.types()); n != len(wantTypes) {
		t.Errorf("received %d events after unsubscribe", n-len(wantTypes))
	}
}

func TestNotifier_PointChangeDuringFlight(t *testing.T) {
	release := make(chan struct{})
	client := &mockAnalyzer{analyzeFn: func(context.Context, domain.AnalysisRequest) (*domain.AnalysisResult, error) {
		<-release
		return okResult(), nil
	}}
	o := NewOrchestrator(client, time.Second, nil)
	s := newTestSession()
	s.SetPoint(domain.GeoPoint{Lat: 1, Lng: 2})

	rec := &eventRecorder{}
	s.Subscribe(rec.record)

	run, _ := o.Trigger(context.Background(), s)
	s.SetPoint(domain.GeoPoint{Lat: 3, Lng: 4})
	close(release)
	waitRun(t, run)

	states := rec.states()
	if len(states) != 2 || states[0] != domain.StateInFlight || states[1] != domain.StateIdle {
		t.Errorf("state events = %v, want [in_flight idle]", states)
	}
}

func TestNotifier_SubscriberCanReadSnapshot(t *testing.T) {
	s := newTestSession()
	var seen *domain.GeoPoint
	s.Subscribe(func(ev domain.Event) {
		if ev.Type == domain.EventPointChanged {
			seen = s.Snapshot().Point
		}
	})

	s.SetPoint(domain.GeoPoint{Lat: 9, Lng: 8})
	if seen == nil || seen.Lat != 9 {
		t.Errorf("subscriber saw %+v", seen)
	}
}

func TestClose_SupersedesInFlight(t *testing.T) {
	release := make(chan struct{})
	client := &mockAnalyzer{analyzeFn: func(context.Context, domain.AnalysisRequest) (*domain.AnalysisResult, error) {
		<-release
		return okResult(), nil
	}}
	o := NewOrchestrator(client, time.Second, nil)
	s := newTestSession()
	s.SetPoint(domain.GeoPoint{Lat: 1, Lng: 2})

	run, _ := o.Trigger(context.Background(), s)
	s.Close()
	close(release)

	if out := waitRun(t, run); out.Applied {
		t.Error("completion applied after Close")
	}
	if s.Busy() {
		t.Error("closed session still busy")
	}
}
