package session

import (
	"context"
	"errors"
	"time"

	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/pkg/geospatial"
)

// DefaultTimeout bounds one outbound analysis call.
const DefaultTimeout = 30 * time.Second

// Analyzer performs the remote analysis for one request.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// Outcome describes how an accepted request ended.
type Outcome struct {
	SessionID  string
	Generation uint64
	Request    domain.AnalysisRequest
	Result     *domain.AnalysisResult
	Failure    *domain.AnalysisError
	Duration   time.Duration
	// Applied is false when the request was superseded before it finished
	// and its completion was discarded.
	Applied bool
}

// State is the terminal state this outcome moved (or would have moved) the session to.
func (o Outcome) State() domain.RequestState {
	if o.Failure != nil {
		return domain.StateFailed
	}
	return domain.StateSucceeded
}

// Run is the handle for one accepted trigger.
type Run struct {
	generation uint64
	request    domain.AnalysisRequest
	done       chan struct{}
	outcome    Outcome
}

// Generation identifies the request within its session.
func (r *Run) Generation() uint64 { return r.generation }

// Request is the immutable snapshot that was sent.
func (r *Run) Request() domain.AnalysisRequest { return r.request }

// Done is closed once the request has reached a terminal state or been discarded.
func (r *Run) Done() <-chan struct{} { return r.done }

// Outcome is valid after Done is closed.
func (r *Run) Outcome() Outcome {
	<-r.done
	return r.outcome
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Orchestrator owns the RequestState transitions of every session it is handed.
type Orchestrator struct {
	client    Analyzer
	timeout   time.Duration
	onOutcome func(Outcome)
}

// NewOrchestrator returns an orchestrator calling client with the given
// per-request timeout. onOutcome, if set, sees every finished run.
func NewOrchestrator(client Analyzer, timeout time.Duration, onOutcome func(Outcome)) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{client: client, timeout: timeout, onOutcome: onOutcome}
}

// Trigger starts an analysis for the session's current point and dates.
//
// It returns domain.ErrNoTargetSelected when no point is selected and
// domain.ErrRequestInProgress while another request is in flight; neither
// changes the session. The call itself runs in the background and is not tied
// to ctx's cancellation, only to the orchestrator timeout.
func (o *Orchestrator) Trigger(ctx context.Context, s *Session) (*Run, error) {
	s.mu.Lock()
	point, ok := s.points.get()
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNoTargetSelected
	}
	if s.state == domain.StateInFlight {
		s.mu.Unlock()
		return nil, domain.ErrRequestInProgress
	}

	req := domain.AnalysisRequest{
		Point:      point,
		SummerDate: s.dates.summer,
		WinterDate: s.dates.winter,
	}
	s.generation++
	gen := s.generation
	s.state = domain.StateInFlight
	s.failure = nil

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	s.cancel = cancel
	s.touchLocked()
	s.queueLocked(domain.EventStateChanged)
	s.mu.Unlock()

	s.events.flush()

	run := &Run{generation: gen, request: req, done: make(chan struct{})}
	go o.execute(callCtx, cancel, s, run)
	return run, nil
}

type analyzeReply struct {
	result *domain.AnalysisResult
	err    error
}

func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, s *Session, run *Run) {
	defer cancel()
	start := time.Now()

	replies := make(chan analyzeReply, 1)
	go func() {
		res, err := o.client.Analyze(ctx, run.request)
		replies <- analyzeReply{result: res, err: err}
	}()

	var reply analyzeReply
	select {
	case reply = <-replies:
	case <-ctx.Done():
		reply.err = ctx.Err()
	}

	outcome := Outcome{
		SessionID:  s.id,
		Generation: run.generation,
		Request:    run.request,
	}

	var (
		boundary domain.BoundaryPolygon
		parcel   domain.Parcel
	)
	if reply.err != nil {
		outcome.Failure = classify(ctx, reply.err)
	} else if reply.result == nil {
		outcome.Failure = domain.NewMalformedResponse(errors.New("empty response"))
	} else {
		polygon, err := reply.result.Validate()
		if err != nil {
			outcome.Failure = domain.NewMalformedResponse(err)
		} else {
			res := *reply.result
			res.Request = run.request
			res.CompletedAt = s.now()
			outcome.Result = &res
			boundary = polygon
			parcel = geospatial.Summarize(run.request.Point, polygon)
		}
	}
	outcome.Duration = time.Since(start)

	if outcome.Failure != nil {
		outcome.Applied = s.fail(run.generation, outcome.Failure)
	} else {
		outcome.Applied = s.succeed(run.generation, outcome.Result, boundary, &parcel)
	}

	run.outcome = outcome
	if o.onOutcome != nil {
		o.onOutcome(outcome)
	}
	close(run.done)
}

// classify maps a call error onto the failure taxonomy. An expired deadline
// is a timeout no matter how the client wrapped it.
func classify(ctx context.Context, err error) *domain.AnalysisError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeout(err)
	}
	var ae *domain.AnalysisError
	if errors.As(err, &ae) {
		return ae
	}
	return domain.NewTransportFailure(err)
}

// succeed applies a successful completion if gen is still the current request.
func (s *Session) succeed(gen uint64, res *domain.AnalysisResult, boundary domain.BoundaryPolygon, parcel *domain.Parcel) bool {
	s.mu.Lock()
	if s.generation != gen || s.state != domain.StateInFlight {
		s.mu.Unlock()
		return false
	}
	s.cancel = nil
	s.results.store(res, boundary, parcel)
	s.state = domain.StateSucceeded
	s.updatedAt = s.now()
	s.queueLocked(domain.EventResultChanged)
	s.queueLocked(domain.EventStateChanged)
	s.mu.Unlock()

	s.events.flush()
	return true
}

// fail applies a failed completion if gen is still the current request.
// Any earlier result is dropped so a failure never shows stale acreage.
func (s *Session) fail(gen uint64, failure *domain.AnalysisError) bool {
	s.mu.Lock()
	if s.generation != gen || s.state != domain.StateInFlight {
		s.mu.Unlock()
		return false
	}
	s.cancel = nil
	s.failure = failure
	cleared := s.results.clear()
	s.state = domain.StateFailed
	s.updatedAt = s.now()
	if cleared {
		s.queueLocked(domain.EventResultChanged)
	}
	s.queueLocked(domain.EventStateChanged)
	s.mu.Unlock()

	s.events.flush()
	return true
}
