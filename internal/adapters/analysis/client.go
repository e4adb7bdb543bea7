// Package analysis is the HTTP client for the remote crop analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/pkg/metrics"
	"github.com/samirrijal/cropcover/internal/pkg/telemetry"
)

const (
	analyzePath   = "/api/analyze"
	thumbnailPath = "/thumbnail/"

	maxResponseBytes = 10 << 20
	maxErrorBytes    = 64 << 10
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL          string
	HTTPClient       Doer
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
}

// Client implements ports.AnalysisClient. Each call is a single attempt
// guarded by a circuit breaker.
type Client struct {
	baseURL string
	http    Doer
	cb      *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaultHTTP()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenDelay <= 0 {
		cfg.BreakerOpenDelay = 30 * time.Second
	}
	failures := cfg.BreakerFailures

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A superseded request is cancelled by its session, not failed by the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		cb:      cb,
		tracer:  otel.Tracer(telemetry.TracerName),
	}
}

func defaultHTTP() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 20
	return &http.Client{Transport: t}
}

type position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type analyzeBody struct {
	Position   position `json:"position"`
	SummerDate string   `json:"summerDate"`
	WinterDate string   `json:"winterDate"`
}

type thumbnailBody struct {
	Position position `json:"position"`
	Dates    struct {
		Summer string `json:"summer"`
		Winter string `json:"winter"`
	} `json:"dates"`
}

type seasonBody struct {
	AcresWithCrop *float64 `json:"acresWithCrop"`
	AcresIdle     *float64 `json:"acresIdle"`
}

type analyzeResponse struct {
	Summer   *seasonBody   `json:"summer"`
	Winter   *seasonBody   `json:"winter"`
	Boundary [][][]float64 `json:"boundary"`
}

type errorBody struct {
	Error string `json:"error"`
}

// serverError carries a 5xx response through the breaker so it counts as a failure.
type serverError struct {
	status int
	body   []byte
}

func (e *serverError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.status)
}

// Analyze posts the request to /api/analyze.
func (c *Client) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	ctx, span := c.tracer.Start(ctx, telemetry.SpanAnalyze, trace.WithAttributes(
		attribute.Float64(telemetry.AttrLat, req.Point.Lat),
		attribute.Float64(telemetry.AttrLng, req.Point.Lng),
		attribute.String(telemetry.AttrSummerDate, req.SummerDate),
		attribute.String(telemetry.AttrWinterDate, req.WinterDate),
	))
	defer span.End()

	body := analyzeBody{
		Position:   position{Lat: req.Point.Lat, Lng: req.Point.Lng},
		SummerDate: req.SummerDate,
		WinterDate: req.WinterDate,
	}

	resp, err := c.post(ctx, c.baseURL+analyzePath, body)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int(telemetry.AttrHTTPStatus, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		err := rejection(resp.StatusCode, data)
		recordError(span, err)
		return nil, err
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			recordError(span, ctxErr)
			return nil, ctxErr
		}
		err = domain.NewMalformedResponse(fmt.Errorf("decode response: %w", err))
		recordError(span, err)
		return nil, err
	}

	result, err := decoded.toDomain()
	if err != nil {
		err = domain.NewMalformedResponse(err)
		recordError(span, err)
		return nil, err
	}
	return result, nil
}

// Thumbnail posts to /thumbnail/<season> and returns the image bytes and content type.
func (c *Client) Thumbnail(ctx context.Context, season string, req domain.AnalysisRequest) ([]byte, string, error) {
	ctx, span := c.tracer.Start(ctx, telemetry.SpanThumbnail, trace.WithAttributes(
		attribute.String(telemetry.AttrSeason, season),
	))
	defer span.End()

	var body thumbnailBody
	body.Position = position{Lat: req.Point.Lat, Lng: req.Point.Lng}
	body.Dates.Summer = req.SummerDate
	body.Dates.Winter = req.WinterDate

	resp, err := c.post(ctx, c.baseURL+thumbnailPath+season, body)
	if err != nil {
		recordError(span, err)
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		err := rejection(resp.StatusCode, data)
		recordError(span, err)
		return nil, "", err
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = domain.NewTransportFailure(err)
		recordError(span, err)
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return img, contentType, nil
}

// post sends body as JSON through the breaker. Responses below 500 are
// returned for the caller to inspect.
func (c *Client) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
			return nil, &serverError{status: resp.StatusCode, body: data}
		}
		return resp, nil
	})
	if err == nil {
		return result.(*http.Response), nil
	}

	var se *serverError
	switch {
	case errors.As(err, &se):
		return nil, rejection(se.status, se.body)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, domain.NewTransportFailure(fmt.Errorf("analysis service unavailable: %w", err))
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, domain.NewTransportFailure(err)
	}
}

// rejection prefers the service's own message and falls back to the status line.
func rejection(status int, body []byte) *domain.AnalysisError {
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil && strings.TrimSpace(eb.Error) != "" {
		return domain.NewRemoteRejected(status, eb.Error)
	}
	return domain.NewTransportFailure(fmt.Errorf("request failed with status code %d", status))
}

func (r *analyzeResponse) toDomain() (*domain.AnalysisResult, error) {
	summer, err := r.Summer.toDomain("summer")
	if err != nil {
		return nil, err
	}
	winter, err := r.Winter.toDomain("winter")
	if err != nil {
		return nil, err
	}
	if len(r.Boundary) == 0 {
		return nil, errors.New("response has no boundary")
	}
	return &domain.AnalysisResult{
		Summer:        summer,
		Winter:        winter,
		BoundaryRings: r.Boundary,
	}, nil
}

func (s *seasonBody) toDomain(season string) (domain.SeasonResult, error) {
	if s == nil {
		return domain.SeasonResult{}, fmt.Errorf("response has no %s result", season)
	}
	if s.AcresWithCrop == nil || s.AcresIdle == nil {
		return domain.SeasonResult{}, fmt.Errorf("%s result is missing acreage", season)
	}
	return domain.SeasonResult{AcresWithCrop: *s.AcresWithCrop, AcresIdle: *s.AcresIdle}, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var ae *domain.AnalysisError
	if errors.As(err, &ae) {
		span.SetAttributes(attribute.String(telemetry.AttrErrorKind, string(ae.Kind)))
	}
}
