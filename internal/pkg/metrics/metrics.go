package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cropcover",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10, 30},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cropcover",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "analysis",
		Name:      "requests_total",
		Help:      "Accepted analysis requests by terminal state and error kind",
	}, []string{"state", "kind"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cropcover",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "Duration of remote analysis calls",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"state"})

	TriggersIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "analysis",
		Name:      "triggers_ignored_total",
		Help:      "Triggers dropped because no point was selected or a request was in flight",
	}, []string{"reason"})

	DiscardedCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "analysis",
		Name:      "discarded_completions_total",
		Help:      "Completions of superseded requests that were dropped",
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cropcover",
		Subsystem: "analysis",
		Name:      "breaker_state",
		Help:      "Analysis client circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cropcover",
		Subsystem: "session",
		Name:      "active",
		Help:      "Current number of live analysis sessions",
	})

	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "session",
		Name:      "expired_total",
		Help:      "Sessions removed by the idle sweeper",
	})

	GeocodeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "session",
		Name:      "geocode_lookups_total",
		Help:      "Reverse geocode lookups by result",
	}, []string{"result"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cropcover",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cropcover",
		Subsystem: "nats",
		Name:      "events_published_total",
		Help:      "Analysis outcome events published by result",
	}, []string{"result"})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path // route pattern keeps session ids out of the labels
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
