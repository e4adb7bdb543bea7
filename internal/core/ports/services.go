package ports

import (
	"context"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

// AnalysisClient talks to the remote crop analysis service.
type AnalysisClient interface {
	// Analyze issues exactly one analysis call. Failures are *domain.AnalysisError
	// where the cause is known.
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)

	// Thumbnail fetches the imagery preview for one season of a past request.
	Thumbnail(ctx context.Context, season string, req domain.AnalysisRequest) ([]byte, string, error)
}

// Geocoder resolves a human-readable label for a map point.
type Geocoder interface {
	Label(ctx context.Context, p domain.GeoPoint) (string, error)
}

// EventPublisher publishes analysis outcomes to a message broker.
type EventPublisher interface {
	PublishAnalysisOutcome(ctx context.Context, outcome *domain.AnalysisOutcome) error
}
