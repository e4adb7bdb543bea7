// Package geocoder labels map points with Google reverse geocoding.
package geocoder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/pkg/telemetry"
)

var errNoAddress = errors.New("no address for point")

// keyMu guards geocoder.ApiKey, which the library reads from a package variable.
var keyMu sync.Mutex

// Google implements ports.Geocoder.
type Google struct {
	reverse func(geocoder.Location) ([]geocoder.Address, error)
	tracer  trace.Tracer
}

// NewGoogle returns a reverse geocoder using the map-provider key.
// Returns nil if the key is empty, so labels are simply never set.
func NewGoogle(apiKey string) *Google {
	if apiKey == "" {
		return nil
	}
	keyMu.Lock()
	geocoder.ApiKey = apiKey
	keyMu.Unlock()

	return &Google{
		reverse: geocoder.GeocodingReverse,
		tracer:  otel.Tracer(telemetry.TracerName),
	}
}

type reply struct {
	label string
	err   error
}

// Label returns the formatted address of the first match for p.
// The library call has no context, so ctx only bounds how long we wait.
func (g *Google) Label(ctx context.Context, p domain.GeoPoint) (string, error) {
	ctx, span := g.tracer.Start(ctx, telemetry.SpanGeocode, trace.WithAttributes(
		attribute.Float64(telemetry.AttrLat, p.Lat),
		attribute.Float64(telemetry.AttrLng, p.Lng),
	))
	defer span.End()

	replies := make(chan reply, 1)
	go func() {
		addresses, err := g.reverse(geocoder.Location{Latitude: p.Lat, Longitude: p.Lng})
		if err != nil {
			replies <- reply{err: fmt.Errorf("reverse geocode: %w", err)}
			return
		}
		replies <- reply{label: firstLabel(addresses)}
	}()

	select {
	case r := <-replies:
		if r.err == nil && r.label == "" {
			r.err = errNoAddress
		}
		if r.err != nil {
			span.SetStatus(codes.Error, r.err.Error())
		}
		return r.label, r.err
	case <-ctx.Done():
		span.SetStatus(codes.Error, ctx.Err().Error())
		return "", ctx.Err()
	}
}

func firstLabel(addresses []geocoder.Address) string {
	for _, a := range addresses {
		if a.FormattedAddress != "" {
			return a.FormattedAddress
		}
		if s := a.FormatAddress(); s != "" {
			return s
		}
	}
	return ""
}
