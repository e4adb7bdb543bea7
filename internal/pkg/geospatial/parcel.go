// Package geospatial turns analysis boundaries into orb geometry for area,
// center and GeoJSON export.
package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

const squareMetersPerAcre = 4046.8564224

// Ring converts a boundary into a closed orb ring of [lng, lat] points.
func Ring(boundary domain.BoundaryPolygon) orb.Ring {
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, p := range boundary {
		ring = append(ring, orb.Point{p.Lng, p.Lat})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// Summarize computes the geodesic area and bounding-box center of the boundary
// and how far the center lies from the selected point.
func Summarize(point domain.GeoPoint, boundary domain.BoundaryPolygon) domain.Parcel {
	ring := Ring(boundary)
	if len(ring) == 0 {
		return domain.Parcel{}
	}

	c := ring.Bound().Center()
	center := domain.GeoPoint{Lat: c.Lat(), Lng: c.Lon()}

	return domain.Parcel{
		AreaAcres:    math.Abs(geo.Area(orb.Polygon{ring})) / squareMetersPerAcre,
		Center:       center,
		OffsetMeters: Distance(point, center),
	}
}

// Distance is the great-circle distance in meters between two points.
func Distance(a, b domain.GeoPoint) float64 {
	return geo.DistanceHaversine(orb.Point{a.Lng, a.Lat}, orb.Point{b.Lng, b.Lat})
}

// BoundaryFeatureCollection renders the boundary as a one-feature GeoJSON
// FeatureCollection with the given properties.
func BoundaryFeatureCollection(boundary domain.BoundaryPolygon, props map[string]interface{}) ([]byte, error) {
	f := geojson.NewFeature(orb.Polygon{Ring(boundary)})
	for k, v := range props {
		f.Properties[k] = v
	}

	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	return fc.MarshalJSON()
}
