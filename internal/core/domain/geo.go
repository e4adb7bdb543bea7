package domain

import (
	"errors"
	"fmt"
	"math"
)

// GeoPoint represents a geographic coordinate (WGS 84) picked on the map.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundaryPolygon is the ordered vertex list drawn on the map for an analyzed parcel.
type BoundaryPolygon []GeoPoint

// Parcel summarizes the analyzed boundary.
type Parcel struct {
	AreaAcres    float64  `json:"area_acres"`
	Center       GeoPoint `json:"center"`
	OffsetMeters float64  `json:"offset_meters"` // distance from the selected point to Center
}

// ParcelAcres is the nominal size of the analyzed parcel.
const ParcelAcres = 10.0

var (
	errNoRings     = errors.New("boundary has no rings")
	errShortRing   = errors.New("boundary ring has fewer than 3 vertices")
	errBadPosition = errors.New("boundary position is not a [lng, lat] pair")
)

// PolygonFromRings derives the map polygon from the first boundary ring.
// Rings arrive as [lng, lat] positions; the polygon swaps each into {lat, lng}
// and keeps vertex order.
func PolygonFromRings(rings [][][]float64) (BoundaryPolygon, error) {
	if len(rings) == 0 {
		return nil, errNoRings
	}

	ring := rings[0]
	if len(ring) < 3 {
		return nil, fmt.Errorf("%w: got %d", errShortRing, len(ring))
	}

	polygon := make(BoundaryPolygon, 0, len(ring))
	for i, pos := range ring {
		if len(pos) < 2 {
			return nil, fmt.Errorf("%w at index %d", errBadPosition, i)
		}
		lng, lat := pos[0], pos[1]
		if !finite(lng) || !finite(lat) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return nil, fmt.Errorf("%w at index %d: [%v, %v]", errBadPosition, i, lng, lat)
		}
		polygon = append(polygon, GeoPoint{Lat: lat, Lng: lng})
	}

	return polygon, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
