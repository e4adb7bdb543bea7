package domain

import (
	"errors"
	"math"
	"testing"
)

func TestPolygonFromRings_SwapsAndKeepsOrder(t *testing.T) {
	rings := [][][]float64{{{78.1, 17.2}, {78.2, 17.2}, {78.2, 17.3}}}

	got, err := PolygonFromRings(rings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := BoundaryPolygon{{Lat: 17.2, Lng: 78.1}, {Lat: 17.2, Lng: 78.2}, {Lat: 17.3, Lng: 78.2}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vertex %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPolygonFromRings_UsesFirstRingOnly(t *testing.T) {
	rings := [][][]float64{
		{{1, 2}, {3, 4}, {5, 6}},
		{{0, 0}},
	}
	got, err := PolygonFromRings(rings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestPolygonFromRings_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		rings [][][]float64
		want  error
	}{
		{"nil", nil, errNoRings},
		{"empty first ring", [][][]float64{{}}, errShortRing},
		{"two vertices", [][][]float64{{{1, 2}, {3, 4}}}, errShortRing},
		{"short position", [][][]float64{{{1, 2}, {3}, {5, 6}}}, errBadPosition},
		{"nan", [][][]float64{{{1, 2}, {math.NaN(), 4}, {5, 6}}}, errBadPosition},
		{"lat out of range", [][][]float64{{{1, 2}, {3, 95}, {5, 6}}}, errBadPosition},
		{"lng out of range", [][][]float64{{{1, 2}, {181, 4}, {5, 6}}}, errBadPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PolygonFromRings(tt.rings)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnalysisResult_Validate(t *testing.T) {
	base := func() *AnalysisResult {
		return &AnalysisResult{
			Summer:        SeasonResult{AcresWithCrop: 6, AcresIdle: 4},
			Winter:        SeasonResult{AcresWithCrop: 2, AcresIdle: 8},
			BoundaryRings: [][][]float64{{{78.1, 17.2}, {78.2, 17.2}, {78.2, 17.3}}},
		}
	}

	if _, err := base().Validate(); err != nil {
		t.Fatalf("valid result rejected: %v", err)
	}

	negative := base()
	negative.Summer.AcresIdle = -1
	if _, err := negative.Validate(); err == nil {
		t.Error("negative acreage accepted")
	}

	inf := base()
	inf.Winter.AcresWithCrop = math.Inf(1)
	if _, err := inf.Validate(); err == nil {
		t.Error("infinite acreage accepted")
	}

	// The parcel total is the service's concern; 3 + 3 is not rejected.
	odd := base()
	odd.Summer = SeasonResult{AcresWithCrop: 3, AcresIdle: 3}
	if _, err := odd.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
