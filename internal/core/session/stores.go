package session

import "github.com/samirrijal/cropcover/internal/core/domain"

// pointStore holds the selected point. version increases on every selection so
// background work tied to an older point (label lookups) can be recognised.
type pointStore struct {
	current *domain.GeoPoint
	label   string
	version uint64
}

func (p *pointStore) set(pt domain.GeoPoint) uint64 {
	p.current = &pt
	p.label = ""
	p.version++
	return p.version
}

func (p *pointStore) get() (domain.GeoPoint, bool) {
	if p.current == nil {
		return domain.GeoPoint{}, false
	}
	return *p.current, true
}

// dateStore holds the two observation dates; each is replaced independently.
type dateStore struct {
	summer string
	winter string
}

// resultStore holds the last successful result and what was derived from it.
type resultStore struct {
	result   *domain.AnalysisResult
	boundary domain.BoundaryPolygon
	parcel   *domain.Parcel
}

func (r *resultStore) store(res *domain.AnalysisResult, boundary domain.BoundaryPolygon, parcel *domain.Parcel) {
	r.result = res
	r.boundary = boundary
	r.parcel = parcel
}

// clear empties the store and reports whether anything was held.
func (r *resultStore) clear() bool {
	had := r.result != nil
	r.result = nil
	r.boundary = nil
	r.parcel = nil
	return had
}
