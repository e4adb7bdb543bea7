package domain

import (
	"fmt"
	"time"
)

// Default observation dates offered before the user edits them.
const (
	DefaultSummerDate = "2023-06-01"
	DefaultWinterDate = "2023-12-01"
)

// DateParams holds the two observation dates as entered (YYYY-MM-DD).
// The analysis service is the authority on their validity.
type DateParams struct {
	Summer string `json:"summer_date"`
	Winter string `json:"winter_date"`
}

// AnalysisRequest is the immutable snapshot sent to the analysis service.
type AnalysisRequest struct {
	Point      GeoPoint `json:"point"`
	SummerDate string   `json:"summer_date"`
	WinterDate string   `json:"winter_date"`
}

// SeasonResult is the crop/idle acreage for one observation date.
type SeasonResult struct {
	AcresWithCrop float64 `json:"acres_with_crop"`
	AcresIdle     float64 `json:"acres_idle"`
}

func (s SeasonResult) validate(season string) error {
	if !finite(s.AcresWithCrop) || !finite(s.AcresIdle) {
		return fmt.Errorf("%s acreage is not a finite number", season)
	}
	if s.AcresWithCrop < 0 || s.AcresIdle < 0 {
		return fmt.Errorf("%s acreage is negative", season)
	}
	return nil
}

// AnalysisResult is a successful analysis as returned by the service.
// BoundaryRings holds [lng, lat] positions; only the first ring is used.
type AnalysisResult struct {
	Summer        SeasonResult  `json:"summer"`
	Winter        SeasonResult  `json:"winter"`
	BoundaryRings [][][]float64 `json:"boundary_rings"`

	Request     AnalysisRequest `json:"request"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Validate checks the result and derives its boundary polygon.
func (r *AnalysisResult) Validate() (BoundaryPolygon, error) {
	if err := r.Summer.validate("summer"); err != nil {
		return nil, err
	}
	if err := r.Winter.validate("winter"); err != nil {
		return nil, err
	}
	return PolygonFromRings(r.BoundaryRings)
}

// RequestState is the orchestrator's state. Exactly one holds at a time.
type RequestState string

const (
	StateIdle      RequestState = "idle"
	StateInFlight  RequestState = "in_flight"
	StateSucceeded RequestState = "succeeded"
	StateFailed    RequestState = "failed"
)

// Snapshot is the read model handed to the presentation layer.
type Snapshot struct {
	ID           string          `json:"id"`
	Point        *GeoPoint       `json:"point"`
	PointLabel   string          `json:"point_label,omitempty"`
	SummerDate   string          `json:"summer_date"`
	WinterDate   string          `json:"winter_date"`
	State        RequestState    `json:"state"`
	Busy         bool            `json:"busy"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	Result       *AnalysisResult `json:"result,omitempty"`
	Boundary     BoundaryPolygon `json:"boundary,omitempty"`
	Parcel       *Parcel         `json:"parcel,omitempty"`
	Generation   uint64          `json:"generation"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EventType names a session change notification.
type EventType string

const (
	EventPointChanged  EventType = "point_changed"
	EventLabelChanged  EventType = "label_changed"
	EventDatesChanged  EventType = "dates_changed"
	EventStateChanged  EventType = "state_changed"
	EventResultChanged EventType = "result_changed"
)

// Event notifies subscribers that a session changed; they re-read the snapshot.
type Event struct {
	Type       EventType    `json:"event"`
	SessionID  string       `json:"session_id"`
	State      RequestState `json:"state"`
	Generation uint64       `json:"generation"`
	At         time.Time    `json:"at"`
}

// AnalysisOutcome is published once per accepted request that reached a terminal state.
type AnalysisOutcome struct {
	SessionID  string          `json:"session_id"`
	Generation uint64          `json:"generation"`
	Request    AnalysisRequest `json:"request"`
	State      RequestState    `json:"state"`
	Summer     *SeasonResult   `json:"summer,omitempty"`
	Winter     *SeasonResult   `json:"winter,omitempty"`
	ErrorKind  ErrorKind       `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	At         time.Time       `json:"at"`
}
