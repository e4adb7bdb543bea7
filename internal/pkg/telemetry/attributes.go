package telemetry

// TracerName is the instrumentation scope for spans created by this service.
const TracerName = "github.com/samirrijal/cropcover"

// Span names.
const (
	SpanTrigger   = "session.trigger"
	SpanAnalyze   = "analysis.analyze"
	SpanThumbnail = "analysis.thumbnail"
	SpanGeocode   = "geocode.reverse"
)

// Span attribute keys.
const (
	AttrSessionID  = "cropcover.session_id"
	AttrGeneration = "cropcover.generation"
	AttrLat        = "cropcover.point.lat"
	AttrLng        = "cropcover.point.lng"
	AttrSummerDate = "cropcover.summer_date"
	AttrWinterDate = "cropcover.winter_date"
	AttrSeason     = "cropcover.season"
	AttrErrorKind  = "cropcover.error_kind"
	AttrHTTPStatus = "http.response.status_code"
)
