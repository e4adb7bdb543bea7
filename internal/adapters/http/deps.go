package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/cropcover/internal/core/usecases"
)

// BrokerStatus reports whether the event broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientConfig is what the browser map widget needs to boot.
type ClientConfig struct {
	MapsAPIKey   string       `json:"maps_api_key"`
	Center       CenterConfig `json:"center"`
	Zoom         int          `json:"zoom"`
	SummerDate   string       `json:"summer_date"`
	WinterDate   string       `json:"winter_date"`
	GeocodeLabel bool         `json:"geocode_label"`
}

type CenterConfig struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Dependencies holds all services needed by HTTP handlers.
// Broker, LimiterStorage and Store are optional.
type Dependencies struct {
	Sessions       *usecases.SessionService
	Client         ClientConfig
	Broker         BrokerStatus
	LimiterStorage fiber.Storage
	Store          Pinger
	RateLimit      int
	// AnalyzeTimeout bounds the analyze route, including ?wait=true. It must
	// exceed the analysis timeout. Zero uses 45s.
	AnalyzeTimeout time.Duration
}
