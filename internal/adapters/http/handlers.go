package http

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

var validate = validator.New()

// pointRequest carries a map click. Coordinates are stored as given.
type pointRequest struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lng *float64 `json:"lng" validate:"required"`
}

// datesRequest replaces whichever dates are present.
type datesRequest struct {
	SummerDate *string `json:"summerDate" validate:"omitempty,max=32"`
	WinterDate *string `json:"winterDate" validate:"omitempty,max=32"`
}

type analyzeResponse struct {
	Accepted   bool             `json:"accepted"`
	Reason     domain.ErrorKind `json:"reason,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Session    domain.Snapshot  `json:"session"`
}

// CreateSessionHandler starts a session with the default dates.
func CreateSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap := deps.Sessions.Create()
		c.Location("/v1/sessions/" + snap.ID)
		return c.Status(fiber.StatusCreated).JSON(snap)
	}
}

// GetSessionHandler returns the session snapshot.
func GetSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := deps.Sessions.Snapshot(c.Params("id"))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(snap)
	}
}

// DeleteSessionHandler removes a session and abandons its request.
func DeleteSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Sessions.Delete(c.Params("id")); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SelectPointHandler records the selected point.
func SelectPointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req pointRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return errBadRequest(c, "lat and lng are required")
		}

		snap, err := deps.Sessions.SelectPoint(c.Params("id"), domain.GeoPoint{Lat: *req.Lat, Lng: *req.Lng})
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(snap)
	}
}

// SetDatesHandler edits the observation dates. Values are not checked here;
// the analysis service rejects dates it cannot use.
func SetDatesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req datesRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return errBadRequest(c, "dates must be at most 32 characters")
		}

		snap, err := deps.Sessions.SetDates(c.Params("id"), req.SummerDate, req.WinterDate)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(snap)
	}
}

// AnalyzeHandler triggers an analysis. Ignored triggers answer 200 with
// accepted=false; with ?wait=true the handler returns once the request ends.
func AnalyzeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")

		run, err := deps.Sessions.Trigger(c.UserContext(), id)
		if err != nil {
			var ae *domain.AnalysisError
			if !errors.As(err, &ae) {
				return serviceError(c, err)
			}
			snap, serr := deps.Sessions.Snapshot(id)
			if serr != nil {
				return serviceError(c, serr)
			}
			return c.JSON(analyzeResponse{Accepted: false, Reason: ae.Kind, Session: snap})
		}

		status := fiber.StatusAccepted
		if c.QueryBool("wait") {
			if _, err := run.Wait(c.UserContext()); err != nil {
				return errTimeout(c, "analysis still running")
			}
			status = fiber.StatusOK
		}

		snap, err := deps.Sessions.Snapshot(id)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(status).JSON(analyzeResponse{
			Accepted:   true,
			Generation: run.Generation(),
			Session:    snap,
		})
	}
}

// BoundaryGeoJSONHandler exports the stored boundary as a FeatureCollection.
func BoundaryGeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := deps.Sessions.BoundaryGeoJSON(c.Params("id"))
		if err != nil {
			return serviceError(c, err)
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(data)
	}
}

// ThumbnailHandler proxies the season preview image.
func ThumbnailHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		img, contentType, err := deps.Sessions.Thumbnail(c.UserContext(), c.Params("id"), c.Params("season"))
		if err != nil {
			return serviceError(c, err)
		}
		c.Set(fiber.HeaderContentType, contentType)
		c.Set(fiber.HeaderCacheControl, "private, max-age=300")
		return c.Send(img)
	}
}

// ClientConfigHandler returns the map widget settings.
func ClientConfigHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "public, max-age=300")
		return c.JSON(deps.Client)
	}
}
