package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to the session service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lng": &graphql.Field{Type: graphql.Float},
		},
	})

	seasonType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SeasonResult",
		Fields: graphql.Fields{
			"acres_with_crop": &graphql.Field{Type: graphql.Float},
			"acres_idle":      &graphql.Field{Type: graphql.Float},
		},
	})

	parcelType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Parcel",
		Fields: graphql.Fields{
			"area_acres":    &graphql.Field{Type: graphql.Float},
			"center":        &graphql.Field{Type: geoPointType},
			"offset_meters": &graphql.Field{Type: graphql.Float},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"point":         &graphql.Field{Type: geoPointType},
			"point_label":   &graphql.Field{Type: graphql.String},
			"summer_date":   &graphql.Field{Type: graphql.String},
			"winter_date":   &graphql.Field{Type: graphql.String},
			"state":         &graphql.Field{Type: graphql.String},
			"busy":          &graphql.Field{Type: graphql.Boolean},
			"error_message": &graphql.Field{Type: graphql.String},
			"error_kind":    &graphql.Field{Type: graphql.String},
			"summer":        &graphql.Field{Type: seasonType},
			"winter":        &graphql.Field{Type: seasonType},
			"boundary":      &graphql.Field{Type: graphql.NewList(geoPointType)},
			"parcel":        &graphql.Field{Type: parcelType},
			"generation":    &graphql.Field{Type: graphql.Int},
			"updated_at":    &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Get an analysis session by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					snap, err := deps.Sessions.Snapshot(id)
					if errors.Is(err, domain.ErrSessionNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return snapshotToGraph(snap), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// snapshotToGraph flattens a snapshot into plain values for graphql-go.
func snapshotToGraph(s domain.Snapshot) map[string]interface{} {
	point := func(p domain.GeoPoint) map[string]interface{} {
		return map[string]interface{}{"lat": p.Lat, "lng": p.Lng}
	}
	season := func(r domain.SeasonResult) map[string]interface{} {
		return map[string]interface{}{"acres_with_crop": r.AcresWithCrop, "acres_idle": r.AcresIdle}
	}

	m := map[string]interface{}{
		"id":            s.ID,
		"point_label":   s.PointLabel,
		"summer_date":   s.SummerDate,
		"winter_date":   s.WinterDate,
		"state":         string(s.State),
		"busy":          s.Busy,
		"error_message": s.ErrorMessage,
		"error_kind":    string(s.ErrorKind),
		"generation":    int(s.Generation),
		"updated_at":    s.UpdatedAt.Format(time.RFC3339),
	}
	if s.Point != nil {
		m["point"] = point(*s.Point)
	}
	if s.Result != nil {
		m["summer"] = season(s.Result.Summer)
		m["winter"] = season(s.Result.Winter)
	}
	if len(s.Boundary) > 0 {
		boundary := make([]map[string]interface{}, len(s.Boundary))
		for i, p := range s.Boundary {
			boundary[i] = point(p)
		}
		m["boundary"] = boundary
	}
	if s.Parcel != nil {
		m["parcel"] = map[string]interface{}{
			"area_acres":    s.Parcel.AreaAcres,
			"center":        point(s.Parcel.Center),
			"offset_meters": s.Parcel.OffsetMeters,
		}
	}
	return m
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
