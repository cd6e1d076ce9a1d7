// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/service"
	"github.com/joeblew999/geoacorda/internal/store"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Maps     *service.MapService
	Sources  *service.SourceService
	Store    store.Store
	Backend  backend.Backend
	Communes *backend.CommuneIndex
}

// Types

type ElementInput struct {
	Element string `path:"element" doc:"Map name" example:"map"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc == nil {
		svc = &Services{}
	}
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterMaps registers map session routes.
func (h *APIHandler) RegisterMaps(api huma.API) {
	huma.Get(api, "/api/v1/maps", h.ListMaps, huma.OperationTags("maps"))
	huma.Register(api, huma.Operation{
		OperationID:   "create-map",
		Method:        "POST",
		Path:          "/api/v1/maps",
		Summary:       "Create map",
		Tags:          []string{"maps"},
		DefaultStatus: 201,
	}, h.CreateMap)
	huma.Get(api, "/api/v1/maps/{element}", h.GetMap, huma.OperationTags("maps"))
	huma.Delete(api, "/api/v1/maps/{element}", h.DeleteMap, huma.OperationTags("maps"))
}

// RegisterParcel registers the parcel editing routes of a map.
func (h *APIHandler) RegisterParcel(api huma.API) {
	huma.Post(api, "/api/v1/maps/{element}/parcel", h.ShowParcel, huma.OperationTags("parcel"))
	huma.Post(api, "/api/v1/maps/{element}/parcel/modify", h.ModifyParcel, huma.OperationTags("parcel"))
	huma.Post(api, "/api/v1/maps/{element}/parcel/save", h.SaveParcel, huma.OperationTags("parcel"))
	huma.Post(api, "/api/v1/maps/{element}/farm", h.ShowParcels, huma.OperationTags("parcel"))
	huma.Post(api, "/api/v1/maps/{element}/commune", h.ZoomToCommune, huma.OperationTags("parcel"))
}

// RegisterFarms registers the parcel service routes, served from the
// configured backend.
func (h *APIHandler) RegisterFarms(api huma.API) {
	huma.Get(api, "/api/v1/farms/{farmId}/parcels", h.GetFarmParcels, huma.OperationTags("farms"))
	huma.Get(api, "/api/v1/farms/{farmId}/parcels/{parcelId}", h.GetFarmParcel, huma.OperationTags("farms"))
	huma.Put(api, "/api/v1/farms/{farmId}/parcels/{parcelId}", h.PutFarmParcel, huma.OperationTags("farms"))
	huma.Get(api, "/api/v1/farms/{farmId}/tiles/{z}/{x}/{y}", h.GetFarmTile, huma.OperationTags("farms"))
}

// RegisterSaved registers the saved parcel routes.
func (h *APIHandler) RegisterSaved(api huma.API) {
	huma.Get(api, "/api/v1/saved", h.ListSaved, huma.OperationTags("saved"))
	huma.Get(api, "/api/v1/saved/{id}", h.GetSaved, huma.OperationTags("saved"))
}

// RegisterCommunes registers commune lookup routes.
func (h *APIHandler) RegisterCommunes(api huma.API) {
	huma.Get(api, "/api/v1/communes", h.ListCommunes, huma.OperationTags("communes"))
	huma.Get(api, "/api/v1/communes/{communeId}", h.GetCommune, huma.OperationTags("communes"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Sources == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Sources.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list sources", err)
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

// mapFor returns the map named element or a 404.
func (h *APIHandler) mapFor(element string) (*geoacorda.Map, error) {
	if h.svc.Maps == nil {
		return nil, huma.Error503ServiceUnavailable("maps not available")
	}
	m, ok := h.svc.Maps.Get(element)
	if !ok {
		return nil, huma.Error404NotFound("map not found")
	}
	return m, nil
}

// backendError maps parcel service errors to HTTP errors.
func backendError(err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return huma.Error404NotFound("parcel not found")
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout("parcel service timed out")
	default:
		return huma.Error502BadGateway("parcel service failed", err)
	}
}

var wgs84 = olmap.MustProjection(olmap.EPSG4326)

// toWGS84 converts a geometry from the projection of m to EPSG:4326.
func toWGS84(m *geoacorda.Map, g orb.Geometry) *geojson.Geometry {
	if g == nil {
		return nil
	}
	return geojson.NewGeometry(olmap.TransformGeometry(g, m.Controller().Projection(), wgs84))
}
