package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/controller"
	"github.com/joeblew999/geoacorda/internal/humastar"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/service"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

var mapActions = []humastar.ActionDef{
	{Rel: "show-parcel", Pattern: "/api/v1/maps/%s/parcel", Method: "POST", Title: "Show parcel"},
	{Rel: "show-farm", Pattern: "/api/v1/maps/%s/farm", Method: "POST", Title: "Show farm parcels"},
	{Rel: "zoom-commune", Pattern: "/api/v1/maps/%s/commune", Method: "POST", Title: "Zoom to commune"},
	{Rel: "delete", Pattern: "/api/v1/maps/%s", Method: "DELETE", Title: "Delete map"},
}

var parcelActions = []humastar.ActionDef{
	{Rel: "modify", Pattern: "/api/v1/maps/%s/parcel/modify", Method: "POST", Title: "Modify parcel"},
	{Rel: "save", Pattern: "/api/v1/maps/%s/parcel/save", Method: "POST", Title: "Save parcel"},
}

// MapStateBody is a map and its current state.
type MapStateBody struct {
	Element string `json:"element" doc:"Map name" example:"map"`
	geoacorda.State
}

func (b MapStateBody) Actions() []humastar.Action {
	actions := humastar.ActionsFor(b.Element, mapActions)
	if b.ParcelID != "" {
		actions = append(actions, humastar.ActionsFor(b.Element, parcelActions)...)
	}
	return actions
}

type ShowParcelRequest struct {
	ParcelID string       `json:"parcelId" minLength:"1" doc:"Parcel id" example:"parcel-id-1"`
	FarmID   string       `json:"farmId" minLength:"1" doc:"Farm id" example:"farm-id-1"`
	Auth     backend.Auth `json:"auth,omitempty" doc:"Forwarded to the parcel service"`
}

// ParcelBody is the parcel being edited.
type ParcelBody struct {
	Element  string            `json:"element" doc:"Map name"`
	ParcelID string            `json:"parcelId" doc:"Parcel id"`
	FarmID   string            `json:"farmId" doc:"Farm id"`
	Geometry *geojson.Geometry `json:"geometry" doc:"Parcel geometry in EPSG:4326"`
}

func (b ParcelBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.Element, parcelActions)
}

type ModifyRequest struct {
	Geometry geojson.Geometry `json:"geometry" doc:"Edited geometry in EPSG:4326"`
}

// ModifyBody reports a completed edit.
type ModifyBody struct {
	ParcelID string  `json:"parcelId" doc:"Parcel id"`
	Area     float64 `json:"area" doc:"Geodesic area in square metres"`
	Overlaps bool    `json:"overlaps" doc:"Whether the parcel overlaps another parcel of its farm"`
}

type SaveParcelRequest struct {
	Auth backend.Auth `json:"auth,omitempty" doc:"Forwarded to the parcel service"`
}

// SaveBody describes a saved parcel.
type SaveBody struct {
	ID          string            `json:"id" doc:"Save id (ULID)" example:"01J9ZQ7M3T4B6V8X0Y2A4C6E8G"`
	ParcelID    string            `json:"parcelId" doc:"Parcel id"`
	FarmID      string            `json:"farmId" doc:"Farm id"`
	Geometry    *geojson.Geometry `json:"geometry" doc:"Saved geometry in EPSG:4326"`
	Area        float64           `json:"area" doc:"Geodesic area in square metres"`
	GeometrySau *geojson.Geometry `json:"geometrySau" doc:"Utilised agricultural area geometry in EPSG:4326"`
	AreaSau     float64           `json:"areaSau" doc:"Utilised agricultural area in square metres"`
	SavedAt     time.Time         `json:"savedAt" doc:"Save time"`
}

type ShowFarmRequest struct {
	FarmID string       `json:"farmId" minLength:"1" doc:"Farm id" example:"farm-id-1"`
	Auth   backend.Auth `json:"auth,omitempty" doc:"Forwarded to the parcel service"`
}

type CommuneRequest struct {
	CommuneID string `json:"communeId" minLength:"1" doc:"Commune id" example:"5586"`
}

// Map handlers

func (h *APIHandler) ListMaps(ctx context.Context, input *struct{}) (*struct{ Body []service.MapSummary }, error) {
	if h.svc.Maps == nil {
		return &struct{ Body []service.MapSummary }{Body: []service.MapSummary{}}, nil
	}
	return &struct{ Body []service.MapSummary }{Body: h.svc.Maps.List()}, nil
}

func (h *APIHandler) CreateMap(ctx context.Context, input *struct{ Body service.MapConfig }) (*struct{ Body service.MapSummary }, error) {
	if h.svc.Maps == nil {
		return nil, huma.Error503ServiceUnavailable("maps not available")
	}
	if _, err := h.svc.Maps.Create(ctx, input.Body); err != nil {
		switch {
		case errors.Is(err, service.ErrMapExists):
			return nil, huma.Error409Conflict(err.Error())
		case errors.Is(err, service.ErrInvalidElement):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		default:
			return nil, huma.Error400BadRequest(err.Error())
		}
	}
	summary, _ := h.svc.Maps.Summary(input.Body.Element)
	return &struct{ Body service.MapSummary }{Body: summary}, nil
}

func (h *APIHandler) GetMap(ctx context.Context, input *ElementInput) (*struct{ Body MapStateBody }, error) {
	m, err := h.mapFor(input.Element)
	if err != nil {
		return nil, err
	}
	return stateOutput(m), nil
}

func (h *APIHandler) DeleteMap(ctx context.Context, input *ElementInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Maps == nil {
		return nil, huma.Error503ServiceUnavailable("maps not available")
	}
	if err := h.svc.Maps.Delete(input.Element); err != nil {
		if errors.Is(err, service.ErrMapNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("Failed to delete map", err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Map deleted"}}, nil
}

// Parcel handlers

// ShowParcel loads a parcel for editing and answers once it is on the map.
func (h *APIHandler) ShowParcel(ctx context.Context, input *struct {
	ElementInput
	Body ShowParcelRequest
}) (*struct{ Body ParcelBody }, error) {
	m, err := h.mapFor(input.Element)
	if err != nil {
		return nil, err
	}

	done := make(chan geoacorda.Status, 1)
	m.ShowParcel(input.Body.ParcelID, input.Body.FarmID, input.Body.Auth, func(status geoacorda.Status, _ *geojson.Feature) {
		done <- status
	}, nil)

	select {
	case <-ctx.Done():
		return nil, huma.Error504GatewayTimeout("parcel not loaded in time")
	case status := <-done:
		if status != geoacorda.StatusSuccess {
			return nil, huma.Error502BadGateway("parcel not loaded")
		}
	}

	g, ok := m.Controller().ParcelGeometry()
	if !ok {
		return nil, huma.Error409Conflict("parcel replaced by a newer request")
	}
	return &struct{ Body ParcelBody }{Body: ParcelBody{
		Element:  input.Element,
		ParcelID: input.Body.ParcelID,
		FarmID:   input.Body.FarmID,
		Geometry: toWGS84(m, g),
	}}, nil
}

// ModifyParcel completes an edit of the parcel being edited and reports
// its area and overlap state.
func (h *APIHandler) ModifyParcel(ctx context.Context, input *struct {
	ElementInput
	Body ModifyRequest
}) (*struct{ Body ModifyBody }, error) {
	m, err := h.mapFor(input.Element)
	if err != nil {
		return nil, err
	}
	g := input.Body.Geometry.Geometry()
	if g == nil {
		return nil, huma.Error422UnprocessableEntity("geometry is required")
	}

	mod, err := m.ModifyParcel(olmap.TransformGeometry(g, wgs84, m.Controller().Projection()))
	if err != nil {
		if errors.Is(err, controller.ErrNoParcel) {
			return nil, huma.Error409Conflict("no parcel loaded")
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &struct{ Body ModifyBody }{Body: ModifyBody{
		ParcelID: mod.ParcelID,
		Area:     mod.Area,
		Overlaps: mod.Overlaps,
	}}, nil
}

// SaveParcel saves the parcel being edited.
func (h *APIHandler) SaveParcel(ctx context.Context, input *struct {
	ElementInput
	Body SaveParcelRequest
}) (*struct{ Body SaveBody }, error) {
	m, err := h.mapFor(input.Element)
	if err != nil {
		return nil, err
	}
	if m.Controller().Parcel() == nil {
		return nil, huma.Error409Conflict("no parcel loaded")
	}

	var result *geoacorda.SaveResult
	m.SaveParcel(ctx, input.Body.Auth, func(status geoacorda.Status, r *geoacorda.SaveResult) {
		if status == geoacorda.StatusSuccess {
			result = r
		}
	})
	if result == nil {
		return nil, huma.Error502BadGateway("parcel not saved")
	}

	return &struct{ Body SaveBody }{Body: SaveBody{
		ID:          result.ID,
		ParcelID:    result.ParcelID,
		FarmID:      result.FarmID,
		Geometry:    toWGS84(m, result.Geometry),
		Area:        result.Area,
		GeometrySau: toWGS84(m, result.GeometrySau),
		AreaSau:     result.AreaSau,
		SavedAt:     result.SavedAt,
	}}, nil
}

// ShowParcels shows every parcel of a farm and answers once they are
// loaded.
func (h *APIHandler) ShowParcels(ctx context.Context, input *struct {
	ElementInput
	Body ShowFarmRequest
}) (*struct{ Body MapStateBody }, error) {
	m, err := h.mapFor(input.Element)
	if err != nil {
		return nil, err
	}
	done := m.ShowParcels(input.Body.FarmID, input.Body.Auth)
	select {
	case <-ctx.Done():
		return nil, huma.Error504GatewayTimeout("farm parcels not loaded in time")
	case <-done:
	}
	return stateOutput(m), nil
}

func (h *APIHandler) ZoomToCommune(ctx context.Context, input *struct {
	ElementInput
	Body CommuneRequest
}) (*struct{ Body MapStateBody }, error) {
	m, err := h.mapFor(input.Element)
	if err != nil {
		return nil, err
	}
	if err := m.ZoomToCommune(input.Body.CommuneID); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return stateOutput(m), nil
}

func stateOutput(m *geoacorda.Map) *struct{ Body MapStateBody } {
	return &struct{ Body MapStateBody }{Body: MapStateBody{Element: m.Element(), State: m.State()}}
}
