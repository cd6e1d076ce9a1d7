package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/tiler"
)

// AuthHeaders carries the parcel service credentials, in the form the
// HTTP backend sends them.
type AuthHeaders struct {
	Authorization string `header:"Authorization" doc:"Bearer token"`
	Role          string `header:"X-Role" doc:"Role of the caller"`
}

func (a AuthHeaders) auth() backend.Auth {
	token, _ := strings.CutPrefix(a.Authorization, "Bearer ")
	return backend.Auth{Token: token, Role: a.Role}
}

type FarmInput struct {
	AuthHeaders
	FarmID string `path:"farmId" doc:"Farm id" example:"farm-id-1"`
}

type FarmParcelInput struct {
	FarmInput
	ParcelID string `path:"parcelId" doc:"Parcel id" example:"parcel-id-1"`
}

// GeoJSONOutput is a GeoJSON response.
type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        *geojson.FeatureCollection
}

func geoJSON(fc *geojson.FeatureCollection) *GeoJSONOutput {
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: fc}
}

type TileInput struct {
	FarmInput
	Z uint32 `path:"z" maximum:"20" doc:"Zoom level"`
	X uint32 `path:"x" doc:"Tile column"`
	Y uint32 `path:"y" doc:"Tile row"`
}

// TileOutput is a gzipped Mapbox vector tile. Empty tiles are 204.
type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	Body            []byte
}

// CommuneBody is a commune and its extent.
type CommuneBody struct {
	ID     string     `json:"id" doc:"Commune id" example:"5586"`
	Name   string     `json:"name,omitempty" doc:"Commune name" example:"Lausanne"`
	Extent [4]float64 `json:"extent" doc:"Extent in EPSG:4326 as [minLon, minLat, maxLon, maxLat]"`
	Found  bool       `json:"found" doc:"False when the fallback extent was used"`
}

// Farm handlers

func (h *APIHandler) GetFarmParcels(ctx context.Context, input *FarmInput) (*GeoJSONOutput, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("parcel backend not available")
	}
	fc, err := h.svc.Backend.Parcels(ctx, input.auth(), input.FarmID)
	if err != nil {
		return nil, backendError(err)
	}
	return geoJSON(fc), nil
}

func (h *APIHandler) GetFarmParcel(ctx context.Context, input *FarmParcelInput) (*GeoJSONOutput, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("parcel backend not available")
	}
	fc, err := h.svc.Backend.Parcel(ctx, input.auth(), input.FarmID, input.ParcelID)
	if err != nil {
		return nil, backendError(err)
	}
	return geoJSON(fc), nil
}

// GetFarmTile renders the parcels of a farm as a vector tile with a single
// "parcels" layer.
func (h *APIHandler) GetFarmTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("parcel backend not available")
	}
	if input.X >= 1<<input.Z || input.Y >= 1<<input.Z {
		return nil, huma.Error400BadRequest("tile outside the grid")
	}
	fc, err := h.svc.Backend.Parcels(ctx, input.auth(), input.FarmID)
	if err != nil {
		return nil, backendError(err)
	}
	data, err := tiler.Render(fc, maptile.New(input.X, input.Y, maptile.Zoom(input.Z)), "parcels")
	if err != nil {
		return nil, huma.Error500InternalServerError("rendering tile", err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		Body:            data,
	}, nil
}

// PutFarmParcel stores a saved parcel through the backend. It accepts the
// request body sent by the HTTP backend, so one server can serve another.
func (h *APIHandler) PutFarmParcel(ctx context.Context, input *struct {
	FarmParcelInput
	Body backend.SaveRequest
}) (*struct{ Body MessageBody }, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("parcel backend not available")
	}
	req := input.Body
	if req.FarmID != input.FarmID || req.ParcelID != input.ParcelID {
		return nil, huma.Error422UnprocessableEntity("body does not match the parcel path")
	}
	if req.Feature == nil || req.Feature.Geometry == nil {
		return nil, huma.Error422UnprocessableEntity("feature geometry is required")
	}
	if err := h.svc.Backend.SaveParcel(ctx, input.auth(), req); err != nil {
		return nil, backendError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Parcel saved"}}, nil
}

// Commune handlers

func (h *APIHandler) ListCommunes(ctx context.Context, input *struct{}) (*struct{ Body []CommuneBody }, error) {
	out := []CommuneBody{}
	if h.svc.Communes != nil {
		for _, c := range h.svc.Communes.List() {
			out = append(out, CommuneBody{ID: c.ID, Name: c.Name, Extent: c.Extent, Found: true})
		}
	}
	return &struct{ Body []CommuneBody }{Body: out}, nil
}

func (h *APIHandler) GetCommune(ctx context.Context, input *struct {
	CommuneID string `path:"communeId" doc:"Commune id" example:"5586"`
}) (*struct{ Body CommuneBody }, error) {
	idx := h.svc.Communes
	if idx == nil {
		idx = backend.NewCommuneIndex()
	}
	ext, found := idx.Extent(input.CommuneID)
	body := CommuneBody{
		ID:     input.CommuneID,
		Extent: [4]float64{ext.Min[0], ext.Min[1], ext.Max[0], ext.Max[1]},
		Found:  found,
	}
	for _, c := range idx.List() {
		if c.ID == input.CommuneID {
			body.Name = c.Name
		}
	}
	return &struct{ Body CommuneBody }{Body: body}, nil
}
