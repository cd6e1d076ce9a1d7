package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoacorda/internal/humastar"
	"github.com/joeblew999/geoacorda/internal/store"
)

// SavedParcelBody is a parcel kept by the store.
type SavedParcelBody struct {
	ID       string            `json:"id" doc:"Save id (ULID)"`
	FarmID   string            `json:"farmId" doc:"Farm id"`
	ParcelID string            `json:"parcelId" doc:"Parcel id"`
	Geometry *geojson.Geometry `json:"geometry" doc:"Geometry in EPSG:4326"`
	Area     float64           `json:"area" doc:"Geodesic area in square metres"`
	AreaSau  float64           `json:"areaSau" doc:"Utilised agricultural area in square metres"`
	SavedAt  time.Time         `json:"savedAt" doc:"Save time"`
}

type ListSavedInput struct {
	FarmID string `query:"farmId" doc:"Only list saves of this farm"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int    `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Page size"`
}

func (h *APIHandler) ListSaved(ctx context.Context, input *ListSavedInput) (*struct {
	Body humastar.PageBody[SavedParcelBody]
}, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("store not available")
	}
	items, total, err := h.svc.Store.List(ctx, input.FarmID, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list saved parcels", err)
	}

	page := humastar.PageBody[SavedParcelBody]{
		Total:  total,
		Offset: input.Offset,
		Limit:  input.Limit,
		Data:   make([]SavedParcelBody, 0, len(items)),
	}
	for _, p := range items {
		page.Data = append(page.Data, savedBody(p))
	}
	return &struct {
		Body humastar.PageBody[SavedParcelBody]
	}{Body: page}, nil
}

func (h *APIHandler) GetSaved(ctx context.Context, input *struct {
	ID string `path:"id" doc:"Save id"`
}) (*struct{ Body SavedParcelBody }, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("store not available")
	}
	p, err := h.svc.Store.Get(ctx, input.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, huma.Error404NotFound("saved parcel not found")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read saved parcel", err)
	}
	return &struct{ Body SavedParcelBody }{Body: savedBody(p)}, nil
}

func savedBody(p store.SavedParcel) SavedParcelBody {
	b := SavedParcelBody{
		ID:       p.ID,
		FarmID:   p.FarmID,
		ParcelID: p.ParcelID,
		Area:     p.Area,
		AreaSau:  p.AreaSau,
		SavedAt:  p.SavedAt,
	}
	if p.Geometry != nil {
		b.Geometry = geojson.NewGeometry(p.Geometry)
	}
	return b
}
