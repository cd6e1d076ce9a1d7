// Package editor contains Datastar SSE handlers for the map editor UI.
//
// The UI posts its signals (parcelId, farmId, communeId, token, role) and
// receives the outcome as patched signals. A long-lived events stream
// mirrors every change of a map, including the ones made through the REST
// API.
package editor

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/humastar"
	"github.com/joeblew999/geoacorda/internal/service"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

// MapHandler streams map operations to the editor.
type MapHandler struct {
	maps *service.MapService
}

// NewMapHandler creates a map editor handler.
func NewMapHandler(maps *service.MapService) *MapHandler {
	return &MapHandler{maps: maps}
}

// RegisterRoutes registers map editor routes with Huma.
func (h *MapHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/editor/maps/{element}/events", h.Events, huma.OperationTags("editor"))
	huma.Post(api, "/api/v1/editor/maps/{element}/parcel", h.ShowParcel, huma.OperationTags("editor"))
	huma.Post(api, "/api/v1/editor/maps/{element}/parcel/save", h.SaveParcel, huma.OperationTags("editor"))
	huma.Post(api, "/api/v1/editor/maps/{element}/farm", h.ShowParcels, huma.OperationTags("editor"))
	huma.Post(api, "/api/v1/editor/maps/{element}/commune", h.ZoomToCommune, huma.OperationTags("editor"))
}

type ElementInput struct {
	Element string `path:"element" doc:"Map name" example:"map"`
}

type ElementSignalsInput struct {
	Element string `path:"element" doc:"Map name" example:"map"`
	humastar.SignalsInput
}

// request parses the signals and looks up the map before streaming starts.
func (h *MapHandler) request(input *ElementSignalsInput) (*geoacorda.Map, humastar.Signals, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, nil, err
	}
	m, ok := h.maps.Get(input.Element)
	if !ok {
		return nil, nil, huma.Error404NotFound("map not found")
	}
	return m, signals, nil
}

func authFromSignals(s humastar.Signals) backend.Auth {
	return backend.Auth{Token: s.String("token"), Role: s.String("role")}
}

// viewSignals describes the view of m.
func viewSignals(m *geoacorda.Map) map[string]any {
	st := m.State()
	return map[string]any{
		"center":     []float64{st.Center[0], st.Center[1]},
		"zoom":       st.Zoom,
		"resolution": st.Resolution,
		"extent":     st.Extent[:],
	}
}

// ShowParcel loads a parcel and reports the outcome once it is on the map.
func (h *MapHandler) ShowParcel(ctx context.Context, input *ElementSignalsInput) (*huma.StreamResponse, error) {
	m, signals, err := h.request(input)
	if err != nil {
		return nil, err
	}
	parcelID, farmID := signals.String("parcelId"), signals.String("farmId")
	if parcelID == "" || farmID == "" {
		return nil, huma.Error400BadRequest("parcelId and farmId are required")
	}

	return humastar.Stream(func(sse humastar.SSE) {
		done := make(chan geoacorda.Status, 1)
		m.ShowParcel(parcelID, farmID, authFromSignals(signals), func(status geoacorda.Status, _ *geojson.Feature) {
			done <- status
		}, nil)

		select {
		case <-ctx.Done():
			return
		case status := <-done:
			if status != geoacorda.StatusSuccess {
				sse.Error("Parcel " + parcelID + " could not be loaded")
				return
			}
		}

		out := viewSignals(m)
		out["parcelId"] = parcelID
		out["farmId"] = farmID
		out["editing"] = true
		out["error"] = ""
		sse.Signals(out)
	}), nil
}

// SaveParcel saves the parcel being edited.
func (h *MapHandler) SaveParcel(ctx context.Context, input *ElementSignalsInput) (*huma.StreamResponse, error) {
	m, signals, err := h.request(input)
	if err != nil {
		return nil, err
	}

	return humastar.Stream(func(sse humastar.SSE) {
		m.SaveParcel(ctx, authFromSignals(signals), func(status geoacorda.Status, r *geoacorda.SaveResult) {
			if status != geoacorda.StatusSuccess {
				sse.Error("Parcel not saved")
				return
			}
			sse.Signals(map[string]any{
				"saveId":  r.ID,
				"area":    r.Area,
				"areaSau": r.AreaSau,
				"error":   "",
			})
			sse.Success("Parcel saved")
		})
	}), nil
}

// ShowParcels shows the parcels of a farm and reports the view once they
// are loaded.
func (h *MapHandler) ShowParcels(ctx context.Context, input *ElementSignalsInput) (*huma.StreamResponse, error) {
	m, signals, err := h.request(input)
	if err != nil {
		return nil, err
	}
	farmID := signals.String("farmId")
	if farmID == "" {
		return nil, huma.Error400BadRequest("farmId is required")
	}

	return humastar.Stream(func(sse humastar.SSE) {
		<-m.ShowParcels(farmID, authFromSignals(signals))

		out := viewSignals(m)
		out["farmId"] = farmID
		out["parcelId"] = ""
		out["editing"] = false
		sse.Signals(out)
	}), nil
}

// ZoomToCommune fits the view to a commune.
func (h *MapHandler) ZoomToCommune(ctx context.Context, input *ElementSignalsInput) (*huma.StreamResponse, error) {
	m, signals, err := h.request(input)
	if err != nil {
		return nil, err
	}
	communeID := signals.String("communeId")

	return humastar.Stream(func(sse humastar.SSE) {
		if err := m.ZoomToCommune(communeID); err != nil {
			sse.Error(err.Error())
			return
		}
		out := viewSignals(m)
		out["communeId"] = communeID
		sse.Signals(out)
	}), nil
}
