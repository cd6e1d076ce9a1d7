// Package service manages the map sessions of the geoacorda server.
package service

import (
	"github.com/joeblew999/geoacorda/internal/controller"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

// MapConfig is the persisted description of a map session. Huma reads the
// tags for OpenAPI and validation.
type MapConfig = geoacorda.MapOptions

// MapSummary is a map session as listed by the API.
type MapSummary struct {
	MapConfig
	ParcelID string `json:"parcelId,omitempty" doc:"Parcel being edited" example:"parcel-id-1"`
	FarmID   string `json:"farmId,omitempty" doc:"Farm of the parcel being edited" example:"farm-id-1"`
	Layers   int    `json:"layers" doc:"Number of layers on the map"`
}

// SourceFile is a GeoJSON resource of a file backend.
type SourceFile struct {
	Name     string `json:"name" doc:"File path relative to the backend directory" example:"parcels.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 KB"`
	Features int    `json:"features" doc:"Number of features, -1 if the file does not parse"`
}

// eventData flattens a controller event for the bus.
func eventData(ev controller.Event) map[string]any {
	data := map[string]any{"status": ev.Status.String()}
	if ev.ParcelID != "" {
		data["parcelId"] = ev.ParcelID
	}
	if ev.FarmID != "" {
		data["farmId"] = ev.FarmID
	}
	if ev.CommuneID != "" {
		data["communeId"] = ev.CommuneID
	}
	if ev.SaveID != "" {
		data["saveId"] = ev.SaveID
	}
	if ev.Kind == controller.EventModified || ev.Kind == controller.EventSaved {
		data["area"] = ev.Area
	}
	if ev.Kind == controller.EventModified {
		data["overlaps"] = ev.Overlaps
	}
	return data
}
