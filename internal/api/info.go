package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir     string
	backendURL  string
	storeDriver string
	projections []string
}

func NewInfoHandler(dataDir, backendURL, storeDriver string, projections []string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, backendURL: backendURL, storeDriver: storeDriver, projections: projections}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name        string   `json:"name" doc:"Service name"`
	Version     string   `json:"version" doc:"Service version"`
	DataDir     string   `json:"data_dir" doc:"Data directory path"`
	Backend     string   `json:"backend" doc:"Parcel backend URL"`
	Store       string   `json:"store" doc:"Saved parcel store driver"`
	Projections []string `json:"projections" doc:"Supported map projections"`
	Features    []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:        "geoacorda",
		Version:     Version,
		DataDir:     h.dataDir,
		Backend:     h.backendURL,
		Store:       h.storeDriver,
		Projections: h.projections,
		Features:    []string{"show-parcel", "save-parcel", "show-parcels", "zoom-to-commune", "editor-sse"},
	}}, nil
}
