package controller

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/geoacorda/internal/olmap"
)

// Event kinds.
const (
	EventLoaded   = "loaded"
	EventModified = "modified"
	EventSaved    = "saved"
	EventFitted   = "fitted"
)

// Event reports something that happened on the map.
type Event struct {
	Kind      string
	Status    Status
	ParcelID  string
	FarmID    string
	CommuneID string
	SaveID    string
	Area      float64
	Overlaps  bool
}

// LayerState describes one layer of the map stack.
type LayerState struct {
	Name     string      `json:"name" doc:"Layer name" example:"parcel"`
	Kind     string      `json:"kind" enum:"tile,vector" doc:"Layer kind"`
	Features int         `json:"features" doc:"Number of features, 0 for tile layers"`
	Loaded   bool        `json:"loaded" doc:"Whether the layer source has its data"`
	Style    olmap.Style `json:"style,omitempty" doc:"Vector style"`
}

// State is a snapshot of the map.
type State struct {
	Projection   string       `json:"projection" doc:"Map projection code" example:"EPSG:21781"`
	Size         olmap.Size   `json:"size" doc:"Viewport size"`
	Center       orb.Point    `json:"center" doc:"View centre in map units"`
	Resolution   float64      `json:"resolution" doc:"Map units per pixel"`
	Zoom         int          `json:"zoom" doc:"Index of the nearest configured resolution"`
	Extent       [4]float64   `json:"extent" doc:"Visible extent as [minX, minY, maxX, maxY]"`
	Layers       []LayerState `json:"layers" doc:"Layer stack, bottom first"`
	Interactions []string     `json:"interactions" doc:"Active interactions"`
	ParcelID     string       `json:"parcelId,omitempty" doc:"Id of the parcel being edited"`
	FarmID       string       `json:"farmId,omitempty" doc:"Farm of the parcel being edited"`
	Tiles        []olmap.Tile `json:"tiles" doc:"Base layer tiles covering the visible extent"`
}

// State returns a snapshot of the map.
func (c *Controller) State() State {
	c.mu.Lock()
	parcelID, farmID := c.parcelID, c.farmID
	c.mu.Unlock()

	view := c.olMap.View()
	ext := c.olMap.Extent()
	st := State{
		Projection:   c.proj.Code,
		Size:         c.olMap.Size(),
		Center:       view.Center(),
		Resolution:   view.Resolution(),
		Zoom:         view.Zoom(),
		Extent:       [4]float64{ext.Min[0], ext.Min[1], ext.Max[0], ext.Max[1]},
		Layers:       []LayerState{},
		Interactions: []string{},
		ParcelID:     parcelID,
		FarmID:       farmID,
		Tiles:        []olmap.Tile{},
	}

	for _, l := range c.olMap.Layers() {
		ls := LayerState{Name: l.LayerName(), Kind: l.LayerKind(), Loaded: true}
		if vl, ok := l.(*olmap.VectorLayer); ok {
			ls.Features = vl.Source.Len()
			ls.Loaded = vl.Source.Loaded()
			ls.Style = vl.Style
		}
		st.Layers = append(st.Layers, ls)
	}
	for _, i := range c.olMap.Interactions() {
		st.Interactions = append(st.Interactions, i.InteractionName())
	}
	if c.olMap.HasLayer(c.tiles) && c.tiles.Source.Projection() == c.proj.Code {
		st.Tiles = append(st.Tiles, c.tiles.Source.TilesForExtent(ext, st.Resolution)...)
	}
	return st
}
