package olmap

// Color is an RGBA colour with alpha in [0,1]. It marshals as [r,g,b,a].
type Color [4]float64

// RGBA builds a Color.
func RGBA(r, g, b uint8, a float64) Color {
	return Color{float64(r), float64(g), float64(b), a}
}

// Style describes how vector features are drawn.
type Style struct {
	Fill        Color   `json:"fill" doc:"Fill colour as [r,g,b,a]"`
	Stroke      Color   `json:"stroke" doc:"Stroke colour as [r,g,b,a]"`
	StrokeWidth float64 `json:"strokeWidth" doc:"Stroke width in pixels"`
}

// Layer is anything that can be stacked on a Map.
type Layer interface {
	// LayerName identifies the layer in map state.
	LayerName() string
	// LayerKind is "tile" or "vector".
	LayerKind() string
}

// TileLayer draws raster tiles from a TileSource.
type TileLayer struct {
	Name   string
	Source TileSource
}

// NewTileLayer creates a tile layer.
func NewTileLayer(name string, source TileSource) *TileLayer {
	return &TileLayer{Name: name, Source: source}
}

func (l *TileLayer) LayerName() string { return l.Name }
func (l *TileLayer) LayerKind() string { return "tile" }

// VectorLayer draws the features of a VectorSource with a single style.
type VectorLayer struct {
	Name   string
	Source *VectorSource
	Style  Style
}

// NewVectorLayer creates a vector layer.
func NewVectorLayer(name string, source *VectorSource, style Style) *VectorLayer {
	return &VectorLayer{Name: name, Source: source, Style: style}
}

func (l *VectorLayer) LayerName() string { return l.Name }
func (l *VectorLayer) LayerKind() string { return "vector" }
