package olmap

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// maxTiles bounds the tile list returned for a single extent.
const maxTiles = 512

// Tile is one raster tile covering part of the view.
type Tile struct {
	Z   int    `json:"z" doc:"Tile matrix / zoom level"`
	X   int    `json:"x" doc:"Tile column"`
	Y   int    `json:"y" doc:"Tile row"`
	URL string `json:"url" doc:"Tile image URL"`
}

// TileSource serves raster tiles on a fixed grid.
type TileSource interface {
	// Name identifies the source, e.g. the WMTS layer.
	Name() string
	// Projection is the grid projection code.
	Projection() string
	// Resolutions returns the grid resolutions, largest first.
	Resolutions() []float64
	// TilesForExtent lists the tiles needed to cover extent at resolution.
	TilesForExtent(extent orb.Bound, resolution float64) []Tile
}

// swisstopoResolutions is the swisstopo WMTS grid for EPSG:21781.
var swisstopoResolutions = []float64{
	4000, 3750, 3500, 3250, 3000, 2750, 2500, 2250, 2000, 1750, 1500, 1250,
	1000, 750, 650, 500, 250, 100, 50, 20, 10, 5, 2.5, 2, 1.5, 1, 0.5,
}

// Swisstopo is the geo.admin.ch WMTS service in EPSG:21781.
type Swisstopo struct {
	Layer     string
	Timestamp string
	Format    string
}

// NewSwisstopo creates a swisstopo source. Empty fields get the defaults
// of the national colour map.
func NewSwisstopo(layer, timestamp, format string) *Swisstopo {
	if layer == "" {
		layer = "ch.swisstopo.pixelkarte-farbe"
	}
	if timestamp == "" {
		timestamp = "20151231"
	}
	if format == "" {
		format = "jpeg"
	}
	return &Swisstopo{Layer: layer, Timestamp: timestamp, Format: format}
}

func (s *Swisstopo) Name() string       { return s.Layer }
func (s *Swisstopo) Projection() string { return EPSG21781 }

func (s *Swisstopo) Resolutions() []float64 {
	return append([]float64(nil), swisstopoResolutions...)
}

// TilesForExtent walks the 256px grid anchored at the LV03 origin.
func (s *Swisstopo) TilesForExtent(extent orb.Bound, resolution float64) []Tile {
	if IsEmpty(extent) {
		return nil
	}
	z := nearestIndex(swisstopoResolutions, resolution)
	span := swisstopoResolutions[z] * 256
	originX, originY := 420000.0, 350000.0

	minX := int(math.Floor((extent.Min[0] - originX) / span))
	maxX := int(math.Floor((extent.Max[0] - originX) / span))
	minY := int(math.Floor((originY - extent.Max[1]) / span))
	maxY := int(math.Floor((originY - extent.Min[1]) / span))

	var tiles []Tile
	for x := max(minX, 0); x <= maxX; x++ {
		for y := max(minY, 0); y <= maxY; y++ {
			if len(tiles) >= maxTiles {
				return tiles
			}
			tiles = append(tiles, Tile{Z: z, X: x, Y: y, URL: s.url(z, x, y)})
		}
	}
	return tiles
}

func (s *Swisstopo) url(z, x, y int) string {
	return fmt.Sprintf("https://wmts10.geo.admin.ch/1.0.0/%s/default/%s/21781/%d/%d/%d.%s",
		s.Layer, s.Timestamp, z, y, x, s.Format)
}

// OSM is the OpenStreetMap XYZ tile service in EPSG:3857.
type OSM struct {
	URLTemplate string
	MaxZoom     int
}

// NewOSM creates an OSM source with the public tile server.
func NewOSM() *OSM {
	return &OSM{URLTemplate: "https://tile.openstreetmap.org/%d/%d/%d.png", MaxZoom: 19}
}

func (o *OSM) Name() string       { return "osm" }
func (o *OSM) Projection() string { return EPSG3857 }

// Resolutions returns the web mercator pyramid down to MaxZoom.
func (o *OSM) Resolutions() []float64 {
	res := make([]float64, o.MaxZoom+1)
	for z := range res {
		res[z] = 2 * math.Pi * 6378137 / 256 / math.Exp2(float64(z))
	}
	return res
}

// TilesForExtent converts the mercator extent to lon/lat and collects the
// maptile range at the nearest zoom.
func (o *OSM) TilesForExtent(extent orb.Bound, resolution float64) []Tile {
	if IsEmpty(extent) {
		return nil
	}
	z := maptile.Zoom(nearestIndex(o.Resolutions(), resolution))

	lonlat := orb.Bound{
		Min: project.Mercator.ToWGS84(extent.Min),
		Max: project.Mercator.ToWGS84(extent.Max),
	}
	minTile := maptile.At(lonlat.Min, z)
	maxTile := maptile.At(lonlat.Max, z)

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	var tiles []Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			if len(tiles) >= maxTiles {
				return tiles
			}
			t := maptile.New(x, y, z)
			tiles = append(tiles, Tile{
				Z:   int(t.Z),
				X:   int(t.X),
				Y:   int(t.Y),
				URL: fmt.Sprintf(o.URLTemplate, t.Z, t.X, t.Y),
			})
		}
	}
	return tiles
}

// nearestIndex returns the index of the value in list closest to r.
func nearestIndex(list []float64, r float64) int {
	best, bestDiff := 0, math.Inf(1)
	for i, v := range list {
		if d := math.Abs(v - r); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}
