// Package tiler renders parcel collections as Mapbox vector tiles and
// packs them into PMTiles archives.
//
// Input geometries are lon/lat (EPSG:4326), as returned by the parcel
// backends. Tiles are gzipped MVT on the web mercator grid, with one layer
// per collection.
package tiler

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// MaxZoom is the deepest zoom level rendered. Parcels are a few hundred
// metres across, so deeper tiles add no detail.
const MaxZoom = 20

// maxTiles bounds a pyramid so a bad extent cannot exhaust memory.
const maxTiles = 1 << 16

// Render encodes the features of fc that intersect tile as a gzipped
// vector tile. It returns nil when the tile would be empty.
func Render(fc *geojson.FeatureCollection, tile maptile.Tile, layerName string) ([]byte, error) {
	if tile.Z > MaxZoom {
		return nil, fmt.Errorf("zoom %d above %d", tile.Z, MaxZoom)
	}

	bound := tile.Bound()
	clipped := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if f.Geometry == nil || !intersects(f.Geometry, bound) {
			continue
		}
		// mvt clips and projects in place
		clone := geojson.NewFeature(orb.Clone(f.Geometry))
		clone.ID = f.ID
		for k, v := range f.Properties {
			clone.Properties[k] = v
		}
		clipped.Append(clone)
	}
	if len(clipped.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(layerName, clipped)
	if epsilon := simplifyEpsilon(tile.Z); epsilon > 0 {
		layer.Simplify(simplify.DouglasPeucker(epsilon))
	}
	layer.Clip(bound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encoding tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, err)
	}
	return data, nil
}

// Pyramid renders every non-empty tile of fc between minZoom and maxZoom.
func Pyramid(fc *geojson.FeatureCollection, minZoom, maxZoom maptile.Zoom, layerName string) (map[maptile.Tile][]byte, error) {
	if minZoom > maxZoom || maxZoom > MaxZoom {
		return nil, fmt.Errorf("invalid zoom range %d-%d", minZoom, maxZoom)
	}

	tiles := make(map[maptile.Tile][]byte)
	for z := minZoom; z <= maxZoom; z++ {
		candidates := make(map[maptile.Tile]bool)
		for _, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			for _, t := range tilesInBound(f.Geometry.Bound(), z) {
				candidates[t] = true
			}
			if len(candidates) > maxTiles {
				return nil, fmt.Errorf("more than %d tiles at zoom %d", maxTiles, z)
			}
		}

		for t := range candidates {
			data, err := Render(fc, t, layerName)
			if err != nil {
				return nil, err
			}
			if data != nil {
				tiles[t] = data
			}
		}
	}
	return tiles, nil
}

// Bound returns the lon/lat extent of the features of fc.
func Bound(fc *geojson.FeatureCollection) orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b, first = f.Geometry.Bound(), false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// intersects reports whether g touches the tile bound. Bounding boxes
// reject quickly; polygons are then checked against the tile corners and
// center.
func intersects(g orb.Geometry, tb orb.Bound) bool {
	if !g.Bound().Intersects(tb) {
		return false
	}

	switch g := g.(type) {
	case orb.Point:
		return tb.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if tb.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tb.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			tb.Min,
			{tb.Max[0], tb.Min[1]},
			tb.Max,
			{tb.Min[0], tb.Max[1]},
			tb.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if intersects(poly, tb) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, c := range g {
			if intersects(c, tb) {
				return true
			}
		}
		return false
	default:
		// lines crossing the tile without a vertex inside are kept
		return true
	}
}

// tilesInBound lists the tiles of zoom z covering b.
func tilesInBound(b orb.Bound, z maptile.Zoom) []maptile.Tile {
	lo := maptile.At(orb.Point{b.Min[0], b.Max[1]}, z)
	hi := maptile.At(orb.Point{b.Max[0], b.Min[1]}, z)

	var tiles []maptile.Tile
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// simplifyEpsilon is the simplification tolerance in degrees. A parcel
// edge is rarely shorter than a metre, about 1e-5 degrees.
func simplifyEpsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 16:
		return 0
	case z >= 13:
		return 0.000005
	case z >= 10:
		return 0.00005
	default:
		return 0.0005
	}
}
