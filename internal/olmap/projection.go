// Package olmap is a headless map model: a view over a projection, an
// ordered stack of tile and vector layers, and the edit interactions bound
// to them. Geometry, GeoJSON and tile math come from paulmach/orb.
package olmap

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection codes understood by the map.
const (
	EPSG4326  = "EPSG:4326"
	EPSG3857  = "EPSG:3857"
	EPSG21781 = "EPSG:21781"
)

// Projection converts between geographic coordinates (EPSG:4326) and a
// map coordinate system.
type Projection struct {
	Code string
	// Forward maps lon/lat to projected coordinates.
	Forward orb.Projection
	// Inverse maps projected coordinates back to lon/lat.
	Inverse orb.Projection
	// Metric is true when projected units are metres.
	Metric bool
}

func identity(p orb.Point) orb.Point { return p }

var projections = map[string]*Projection{
	EPSG4326: {
		Code:    EPSG4326,
		Forward: identity,
		Inverse: identity,
	},
	EPSG3857: {
		Code:    EPSG3857,
		Forward: project.WGS84.ToMercator,
		Inverse: project.Mercator.ToWGS84,
		Metric:  true,
	},
	EPSG21781: {
		Code:    EPSG21781,
		Forward: wgs84ToLV03,
		Inverse: lv03ToWGS84,
		Metric:  true,
	},
}

// GetProjection looks up a registered projection by code.
func GetProjection(code string) (*Projection, error) {
	p, ok := projections[code]
	if !ok {
		return nil, fmt.Errorf("unknown projection %q", code)
	}
	return p, nil
}

// Codes lists the registered projection codes in order.
func Codes() []string {
	return slices.Sorted(maps.Keys(projections))
}

// MustProjection is GetProjection for codes known at compile time.
func MustProjection(code string) *Projection {
	p, err := GetProjection(code)
	if err != nil {
		panic(err)
	}
	return p
}

// TransformPoint reprojects a single point.
func TransformPoint(p orb.Point, from, to *Projection) orb.Point {
	if from.Code == to.Code {
		return p
	}
	return to.Forward(from.Inverse(p))
}

// TransformGeometry returns a reprojected copy of g. The input is not modified.
func TransformGeometry(g orb.Geometry, from, to *Projection) orb.Geometry {
	if g == nil {
		return nil
	}
	clone := orb.Clone(g)
	if from.Code == to.Code {
		return clone
	}
	if from.Code != EPSG4326 {
		clone = project.Geometry(clone, from.Inverse)
	}
	if to.Code != EPSG4326 {
		clone = project.Geometry(clone, to.Forward)
	}
	return clone
}

// TransformExtent reprojects the four corners of b and returns their bound.
func TransformExtent(b orb.Bound, from, to *Projection) orb.Bound {
	if IsEmpty(b) {
		return b
	}
	corners := []orb.Point{
		b.Min,
		{b.Max[0], b.Min[1]},
		b.Max,
		{b.Min[0], b.Max[1]},
	}
	out := EmptyExtent()
	for _, c := range corners {
		out = Extend(out, TransformPoint(c, from, to))
	}
	return out
}

// EmptyExtent returns an extent that contains nothing. Extending it with a
// point yields the point's extent.
func EmptyExtent() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
}

// IsEmpty reports whether b contains no point at all.
func IsEmpty(b orb.Bound) bool {
	return b.Max[0] < b.Min[0] || b.Max[1] < b.Min[1]
}

// Extend grows b to include p.
func Extend(b orb.Bound, p orb.Point) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Min(b.Min[0], p[0]), math.Min(b.Min[1], p[1])},
		Max: orb.Point{math.Max(b.Max[0], p[0]), math.Max(b.Max[1], p[1])},
	}
}

// Union returns the smallest extent containing a and b.
func Union(a, b orb.Bound) orb.Bound {
	if IsEmpty(a) {
		return b
	}
	if IsEmpty(b) {
		return a
	}
	return Extend(Extend(a, b.Min), b.Max)
}

// Swiss LV03 (EPSG:21781) using the swisstopo approximate formulas. The
// error stays below one metre across Switzerland.

func wgs84ToLV03(p orb.Point) orb.Point {
	phi := (p[1]*3600 - 169028.66) / 10000
	lambda := (p[0]*3600 - 26782.5) / 10000

	east := 600072.37 +
		211455.93*lambda -
		10938.51*lambda*phi -
		0.36*lambda*phi*phi -
		44.54*lambda*lambda*lambda
	north := 200147.07 +
		308807.95*phi +
		3745.25*lambda*lambda +
		76.63*phi*phi -
		194.56*lambda*lambda*phi +
		119.79*phi*phi*phi
	return orb.Point{east, north}
}

func lv03ToWGS84(p orb.Point) orb.Point {
	y := (p[0] - 600000) / 1e6
	x := (p[1] - 200000) / 1e6

	lambda := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	phi := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x
	return orb.Point{lambda * 100 / 36, phi * 100 / 36}
}
