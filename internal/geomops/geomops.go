// Package geomops holds the parcel measurements: geodesic area and the
// overlap test between a parcel and its neighbours.
package geomops

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geo"
	sf "github.com/peterstace/simplefeatures/geom"
)

// overlapTolerance is the shared area, relative to the smaller geometry,
// below which two geometries only touch.
const overlapTolerance = 1e-9

// Area returns the geodesic area in square metres of a lon/lat geometry.
func Area(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return math.Abs(geo.Area(g))
}

// Overlaps reports whether a and b share interior area. Geometries that
// only share an edge or a vertex do not overlap. Both must be in the same
// planar coordinate system.
func Overlaps(a, b orb.Geometry) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false, nil
	}

	sa, err := toSimpleFeatures(a)
	if err != nil {
		return false, err
	}
	sb, err := toSimpleFeatures(b)
	if err != nil {
		return false, err
	}

	inter, err := sf.Intersection(sa, sb)
	if err != nil {
		return false, fmt.Errorf("intersecting geometries: %w", err)
	}
	shared := inter.Area()
	smaller := math.Min(sa.Area(), sb.Area())
	if smaller == 0 {
		return false, nil
	}
	return shared/smaller > overlapTolerance, nil
}

// OverlapsAny reports whether g overlaps any of others.
func OverlapsAny(g orb.Geometry, others []orb.Geometry) (bool, error) {
	for _, o := range others {
		ok, err := Overlaps(g, o)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func toSimpleFeatures(g orb.Geometry) (sf.Geometry, error) {
	raw, err := wkb.Marshal(g)
	if err != nil {
		return sf.Geometry{}, fmt.Errorf("encoding wkb: %w", err)
	}
	out, err := sf.UnmarshalWKB(raw)
	if err != nil {
		return sf.Geometry{}, fmt.Errorf("decoding wkb: %w", err)
	}
	return out, nil
}
