package olmap

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
)

var (
	// ErrEmptyExtent is returned when fitting to an extent with no content.
	ErrEmptyExtent = errors.New("olmap: empty extent")
	// ErrNoSize is returned when the map has no usable viewport size.
	ErrNoSize = errors.New("olmap: map size not set")
)

// Size is the viewport size in pixels.
type Size struct {
	Width  int `json:"width" doc:"Viewport width in pixels" example:"800"`
	Height int `json:"height" doc:"Viewport height in pixels" example:"600"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// ViewOptions configures a View.
type ViewOptions struct {
	Projection *Projection
	Center     orb.Point
	// Zoom indexes Resolutions. Ignored when Resolution is set.
	Zoom       int
	Resolution float64
	// Resolutions in map units per pixel, largest first.
	Resolutions []float64
}

// View holds the map centre and resolution in the map projection.
type View struct {
	mu          sync.RWMutex
	projection  *Projection
	center      orb.Point
	resolution  float64
	resolutions []float64
}

// NewView creates a view from options.
func NewView(opts ViewOptions) *View {
	v := &View{
		projection:  opts.Projection,
		center:      opts.Center,
		resolution:  opts.Resolution,
		resolutions: append([]float64(nil), opts.Resolutions...),
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(v.resolutions)))
	if v.projection == nil {
		v.projection = MustProjection(EPSG3857)
	}
	if v.resolution == 0 && opts.Zoom >= 0 && opts.Zoom < len(v.resolutions) {
		v.resolution = v.resolutions[opts.Zoom]
	}
	if v.resolution == 0 {
		v.resolution = 1
	}
	return v
}

// Projection returns the view projection.
func (v *View) Projection() *Projection {
	return v.projection
}

// Center returns the current centre.
func (v *View) Center() orb.Point {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.center
}

// Resolution returns the current resolution in map units per pixel.
func (v *View) Resolution() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.resolution
}

// Resolutions returns a copy of the configured resolutions.
func (v *View) Resolutions() []float64 {
	return append([]float64(nil), v.resolutions...)
}

// Zoom returns the index of the configured resolution closest to the
// current one, or -1 when the view has no resolution list.
func (v *View) Zoom() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	best, bestDiff := -1, math.Inf(1)
	for i, r := range v.resolutions {
		if d := math.Abs(r - v.resolution); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// SetCenter moves the view without changing the resolution.
func (v *View) SetCenter(c orb.Point) {
	v.mu.Lock()
	v.center = c
	v.mu.Unlock()
}

// Extent returns the area visible in a viewport of the given size.
func (v *View) Extent(size Size) orb.Bound {
	v.mu.RLock()
	defer v.mu.RUnlock()

	halfW := v.resolution * float64(size.Width) / 2
	halfH := v.resolution * float64(size.Height) / 2
	return orb.Bound{
		Min: orb.Point{v.center[0] - halfW, v.center[1] - halfH},
		Max: orb.Point{v.center[0] + halfW, v.center[1] + halfH},
	}
}

// Fit centres the view on extent and picks the finest configured
// resolution at which the whole extent is visible in size. Only an empty
// extent is rejected; a zero-area extent such as a point fits to the
// finest resolution.
func (v *View) Fit(extent orb.Bound, size Size) error {
	if IsEmpty(extent) {
		return ErrEmptyExtent
	}
	if !size.Valid() {
		return ErrNoSize
	}

	w := extent.Max[0] - extent.Min[0]
	h := extent.Max[1] - extent.Min[1]
	want := math.Max(w/float64(size.Width), h/float64(size.Height))

	v.mu.Lock()
	defer v.mu.Unlock()
	v.resolution = v.constrain(want)
	v.center = orb.Point{extent.Min[0] + w/2, extent.Min[1] + h/2}
	return nil
}

// constrain snaps r up to the nearest configured resolution.
func (v *View) constrain(r float64) float64 {
	if len(v.resolutions) == 0 {
		if r <= 0 {
			return v.resolution
		}
		return r
	}
	// resolutions are ordered largest first; walk from the finest up
	for i := len(v.resolutions) - 1; i >= 0; i-- {
		if v.resolutions[i] >= r {
			return v.resolutions[i]
		}
	}
	return v.resolutions[0]
}
