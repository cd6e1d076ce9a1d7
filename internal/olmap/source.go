package olmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Loader fetches the features of a vector source.
type Loader func(ctx context.Context) ([]*geojson.Feature, error)

// VectorSource holds the features of a vector layer. A source built with a
// loader starts empty and is filled by Load.
type VectorSource struct {
	mu        sync.RWMutex
	features  []*geojson.Feature
	loader    Loader
	loaded    bool
	listeners []func(error)
}

// NewVectorSource creates a source holding the given features.
func NewVectorSource(features ...*geojson.Feature) *VectorSource {
	return &VectorSource{features: features, loaded: true}
}

// NewLoadingVectorSource creates an empty source filled by loader on Load.
func NewLoadingVectorSource(loader Loader) *VectorSource {
	return &VectorSource{loader: loader}
}

// Features returns a copy of the feature list.
func (s *VectorSource) Features() []*geojson.Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*geojson.Feature(nil), s.features...)
}

// Replace swaps in f for the feature with the same id. It reports whether
// such a feature was found.
func (s *VectorSource) Replace(f *geojson.Feature) bool {
	id := FeatureID(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.features {
		if FeatureID(old) == id {
			s.features[i] = f
			return true
		}
	}
	return false
}

// Len returns the number of features.
func (s *VectorSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features)
}

// Loaded reports whether the source has its features.
func (s *VectorSource) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Extent returns the bound of all features, or an empty extent.
func (s *VectorSource) Extent() orb.Bound {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ext := EmptyExtent()
	for _, f := range s.features {
		if f.Geometry == nil {
			continue
		}
		ext = Union(ext, f.Geometry.Bound())
	}
	return ext
}

// Once registers fn to run after the next load completes. fn receives the
// load error, if any.
func (s *VectorSource) Once(fn func(err error)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Load runs the loader, replaces the features and notifies Once listeners.
// Listeners run on the calling goroutine after the source is updated.
func (s *VectorSource) Load(ctx context.Context) error {
	var err error
	if s.loader == nil {
		err = fmt.Errorf("olmap: source has no loader")
	} else {
		var features []*geojson.Feature
		features, err = s.loader(ctx)
		if err == nil {
			s.mu.Lock()
			s.features = features
			s.loaded = true
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
	return err
}

// FeatureID returns the identifier of a feature: its GeoJSON id, falling
// back to the "id" property.
func FeatureID(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if id, ok := f.Properties["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	return ""
}
