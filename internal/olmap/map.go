package olmap

import (
	"sync"

	"github.com/paulmach/orb"
)

// Options configures a Map.
type Options struct {
	View   *View
	Size   Size
	Layers []Layer
}

// Map is an ordered stack of layers and a set of interactions over a view.
// All methods are safe for concurrent use.
type Map struct {
	mu           sync.RWMutex
	view         *View
	size         Size
	layers       []Layer
	interactions []Interaction
}

// New creates a map.
func New(opts Options) *Map {
	view := opts.View
	if view == nil {
		view = NewView(ViewOptions{})
	}
	return &Map{
		view:   view,
		size:   opts.Size,
		layers: append([]Layer(nil), opts.Layers...),
	}
}

// View returns the map view.
func (m *Map) View() *View {
	return m.view
}

// Size returns the viewport size.
func (m *Map) Size() Size {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// SetSize changes the viewport size.
func (m *Map) SetSize(s Size) {
	m.mu.Lock()
	m.size = s
	m.mu.Unlock()
}

// Fit fits the view to extent using the current size.
func (m *Map) Fit(extent orb.Bound) error {
	return m.view.Fit(extent, m.Size())
}

// Extent returns the visible extent.
func (m *Map) Extent() orb.Bound {
	return m.view.Extent(m.Size())
}

// AddLayer pushes l on top of the layer stack.
func (m *Map) AddLayer(l Layer) {
	m.mu.Lock()
	m.layers = append(m.layers, l)
	m.mu.Unlock()
}

// RemoveLayer removes l and reports whether it was present.
func (m *Map) RemoveLayer(l Layer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.layers {
		if cur == l {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			return true
		}
	}
	return false
}

// HasLayer reports whether l is on the map.
func (m *Map) HasLayer(l Layer) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cur := range m.layers {
		if cur == l {
			return true
		}
	}
	return false
}

// Layers returns the layer stack, bottom first.
func (m *Map) Layers() []Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Layer(nil), m.layers...)
}

// AddInteraction attaches i to the map.
func (m *Map) AddInteraction(i Interaction) {
	m.mu.Lock()
	m.interactions = append(m.interactions, i)
	m.mu.Unlock()
}

// RemoveInteraction detaches i and reports whether it was attached.
func (m *Map) RemoveInteraction(i Interaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx, cur := range m.interactions {
		if cur == i {
			m.interactions = append(m.interactions[:idx], m.interactions[idx+1:]...)
			return true
		}
	}
	return false
}

// HasInteraction reports whether i is attached.
func (m *Map) HasInteraction(i Interaction) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cur := range m.interactions {
		if cur == i {
			return true
		}
	}
	return false
}

// Interactions returns the attached interactions.
func (m *Map) Interactions() []Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Interaction(nil), m.interactions...)
}
