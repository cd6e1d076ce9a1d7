package olmap

import (
	"errors"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrFeatureNotFound is returned when an edit targets a feature that is not
// part of the interaction's collection.
var ErrFeatureNotFound = errors.New("olmap: feature not in collection")

// Collection is a shared, lock-protected list of features. Interactions
// built on the same collection see each other's edits.
type Collection struct {
	mu       sync.RWMutex
	features []*geojson.Feature
}

// NewCollection creates a collection holding features.
func NewCollection(features ...*geojson.Feature) *Collection {
	return &Collection{features: features}
}

// Features returns a copy of the feature list.
func (c *Collection) Features() []*geojson.Feature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*geojson.Feature(nil), c.features...)
}

// Geometry returns the current geometry of the feature with id.
func (c *Collection) Geometry(id string) (orb.Geometry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.features {
		if FeatureID(f) == id {
			return f.Geometry, true
		}
	}
	return nil, false
}

// SetGeometry replaces the feature with id by a copy carrying g. Features
// already handed out are never mutated.
func (c *Collection) SetGeometry(id string, g orb.Geometry) (*geojson.Feature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.features {
		if FeatureID(f) == id {
			nf := *f
			nf.Geometry = g
			c.features[i] = &nf
			return &nf, nil
		}
	}
	return nil, ErrFeatureNotFound
}

// Interaction is a user edit capability attached to a Map.
type Interaction interface {
	InteractionName() string
}

// Select marks the features of a collection as selected on some layers.
type Select struct {
	Features *Collection
	Layers   []Layer
}

// NewSelect creates a select interaction.
func NewSelect(features *Collection, layers ...Layer) *Select {
	return &Select{Features: features, Layers: layers}
}

func (s *Select) InteractionName() string { return "select" }

// ModifyEvent is emitted when a geometry edit completes.
type ModifyEvent struct {
	Feature  *geojson.Feature
	Geometry orb.Geometry
}

// Modify edits the geometries of the features in a collection.
type Modify struct {
	Features *Collection

	mu        sync.Mutex
	listeners []func(ModifyEvent)
}

// NewModify creates a modify interaction.
func NewModify(features *Collection) *Modify {
	return &Modify{Features: features}
}

func (m *Modify) InteractionName() string { return "modify" }

// OnModifyEnd registers fn for every completed edit.
func (m *Modify) OnModifyEnd(fn func(ModifyEvent)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// End completes an edit: the feature with id gets geometry g and the
// modify-end listeners run on the calling goroutine. The returned event is
// the one the listeners saw.
func (m *Modify) End(id string, g orb.Geometry) (ModifyEvent, error) {
	f, err := m.Features.SetGeometry(id, g)
	if err != nil {
		return ModifyEvent{}, err
	}

	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	ev := ModifyEvent{Feature: f, Geometry: g}
	for _, fn := range listeners {
		fn(ev)
	}
	return ev, nil
}
