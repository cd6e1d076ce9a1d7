package backend

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// DefaultCommuneExtent is used for communes missing from the index, in
// EPSG:4326.
var DefaultCommuneExtent = orb.Bound{
	Min: orb.Point{6.579, 46.574},
	Max: orb.Point{6.63, 46.604},
}

// Commune is one entry of the commune file.
type Commune struct {
	Name string `yaml:"name"`
	// Extent is [minLon, minLat, maxLon, maxLat].
	Extent [4]float64 `yaml:"extent"`
}

// communeFile is the YAML layout:
//
//	communes:
//	  "5586":
//	    name: Lausanne
//	    extent: [6.584, 46.504, 6.720, 46.602]
type communeFile struct {
	Communes map[string]Commune `yaml:"communes"`
}

// CommuneIndex maps commune ids to lon/lat extents.
type CommuneIndex struct {
	mu       sync.RWMutex
	communes map[string]Commune
	fallback orb.Bound
}

// NewCommuneIndex creates an empty index that answers every lookup with
// DefaultCommuneExtent.
func NewCommuneIndex() *CommuneIndex {
	return &CommuneIndex{
		communes: make(map[string]Commune),
		fallback: DefaultCommuneExtent,
	}
}

// LoadCommunes reads a commune YAML file.
func LoadCommunes(path string) (*CommuneIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading communes: %w", err)
	}
	var f communeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing communes: %w", err)
	}

	idx := NewCommuneIndex()
	for id, c := range f.Communes {
		if c.Extent[0] > c.Extent[2] || c.Extent[1] > c.Extent[3] {
			return nil, fmt.Errorf("commune %s: extent min greater than max", id)
		}
		idx.communes[id] = c
	}
	return idx, nil
}

// Add registers or replaces a commune.
func (i *CommuneIndex) Add(id string, c Commune) {
	i.mu.Lock()
	i.communes[id] = c
	i.mu.Unlock()
}

// Len returns the number of known communes.
func (i *CommuneIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.communes)
}

// Extent returns the lon/lat extent of a commune. found is false when the
// fallback extent was used.
func (i *CommuneIndex) Extent(id string) (extent orb.Bound, found bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	c, ok := i.communes[id]
	if !ok {
		return i.fallback, false
	}
	return orb.Bound{
		Min: orb.Point{c.Extent[0], c.Extent[1]},
		Max: orb.Point{c.Extent[2], c.Extent[3]},
	}, true
}

// CommuneEntry is a commune with its id.
type CommuneEntry struct {
	ID string
	Commune
}

// List returns every known commune, ordered by id.
func (i *CommuneIndex) List() []CommuneEntry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]CommuneEntry, 0, len(i.communes))
	for id, c := range i.communes {
		out = append(out, CommuneEntry{ID: id, Commune: c})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
