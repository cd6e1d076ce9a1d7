package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joeblew999/geoacorda/internal/controller"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

// Factory builds the map of a session. onEvent must be passed on to the
// map so its events reach the bus.
type Factory func(ctx context.Context, cfg MapConfig, onEvent func(controller.Event)) (*geoacorda.Map, error)

var elementPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	ErrInvalidElement = errors.New("invalid element")
	ErrMapExists      = errors.New("map already exists")
	ErrMapNotFound    = errors.New("map not found")
)

// MapService manages map sessions keyed by element.
type MapService struct {
	dataDir string
	factory Factory
	bus     *EventBus

	mu      sync.RWMutex
	configs map[string]MapConfig
	maps    map[string]*geoacorda.Map
}

// NewMapService creates a map service and restores the sessions saved in
// dataDir. Sessions that fail to build are logged and dropped.
func NewMapService(ctx context.Context, dataDir string, factory Factory, bus *EventBus) *MapService {
	if bus == nil {
		bus = NewEventBus()
	}
	s := &MapService{
		dataDir: dataDir,
		factory: factory,
		bus:     bus,
		configs: make(map[string]MapConfig),
		maps:    make(map[string]*geoacorda.Map),
	}
	s.loadFromDisk(ctx)
	return s
}

// Bus returns the event bus the maps publish to.
func (s *MapService) Bus() *EventBus {
	return s.bus
}

// List returns all map sessions, ordered by element.
func (s *MapService) List() []MapSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]MapSummary, 0, len(s.maps))
	for _, m := range s.maps {
		result = append(result, summarize(m))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Element < result[j].Element })
	return result
}

// Get returns a map by element.
func (s *MapService) Get(element string) (*geoacorda.Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.maps[element]
	return m, ok
}

// Summary returns the listing entry of a map.
func (s *MapService) Summary(element string) (MapSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.maps[element]
	if !ok {
		return MapSummary{}, false
	}
	return summarize(m), true
}

// Create builds and registers a new map.
func (s *MapService) Create(ctx context.Context, cfg MapConfig) (*geoacorda.Map, error) {
	if !elementPattern.MatchString(cfg.Element) {
		return nil, fmt.Errorf("%w %q", ErrInvalidElement, cfg.Element)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.maps[cfg.Element]; exists {
		return nil, fmt.Errorf("%w: %q", ErrMapExists, cfg.Element)
	}

	m, err := s.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.maps[cfg.Element] = m
	s.configs[cfg.Element] = cfg
	if err := s.saveToDisk(); err != nil {
		m.Close()
		delete(s.maps, cfg.Element)
		delete(s.configs, cfg.Element)
		return nil, err
	}

	s.bus.Publish(Event{Resource: "maps", Action: "created", ID: cfg.Element})
	return m, nil
}

// Delete closes and removes a map.
func (s *MapService) Delete(element string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.maps[element]
	if !exists {
		return fmt.Errorf("%w: %q", ErrMapNotFound, element)
	}
	m.Close()
	delete(s.maps, element)
	delete(s.configs, element)
	if err := s.saveToDisk(); err != nil {
		return err
	}

	s.bus.Publish(Event{Resource: "maps", Action: "deleted", ID: element})
	return nil
}

// Close closes every map.
func (s *MapService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.maps {
		m.Close()
	}
	return nil
}

func (s *MapService) build(ctx context.Context, cfg MapConfig) (*geoacorda.Map, error) {
	element := cfg.Element
	return s.factory(ctx, cfg, func(ev controller.Event) {
		s.bus.Publish(Event{Resource: "maps", Action: ev.Kind, ID: element, Data: eventData(ev)})
	})
}

func summarize(m *geoacorda.Map) MapSummary {
	st := m.State()
	return MapSummary{
		MapConfig: m.Options(),
		ParcelID:  st.ParcelID,
		FarmID:    st.FarmID,
		Layers:    len(st.Layers),
	}
}

// configFile returns the path to the maps config file.
func (s *MapService) configFile() string {
	return filepath.Join(s.dataDir, "maps.json")
}

// loadFromDisk restores map sessions from disk.
func (s *MapService) loadFromDisk(ctx context.Context) {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var configs map[string]MapConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		logrus.WithError(err).WithField("file", s.configFile()).Warn("Ignoring unreadable map sessions")
		return
	}

	for element, cfg := range configs {
		cfg.Element = element
		m, err := s.build(ctx, cfg)
		if err != nil {
			logrus.WithError(err).WithField("element", element).Warn("Dropping map session")
			continue
		}
		s.maps[element] = m
		s.configs[element] = cfg
	}
	logrus.WithField("maps", len(s.maps)).Info("Map sessions restored")
}

// saveToDisk persists map configurations to disk.
func (s *MapService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.configs, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configFile(), data, 0644)
}
