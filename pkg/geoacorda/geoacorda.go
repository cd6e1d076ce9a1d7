// Package geoacorda is the parcel map facade for host applications. A Map
// shows a parcel for editing, saves it, shows the parcels of a farm, and
// zooms to a commune. All four operations are forwarded to the map's
// controller unchanged.
package geoacorda

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/controller"
	"github.com/joeblew999/geoacorda/internal/metrics"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/store"
)

type (
	// AuthOptions is forwarded to the parcel service untouched.
	AuthOptions = backend.Auth
	// Backend serves parcels in EPSG:4326.
	Backend = backend.Backend
	// CommuneIndex maps commune ids to extents.
	CommuneIndex = backend.CommuneIndex
	// Size is the viewport size in pixels.
	Size = olmap.Size
	// TileSource is a base layer tile grid, see WithTiles.
	TileSource = olmap.TileSource
	Tile       = olmap.Tile
	Projection = olmap.Projection
	// Store keeps saved parcels, see WithStore.
	Store       = store.Store
	SavedParcel = store.SavedParcel
	// Recorder observes operation outcomes, see WithMetrics.
	Recorder = metrics.Recorder

	Controller   = controller.Controller
	Status       = controller.Status
	LoadFunc     = controller.LoadFunc
	ModifyFunc   = controller.ModifyFunc
	Modification = controller.Modification
	SaveFunc     = controller.SaveFunc
	SaveResult   = controller.SaveResult
	Event        = controller.Event
	State        = controller.State
)

const (
	StatusSuccess = controller.StatusSuccess
	StatusError   = controller.StatusError
)

// MapOptions describes a map.
type MapOptions struct {
	// Element names the map within its host.
	Element string `json:"element" required:"true" minLength:"1" doc:"Map name" example:"map"`
	// URL of the parcel backend, see backend.Open. Ignored when
	// WithBackend is used.
	URL        string `json:"url" doc:"Parcel backend: http(s)://, s3://bucket/prefix, file:// or a directory" example:"data"`
	Size       Size   `json:"size,omitempty" doc:"Viewport size, 800x600 when omitted"`
	Projection string `json:"projection,omitempty" enum:"EPSG:21781,EPSG:3857,EPSG:4326" doc:"Map projection" default:"EPSG:21781"`
}

// Option customises New.
type Option func(*settings)

type settings struct {
	backend  backend.Backend
	communes *backend.CommuneIndex
	store    store.Store
	metrics  metrics.Recorder
	logger   *logrus.Entry
	tiles    olmap.TileSource
	onEvent  func(Event)
}

// WithBackend uses b instead of opening MapOptions.URL.
func WithBackend(b Backend) Option {
	return func(s *settings) { s.backend = b }
}

// WithCommunes sets the commune lookup for ZoomToCommune.
func WithCommunes(idx *CommuneIndex) Option {
	return func(s *settings) { s.communes = idx }
}

// WithStore keeps a copy of every save in st.
func WithStore(st Store) Option {
	return func(s *settings) { s.store = st }
}

// WithMetrics records operation outcomes.
func WithMetrics(r Recorder) Option {
	return func(s *settings) { s.metrics = r }
}

// WithLogger sets the base log entry.
func WithLogger(l *logrus.Entry) Option {
	return func(s *settings) { s.logger = l }
}

// WithTiles replaces the base tile source.
func WithTiles(t TileSource) Option {
	return func(s *settings) { s.tiles = t }
}

// WithEventHandler observes map events.
func WithEventHandler(fn func(Event)) Option {
	return func(s *settings) { s.onEvent = fn }
}

// Map is a parcel map.
type Map struct {
	opts MapOptions
	ctrl *controller.Controller
}

// New builds the backend and the controller of a map.
func New(ctx context.Context, opts MapOptions, options ...Option) (*Map, error) {
	if opts.Element == "" {
		return nil, errors.New("geoacorda: element is required")
	}

	var s settings
	for _, o := range options {
		o(&s)
	}
	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	log := s.logger.WithField("element", opts.Element)

	if s.backend == nil {
		b, err := backend.Open(ctx, opts.URL)
		if err != nil {
			return nil, err
		}
		s.backend = b
	}

	ctrl, err := controller.New(controller.Config{
		Backend:    s.backend,
		Communes:   s.communes,
		Store:      s.store,
		Projection: opts.Projection,
		Size:       opts.Size,
		Tiles:      s.tiles,
		Logger:     log,
		Metrics:    s.metrics,
		OnEvent:    s.onEvent,
	})
	if err != nil {
		return nil, err
	}
	opts.Size = ctrl.Map().Size()
	opts.Projection = ctrl.Projection().Code

	log.Debug("Map created")
	return &Map{opts: opts, ctrl: ctrl}, nil
}

// ShowParcel shows parcelID of farmID for editing. See
// controller.Controller.ShowParcel.
func (m *Map) ShowParcel(parcelID, farmID string, auth AuthOptions, onLoad LoadFunc, onModify ModifyFunc) {
	m.ctrl.ShowParcel(parcelID, farmID, auth, onLoad, onModify)
}

// SaveParcel saves the parcel being edited.
func (m *Map) SaveParcel(ctx context.Context, auth AuthOptions, callback SaveFunc) {
	m.ctrl.SaveParcel(ctx, auth, callback)
}

// ModifyParcel completes an edit of the parcel being edited. g is in the
// map projection.
func (m *Map) ModifyParcel(g orb.Geometry) (Modification, error) {
	return m.ctrl.ModifyParcel(g)
}

// ShowParcels shows every parcel of farmID. The returned channel is closed
// once the parcels are loaded and the view fitted.
func (m *Map) ShowParcels(farmID string, auth AuthOptions) <-chan struct{} {
	return m.ctrl.ShowParcels(farmID, auth)
}

// ZoomToCommune fits the view to communeID.
func (m *Map) ZoomToCommune(communeID string) error {
	return m.ctrl.ZoomToCommune(communeID)
}

// Controller returns the map controller.
func (m *Map) Controller() *Controller {
	return m.ctrl
}

// Options returns the options the map was built with, defaults applied.
func (m *Map) Options() MapOptions {
	return m.opts
}

// Element returns the map name.
func (m *Map) Element() string {
	return m.opts.Element
}

// State returns a snapshot of the map.
func (m *Map) State() State {
	return m.ctrl.State()
}

// Wait blocks until pending loads have finished.
func (m *Map) Wait() {
	m.ctrl.Wait()
}

// Close cancels pending loads.
func (m *Map) Close() error {
	return m.ctrl.Close()
}
