// Package controller owns one parcel map: the base tile layer, the parcel
// being edited, the parcels of its farm, and the edit interactions.
//
// Parcels come from a backend.Backend in EPSG:4326 and are held on the map
// in the map projection. Every show call supersedes the previous one: its
// in-flight fetches are cancelled and late results are discarded.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/geomops"
	"github.com/joeblew999/geoacorda/internal/metrics"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/store"
)

var (
	// ErrNoParcel is returned by edits made while no parcel is loaded.
	ErrNoParcel = errors.New("controller: no parcel loaded")
	// ErrSuperseded is reported for a load overtaken by a later show call.
	ErrSuperseded = errors.New("controller: superseded by a newer request")
	// ErrEmptyParcel is returned when the backend answers without a feature.
	ErrEmptyParcel = errors.New("controller: backend returned no parcel")
	// ErrClosed is reported for work started after Close.
	ErrClosed = errors.New("controller: closed")
)

// Status is the outcome passed to callbacks.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "error"
}

// LoadFunc receives the outcome of ShowParcel. feature is nil on error.
type LoadFunc func(status Status, feature *geojson.Feature)

// ModifyFunc is called after every completed edit of the current parcel.
// area is in square metres, geometry in the map projection.
type ModifyFunc func(parcelID string, area float64, geometry orb.Geometry, overlaps bool)

// Modification is the outcome of one completed edit.
type Modification struct {
	ParcelID string
	// Area is in square metres.
	Area float64
	// Geometry is in the map projection.
	Geometry orb.Geometry
	Overlaps bool
}

// SaveFunc receives the outcome of SaveParcel. result is nil on error.
type SaveFunc func(status Status, result *SaveResult)

// SaveResult describes a saved parcel. Geometries are in the map
// projection.
type SaveResult struct {
	ID          string
	ParcelID    string
	FarmID      string
	Geometry    orb.Geometry
	Area        float64
	GeometrySau orb.Geometry
	AreaSau     float64
	SavedAt     time.Time
}

// Layer names in map state.
const (
	ParcelLayer  = "parcel"
	ParcelsLayer = "parcels"
)

var (
	parcelStyle = olmap.Style{
		Fill:        olmap.RGBA(235, 84, 42, 0.5),
		Stroke:      olmap.RGBA(235, 84, 42, 1),
		StrokeWidth: 3,
	}
	parcelsStyle = olmap.Style{
		Fill:        olmap.RGBA(81, 125, 67, 0.3),
		Stroke:      olmap.RGBA(81, 125, 67, 0.8),
		StrokeWidth: 2,
	}
)

// defaultCenter is the initial view centre, in EPSG:21781.
var defaultCenter = orb.Point{536300, 156100}

// Config configures a Controller. Backend is required.
type Config struct {
	Backend  backend.Backend
	Communes *backend.CommuneIndex
	// Store, when set, keeps a copy of every successful save.
	Store store.Store
	// Projection code of the map, EPSG:21781 by default.
	Projection string
	Size       olmap.Size
	// Tiles is the base layer source. Defaults to swisstopo for
	// EPSG:21781 and OSM otherwise. The view uses its resolutions.
	Tiles   olmap.TileSource
	Center  *orb.Point
	Zoom    int
	Logger  *logrus.Entry
	Metrics metrics.Recorder
	// OnEvent observes loads, edits, saves and view changes.
	OnEvent func(Event)
}

// Controller is safe for concurrent use. Callbacks run without internal
// locks held, on the goroutine that completed the work.
type Controller struct {
	cfg   Config
	log   *logrus.Entry
	proj  *olmap.Projection
	wgs84 *olmap.Projection
	olMap *olmap.Map
	tiles *olmap.TileLayer

	ctx  context.Context
	stop context.CancelFunc

	mu           sync.Mutex
	idle         *sync.Cond
	inflight     int
	closed       bool
	gen          uint64
	cancel       context.CancelFunc
	parcelLayer  *olmap.VectorLayer
	parcelsLayer *olmap.VectorLayer
	parcel       *geojson.Feature
	parcelID     string
	farmID       string
	features     *olmap.Collection
	selectI      *olmap.Select
	modifyI      *olmap.Modify
	edit         editState
}

// editState is what an edit of the current parcel reports against.
type editState struct {
	parcelID string
	farmID   string
	parcels  *olmap.VectorSource
	onModify ModifyFunc
}

// New creates a controller with its map.
func New(cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, errors.New("controller: backend is required")
	}
	if cfg.Projection == "" {
		cfg.Projection = olmap.EPSG21781
	}
	proj, err := olmap.GetProjection(cfg.Projection)
	if err != nil {
		return nil, err
	}
	if cfg.Communes == nil {
		cfg.Communes = backend.NewCommuneIndex()
	}
	if !cfg.Size.Valid() {
		cfg.Size = olmap.Size{Width: 800, Height: 600}
	}
	if cfg.Tiles == nil {
		if proj.Code == olmap.EPSG21781 {
			cfg.Tiles = olmap.NewSwisstopo("", "", "")
		} else {
			cfg.Tiles = olmap.NewOSM()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("component", "controller")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	wgs84 := olmap.MustProjection(olmap.EPSG4326)
	center := olmap.TransformPoint(defaultCenter, olmap.MustProjection(olmap.EPSG21781), proj)
	if cfg.Center != nil {
		center = *cfg.Center
	}
	zoom := cfg.Zoom
	if zoom == 0 {
		zoom = 18
	}
	resolutions := cfg.Tiles.Resolutions()
	if zoom >= len(resolutions) {
		zoom = len(resolutions) - 1
	}

	tiles := olmap.NewTileLayer(cfg.Tiles.Name(), cfg.Tiles)
	m := olmap.New(olmap.Options{
		View: olmap.NewView(olmap.ViewOptions{
			Projection:  proj,
			Center:      center,
			Zoom:        zoom,
			Resolutions: resolutions,
		}),
		Size:   cfg.Size,
		Layers: []olmap.Layer{tiles},
	})

	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		cfg:   cfg,
		log:   cfg.Logger,
		proj:  proj,
		wgs84: wgs84,
		olMap: m,
		tiles: tiles,
		ctx:   ctx,
		stop:  stop,
	}
	c.idle = sync.NewCond(&c.mu)
	return c, nil
}

// Map returns the underlying map.
func (c *Controller) Map() *olmap.Map {
	return c.olMap
}

// Projection returns the map projection.
func (c *Controller) Projection() *olmap.Projection {
	return c.proj
}

// Parcel returns a copy of the current parcel with its edited geometry, or
// nil.
func (c *Controller) Parcel() *geojson.Feature {
	c.mu.Lock()
	parcel, features := c.parcel, c.features
	c.mu.Unlock()

	if parcel == nil {
		return nil
	}
	g := parcel.Geometry
	if features != nil {
		if edited, ok := features.Geometry(olmap.FeatureID(parcel)); ok {
			g = edited
		}
	}
	return cloneFeature(parcel, g)
}

// ParcelGeometry returns a copy of the current geometry of the parcel
// being edited, in the map projection.
func (c *Controller) ParcelGeometry() (orb.Geometry, bool) {
	c.mu.Lock()
	parcel, features := c.parcel, c.features
	c.mu.Unlock()

	if parcel == nil || features == nil {
		return nil, false
	}
	g, ok := features.Geometry(olmap.FeatureID(parcel))
	if !ok || g == nil {
		return nil, false
	}
	return orb.Clone(g), true
}

// ShowParcel replaces the current parcel with parcelID of farmID. The farm
// parcels are shown underneath. onLoad is called exactly once: with the
// parcel feature once it is on the map and editable, or with StatusError
// when the fetch fails or a later show call supersedes this one. onModify
// may be nil.
func (c *Controller) ShowParcel(parcelID, farmID string, auth backend.Auth, onLoad LoadFunc, onModify ModifyFunc) {
	c.mu.Lock()
	gen, ctx := c.beginLocked()
	c.resetParcelLayerLocked()
	c.disableEditingLocked()
	parcels := c.addParcelsLayerLocked(farmID, auth)
	c.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{"parcel_id": parcelID, "farm_id": farmID})
	c.load(ctx, parcels.Source, log)

	fail := func(err error) {
		log.WithError(err).Warn("Parcel not loaded")
		c.emit(Event{Kind: EventLoaded, Status: StatusError, ParcelID: parcelID, FarmID: farmID})
		if onLoad != nil {
			onLoad(StatusError, nil)
		}
	}
	started := c.goTracked(func() {
		start := time.Now()

		fc, err := c.cfg.Backend.Parcel(ctx, auth, farmID, parcelID)
		var feature *geojson.Feature
		if err == nil {
			feature, err = c.finishShowParcel(gen, parcelID, farmID, fc, parcels, onModify)
		}
		c.cfg.Metrics.Observe(ctx, "show_parcel", err == nil, time.Since(start))

		if err != nil {
			fail(err)
			return
		}

		log.Info("Parcel loaded")
		c.emit(Event{Kind: EventLoaded, Status: StatusSuccess, ParcelID: parcelID, FarmID: farmID})
		if onLoad != nil {
			onLoad(StatusSuccess, feature)
		}
	})
	if !started {
		fail(ErrClosed)
	}
}

func (c *Controller) finishShowParcel(gen uint64, parcelID, farmID string, fc *geojson.FeatureCollection, parcels *olmap.VectorLayer, onModify ModifyFunc) (*geojson.Feature, error) {
	features := c.toMapProjection(fc)
	if len(features) == 0 || features[0].Geometry == nil {
		return nil, ErrEmptyParcel
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil, ErrSuperseded
	}

	parcel := features[0]
	c.parcel = parcel
	c.parcelID = parcelID
	c.farmID = farmID
	c.parcelLayer = olmap.NewVectorLayer(ParcelLayer, olmap.NewVectorSource(features...), parcelStyle)
	c.olMap.AddLayer(c.parcelLayer)

	if err := c.olMap.Fit(parcel.Geometry.Bound()); err != nil {
		c.log.WithError(err).Warn("Cannot fit view to parcel")
	}
	c.enableEditingLocked(parcelID, parcel, parcels.Source, onModify)
	return cloneFeature(parcel, parcel.Geometry), nil
}

// ModifyParcel completes an edit of the current parcel: its geometry
// becomes g (in the map projection) and the onModify callback of the
// ShowParcel call that loaded it runs. The returned Modification is the
// one passed to onModify.
func (c *Controller) ModifyParcel(g orb.Geometry) (Modification, error) {
	c.mu.Lock()
	modify, parcel, edit := c.modifyI, c.parcel, c.edit
	c.mu.Unlock()

	if modify == nil || parcel == nil {
		return Modification{}, ErrNoParcel
	}
	ev, err := modify.End(olmap.FeatureID(parcel), g)
	if err != nil {
		return Modification{}, err
	}
	return c.handleModify(edit, ev), nil
}

func (c *Controller) handleModify(edit editState, ev olmap.ModifyEvent) Modification {
	area := geomops.Area(olmap.TransformGeometry(ev.Geometry, c.proj, c.wgs84))

	self := olmap.FeatureID(ev.Feature)
	var others []orb.Geometry
	for _, f := range edit.parcels.Features() {
		if olmap.FeatureID(f) == self {
			continue
		}
		others = append(others, f.Geometry)
	}
	overlaps, err := geomops.OverlapsAny(ev.Geometry, others)
	if err != nil {
		c.log.WithError(err).WithField("parcel_id", edit.parcelID).Warn("Overlap test failed")
	}

	c.emit(Event{Kind: EventModified, Status: StatusSuccess, ParcelID: edit.parcelID, FarmID: edit.farmID, Area: area, Overlaps: overlaps})
	if edit.onModify != nil {
		edit.onModify(edit.parcelID, area, ev.Geometry, overlaps)
	}
	return Modification{ParcelID: edit.parcelID, Area: area, Geometry: ev.Geometry, Overlaps: overlaps}
}

// SaveParcel saves the current parcel through the backend. Without a
// loaded parcel, cb gets StatusError before SaveParcel returns; otherwise
// cb runs once the backend and the store have answered.
func (c *Controller) SaveParcel(ctx context.Context, auth backend.Auth, cb SaveFunc) {
	c.mu.Lock()
	parcel, features := c.parcel, c.features
	parcelID, farmID := c.parcelID, c.farmID
	c.mu.Unlock()

	if parcel == nil {
		cb(StatusError, nil)
		return
	}

	start := time.Now()
	result, err := c.save(ctx, auth, parcel, features, parcelID, farmID)
	c.cfg.Metrics.Observe(ctx, "save_parcel", err == nil, time.Since(start))

	log := c.log.WithFields(logrus.Fields{"parcel_id": parcelID, "farm_id": farmID})
	if err != nil {
		log.WithError(err).Error("Parcel not saved")
		c.emit(Event{Kind: EventSaved, Status: StatusError, ParcelID: parcelID, FarmID: farmID})
		cb(StatusError, nil)
		return
	}

	log.WithFields(logrus.Fields{"save_id": result.ID, "area": result.Area}).Info("Parcel saved")
	c.emit(Event{Kind: EventSaved, Status: StatusSuccess, ParcelID: parcelID, FarmID: farmID, SaveID: result.ID, Area: result.Area})
	cb(StatusSuccess, result)
}

func (c *Controller) save(ctx context.Context, auth backend.Auth, parcel *geojson.Feature, features *olmap.Collection, parcelID, farmID string) (*SaveResult, error) {
	g, ok := features.Geometry(olmap.FeatureID(parcel))
	if !ok || g == nil {
		return nil, ErrNoParcel
	}
	g = orb.Clone(g)
	wgs := olmap.TransformGeometry(g, c.proj, c.wgs84)
	area := geomops.Area(wgs)

	result := &SaveResult{
		ID:          ulid.Make().String(),
		ParcelID:    parcelID,
		FarmID:      farmID,
		Geometry:    g,
		Area:        area,
		GeometrySau: orb.Clone(g),
		AreaSau:     area,
		SavedAt:     time.Now().UTC(),
	}

	out := geojson.NewFeature(wgs)
	out.ID = parcelID
	for k, v := range parcel.Properties {
		out.Properties[k] = v
	}
	err := c.cfg.Backend.SaveParcel(ctx, auth, backend.SaveRequest{
		ID:       result.ID,
		FarmID:   farmID,
		ParcelID: parcelID,
		Feature:  out,
		Area:     result.Area,
		AreaSau:  result.AreaSau,
	})
	if err != nil {
		return nil, err
	}

	if c.cfg.Store != nil {
		err = c.cfg.Store.Save(ctx, store.SavedParcel{
			ID:       result.ID,
			FarmID:   farmID,
			ParcelID: parcelID,
			Geometry: wgs,
			Area:     result.Area,
			AreaSau:  result.AreaSau,
			SavedAt:  result.SavedAt,
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ShowParcels clears the current parcel and shows every parcel of farmID.
// The view fits the farm once loaded, unless the farm has no parcels. The
// returned channel is closed when this load has finished, including the
// fit.
func (c *Controller) ShowParcels(farmID string, auth backend.Auth) <-chan struct{} {
	c.mu.Lock()
	gen, ctx := c.beginLocked()
	c.resetParcelLayerLocked()
	c.disableEditingLocked()
	layer := c.addParcelsLayerLocked(farmID, auth)
	c.mu.Unlock()

	src := layer.Source
	log := c.log.WithField("farm_id", farmID)
	src.Once(func(err error) {
		if err != nil || src.Len() == 0 {
			return
		}
		c.mu.Lock()
		current := gen == c.gen
		c.mu.Unlock()
		if !current {
			return
		}
		if err := c.olMap.Fit(src.Extent()); err != nil {
			log.WithError(err).Warn("Cannot fit view to farm")
			return
		}
		c.emit(Event{Kind: EventFitted, Status: StatusSuccess, FarmID: farmID})
	})
	return c.load(ctx, src, log)
}

// ZoomToCommune fits the view to the extent of communeID. Unknown ids use
// the commune index fallback extent.
func (c *Controller) ZoomToCommune(communeID string) error {
	start := time.Now()
	ext, found := c.cfg.Communes.Extent(communeID)
	log := c.log.WithField("commune_id", communeID)
	if !found {
		log.Debug("Commune unknown, using fallback extent")
	}

	err := c.olMap.Fit(olmap.TransformExtent(ext, c.wgs84, c.proj))
	c.cfg.Metrics.Observe(c.ctx, "zoom_to_commune", err == nil, time.Since(start))
	if err != nil {
		log.WithError(err).Warn("Cannot fit view to commune")
		return err
	}
	c.emit(Event{Kind: EventFitted, Status: StatusSuccess, CommuneID: communeID})
	return nil
}

// Wait blocks until no fetch is in flight and every callback has
// returned. Fetches started while waiting are waited for too.
func (c *Controller) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
}

// Close cancels in-flight fetches and waits for them. Show calls made after
// Close fail.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.Wait()
	return nil
}

// goTracked runs fn on a new goroutine counted by Wait. It reports false,
// without running fn, once the controller is closed.
func (c *Controller) goTracked(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.inflight++
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.inflight--
			if c.inflight == 0 {
				c.idle.Broadcast()
			}
			c.mu.Unlock()
		}()
		fn()
	}()
	return true
}

// beginLocked starts a new generation and cancels the previous one.
func (c *Controller) beginLocked() (uint64, context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	return c.gen, ctx
}

func (c *Controller) resetParcelLayerLocked() {
	if c.parcelLayer != nil {
		c.olMap.RemoveLayer(c.parcelLayer)
		c.parcelLayer = nil
		c.parcel = nil
		c.parcelID = ""
		c.farmID = ""
	}
	if c.parcelsLayer != nil {
		c.olMap.RemoveLayer(c.parcelsLayer)
		c.parcelsLayer = nil
	}
}

func (c *Controller) addParcelsLayerLocked(farmID string, auth backend.Auth) *olmap.VectorLayer {
	src := olmap.NewLoadingVectorSource(func(ctx context.Context) ([]*geojson.Feature, error) {
		fc, err := c.cfg.Backend.Parcels(ctx, auth, farmID)
		if err != nil {
			return nil, err
		}
		return c.toMapProjection(fc), nil
	})
	c.parcelsLayer = olmap.NewVectorLayer(ParcelsLayer, src, parcelsStyle)
	c.olMap.AddLayer(c.parcelsLayer)
	return c.parcelsLayer
}

func (c *Controller) enableEditingLocked(parcelID string, parcel *geojson.Feature, parcels *olmap.VectorSource, onModify ModifyFunc) {
	c.edit = editState{parcelID: parcelID, farmID: c.farmID, parcels: parcels, onModify: onModify}
	c.features = olmap.NewCollection(parcel)
	c.selectI = olmap.NewSelect(c.features, c.parcelLayer)
	c.olMap.AddInteraction(c.selectI)

	// keep the parcel layer showing the edited geometry
	layer := c.parcelLayer
	c.modifyI = olmap.NewModify(c.features)
	c.modifyI.OnModifyEnd(func(ev olmap.ModifyEvent) {
		layer.Source.Replace(ev.Feature)
	})
	c.olMap.AddInteraction(c.modifyI)
}

func (c *Controller) disableEditingLocked() {
	if c.modifyI != nil {
		c.olMap.RemoveInteraction(c.selectI)
		c.olMap.RemoveInteraction(c.modifyI)
		c.selectI = nil
		c.modifyI = nil
		c.features = nil
		c.edit = editState{}
	}
}

// load fills src in the background. The returned channel is closed once
// the load and its Once listeners are done, or at once after Close.
func (c *Controller) load(ctx context.Context, src *olmap.VectorSource, log *logrus.Entry) <-chan struct{} {
	done := make(chan struct{})
	started := c.goTracked(func() {
		defer close(done)
		start := time.Now()
		err := src.Load(ctx)
		c.cfg.Metrics.Observe(ctx, "load_parcels", err == nil, time.Since(start))
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Farm parcels not loaded")
			return
		}
		log.WithField("count", src.Len()).Debug("Farm parcels loaded")
	})
	if !started {
		close(done)
	}
	return done
}

// toMapProjection copies the features of fc into the map projection.
func (c *Controller) toMapProjection(fc *geojson.FeatureCollection) []*geojson.Feature {
	if fc == nil {
		return nil
	}
	out := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		out = append(out, cloneFeature(f, olmap.TransformGeometry(f.Geometry, c.wgs84, c.proj)))
	}
	return out
}

// cloneFeature copies f with geometry g. Properties are copied one level
// deep.
func cloneFeature(f *geojson.Feature, g orb.Geometry) *geojson.Feature {
	cp := geojson.NewFeature(orb.Clone(g))
	cp.ID = f.ID
	for k, v := range f.Properties {
		cp.Properties[k] = v
	}
	return cp
}

func (c *Controller) emit(ev Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev)
	}
}
