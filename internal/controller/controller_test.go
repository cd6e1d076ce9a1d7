package controller

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/store"
)

var auth = backend.Auth{Role: "user", Token: "ABCD"}

func square(id string, minX, minY, maxX, maxY float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
	f.ID = id
	return f
}

// fakeBackend serves one farm of three adjacent parcels.
type fakeBackend struct {
	mu        sync.Mutex
	parcels   map[string]*geojson.Feature
	farm      []*geojson.Feature
	gates     map[string]chan struct{}
	ignoreCtx bool
	saveErr   error
	saved     []backend.SaveRequest
}

func newFakeBackend() *fakeBackend {
	p1 := square("parcel-id-1", 6.6075, 46.5527, 6.6088, 46.5536)
	p2 := square("parcel-id-2", 6.6088, 46.5527, 6.6101, 46.5536)
	p3 := square("parcel-id-3", 6.6075, 46.5536, 6.6088, 46.5545)
	return &fakeBackend{
		parcels: map[string]*geojson.Feature{"parcel-id-1": p1, "parcel-id-2": p2, "parcel-id-3": p3},
		farm:    []*geojson.Feature{p1, p2, p3},
		gates:   map[string]chan struct{}{},
	}
}

func (f *fakeBackend) gate(id string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeBackend) Parcel(ctx context.Context, auth backend.Auth, farmID, parcelID string) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	gate := f.gates[parcelID]
	p, ok := f.parcels[parcelID]
	ignore := f.ignoreCtx
	f.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if !ok {
		return nil, backend.ErrNotFound
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(p)
	return fc, nil
}

func (f *fakeBackend) Parcels(ctx context.Context, auth backend.Auth, farmID string) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if farmID == "empty-farm" {
		return fc, nil
	}
	fc.Features = append(fc.Features, f.farm...)
	return fc, nil
}

func (f *fakeBackend) SaveParcel(ctx context.Context, auth backend.Auth, req backend.SaveRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, req)
	return nil
}

type loadResult struct {
	status  Status
	feature *geojson.Feature
}

// recorder collects onLoad calls.
type recorder struct {
	mu      sync.Mutex
	results []loadResult
}

func (r *recorder) onLoad(status Status, f *geojson.Feature) {
	r.mu.Lock()
	r.results = append(r.results, loadResult{status, f})
	r.mu.Unlock()
}

func (r *recorder) all() []loadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]loadResult(nil), r.results...)
}

func newController(t *testing.T, b backend.Backend, opts ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{Backend: b}
	for _, o := range opts {
		o(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func near(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < 1e-6 && math.Abs(a[1]-b[1]) < 1e-6
}

func layerNames(c *Controller) []string {
	var names []string
	for _, l := range c.Map().Layers() {
		names = append(names, l.LayerName())
	}
	return names
}

func TestShowParcelThenSave(t *testing.T) {
	fb := newFakeBackend()
	saved := store.NewMemory()
	c := newController(t, fb, func(cfg *Config) { cfg.Store = saved })

	var rec recorder
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, rec.onLoad, nil)
	c.Wait()

	results := rec.all()
	if len(results) != 1 || results[0].status != StatusSuccess {
		t.Fatalf("onLoad calls=%+v, want one success", results)
	}
	loaded := results[0].feature

	var (
		calls  int
		status Status
		result *SaveResult
	)
	c.SaveParcel(context.Background(), auth, func(s Status, r *SaveResult) {
		calls++
		status, result = s, r
	})
	if calls != 1 || status != StatusSuccess {
		t.Fatalf("save calls=%d status=%v", calls, status)
	}
	if !orb.Equal(result.Geometry, loaded.Geometry) {
		t.Fatalf("saved geometry %v differs from loaded %v", result.Geometry, loaded.Geometry)
	}
	if !orb.Equal(result.GeometrySau, result.Geometry) || result.AreaSau != result.Area {
		t.Fatalf("SAU fields differ: %+v", result)
	}
	if result.Area < 9000 || result.Area > 11000 {
		t.Fatalf("area=%v, want about 10000 m²", result.Area)
	}
	if result.ParcelID != "parcel-id-1" || result.FarmID != "farm-id-1" || result.ID == "" {
		t.Fatalf("result=%+v", result)
	}

	if len(fb.saved) != 1 || fb.saved[0].ID != result.ID {
		t.Fatalf("backend saves=%+v", fb.saved)
	}
	// The backend receives lon/lat.
	if b := fb.saved[0].Feature.Geometry.Bound(); b.Min[0] < 6 || b.Max[0] > 7 {
		t.Fatalf("backend geometry not in EPSG:4326: %v", b)
	}
	if _, err := saved.Get(context.Background(), result.ID); err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestSaveWithoutParcel(t *testing.T) {
	c := newController(t, newFakeBackend())

	called := false
	c.SaveParcel(context.Background(), auth, func(s Status, r *SaveResult) {
		called = true
		if s != StatusError || r != nil {
			t.Fatalf("got (%v, %v), want (error, nil)", s, r)
		}
	})
	if !called {
		t.Fatal("callback not called synchronously")
	}
}

func TestSaveBackendFailure(t *testing.T) {
	fb := newFakeBackend()
	fb.saveErr = errors.New("service unavailable")
	c := newController(t, fb)

	c.ShowParcel("parcel-id-1", "farm-id-1", auth, nil, nil)
	c.Wait()

	var status Status
	var result *SaveResult
	c.SaveParcel(context.Background(), auth, func(s Status, r *SaveResult) { status, result = s, r })
	if status != StatusError || result != nil {
		t.Fatalf("got (%v, %v), want (error, nil)", status, result)
	}
}

func TestShowParcelResetsPreviousParcel(t *testing.T) {
	c := newController(t, newFakeBackend())

	c.ShowParcel("parcel-id-1", "farm-id-1", auth, nil, nil)
	c.Wait()

	var first olmap.Layer
	for _, l := range c.Map().Layers() {
		if l.LayerName() == ParcelLayer {
			first = l
		}
	}
	if first == nil {
		t.Fatalf("no parcel layer in %v", layerNames(c))
	}
	firstInteractions := c.Map().Interactions()
	if len(firstInteractions) != 2 {
		t.Fatalf("interactions=%d, want select and modify", len(firstInteractions))
	}
	modify := firstInteractions[1].(*olmap.Modify)
	if n := len(modify.Features.Features()); n != 1 {
		t.Fatalf("editable geometries=%d, want 1", n)
	}

	c.ShowParcel("parcel-id-2", "farm-id-1", auth, nil, nil)
	c.Wait()

	if c.Map().HasLayer(first) {
		t.Fatal("first parcel layer still on the map")
	}
	for _, i := range firstInteractions {
		if c.Map().HasInteraction(i) {
			t.Fatalf("first %s interaction still attached", i.InteractionName())
		}
	}
	if got := layerNames(c); len(got) != 3 {
		t.Fatalf("layers=%v, want tiles, parcels, parcel", got)
	}
	if id := olmap.FeatureID(c.Parcel()); id != "parcel-id-2" {
		t.Fatalf("current parcel=%q", id)
	}
}

func TestShowParcelFailure(t *testing.T) {
	c := newController(t, newFakeBackend())

	var rec recorder
	c.ShowParcel("missing", "farm-id-1", auth, rec.onLoad, nil)
	c.Wait()

	results := rec.all()
	if len(results) != 1 || results[0].status != StatusError || results[0].feature != nil {
		t.Fatalf("onLoad calls=%+v, want one (error, nil)", results)
	}
	for _, name := range layerNames(c) {
		if name == ParcelLayer {
			t.Fatal("parcel layer added after a failed fetch")
		}
	}
	if n := len(c.Map().Interactions()); n != 0 {
		t.Fatalf("interactions=%d after a failed fetch", n)
	}
}

func TestStaleResponseCancelled(t *testing.T) {
	fb := newFakeBackend()
	fb.gate("parcel-id-1")
	c := newController(t, fb)

	var first, second recorder
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, first.onLoad, nil)
	c.ShowParcel("parcel-id-2", "farm-id-1", auth, second.onLoad, nil)
	c.Wait()

	if r := first.all(); len(r) != 1 || r[0].status != StatusError {
		t.Fatalf("superseded onLoad=%+v, want one error", r)
	}
	if r := second.all(); len(r) != 1 || r[0].status != StatusSuccess {
		t.Fatalf("current onLoad=%+v, want one success", r)
	}
	if id := olmap.FeatureID(c.Parcel()); id != "parcel-id-2" {
		t.Fatalf("current parcel=%q", id)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	fb := newFakeBackend()
	fb.ignoreCtx = true
	release := fb.gate("parcel-id-1")
	c := newController(t, fb)

	var first, second recorder
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, first.onLoad, nil)
	c.ShowParcel("parcel-id-2", "farm-id-1", auth, second.onLoad, nil)
	close(release)
	c.Wait()

	if r := first.all(); len(r) != 1 || r[0].status != StatusError {
		t.Fatalf("late onLoad=%+v, want one error", r)
	}
	if id := olmap.FeatureID(c.Parcel()); id != "parcel-id-2" {
		t.Fatalf("late response replaced the parcel: %q", id)
	}
	parcelLayers := 0
	for _, name := range layerNames(c) {
		if name == ParcelLayer {
			parcelLayers++
		}
	}
	if parcelLayers != 1 {
		t.Fatalf("parcel layers=%d, want 1", parcelLayers)
	}
}

func TestModifyReportsAreaAndOverlaps(t *testing.T) {
	c := newController(t, newFakeBackend())

	type modification struct {
		id       string
		area     float64
		overlaps bool
	}
	var mods []modification
	onModify := func(id string, area float64, g orb.Geometry, overlaps bool) {
		mods = append(mods, modification{id, area, overlaps})
	}
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, nil, onModify)
	c.Wait()

	wgs84 := olmap.MustProjection(olmap.EPSG4326)
	toMap := func(f *geojson.Feature) orb.Geometry {
		return olmap.TransformGeometry(f.Geometry, wgs84, c.Projection())
	}

	// Unchanged geometry only touches its neighbours.
	if _, err := c.ModifyParcel(toMap(square("", 6.6075, 46.5527, 6.6088, 46.5536))); err != nil {
		t.Fatal(err)
	}
	// Stretched east into parcel-id-2.
	stretched := toMap(square("", 6.6075, 46.5527, 6.6095, 46.5536))
	got, err := c.ModifyParcel(stretched)
	if err != nil {
		t.Fatal(err)
	}
	if g, ok := c.ParcelGeometry(); !ok || !orb.Equal(g, stretched) {
		t.Fatalf("parcel geometry=%v, want the edited geometry", g)
	}

	if len(mods) != 2 {
		t.Fatalf("onModify calls=%d, want 2", len(mods))
	}
	if mods[0].id != "parcel-id-1" || mods[0].overlaps {
		t.Fatalf("first edit=%+v, want no overlap", mods[0])
	}
	if !mods[1].overlaps || mods[1].area <= mods[0].area {
		t.Fatalf("second edit=%+v, want overlap and a larger area", mods[1])
	}
	if got.ParcelID != "parcel-id-1" || got.Area != mods[1].area || !got.Overlaps {
		t.Fatalf("returned modification=%+v, want %+v", got, mods[1])
	}
	layer := c.Map().Layers()[2].(*olmap.VectorLayer)
	if ext := layer.Source.Extent(); !near(ext.Max, stretched.Bound().Max) {
		t.Fatalf("parcel layer extent=%v, want the edited geometry", ext)
	}

	var result *SaveResult
	c.SaveParcel(context.Background(), auth, func(s Status, r *SaveResult) { result = r })
	if result == nil || result.Area != mods[1].area {
		t.Fatalf("save does not reflect the edit: %+v", result)
	}
}

func TestModifyWithoutParcel(t *testing.T) {
	c := newController(t, newFakeBackend())
	if _, err := c.ModifyParcel(orb.Point{0, 0}); !errors.Is(err, ErrNoParcel) {
		t.Fatalf("err=%v, want ErrNoParcel", err)
	}
	if _, ok := c.ParcelGeometry(); ok {
		t.Fatal("geometry reported without a parcel")
	}
}

func TestShowParcelsFitsFarm(t *testing.T) {
	c := newController(t, newFakeBackend())

	c.ShowParcel("parcel-id-1", "farm-id-1", auth, nil, nil)
	c.Wait()
	c.ShowParcels("farm-id-1", auth)
	c.Wait()

	if c.Parcel() != nil {
		t.Fatal("parcel still loaded after ShowParcels")
	}
	if n := len(c.Map().Interactions()); n != 0 {
		t.Fatalf("interactions=%d, want 0", n)
	}
	st := c.State()
	if got := layerNames(c); len(got) != 2 || got[1] != ParcelsLayer {
		t.Fatalf("layers=%v", got)
	}

	farm := c.Map().Layers()[1].(*olmap.VectorLayer).Source.Extent()
	if !near(st.Center, farm.Center()) {
		t.Fatalf("center=%v, want %v", st.Center, farm.Center())
	}
}

func TestConcurrentModifyResults(t *testing.T) {
	c := newController(t, newFakeBackend())
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, nil, nil)
	c.Wait()

	wgs84 := olmap.MustProjection(olmap.EPSG4326)
	small := olmap.TransformGeometry(square("", 6.6076, 46.5528, 6.6078, 46.5530).Geometry, wgs84, c.Projection())
	large := olmap.TransformGeometry(square("", 6.6070, 46.5520, 6.6090, 46.5540).Geometry, wgs84, c.Projection())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, g := range []orb.Geometry{small, large} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m, err := c.ModifyParcel(g)
				if err != nil {
					errs <- err
					return
				}
				if !orb.Equal(m.Geometry, g) {
					errs <- errors.New("modification reports another edit")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestParcelReturnsCopy(t *testing.T) {
	c := newController(t, newFakeBackend())
	var rec recorder
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, rec.onLoad, nil)
	c.Wait()

	loaded := rec.all()[0].feature
	before := c.Parcel()
	edited := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	if _, err := c.ModifyParcel(edited); err != nil {
		t.Fatal(err)
	}
	if orb.Equal(loaded.Geometry, edited) || orb.Equal(before.Geometry, edited) {
		t.Fatal("edit changed a feature already handed out")
	}
	if after := c.Parcel(); !orb.Equal(after.Geometry, edited) || olmap.FeatureID(after) != "parcel-id-1" {
		t.Fatalf("parcel=%v, want the edited geometry", after.Geometry)
	}
}

func TestConcurrentShowParcelsAndWait(t *testing.T) {
	c := newController(t, newFakeBackend())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				<-c.ShowParcels("farm-id-1", auth)
				c.Wait()
			}
		}()
	}
	wg.Wait()

	if got := layerNames(c); len(got) != 2 || got[1] != ParcelsLayer {
		t.Fatalf("layers=%v", got)
	}
}

func TestClosedControllerRejectsShows(t *testing.T) {
	c := newController(t, newFakeBackend())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	var rec recorder
	c.ShowParcel("parcel-id-1", "farm-id-1", auth, rec.onLoad, nil)
	if results := rec.all(); len(results) != 1 || results[0].status != StatusError {
		t.Fatalf("onLoad calls=%+v, want one error", results)
	}
	select {
	case <-c.ShowParcels("farm-id-1", auth):
	default:
		t.Fatal("load channel of a closed controller still open")
	}
	c.Wait()
}

func TestShowParcelsEmptyFarm(t *testing.T) {
	var events []Event
	c := newController(t, newFakeBackend(), func(cfg *Config) {
		cfg.OnEvent = func(ev Event) { events = append(events, ev) }
	})
	before := c.State()

	c.ShowParcels("empty-farm", auth)
	c.Wait()

	after := c.State()
	if after.Center != before.Center || after.Resolution != before.Resolution {
		t.Fatalf("view moved: %v/%v -> %v/%v", before.Center, before.Resolution, after.Center, after.Resolution)
	}
	for _, ev := range events {
		if ev.Kind == EventFitted {
			t.Fatal("fitted an empty farm")
		}
	}
}

func TestZoomToCommuneDeterministic(t *testing.T) {
	communes := backend.NewCommuneIndex()
	communes.Add("5586", backend.Commune{Name: "Lausanne", Extent: [4]float64{6.584, 46.504, 6.720, 46.602}})

	var views []State
	for i := 0; i < 2; i++ {
		c := newController(t, newFakeBackend(), func(cfg *Config) { cfg.Communes = communes })
		if err := c.ZoomToCommune("5586"); err != nil {
			t.Fatal(err)
		}
		views = append(views, c.State())
		if err := c.ZoomToCommune("5586"); err != nil {
			t.Fatal(err)
		}
		views = append(views, c.State())
	}
	for _, v := range views[1:] {
		if v.Center != views[0].Center || v.Resolution != views[0].Resolution || v.Extent != views[0].Extent {
			t.Fatalf("view %v/%v differs from %v/%v", v.Center, v.Resolution, views[0].Center, views[0].Resolution)
		}
	}
}

func TestZoomToUnknownCommuneUsesFallback(t *testing.T) {
	c := newController(t, newFakeBackend())
	if err := c.ZoomToCommune("1234"); err != nil {
		t.Fatal(err)
	}

	want := olmap.TransformExtent(backend.DefaultCommuneExtent,
		olmap.MustProjection(olmap.EPSG4326), c.Projection()).Center()
	if got := c.State().Center; !near(got, want) {
		t.Fatalf("center=%v, want %v", got, want)
	}
}

func TestStateListsTiles(t *testing.T) {
	c := newController(t, newFakeBackend())
	st := c.State()

	if st.Projection != olmap.EPSG21781 || st.Zoom != 18 {
		t.Fatalf("projection=%s zoom=%d", st.Projection, st.Zoom)
	}
	if len(st.Tiles) == 0 {
		t.Fatal("no base tiles for the initial view")
	}
	if st.Layers[0].Kind != "tile" {
		t.Fatalf("bottom layer=%+v", st.Layers[0])
	}
}
