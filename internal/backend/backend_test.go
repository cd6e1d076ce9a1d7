package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var auth = Auth{Role: "user", Token: "ABCD"}

func TestFileBackend(t *testing.T) {
	b := NewFileBackend("testdata")
	ctx := context.Background()

	fc, err := b.Parcel(ctx, auth, "farm-id-1", "parcel-id-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 || fc.Features[0].ID != "parcel-id-1" {
		t.Fatalf("parcel=%+v", fc.Features)
	}

	fc, err = b.Parcels(ctx, auth, "farm-id-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("parcels=%d, want 3", len(fc.Features))
	}

	if _, err := b.Parcel(ctx, auth, "../etc", "x"); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestFileBackendSpecificOverridesGeneric(t *testing.T) {
	dir := t.TempDir()
	specific := filepath.Join(dir, "farms", "f1", "parcels")
	if err := os.MkdirAll(specific, 0755); err != nil {
		t.Fatal(err)
	}
	f := geojson.NewFeature(orb.Point{7, 46})
	f.ID = "p9"
	data, _ := f.MarshalJSON()
	if err := os.WriteFile(filepath.Join(specific, "p9.geojson"), data, 0644); err != nil {
		t.Fatal(err)
	}

	b := NewFileBackend(dir)
	fc, err := b.Parcel(context.Background(), auth, "f1", "p9")
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 || fc.Features[0].ID != "p9" {
		t.Fatalf("features=%+v", fc.Features)
	}

	if _, err := b.Parcel(context.Background(), auth, "f1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestFileBackendSave(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)

	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	req := SaveRequest{ID: "01HX", FarmID: "f1", ParcelID: "p1", Feature: f, Area: 12, AreaSau: 10}
	if err := b.SaveParcel(context.Background(), auth, req); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "farms", "f1", "saved", "p1", "01HX.geojson"))
	if err != nil {
		t.Fatal(err)
	}
	saved, err := geojson.UnmarshalFeature(data)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Properties["area"] != 12.0 || saved.Properties["saveId"] != "01HX" {
		t.Fatalf("properties=%v", saved.Properties)
	}
}

func TestHTTPBackend(t *testing.T) {
	parcel, err := os.ReadFile("testdata/parcel.geojson")
	if err != nil {
		t.Fatal(err)
	}

	var saved SaveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ABCD" || r.Header.Get("X-Role") != "user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/farms/f1/parcels/p1":
			w.Write(parcel)
		case r.Method == http.MethodPut && r.URL.Path == "/api/farms/f1/parcels/p1":
			json.NewDecoder(r.Body).Decode(&saved)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/api/", nil)
	ctx := context.Background()

	fc, err := b.Parcel(ctx, auth, "f1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features=%d", len(fc.Features))
	}

	if _, err := b.Parcels(ctx, auth, "f1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, err := b.Parcel(ctx, Auth{}, "f1", "p1"); err == nil {
		t.Fatal("expected unauthorized error")
	}

	req := SaveRequest{ID: "s1", FarmID: "f1", ParcelID: "p1", Feature: fc.Features[0], Area: 5}
	if err := b.SaveParcel(ctx, auth, req); err != nil {
		t.Fatal(err)
	}
	if saved.ID != "s1" || saved.Area != 5 {
		t.Fatalf("saved=%+v", saved)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	parcels, err := os.ReadFile("testdata/parcels.geojson")
	if err != nil {
		t.Fatal(err)
	}
	fake := &fakeS3{objects: map[string][]byte{"demo/parcels.geojson": parcels}}
	b := newS3Backend(fake, "bucket", "demo")
	ctx := context.Background()

	fc, err := b.Parcels(ctx, auth, "farm-id-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("features=%d", len(fc.Features))
	}
	if _, err := b.Parcel(ctx, auth, "farm-id-1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}

	req := SaveRequest{ID: "s1", FarmID: "farm-id-1", ParcelID: "parcel-id-1", Feature: fc.Features[0]}
	if err := b.SaveParcel(ctx, auth, req); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["demo/farms/farm-id-1/saved/parcel-id-1/s1.geojson"]; !ok {
		t.Fatalf("saved object missing, have %v", fake.objects)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, "testdata")
	if err != nil {
		t.Fatal(err)
	}
	if fb, ok := b.(*FileBackend); !ok || fb.Dir() != "testdata" {
		t.Fatalf("backend=%T", b)
	}

	b, err = Open(ctx, "https://geoacorda.ch/api")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*HTTPBackend); !ok {
		t.Fatalf("backend=%T", b)
	}

	if _, err := Open(ctx, "ftp://example.com"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestCommunes(t *testing.T) {
	idx, err := LoadCommunes("testdata/communes.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 3 {
		t.Fatalf("communes=%d", idx.Len())
	}

	ext, found := idx.Extent("5586")
	if !found || ext.Min != (orb.Point{6.584, 46.504}) {
		t.Fatalf("extent=%v found=%v", ext, found)
	}

	list := idx.List()
	if len(list) != 3 || list[0].ID != "1234" || list[1].Name != "Lausanne" {
		t.Fatalf("list=%+v", list)
	}

	ext, found = idx.Extent("unknown")
	if found || ext != DefaultCommuneExtent {
		t.Fatalf("fallback extent=%v found=%v", ext, found)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("communes:\n  x:\n    extent: [2, 2, 1, 1]\n"), 0644)
	if _, err := LoadCommunes(bad); err == nil {
		t.Fatal("expected inverted extent error")
	}
}
