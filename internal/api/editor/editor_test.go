package editor

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/geoacorda/internal/controller"
	"github.com/joeblew999/geoacorda/internal/service"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

// backendDir copies the demo parcels to a temporary backend directory.
func backendDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"parcel.geojson", "parcels.geojson"} {
		data, err := os.ReadFile(filepath.Join("../../backend/testdata", name))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newServer(t *testing.T) (*httptest.Server, *service.MapService) {
	t.Helper()
	ctx := context.Background()
	factory := func(ctx context.Context, cfg service.MapConfig, onEvent func(controller.Event)) (*geoacorda.Map, error) {
		return geoacorda.New(ctx, cfg, geoacorda.WithEventHandler(onEvent))
	}
	maps := service.NewMapService(ctx, t.TempDir(), factory, nil)
	if _, err := maps.Create(ctx, service.MapConfig{Element: "map", URL: backendDir(t)}); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("Test", "1.0.0"))
	NewMapHandler(maps).RegisterRoutes(api)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		maps.Close()
	})
	return srv, maps
}

func post(t *testing.T, srv *httptest.Server, path, signals string) (int, string) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(signals))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestShowAndSaveParcel(t *testing.T) {
	srv, _ := newServer(t)

	status, body := post(t, srv, "/api/v1/editor/maps/map/parcel",
		`{"parcelId":"parcel-id-1","farmId":"farm-id-1","token":"ABCD","role":"user"}`)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	if !strings.Contains(body, "datastar-patch-signals") || !strings.Contains(body, `"editing":true`) {
		t.Fatalf("body=%s", body)
	}

	status, body = post(t, srv, "/api/v1/editor/maps/map/parcel/save", `{"token":"ABCD","role":"user"}`)
	if status != http.StatusOK || !strings.Contains(body, `"saveId":"`) || !strings.Contains(body, `"success":"Parcel saved"`) {
		t.Fatalf("status=%d body=%s", status, body)
	}
}

func TestSaveWithoutParcel(t *testing.T) {
	srv, _ := newServer(t)
	_, body := post(t, srv, "/api/v1/editor/maps/map/parcel/save", `{}`)
	if !strings.Contains(body, `"error":"Parcel not saved"`) {
		t.Fatalf("body=%s", body)
	}
}

func TestRequestValidation(t *testing.T) {
	srv, _ := newServer(t)

	if status, _ := post(t, srv, "/api/v1/editor/maps/map/parcel", `{"parcelId":"p1"}`); status != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", status)
	}
	if status, _ := post(t, srv, "/api/v1/editor/maps/map/parcel", `not json`); status != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", status)
	}
	if status, _ := post(t, srv, "/api/v1/editor/maps/nope/commune", `{"communeId":"1"}`); status != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", status)
	}
}

func TestEventsMirrorChanges(t *testing.T) {
	srv, maps := newServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/editor/maps/map/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(substr string) {
		t.Helper()
		for lines.Scan() {
			if strings.Contains(lines.Text(), substr) {
				return
			}
		}
		t.Fatalf("stream ended before %q", substr)
	}

	// The initial view signals mean the stream is subscribed.
	waitFor(`"zoom":`)

	m, _ := maps.Get("map")
	if err := m.ZoomToCommune("5586"); err != nil {
		t.Fatal(err)
	}
	waitFor(`"communeId":"5586"`)
}
