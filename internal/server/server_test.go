package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestServer serves the demo parcels from a temporary backend
// directory and returns the server, its backend and its data directory.
func newTestServer(t *testing.T) (*Server, string, string) {
	t.Helper()
	dir, dataDir := t.TempDir(), t.TempDir()
	for _, name := range []string{"parcel.geojson", "parcels.geojson"} {
		data, err := os.ReadFile(filepath.Join("../backend/testdata", name))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	srv, err := New(context.Background(), Config{
		Host:         "localhost",
		Port:         "0",
		DataDir:      dataDir,
		BackendURL:   dir,
		CommunesFile: "../backend/testdata/communes.yaml",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, dir, dataDir
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestServerRoutes(t *testing.T) {
	srv, dir, _ := newTestServer(t)

	if code, body := do(t, srv, http.MethodGet, "/health", ""); code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("health: %d %s", code, body)
	}

	code, body := do(t, srv, http.MethodGet, "/api/v1/info", "")
	if code != http.StatusOK {
		t.Fatalf("info: %d %s", code, body)
	}
	var info struct {
		Backend     string   `json:"backend"`
		Store       string   `json:"store"`
		Projections []string `json:"projections"`
	}
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatal(err)
	}
	if info.Backend != dir || info.Store != "memory" || len(info.Projections) != 3 {
		t.Fatalf("info=%+v", info)
	}

	if code, _ := do(t, srv, http.MethodGet, "/", ""); code != http.StatusFound {
		t.Fatalf("root: %d", code)
	}
	if code, _ := do(t, srv, http.MethodGet, "/nope", ""); code != http.StatusNotFound {
		t.Fatalf("unknown path: %d", code)
	}
}

func TestServerRecordsMetrics(t *testing.T) {
	srv, dir, _ := newTestServer(t)

	if code, body := do(t, srv, http.MethodPost, "/api/v1/maps", `{"element":"map","url":"`+dir+`"}`); code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	if code, body := do(t, srv, http.MethodPost, "/api/v1/maps/map/commune", `{"communeId":"5586"}`); code != http.StatusOK {
		t.Fatalf("commune: %d %s", code, body)
	}

	_, body := do(t, srv, http.MethodGet, "/metrics", "")
	if !strings.Contains(body, `geoacorda_operations_total{operation="zoom_to_commune",status="success"} 1`) {
		t.Fatalf("metrics:\n%s", body)
	}
}

func TestServerRestoresMaps(t *testing.T) {
	srv, dir, dataDir := newTestServer(t)
	if code, body := do(t, srv, http.MethodPost, "/api/v1/maps", `{"element":"map","url":"`+dir+`"}`); code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	srv.Close()

	again, err := New(context.Background(), Config{DataDir: dataDir})
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if _, ok := again.Maps().Get("map"); !ok {
		t.Fatal("map not restored")
	}
	if again.Communes().Len() != 0 {
		t.Fatal("communes without a file")
	}
	code, body := do(t, again, http.MethodGet, "/api/v1/info", "")
	if code != http.StatusOK || !strings.Contains(body, filepath.Join(dataDir, "parcels")) {
		t.Fatalf("default backend: %d %s", code, body)
	}
}

func TestOpenAPI(t *testing.T) {
	srv, _, _ := newTestServer(t)
	paths := srv.OpenAPI().Paths
	for _, p := range []string{
		"/api/v1/maps/{element}/parcel",
		"/api/v1/maps/{element}/parcel/save",
		"/api/v1/maps/{element}/farm",
		"/api/v1/maps/{element}/commune",
		"/api/v1/editor/maps/{element}/events",
	} {
		if paths[p] == nil {
			t.Errorf("missing %s", p)
		}
	}
}
