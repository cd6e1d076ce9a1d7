package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/joeblew999/geoacorda/internal/api"
	"github.com/joeblew999/geoacorda/internal/api/editor"
	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/controller"
	"github.com/joeblew999/geoacorda/internal/humastar"
	"github.com/joeblew999/geoacorda/internal/metrics"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/service"
	"github.com/joeblew999/geoacorda/internal/store"
	"github.com/joeblew999/geoacorda/pkg/geoacorda"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// BackendURL is the parcel backend served under /api/v1/farms and used
	// by maps created without their own URL. Defaults to DataDir/parcels.
	BackendURL string
	// StoreDriver is "memory", "sqlite" or "duckdb".
	StoreDriver string
	// CommunesFile is a YAML commune index. Empty means no communes.
	CommunesFile string
}

// Server is the geoacorda HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	http     *http.Server
	log      *logrus.Entry
	registry *prometheus.Registry

	backend  backend.Backend
	store    store.Store
	communes *backend.CommuneIndex
	maps     *service.MapService
}

// New opens the backend, the store and the commune index, restores the
// saved map sessions and registers every route.
func New(ctx context.Context, cfg Config) (*Server, error) {
	log := logrus.WithField("component", "server")

	if cfg.BackendURL == "" {
		cfg.BackendURL = filepath.Join(cfg.DataDir, "parcels")
	}
	b, err := backend.Open(ctx, cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}

	communes := backend.NewCommuneIndex()
	if cfg.CommunesFile != "" {
		communes, err = backend.LoadCommunes(cfg.CommunesFile)
		if err != nil {
			return nil, fmt.Errorf("loading communes: %w", err)
		}
	}

	st, err := store.Open(cfg.StoreDriver, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheus(registry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	s := &Server{
		config:   cfg,
		mux:      http.NewServeMux(),
		log:      log,
		registry: registry,
		backend:  b,
		store:    st,
		communes: communes,
	}

	factory := func(ctx context.Context, mc service.MapConfig, onEvent func(controller.Event)) (*geoacorda.Map, error) {
		options := []geoacorda.Option{
			geoacorda.WithCommunes(communes),
			geoacorda.WithStore(st),
			geoacorda.WithMetrics(recorder),
			geoacorda.WithEventHandler(onEvent),
			geoacorda.WithLogger(logrus.WithField("component", "map")),
		}
		if mc.URL == "" || mc.URL == cfg.BackendURL {
			options = append(options, geoacorda.WithBackend(b))
		}
		return geoacorda.New(ctx, mc, options...)
	}
	s.maps = service.NewMapService(ctx, cfg.DataDir, factory, nil)

	s.humaAPI = s.newAPI()
	s.mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/", s.handleRoot)

	log.WithFields(logrus.Fields{
		"backend":  cfg.BackendURL,
		"store":    cfg.StoreDriver,
		"communes": communes.Len(),
		"maps":     len(s.maps.List()),
	}).Info("Server ready")
	return s, nil
}

func (s *Server) newAPI() huma.API {
	links := humastar.NewLinks("/health")
	api.AddLinks(links)

	humaConfig := huma.DefaultConfig("geoacorda API", api.Version)
	humaConfig.Info.Description = "Parcel map API: show a parcel for editing, save it, show the parcels of a farm and zoom to a commune."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", s.config.Host, s.config.Port), Description: "Local server"},
	}
	// The links transformer needs the handler's own body type, so it runs
	// before the $schema transformer wraps it.
	humaConfig.Transformers = append([]huma.Transformer{links.Transformer()}, humaConfig.Transformers...)

	humaAPI := humago.New(s.mux, humaConfig)

	var sources *service.SourceService
	if fb, ok := s.backend.(*backend.FileBackend); ok {
		sources = service.NewSourceService(fb.Dir())
	}
	huma.AutoRegister(humaAPI, api.NewAPIHandler(&api.Services{
		Maps:     s.maps,
		Sources:  sources,
		Store:    s.store,
		Backend:  s.backend,
		Communes: s.communes,
	}))
	api.NewInfoHandler(s.config.DataDir, s.config.BackendURL, storeName(s.config.StoreDriver), olmap.Codes()).RegisterRoutes(humaAPI)
	editor.NewMapHandler(s.maps).RegisterRoutes(humaAPI)

	links.Build(humaAPI)
	return humaAPI
}

func storeName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Maps returns the map sessions.
func (s *Server) Maps() *service.MapService {
	return s.maps
}

// Communes returns the commune index.
func (s *Server) Communes() *backend.CommuneIndex {
	return s.communes
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", addr).Info("Listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes the maps and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		errs = append(errs, s.http.Shutdown(ctx))
	}
	errs = append(errs, s.Close())
	return errors.Join(errs...)
}

// Close closes server resources.
func (s *Server) Close() error {
	return errors.Join(s.maps.Close(), s.store.Close())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/docs", http.StatusFound)
}
