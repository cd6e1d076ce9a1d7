package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geoacorda/internal/api"
	"github.com/joeblew999/geoacorda/internal/backend"
	"github.com/joeblew999/geoacorda/internal/olmap"
	"github.com/joeblew999/geoacorda/internal/server"
	"github.com/joeblew999/geoacorda/internal/tiler"
)

// Options defines all CLI flags and env vars for the geoacorda server.
// Flags: --host, --port, --data-dir, --backend-url, --store, --communes, --log-level
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_BACKEND_URL, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for map sessions and saved parcels" default:".data"`
	BackendURL string `doc:"Parcel backend: http(s)://, s3://bucket/prefix or a directory (default DATA_DIR/parcels)"`
	Store      string `doc:"Saved parcel store: memory, sqlite or duckdb" default:"sqlite"`
	Communes   string `doc:"YAML commune index"`
	LogLevel   string `doc:"Log level: debug, info, warn or error" default:"info"`
}

func setupLogging(opts *Options) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.WithField("level", opts.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func newServer(opts *Options) (*server.Server, error) {
	setupLogging(opts)
	return server.New(context.Background(), server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		DataDir:      opts.DataDir,
		BackendURL:   opts.BackendURL,
		StoreDriver:  opts.Store,
		CommunesFile: opts.Communes,
	})
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(opts)
			if err != nil {
				logrus.WithError(err).Fatal("Server setup failed")
			}

			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("geoacorda API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := srv.Start(); err != nil {
				logrus.WithError(err).Fatal("Server error")
			}
		})

		hooks.OnStop(func() {
			if srv == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logrus.WithError(err).Error("Shutdown failed")
			}
		})
	})

	cli.Root().Use = "geoacorda"
	cli.Root().Short = "Parcel map server: edit, save and browse farm parcels"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.Store = "memory"
			srv, err := newServer(opts)
			if err != nil {
				fatal("Error creating server", err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// extent subcommand: print the extent of a commune
	extentCmd := &cobra.Command{
		Use:   "extent <commune-id>",
		Short: "Print the extent of a commune in a map projection",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			setupLogging(opts)
			if opts.Communes == "" {
				fatal("Error", fmt.Errorf("--communes is required"))
			}
			idx, err := backend.LoadCommunes(opts.Communes)
			if err != nil {
				fatal("Error loading communes", err)
			}
			code, _ := cmd.Flags().GetString("projection")
			proj, err := olmap.GetProjection(code)
			if err != nil {
				fatal("Error", err)
			}
			ext, found := idx.Extent(args[0])
			if !found {
				fatal("Error", fmt.Errorf("commune %q not found", args[0]))
			}
			ext = olmap.TransformExtent(ext, olmap.MustProjection(olmap.EPSG4326), proj)
			fmt.Printf("%f %f %f %f\n", ext.Min[0], ext.Min[1], ext.Max[0], ext.Max[1])
		}),
	}
	extentCmd.Flags().String("projection", olmap.EPSG21781, "Target projection")
	cli.Root().AddCommand(extentCmd)

	// tiles subcommand: export the parcels of a farm as PMTiles
	tilesCmd := &cobra.Command{
		Use:   "tiles <farm-id>",
		Short: "Export the parcels of a farm as a PMTiles vector tile archive",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			setupLogging(opts)
			ctx := context.Background()
			url := opts.BackendURL
			if url == "" {
				url = filepath.Join(opts.DataDir, "parcels")
			}
			b, err := backend.Open(ctx, url)
			if err != nil {
				fatal("Error opening backend", err)
			}
			token, _ := cmd.Flags().GetString("token")
			role, _ := cmd.Flags().GetString("role")
			fc, err := b.Parcels(ctx, backend.Auth{Token: token, Role: role}, args[0])
			if err != nil {
				fatal("Error loading parcels", err)
			}

			minZoom, _ := cmd.Flags().GetUint32("min-zoom")
			maxZoom, _ := cmd.Flags().GetUint32("max-zoom")
			tiles, err := tiler.Pyramid(fc, maptile.Zoom(minZoom), maptile.Zoom(maxZoom), "parcels")
			if err != nil {
				fatal("Error rendering tiles", err)
			}

			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = args[0] + ".pmtiles"
			}
			f, err := os.Create(out)
			if err != nil {
				fatal("Error creating archive", err)
			}
			n, err := tiler.WritePMTiles(f, tiles, tiler.Archive{
				Name:    args[0],
				Layer:   "parcels",
				MinZoom: maptile.Zoom(minZoom),
				MaxZoom: maptile.Zoom(maxZoom),
				Bound:   tiler.Bound(fc),
			})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				fatal("Error writing archive", err)
			}
			logrus.WithFields(logrus.Fields{
				"file":     out,
				"tiles":    len(tiles),
				"features": len(fc.Features),
				"bytes":    n,
			}).Info("Tiles written")
		}),
	}
	tilesCmd.Flags().StringP("output", "o", "", "Output file (default <farm-id>.pmtiles)")
	tilesCmd.Flags().Uint32("min-zoom", 12, "Lowest zoom level")
	tilesCmd.Flags().Uint32("max-zoom", 18, "Highest zoom level")
	tilesCmd.Flags().String("token", "", "Parcel service token")
	tilesCmd.Flags().String("role", "", "Parcel service role")
	cli.Root().AddCommand(tilesCmd)

	cli.Run()
}
