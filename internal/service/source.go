package service

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// SourceService lists the GeoJSON resources of a file backend directory.
type SourceService struct {
	sourcesDir string
}

// NewSourceService creates a source service rooted at dir. An empty dir
// lists nothing.
func NewSourceService(dir string) *SourceService {
	return &SourceService{sourcesDir: dir}
}

// List returns all GeoJSON files under the directory, sorted by path.
func (s *SourceService) List() ([]SourceFile, error) {
	files := []SourceFile{}
	if s.sourcesDir == "" {
		return files, nil
	}

	err := filepath.WalkDir(s.sourcesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.sourcesDir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".geojson" && ext != ".json" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.sourcesDir, path)
		if err != nil {
			return err
		}
		files = append(files, SourceFile{
			Name:     filepath.ToSlash(rel),
			Size:     formatSize(info.Size()),
			Features: countFeatures(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

func countFeatures(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		return len(fc.Features)
	}
	if _, err := geojson.UnmarshalFeature(data); err == nil {
		return 1
	}
	return -1
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
