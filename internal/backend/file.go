package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// FileBackend serves parcels from GeoJSON files under a directory. It
// stands in for the parcel service during development and demos.
//
// Layout, most specific first:
//
//	farms/<farm>/parcels/<parcel>.geojson   or parcel.geojson
//	farms/<farm>/parcels.geojson            or parcels.geojson
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Dir returns the root directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) Parcel(ctx context.Context, auth Auth, farmID, parcelID string) (*geojson.FeatureCollection, error) {
	if err := validID(farmID, parcelID); err != nil {
		return nil, err
	}
	return b.readFirst(ctx, parcelKeys(farmID, parcelID))
}

func (b *FileBackend) Parcels(ctx context.Context, auth Auth, farmID string) (*geojson.FeatureCollection, error) {
	if err := validID(farmID); err != nil {
		return nil, err
	}
	return b.readFirst(ctx, parcelsKeys(farmID))
}

// SaveParcel writes the parcel under farms/<farm>/saved/<parcel>/<id>.geojson.
func (b *FileBackend) SaveParcel(ctx context.Context, auth Auth, req SaveRequest) error {
	if err := validID(req.FarmID, req.ParcelID, req.ID); err != nil {
		return err
	}
	data, err := saveDocument(req)
	if err != nil {
		return err
	}

	path := filepath.Join(b.dir, filepath.FromSlash(savedKey(req.FarmID, req.ParcelID, req.ID)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing parcel: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"farm_id":   req.FarmID,
		"parcel_id": req.ParcelID,
		"save_id":   req.ID,
	}).Info("Parcel saved to disk")
	return nil
}

func (b *FileBackend) readFirst(ctx context.Context, keys []string) (*geojson.FeatureCollection, error) {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(b.dir, filepath.FromSlash(key)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		return decodeCollection(data)
	}
	return nil, ErrNotFound
}

// validID rejects ids that would escape the backend root.
func validID(ids ...string) error {
	for _, id := range ids {
		if id == "" || strings.Contains(id, "/") || strings.Contains(id, "\\") || strings.Contains(id, "..") {
			return fmt.Errorf("invalid id %q", id)
		}
	}
	return nil
}
