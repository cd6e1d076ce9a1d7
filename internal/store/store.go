// Package store keeps the parcels saved through the map controller so they
// can be listed afterwards, independently of the parcel backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("store: saved parcel not found")

// SavedParcel is one successful save. Geometry is in EPSG:4326.
type SavedParcel struct {
	ID       string
	FarmID   string
	ParcelID string
	Geometry orb.Geometry
	Area     float64
	AreaSau  float64
	SavedAt  time.Time
}

// Store persists saved parcels.
type Store interface {
	Save(ctx context.Context, p SavedParcel) error
	Get(ctx context.Context, id string) (SavedParcel, error)
	// List returns saved parcels newest first. An empty farmID lists every
	// farm. total counts all matches, ignoring offset and limit.
	List(ctx context.Context, farmID string, offset, limit int) (items []SavedParcel, total int, err error)
	Close() error
}

// Open creates a store by driver name: "memory", "sqlite" or "duckdb".
// File-backed drivers keep their database under dataDir.
func Open(driver, dataDir string) (Store, error) {
	log := logrus.WithFields(logrus.Fields{"driver": driver, "data_dir": dataDir})

	var (
		s   Store
		err error
	)
	switch driver {
	case "", "memory":
		s = NewMemory()
	case "sqlite":
		s, err = OpenSQLite(filepath.Join(dataDir, "saved.sqlite"))
	case "duckdb":
		s, err = OpenDuckDB(dataDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		log.WithError(err).Error("Failed to open parcel store")
		return nil, err
	}

	log.Info("Use parcel store")
	return s, nil
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	return offset, limit
}
