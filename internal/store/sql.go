package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"

	"github.com/joeblew999/geoacorda/internal/db"
)

// Both sqlite and duckdb accept this DDL and the "?" placeholders below.
const schema = `CREATE TABLE IF NOT EXISTS saved_parcels (
	id        TEXT PRIMARY KEY,
	farm_id   TEXT NOT NULL,
	parcel_id TEXT NOT NULL,
	geometry  TEXT NOT NULL,
	area      DOUBLE NOT NULL,
	area_sau  DOUBLE NOT NULL,
	saved_at  TEXT NOT NULL
)`

// SQL is a Store on top of database/sql. Geometries are stored as GeoJSON
// text.
type SQL struct {
	conn  *sql.DB
	close func() error
}

// OpenSQLite opens (or creates) a sqlite database file.
func OpenSQLite(path string) (*SQL, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	return newSQL(conn, conn.Close)
}

// OpenDuckDB uses the shared DuckDB connection under dataDir.
func OpenDuckDB(dataDir string) (*SQL, error) {
	conn, err := db.Get(db.Config{DataDir: dataDir, DBName: "geoacorda"})
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	return newSQL(conn, db.Close)
}

func newSQL(conn *sql.DB, closeFn func() error) (*SQL, error) {
	if _, err := conn.Exec(schema); err != nil {
		closeFn()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQL{conn: conn, close: closeFn}, nil
}

func (s *SQL) Save(ctx context.Context, p SavedParcel) error {
	geom, err := geojson.NewGeometry(p.Geometry).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding geometry: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO saved_parcels (id, farm_id, parcel_id, geometry, area, area_sau, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FarmID, p.ParcelID, string(geom), p.Area, p.AreaSau, p.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting saved parcel: %w", err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, id string) (SavedParcel, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, farm_id, parcel_id, geometry, area, area_sau, saved_at
		 FROM saved_parcels WHERE id = ?`, id)
	p, err := scanParcel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedParcel{}, ErrNotFound
	}
	return p, err
}

func (s *SQL) List(ctx context.Context, farmID string, offset, limit int) ([]SavedParcel, int, error) {
	offset, limit = clampPage(offset, limit)

	var total int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM saved_parcels WHERE ? = '' OR farm_id = ?`, farmID, farmID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting saved parcels: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, farm_id, parcel_id, geometry, area, area_sau, saved_at
		 FROM saved_parcels WHERE ? = '' OR farm_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`, farmID, farmID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing saved parcels: %w", err)
	}
	defer rows.Close()

	items := []SavedParcel{}
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (s *SQL) Close() error {
	return s.close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParcel(sc scanner) (SavedParcel, error) {
	var (
		p       SavedParcel
		geom    string
		savedAt string
	)
	if err := sc.Scan(&p.ID, &p.FarmID, &p.ParcelID, &geom, &p.Area, &p.AreaSau, &savedAt); err != nil {
		return SavedParcel{}, err
	}
	g, err := geojson.UnmarshalGeometry([]byte(geom))
	if err != nil {
		return SavedParcel{}, fmt.Errorf("decoding geometry of %s: %w", p.ID, err)
	}
	p.Geometry = g.Geometry()
	p.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return SavedParcel{}, fmt.Errorf("decoding saved_at of %s: %w", p.ID, err)
	}
	return p, nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	return nil
}
