package tiler

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

func loadParcels(t *testing.T) *geojson.FeatureCollection {
	t.Helper()
	data, err := os.ReadFile("../backend/testdata/parcels.geojson")
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatal(err)
	}
	return fc
}

func TestTileID(t *testing.T) {
	for _, tc := range []struct {
		tile maptile.Tile
		want uint64
	}{
		{maptile.New(0, 0, 0), 0},
		{maptile.New(0, 0, 1), 1},
		{maptile.New(0, 1, 1), 2},
		{maptile.New(1, 1, 1), 3},
		{maptile.New(1, 0, 1), 4},
		{maptile.New(0, 0, 2), 5},
	} {
		if got := tileID(tc.tile); got != tc.want {
			t.Errorf("tileID(%v)=%d, want %d", tc.tile, got, tc.want)
		}
	}
}

func TestRender(t *testing.T) {
	fc := loadParcels(t)
	tile := maptile.At(orb.Point{6.6080, 46.5530}, 16)

	data, err := Render(fc, tile, "parcels")
	if err != nil {
		t.Fatal(err)
	}
	layers, err := mvt.UnmarshalGzipped(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 || layers[0].Name != "parcels" || len(layers[0].Features) == 0 {
		t.Fatalf("layers=%+v", layers)
	}
	if fc.Features[0].Geometry.Bound().Min[0] != 6.6075 {
		t.Fatal("render modified the input geometry")
	}

	far := maptile.At(orb.Point{8.5, 47.3}, 16)
	if data, err := Render(fc, far, "parcels"); err != nil || data != nil {
		t.Fatalf("far tile: %d bytes, err=%v", len(data), err)
	}
	if _, err := Render(fc, maptile.New(0, 0, MaxZoom+1), "parcels"); err == nil {
		t.Fatal("expected zoom error")
	}
}

func TestIntersects(t *testing.T) {
	tb := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	big := orb.Polygon{{{-1, -1}, {2, -1}, {2, 2}, {-1, 2}, {-1, -1}}}
	if !intersects(big, tb) {
		t.Error("polygon containing the tile")
	}
	corner := orb.Polygon{{{1.5, 1.5}, {3, 1.5}, {3, 3}, {1.5, 3}, {1.5, 1.5}}}
	if intersects(corner, tb) {
		t.Error("disjoint polygon")
	}
	if !intersects(orb.Point{0.5, 0.5}, tb) || intersects(orb.Point{2, 2}, tb) {
		t.Error("points")
	}
}

func TestWritePMTiles(t *testing.T) {
	fc := loadParcels(t)
	tiles, err := Pyramid(fc, 12, 15, "parcels")
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) < 4 {
		t.Fatalf("%d tiles, want one per zoom at least", len(tiles))
	}

	var buf bytes.Buffer
	n, err := WritePMTiles(&buf, tiles, Archive{
		Name:    "farm-id-1",
		Layer:   "parcels",
		MinZoom: 12,
		MaxZoom: 15,
		Bound:   Bound(fc),
	})
	if err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if n != int64(len(b)) || string(b[:7]) != "PMTiles" || b[7] != 3 {
		t.Fatalf("header=%q", b[:8])
	}

	le := binary.LittleEndian
	if got := le.Uint64(b[72:]); got != uint64(len(tiles)) {
		t.Fatalf("addressed tiles=%d, want %d", got, len(tiles))
	}
	if b[100] != 12 || b[101] != 15 || b[99] != tileTypeMVT {
		t.Fatalf("zooms=%d-%d type=%d", b[100], b[101], b[99])
	}
	dataOffset, dataLength := le.Uint64(b[56:]), le.Uint64(b[64:])
	if dataOffset+dataLength != uint64(len(b)) {
		t.Fatalf("tile data %d+%d of %d bytes", dataOffset, dataLength, len(b))
	}

	rootOffset, rootLength := le.Uint64(b[8:]), le.Uint64(b[16:])
	zr, err := gzip.NewReader(bytes.NewReader(b[rootOffset : rootOffset+rootLength]))
	if err != nil {
		t.Fatal(err)
	}
	count, err := binary.ReadUvarint(bufio.NewReader(zr))
	if err != nil || count != uint64(len(tiles)) {
		t.Fatalf("directory entries=%d err=%v", count, err)
	}

	if got := int32(le.Uint32(b[102:])); got != 66075000 {
		t.Fatalf("min lon e7=%d", got)
	}

	if _, err := WritePMTiles(&buf, nil, Archive{}); err == nil {
		t.Fatal("expected error without tiles")
	}
}

func TestPyramidZoomRange(t *testing.T) {
	fc := loadParcels(t)
	if _, err := Pyramid(fc, 15, 12, "parcels"); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := Pyramid(fc, 0, MaxZoom+1, "parcels"); err == nil {
		t.Fatal("expected error above max zoom")
	}
}
