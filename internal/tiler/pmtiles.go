package tiler

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// PMTiles v3 layout: a fixed header, the root directory, the metadata and
// the tile data, in that order. Directories and metadata are gzipped.
const headerLen = 127

const (
	compressionGzip = 2
	tileTypeMVT     = 1
)

// Archive describes a PMTiles archive.
type Archive struct {
	Name    string
	Layer   string
	MinZoom maptile.Zoom
	MaxZoom maptile.Zoom
	// Bound is the lon/lat extent of the data.
	Bound orb.Bound
}

type header struct {
	rootOffset, rootLength         uint64
	metadataOffset, metadataLength uint64
	dataOffset, dataLength         uint64
	tiles                          uint64
	minZoom, maxZoom               uint8
	bound                          orb.Bound
	centerZoom                     uint8
}

type entry struct {
	id     uint64
	offset uint64
	length uint32
}

// WritePMTiles writes tiles to w as a single-directory PMTiles archive and
// returns the number of bytes written.
func WritePMTiles(w io.Writer, tiles map[maptile.Tile][]byte, a Archive) (int64, error) {
	if len(tiles) == 0 {
		return 0, errors.New("no tiles to write")
	}

	entries := make([]entry, 0, len(tiles))
	data := make(map[uint64][]byte, len(tiles))
	for t, b := range tiles {
		id := tileID(t)
		entries = append(entries, entry{id: id, length: uint32(len(b))})
		data[id] = b
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	var body bytes.Buffer
	for i := range entries {
		entries[i].offset = uint64(body.Len())
		body.Write(data[entries[i].id])
	}

	dir, err := encodeDirectory(entries)
	if err != nil {
		return 0, fmt.Errorf("encoding directory: %w", err)
	}
	meta, err := gzipJSON(map[string]any{
		"name":        a.Name,
		"format":      "pbf",
		"compression": "gzip",
		"minzoom":     a.MinZoom,
		"maxzoom":     a.MaxZoom,
		"vector_layers": []map[string]any{
			{"id": a.Layer, "fields": map[string]string{}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("encoding metadata: %w", err)
	}

	h := header{
		rootOffset:     headerLen,
		rootLength:     uint64(len(dir)),
		metadataOffset: headerLen + uint64(len(dir)),
		metadataLength: uint64(len(meta)),
		dataOffset:     headerLen + uint64(len(dir)) + uint64(len(meta)),
		dataLength:     uint64(body.Len()),
		tiles:          uint64(len(entries)),
		minZoom:        uint8(a.MinZoom),
		maxZoom:        uint8(a.MaxZoom),
		bound:          a.Bound,
		centerZoom:     uint8(a.MinZoom+a.MaxZoom) / 2,
	}

	var n int64
	for _, part := range [][]byte{h.encode(), dir, meta, body.Bytes()} {
		written, err := w.Write(part)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (h header) encode() []byte {
	b := make([]byte, headerLen)
	copy(b, "PMTiles")
	b[7] = 3

	le := binary.LittleEndian
	for i, v := range []uint64{
		h.rootOffset, h.rootLength,
		h.metadataOffset, h.metadataLength,
		0, 0, // no leaf directories
		h.dataOffset, h.dataLength,
		h.tiles, h.tiles, h.tiles,
	} {
		le.PutUint64(b[8+8*i:], v)
	}
	b[96] = 1 // clustered
	b[97] = compressionGzip
	b[98] = compressionGzip
	b[99] = tileTypeMVT
	b[100] = h.minZoom
	b[101] = h.maxZoom

	center := h.bound.Center()
	for i, v := range []float64{h.bound.Min[0], h.bound.Min[1], h.bound.Max[0], h.bound.Max[1]} {
		le.PutUint32(b[102+4*i:], uint32(e7(v)))
	}
	b[118] = h.centerZoom
	le.PutUint32(b[119:], uint32(e7(center[0])))
	le.PutUint32(b[123:], uint32(e7(center[1])))
	return b
}

func e7(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}

// tileID numbers tiles along a Hilbert curve per zoom level, after all the
// tiles of lower zooms.
func tileID(t maptile.Tile) uint64 {
	z := uint(t.Z)
	id := (uint64(1)<<(2*z) - 1) / 3
	x, y := uint32(t.X), uint32(t.Y)
	for s := uint32(1) << z >> 1; s > 0; s >>= 1 {
		var rx, ry uint32
		if x&s != 0 {
			rx = 1
		}
		if y&s != 0 {
			ry = 1
		}
		id += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
	}
	return id
}

// encodeDirectory writes entries column-wise as varints: count, id deltas,
// run lengths, lengths and offsets. Contiguous offsets are stored as 0.
func encodeDirectory(entries []entry) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		zw.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	var last uint64
	for _, e := range entries {
		put(e.id - last)
		last = e.id
	}
	for range entries {
		put(1)
	}
	for _, e := range entries {
		put(uint64(e.length))
	}
	for i, e := range entries {
		if i > 0 && e.offset == entries[i-1].offset+uint64(entries[i-1].length) {
			put(0)
		} else {
			put(e.offset + 1)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
