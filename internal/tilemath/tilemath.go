// Package tilemath converts geographic extents into XYZ tile coordinates.
package tilemath

import (
	"errors"
	"fmt"
	"math"
)

// Web Mercator latitude limit. The projection is undefined at the poles.
const (
	MaxLatitude = 85.0511
	MinLatitude = -85.0511
)

// AvgTileSizeBytes is the assumed average size of an uncompressed tile,
// used for download size estimates before any bytes are fetched.
const AvgTileSizeBytes = 20480

var ErrInvalidBoundingBox = errors.New("invalid bounding box: west must not exceed east")

// Tile identifies one raster tile in the XYZ quadtree scheme.
// X and Y are in [0, 2^Z).
type Tile struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// BoundingBox is a geographic rectangle in degrees.
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// LonLatToTile maps a geographic point to the tile containing it.
// Longitude is wrapped into [-180, 180), latitude clamped to the Web
// Mercator range. The result is always in range for the zoom level.
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	for lon < -180 {
		lon += 360
	}
	for lon >= 180 {
		lon -= 360
	}
	if lat > MaxLatitude {
		lat = MaxLatitude
	}
	if lat < MinLatitude {
		lat = MinLatitude
	}

	n := math.Pow(2, float64(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	}
	if y > maxTile {
		y = maxTile
	}
	return x, y
}

// TilesInExtent returns every tile intersecting the box at the given zoom,
// ascending by x then y. The box must not cross the date line; callers
// split such boxes before calling. A point box yields exactly one tile.
func TilesInExtent(bbox BoundingBox, zoom int) ([]Tile, error) {
	if bbox.West > bbox.East {
		return nil, fmt.Errorf("%w: west=%f east=%f", ErrInvalidBoundingBox, bbox.West, bbox.East)
	}

	minX, minY := LonLatToTile(bbox.West, bbox.North, zoom)
	maxX, maxY := LonLatToTile(bbox.East, bbox.South, zoom)

	tiles := make([]Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, Tile{Z: zoom, X: x, Y: y})
		}
	}
	return tiles, nil
}

// DownloadList unions TilesInExtent over [baseZoom, baseZoom+additionalLevels]
// and deduplicates by (z, x, y).
func DownloadList(bbox BoundingBox, baseZoom, additionalLevels int) ([]Tile, error) {
	seen := make(map[Tile]struct{})
	var out []Tile
	for z := baseZoom; z <= baseZoom+additionalLevels; z++ {
		tiles, err := TilesInExtent(bbox, z)
		if err != nil {
			return nil, err
		}
		for _, t := range tiles {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

// EstimateDownloadSize returns the estimated byte size for a tile list.
func EstimateDownloadSize(tiles []Tile) int64 {
	return int64(len(tiles)) * AvgTileSizeBytes
}
