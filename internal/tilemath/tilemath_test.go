package tilemath

import (
	"errors"
	"testing"
)

func TestLonLatToTile_WrapsLongitude(t *testing.T) {
	x1, y1 := LonLatToTile(10, 0, 5)
	x2, y2 := LonLatToTile(370, 0, 5)
	if x1 != x2 || y1 != y2 {
		t.Fatalf("wraparound mismatch: (%d,%d) vs (%d,%d)", x1, y1, x2, y2)
	}
	x3, y3 := LonLatToTile(10-720, 0, 5)
	if x1 != x3 || y1 != y3 {
		t.Fatalf("multi-wrap mismatch: (%d,%d) vs (%d,%d)", x1, y1, x3, y3)
	}
}

func TestLonLatToTile_ClampsPoles(t *testing.T) {
	for _, lat := range []float64{90, 89.9, -90, -89.9} {
		x, y := LonLatToTile(0, lat, 3)
		if x < 0 || x > 7 || y < 0 || y > 7 {
			t.Fatalf("lat=%f out of range tile (%d,%d)", lat, x, y)
		}
	}
}

func TestLonLatToTile_KnownValues(t *testing.T) {
	// Zoom 0 is a single world tile.
	if x, y := LonLatToTile(9.18, 48.78, 0); x != 0 || y != 0 {
		t.Fatalf("zoom 0: got (%d,%d)", x, y)
	}
	// Stuttgart at zoom 8 lands on 134/88 (standard slippy-map value).
	if x, y := LonLatToTile(9.18, 48.78, 8); x != 134 || y != 88 {
		t.Fatalf("zoom 8: got (%d,%d) want (134,88)", x, y)
	}
}

func TestTilesInExtent_RejectsInvertedBox(t *testing.T) {
	_, err := TilesInExtent(BoundingBox{West: 10, East: 5, South: 0, North: 1}, 4)
	if !errors.Is(err, ErrInvalidBoundingBox) {
		t.Fatalf("want ErrInvalidBoundingBox, got %v", err)
	}
}

func TestTilesInExtent_PointBoxYieldsOneTile(t *testing.T) {
	tiles, err := TilesInExtent(BoundingBox{West: 9.18, East: 9.18, South: 48.78, North: 48.78}, 12)
	if err != nil {
		t.Fatalf("TilesInExtent: %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("point box: got %d tiles, want 1", len(tiles))
	}
}

func TestTilesInExtent_CoversEveryInteriorPoint(t *testing.T) {
	bbox := BoundingBox{West: 9.0, South: 48.5, East: 9.5, North: 49.0}
	const zoom = 10

	tiles, err := TilesInExtent(bbox, zoom)
	if err != nil {
		t.Fatalf("TilesInExtent: %v", err)
	}
	set := make(map[Tile]struct{}, len(tiles))
	for _, tl := range tiles {
		set[tl] = struct{}{}
	}

	// Sample a grid of interior points; each must map to a listed tile.
	const steps = 8
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			lon := bbox.West + (bbox.East-bbox.West)*float64(i)/steps
			lat := bbox.South + (bbox.North-bbox.South)*float64(j)/steps
			x, y := LonLatToTile(lon, lat, zoom)
			if _, ok := set[Tile{Z: zoom, X: x, Y: y}]; !ok {
				t.Fatalf("point (%f,%f) maps to %d/%d not in extent", lon, lat, x, y)
			}
		}
	}
}

func TestDownloadList_NoDuplicates(t *testing.T) {
	bbox := BoundingBox{West: 9.0, South: 48.5, East: 9.5, North: 49.0}
	tiles, err := DownloadList(bbox, 8, 3)
	if err != nil {
		t.Fatalf("DownloadList: %v", err)
	}
	seen := make(map[Tile]struct{}, len(tiles))
	for _, tl := range tiles {
		if _, dup := seen[tl]; dup {
			t.Fatalf("duplicate tile %v", tl)
		}
		seen[tl] = struct{}{}
	}
}

func TestDownloadList_QuadtreeGrowth(t *testing.T) {
	// A reasonably large box so rounding noise stays small.
	bbox := BoundingBox{West: 5.0, South: 45.0, East: 15.0, North: 52.0}

	prev, err := TilesInExtent(bbox, 8)
	if err != nil {
		t.Fatalf("TilesInExtent: %v", err)
	}
	next, err := TilesInExtent(bbox, 9)
	if err != nil {
		t.Fatalf("TilesInExtent: %v", err)
	}

	ratio := float64(len(next)) / float64(len(prev))
	if ratio < 3.0 || ratio > 5.0 {
		t.Fatalf("zoom growth ratio %f outside [3,5] (prev=%d next=%d)", ratio, len(prev), len(next))
	}
}

func TestEstimateDownloadSize_Linear(t *testing.T) {
	tiles := make([]Tile, 37)
	if got := EstimateDownloadSize(tiles); got != 37*AvgTileSizeBytes {
		t.Fatalf("estimate=%d want %d", got, 37*AvgTileSizeBytes)
	}
	if got := EstimateDownloadSize(nil); got != 0 {
		t.Fatalf("estimate for empty list=%d want 0", got)
	}
}
