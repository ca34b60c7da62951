package area

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sandahl/tilevault/internal/core/model"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
	"github.com/sandahl/tilevault/internal/store/redisstore"
	"github.com/sandahl/tilevault/internal/tilemath"
)

func newManager(t *testing.T) (*Manager, store.Interface) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewManager(rc, nil), rc
}

func storeTiles(t *testing.T, st store.Interface, a model.DownloadedArea) []tilemath.Tile {
	t.Helper()
	tiles, err := a.Tiles()
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	ctx := context.Background()
	for _, tl := range tiles {
		if err := st.Set(ctx, keys.Tile(tl), []byte("img")); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	return tiles
}

func mkArea(id, downloadedAt string, bbox tilemath.BoundingBox, zoom int) model.DownloadedArea {
	return model.DownloadedArea{
		ID:           id,
		Name:         "area " + id,
		BBox:         bbox,
		BaseZoom:     zoom,
		DownloadedAt: downloadedAt,
	}
}

func TestSaveAndGet_NormalizesTimestampAndZooms(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	a := mkArea("a1", "garbage-timestamp", tilemath.BoundingBox{West: 9, South: 48, East: 9.5, North: 48.5}, 8)
	a.AdditionalZoomLevels = 2
	if err := m.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, got.DownloadedAt); err != nil {
		t.Fatalf("timestamp not normalized: %q", got.DownloadedAt)
	}
	if got.MinZoom != 8 || got.MaxZoom != 10 {
		t.Fatalf("zoom range %d..%d want 8..10", got.MinZoom, got.MaxZoom)
	}
}

func TestAll_SortsNewestFirst(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	box := tilemath.BoundingBox{West: 9, South: 48, East: 9.5, North: 48.5}
	for _, c := range []struct{ id, ts string }{
		{"old", "2026-01-01T00:00:00Z"},
		{"newest", "2026-08-01T00:00:00Z"},
		{"mid", "2026-04-01T00:00:00Z"},
	} {
		if err := m.Save(ctx, mkArea(c.id, c.ts, box, 8)); err != nil {
			t.Fatalf("Save %s: %v", c.id, err)
		}
	}

	all, err := m.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d", len(all))
	}
	if all[0].ID != "newest" || all[1].ID != "mid" || all[2].ID != "old" {
		t.Fatalf("order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestDelete_UnknownIDIsNoop(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDelete_KeepsTilesSharedWithSurvivingArea(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()

	// Two overlapping boxes at the same zoom share the tiles of the
	// overlap strip.
	left := mkArea("left", "2026-01-01T00:00:00Z", tilemath.BoundingBox{West: 9.0, South: 48.0, East: 9.6, North: 48.5}, 10)
	right := mkArea("right", "2026-01-02T00:00:00Z", tilemath.BoundingBox{West: 9.4, South: 48.0, East: 10.0, North: 48.5}, 10)
	if err := m.Save(ctx, left); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Save(ctx, right); err != nil {
		t.Fatalf("Save: %v", err)
	}
	leftTiles := storeTiles(t, st, left)
	rightTiles := storeTiles(t, st, right)

	rightSet := make(map[tilemath.Tile]struct{}, len(rightTiles))
	for _, tl := range rightTiles {
		rightSet[tl] = struct{}{}
	}
	var shared, leftOnly []tilemath.Tile
	for _, tl := range leftTiles {
		if _, ok := rightSet[tl]; ok {
			shared = append(shared, tl)
		} else {
			leftOnly = append(leftOnly, tl)
		}
	}
	if len(shared) == 0 {
		t.Fatal("test setup: areas do not overlap")
	}

	if err := m.Delete(ctx, "left"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Shared tiles survive for the right area.
	for _, tl := range shared {
		if _, err := st.Get(ctx, keys.Tile(tl)); err != nil {
			t.Fatalf("shared tile %s was deleted: %v", tl, err)
		}
	}
	// Exclusive tiles are gone.
	for _, tl := range leftOnly {
		if _, err := st.Get(ctx, keys.Tile(tl)); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("exclusive tile %s still present (err=%v)", tl, err)
		}
	}
	// Area record is gone.
	if _, err := m.Get(ctx, "left"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("area record survived: %v", err)
	}
}

func TestOrphans_ReportsUnreferencedTiles(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()

	a := mkArea("a", "2026-01-01T00:00:00Z", tilemath.BoundingBox{West: 9, South: 48, East: 9.3, North: 48.3}, 9)
	if err := m.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	storeTiles(t, st, a)

	// A stray tile no area derives.
	stray := tilemath.Tile{Z: 3, X: 7, Y: 2}
	if err := st.Set(ctx, keys.Tile(stray), []byte("stray")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rep, err := m.Orphans(ctx)
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if rep.Count != 1 || rep.TileKeys[0] != keys.Tile(stray) {
		t.Fatalf("orphans=%+v", rep)
	}
	if rep.EstimatedSizeBytes != int64(len("stray")) {
		t.Fatalf("size=%d", rep.EstimatedSizeBytes)
	}

	got, err := m.DeleteOrphans(ctx)
	if err != nil {
		t.Fatalf("DeleteOrphans: %v", err)
	}
	if got.Count != 1 {
		t.Fatalf("deleted=%+v", got)
	}
	if _, err := st.Get(ctx, keys.Tile(stray)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stray survived: %v", err)
	}
	// Area tiles untouched.
	rep2, err := m.Orphans(ctx)
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if rep2.Count != 0 {
		t.Fatalf("second orphan pass=%+v", rep2)
	}
}

func TestTotalStorageUsed_SumsDeclaredSizes(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	box := tilemath.BoundingBox{West: 9, South: 48, East: 9.5, North: 48.5}
	a := mkArea("a", "2026-01-01T00:00:00Z", box, 8)
	a.SizeBytes = 1000
	b := mkArea("b", "2026-01-02T00:00:00Z", box, 9)
	b.SizeBytes = 2500
	if err := m.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	total, err := m.TotalStorageUsed(ctx)
	if err != nil {
		t.Fatalf("TotalStorageUsed: %v", err)
	}
	if total != 3500 {
		t.Fatalf("total=%d want 3500", total)
	}
}
