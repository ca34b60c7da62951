package keys

import (
	"testing"

	"github.com/sandahl/tilevault/internal/tilemath"
)

func TestTileKeyShape(t *testing.T) {
	tl := tilemath.Tile{Z: 8, X: 134, Y: 88}
	if got := Tile(tl); got != "tile_8_134_88" {
		t.Fatalf("Tile=%q", got)
	}
	if got := TileMeta(tl); got != "tile_meta_8_134_88" {
		t.Fatalf("TileMeta=%q", got)
	}
	if got := Area("abc-123"); got != "area_abc-123" {
		t.Fatalf("Area=%q", got)
	}
}

func TestParseTile_RoundTrip(t *testing.T) {
	tl := tilemath.Tile{Z: 12, X: 2200, Y: 1343}
	got, ok := ParseTile(Tile(tl))
	if !ok || got != tl {
		t.Fatalf("ParseTile: got %v ok=%v", got, ok)
	}
}

func TestParseTile_RejectsMetaAndGarbage(t *testing.T) {
	for _, key := range []string{
		"tile_meta_8_1_2",
		"area_x",
		"tile_8_1",
		"tile_a_b_c",
		"compression_settings",
	} {
		if _, ok := ParseTile(key); ok {
			t.Fatalf("ParseTile accepted %q", key)
		}
	}
}

func TestIsTile(t *testing.T) {
	if !IsTile("tile_1_0_0") {
		t.Fatal("tile_1_0_0 not recognized")
	}
	if IsTile("tile_meta_1_0_0") {
		t.Fatal("meta key misclassified as tile")
	}
}

func TestAreaID(t *testing.T) {
	id, ok := AreaID("area_9f1c")
	if !ok || id != "9f1c" {
		t.Fatalf("AreaID: %q ok=%v", id, ok)
	}
	if _, ok := AreaID("tile_1_2_3"); ok {
		t.Fatal("AreaID accepted tile key")
	}
}
