// Package keys defines the string key schema of the tile store.
//
// The key shapes are an on-disk contract shared with the map client's own
// cache lookups; changing them breaks existing stores.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sandahl/tilevault/internal/tilemath"
)

const (
	TilePrefix     = "tile_"
	TileMetaPrefix = "tile_meta_"
	AreaPrefix     = "area_"

	// CompressionSettings is the single process-wide settings record.
	CompressionSettings = "compression_settings"
)

// Tile returns the key holding a tile's image bytes: tile_{z}_{x}_{y}.
func Tile(t tilemath.Tile) string {
	return fmt.Sprintf("%s%d_%d_%d", TilePrefix, t.Z, t.X, t.Y)
}

// TileMeta returns the key of a tile's metadata record: tile_meta_{z}_{x}_{y}.
func TileMeta(t tilemath.Tile) string {
	return fmt.Sprintf("%s%d_%d_%d", TileMetaPrefix, t.Z, t.X, t.Y)
}

// Area returns the key of an area record: area_{id}.
func Area(id string) string {
	return AreaPrefix + id
}

// AreaID extracts the id from an area key.
func AreaID(key string) (string, bool) {
	if !strings.HasPrefix(key, AreaPrefix) {
		return "", false
	}
	return key[len(AreaPrefix):], true
}

// IsTile reports whether key names tile bytes (not metadata).
func IsTile(key string) bool {
	return strings.HasPrefix(key, TilePrefix) && !strings.HasPrefix(key, TileMetaPrefix)
}

// ParseTile recovers the coordinate from a tile_{z}_{x}_{y} key.
func ParseTile(key string) (tilemath.Tile, bool) {
	if !IsTile(key) {
		return tilemath.Tile{}, false
	}
	parts := strings.Split(key[len(TilePrefix):], "_")
	if len(parts) != 3 {
		return tilemath.Tile{}, false
	}
	z, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return tilemath.Tile{}, false
	}
	return tilemath.Tile{Z: z, X: x, Y: y}, true
}
