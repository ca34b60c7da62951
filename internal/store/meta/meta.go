// Package meta reads and writes the per-tile side records stored under
// tile_meta_{z}_{x}_{y}.
package meta

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
	"github.com/sandahl/tilevault/internal/tilemath"
)

// Record describes one stored tile. Compression fields are zero when the
// tile was stored exactly as fetched.
type Record struct {
	TileKey        string           `json:"tileKey"`
	StoredAt       string           `json:"storedAt"`
	Format         compress.Format  `json:"format,omitempty"`
	Profile        compress.Profile `json:"profile,omitempty"`
	OriginalSize   int              `json:"originalSize,omitempty"`
	CompressedSize int              `json:"compressedSize,omitempty"`
	Ratio          float64          `json:"compressionRatio,omitempty"`
	CompressedAt   string           `json:"compressedAt,omitempty"`
}

func Save(ctx context.Context, st store.Interface, t tilemath.Tile, r Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode tile metadata %s: %w", t, err)
	}
	if err := st.Set(ctx, keys.TileMeta(t), raw); err != nil {
		return fmt.Errorf("save tile metadata %s: %w", t, err)
	}
	return nil
}

func Load(ctx context.Context, st store.Interface, t tilemath.Tile) (Record, error) {
	raw, err := st.Get(ctx, keys.TileMeta(t))
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("decode tile metadata %s: %w", t, err)
	}
	return r, nil
}
