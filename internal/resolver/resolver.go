// Package resolver serves single tiles on the read path: memory cache,
// then store, then network with a write-back, then a placeholder. The
// lookup order is a contract the map widget depends on.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/core/observability"
	"github.com/sandahl/tilevault/internal/download"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
	"github.com/sandahl/tilevault/internal/store/meta"
	"github.com/sandahl/tilevault/internal/tilemath"
)

// Source tells where a resolved tile came from.
type Source string

const (
	SourceMemory      Source = "memory"
	SourceStore       Source = "store"
	SourceNetwork     Source = "network"
	SourcePlaceholder Source = "placeholder"
)

// Result is one resolved tile. ETag is a content hash; the placeholder
// carries no ETag so clients never cache it as the real tile.
type Result struct {
	Data   []byte
	ETag   string
	Source Source
}

type Config struct {
	TileURLTemplate string
	// MemCacheSize is the number of hot tiles held in front of the store.
	MemCacheSize       int
	CompressionEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MemCacheSize <= 0 {
		c.MemCacheSize = 256
	}
	return c
}

type Resolver struct {
	store      store.Interface
	downloader *download.Downloader
	engine     *compress.Engine
	logger     *slog.Logger
	cfg        Config
	mem        *lru.Cache[string, []byte]
}

func New(st store.Interface, d *download.Downloader, engine *compress.Engine, logger *slog.Logger, cfg Config) (*Resolver, error) {
	cfg = cfg.withDefaults()
	mem, err := lru.New[string, []byte](cfg.MemCacheSize)
	if err != nil {
		return nil, fmt.Errorf("resolver cache: %w", err)
	}
	return &Resolver{
		store:      st,
		downloader: d,
		engine:     engine,
		logger:     logger,
		cfg:        cfg,
		mem:        mem,
	}, nil
}

// Resolve returns displayable bytes for a tile. Order is fixed: cached
// copy, stored copy, network fetch with write-back, placeholder.
func (r *Resolver) Resolve(ctx context.Context, t tilemath.Tile) Result {
	key := keys.Tile(t)

	if data, ok := r.mem.Get(key); ok {
		observability.IncTileCacheHit()
		return Result{Data: data, ETag: etag(data), Source: SourceMemory}
	}

	if data, err := r.store.Get(ctx, key); err == nil {
		observability.IncTileCacheHit()
		r.mem.Add(key, data)
		return Result{Data: data, ETag: etag(data), Source: SourceStore}
	}

	observability.IncTileCacheMiss()
	data, err := r.downloader.FetchTile(ctx, t, r.cfg.TileURLTemplate)
	if err != nil {
		observability.IncTileCachePlaceholder()
		if r.logger != nil {
			r.logger.Debug("serving placeholder", "tile", t.String(), "err", err)
		}
		return Result{Data: placeholder(), Source: SourcePlaceholder}
	}

	data = r.writeBack(ctx, t, data)
	r.mem.Add(key, data)
	return Result{Data: data, ETag: etag(data), Source: SourceNetwork}
}

// writeBack stores a network-fetched tile so later lookups hit the cache.
// Failures only cost the caching, never the response.
func (r *Resolver) writeBack(ctx context.Context, t tilemath.Tile, data []byte) []byte {
	md := meta.Record{
		TileKey:  keys.Tile(t),
		StoredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if r.cfg.CompressionEnabled && r.engine != nil {
		// Panned-to tiles always get the high profile; the settings
		// record pins it.
		if ct, err := r.engine.CompressAuto(data, compress.ProfileHigh); err == nil {
			data = ct.Data
			md.Format = ct.Format
			md.Profile = ct.Profile
			md.OriginalSize = ct.OriginalSize
			md.CompressedSize = ct.CompressedSize
			md.Ratio = ct.Ratio
			md.CompressedAt = md.StoredAt
		}
	}
	if err := r.store.Set(ctx, keys.Tile(t), data); err != nil {
		if r.logger != nil {
			r.logger.Warn("tile write-back failed", "tile", t.String(), "err", err)
		}
		return data
	}
	if err := meta.Save(ctx, r.store, t, md); err != nil && r.logger != nil {
		r.logger.Warn("tile metadata write failed", "tile", t.String(), "err", err)
	}
	return data
}

// Purge drops the in-memory layer. Called after tiles are deleted so the
// cache never outlives the store's truth.
func (r *Resolver) Purge() {
	r.mem.Purge()
}

func etag(data []byte) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", xxhash.Sum64(data)))
}

var (
	placeholderOnce sync.Once
	placeholderPNG  []byte
)

// placeholder is a 1x1 transparent PNG.
func placeholder() []byte {
	placeholderOnce.Do(func() {
		var buf bytes.Buffer
		img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		if err := png.Encode(&buf, img); err != nil {
			panic(err)
		}
		placeholderPNG = buf.Bytes()
	})
	return placeholderPNG
}
