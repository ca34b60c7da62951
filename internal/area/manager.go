// Package area manages downloaded-area records and the lifecycle of the
// tiles they imply. Tile membership is always recomputed from an area's
// bbox and zoom range; no tile-to-area index is stored.
package area

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sandahl/tilevault/internal/core/model"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
	"github.com/sandahl/tilevault/internal/tilemath"
)

// ErrNotFound is returned by Get for an unknown area id.
var ErrNotFound = errors.New("area: not found")

type Manager struct {
	store  store.Interface
	logger *slog.Logger
}

func NewManager(st store.Interface, logger *slog.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

// Save upserts an area record by id. The timestamp is normalized to RFC
// 3339 UTC so the listing order contract holds under plain string compare.
func (m *Manager) Save(ctx context.Context, a model.DownloadedArea) error {
	if a.ID == "" {
		return errors.New("area: missing id")
	}
	if ts, err := time.Parse(time.RFC3339, a.DownloadedAt); err != nil {
		a.DownloadedAt = time.Now().UTC().Format(time.RFC3339)
	} else {
		a.DownloadedAt = ts.UTC().Format(time.RFC3339)
	}
	a.MinZoom = a.BaseZoom
	a.MaxZoom = a.BaseZoom + a.AdditionalZoomLevels

	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode area %s: %w", a.ID, err)
	}
	if err := m.store.Set(ctx, keys.Area(a.ID), raw); err != nil {
		return fmt.Errorf("save area %s: %w", a.ID, err)
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (model.DownloadedArea, error) {
	raw, err := m.store.Get(ctx, keys.Area(id))
	if errors.Is(err, store.ErrNotFound) {
		return model.DownloadedArea{}, ErrNotFound
	}
	if err != nil {
		return model.DownloadedArea{}, fmt.Errorf("load area %s: %w", id, err)
	}
	var a model.DownloadedArea
	if err := json.Unmarshal(raw, &a); err != nil {
		return model.DownloadedArea{}, fmt.Errorf("decode area %s: %w", id, err)
	}
	return a, nil
}

// All returns every area record, newest download first.
func (m *Manager) All(ctx context.Context) ([]model.DownloadedArea, error) {
	ks, err := m.store.Keys(ctx, keys.AreaPrefix)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	if len(ks) == 0 {
		return nil, nil
	}

	vals, err := m.store.MGet(ctx, ks)
	if err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}

	out := make([]model.DownloadedArea, 0, len(vals))
	for k, raw := range vals {
		var a model.DownloadedArea
		if err := json.Unmarshal(raw, &a); err != nil {
			if m.logger != nil {
				m.logger.Warn("skipping undecodable area record", "key", k, "err", err)
			}
			continue
		}
		out = append(out, a)
	}
	// RFC 3339 UTC sorts chronologically as strings.
	sort.Slice(out, func(i, j int) bool { return out[i].DownloadedAt > out[j].DownloadedAt })
	return out, nil
}

// Delete removes an area and every tile it implies that no surviving area
// still needs. Tiles are shared across overlapping areas by construction
// (coordinate-derived keys), so the naive per-area delete would break
// neighbors. Unknown id is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, err := m.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	tiles, err := a.Tiles()
	if err != nil {
		return fmt.Errorf("recompute tiles for area %s: %w", id, err)
	}

	keep, err := m.referencedTiles(ctx, id)
	if err != nil {
		return err
	}

	var doomed []string
	for _, t := range tiles {
		if _, shared := keep[t]; shared {
			continue
		}
		doomed = append(doomed, keys.Tile(t), keys.TileMeta(t))
	}
	if len(doomed) > 0 {
		if err := m.store.Del(ctx, doomed...); err != nil {
			return fmt.Errorf("delete tiles of area %s: %w", id, err)
		}
	}

	if err := m.store.Del(ctx, keys.Area(id)); err != nil {
		return fmt.Errorf("delete area record %s: %w", id, err)
	}
	if m.logger != nil {
		m.logger.Info("area deleted",
			"area_id", id,
			"tiles_removed", len(doomed)/2,
			"tiles_shared", len(tiles)-len(doomed)/2)
	}
	return nil
}

// referencedTiles unions the recomputed tile sets of every area except the
// excluded one. Cost is proportional to areas x tiles; acceptable for the
// handful of areas a device holds.
func (m *Manager) referencedTiles(ctx context.Context, excludeID string) (map[tilemath.Tile]struct{}, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	keep := make(map[tilemath.Tile]struct{})
	for _, other := range all {
		if other.ID == excludeID {
			continue
		}
		tiles, err := other.Tiles()
		if err != nil {
			return nil, fmt.Errorf("recompute tiles for area %s: %w", other.ID, err)
		}
		for _, t := range tiles {
			keep[t] = struct{}{}
		}
	}
	return keep, nil
}

// Report summarizes a set of stored tiles.
type Report struct {
	Count              int      `json:"count"`
	EstimatedSizeBytes int64    `json:"estimatedSizeBytes"`
	TileKeys           []string `json:"tileKeys"`
}

// CachedTiles reports every tile currently in the store.
func (m *Manager) CachedTiles(ctx context.Context) (Report, error) {
	tileKeys, err := m.tileKeys(ctx)
	if err != nil {
		return Report{}, err
	}
	return m.report(ctx, tileKeys)
}

// Orphans reports tiles present in the store but derivable from no area:
// leftovers of interrupted downloads, read-through caching of panned-to
// tiles, or pre-fix deletions.
func (m *Manager) Orphans(ctx context.Context) (Report, error) {
	orphans, err := m.orphanKeys(ctx)
	if err != nil {
		return Report{}, err
	}
	return m.report(ctx, orphans)
}

// DeleteOrphans removes exactly the orphan set (tiles and their side
// records) and returns what was removed.
func (m *Manager) DeleteOrphans(ctx context.Context) (Report, error) {
	orphans, err := m.orphanKeys(ctx)
	if err != nil {
		return Report{}, err
	}
	rep, err := m.report(ctx, orphans)
	if err != nil {
		return Report{}, err
	}

	var doomed []string
	for _, k := range orphans {
		doomed = append(doomed, k)
		if t, ok := keys.ParseTile(k); ok {
			doomed = append(doomed, keys.TileMeta(t))
		}
	}
	if len(doomed) > 0 {
		if err := m.store.Del(ctx, doomed...); err != nil {
			return Report{}, fmt.Errorf("delete orphans: %w", err)
		}
	}
	if m.logger != nil {
		m.logger.Info("orphaned tiles removed", "count", rep.Count, "bytes", rep.EstimatedSizeBytes)
	}
	return rep, nil
}

// TotalStorageUsed sums the declared size of all areas. It is the size at
// download time, not a live measurement; it drifts as settings change or
// orphans accumulate.
func (m *Manager) TotalStorageUsed(ctx context.Context) (int64, error) {
	all, err := m.All(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, a := range all {
		total += a.SizeBytes
	}
	return total, nil
}

func (m *Manager) tileKeys(ctx context.Context) ([]string, error) {
	ks, err := m.store.Keys(ctx, keys.TilePrefix)
	if err != nil {
		return nil, fmt.Errorf("scan tiles: %w", err)
	}
	out := ks[:0]
	for _, k := range ks {
		if keys.IsTile(k) { // the meta prefix shares tile_
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Manager) orphanKeys(ctx context.Context) ([]string, error) {
	stored, err := m.tileKeys(ctx)
	if err != nil {
		return nil, err
	}
	keep, err := m.referencedTiles(ctx, "")
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, k := range stored {
		t, ok := keys.ParseTile(k)
		if !ok {
			continue
		}
		if _, referenced := keep[t]; !referenced {
			orphans = append(orphans, k)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (m *Manager) report(ctx context.Context, tileKeys []string) (Report, error) {
	size, err := m.store.SizeOf(ctx, tileKeys)
	if err != nil {
		return Report{}, fmt.Errorf("measure tiles: %w", err)
	}
	return Report{Count: len(tileKeys), EstimatedSizeBytes: size, TileKeys: tileKeys}, nil
}
