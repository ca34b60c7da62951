// Package model defines the persisted domain records shared across the
// service.
package model

import (
	"time"

	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/tilemath"
)

// TimestampLayout is RFC 3339 UTC. ISO-8601 strings in this layout sort
// chronologically as plain strings; area listing relies on that.
const TimestampLayout = time.RFC3339

// DownloadedArea is the persistent record of one completed bulk download.
// The bbox/zoom pair is the derivation key: which tiles belong to the area
// is recomputed from it, never stored.
type DownloadedArea struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	BBox                 tilemath.BoundingBox `json:"bbox"`
	BaseZoom             int                  `json:"baseZoom"`
	AdditionalZoomLevels int                  `json:"additionalZoomLevels"`
	MinZoom              int                  `json:"minZoom"`
	MaxZoom              int                  `json:"maxZoom"`
	TileCount            int                  `json:"tileCount"`
	SizeBytes            int64                `json:"sizeBytes"`
	DownloadedAt         string               `json:"downloadedAt"`
	TileURLTemplate      string               `json:"tileUrlTemplate"`
	Compression          *CompressionInfo     `json:"compression,omitempty"`
}

// Tiles recomputes the area's full tile list from its derivation key.
func (a *DownloadedArea) Tiles() ([]tilemath.Tile, error) {
	return tilemath.DownloadList(a.BBox, a.BaseZoom, a.AdditionalZoomLevels)
}

// CompressionInfo summarizes the compression outcome of an area download.
type CompressionInfo struct {
	Enabled        bool             `json:"enabled"`
	Profile        compress.Profile `json:"profile,omitempty"`
	OriginalSize   int64            `json:"originalSize,omitempty"`
	CompressedSize int64            `json:"compressedSize,omitempty"`
	Ratio          float64          `json:"ratio,omitempty"`
}

// StorageQuota is an on-demand snapshot of store usage.
type StorageQuota struct {
	Usage       int64   `json:"usage"`
	Quota       int64   `json:"quota"`
	Available   int64   `json:"available"`
	PercentUsed float64 `json:"percentUsed"`
	IsPersisted bool    `json:"isPersisted"`
}

// Supported reports whether the platform exposed usable quota numbers.
func (q StorageQuota) Supported() bool { return q.Quota > 0 }
