// Package orchestrator drives a bulk area download end to end: quota
// admission, persistence grant, the tile batch, live progress, and the
// final area record. One download runs at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/sandahl/tilevault/internal/area"
	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/core/model"
	"github.com/sandahl/tilevault/internal/core/observability"
	"github.com/sandahl/tilevault/internal/download"
	"github.com/sandahl/tilevault/internal/quota"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/tilemath"
)

var (
	// ErrDownloadInProgress rejects a second download while one is running.
	ErrDownloadInProgress = errors.New("orchestrator: a download is already in progress")

	// ErrDownloadCancelled marks a run stopped by a cancel request. The
	// tiles already written stay in the store as orphans; no area record
	// is persisted.
	ErrDownloadCancelled = errors.New("orchestrator: download cancelled")

	// ErrAllTilesFailed marks a run in which not a single tile could be
	// fetched. Partial batches still complete; total failure does not.
	ErrAllTilesFailed = errors.New("orchestrator: no tiles could be downloaded")
)

// InsufficientStorageError is the admission-gate failure: the estimated
// download does not fit in the available storage budget.
type InsufficientStorageError struct {
	Required  int64
	Available int64
}

func (e *InsufficientStorageError) Error() string {
	return fmt.Sprintf("insufficient storage: download needs %s but only %s is available",
		humanize.IBytes(uint64(e.Required)), humanize.IBytes(uint64(e.Available)))
}

// State of the download lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Progress is an immutable snapshot of the current (or most recent) run.
type Progress struct {
	AreaID     string `json:"areaId"`
	State      State  `json:"state"`
	Total      int    `json:"total"`
	Downloaded int    `json:"downloaded"`
	Failed     int    `json:"failed"`
	Percentage int    `json:"percentage"`
	// BytesDownloaded is the downloaded-count estimate the progress bar
	// runs on (count x assumed tile size), not the measured byte total.
	BytesDownloaded               int64   `json:"bytesDownloaded"`
	EstimatedTimeRemainingSeconds float64 `json:"estimatedTimeRemainingSeconds,omitempty"`
	StartTime                     string  `json:"startTime"`
	IsComplete                    bool    `json:"isComplete"`
	IsCancelled                   bool    `json:"isCancelled"`
}

// Request describes one area download.
type Request struct {
	Name                 string               `json:"name"`
	BBox                 tilemath.BoundingBox `json:"bbox"`
	BaseZoom             int                  `json:"baseZoom"`
	AdditionalZoomLevels int                  `json:"additionalZoomLevels"`
}

type Config struct {
	TileURLTemplate    string
	CompressionEnabled bool
}

type Orchestrator struct {
	downloader *download.Downloader
	areas      *area.Manager
	quota      *quota.Monitor
	store      store.Interface
	logger     *slog.Logger
	cfg        Config

	mu        sync.Mutex
	running   bool
	cancelled bool
	current   *Progress
}

func New(d *download.Downloader, areas *area.Manager, q *quota.Monitor, st store.Interface, logger *slog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		downloader: d,
		areas:      areas,
		quota:      q,
		store:      st,
		logger:     logger,
		cfg:        cfg,
	}
}

// DownloadArea runs a download to completion. onProgress (optional) fires
// with a fresh snapshot after every tile settles. On success the persisted
// area record is returned.
func (o *Orchestrator) DownloadArea(ctx context.Context, req Request, onProgress func(Progress)) (model.DownloadedArea, error) {
	if err := o.begin(); err != nil {
		return model.DownloadedArea{}, err
	}
	tiles, estimated, err := o.validate(ctx, req)
	if err != nil {
		o.end()
		return model.DownloadedArea{}, err
	}
	defer o.end()
	return o.run(ctx, req, uuid.NewString(), tiles, estimated, onProgress)
}

// Start validates synchronously, then runs the download in the background.
// Admission failures (invalid bbox, insufficient storage, single-flight)
// surface immediately; the returned area id identifies the run for
// Snapshot and Cancel.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	if err := o.begin(); err != nil {
		return "", err
	}
	tiles, estimated, err := o.validate(ctx, req)
	if err != nil {
		o.end()
		return "", err
	}

	areaID := uuid.NewString()
	bg := context.WithoutCancel(ctx)
	go func() {
		defer o.end()
		if _, err := o.run(bg, req, areaID, tiles, estimated, nil); err != nil {
			if o.logger != nil && !errors.Is(err, ErrDownloadCancelled) {
				o.logger.Error("background download failed", "area_id", areaID, "err", err)
			}
		}
	}()
	return areaID, nil
}

// Cancel requests a cooperative stop of the running download. Reports
// whether a download was running. In-flight tile fetches finish and are
// stored; no new tile starts afterwards.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return false
	}
	o.cancelled = true
	return true
}

// Snapshot returns the progress of the current or most recent run.
func (o *Orchestrator) Snapshot() (Progress, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Progress{State: StateIdle}, false
	}
	return *o.current, true
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrDownloadInProgress
	}
	o.running = true
	o.cancelled = false
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// validate computes the tile list and checks the storage admission gate.
// Nothing is fetched and no progress is published when it fails.
func (o *Orchestrator) validate(ctx context.Context, req Request) ([]tilemath.Tile, int64, error) {
	tiles, err := tilemath.DownloadList(req.BBox, req.BaseZoom, req.AdditionalZoomLevels)
	if err != nil {
		return nil, 0, err
	}
	estimated := tilemath.EstimateDownloadSize(tiles)

	q := o.quota.Snapshot(ctx)
	if q.Supported() && q.Available < estimated {
		return nil, 0, &InsufficientStorageError{Required: estimated, Available: q.Available}
	}
	return tiles, estimated, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, areaID string, tiles []tilemath.Tile, estimated int64, onProgress func(Progress)) (model.DownloadedArea, error) {
	existing, err := o.areas.All(ctx)
	if err != nil {
		return model.DownloadedArea{}, fmt.Errorf("list areas: %w", err)
	}
	if len(existing) == 0 {
		// First ever download: ask for durable persistence. A denial is
		// logged inside the monitor and does not block the download.
		o.quota.RequestPersistence(ctx)
	}

	opts := download.Options{
		Cancelled: o.isCancelled,
	}
	if o.cfg.CompressionEnabled {
		settings, err := compress.LoadSettings(ctx, o.store)
		if err != nil {
			return model.DownloadedArea{}, fmt.Errorf("load compression settings: %w", err)
		}
		opts.Compress = true
		opts.Profile = settings.DefaultProfile
	}

	start := time.Now()
	o.publish(Progress{
		AreaID:    areaID,
		State:     StateDownloading,
		Total:     len(tiles),
		StartTime: start.UTC().Format(model.TimestampLayout),
	}, onProgress)

	observability.SetDownloadInFlight(true)
	defer observability.SetDownloadInFlight(false)

	if o.logger != nil {
		o.logger.Info("area download started",
			"area_id", areaID,
			"name", req.Name,
			"tiles", len(tiles),
			"estimated_bytes", estimated,
			"compress", opts.Compress)
	}

	result := o.downloader.DownloadTiles(ctx, tiles, o.cfg.TileURLTemplate, opts, func(p download.Progress) {
		o.publishBatch(areaID, p, start, onProgress)
	})

	if o.isCancelled() {
		o.finish(StateCancelled, onProgress)
		if o.logger != nil {
			o.logger.Info("area download cancelled",
				"area_id", areaID,
				"downloaded", result.Downloaded,
				"of", result.Total)
		}
		return model.DownloadedArea{}, ErrDownloadCancelled
	}
	if result.Downloaded == 0 && result.Total > 0 {
		o.finish(StateFailed, onProgress)
		return model.DownloadedArea{}, fmt.Errorf("%w: %d tiles failed", ErrAllTilesFailed, result.Failed)
	}

	a := model.DownloadedArea{
		ID:                   areaID,
		Name:                 req.Name,
		BBox:                 req.BBox,
		BaseZoom:             req.BaseZoom,
		AdditionalZoomLevels: req.AdditionalZoomLevels,
		TileCount:            len(tiles),
		SizeBytes:            estimated,
		DownloadedAt:         time.Now().UTC().Format(model.TimestampLayout),
		TileURLTemplate:      o.cfg.TileURLTemplate,
	}
	if opts.Compress {
		a.Compression = &model.CompressionInfo{Enabled: true, Profile: opts.Profile}
	}
	if err := o.areas.Save(ctx, a); err != nil {
		o.finish(StateFailed, onProgress)
		return model.DownloadedArea{}, fmt.Errorf("persist area %s: %w", areaID, err)
	}

	o.finish(StateCompleted, onProgress)
	if o.logger != nil {
		o.logger.Info("area download completed",
			"area_id", areaID,
			"downloaded", result.Downloaded,
			"failed", result.Failed,
			"bytes", result.BytesDownloaded)
	}
	return a, nil
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// publishBatch maps raw batch counters onto the user-facing snapshot:
// percentage over settled tiles, the count-based byte estimate, and an
// ETA once at least one tile has landed.
func (o *Orchestrator) publishBatch(areaID string, p download.Progress, start time.Time, onProgress func(Progress)) {
	settled := p.Downloaded + p.Failed
	snap := Progress{
		AreaID:          areaID,
		State:           StateDownloading,
		Total:           p.Total,
		Downloaded:      p.Downloaded,
		Failed:          p.Failed,
		BytesDownloaded: int64(p.Downloaded) * tilemath.AvgTileSizeBytes,
		StartTime:       start.UTC().Format(model.TimestampLayout),
	}
	if p.Total > 0 {
		snap.Percentage = int(math.Round(float64(settled) / float64(p.Total) * 100))
	}
	if p.Downloaded > 0 {
		perTile := time.Since(start).Seconds() / float64(p.Downloaded)
		snap.EstimatedTimeRemainingSeconds = perTile * float64(p.Total-settled)
	}
	o.publish(snap, onProgress)
}

func (o *Orchestrator) publish(snap Progress, onProgress func(Progress)) {
	o.mu.Lock()
	o.current = &snap
	o.mu.Unlock()
	if onProgress != nil {
		onProgress(snap)
	}
}

// finish stamps the terminal state onto the last published snapshot.
func (o *Orchestrator) finish(s State, onProgress func(Progress)) {
	o.mu.Lock()
	var snap Progress
	if o.current != nil {
		snap = *o.current
	}
	snap.State = s
	switch s {
	case StateCompleted:
		snap.IsComplete = true
		snap.Percentage = 100
	case StateCancelled:
		snap.IsCancelled = true
	}
	snap.EstimatedTimeRemainingSeconds = 0
	o.current = &snap
	o.mu.Unlock()
	if onProgress != nil {
		onProgress(snap)
	}
}
