// Package download fetches tile batches with bounded concurrency,
// per-tile retry, and fail-soft aggregation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/core/observability"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
	"github.com/sandahl/tilevault/internal/store/meta"
	"github.com/sandahl/tilevault/internal/tilemath"
)

// ErrDownloadFailed marks a tile that exhausted retries or hit a
// non-retryable status.
var ErrDownloadFailed = errors.New("download: tile fetch failed")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retryable: 429 and 5xx are transient; other 4xx are definite
// does-not-exist / access-denied signals.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// URLForTile substitutes {z}/{x}/{y} in a tile URL template.
func URLForTile(template string, t tilemath.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(template)
}

type Config struct {
	// Workers bounds in-flight fetches. The HTTP transport enforces the
	// same ceiling per host, so the tile server never sees more.
	Workers    int
	MaxRetries int
	BaseDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 6
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

type Downloader struct {
	http   *http.Client
	store  store.Interface
	engine *compress.Engine
	logger *slog.Logger
	cfg    Config
}

func New(httpc *http.Client, st store.Interface, engine *compress.Engine, logger *slog.Logger, cfg Config) *Downloader {
	return &Downloader{
		http:   httpc,
		store:  st,
		engine: engine,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Progress carries cumulative batch counters. At an uncancelled
// completion Downloaded+Failed == Total.
type Progress struct {
	Total           int   `json:"total"`
	Downloaded      int   `json:"downloaded"`
	Failed          int   `json:"failed"`
	BytesDownloaded int64 `json:"bytesDownloaded"`
}

type Options struct {
	Compress bool
	Profile  compress.Profile
	// Cancelled is polled before each tile starts; in-flight fetches
	// run to completion and their results are still stored.
	Cancelled func() bool
}

// FetchTile downloads one tile with exponential backoff: baseDelay doubling
// per retry, no sleep after the final attempt. 4xx other than 429 fails
// immediately.
func (d *Downloader) FetchTile(ctx context.Context, t tilemath.Tile, template string) ([]byte, error) {
	url := URLForTile(template, t)

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := d.cfg.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, t, ctx.Err())
			}
		}

		data, err := d.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, t, err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d retries: %v", ErrDownloadFailed, t, d.cfg.MaxRetries, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// DownloadTiles runs the batch through a worker pool. One tile's permanent
// failure never aborts its siblings; onProgress fires with cumulative
// counters after every tile settles.
func (d *Downloader) DownloadTiles(ctx context.Context, tiles []tilemath.Tile, template string, opts Options, onProgress func(Progress)) Progress {
	total := len(tiles)
	prog := Progress{Total: total}
	if total == 0 {
		return prog
	}

	var mu sync.Mutex
	settle := func(bytes int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			prog.Failed++
		} else {
			prog.Downloaded++
			prog.BytesDownloaded += bytes
		}
		if onProgress != nil {
			onProgress(prog)
		}
	}

	// Buffered so the producer never blocks and workers can bail out on
	// cancellation without draining.
	jobs := make(chan tilemath.Tile, total)
	for _, t := range tiles {
		jobs <- t
	}
	close(jobs)

	workers := d.cfg.Workers
	if total < workers {
		workers = total
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for t := range jobs {
				if opts.Cancelled != nil && opts.Cancelled() {
					return
				}
				start := time.Now()
				n, err := d.downloadOne(ctx, t, template, opts)
				observability.ObserveTileDownload(err, int(n), time.Since(start).Seconds())
				if err != nil && d.logger != nil {
					d.logger.Warn("tile failed", "tile", t.String(), "err", err)
				}
				settle(n, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return prog
}

// downloadOne fetches, optionally compresses, and stores a single tile plus
// its metadata record. Returns the fetched (pre-compression) byte count.
func (d *Downloader) downloadOne(ctx context.Context, t tilemath.Tile, template string, opts Options) (int64, error) {
	data, err := d.FetchTile(ctx, t, template)
	if err != nil {
		return 0, err
	}
	fetched := int64(len(data))

	md := meta.Record{
		TileKey:  keys.Tile(t),
		StoredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if opts.Compress && d.engine != nil {
		ct, err := d.engine.CompressAuto(data, opts.Profile)
		if err != nil {
			// Corrupt payload; treated like a failed fetch, nothing
			// partial is written.
			return 0, err
		}
		data = ct.Data
		md.Format = ct.Format
		md.Profile = ct.Profile
		md.OriginalSize = ct.OriginalSize
		md.CompressedSize = ct.CompressedSize
		md.Ratio = ct.Ratio
		md.CompressedAt = md.StoredAt
	}

	if err := d.store.Set(ctx, keys.Tile(t), data); err != nil {
		return 0, fmt.Errorf("store tile %s: %w", t, err)
	}
	if err := meta.Save(ctx, d.store, t, md); err != nil {
		// The tile itself is retrievable; a missing side record is
		// harmless garbage at worst.
		if d.logger != nil {
			d.logger.Warn("tile metadata write failed", "tile", t.String(), "err", err)
		}
	}
	return fetched, nil
}
