// Package quota snapshots store usage against the configured budget and
// handles the best-effort durable-persistence request.
package quota

import (
	"context"
	"log/slog"

	"github.com/sandahl/tilevault/internal/core/model"
)

// ServerStats is the slice of the store backend the monitor needs.
// The Redis client implements it; tests stub it.
type ServerStats interface {
	UsedMemory(ctx context.Context) (int64, error)
	MaxMemory(ctx context.Context) (int64, error)
	Persistence(ctx context.Context) (bool, error)
	SetPersistence(ctx context.Context, on bool) error
}

type Monitor struct {
	stats ServerStats
	// maxBytes overrides the backend-reported limit when set.
	maxBytes int64
	logger   *slog.Logger
}

func NewMonitor(stats ServerStats, maxBytes int64, logger *slog.Logger) *Monitor {
	return &Monitor{stats: stats, maxBytes: maxBytes, logger: logger}
}

// Snapshot queries usage, limit, and the persisted flag. A backend that
// cannot answer yields an all-zero unsupported snapshot, never an error.
func (m *Monitor) Snapshot(ctx context.Context) model.StorageQuota {
	var q model.StorageQuota

	usage, err := m.stats.UsedMemory(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("storage usage unavailable", "err", err)
		}
		return q
	}
	q.Usage = usage

	q.Quota = m.maxBytes
	if q.Quota <= 0 {
		limit, err := m.stats.MaxMemory(ctx)
		if err != nil && m.logger != nil {
			m.logger.Warn("storage limit unavailable", "err", err)
		}
		q.Quota = limit
	}

	if q.Quota > 0 {
		q.Available = q.Quota - q.Usage
		if q.Available < 0 {
			q.Available = 0
		}
		q.PercentUsed = float64(q.Usage) / float64(q.Quota) * 100
	}

	if persisted, err := m.stats.Persistence(ctx); err == nil {
		q.IsPersisted = persisted
	}
	return q
}

// RequestPersistence asks the backend to enable durable persistence and
// reports whether the grant took. Safe when unsupported: returns false.
func (m *Monitor) RequestPersistence(ctx context.Context) bool {
	if err := m.stats.SetPersistence(ctx, true); err != nil {
		if m.logger != nil {
			m.logger.Warn("persistence request denied", "err", err)
		}
		return false
	}
	persisted, err := m.stats.Persistence(ctx)
	if err != nil {
		return false
	}
	return persisted
}
