// Package store defines the flat key-value interface the tile cache
// persists through. The store has no domain knowledge; key schema and
// prefix filtering belong to the callers (see the keys package).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	// Set upserts; concurrent writers on the same key are last-write-wins.
	Set(ctx context.Context, key string, val []byte) error
	Del(ctx context.Context, keys ...string) error
	// Keys lists all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// SizeOf sums the stored byte length of the given keys.
	SizeOf(ctx context.Context, keys []string) (int64, error)
}

type timeoutStore struct {
	inner   Interface
	timeout time.Duration
}

// WithTimeout bounds every store operation with a per-op deadline.
func WithTimeout(inner Interface, d time.Duration) Interface {
	if d <= 0 {
		return inner
	}
	return &timeoutStore{inner: inner, timeout: d}
}

func (s *timeoutStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.inner.Get(ctx, key)
}

func (s *timeoutStore) MGet(ctx context.Context, ks []string) (map[string][]byte, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.inner.MGet(ctx, ks)
}

func (s *timeoutStore) Set(ctx context.Context, key string, val []byte) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.inner.Set(ctx, key, val)
}

func (s *timeoutStore) Del(ctx context.Context, ks ...string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.inner.Del(ctx, ks...)
}

func (s *timeoutStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.inner.Keys(ctx, prefix)
}

func (s *timeoutStore) SizeOf(ctx context.Context, ks []string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.inner.SizeOf(ctx, ks)
}
