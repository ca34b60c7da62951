package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sandahl/tilevault/internal/store"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestGetSetDel_HappyPath(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "tile_1_0_0", []byte("png-bytes")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := rc.Get(ctx, "tile_1_0_0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "png-bytes" {
		t.Fatalf("Get=%q", got)
	}
	if err := rc.Del(ctx, "tile_1_0_0"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := rc.Get(ctx, "tile_1_0_0"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestMGet_FiltersMissing(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}
}

func TestKeys_PrefixScan(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, k := range []string{"tile_1_0_0", "tile_1_0_1", "tile_meta_1_0_0", "area_x"} {
		if err := rc.Set(ctx, k, []byte("v")); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	ks, err := rc.Keys(ctx, "tile_")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(ks) != 3 { // tile_meta_ shares the tile_ prefix
		t.Fatalf("Keys=%v want 3 entries", ks)
	}

	areas, err := rc.Keys(ctx, "area_")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(areas) != 1 || areas[0] != "area_x" {
		t.Fatalf("area keys=%v", areas)
	}
}

func TestSizeOf_SumsLengthsAndSkipsMissing(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "a", make([]byte, 100)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "b", make([]byte, 50)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := rc.SizeOf(ctx, []string{"a", "b", "gone"})
	if err != nil {
		t.Fatalf("SizeOf: %v", err)
	}
	if n != 150 {
		t.Fatalf("SizeOf=%d want 150", n)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestLastWriteWins(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "tile_3_1_1", []byte("first")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "tile_3_1_1", []byte("second")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := rc.Get(ctx, "tile_3_1_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Get=%q want overwrite to win", got)
	}
}
