package badger

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend(filepath.Join(t.TempDir(), "objects.db"), nil)
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	obj, err := b.Get(ctx, "records", "\x01\x02")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if obj.Exists() {
		t.Errorf("missing key reported as existing")
	}

	obj.Value = []byte("payload")
	obj.SetIndex("sequence_int", "7")
	if err := b.Put(ctx, obj); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := b.Get(ctx, "records", "\x01\x02")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Value) != "payload" {
		t.Errorf("Value = %q, want %q", got.Value, "payload")
	}
	if len(got.Indexes) != 1 || got.Indexes[0].Name != "sequence_int" || got.Indexes[0].Value != "7" {
		t.Errorf("Indexes = %+v", got.Indexes)
	}
	if got.PutContext != 1 {
		t.Errorf("PutContext = %d, want 1", got.PutContext)
	}
}

func TestBucketsDoNotCollide(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, bucket := range []string{"schemas", "summarizers"} {
		obj, _ := b.Get(ctx, bucket, "same-key")
		obj.Value = []byte(bucket)
		if err := b.Put(ctx, obj); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := b.Get(ctx, "schemas", "same-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Value) != "schemas" {
		t.Errorf("Value = %q, want %q", got.Value, "schemas")
	}
}

func TestStaleContextResolved(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	obj, _ := b.Get(ctx, "b", "k")
	obj.Value = []byte("zzz")
	if err := b.Put(ctx, obj); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// A stale writer that never saw the first put.
	staleObj, _ := b.Get(ctx, "b", "k")
	staleObj.PutContext = 0
	staleObj.Value = []byte("aaa")
	if err := b.Put(ctx, staleObj); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, _ := b.Get(ctx, "b", "k")
	if string(got.Value) != "aaa" {
		t.Errorf("conflict resolved to %q, want %q", got.Value, "aaa")
	}
	if got.PutContext != 2 {
		t.Errorf("PutContext = %d, want 2", got.PutContext)
	}
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	obj, _ := b.Get(ctx, "b", "k")
	obj.Value = []byte("v")
	if err := b.Put(ctx, obj); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Delete(ctx, "b", "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := b.Get(ctx, "b", "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Exists() {
		t.Error("deleted key still exists")
	}
}
