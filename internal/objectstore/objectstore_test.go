package objectstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reinferio/saltfish/internal/objectstore"
	"github.com/reinferio/saltfish/internal/objectstore/memory"
)

func newClient(t *testing.T) *objectstore.Client {
	t.Helper()
	c := objectstore.NewClient(memory.NewBackend(nil), 4)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFetchMissingKey(t *testing.T) {
	c := newClient(t)

	obj, err := c.FetchSync(context.Background(), "records", "k1")
	if err != nil {
		t.Fatalf("FetchSync failed: %v", err)
	}
	if obj.Exists() {
		t.Errorf("missing key reported as existing: %+v", obj)
	}
	if obj.Bucket != "records" || obj.Key != "k1" {
		t.Errorf("object coordinates = (%q, %q)", obj.Bucket, obj.Key)
	}
}

func TestStoreThenFetch(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	obj := &objectstore.Object{Bucket: "records", Key: "k1", Value: []byte("v1")}
	obj.SetIndex("timestamp_int", "12345")
	obj.SetIndex("source_bin", "abc")
	if err := c.StoreSync(ctx, obj); err != nil {
		t.Fatalf("StoreSync failed: %v", err)
	}

	got, err := c.FetchSync(ctx, "records", "k1")
	if err != nil {
		t.Fatalf("FetchSync failed: %v", err)
	}
	if string(got.Value) != "v1" {
		t.Errorf("Value = %q, want %q", got.Value, "v1")
	}
	if len(got.Indexes) != 2 || got.Indexes[0].Name != "timestamp_int" {
		t.Errorf("Indexes = %+v", got.Indexes)
	}
	if got.PutContext == 0 {
		t.Error("fetched object has zero put-context")
	}
}

func TestSetIndexReplaces(t *testing.T) {
	obj := &objectstore.Object{}
	obj.SetIndex("sequence_int", "1")
	obj.SetIndex("sequence_int", "2")
	if len(obj.Indexes) != 1 || obj.Indexes[0].Value != "2" {
		t.Errorf("Indexes = %+v", obj.Indexes)
	}
}

func TestAsyncFetchStore(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	c.Store(ctx, &objectstore.Object{Bucket: "b", Key: "k", Value: []byte("x")}, func(err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("async Store failed: %v", err)
		}
	})
	wg.Wait()

	wg.Add(1)
	c.Fetch(ctx, "b", "k", func(obj *objectstore.Object, err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("async Fetch failed: %v", err)
			return
		}
		if string(obj.Value) != "x" {
			t.Errorf("Value = %q, want %q", obj.Value, "x")
		}
	})
	wg.Wait()
}

func TestConflictResolvesToLexSmaller(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	base := &objectstore.Object{Bucket: "b", Key: "k", Value: []byte("mmm")}
	if err := c.StoreSync(ctx, base); err != nil {
		t.Fatalf("StoreSync failed: %v", err)
	}

	// Two writers fetch the same version, then both store.
	w1, _ := c.FetchSync(ctx, "b", "k")
	w2, _ := c.FetchSync(ctx, "b", "k")

	w1.Value = []byte("bbb")
	if err := c.StoreSync(ctx, w1); err != nil {
		t.Fatalf("StoreSync failed: %v", err)
	}
	w2.Value = []byte("aaa")
	if err := c.StoreSync(ctx, w2); err != nil {
		t.Fatalf("StoreSync failed: %v", err)
	}

	got, _ := c.FetchSync(ctx, "b", "k")
	if string(got.Value) != "aaa" {
		t.Errorf("conflict resolved to %q, want %q", got.Value, "aaa")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	c := objectstore.NewClient(memory.NewBackend(nil), 2)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := c.FetchSync(context.Background(), "b", "k"); !errors.Is(err, objectstore.ErrClosed) {
		t.Errorf("FetchSync after Close returned %v, want ErrClosed", err)
	}

	done := make(chan error, 1)
	c.Store(context.Background(), &objectstore.Object{Bucket: "b", Key: "k"}, func(err error) {
		done <- err
	})
	if err := <-done; !errors.Is(err, objectstore.ErrClosed) {
		t.Errorf("Store after Close returned %v, want ErrClosed", err)
	}
}

type opRecord struct {
	backend   string
	operation string
	failed    bool
}

type recordingMetrics struct {
	mu  sync.Mutex
	ops []opRecord
}

func (r *recordingMetrics) RecordStorageOperation(backend, operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, opRecord{backend: backend, operation: operation, failed: err != nil})
}

func (r *recordingMetrics) operations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	for i, op := range r.ops {
		out[i] = op.operation
	}
	return out
}

func TestInstrumentedClientRecordsOperations(t *testing.T) {
	rec := &recordingMetrics{}
	c := objectstore.NewClient(memory.NewBackend(nil), 2)
	c.Instrument(rec)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	if err := c.StoreSync(ctx, &objectstore.Object{Bucket: "b", Key: "k", Value: []byte("v")}); err != nil {
		t.Fatalf("StoreSync failed: %v", err)
	}
	if _, err := c.FetchSync(ctx, "b", "k"); err != nil {
		t.Fatalf("FetchSync failed: %v", err)
	}
	if err := c.DeleteSync(ctx, "b", "k"); err != nil {
		t.Fatalf("DeleteSync failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	c.Store(ctx, &objectstore.Object{Bucket: "b", Key: "k2", Value: []byte("v")}, func(err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("async Store failed: %v", err)
		}
	})
	wg.Wait()
	wg.Add(1)
	c.Fetch(ctx, "b", "k2", func(_ *objectstore.Object, err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("async Fetch failed: %v", err)
		}
	})
	wg.Wait()

	want := []string{"store", "fetch", "delete", "store", "fetch"}
	got := rec.operations()
	if len(got) != len(want) {
		t.Fatalf("recorded operations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recorded operations = %v, want %v", got, want)
		}
	}
	for _, op := range rec.ops {
		if op.backend != "objects" {
			t.Errorf("backend label = %q, want %q", op.backend, "objects")
		}
		if op.failed {
			t.Errorf("operation %s recorded as failed", op.operation)
		}
	}
}

func TestLexSmaller(t *testing.T) {
	if got := objectstore.LexSmaller([]byte("a"), []byte("b")); string(got) != "a" {
		t.Errorf("LexSmaller = %q", got)
	}
	if got := objectstore.LexSmaller([]byte("b"), []byte("a")); string(got) != "a" {
		t.Errorf("LexSmaller = %q", got)
	}
	if got := objectstore.LexSmaller([]byte("a"), []byte("a")); string(got) != "a" {
		t.Errorf("LexSmaller = %q", got)
	}
}
