package listener

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPublish_MatchingKindOnly(t *testing.T) {
	bus := NewBus(discardLogger(), 16)

	var mu sync.Mutex
	var putRecords, all []Kind

	bus.Register(PutRecords, func(kind Kind, payload []byte) {
		mu.Lock()
		putRecords = append(putRecords, kind)
		mu.Unlock()
	})
	bus.Register(All, func(kind Kind, payload []byte) {
		mu.Lock()
		all = append(all, kind)
		mu.Unlock()
	})
	bus.Run()

	bus.Publish(PutRecords, []byte("a"))
	bus.Publish(DeleteDataset, []byte("b"))
	bus.Close()

	if len(putRecords) != 1 || putRecords[0] != PutRecords {
		t.Errorf("put_records handler saw %v, want [put_records]", putRecords)
	}
	if len(all) != 2 || all[0] != PutRecords || all[1] != DeleteDataset {
		t.Errorf("all handler saw %v, want [put_records delete_dataset]", all)
	}
}

func TestPublish_PerHandlerOrder(t *testing.T) {
	bus := NewBus(discardLogger(), 256)

	var got []string
	done := make(chan struct{})
	const n = 100
	bus.Register(All, func(kind Kind, payload []byte) {
		got = append(got, string(payload))
		if len(got) == n {
			close(done)
		}
	})
	bus.Run()
	defer bus.Close()

	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = string(rune('A' + i%26))
		bus.Publish(PutRecords, []byte(want[i]))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler saw %d of %d publications", len(got), n)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("out of order at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestPublish_SlowHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(discardLogger(), 16)

	release := make(chan struct{})
	fastDone := make(chan struct{})

	bus.Register(PutRecords, func(Kind, []byte) { <-release })
	bus.Register(DeleteDataset, func(Kind, []byte) { close(fastDone) })
	bus.Run()

	bus.Publish(PutRecords, nil)
	bus.Publish(DeleteDataset, nil)

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast handler starved by slow handler")
	}
	close(release)
	bus.Close()
}

func TestOnPublishHookFiresPerPublication(t *testing.T) {
	bus := NewBus(discardLogger(), 16)

	var seen []Kind
	bus.OnPublish(func(kind Kind) {
		seen = append(seen, kind)
	})
	bus.Register(PutRecords, func(Kind, []byte) {})
	bus.Run()

	// The hook fires even for kinds with no registered handler.
	bus.Publish(PutRecords, []byte("a"))
	bus.Publish(DeleteDataset, []byte("b"))
	bus.Publish(PutRecords, []byte("c"))
	bus.Close()

	want := []Kind{PutRecords, DeleteDataset, PutRecords}
	if len(seen) != len(want) {
		t.Fatalf("hook fired %d times, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("hook call %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestOnPublishAfterRunPanics(t *testing.T) {
	bus := NewBus(discardLogger(), 1)
	bus.Run()
	defer bus.Close()

	defer func() {
		if recover() == nil {
			t.Error("OnPublish after Run did not panic")
		}
	}()
	bus.OnPublish(func(Kind) {})
}

func TestRegisterAfterRunPanics(t *testing.T) {
	bus := NewBus(discardLogger(), 1)
	bus.Run()
	defer bus.Close()

	defer func() {
		if recover() == nil {
			t.Error("Register after Run did not panic")
		}
	}()
	bus.Register(All, func(Kind, []byte) {})
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		CreateDataset: "create_dataset",
		DeleteDataset: "delete_dataset",
		GenerateID:    "generate_id",
		GetDatasets:   "get_datasets",
		PutRecords:    "put_records",
		All:           "all",
		Kind(99):      "unknown",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
