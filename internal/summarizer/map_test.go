package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/listener"
	"github.com/reinferio/saltfish/internal/objectstore"
	"github.com/reinferio/saltfish/internal/objectstore/memory"
	"github.com/reinferio/saltfish/internal/schema"
)

const (
	schemasBucket     = "saltfish:schemas"
	summarizersBucket = "saltfish:summarizers"
)

func newTestMap(t *testing.T, client *objectstore.Client) *Map {
	t.Helper()
	m, err := NewMap(slog.New(slog.DiscardHandler), client, schemasBucket, summarizersBucket)
	if err != nil {
		t.Fatalf("NewMap failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func storeSchema(t *testing.T, client *objectstore.Client, datasetID []byte) {
	t.Helper()
	obj, err := client.FetchSync(context.Background(), schemasBucket, string(datasetID))
	if err != nil {
		t.Fatalf("FetchSync failed: %v", err)
	}
	obj.Value = testSchemaBlob(t)
	if err := client.StoreSync(context.Background(), obj); err != nil {
		t.Fatalf("StoreSync failed: %v", err)
	}
}

func putRecordsPayload(t *testing.T, datasetID []byte, records []schema.Record) []byte {
	t.Helper()
	event := dataset.PutRecordsEvent{DatasetID: datasetID}
	for i := range records {
		event.Records = append(event.Records, schema.TaggedRecord{Record: records[i]})
	}
	payload, err := event.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return payload
}

func TestHandlerBuildsSummaryFromSchema(t *testing.T) {
	client := objectstore.NewClient(memory.NewBackend(nil), 2)
	t.Cleanup(func() { client.Close() })

	datasetID := make([]byte, 24)
	datasetID[0] = 7
	storeSchema(t, client, datasetID)

	m := newTestMap(t, client)
	handler := m.Handler()
	handler(listener.PutRecords, putRecordsPayload(t, datasetID, []schema.Record{
		{Numericals: []float64{1}, Categoricals: []string{"uk"}, Texts: []string{""}},
		{Numericals: []float64{3}, Categoricals: []string{"uk"}, Texts: []string{""}},
	}))

	blob, err := m.Summary(context.Background(), datasetID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(blob, &entries); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if entries[0]["mean"].(float64) != 2 {
		t.Errorf("mean = %v, want 2", entries[0]["mean"])
	}
}

func TestSnapshotPersistedAndRestored(t *testing.T) {
	client := objectstore.NewClient(memory.NewBackend(nil), 2)
	t.Cleanup(func() { client.Close() })

	datasetID := make([]byte, 24)
	datasetID[0] = 9
	storeSchema(t, client, datasetID)

	m := newTestMap(t, client)
	m.Handler()(listener.PutRecords, putRecordsPayload(t, datasetID, []schema.Record{
		{Numericals: []float64{10}, Categoricals: []string{"fr"}, Texts: []string{""}},
	}))
	m.Close()

	obj, err := client.FetchSync(context.Background(), summarizersBucket, string(datasetID))
	if err != nil {
		t.Fatalf("FetchSync failed: %v", err)
	}
	if !obj.Exists() {
		t.Fatal("snapshot not persisted after batch")
	}

	// A fresh map restores from the snapshot, not from an empty state.
	m2 := newTestMap(t, client)
	blob, err := m2.Summary(context.Background(), datasetID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(blob, &entries); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if entries[0]["num_values"].(float64) != 1 {
		t.Errorf("restored num_values = %v, want 1", entries[0]["num_values"])
	}
	if entries[1]["histogram"].(map[string]any)["fr"].(float64) != 1 {
		t.Errorf("restored histogram = %v", entries[1]["histogram"])
	}
}

func TestSummaryUnknownDataset(t *testing.T) {
	client := objectstore.NewClient(memory.NewBackend(nil), 2)
	t.Cleanup(func() { client.Close() })

	m := newTestMap(t, client)
	_, err := m.Summary(context.Background(), make([]byte, 24))
	if !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("Summary returned %v, want ErrUnknownDataset", err)
	}
}

func TestHandlerDropsUndecodablePayload(t *testing.T) {
	client := objectstore.NewClient(memory.NewBackend(nil), 2)
	t.Cleanup(func() { client.Close() })

	m := newTestMap(t, client)
	// Must not panic or wedge the tasklet.
	m.Handler()(listener.PutRecords, []byte("{not json"))

	if _, err := m.Summary(context.Background(), make([]byte, 24)); !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("map unusable after bad payload: %v", err)
	}
}
