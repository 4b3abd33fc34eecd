package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reinferio/saltfish/internal/config"
	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/ids"
	"github.com/reinferio/saltfish/internal/listener"
	"github.com/reinferio/saltfish/internal/objectstore"
	objectbadger "github.com/reinferio/saltfish/internal/objectstore/badger"
	"github.com/reinferio/saltfish/internal/schema"
	storagemem "github.com/reinferio/saltfish/internal/storage/memory"
	"github.com/reinferio/saltfish/internal/summarizer"
)

// TestDatasetLifecycle drives the whole stack through the HTTP surface
// with a real badger object store: create a dataset, store records,
// read the streaming summary, list and delete.
func TestDatasetLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	meta := storagemem.NewStore()
	meta.AddUser(7, "ada", "ada@example.com")

	backend, err := objectbadger.NewBackend(t.TempDir(), nil)
	require.NoError(t, err)
	objects := objectstore.NewClient(backend, 4)
	defer objects.Close()

	cfg := dataset.DefaultConfig()
	bus := listener.NewBus(logger, 0)

	summaries, err := summarizer.NewMap(logger, objects, cfg.SchemasBucket, "saltfish:summarizers")
	require.NoError(t, err)
	defer summaries.Close()

	putRecordsDone := make(chan struct{}, 16)
	bus.Register(listener.PutRecords, func(kind listener.Kind, payload []byte) {
		summaries.Handler()(kind, payload)
		putRecordsDone <- struct{}{}
	})
	bus.Run()
	defer bus.Close()

	svc := dataset.NewService(logger, meta, objects, bus, cfg)
	srv := NewServer(config.DefaultConfig(), svc, summaries, meta, logger)

	call := func(path string, req, resp any) {
		t.Helper()
		body, err := json.Marshal(req)
		require.NoError(t, err)
		httpReq := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httpReq)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	}

	// Create
	var created dataset.CreateDatasetResponse
	call("/rpc/create-dataset", dataset.CreateDatasetRequest{
		Dataset: dataset.DatasetSpec{
			UserID: 7,
			Name:   "sensor-readings",
			Schema: schema.Schema{Features: []schema.Feature{
				{Name: "temperature", Type: schema.Numerical},
				{Name: "station", Type: schema.Categorical},
			}},
		},
	}, &created)
	require.Equal(t, dataset.StatusOK, created.Status, created.Msg)
	require.Len(t, created.DatasetID, 24)

	// Store records, one with a missing numerical
	var put dataset.PutRecordsResponse
	call("/rpc/put-records", dataset.PutRecordsRequest{
		DatasetID: created.DatasetID,
		Source:    "ingest-test",
		Records: []schema.TaggedRecord{
			{Record: schema.Record{Numericals: []float64{20.5}, Categoricals: []string{"north"}}},
			{Record: schema.Record{Numericals: []float64{23.5}, Categoricals: []string{"south"}}},
			{Record: schema.Record{Numericals: []float64{math.NaN()}, Categoricals: []string{"north"}}},
		},
	}, &put)
	require.Equal(t, dataset.StatusOK, put.Status, put.Msg)
	require.Len(t, put.RecordIDs, 3)

	// Wait for the listener to fold the batch into the summarizer.
	<-putRecordsDone

	// Summary reflects the batch
	sumReq := httptest.NewRequest(http.MethodGet, "/rpc/datasets/"+ids.EncodeID(created.DatasetID)+"/summary", nil)
	sumRec := httptest.NewRecorder()
	srv.ServeHTTP(sumRec, sumReq)
	require.Equal(t, http.StatusOK, sumRec.Code, sumRec.Body.String())

	var features []map[string]any
	require.NoError(t, json.Unmarshal(sumRec.Body.Bytes(), &features))
	require.Len(t, features, 2)

	assert.Equal(t, "temperature", features[0]["name"])
	assert.InDelta(t, 22.0, features[0]["mean"], 1e-9)
	assert.EqualValues(t, 2, features[0]["num_values"])
	assert.EqualValues(t, 1, features[0]["num_missing"])

	assert.Equal(t, "station", features[1]["name"])
	hist, ok := features[1]["histogram"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, hist["north"])
	assert.EqualValues(t, 1, hist["south"])

	// List
	var list dataset.GetDatasetsResponse
	call("/rpc/get-datasets", dataset.GetDatasetsRequest{DatasetID: created.DatasetID}, &list)
	require.Equal(t, dataset.StatusOK, list.Status)
	require.Len(t, list.Datasets, 1)
	assert.Equal(t, "sensor-readings", list.Datasets[0].Name)
	assert.EqualValues(t, 7, list.Datasets[0].UserID)

	// Delete, twice: the second call reports nothing updated
	var del dataset.DeleteDatasetResponse
	call("/rpc/delete-dataset", dataset.DeleteDatasetRequest{DatasetID: created.DatasetID}, &del)
	require.Equal(t, dataset.StatusOK, del.Status)
	assert.True(t, del.Updated)

	call("/rpc/delete-dataset", dataset.DeleteDatasetRequest{DatasetID: created.DatasetID}, &del)
	require.Equal(t, dataset.StatusOK, del.Status)
	assert.False(t, del.Updated)
}
