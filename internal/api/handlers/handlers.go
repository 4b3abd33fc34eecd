// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/ids"
	"github.com/reinferio/saltfish/internal/metrics"
	"github.com/reinferio/saltfish/internal/storage"
	"github.com/reinferio/saltfish/internal/summarizer"
)

// Handler provides HTTP handlers for the dataset RPC surface.
type Handler struct {
	service   *dataset.Service
	summaries *summarizer.Map
	meta      storage.MetadataStore
	metrics   *metrics.Metrics
}

// New creates a new Handler. summaries may be nil when the summarizer
// listener is disabled.
func New(svc *dataset.Service, summaries *summarizer.Map, meta storage.MetadataStore, m *metrics.Metrics) *Handler {
	return &Handler{
		service:   svc,
		summaries: summaries,
		meta:      meta,
		metrics:   m,
	}
}

func (h *Handler) recordOp(operation string, status dataset.Status) {
	if h.metrics != nil {
		h.metrics.RecordOperation(operation, string(status))
	}
}

// HealthCheck handles the root endpoint.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "saltfish",
		"status":  "UP",
	})
}

// Liveness reports process liveness.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// Readiness reports whether the metadata store is reachable.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.meta != nil && h.meta.IsHealthy(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "DOWN",
		"reason": "metadata store unreachable",
	})
}

// CreateDataset handles POST /rpc/create-dataset.
func (h *Handler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var req dataset.CreateDatasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := h.service.CreateDataset(r.Context(), &req)
	h.recordOp("create_dataset", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

// DeleteDataset handles POST /rpc/delete-dataset.
func (h *Handler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	var req dataset.DeleteDatasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := h.service.DeleteDataset(r.Context(), &req)
	h.recordOp("delete_dataset", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

// GenerateID handles POST /rpc/generate-id.
func (h *Handler) GenerateID(w http.ResponseWriter, r *http.Request) {
	var req dataset.GenerateIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := h.service.GenerateID(r.Context(), &req)
	h.recordOp("generate_id", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

// GetDatasets handles POST /rpc/get-datasets.
func (h *Handler) GetDatasets(w http.ResponseWriter, r *http.Request) {
	var req dataset.GetDatasetsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := h.service.GetDatasets(r.Context(), &req)
	h.recordOp("get_datasets", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

// PutRecords handles POST /rpc/put-records.
func (h *Handler) PutRecords(w http.ResponseWriter, r *http.Request) {
	var req dataset.PutRecordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp := h.service.PutRecords(r.Context(), &req)
	h.recordOp("put_records", resp.Status)
	if resp.Status == dataset.StatusOK && h.metrics != nil {
		h.metrics.RecordBatch(len(req.Records))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary handles GET /rpc/datasets/{id}/summary. The id path
// segment is the base64url form of the dataset id.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if h.summaries == nil {
		writeError(w, http.StatusNotFound, "summarizer is not enabled")
		return
	}

	datasetID, err := ids.DecodeID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dataset id")
		return
	}

	summary, err := h.summaries.Summary(r.Context(), datasetID)
	if err != nil {
		if errors.Is(err, summarizer.ErrUnknownDataset) {
			writeError(w, http.StatusNotFound, "unknown dataset")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(summary)
}

// decodeBody decodes a JSON request body. On failure it writes an
// INVALID_REQUEST response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": string(dataset.StatusInvalidRequest),
			"msg":    "malformed request body",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
