package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/reinferio/saltfish/internal/cache"
	"github.com/reinferio/saltfish/internal/ids"
	"github.com/reinferio/saltfish/internal/listener"
	"github.com/reinferio/saltfish/internal/objectstore"
	"github.com/reinferio/saltfish/internal/replysync"
	"github.com/reinferio/saltfish/internal/schema"
	"github.com/reinferio/saltfish/internal/storage"
)

// Canonical status messages.
const (
	msgDuplicateFeatureName = "the schema contains duplicate feature names"
	msgInvalidFeatureType   = "the schema contains a feature with an invalid type"
	msgInvalidDatasetID     = "the dataset id provided is invalid (expected 24 bytes)"
	msgDatasetIDExists      = "a dataset with the same id but a different schema already exists"
	msgInvalidUserID        = "no user exists with the provided id"
	msgInvalidUsername      = "no user exists with the provided username"
	msgDuplicateDatasetName = "the user already has a dataset with the same name"
	msgNoRecords            = "the request contains no records"
	msgInvalidSchema        = "the stored dataset schema could not be parsed"
	msgInvalidSelector      = "exactly one of dataset_id, user_id and username must be set"
	msgNetworkError         = "the request could not be processed at this time; try again later"
)

// Config carries the operation limits and bucket names.
type Config struct {
	// RecordsBucketPrefix is completed with the base64url dataset id to
	// name each dataset's record bucket.
	RecordsBucketPrefix string
	SchemasBucket       string

	// MaxGenerateIDCount is the exclusive cap on GenerateID counts.
	MaxGenerateIDCount int

	// MaxRandomIndex is the modulus of the randomindex_int stamp.
	MaxRandomIndex int64
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		RecordsBucketPrefix: "saltfish:records:",
		SchemasBucket:       "saltfish:schemas",
		MaxGenerateIDCount:  1000,
		MaxRandomIndex:      1_000_000,
	}
}

// Schema cache sizing. Schemas are immutable once created, so the TTL
// only bounds staleness after an out-of-band delete.
const (
	schemaCacheSize = 1024
	schemaCacheTTL  = 5 * time.Minute
)

// Service implements the five dataset operations.
type Service struct {
	logger  *slog.Logger
	meta    storage.MetadataStore
	objects *objectstore.Client
	bus     *listener.Bus
	schemas *cache.SchemaCache
	cfg     Config
}

// NewService wires the operation handlers.
func NewService(logger *slog.Logger, meta storage.MetadataStore, objects *objectstore.Client, bus *listener.Bus, cfg Config) *Service {
	if cfg.MaxGenerateIDCount <= 0 {
		cfg.MaxGenerateIDCount = 1000
	}
	if cfg.MaxRandomIndex <= 0 {
		cfg.MaxRandomIndex = 1_000_000
	}
	return &Service{
		logger:  logger,
		meta:    meta,
		objects: objects,
		bus:     bus,
		schemas: cache.New(schemaCacheSize, schemaCacheTTL),
		cfg:     cfg,
	}
}

// RecordsBucket names the record bucket of one dataset.
func (s *Service) RecordsBucket(datasetID []byte) string {
	return s.cfg.RecordsBucketPrefix + ids.EncodeID(datasetID)
}

// CreateDataset registers a dataset. Client-supplied ids make the call
// idempotent: a retry carrying the same id and schema bytes succeeds
// and re-writes the schema snapshot, repairing a previously interrupted
// attempt.
func (s *Service) CreateDataset(ctx context.Context, req *CreateDatasetRequest) *CreateDatasetResponse {
	spec := &req.Dataset

	if spec.Schema.HasDuplicateFeatures() {
		return &CreateDatasetResponse{Status: StatusDuplicateFeatureName, Msg: msgDuplicateFeatureName}
	}
	if spec.Schema.HasInvalidFeatures() {
		return &CreateDatasetResponse{Status: StatusInvalidFeatureType, Msg: msgInvalidFeatureType}
	}

	schemaBlob, err := spec.Schema.Encode()
	if err != nil {
		s.logger.Error("failed to encode schema", slog.String("error", err.Error()))
		return &CreateDatasetResponse{Status: StatusUnknownError, Msg: err.Error()}
	}

	var datasetID []byte
	newID := false
	switch len(spec.ID) {
	case 0:
		datasetID = ids.RandomBytes(ids.DatasetIDLen)
		newID = true
	case ids.DatasetIDLen:
		datasetID = spec.ID
	default:
		return &CreateDatasetResponse{Status: StatusInvalidDatasetID, Msg: msgInvalidDatasetID}
	}

	if !newID {
		stored, err := s.meta.FetchSchema(ctx, datasetID)
		switch {
		case err == nil && bytes.Equal(stored, schemaBlob):
			// Idempotent retry: re-write the snapshot and reply OK.
			if err := s.storeSchemaSnapshot(ctx, datasetID, schemaBlob); err != nil {
				s.logger.Warn("failed to store schema snapshot",
					slog.String("dataset_id", ids.EncodeID(datasetID)),
					slog.String("error", err.Error()),
				)
				return &CreateDatasetResponse{Status: StatusNetworkError, Msg: msgNetworkError}
			}
			return &CreateDatasetResponse{Status: StatusOK, DatasetID: datasetID}
		case err == nil:
			return &CreateDatasetResponse{Status: StatusDatasetIDAlreadyExists, Msg: msgDatasetIDExists}
		case errors.Is(err, storage.ErrInvalidDatasetID):
			// No row yet; proceed with the insert.
		default:
			s.logger.Warn("create: schema probe failed",
				slog.String("dataset_id", ids.EncodeID(datasetID)),
				slog.String("error", err.Error()),
			)
			return &CreateDatasetResponse{Status: StatusNetworkError, Msg: msgNetworkError}
		}
	}

	row := &storage.Dataset{
		ID:         datasetID,
		UserID:     spec.UserID,
		SchemaBlob: schemaBlob,
		Name:       spec.Name,
		Private:    spec.Private,
		Frozen:     spec.Frozen,
	}
	switch err := s.meta.CreateDataset(ctx, row); {
	case err == nil:
	case errors.Is(err, storage.ErrInvalidUserID):
		return &CreateDatasetResponse{Status: StatusInvalidUserID, Msg: msgInvalidUserID}
	case errors.Is(err, storage.ErrDuplicateDatasetName):
		return &CreateDatasetResponse{Status: StatusDuplicateDatasetName, Msg: msgDuplicateDatasetName}
	default:
		s.logger.Warn("create: metadata insert failed",
			slog.String("dataset_id", ids.EncodeID(datasetID)),
			slog.Int64("user_id", spec.UserID),
			slog.String("error", err.Error()),
		)
		return &CreateDatasetResponse{Status: StatusNetworkError, Msg: msgNetworkError}
	}

	// Metadata row first, snapshot second: a dataset visible to listers
	// has (or will have, via retry) a snapshot, never the reverse.
	if err := s.storeSchemaSnapshot(ctx, datasetID, schemaBlob); err != nil {
		s.logger.Warn("failed to store schema snapshot",
			slog.String("dataset_id", ids.EncodeID(datasetID)),
			slog.String("error", err.Error()),
		)
		return &CreateDatasetResponse{Status: StatusNetworkError, Msg: msgNetworkError}
	}

	s.publish(listener.CreateDataset, &CreateDatasetEvent{
		DatasetID:  datasetID,
		UserID:     spec.UserID,
		Name:       spec.Name,
		SchemaBlob: schemaBlob,
	})
	return &CreateDatasetResponse{Status: StatusOK, DatasetID: datasetID}
}

func (s *Service) storeSchemaSnapshot(ctx context.Context, datasetID, schemaBlob []byte) error {
	obj, err := s.objects.FetchSync(ctx, s.cfg.SchemasBucket, string(datasetID))
	if err != nil {
		return err
	}
	obj.Value = schemaBlob
	return s.objects.StoreSync(ctx, obj)
}

// DeleteDataset removes the metadata row. Records and the schema
// snapshot are garbage-collected out-of-band.
func (s *Service) DeleteDataset(ctx context.Context, req *DeleteDatasetRequest) *DeleteDatasetResponse {
	if len(req.DatasetID) != ids.DatasetIDLen {
		return &DeleteDatasetResponse{Status: StatusInvalidDatasetID, Msg: msgInvalidDatasetID}
	}

	rows, err := s.meta.DeleteDataset(ctx, req.DatasetID)
	if err != nil {
		s.logger.Warn("delete failed",
			slog.String("dataset_id", ids.EncodeID(req.DatasetID)),
			slog.String("error", err.Error()),
		)
		return &DeleteDatasetResponse{Status: StatusNetworkError, Msg: msgNetworkError}
	}
	if rows == 0 {
		return &DeleteDatasetResponse{Status: StatusOK, Updated: false}
	}

	s.schemas.Invalidate(req.DatasetID)
	s.publish(listener.DeleteDataset, &DeleteDatasetEvent{DatasetID: req.DatasetID})
	return &DeleteDatasetResponse{Status: StatusOK, Updated: true}
}

// GenerateID returns count fresh random dataset ids.
func (s *Service) GenerateID(ctx context.Context, req *GenerateIDRequest) *GenerateIDResponse {
	if req.Count >= s.cfg.MaxGenerateIDCount {
		return &GenerateIDResponse{
			Status: StatusCountTooLarge,
			Msg: fmt.Sprintf("cannot generate more than %d ids in one request",
				s.cfg.MaxGenerateIDCount-1),
		}
	}

	out := make([][]byte, 0, max(req.Count, 0))
	for i := 0; i < req.Count; i++ {
		out = append(out, ids.RandomBytes(ids.DatasetIDLen))
	}
	return &GenerateIDResponse{Status: StatusOK, IDs: out}
}

// GetDatasets lists datasets by exactly one of id, user id or username.
func (s *Service) GetDatasets(ctx context.Context, req *GetDatasetsRequest) *GetDatasetsResponse {
	selectors := 0
	if len(req.DatasetID) > 0 {
		selectors++
	}
	if req.UserID != nil {
		selectors++
	}
	if req.Username != nil {
		selectors++
	}
	if selectors != 1 {
		return &GetDatasetsResponse{Status: StatusInvalidRequest, Msg: msgInvalidSelector}
	}

	var (
		rows []*storage.Dataset
		err  error
	)
	switch {
	case len(req.DatasetID) > 0:
		if len(req.DatasetID) != ids.DatasetIDLen {
			return &GetDatasetsResponse{Status: StatusInvalidDatasetID, Msg: msgInvalidDatasetID}
		}
		var row *storage.Dataset
		row, err = s.meta.GetDatasetByID(ctx, req.DatasetID)
		if err == nil {
			rows = []*storage.Dataset{row}
		}
	case req.UserID != nil:
		rows, err = s.meta.GetDatasetsByUser(ctx, *req.UserID)
	default:
		rows, err = s.meta.GetDatasetsByUsername(ctx, *req.Username)
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInvalidDatasetID):
		return &GetDatasetsResponse{Status: StatusInvalidDatasetID, Msg: msgInvalidDatasetID}
	case errors.Is(err, storage.ErrInvalidUsername):
		return &GetDatasetsResponse{Status: StatusInvalidUsername, Msg: msgInvalidUsername}
	default:
		s.logger.Warn("get-datasets failed", slog.String("error", err.Error()))
		return &GetDatasetsResponse{Status: StatusNetworkError, Msg: msgNetworkError}
	}

	out := make([]DatasetInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, DatasetInfo{
			ID:      row.ID,
			UserID:  row.UserID,
			Schema:  row.SchemaBlob,
			Name:    row.Name,
			Private: row.Private,
			Frozen:  row.Frozen,
			Created: row.Created,
		})
	}
	return &GetDatasetsResponse{Status: StatusOK, Datasets: out}
}

// PutRecords appends a batch of records. All records are validated
// before any write; writes scatter across the object store pool and
// gather through a ReplySync, so the reply carries either all assigned
// ids or a single error.
func (s *Service) PutRecords(ctx context.Context, req *PutRecordsRequest) *PutRecordsResponse {
	if len(req.DatasetID) != ids.DatasetIDLen {
		return &PutRecordsResponse{Status: StatusInvalidDatasetID, Msg: msgInvalidDatasetID}
	}
	if len(req.Records) == 0 {
		return &PutRecordsResponse{Status: StatusNoRecordsInRequest, Msg: msgNoRecords}
	}

	var sch *schema.Schema
	if entry, ok := s.schemas.Get(req.DatasetID); ok {
		sch = entry.Schema
	} else {
		schemaBlob, err := s.meta.FetchSchema(ctx, req.DatasetID)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrInvalidDatasetID):
			return &PutRecordsResponse{Status: StatusInvalidDatasetID, Msg: msgInvalidDatasetID}
		default:
			s.logger.Warn("put-records: schema fetch failed",
				slog.String("dataset_id", ids.EncodeID(req.DatasetID)),
				slog.String("error", err.Error()),
			)
			return &PutRecordsResponse{Status: StatusNetworkError, Msg: msgNetworkError}
		}

		sch, err = schema.Decode(schemaBlob)
		if err != nil {
			s.logger.Error("put-records: stored schema unparseable",
				slog.String("dataset_id", ids.EncodeID(req.DatasetID)),
				slog.String("error", err.Error()),
			)
			return &PutRecordsResponse{Status: StatusInvalidSchema, Msg: msgInvalidSchema}
		}
		s.schemas.Set(req.DatasetID, &cache.Entry{Blob: schemaBlob, Schema: sch})
	}

	for i := range req.Records {
		if err := schema.CheckRecord(sch, &req.Records[i].Record); err != nil {
			return &PutRecordsResponse{
				Status: StatusInvalidRecord,
				Msg:    fmt.Sprintf("At position %d: %s", i, err.Error()),
			}
		}
	}

	recordIDs := make([][]byte, len(req.Records))
	for i := range req.Records {
		switch len(req.Records[i].RecordID) {
		case 0:
			recordIDs[i] = ids.RandomBytes(ids.RecordIDLen)
		case ids.RecordIDLen:
			recordIDs[i] = req.Records[i].RecordID
		default:
			return &PutRecordsResponse{
				Status: StatusInvalidRecord,
				Msg: fmt.Sprintf("At position %d: record id has incorrect length %d (expected %d bytes)",
					i, len(req.Records[i].RecordID), ids.RecordIDLen),
			}
		}
	}

	bucket := s.RecordsBucket(req.DatasetID)
	done := make(chan *PutRecordsResponse, 1)
	sync := replysync.New(len(req.Records), func() {
		done <- &PutRecordsResponse{Status: StatusOK, RecordIDs: recordIDs}
	})
	fail := func() {
		done <- &PutRecordsResponse{Status: StatusNetworkError, Msg: msgNetworkError}
	}

	for i := range req.Records {
		tagged := &req.Records[i]
		recordID := recordIDs[i]
		source := tagged.Source
		if source == "" {
			source = req.Source
		}
		go func() {
			if err := s.storeRecord(ctx, bucket, recordID, &tagged.Record, source); err != nil {
				s.logger.Warn("put-records: record write failed",
					slog.String("dataset_id", ids.EncodeID(req.DatasetID)),
					slog.String("error", err.Error()),
				)
				sync.Err(fail)
				return
			}
			sync.OK()
		}()
	}

	resp := <-done
	if resp.Status == StatusOK {
		event := &PutRecordsEvent{DatasetID: req.DatasetID}
		for i := range req.Records {
			event.Records = append(event.Records, schema.TaggedRecord{
				RecordID: recordIDs[i],
				Record:   req.Records[i].Record,
				Source:   req.Records[i].Source,
			})
		}
		s.publish(listener.PutRecords, event)
	}
	return resp
}

// storeRecord runs the fetch-then-store dance for one record: the fetch
// acquires the put-context, the store carries the stamped indexes.
func (s *Service) storeRecord(ctx context.Context, bucket string, recordID []byte, record *schema.Record, source string) error {
	obj, err := s.objects.FetchSync(ctx, bucket, string(recordID))
	if err != nil {
		return err
	}

	obj.Value, err = schema.EncodeRecord(record)
	if err != nil {
		return err
	}
	obj.SetIndex("timestamp_int", strconv.FormatInt(time.Now().UnixMicro(), 10))
	obj.SetIndex("sequence_int", strconv.FormatInt(ids.Tick(), 10))
	obj.SetIndex("randomindex_int", strconv.FormatInt(ids.RandomIndex(s.cfg.MaxRandomIndex), 10))
	if source != "" {
		obj.SetIndex("source_bin", source)
	}

	return s.objects.StoreSync(ctx, obj)
}

type encodable interface {
	Encode() ([]byte, error)
}

func (s *Service) publish(kind listener.Kind, event encodable) {
	if s.bus == nil {
		return
	}
	var payload []byte
	if event != nil {
		var err error
		payload, err = event.Encode()
		if err != nil {
			s.logger.Error("failed to encode event",
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	s.bus.Publish(kind, payload)
}
