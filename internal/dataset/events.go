package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/reinferio/saltfish/internal/schema"
)

// Event payloads published on the listener bus after a mutating request
// succeeds. They are JSON-encoded; the pub/sub layer prepends the
// request kind byte when forwarding them to external consumers.

// CreateDatasetEvent announces a newly created dataset.
type CreateDatasetEvent struct {
	DatasetID  []byte `json:"dataset_id"`
	UserID     int64  `json:"user_id"`
	Name       string `json:"name"`
	SchemaBlob []byte `json:"schema"`
}

// DeleteDatasetEvent announces a dataset removal that affected a row.
type DeleteDatasetEvent struct {
	DatasetID []byte `json:"dataset_id"`
}

// PutRecordsEvent announces a fully stored record batch. Record ids are
// the server-assigned ones.
type PutRecordsEvent struct {
	DatasetID []byte                `json:"dataset_id"`
	Records   []schema.TaggedRecord `json:"records"`
}

func (e *CreateDatasetEvent) Encode() ([]byte, error) { return json.Marshal(e) }
func (e *DeleteDatasetEvent) Encode() ([]byte, error) { return json.Marshal(e) }
func (e *PutRecordsEvent) Encode() ([]byte, error)    { return json.Marshal(e) }

// DecodePutRecordsEvent parses a put-records payload.
func DecodePutRecordsEvent(payload []byte) (*PutRecordsEvent, error) {
	var e PutRecordsEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("dataset: decode put-records event: %w", err)
	}
	return &e, nil
}
