// Package dataset implements the five dataset operations and their
// status taxonomy. Handlers are request-scoped and stateless; they are
// parameterized by the metadata store, the object store, the id source
// and the listener bus, and never share mutable state across requests.
package dataset

import (
	"encoding/json"
	"time"

	"github.com/reinferio/saltfish/internal/schema"
)

// Status is the outcome of one operation. Errors travel as statuses in
// the response body, never as transport failures.
type Status string

const (
	StatusOK                     Status = "OK"
	StatusInvalidDatasetID       Status = "INVALID_DATASET_ID"
	StatusInvalidUserID          Status = "INVALID_USER_ID"
	StatusInvalidUsername        Status = "INVALID_USERNAME"
	StatusDuplicateFeatureName   Status = "DUPLICATE_FEATURE_NAME"
	StatusInvalidFeatureType     Status = "INVALID_FEATURE_TYPE"
	StatusDatasetIDAlreadyExists Status = "DATASET_ID_ALREADY_EXISTS"
	StatusDuplicateDatasetName   Status = "DUPLICATE_DATASET_NAME"
	StatusInvalidRecord          Status = "INVALID_RECORD"
	StatusInvalidSchema          Status = "INVALID_SCHEMA"
	StatusNoRecordsInRequest     Status = "NO_RECORDS_IN_REQUEST"
	StatusCountTooLarge          Status = "COUNT_TOO_LARGE"
	StatusInvalidRequest         Status = "INVALID_REQUEST"
	StatusNetworkError           Status = "NETWORK_ERROR"
	StatusUnknownError           Status = "UNKNOWN_ERROR"
)

// DatasetSpec is the client's view of a dataset at creation time.
type DatasetSpec struct {
	ID      []byte        `json:"id,omitempty"`
	UserID  int64         `json:"user_id"`
	Schema  schema.Schema `json:"schema"`
	Name    string        `json:"name"`
	Private bool          `json:"private"`
	Frozen  bool          `json:"frozen"`
}

// DatasetInfo is one listing entry. Schema carries the canonical
// serialized blob so listers see exactly the stored bytes.
type DatasetInfo struct {
	ID      []byte          `json:"id"`
	UserID  int64           `json:"user_id"`
	Schema  json.RawMessage `json:"schema"`
	Name    string          `json:"name"`
	Private bool            `json:"private"`
	Frozen  bool            `json:"frozen"`
	Created time.Time       `json:"created"`
}

type CreateDatasetRequest struct {
	Dataset DatasetSpec `json:"dataset"`
}

type CreateDatasetResponse struct {
	Status    Status `json:"status"`
	DatasetID []byte `json:"dataset_id,omitempty"`
	Msg       string `json:"msg,omitempty"`
}

type DeleteDatasetRequest struct {
	DatasetID []byte `json:"dataset_id"`
}

type DeleteDatasetResponse struct {
	Status  Status `json:"status"`
	Updated bool   `json:"updated"`
	Msg     string `json:"msg,omitempty"`
}

type GenerateIDRequest struct {
	Count int `json:"count"`
}

type GenerateIDResponse struct {
	Status Status   `json:"status"`
	IDs    [][]byte `json:"ids,omitempty"`
	Msg    string   `json:"msg,omitempty"`
}

// GetDatasetsRequest must set exactly one selector.
type GetDatasetsRequest struct {
	DatasetID []byte  `json:"dataset_id,omitempty"`
	UserID    *int64  `json:"user_id,omitempty"`
	Username  *string `json:"username,omitempty"`
}

type GetDatasetsResponse struct {
	Status   Status        `json:"status"`
	Datasets []DatasetInfo `json:"datasets,omitempty"`
	Msg      string        `json:"msg,omitempty"`
}

type PutRecordsRequest struct {
	DatasetID []byte                `json:"dataset_id"`
	Records   []schema.TaggedRecord `json:"records"`
	Source    string                `json:"source,omitempty"`
}

type PutRecordsResponse struct {
	Status    Status   `json:"status"`
	RecordIDs [][]byte `json:"record_ids,omitempty"`
	Msg       string   `json:"msg,omitempty"`
}
