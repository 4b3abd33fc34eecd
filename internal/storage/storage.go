// Package storage provides the dataset metadata store interface and its
// error taxonomy. Implementations live in subpackages; the MySQL/MariaDB
// backend is the production store, the memory backend serves tests.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors. Handlers map these onto RPC statuses; anything else
// coming out of a store is treated as a network-layer failure.
var (
	ErrInvalidDatasetID     = errors.New("no dataset exists with the provided id")
	ErrInvalidUserID        = errors.New("no user exists with the provided id")
	ErrInvalidUsername      = errors.New("no user exists with the provided username")
	ErrDuplicateDatasetName = errors.New("a dataset with the same name already exists")
	ErrConnection           = errors.New("could not connect to the metadata store")
)

// Dataset is one metadata row. ID is the raw 24-byte dataset id;
// SchemaBlob is the canonical serialized schema and is immutable once
// the row exists.
type Dataset struct {
	ID         []byte
	UserID     int64
	SchemaBlob []byte
	Name       string
	Private    bool
	Frozen     bool
	Created    time.Time

	// Username and Email are populated only by the list view.
	Username string
	Email    string
}

// MetadataStore is the typed wrapper over relational storage for
// dataset rows. All implementations must be safe for concurrent use.
type MetadataStore interface {
	// FetchSchema returns the serialized schema blob for the dataset, or
	// ErrInvalidDatasetID when no row exists.
	FetchSchema(ctx context.Context, datasetID []byte) ([]byte, error)

	// CreateDataset inserts a new row. ErrInvalidUserID when the owner
	// fails the foreign-key check; ErrDuplicateDatasetName when the
	// (user_id, name) uniqueness constraint is violated.
	CreateDataset(ctx context.Context, d *Dataset) error

	// DeleteDataset removes the row and reports the number of rows
	// affected, which is 0 or 1.
	DeleteDataset(ctx context.Context, datasetID []byte) (int, error)

	// GetDatasetByID returns the full row, or ErrInvalidDatasetID.
	GetDatasetByID(ctx context.Context, datasetID []byte) (*Dataset, error)

	// GetDatasetsByUser lists the user's datasets, oldest first.
	GetDatasetsByUser(ctx context.Context, userID int64) ([]*Dataset, error)

	// GetDatasetsByUsername lists datasets through the user view, or
	// ErrInvalidUsername when the username is unknown.
	GetDatasetsByUsername(ctx context.Context, username string) ([]*Dataset, error)

	// Lifecycle
	Close() error
	IsHealthy(ctx context.Context) bool
}
