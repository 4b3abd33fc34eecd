// Package badger implements the object store backend on an embedded
// BadgerDB, for single-node deployments and integration tests.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/reinferio/saltfish/internal/objectstore"
)

// Backend implements objectstore.Backend on BadgerDB. Buckets become
// key prefixes; the version counter persisted with each entry carries
// the put-context conflict check.
type Backend struct {
	db       *badgerdb.DB
	resolver objectstore.ConflictResolver
}

// entryRecord is the on-disk encoding of one object.
type entryRecord struct {
	Version uint64              `json:"version"`
	Value   []byte              `json:"value"`
	Indexes []objectstore.Index `json:"indexes,omitempty"`
}

// NewBackend opens the database at path. A nil resolver defaults to
// objectstore.LexSmaller. An empty path opens an in-memory database.
func NewBackend(path string, resolver objectstore.ConflictResolver) (*Backend, error) {
	if resolver == nil {
		resolver = objectstore.LexSmaller
	}
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Backend{db: db, resolver: resolver}, nil
}

// entryKey joins bucket and key. Bucket names come from configuration
// and never contain NUL, so the separator is unambiguous.
func entryKey(bucket, key string) []byte {
	k := make([]byte, 0, len(bucket)+1+len(key))
	k = append(k, bucket...)
	k = append(k, 0)
	k = append(k, key...)
	return k
}

func (b *Backend) Get(ctx context.Context, bucket, key string) (*objectstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obj := &objectstore.Object{Bucket: bucket, Key: key}
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(entryKey(bucket, key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec entryRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("corrupt entry %q/%x: %w", bucket, key, err)
			}
			obj.Value = rec.Value
			obj.Indexes = rec.Indexes
			obj.PutContext = rec.Version
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *Backend) Put(ctx context.Context, obj *objectstore.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		rec := entryRecord{
			Version: 1,
			Value:   obj.Value,
			Indexes: obj.Indexes,
		}

		item, err := txn.Get(entryKey(obj.Bucket, obj.Key))
		switch {
		case err == badgerdb.ErrKeyNotFound:
			// fresh key
		case err != nil:
			return err
		default:
			var existing entryRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return fmt.Errorf("corrupt entry %q/%x: %w", obj.Bucket, obj.Key, err)
			}
			rec.Version = existing.Version + 1
			if existing.Version != obj.PutContext {
				rec.Value = b.resolver(existing.Value, obj.Value)
			}
		}

		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(obj.Bucket, obj.Key), encoded); err != nil {
			return err
		}
		obj.PutContext = rec.Version
		return nil
	})
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(entryKey(bucket, key))
	})
}

func (b *Backend) Close() error {
	return b.db.Close()
}

var _ objectstore.Backend = (*Backend)(nil)
