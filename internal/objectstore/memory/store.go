// Package memory provides an in-memory object store backend for tests.
package memory

import (
	"context"
	"sync"

	"github.com/reinferio/saltfish/internal/objectstore"
)

type entry struct {
	value   []byte
	indexes []objectstore.Index
	version uint64
}

// Backend implements objectstore.Backend with in-memory maps and the
// same put-context conflict semantics as the persistent backend.
type Backend struct {
	resolver objectstore.ConflictResolver

	mu      sync.Mutex
	buckets map[string]map[string]*entry
}

// NewBackend creates an empty backend. A nil resolver defaults to
// objectstore.LexSmaller.
func NewBackend(resolver objectstore.ConflictResolver) *Backend {
	if resolver == nil {
		resolver = objectstore.LexSmaller
	}
	return &Backend{
		resolver: resolver,
		buckets:  make(map[string]map[string]*entry),
	}
}

func (b *Backend) Get(ctx context.Context, bucket, key string) (*objectstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obj := &objectstore.Object{Bucket: bucket, Key: key}
	e, ok := b.buckets[bucket][key]
	if !ok {
		return obj, nil
	}
	obj.Value = append([]byte(nil), e.value...)
	obj.Indexes = append([]objectstore.Index(nil), e.indexes...)
	obj.PutContext = e.version
	return obj, nil
}

func (b *Backend) Put(ctx context.Context, obj *objectstore.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	keys, ok := b.buckets[obj.Bucket]
	if !ok {
		keys = make(map[string]*entry)
		b.buckets[obj.Bucket] = keys
	}

	value := append([]byte(nil), obj.Value...)
	if existing, ok := keys[obj.Key]; ok && existing.version != obj.PutContext {
		value = append([]byte(nil), b.resolver(existing.value, obj.Value)...)
	}

	var version uint64 = 1
	if existing, ok := keys[obj.Key]; ok {
		version = existing.version + 1
	}
	keys[obj.Key] = &entry{
		value:   value,
		indexes: append([]objectstore.Index(nil), obj.Indexes...),
		version: version,
	}
	obj.PutContext = version
	return nil
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets[bucket], key)
	return nil
}

func (b *Backend) Close() error { return nil }

// Keys lists the keys present in a bucket. Test helper.
func (b *Backend) Keys(bucket string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.buckets[bucket] {
		out = append(out, k)
	}
	return out
}

var _ objectstore.Backend = (*Backend)(nil)
